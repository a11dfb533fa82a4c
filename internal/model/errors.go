package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Every failure of a recomputation matches exactly one of these
// with errors.Is. None of them is retried.
var (
	// ErrDataIntegrity marks inconsistent upstream data: insufficient shares,
	// a decreasing water-line, a non-monotonic dividend differential or a
	// missing required record.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrPrecheck marks a carry computation asked to realise profit where
	// there is none.
	ErrPrecheck = errors.New("precheck failed")

	// ErrConfiguration marks an unusable fund configuration. It is raised
	// before any day is processed.
	ErrConfiguration = errors.New("configuration error")
)

// Error locates a failure on a fund, an investor and a date.
type Error struct {
	Kind       error // one of ErrDataIntegrity, ErrPrecheck, ErrConfiguration
	FofID      string
	FundID     string
	InvestorID string
	Date       time.Time
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.FofID != "" {
		fmt.Fprintf(&b, " fof=%s", e.FofID)
	}
	if e.FundID != "" && e.FundID != e.FofID {
		fmt.Fprintf(&b, " fund=%s", e.FundID)
	}
	if e.InvestorID != "" {
		fmt.Fprintf(&b, " investor=%s", e.InvestorID)
	}
	if !e.Date.IsZero() {
		fmt.Fprintf(&b, " date=%s", e.Date.Format(time.DateOnly))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the error kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrDataIntegrity, ErrPrecheck, ErrConfiguration} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Locate attaches fund context to err. If err already is an *Error, missing
// fields are filled in and the same value is returned. Errors without a
// known kind are classified as data integrity violations.
func Locate(err error, fofID, fundID, investorID string, on time.Time) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.FofID == "" {
			e.FofID = fofID
		}
		if e.FundID == "" {
			e.FundID = fundID
		}
		if e.InvestorID == "" {
			e.InvestorID = investorID
		}
		if e.Date.IsZero() {
			e.Date = on
		}
		return e
	}
	kind := KindOf(err)
	if kind == nil {
		kind = ErrDataIntegrity
	}
	return &Error{Kind: kind, FofID: fofID, FundID: fundID, InvestorID: investorID, Date: on, Err: err}
}

// Integrity builds a located data integrity error.
func Integrity(fofID, fundID, investorID string, on time.Time, format string, args ...any) error {
	return &Error{Kind: ErrDataIntegrity, FofID: fofID, FundID: fundID, InvestorID: investorID, Date: on, Err: fmt.Errorf(format, args...)}
}

// Configuration builds a configuration error for a fund.
func Configuration(fofID string, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, FofID: fofID, Err: fmt.Errorf(format, args...)}
}
