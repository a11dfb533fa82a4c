package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the stored tag of a trade event.
type EventType string

const (
	TypeSubscribe        EventType = "subscribe" // during the offering period
	TypePurchase         EventType = "purchase"  // after establishment
	TypeRedeem           EventType = "redeem"
	TypeDividendCash     EventType = "dividend_cash"
	TypeDividendReinvest EventType = "dividend_reinvest"
	TypeDeductReward     EventType = "deduct_reward"      // carry paid in shares
	TypeDeductRewardCash EventType = "deduct_reward_cash" // carry paid in cash
)

// ErrInvalidEvent is returned when a row lacks a field its kind requires.
var ErrInvalidEvent = fmt.Errorf("model: invalid event: %w", ErrDataIntegrity)

// Row is the flat shape in which trade events are exchanged with storage.
// Optional numeric fields are zero when unconfirmed.
type Row struct {
	ID           string          `json:"id" db:"id"`
	At           time.Time       `json:"datetime" db:"datetime"`
	FundID       string          `json:"fund_id" db:"fund_id"`
	InvestorID   string          `json:"investor_id" db:"investor_id"`
	Type         EventType       `json:"event_type" db:"event_type"`
	ShareChanged decimal.Decimal `json:"share_changed" db:"share_changed"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	NAV          decimal.Decimal `json:"net_asset_value" db:"net_asset_value"`
	AccNAV       decimal.Decimal `json:"acc_unit_value" db:"acc_unit_value"`
	WaterLine    decimal.Decimal `json:"water_line" db:"water_line"`
	CalcType     CarryCalcType   `json:"carry_calc_type,omitempty" db:"carry_calc_type"`
}

// Header carries the fields every event has.
type Header struct {
	ID         string
	At         time.Time
	FundID     string
	InvestorID string
}

func (h Header) check() error {
	var errs []string
	if h.At.IsZero() {
		errs = append(errs, "datetime is missing")
	}
	if h.FundID == "" {
		errs = append(errs, "fund_id is missing")
	}
	if h.InvestorID == "" {
		errs = append(errs, "investor_id is missing")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, ", "))
	}
	return nil
}

// Event is one of Subscribe, Redeem, DividendCash, DividendReinvest or
// DeductReward. The set is closed: only this package can add kinds.
type Event interface {
	Head() Header
	Type() EventType
	Row() Row
	sealed()
}

// Subscribe is a purchase of shares for cash.
// Shares may be zero, in which case they are Amount / NAV.
type Subscribe struct {
	Header
	Offering  bool            // subscribe (offering) rather than purchase
	Shares    decimal.Decimal // confirmed shares
	Amount    decimal.Decimal // cash paid
	NAV       decimal.Decimal
	AccNAV    decimal.Decimal
	WaterLine decimal.Decimal // zero → AccNAV at settlement
	CalcType  CarryCalcType   // "" → regular
}

// Redeem gives back shares for cash. Amount is the confirmed payout to the
// holder after carry; zero when unconfirmed.
type Redeem struct {
	Header
	Shares decimal.Decimal
	Amount decimal.Decimal
	NAV    decimal.Decimal
	AccNAV decimal.Decimal
}

// DividendCash pays Amount in cash on the holder's shares.
type DividendCash struct {
	Header
	Amount decimal.Decimal // gross, before carry
	NAV    decimal.Decimal // ex-dividend
	AccNAV decimal.Decimal
}

// DividendReinvest turns a dividend into new shares. Shares is the confirmed
// number of new shares, zero when unconfirmed.
type DividendReinvest struct {
	Header
	Amount decimal.Decimal // gross, before carry
	Shares decimal.Decimal
	NAV    decimal.Decimal // reinvestment NAV
	AccNAV decimal.Decimal
}

// DeductReward charges performance fee on the holder's lots.
// Shares, Amount and WaterLine are confirmed values; zero when unconfirmed.
type DeductReward struct {
	Header
	InCash    bool
	Shares    decimal.Decimal
	Amount    decimal.Decimal
	NAV       decimal.Decimal
	AccNAV    decimal.Decimal
	WaterLine decimal.Decimal
}

func (e Subscribe) Head() Header        { return e.Header }
func (e Redeem) Head() Header           { return e.Header }
func (e DividendCash) Head() Header     { return e.Header }
func (e DividendReinvest) Head() Header { return e.Header }
func (e DeductReward) Head() Header     { return e.Header }

func (e Subscribe) Type() EventType {
	if e.Offering {
		return TypeSubscribe
	}
	return TypePurchase
}
func (Redeem) Type() EventType           { return TypeRedeem }
func (DividendCash) Type() EventType     { return TypeDividendCash }
func (DividendReinvest) Type() EventType { return TypeDividendReinvest }
func (e DeductReward) Type() EventType {
	if e.InCash {
		return TypeDeductRewardCash
	}
	return TypeDeductReward
}

func (Subscribe) sealed()        {}
func (Redeem) sealed()           {}
func (DividendCash) sealed()     {}
func (DividendReinvest) sealed() {}
func (DeductReward) sealed()     {}

func (e Subscribe) Row() Row {
	return Row{ID: e.ID, At: e.At, FundID: e.FundID, InvestorID: e.InvestorID, Type: e.Type(),
		ShareChanged: e.Shares, Amount: e.Amount, NAV: e.NAV, AccNAV: e.AccNAV, WaterLine: e.WaterLine, CalcType: e.CalcType}
}

func (e Redeem) Row() Row {
	return Row{ID: e.ID, At: e.At, FundID: e.FundID, InvestorID: e.InvestorID, Type: e.Type(),
		ShareChanged: e.Shares.Neg(), Amount: e.Amount, NAV: e.NAV, AccNAV: e.AccNAV}
}

func (e DividendCash) Row() Row {
	return Row{ID: e.ID, At: e.At, FundID: e.FundID, InvestorID: e.InvestorID, Type: e.Type(),
		Amount: e.Amount, NAV: e.NAV, AccNAV: e.AccNAV}
}

func (e DividendReinvest) Row() Row {
	return Row{ID: e.ID, At: e.At, FundID: e.FundID, InvestorID: e.InvestorID, Type: e.Type(),
		ShareChanged: e.Shares, Amount: e.Amount, NAV: e.NAV, AccNAV: e.AccNAV}
}

func (e DeductReward) Row() Row {
	return Row{ID: e.ID, At: e.At, FundID: e.FundID, InvestorID: e.InvestorID, Type: e.Type(),
		ShareChanged: e.Shares.Neg(), Amount: e.Amount, NAV: e.NAV, AccNAV: e.AccNAV, WaterLine: e.WaterLine}
}

// ParseRow builds the typed event for r, enforcing the fields its kind
// requires. The returned error wraps ErrInvalidEvent.
func ParseRow(r Row) (Event, error) {
	h := Header{ID: r.ID, At: r.At, FundID: r.FundID, InvestorID: r.InvestorID}
	var ev Event
	switch r.Type {
	case TypeSubscribe, TypePurchase:
		calc := r.CalcType
		if calc == "" {
			calc = CarryRegular
		}
		ev = Subscribe{Header: h, Offering: r.Type == TypeSubscribe, Shares: r.ShareChanged, Amount: r.Amount,
			NAV: r.NAV, AccNAV: r.AccNAV, WaterLine: r.WaterLine, CalcType: calc}
	case TypeRedeem:
		ev = Redeem{Header: h, Shares: r.ShareChanged.Abs(), Amount: r.Amount, NAV: r.NAV, AccNAV: r.AccNAV}
	case TypeDividendCash:
		ev = DividendCash{Header: h, Amount: r.Amount, NAV: r.NAV, AccNAV: r.AccNAV}
	case TypeDividendReinvest:
		ev = DividendReinvest{Header: h, Amount: r.Amount, Shares: r.ShareChanged, NAV: r.NAV, AccNAV: r.AccNAV}
	case TypeDeductReward, TypeDeductRewardCash:
		ev = DeductReward{Header: h, InCash: r.Type == TypeDeductRewardCash, Shares: r.ShareChanged.Abs(), Amount: r.Amount,
			NAV: r.NAV, AccNAV: r.AccNAV, WaterLine: r.WaterLine}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, r.Type)
	}
	if err := Validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Validate checks the required-field set of ev's kind.
func Validate(ev Event) error {
	h := ev.Head()
	if err := h.check(); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidEvent, ev.Type(), h.ID, err)
	}
	fail := func(msg string) error {
		return fmt.Errorf("%w: %s %s on %s: %s", ErrInvalidEvent, ev.Type(), h.ID, h.At.Format(time.DateOnly), msg)
	}
	switch v := ev.(type) {
	case Subscribe:
		if !v.Amount.IsPositive() {
			return fail("amount must be positive")
		}
		if v.Shares.IsNegative() {
			return fail("shares must not be negative")
		}
		if v.Shares.IsZero() && !v.NAV.IsPositive() {
			return fail("either shares or nav is required")
		}
		switch v.CalcType {
		case "", CarryRegular, CarryAtRedemption:
		default:
			return fail(fmt.Sprintf("unknown carry calc type %q", v.CalcType))
		}
	case Redeem:
		if !v.Shares.IsPositive() {
			return fail("shares must be positive")
		}
		if v.Amount.IsNegative() {
			return fail("amount must not be negative")
		}
	case DividendCash:
		if !v.Amount.IsPositive() {
			return fail("amount must be positive")
		}
	case DividendReinvest:
		if !v.Amount.IsPositive() {
			return fail("amount must be positive")
		}
		if v.Shares.IsZero() && !v.NAV.IsPositive() {
			return fail("either shares or nav is required")
		}
	case DeductReward:
		if !v.AccNAV.IsPositive() && v.Shares.IsZero() && v.Amount.IsZero() {
			return fail("acc nav is required to compute carry")
		}
		if v.InCash && v.Shares.IsPositive() {
			return fail("a cash fee cannot deduct shares")
		}
	}
	return nil
}
