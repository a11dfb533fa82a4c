// Package carry computes performance fees ("carry") charged on profit above
// a high-water mark.
//
// Profit is measured on accumulated NAV, so distributed dividends count as
// profit. Two fee formulas are supported:
//   - flat:   carry = (acc − wl) × ratio
//   - tiered: progressive brackets anchored on the water-line; the bracket
//     starting at fraction s covers acc above wl × (1 + s) and each unit of
//     profit is charged once, at the rate of the highest bracket it falls in
//
// Two modes decide how water-lines apply across a holder's lots:
//   - SCST: each lot keeps its own water-line
//   - INTE: lots are merged into one account with a shared water-line at
//     every fee event
//
// The calculator is stateless: water-lines and NAVs are passed in.
package carry

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/model"
)

// Mode is an incentive-fee mode.
type Mode string

const (
	// PerLot is the per-lot high-water-mark mode.
	PerLot Mode = "SCST"
	// WholeAccount is the whole-account high-water-mark mode.
	WholeAccount Mode = "INTE"
	// Hybrid is referenced by stored configurations but has no defined
	// semantics; it is rejected.
	Hybrid Mode = "HYBR"
)

var (
	// ErrNoProfit is returned when carry is realised at or below the water-line.
	ErrNoProfit = fmt.Errorf("carry: acc nav at or below water-line: %w", model.ErrPrecheck)

	// ErrUnknownMode is returned for a mode that is not SCST or INTE.
	ErrUnknownMode = fmt.Errorf("carry: unknown incentive-fee mode: %w", model.ErrConfiguration)

	// ErrInvalidSchedule is returned when a fee schedule cannot be parsed.
	ErrInvalidSchedule = fmt.Errorf("carry: invalid fee schedule: %w", model.ErrConfiguration)

	// Scale is the number of decimal places kept for per-share carry.
	Scale int32 = 8
)

// ParseMode validates a stored mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case PerLot, WholeAccount:
		return Mode(s), nil
	case Hybrid:
		return "", fmt.Errorf("%w: %s has no defined semantics", ErrUnknownMode, s)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Calculator applies one fee schedule under one mode.
type Calculator struct {
	mode     Mode
	schedule Schedule
}

// NewCalculator builds a calculator from stored terms. Zero terms give a
// calculator that never charges.
func NewCalculator(terms model.IncentiveTerms) (*Calculator, error) {
	if terms.IsZero() {
		return &Calculator{mode: PerLot}, nil
	}
	mode, err := ParseMode(terms.Mode)
	if err != nil {
		return nil, err
	}
	schedule, err := ParseSchedule(terms.Schedule)
	if err != nil {
		return nil, err
	}
	return &Calculator{mode: mode, schedule: schedule}, nil
}

// Mode returns the incentive-fee mode.
func (c *Calculator) Mode() Mode { return c.mode }

// Schedule returns the fee schedule.
func (c *Calculator) Schedule() Schedule { return c.schedule }

// Enabled reports whether any carry can be charged.
func (c *Calculator) Enabled() bool { return !c.schedule.IsZero() }

// PerShare returns the carry owed per share at accNAV for a water-line, zero
// when there is no profit.
func (c *Calculator) PerShare(accNAV, waterLine decimal.Decimal) decimal.Decimal {
	if !c.Enabled() || accNAV.LessThanOrEqual(waterLine) {
		return decimal.Zero
	}
	perShare, _ := Compute(accNAV, waterLine, c.schedule)
	return perShare
}

// Realize returns the carry per share for a path that requires profit. It
// fails with ErrNoProfit when accNAV is at or below the water-line.
func (c *Calculator) Realize(accNAV, waterLine decimal.Decimal) (decimal.Decimal, error) {
	if accNAV.LessThanOrEqual(waterLine) {
		return decimal.Zero, fmt.Errorf("%w: acc nav %s, water-line %s", ErrNoProfit, accNAV, waterLine)
	}
	return Compute(accNAV, waterLine, c.schedule)
}

// Amount is the carry owed on shares at accNAV, zero when there is no profit.
func (c *Calculator) Amount(shares, accNAV, waterLine decimal.Decimal) decimal.Decimal {
	return shares.Mul(c.PerShare(accNAV, waterLine))
}

// Compute returns the per-share carry for accNAV over waterLine under s.
// It fails with ErrNoProfit when accNAV is below the water-line.
func Compute(accNAV, waterLine decimal.Decimal, s Schedule) (decimal.Decimal, error) {
	if accNAV.LessThan(waterLine) {
		return decimal.Zero, fmt.Errorf("%w: acc nav %s, water-line %s", ErrNoProfit, accNAV, waterLine)
	}
	switch s.Type {
	case Flat:
		return accNAV.Sub(waterLine).Mul(s.Ratio).Round(Scale), nil
	case Tiered:
		// Tiers are sorted by start, highest first: each bracket takes the
		// slice of profit above its threshold and below the previous one.
		carry := decimal.Zero
		upper := accNAV
		for _, t := range s.Tiers {
			threshold := waterLine.Mul(one.Add(t.Start))
			if upper.GreaterThan(threshold) {
				carry = carry.Add(upper.Sub(threshold).Mul(t.Rate))
				upper = threshold
			}
		}
		return carry.Round(Scale), nil
	default:
		return decimal.Zero, nil
	}
}

var one = decimal.NewFromInt(1)
