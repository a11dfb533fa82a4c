// Package ledger keeps the open lots of one holder in one fund.
//
// Lots are ordered by acquisition and consumed first-in first-out. The
// ledger enforces the two invariants the accrual engine depends on:
//   - no lot ever holds a negative share count
//   - a water-line never moves down
//
// Violations are reported as errors wrapping model.ErrDataIntegrity; the
// ledger is left untouched when an operation fails.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/model"
)

var (
	// ErrInsufficientShares is returned when more shares are consumed than
	// the ledger holds, beyond Tolerance.
	ErrInsufficientShares = fmt.Errorf("ledger: insufficient shares: %w", model.ErrDataIntegrity)

	// ErrNegativeShares is returned when a lot would be opened or left with
	// a negative share count.
	ErrNegativeShares = fmt.Errorf("ledger: negative shares: %w", model.ErrDataIntegrity)

	// ErrWaterLineDecrease is returned when a water-line update would lower it.
	ErrWaterLineDecrease = fmt.Errorf("ledger: water-line would decrease: %w", model.ErrDataIntegrity)

	// Tolerance absorbs rounding between confirmed share counts.
	Tolerance = decimal.New(1, -6)
)

// Ledger is the FIFO lot list of one holder in one fund.
// It is not safe for concurrent use; the engine owns it for a single pass.
type Ledger struct {
	fundID     string
	investorID string
	lots       []model.Lot

	merged bool            // lots were collapsed at least once
	shared decimal.Decimal // water-line of the last merge
}

// New returns an empty ledger.
func New(fundID, investorID string) *Ledger {
	return &Ledger{fundID: fundID, investorID: investorID}
}

// FundID returns the fund whose shares the ledger holds.
func (l *Ledger) FundID() string { return l.fundID }

// InvestorID returns the holder.
func (l *Ledger) InvestorID() string { return l.investorID }

// Add appends a lot.
func (l *Ledger) Add(lot model.Lot) error {
	if lot.Shares.IsNegative() {
		return fmt.Errorf("%w: lot of %s", ErrNegativeShares, lot.Shares)
	}
	lot.FundID = l.fundID
	lot.InvestorID = l.investorID
	if lot.CalcType == "" {
		lot.CalcType = model.CarryRegular
	}
	l.lots = append(l.lots, lot)
	return nil
}

// AddLot opens a lot of shares bought at the given water-line and acc NAV.
func (l *Ledger) AddLot(at time.Time, shares, waterLine, accNAV, cost decimal.Decimal, calc model.CarryCalcType) error {
	return l.Add(model.Lot{
		AcquiredAt:       at,
		Shares:           shares,
		WaterLine:        waterLine,
		AccNAVAtPurchase: accNAV,
		Cost:             cost,
		CalcType:         calc,
	})
}

// TotalShares is the sum of all lot share counts.
func (l *Ledger) TotalShares() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lots {
		total = total.Add(lot.Shares)
	}
	return total
}

// TotalCost is the cost of all remaining shares.
func (l *Ledger) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lots {
		total = total.Add(lot.Cost)
	}
	return total
}

// Len returns the number of lots, zero-share lots included.
func (l *Ledger) Len() int { return len(l.lots) }

// Lot returns the i-th lot.
func (l *Ledger) Lot(i int) model.Lot { return l.lots[i] }

// MaxWaterLine is the highest water-line among lots holding shares.
func (l *Ledger) MaxWaterLine() decimal.Decimal {
	hi := decimal.Zero
	for _, lot := range l.lots {
		if lot.Shares.IsPositive() && lot.WaterLine.GreaterThan(hi) {
			hi = lot.WaterLine
		}
	}
	if l.merged && l.shared.GreaterThan(hi) {
		hi = l.shared
	}
	return hi
}

// Consume removes shares oldest lot first and returns the consumed
// portions, each carrying its lot's water-line and a pro-rata cost.
// A request exceeding the holding by no more than Tolerance consumes
// everything.
func (l *Ledger) Consume(shares decimal.Decimal) ([]model.Lot, error) {
	if shares.IsNegative() {
		return nil, fmt.Errorf("%w: cannot consume %s", ErrNegativeShares, shares)
	}
	total := l.TotalShares()
	if shares.Sub(total).GreaterThan(Tolerance) {
		return nil, fmt.Errorf("%w: want %s, hold %s", ErrInsufficientShares, shares, total)
	}
	if shares.GreaterThan(total) {
		shares = total
	}

	var consumed []model.Lot
	remaining := shares
	for i := range l.lots {
		if remaining.IsZero() {
			break
		}
		lot := &l.lots[i]
		if lot.Shares.IsZero() {
			continue
		}
		take := lot.Shares
		if take.GreaterThan(remaining) {
			take = remaining
		}
		cost := lot.Cost
		if take.LessThan(lot.Shares) {
			// Partial consumption of this lot
			cost = lot.Cost.Mul(take).Div(lot.Shares)
		}
		part := *lot
		part.Shares = take
		part.Cost = cost
		consumed = append(consumed, part)

		lot.Shares = lot.Shares.Sub(take)
		lot.Cost = lot.Cost.Sub(cost)
		remaining = remaining.Sub(take)
	}
	return consumed, nil
}

// Deduct removes shares from the i-th lot, used when a fee is paid in kind.
func (l *Ledger) Deduct(i int, shares decimal.Decimal) error {
	lot := &l.lots[i]
	left := lot.Shares.Sub(shares)
	if left.IsNegative() {
		if left.Abs().GreaterThan(Tolerance) {
			return fmt.Errorf("%w: lot %d holds %s, deduct %s", ErrNegativeShares, i, lot.Shares, shares)
		}
		left = decimal.Zero
	}
	if lot.Shares.IsPositive() {
		lot.Cost = lot.Cost.Mul(left).Div(lot.Shares)
	}
	lot.Shares = left
	return nil
}

// RaiseWaterLine moves the i-th lot's water-line up to wl.
func (l *Ledger) RaiseWaterLine(i int, wl decimal.Decimal) error {
	lot := &l.lots[i]
	if wl.LessThan(lot.WaterLine) {
		return fmt.Errorf("%w: lot %d from %s to %s", ErrWaterLineDecrease, i, lot.WaterLine, wl)
	}
	lot.WaterLine = wl
	return nil
}

// Merge collapses all lots into one holding their total shares with a
// single water-line. The merged water-line must not be below the one set
// by the previous merge. The merged lot keeps the earliest acquisition
// date and the share-weighted acc NAV at purchase.
func (l *Ledger) Merge(at time.Time, waterLine decimal.Decimal) error {
	if l.merged && waterLine.LessThan(l.shared) {
		return fmt.Errorf("%w: shared water-line from %s to %s", ErrWaterLineDecrease, l.shared, waterLine)
	}
	total := l.TotalShares()
	merged := model.Lot{
		FundID:     l.fundID,
		InvestorID: l.investorID,
		AcquiredAt: at,
		Shares:     total,
		WaterLine:  waterLine,
		Cost:       l.TotalCost(),
		CalcType:   model.CarryRegular,
	}
	weighted := decimal.Zero
	for i, lot := range l.lots {
		if i == 0 || lot.AcquiredAt.Before(merged.AcquiredAt) {
			merged.AcquiredAt = lot.AcquiredAt
		}
		weighted = weighted.Add(lot.AccNAVAtPurchase.Mul(lot.Shares))
	}
	if total.IsPositive() {
		merged.AccNAVAtPurchase = weighted.Div(total)
	}

	l.lots = []model.Lot{merged}
	l.merged = true
	l.shared = waterLine
	return nil
}

// Prune drops lots holding no shares.
func (l *Ledger) Prune() {
	kept := l.lots[:0]
	for _, lot := range l.lots {
		if !lot.Shares.IsZero() {
			kept = append(kept, lot)
		}
	}
	l.lots = kept
}
