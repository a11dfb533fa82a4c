package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/carry"
	"github.com/atmx/fof-nav/internal/ledger"
	"github.com/atmx/fof-nav/internal/model"
)

// redemption is the carry outcome of redeeming shares from one ledger.
type redemption struct {
	shares     decimal.Decimal // consumed, clamped to the holding
	carry      decimal.Decimal // on the redeemed shares, netted from the payout
	kept       decimal.Decimal // on the shares kept, whole-account mode only
	keptShares decimal.Decimal // cancelled to pay kept
	cost       decimal.Decimal // cost of the redeemed shares
}

// redeemLots consumes shares FIFO and charges carry on them. In whole-account
// mode the shares kept are charged too, in kind, and merged into one lot.
func redeemLots(l *ledger.Ledger, calc *carry.Calculator, at time.Time, shares, nav, acc decimal.Decimal) (redemption, error) {
	var r redemption
	if calc.Enabled() && calc.Mode() == carry.WholeAccount {
		wl := l.MaxWaterLine()
		perShare := calc.PerShare(acc, wl)
		parts, err := l.Consume(shares)
		if err != nil {
			return r, err
		}
		r.shares, r.cost = sharesOf(parts), costOf(parts)
		r.carry = perShare.Mul(r.shares).Round(AmountScale)

		left := l.TotalShares()
		if !left.IsPositive() {
			return r, nil
		}
		if err := l.Merge(at, decimal.Max(acc, wl)); err != nil {
			return r, err
		}
		if perShare.IsPositive() {
			r.kept = perShare.Mul(left).Round(AmountScale)
			r.keptShares = r.kept.Div(nav).Round(ShareScale)
			if err := l.Deduct(0, r.keptShares); err != nil {
				return r, err
			}
		}
		return r, nil
	}

	parts, err := l.Consume(shares)
	if err != nil {
		return r, err
	}
	r.shares, r.cost = sharesOf(parts), costOf(parts)
	total := decimal.Zero
	for _, p := range parts {
		total = total.Add(calc.Amount(p.Shares, acc, p.WaterLine))
	}
	r.carry = total.Round(AmountScale)
	return r, nil
}

func sharesOf(lots []model.Lot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.Shares)
	}
	return total
}

func costOf(lots []model.Lot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.Cost)
	}
	return total
}

// deduction is the outcome of a performance-fee event on one ledger.
type deduction struct {
	fee    decimal.Decimal
	shares decimal.Decimal // cancelled; zero when paid in cash
}

// deductLots charges the performance fee of e. Confirmed amounts on the
// event take precedence over computed ones.
func deductLots(l *ledger.Ledger, calc *carry.Calculator, e model.DeductReward, nav, acc decimal.Decimal) (deduction, error) {
	confirmed := e.Amount.IsPositive() || e.Shares.IsPositive()
	switch {
	case !calc.Enabled():
		if !confirmed {
			return deduction{}, nil
		}
		return deductConfirmed(l, e, nav)
	case calc.Mode() == carry.WholeAccount:
		return deductAccount(l, calc, e, nav, acc, confirmed)
	default:
		return deductPerLot(l, calc, e, nav, acc, confirmed)
	}
}

// deductConfirmed applies a fee whose terms are unknown here, using only the
// amounts confirmed on the event. Shares are taken oldest lot first.
func deductConfirmed(l *ledger.Ledger, e model.DeductReward, nav decimal.Decimal) (deduction, error) {
	dd := deduction{fee: e.Amount}
	if !e.InCash {
		dd.shares = e.Shares
		if dd.shares.IsZero() {
			dd.shares = e.Amount.Div(nav).Round(ShareScale)
		}
		if dd.fee.IsZero() {
			dd.fee = dd.shares.Mul(nav).Round(AmountScale)
		}
		parts, err := l.Consume(dd.shares)
		if err != nil {
			return dd, err
		}
		dd.shares = sharesOf(parts)
	}
	if e.WaterLine.IsPositive() {
		for i := 0; i < l.Len(); i++ {
			if lot := l.Lot(i); lot.Shares.IsPositive() && lot.WaterLine.LessThan(e.WaterLine) {
				if err := l.RaiseWaterLine(i, e.WaterLine); err != nil {
					return dd, err
				}
			}
		}
	}
	l.Prune()
	return dd, nil
}

// deductAccount charges the whole account against its water-line and
// collapses it into one lot.
func deductAccount(l *ledger.Ledger, calc *carry.Calculator, e model.DeductReward, nav, acc decimal.Decimal, confirmed bool) (deduction, error) {
	var dd deduction
	total := l.TotalShares()
	if !total.IsPositive() {
		if confirmed {
			return dd, fmt.Errorf("%w: fee confirmed on an empty account", ledger.ErrInsufficientShares)
		}
		return dd, nil
	}
	wl := l.MaxWaterLine()

	var perShare decimal.Decimal
	if confirmed {
		var err error
		if perShare, err = calc.Realize(acc, wl); err != nil {
			return dd, err
		}
	} else {
		perShare = calc.PerShare(acc, wl)
	}
	dd.fee = perShare.Mul(total).Round(AmountScale)
	if e.Amount.IsPositive() {
		dd.fee = e.Amount
	}

	newWL := decimal.Max(acc, wl)
	if e.WaterLine.IsPositive() {
		newWL = e.WaterLine
	}
	if newWL.LessThan(wl) {
		return dd, fmt.Errorf("%w: account water-line from %s to %s", ledger.ErrWaterLineDecrease, wl, newWL)
	}
	if err := l.Merge(e.At, newWL); err != nil {
		return dd, err
	}

	if !e.InCash && dd.fee.IsPositive() {
		dd.shares = e.Shares
		if dd.shares.IsZero() {
			dd.shares = dd.fee.Div(nav).Round(ShareScale)
		}
		if err := l.Deduct(0, dd.shares); err != nil {
			return dd, err
		}
	}
	return dd, nil
}

// deductPerLot charges each regular lot above its own water-line and raises
// that lot's water-line. Lots tagged for redemption-time carry are skipped.
func deductPerLot(l *ledger.Ledger, calc *carry.Calculator, e model.DeductReward, nav, acc decimal.Decimal, confirmed bool) (deduction, error) {
	var dd deduction
	fees := make([]decimal.Decimal, l.Len())
	computed := decimal.Zero
	last := -1
	for i := range fees {
		lot := l.Lot(i)
		if !lot.Shares.IsPositive() || lot.CalcType == model.CarryAtRedemption {
			continue
		}
		fees[i] = calc.Amount(lot.Shares, acc, lot.WaterLine)
		if fees[i].IsPositive() {
			computed = computed.Add(fees[i])
			last = i
		}
	}
	if !computed.IsPositive() {
		if confirmed {
			return dd, fmt.Errorf("%w: acc nav %s, no lot above its water-line", carry.ErrNoProfit, acc)
		}
		l.Prune()
		return dd, nil
	}

	dd.fee = computed.Round(AmountScale)
	if e.Amount.IsPositive() {
		dd.fee = e.Amount
	}
	target := decimal.Zero
	if !e.InCash {
		target = e.Shares
		if target.IsZero() {
			target = dd.fee.Div(nav).Round(ShareScale)
		}
	}

	newWL := acc
	if e.WaterLine.IsPositive() {
		newWL = e.WaterLine
	}
	remaining := target
	for i, fee := range fees {
		if !fee.IsPositive() {
			continue
		}
		if target.IsPositive() {
			share := remaining
			if i != last {
				share = target.Mul(fee).Div(computed).Round(ShareScale)
			}
			if err := l.Deduct(i, share); err != nil {
				return dd, err
			}
			remaining = remaining.Sub(share)
			dd.shares = dd.shares.Add(share)
		}
		if err := l.RaiseWaterLine(i, newWL); err != nil {
			return dd, err
		}
	}
	l.Prune()
	return dd, nil
}

// dividendCarry charges carry at a dividend on the holder's lots, capped at
// the dividend amount, and raises the charged water-lines to acc.
func dividendCarry(l *ledger.Ledger, calc *carry.Calculator, at time.Time, acc, amount decimal.Decimal) (decimal.Decimal, error) {
	if !calc.Enabled() {
		return decimal.Zero, nil
	}
	if calc.Mode() == carry.WholeAccount {
		wl := l.MaxWaterLine()
		perShare := calc.PerShare(acc, wl)
		if !perShare.IsPositive() {
			return decimal.Zero, nil
		}
		c := perShare.Mul(l.TotalShares()).Round(AmountScale)
		if err := l.Merge(at, acc); err != nil {
			return decimal.Zero, err
		}
		return decimal.Min(c, amount), nil
	}

	c := decimal.Zero
	for i := 0; i < l.Len(); i++ {
		lot := l.Lot(i)
		if !lot.Shares.IsPositive() || lot.CalcType == model.CarryAtRedemption {
			continue
		}
		a := calc.Amount(lot.Shares, acc, lot.WaterLine)
		if !a.IsPositive() {
			continue
		}
		c = c.Add(a)
		if err := l.RaiseWaterLine(i, acc); err != nil {
			return decimal.Zero, err
		}
	}
	l.Prune()
	return decimal.Min(c.Round(AmountScale), amount), nil
}
