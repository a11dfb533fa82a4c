// Package adjust turns a NAV series with distributions into a continuously
// comparable adjusted NAV series.
//
// The dividend paid in a period is the increase of (acc − nav). Each dividend
// is assumed reinvested at that period's NAV, which compounds a factor:
//
//	factor[t]   = factor[t-1] × (nav[t] + dividend[t]) / nav[t]
//	adjusted[t] = factor[t] × nav[t]
//
// with factor[0] = 1.
package adjust

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/model"
)

var (
	// ErrLengthMismatch is returned when the nav and acc series differ in length.
	ErrLengthMismatch = fmt.Errorf("adjust: nav and acc series differ in length: %w", model.ErrDataIntegrity)

	// ErrDividendDecrease is returned when acc − nav goes down between periods.
	ErrDividendDecrease = fmt.Errorf("adjust: cumulative dividend decreased: %w", model.ErrDataIntegrity)

	// ErrNonPositiveNAV is returned for a period paying a dividend at nav ≤ 0.
	ErrNonPositiveNAV = fmt.Errorf("adjust: non-positive nav: %w", model.ErrDataIntegrity)

	// ErrNoOverlap is returned by Chain when the series share no date.
	ErrNoOverlap = fmt.Errorf("adjust: series do not overlap: %w", model.ErrDataIntegrity)
)

const (
	// FactorScale is the number of decimal places kept on published factors.
	FactorScale int32 = 8
	// Scale is the number of decimal places kept on adjusted NAVs.
	Scale int32 = 6
)

var one = decimal.NewFromInt(1)

// Adjust computes the adjusted NAV and the cumulative adjustment factor for
// each period.
func Adjust(nav, acc []decimal.Decimal) (adjusted, factor []decimal.Decimal, err error) {
	if len(nav) != len(acc) {
		return nil, nil, fmt.Errorf("%w: %d navs, %d acc navs", ErrLengthMismatch, len(nav), len(acc))
	}
	adjusted = make([]decimal.Decimal, len(nav))
	factor = make([]decimal.Decimal, len(nav))

	if undistributed(nav, acc) {
		for i := range nav {
			adjusted[i] = nav[i]
			factor[i] = one
		}
		return adjusted, factor, nil
	}

	f := one
	var prevDiff decimal.Decimal
	for i := range nav {
		diff := acc[i].Sub(nav[i])
		if i > 0 {
			dividend := diff.Sub(prevDiff)
			if dividend.IsNegative() {
				return nil, nil, fmt.Errorf("%w: period %d, acc−nav from %s to %s", ErrDividendDecrease, i, prevDiff, diff)
			}
			if dividend.IsPositive() {
				if !nav[i].IsPositive() {
					return nil, nil, fmt.Errorf("%w: period %d, nav %s", ErrNonPositiveNAV, i, nav[i])
				}
				f = f.Mul(nav[i].Add(dividend)).Div(nav[i])
			}
		}
		prevDiff = diff
		factor[i] = f.Round(FactorScale)
		adjusted[i] = f.Mul(nav[i]).Round(Scale)
	}
	return adjusted, factor, nil
}

// undistributed reports whether nav and acc are identical throughout.
func undistributed(nav, acc []decimal.Decimal) bool {
	for i := range nav {
		if !nav[i].Equal(acc[i]) {
			return false
		}
	}
	return true
}

// Point is one dated value of an adjusted series.
type Point struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// Chain stitches next onto base. The first date of next also present in
// base anchors the join: next is rescaled so that both agree there, and
// base is kept up to and including that date. Both series must be sorted.
func Chain(base, next []Point) ([]Point, error) {
	index := make(map[time.Time]int, len(base))
	for i, p := range base {
		index[model.Day(p.Date)] = i
	}
	for j, p := range next {
		i, ok := index[model.Day(p.Date)]
		if !ok {
			continue
		}
		if p.Value.IsZero() {
			return nil, fmt.Errorf("%w: zero value at %s", ErrNonPositiveNAV, p.Date.Format(time.DateOnly))
		}
		ratio := base[i].Value.Div(p.Value)
		out := make([]Point, 0, i+1+len(next)-j-1)
		out = append(out, base[:i+1]...)
		for _, q := range next[j+1:] {
			out = append(out, Point{Date: q.Date, Value: q.Value.Mul(ratio).Round(Scale)})
		}
		return out, nil
	}
	return nil, ErrNoOverlap
}
