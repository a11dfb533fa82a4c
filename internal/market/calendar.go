// Package market holds the market data the accrual engine reads: the trading
// calendar and published NAVs of held funds.
//
// Both are loaded in full before a run and never change during it.
package market

import (
	"slices"
	"time"

	"github.com/atmx/fof-nav/internal/model"
)

// Calendar is an ordered set of trading dates.
// An empty calendar treats every day as a trading day.
type Calendar struct {
	days []time.Time
}

// NewCalendar builds a calendar from dates in any order. Times are truncated
// to their date and duplicates dropped.
func NewCalendar(days []time.Time) *Calendar {
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		out = append(out, model.Day(d))
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	out = slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
	return &Calendar{days: out}
}

// Len returns the number of trading days.
func (c *Calendar) Len() int { return len(c.days) }

// Days returns a copy of the trading days, oldest first.
func (c *Calendar) Days() []time.Time { return slices.Clone(c.days) }

func (c *Calendar) search(day time.Time) (int, bool) {
	return slices.BinarySearchFunc(c.days, model.Day(day), func(a, b time.Time) int { return a.Compare(b) })
}

// LastTradingDay returns the last trading day on or before day. On a day
// before the first known trading day it returns day itself and false.
func (c *Calendar) LastTradingDay(day time.Time) (time.Time, bool) {
	day = model.Day(day)
	if len(c.days) == 0 {
		return day, true
	}
	i, found := c.search(day)
	if found {
		return c.days[i], true
	}
	if i == 0 {
		return day, false
	}
	return c.days[i-1], true
}
