package market

import (
	"slices"
	"time"

	"github.com/atmx/fof-nav/internal/model"
)

// series is the chronological price history of one fund.
// Dates are unique and sorted.
type series []model.PriceQuote

func byDate(a, b model.PriceQuote) int { return a.Date.Compare(b.Date) }

func (s series) search(day time.Time) (int, bool) {
	return slices.BinarySearchFunc(s, day, func(q model.PriceQuote, d time.Time) int { return q.Date.Compare(d) })
}

// asOf returns the quote on day, or the most recent one before it.
func (s series) asOf(day time.Time) (model.PriceQuote, bool) {
	i, found := s.search(day)
	if found {
		return s[i], true
	}
	// i is where day would be inserted; the quote we want sits just before.
	if i == 0 {
		return model.PriceQuote{}, false
	}
	return s[i-1], true
}

// PriceBook holds published NAVs for many funds, forward-filled over days
// with no publication.
type PriceBook struct {
	funds map[string]series
}

// normalize truncates q to its date; a quote without an accumulated NAV
// uses its NAV.
func normalize(q model.PriceQuote) model.PriceQuote {
	q.Date = model.Day(q.Date)
	if q.AccNAV.IsZero() {
		q.AccNAV = q.NAV
	}
	return q
}

// NewPriceBook indexes quotes by fund and date. Each fund's history is
// sorted once; of several quotes for one date the last given wins.
func NewPriceBook(quotes []model.PriceQuote) *PriceBook {
	b := &PriceBook{funds: make(map[string]series)}
	for _, q := range quotes {
		q = normalize(q)
		b.funds[q.FundID] = append(b.funds[q.FundID], q)
	}
	for id, s := range b.funds {
		slices.SortStableFunc(s, byDate)
		kept := s[:0]
		for i, q := range s {
			if i+1 < len(s) && s[i+1].Date.Equal(q.Date) {
				continue
			}
			kept = append(kept, q)
		}
		b.funds[id] = kept
	}
	return b
}

// AsOf returns fundID's quote on day or the latest one before it.
func (b *PriceBook) AsOf(fundID string, day time.Time) (model.PriceQuote, bool) {
	return b.funds[fundID].asOf(model.Day(day))
}
