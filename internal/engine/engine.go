// Package engine replays a FOF's trade events day by day into its official
// NAV series.
//
// A run always starts from the fund's first day and walks every calendar
// day up to the end of the requested range:
//   - the Processor applies the day's events to the lot ledgers and cash
//   - the Compounder reprices holdings, accrues fees and interest, applies
//     manual corrections and derives the NAV
//   - the adjust package derives the adjusted NAV over the whole history
//
// Runs are deterministic: the same inputs always give identical records.
// Any failure aborts the run and no result is returned.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/adjust"
	"github.com/atmx/fof-nav/internal/market"
	"github.com/atmx/fof-nav/internal/model"
)

const (
	// NAVScale is the number of decimal places of a published NAV.
	NAVScale int32 = 4
	// AmountScale is the number of decimal places of cash amounts and fees.
	AmountScale int32 = 2
	// ShareScale is the number of decimal places of computed share counts.
	ShareScale int32 = 2
	// ReturnScale is the number of decimal places of investor returns.
	ReturnScale int32 = 6

	// DefaultDaysInYear is the fee accrual basis when none is configured.
	DefaultDaysInYear = 365
)

var (
	one          = decimal.NewFromInt(1)
	interestDays = decimal.NewFromInt(360)
)

// Inputs is everything a run reads, loaded in full beforehand.
type Inputs struct {
	Config      model.FundConfig
	Events      []model.Event
	Prices      *market.PriceBook
	Calendar    *market.Calendar
	Adjustments []model.Adjustment
	Logger      *slog.Logger // nil → slog.Default()
}

// Result is the output of a run for the requested range.
type Result struct {
	Records     []model.NAVRecord
	Summaries   []model.InvestorSummary // as of the last day
	Holdings    []model.Holding         // as of the last day
	Adjustments []model.Adjustment      // manual corrections applied in range
}

// Run recomputes the fund from its first day to `to` and returns the records
// dated within [from, to].
func Run(in Inputs, from, to time.Time) (*Result, error) {
	cfg := in.Config
	from, to = model.Day(from), model.Day(to)
	log := in.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.FofID == "" {
		return nil, model.Configuration("", "fof id is missing")
	}
	if cfg.EstablishedOn.IsZero() {
		return nil, model.Configuration(cfg.FofID, "establishment date is missing")
	}
	if to.Before(from) {
		return nil, model.Configuration(cfg.FofID, "range end %s before start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}

	comp, err := NewCompounder(cfg)
	if err != nil {
		return nil, err
	}
	book := in.Prices
	if book == nil {
		book = market.NewPriceBook(nil)
	}
	cal := in.Calendar
	if cal == nil {
		cal = market.NewCalendar(nil)
	}
	proc, err := NewProcessor(cfg, book)
	if err != nil {
		return nil, err
	}

	start := model.Day(cfg.EstablishedOn)
	byDay := make(map[time.Time][]model.Event)
	for _, ev := range in.Events {
		h := ev.Head()
		day := model.Day(h.At)
		if err := model.Validate(ev); err != nil {
			return nil, model.Locate(err, cfg.FofID, h.FundID, h.InvestorID, day)
		}
		byDay[day] = append(byDay[day], ev)
		if day.Before(start) {
			start = day
		}
	}
	corrections := make(map[time.Time][]model.Adjustment)
	for _, a := range in.Adjustments {
		day := model.Day(a.Date)
		corrections[day] = append(corrections[day], a)
	}

	res := &Result{}
	var history []model.NAVRecord
	prev := Opening()
	valuedOn := start
	for day := start; !day.After(to); day = day.AddDate(0, 0, 1) {
		events := byDay[day]
		SortDay(events)
		flows, err := proc.Apply(day, events, prev)
		if err != nil {
			return nil, err
		}

		valuedOn, _ = cal.LastTradingDay(day)
		positions := proc.Positions()
		prices := make(map[string]decimal.Decimal, len(positions))
		for id, shares := range positions {
			if shares.IsZero() {
				continue
			}
			if q, ok := book.AsOf(id, valuedOn); ok {
				prices[id] = q.NAV
			}
		}

		adjustment := decimal.Zero
		for _, a := range corrections[day] {
			adjustment = adjustment.Add(a.Amount)
			log.Warn("manual adjustment applied",
				"manager", cfg.ManagerID,
				"fof", cfg.FofID,
				"date", day.Format(time.DateOnly),
				"amount", a.Amount.String(),
				"reason", a.Reason,
			)
			if !day.Before(from) {
				res.Adjustments = append(res.Adjustments, a)
			}
		}

		val, rec, err := comp.Compound(prev, Close{
			Date:       day,
			Positions:  positions,
			Prices:     prices,
			Cash:       proc.Cash(),
			Shares:     proc.Shares(),
			Adjustment: adjustment,
			Flows:      flows,
		})
		if err != nil {
			return nil, err
		}
		proc.SetCash(val.Cash)
		prev = val
		history = append(history, rec)
	}

	if err := applyAdjusted(history); err != nil {
		return nil, model.Locate(err, cfg.FofID, cfg.FofID, "", to)
	}
	for _, rec := range history {
		if !rec.Date.Before(from) {
			res.Records = append(res.Records, rec)
		}
	}
	res.Summaries = proc.Summaries(prev)
	res.Holdings = proc.Holdings(valuedOn)
	return res, nil
}

// applyAdjusted fills the adjusted NAV and factor of records in place.
func applyAdjusted(records []model.NAVRecord) error {
	nav := make([]decimal.Decimal, len(records))
	acc := make([]decimal.Decimal, len(records))
	for i, r := range records {
		nav[i], acc[i] = r.NAV, r.AccNAV
	}
	adjusted, factor, err := adjust.Adjust(nav, acc)
	if err != nil {
		return fmt.Errorf("engine: adjusted nav: %w", err)
	}
	for i := range records {
		records[i].AdjustedNAV = adjusted[i]
		records[i].TAFactor = factor[i]
	}
	return nil
}
