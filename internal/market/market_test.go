package market

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCalendar_LastTradingDay(t *testing.T) {
	// Thu, Fri, then Mon, listed out of order with a duplicate.
	cal := NewCalendar([]time.Time{date("2024-01-08"), date("2024-01-04"), date("2024-01-05"), date("2024-01-05")})
	if cal.Len() != 3 {
		t.Fatalf("expected 3 days, got %d", cal.Len())
	}

	tests := []struct {
		day   string
		want  string
		found bool
	}{
		{"2024-01-04", "2024-01-04", true},
		{"2024-01-06", "2024-01-05", true}, // Saturday
		{"2024-01-07", "2024-01-05", true}, // Sunday
		{"2024-01-08", "2024-01-08", true},
		{"2024-01-20", "2024-01-08", true},
		{"2024-01-01", "2024-01-01", false}, // before the calendar
	}
	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			got, ok := cal.LastTradingDay(date(tt.day))
			if ok != tt.found || !got.Equal(date(tt.want)) {
				t.Errorf("LastTradingDay(%s) = %s, %v; want %s, %v", tt.day, got.Format(time.DateOnly), ok, tt.want, tt.found)
			}
		})
	}
}

func TestCalendar_EmptyTradesEveryDay(t *testing.T) {
	cal := NewCalendar(nil)
	day := date("2024-01-06")
	if got, ok := cal.LastTradingDay(day); !ok || !got.Equal(day) {
		t.Errorf("expected %s, got %s", day, got)
	}
}

func TestPriceBook_ForwardFill(t *testing.T) {
	book := NewPriceBook([]model.PriceQuote{
		{FundID: "S1", Date: date("2024-01-05"), NAV: d(1.05), AccNAV: d(1.15)},
		{FundID: "S1", Date: date("2024-01-04"), NAV: d(1.00)},
	})

	q, ok := book.AsOf("S1", date("2024-01-07"))
	if !ok || !q.NAV.Equal(d(1.05)) || !q.AccNAV.Equal(d(1.15)) {
		t.Errorf("expected forward-filled 1.05/1.15, got %+v", q)
	}
	q, ok = book.AsOf("S1", date("2024-01-04"))
	if !ok || !q.AccNAV.Equal(d(1.00)) {
		t.Errorf("missing acc nav should default to nav, got %+v", q)
	}
	if _, ok := book.AsOf("S1", date("2024-01-03")); ok {
		t.Error("expected no quote before the first publication")
	}
	if _, ok := book.AsOf("S2", date("2024-01-05")); ok {
		t.Error("expected no quote for an unknown fund")
	}
}

func TestPriceBook_LastQuoteWins(t *testing.T) {
	book := NewPriceBook([]model.PriceQuote{
		{FundID: "S1", Date: date("2024-01-05"), NAV: d(1.02)},
		{FundID: "S1", Date: date("2024-01-04"), NAV: d(1.00)},
		{FundID: "S2", Date: date("2024-01-04"), NAV: d(2.00)},
		{FundID: "S1", Date: date("2024-01-04").Add(15 * time.Hour), NAV: d(1.01)},
	})
	tests := []struct {
		fund, day string
		want      float64
	}{
		{"S1", "2024-01-04", 1.01},
		{"S1", "2024-01-05", 1.02},
		{"S1", "2024-01-06", 1.02},
		{"S2", "2024-01-04", 2.00},
	}
	for _, tt := range tests {
		q, ok := book.AsOf(tt.fund, date(tt.day))
		if !ok || !q.NAV.Equal(d(tt.want)) {
			t.Errorf("%s on %s: got %s (%v), want %v", tt.fund, tt.day, q.NAV, ok, tt.want)
		}
	}
	if n := len(book.funds["S1"]); n != 2 {
		t.Errorf("expected one quote per date, got %d", n)
	}
}

func TestPriceBook_LongHistory(t *testing.T) {
	start := date("2015-01-01")
	var quotes []model.PriceQuote
	// newest first, the order a descending query returns
	for i := 3650; i >= 0; i-- {
		quotes = append(quotes, model.PriceQuote{FundID: "S1", Date: start.AddDate(0, 0, i), NAV: decimal.NewFromInt(int64(i + 1))})
	}
	book := NewPriceBook(quotes)
	q, ok := book.AsOf("S1", start.AddDate(0, 0, 100))
	if !ok || !q.NAV.Equal(decimal.NewFromInt(101)) {
		t.Errorf("expected nav 101, got %s (%v)", q.NAV, ok)
	}
	if !slices.IsSortedFunc(book.funds["S1"], byDate) {
		t.Error("history not sorted")
	}
}
