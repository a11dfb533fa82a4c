package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCompound_NoSharesNAVIsOne(t *testing.T) {
	c, err := NewCompounder(model.FundConfig{FofID: "FOF1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, rec, err := c.Compound(Opening(), Close{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.NAV.Equal(d(1)) || !rec.AccNAV.Equal(d(1)) {
		t.Errorf("expected nav 1 with no shares, got %s / %s", rec.NAV, rec.AccNAV)
	}
}

func TestCompound_RepricesAndDerivesNAV(t *testing.T) {
	c, _ := NewCompounder(model.FundConfig{FofID: "FOF1"})
	prev := Valuation{NAV: d(1), AccNAV: d(1), NetAssets: d(1000), Shares: d(1000)}
	next, rec, err := c.Compound(prev, Close{
		Positions: map[string]decimal.Decimal{"S1": d(1000), "S2": d(0)},
		Prices:    map[string]decimal.Decimal{"S1": d(1.05)},
		Shares:    d(1000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.PositionValue.Equal(d(1050)) || !rec.NetAssets.Equal(d(1050)) {
		t.Errorf("expected net assets 1050, got position %s net %s", rec.PositionValue, rec.NetAssets)
	}
	if !rec.NAV.Equal(d(1.05)) {
		t.Errorf("expected nav 1.05, got %s", rec.NAV)
	}
	if !next.NetAssets.Equal(d(1050)) {
		t.Errorf("valuation not carried forward: %s", next)
	}
}

func TestCompound_MissingPrice(t *testing.T) {
	c, _ := NewCompounder(model.FundConfig{FofID: "FOF1"})
	_, _, err := c.Compound(Opening(), Close{
		Positions: map[string]decimal.Decimal{"S1": d(10)},
		Shares:    d(10),
	})
	if !errors.Is(err, model.ErrDataIntegrity) {
		t.Fatalf("expected data integrity error, got %v", err)
	}
	var e *model.Error
	if !errors.As(err, &e) || e.FundID != "S1" {
		t.Errorf("error should name the unpriced fund, got %v", err)
	}
}

func TestCompound_FeesAndInterest(t *testing.T) {
	cfg := model.FundConfig{
		FofID:       "FOF1",
		Management:  model.FeeRate{Rate: d(0.01)},
		Custodian:   model.FeeRate{Rate: d(0.01), MinBase: d(36500)},
		DepositRate: d(0.036),
	}
	c, err := NewCompounder(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prev := Valuation{NAV: d(1), AccNAV: d(1), NetAssets: d(1000), Cash: d(100), Shares: d(1000)}
	_, rec, err := c.Compound(prev, Close{Cash: d(1000), Shares: d(1000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name string
		got  decimal.Decimal
		want decimal.Decimal
	}{
		{"management", rec.ManagementFee, d(0.03)}, // 1000 × 1% / 365
		{"custodian", rec.CustodianFee, d(1)},      // floored at 36500
		{"admin", rec.AdminFee, d(0)},
		{"interest", rec.Interest, d(0.01)}, // 100 × 3.6% / 360
		{"cash", rec.Cash, d(998.98)},
	}
	for _, tt := range tests {
		if !tt.got.Equal(tt.want) {
			t.Errorf("%s: got %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestCompound_NoFeesBeforeCapitalisation(t *testing.T) {
	c, _ := NewCompounder(model.FundConfig{FofID: "FOF1", Management: model.FeeRate{Rate: d(0.01), MinBase: d(1000000)}})
	_, rec, err := c.Compound(Opening(), Close{Cash: d(1000), Shares: d(1000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.ManagementFee.IsZero() {
		t.Errorf("expected no fee on the first day, got %s", rec.ManagementFee)
	}
}

func TestCompound_AdjustmentAndDividend(t *testing.T) {
	c, _ := NewCompounder(model.FundConfig{FofID: "FOF1"})
	prev := Valuation{NAV: d(1), AccNAV: d(1.1), CumDividend: d(0.1), Shares: d(100), NetAssets: d(100)}
	_, rec, err := c.Compound(prev, Close{
		Cash:       d(95),
		Shares:     d(100),
		Adjustment: d(-5),
		Flows:      Flows{DividendPerShare: d(0.05)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.NAV.Equal(d(0.9)) {
		t.Errorf("expected nav 0.9, got %s", rec.NAV)
	}
	if !rec.AccNAV.Equal(d(1.05)) {
		t.Errorf("expected acc nav 0.9 + 0.15, got %s", rec.AccNAV)
	}
	if !rec.Adjustment.Equal(d(-5)) {
		t.Errorf("adjustment not recorded: %s", rec.Adjustment)
	}
}

func TestCompound_NonPositiveNAV(t *testing.T) {
	c, _ := NewCompounder(model.FundConfig{FofID: "FOF1"})
	_, _, err := c.Compound(Opening(), Close{Cash: d(-10), Shares: d(100)})
	if !errors.Is(err, model.ErrDataIntegrity) {
		t.Errorf("expected data integrity error, got %v", err)
	}
}

func TestNewCompounder_InvalidConfig(t *testing.T) {
	_, err := NewCompounder(model.FundConfig{FofID: "FOF1", DaysInYear: -1})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
