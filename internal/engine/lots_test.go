package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/atmx/fof-nav/internal/carry"
	"github.com/atmx/fof-nav/internal/ledger"
	"github.com/atmx/fof-nav/internal/model"
)

func calc(t *testing.T, mode, schedule string) *carry.Calculator {
	t.Helper()
	c, err := carry.NewCalculator(model.IncentiveTerms{Mode: mode, Schedule: schedule})
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return c
}

func twoLots(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(fof, "alice")
	if err := l.AddLot(day(1), d(100), d(1.0), d(1.0), d(100), model.CarryRegular); err != nil {
		t.Fatal(err)
	}
	if err := l.AddLot(day(2), d(100), d(1.1), d(1.1), d(110), model.CarryAtRedemption); err != nil {
		t.Fatal(err)
	}
	return l
}

func TestDeductPerLot_SkipsRedemptionLots(t *testing.T) {
	l := twoLots(t)
	e := model.DeductReward{Header: model.Header{At: day(3)}, NAV: d(1.2), AccNAV: d(1.2)}
	dd, err := deductLots(l, calc(t, "SCST", "flat:0.2"), e, d(1.2), d(1.2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// only the regular lot: 100 × 0.2 × 0.2
	if !dd.fee.Equal(d(4)) {
		t.Errorf("expected fee 4, got %s", dd.fee)
	}
	if !dd.shares.Equal(d(3.33)) {
		t.Errorf("expected 3.33 shares, got %s", dd.shares)
	}
	if !l.Lot(0).WaterLine.Equal(d(1.2)) || !l.Lot(1).WaterLine.Equal(d(1.1)) {
		t.Errorf("unexpected water-lines %s, %s", l.Lot(0).WaterLine, l.Lot(1).WaterLine)
	}
}

func TestDeductPerLot_ConfirmedAmountsWin(t *testing.T) {
	l := ledger.New(fof, "alice")
	_ = l.AddLot(day(1), d(100), d(1.0), d(1.0), d(100), model.CarryRegular)
	_ = l.AddLot(day(2), d(100), d(1.0), d(1.0), d(100), model.CarryRegular)
	e := model.DeductReward{Header: model.Header{At: day(3)}, AccNAV: d(1.2), Amount: d(7), Shares: d(6), WaterLine: d(1.15)}
	dd, err := deductLots(l, calc(t, "SCST", "flat:0.2"), e, d(1.2), d(1.2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dd.fee.Equal(d(7)) || !dd.shares.Equal(d(6)) {
		t.Errorf("expected confirmed 7 / 6, got %s / %s", dd.fee, dd.shares)
	}
	if !l.TotalShares().Equal(d(194)) {
		t.Errorf("expected 194 shares left, got %s", l.TotalShares())
	}
	if !l.Lot(1).WaterLine.Equal(d(1.15)) {
		t.Errorf("expected confirmed water-line 1.15, got %s", l.Lot(1).WaterLine)
	}
}

func TestDeductConfirmed_UnknownTerms(t *testing.T) {
	l := twoLots(t)
	e := model.DeductReward{Header: model.Header{At: day(3)}, Shares: d(150), WaterLine: d(1.05)}
	dd, err := deductLots(l, calc(t, "", ""), e, d(1.2), d(1.2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dd.fee.Equal(d(180)) {
		t.Errorf("expected fee 180, got %s", dd.fee)
	}
	// the first lot is used up and pruned
	if l.Len() != 1 || !l.TotalShares().Equal(d(50)) {
		t.Errorf("expected one lot of 50, got %d / %s", l.Len(), l.TotalShares())
	}
	if !l.Lot(0).WaterLine.Equal(d(1.1)) {
		t.Errorf("higher water-line should be kept, got %s", l.Lot(0).WaterLine)
	}
}

func TestRedeemLots_PerLotFIFO(t *testing.T) {
	l := twoLots(t)
	r, err := redeemLots(l, calc(t, "SCST", "flat:0.2"), day(3), d(150), d(1.2), d(1.2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100 × 0.2 × 0.2 + 50 × 0.1 × 0.2
	if !r.carry.Equal(d(5)) {
		t.Errorf("expected carry 5, got %s", r.carry)
	}
	if !r.cost.Equal(d(155)) {
		t.Errorf("expected cost 155, got %s", r.cost)
	}
	if !r.kept.IsZero() {
		t.Errorf("per-lot mode charges nothing on kept shares, got %s", r.kept)
	}
}

func TestDividendCarry_RaisesWaterLine(t *testing.T) {
	l := twoLots(t)
	c, err := dividendCarry(l, calc(t, "SCST", "flat:0.2"), day(3), d(1.5), d(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100 × 0.5 × 0.2 = 10, capped at the dividend
	if !c.Equal(d(2)) {
		t.Errorf("expected carry capped at 2, got %s", c)
	}
	if !l.Lot(0).WaterLine.Equal(d(1.5)) {
		t.Errorf("expected water-line 1.5, got %s", l.Lot(0).WaterLine)
	}
}

func TestDeductAccount_EmptyConfirmed(t *testing.T) {
	l := ledger.New(fof, "alice")
	e := model.DeductReward{Header: model.Header{At: time.Now()}, Amount: d(1), AccNAV: d(1.2)}
	_, err := deductLots(l, calc(t, "INTE", "flat:0.2"), e, d(1.2), d(1.2))
	if !errors.Is(err, model.ErrDataIntegrity) {
		t.Errorf("expected data integrity error, got %v", err)
	}
}
