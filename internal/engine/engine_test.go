package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/ledger"
	"github.com/atmx/fof-nav/internal/market"
	"github.com/atmx/fof-nav/internal/model"
)

const fof = "FOF1"

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func hdr(id string, n int, fund, investor string) model.Header {
	return model.Header{ID: id, At: day(n).Add(10 * time.Hour), FundID: fund, InvestorID: investor}
}

// scenario: the FOF opens at 1.00, alice subscribes 1000 and the FOF buys
// 1000 shares of S1. S1 rises 5% on day 2. On day 3 alice redeems 500 and
// the FOF sells 500 shares of S1 to pay her.
func scenario(mode string) Inputs {
	cfg := model.FundConfig{
		ManagerID:     "M1",
		FofID:         fof,
		EstablishedOn: day(1),
		Incentive:     model.IncentiveTerms{Mode: mode, Schedule: "flat:0.2"},
	}
	events := []model.Event{
		model.Subscribe{Header: hdr("e1", 1, fof, "alice"), Offering: true, Shares: d(1000), Amount: d(1000), NAV: d(1)},
		model.Subscribe{Header: hdr("e2", 1, "S1", fof), Shares: d(1000), Amount: d(1000), NAV: d(1)},
		model.Redeem{Header: hdr("e3", 3, fof, "alice"), Shares: d(500)},
		model.Redeem{Header: hdr("e4", 3, "S1", fof), Shares: d(500), NAV: d(1.05)},
	}
	prices := market.NewPriceBook([]model.PriceQuote{
		{FundID: "S1", Date: day(1), NAV: d(1.00)},
		{FundID: "S1", Date: day(2), NAV: d(1.05)},
		{FundID: "S1", Date: day(3), NAV: d(1.05)},
	})
	return Inputs{Config: cfg, Events: events, Prices: prices}
}

func TestRun_RedemptionScenarioPerLot(t *testing.T) {
	res, err := Run(scenario("SCST"), day(1), day(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}

	d2 := res.Records[1]
	if !d2.NAV.Equal(d(1.05)) || !d2.NetAssets.Equal(d(1050)) {
		t.Errorf("day 2: expected nav 1.05 and net assets 1050, got %s / %s", d2.NAV, d2.NetAssets)
	}

	d3 := res.Records[2]
	if !d3.Carry.Equal(d(5)) {
		t.Errorf("day 3: expected carry 5, got %s", d3.Carry)
	}
	if !d3.Shares.Equal(d(500)) || !d3.SharesRedeemed.Equal(d(500)) {
		t.Errorf("day 3: expected 500 shares left, got %s", d3.Shares)
	}
	// +525 from S1, −520 payout, −5 carry
	if !d3.Cash.IsZero() {
		t.Errorf("day 3: expected cash 0, got %s", d3.Cash)
	}
	if !d3.NAV.Equal(d(1.05)) {
		t.Errorf("day 3: expected nav 1.05, got %s", d3.NAV)
	}

	if len(res.Summaries) != 1 {
		t.Fatalf("expected one investor summary, got %d", len(res.Summaries))
	}
	s := res.Summaries[0]
	checks := []struct {
		name      string
		got, want decimal.Decimal
	}{
		{"redeemed", s.Redeemed, d(520)},
		{"carry", s.CarryPaid, d(5)},
		{"shares", s.Shares, d(500)},
		{"market value", s.MarketValue, d(525)},
		{"profit", s.Profit, d(45)},
		{"water-line", s.WaterLine, d(1)},
	}
	for _, c := range checks {
		if !c.got.Equal(c.want) {
			t.Errorf("summary %s: got %s, want %s", c.name, c.got, c.want)
		}
	}

	if len(res.Holdings) != 1 || !res.Holdings[0].Shares.Equal(d(500)) || !res.Holdings[0].MarketValue.Equal(d(525)) {
		t.Errorf("unexpected holdings %+v", res.Holdings)
	}
}

func TestRun_RedemptionScenarioWholeAccount(t *testing.T) {
	res, err := Run(scenario("INTE"), day(1), day(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d3 := res.Records[2]
	// 5 netted from the payout, 5 charged in kind on the 500 kept
	if !d3.Carry.Equal(d(10)) {
		t.Errorf("expected carry 10, got %s", d3.Carry)
	}
	if !d3.SharesFee.Equal(d(4.76)) {
		t.Errorf("expected 4.76 shares cancelled, got %s", d3.SharesFee)
	}
	if !d3.Shares.Equal(d(495.24)) {
		t.Errorf("expected 495.24 shares, got %s", d3.Shares)
	}
	if !d3.NAV.Equal(d(1.05)) {
		t.Errorf("in-kind fee should leave nav at 1.05, got %s", d3.NAV)
	}
	if wl := res.Summaries[0].WaterLine; !wl.Equal(d(1.05)) {
		t.Errorf("expected merged water-line 1.05, got %s", wl)
	}
}

func TestRun_ShareConservation(t *testing.T) {
	in := scenario("INTE")
	in.Events = append(in.Events,
		model.DividendReinvest{Header: hdr("e5", 4, fof, "alice"), Amount: d(10), NAV: d(1.05)},
		model.DeductReward{Header: hdr("e6", 5, fof, "alice"), AccNAV: d(1.2), NAV: d(1.1)},
	)
	res, err := Run(in, day(1), day(6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prev := decimal.Zero
	for _, r := range res.Records {
		want := prev.Add(r.SharesSubscribed).Sub(r.SharesRedeemed).Sub(r.SharesFee).Add(r.SharesReinvested)
		if !r.Shares.Equal(want) {
			t.Errorf("%s: shares %s, want %s", r.Date.Format(time.DateOnly), r.Shares, want)
		}
		if !r.NAV.IsPositive() {
			t.Errorf("%s: nav %s not positive", r.Date.Format(time.DateOnly), r.NAV)
		}
		prev = r.Shares
	}
	if !res.Records[3].SharesReinvested.IsPositive() || !res.Records[4].SharesFee.IsPositive() {
		t.Errorf("expected reinvestment on day 4 and fee on day 5, got %+v / %+v", res.Records[3], res.Records[4])
	}
}

func TestRun_Idempotent(t *testing.T) {
	in := scenario("SCST")
	in.Config.Management = model.FeeRate{Rate: d(0.015)}
	in.Config.DepositRate = d(0.003)
	first, err := Run(in, day(1), day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Run(in, day(1), day(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("two runs over the same inputs differ")
	}
}

func TestRun_RangeReplaysFromEstablishment(t *testing.T) {
	full, err := Run(scenario("SCST"), day(1), day(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	part, err := Run(scenario("SCST"), day(3), day(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(part.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(part.Records))
	}
	if !reflect.DeepEqual(full.Records[2:], part.Records) {
		t.Error("partial range should reproduce the tail of a full run")
	}
}

func TestRun_EmptyFundNAVIsOne(t *testing.T) {
	res, err := Run(Inputs{Config: model.FundConfig{FofID: fof, EstablishedOn: day(1)}}, day(1), day(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range res.Records {
		if !r.NAV.Equal(d(1)) || !r.TAFactor.Equal(d(1)) {
			t.Errorf("%s: expected nav 1 and factor 1, got %s / %s", r.Date.Format(time.DateOnly), r.NAV, r.TAFactor)
		}
	}
}

func TestRun_CashDividend(t *testing.T) {
	in := scenario("SCST")
	in.Events = append(in.Events, model.DividendCash{Header: hdr("e5", 2, fof, "alice"), Amount: d(50)})
	res, err := Run(in, day(1), day(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := res.Records[1]
	if !r.DividendPerShare.Equal(d(0.05)) {
		t.Errorf("expected 0.05 per share, got %s", r.DividendPerShare)
	}
	// (1050 − 50) / 1000
	if !r.NAV.Equal(d(1)) || !r.AccNAV.Equal(d(1.05)) {
		t.Errorf("expected nav 1.00 and acc 1.05, got %s / %s", r.NAV, r.AccNAV)
	}
	if !r.TAFactor.Equal(d(1.05)) || !r.AdjustedNAV.Equal(d(1.05)) {
		t.Errorf("expected factor 1.05, got %s (adjusted %s)", r.TAFactor, r.AdjustedNAV)
	}
	if !res.Summaries[0].DividendCash.Equal(d(50)) {
		t.Errorf("expected 50 paid, got %s", res.Summaries[0].DividendCash)
	}
}

func TestRun_InsufficientShares(t *testing.T) {
	in := scenario("SCST")
	in.Events[2] = model.Redeem{Header: hdr("e3", 3, fof, "alice"), Shares: d(1500)}
	_, err := Run(in, day(1), day(3))
	if !errors.Is(err, model.ErrDataIntegrity) || !errors.Is(err, ledger.ErrInsufficientShares) {
		t.Fatalf("expected insufficient shares, got %v", err)
	}
	var e *model.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *model.Error, got %T", err)
	}
	if e.FofID != fof || e.InvestorID != "alice" || !e.Date.Equal(day(3)) {
		t.Errorf("error not located: %+v", e)
	}
}

func TestRun_RedemptionWithoutSubscription(t *testing.T) {
	in := scenario("SCST")
	in.Events = append(in.Events, model.Redeem{Header: hdr("e9", 3, fof, "bob"), Shares: d(1)})
	_, err := Run(in, day(1), day(3))
	var e *model.Error
	if !errors.As(err, &e) || e.InvestorID != "bob" || !errors.Is(err, model.ErrDataIntegrity) {
		t.Errorf("expected located integrity error for bob, got %v", err)
	}
}

func TestRun_HybridModeRejected(t *testing.T) {
	_, err := Run(scenario("HYBR"), day(1), day(3))
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestRun_WholeAccountWaterLineMonotonic(t *testing.T) {
	in := scenario("INTE")
	in.Events = in.Events[:2]
	accs := []float64{1.10, 1.05, 1.20}
	for i, acc := range accs {
		in.Events = append(in.Events, model.DeductReward{
			Header: hdr("f", 4+i, fof, "alice"), NAV: d(acc), AccNAV: d(acc),
		})
	}
	res, err := Run(in, day(1), day(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wl := res.Summaries[0].WaterLine; !wl.Equal(d(1.2)) {
		t.Errorf("expected water-line 1.20, got %s", wl)
	}

	// a confirmed water-line below the account's is rejected
	in.Events = append(in.Events, model.DeductReward{
		Header: hdr("g", 8, fof, "alice"), NAV: d(1.3), AccNAV: d(1.3), WaterLine: d(1.1),
	})
	_, err = Run(in, day(1), day(8))
	if !errors.Is(err, ledger.ErrWaterLineDecrease) {
		t.Errorf("expected ErrWaterLineDecrease, got %v", err)
	}
}

func TestRun_ConfirmedFeeWithoutProfit(t *testing.T) {
	in := scenario("SCST")
	in.Events = append(in.Events[:2], model.DeductReward{
		Header: hdr("f", 2, fof, "alice"), NAV: d(0.9), AccNAV: d(0.9), Amount: d(10),
	})
	_, err := Run(in, day(1), day(2))
	if !errors.Is(err, model.ErrPrecheck) {
		t.Errorf("expected precheck error, got %v", err)
	}
}

func TestRun_ManualAdjustment(t *testing.T) {
	in := scenario("SCST")
	in.Adjustments = []model.Adjustment{{ID: "a1", FofID: fof, Date: day(2), Amount: d(-10.5), Reason: "custody fee correction"}}
	res, err := Run(in, day(2), day(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Adjustments) != 1 {
		t.Errorf("expected the correction to be reported, got %d", len(res.Adjustments))
	}
	r := res.Records[0]
	if !r.Adjustment.Equal(d(-10.5)) || !r.NetAssets.Equal(d(1039.5)) {
		t.Errorf("expected net assets 1039.5, got %s (adj %s)", r.NetAssets, r.Adjustment)
	}
}

func TestSortDay(t *testing.T) {
	events := []model.Event{
		model.DeductReward{Header: hdr("fee", 1, fof, "a")},
		model.DividendCash{Header: hdr("div", 1, fof, "a")},
		model.Redeem{Header: hdr("red", 1, fof, "a")},
		model.Subscribe{Header: hdr("sub", 1, fof, "a")},
	}
	SortDay(events)
	want := []string{"sub", "red", "div", "fee"}
	for i, ev := range events {
		if ev.Head().ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ev.Head().ID, want[i])
		}
	}
}

func TestRun_CashDividendWithCarry(t *testing.T) {
	in := scenario("SCST")
	in.Config.CarryOnDividend = true
	in.Events = append(in.Events[:2], model.DividendCash{Header: hdr("e5", 2, fof, "alice"), Amount: d(50), AccNAV: d(1.05)})
	res, err := Run(in, day(1), day(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := res.Records[1]
	// (1.05 − 1.00) × 20% × 1000 netted from the 50 paid
	if !r.Carry.Equal(d(10)) {
		t.Errorf("expected carry 10, got %s", r.Carry)
	}
	// the gross 50 leaves the fund: 40 to alice, 10 to the manager
	if !r.Cash.Equal(d(-50)) || !r.NetAssets.Equal(d(1000)) || !r.NAV.Equal(d(1)) {
		t.Errorf("expected cash −50, net assets 1000 and nav 1, got %s / %s / %s", r.Cash, r.NetAssets, r.NAV)
	}
	s := res.Summaries[0]
	if !s.DividendCash.Equal(d(40)) || !s.CarryPaid.Equal(d(10)) {
		t.Errorf("expected 40 paid and 10 carry, got %s / %s", s.DividendCash, s.CarryPaid)
	}
	if !s.WaterLine.Equal(d(1.05)) {
		t.Errorf("expected the charged lot raised to 1.05, got %s", s.WaterLine)
	}
}

func TestRun_ReinvestedDividendWholeAccountCarry(t *testing.T) {
	in := scenario("INTE")
	in.Config.CarryOnDividend = true
	in.Events = append(in.Events[:2], model.DividendReinvest{Header: hdr("e5", 2, fof, "alice"), Amount: d(50), NAV: d(1), AccNAV: d(1.05)})
	res, err := Run(in, day(1), day(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := res.Records[1]
	// 10 carry on the account, the net 40 buys 40 shares at 1.00
	if !r.Carry.Equal(d(10)) || !r.SharesReinvested.Equal(d(40)) {
		t.Errorf("expected carry 10 and 40 shares reinvested, got %s / %s", r.Carry, r.SharesReinvested)
	}
	if !r.Shares.Equal(d(1040)) || !r.Cash.Equal(d(-10)) || !r.NAV.Equal(d(1)) {
		t.Errorf("expected 1040 shares, cash −10 and nav 1, got %s / %s / %s", r.Shares, r.Cash, r.NAV)
	}
	s := res.Summaries[0]
	if !s.Shares.Equal(d(1040)) || !s.WaterLine.Equal(d(1.05)) || !s.CarryPaid.Equal(d(10)) {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestRun_TieredScheduleAtRedemption(t *testing.T) {
	in := scenario("SCST")
	in.Config.Incentive.Schedule = "tiered:0@0.1,0.2@0.2"
	in.Events = append(in.Events[:2],
		model.Redeem{Header: hdr("e3", 3, fof, "alice"), Shares: d(1000)},
		model.Redeem{Header: hdr("e4", 3, "S1", fof), Shares: d(1000), NAV: d(1.3)},
	)
	in.Prices = market.NewPriceBook([]model.PriceQuote{
		{FundID: "S1", Date: day(1), NAV: d(1.00)},
		{FundID: "S1", Date: day(2), NAV: d(1.30)},
	})
	res, err := Run(in, day(1), day(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1000 × (0.20 × 10% + 0.10 × 20%)
	if c := res.Records[2].Carry; !c.Equal(d(40)) {
		t.Errorf("expected carry 40, got %s", c)
	}
	s := res.Summaries[0]
	if !s.Redeemed.Equal(d(1260)) || !s.Profit.Equal(d(260)) {
		t.Errorf("expected 1260 redeemed and 260 profit, got %s / %s", s.Redeemed, s.Profit)
	}
	if r := res.Records[2]; !r.Shares.IsZero() || !r.Cash.IsZero() || !r.NAV.Equal(d(1)) {
		t.Errorf("expected an emptied fund at nav 1, got %+v", r)
	}
}

func TestRun_RedeemWithinToleranceEmptiesFund(t *testing.T) {
	in := scenario("SCST")
	in.Events = append(in.Events[:2], model.Redeem{Header: hdr("e3", 3, fof, "alice"), Shares: decimal.RequireFromString("1000.0000004")})
	res, err := Run(in, day(1), day(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := res.Records[2]
	if !r.Shares.IsZero() || !r.SharesRedeemed.Equal(d(1000)) {
		t.Errorf("expected the 1000 shares held redeemed and none left, got %s redeemed, %s left", r.SharesRedeemed, r.Shares)
	}
	if s := res.Summaries[0]; !s.Shares.IsZero() || !s.Redeemed.Equal(d(1040)) {
		t.Errorf("expected payout 1050 − 10 carry, got %+v", s)
	}
}

// TestRun_SubFundEvents covers the FOF's own trades in S1. Alice funds the
// FOF with 1000 on day 1, all of it buys S1 at 1.00 and S1 trades at 1.20
// from day 2. The S1 manager charges 10% flat per lot.
func TestRun_SubFundEvents(t *testing.T) {
	tests := []struct {
		name       string
		event      model.Event
		noSubCarry bool
		cash       float64
		position   float64
		nav        float64
		subShares  float64
	}{
		{
			name:  "redeem charged by the sub-fund",
			event: model.Redeem{Header: hdr("h1", 3, "S1", fof), Shares: d(500), NAV: d(1.2)},
			// 500 × 1.20 less 500 × 0.20 × 10%
			cash: 590, position: 600, nav: 1.19, subShares: 500,
		},
		{
			name:       "redeem without sub-fund terms",
			event:      model.Redeem{Header: hdr("h1", 3, "S1", fof), Shares: d(500), NAV: d(1.2)},
			noSubCarry: true,
			cash:       600, position: 600, nav: 1.2, subShares: 500,
		},
		{
			name:  "fee in kind",
			event: model.DeductReward{Header: hdr("h1", 3, "S1", fof), NAV: d(1.2), AccNAV: d(1.2)},
			// 20 of fee cancels 16.67 shares
			cash: 0, position: 1180, nav: 1.18, subShares: 983.33,
		},
		{
			name:  "fee in cash",
			event: model.DeductReward{Header: hdr("h1", 3, "S1", fof), InCash: true, NAV: d(1.2), AccNAV: d(1.2)},
			cash:  -20, position: 1200, nav: 1.18, subShares: 1000,
		},
		{
			name:  "dividend reinvested",
			event: model.DividendReinvest{Header: hdr("h1", 3, "S1", fof), Amount: d(50), NAV: d(1.2)},
			cash:  0, position: 1250, nav: 1.25, subShares: 1041.67,
		},
		{
			name:  "dividend in cash",
			event: model.DividendCash{Header: hdr("h1", 3, "S1", fof), Amount: d(50)},
			cash:  50, position: 1200, nav: 1.25, subShares: 1000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.FundConfig{ManagerID: "M1", FofID: fof, EstablishedOn: day(1)}
			if !tt.noSubCarry {
				cfg.SubFunds = map[string]model.IncentiveTerms{"S1": {Mode: "SCST", Schedule: "flat:0.1"}}
			}
			in := Inputs{
				Config: cfg,
				Events: []model.Event{
					model.Subscribe{Header: hdr("e1", 1, fof, "alice"), Shares: d(1000), Amount: d(1000), NAV: d(1)},
					model.Subscribe{Header: hdr("e2", 1, "S1", fof), Shares: d(1000), Amount: d(1000), NAV: d(1)},
					tt.event,
				},
				Prices: market.NewPriceBook([]model.PriceQuote{
					{FundID: "S1", Date: day(1), NAV: d(1.00)},
					{FundID: "S1", Date: day(2), NAV: d(1.20)},
				}),
			}
			res, err := Run(in, day(1), day(3))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			r := res.Records[2]
			if !r.Cash.Equal(d(tt.cash)) || !r.PositionValue.Equal(d(tt.position)) || !r.NAV.Equal(d(tt.nav)) {
				t.Errorf("expected cash %v, position %v, nav %v; got %s / %s / %s",
					tt.cash, tt.position, tt.nav, r.Cash, r.PositionValue, r.NAV)
			}
			if !r.Shares.Equal(d(1000)) || !r.Carry.IsZero() {
				t.Errorf("sub-fund events must not touch FOF shares or carry, got %s / %s", r.Shares, r.Carry)
			}
			if len(res.Holdings) != 1 || !res.Holdings[0].Shares.Equal(d(tt.subShares)) {
				t.Errorf("expected %v shares of S1, got %+v", tt.subShares, res.Holdings)
			}
		})
	}
}
