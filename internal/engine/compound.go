package engine

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/model"
)

// Valuation is the fund-level state carried from one day to the next.
type Valuation struct {
	Date        time.Time
	NAV         decimal.Decimal
	AccNAV      decimal.Decimal
	NetAssets   decimal.Decimal
	Cash        decimal.Decimal
	Shares      decimal.Decimal
	CumDividend decimal.Decimal // per share, since inception
}

// Opening is the valuation before the first day of a fund.
func Opening() Valuation {
	return Valuation{NAV: one, AccNAV: one}
}

// Flows are the share and fee movements of a day's events.
type Flows struct {
	SharesSubscribed decimal.Decimal
	SharesRedeemed   decimal.Decimal
	SharesFee        decimal.Decimal
	SharesReinvested decimal.Decimal
	Carry            decimal.Decimal // performance fee paid out of the fund
	DividendPerShare decimal.Decimal
}

// Close is the state of a day after its events, ready to be valued.
type Close struct {
	Date       time.Time
	Positions  map[string]decimal.Decimal // sub-fund shares held
	Prices     map[string]decimal.Decimal // sub-fund NAV on the valuation date
	Cash       decimal.Decimal
	Shares     decimal.Decimal
	Adjustment decimal.Decimal
	Flows      Flows
}

// Compounder values a fund at the close of each day: it reprices holdings,
// accrues fees and deposit interest, applies manual corrections and derives
// the NAV. It holds no state; Compound is a pure function of its inputs.
type Compounder struct {
	managerID string
	fofID     string

	management  model.FeeRate
	custodian   model.FeeRate
	admin       model.FeeRate
	daysInYear  decimal.Decimal
	depositRate decimal.Decimal
}

// NewCompounder builds a compounder from the fund's fee terms.
func NewCompounder(cfg model.FundConfig) (*Compounder, error) {
	days := cfg.DaysInYear
	if days == 0 {
		days = DefaultDaysInYear
	}
	if days < 0 {
		return nil, model.Configuration(cfg.FofID, "days in year must be positive, got %d", days)
	}
	for _, r := range []struct {
		name string
		rate model.FeeRate
	}{{"management", cfg.Management}, {"custodian", cfg.Custodian}, {"admin", cfg.Admin}} {
		if r.rate.Rate.IsNegative() || r.rate.MinBase.IsNegative() {
			return nil, model.Configuration(cfg.FofID, "%s fee rate and min base must not be negative", r.name)
		}
	}
	if cfg.DepositRate.IsNegative() {
		return nil, model.Configuration(cfg.FofID, "deposit rate must not be negative")
	}
	return &Compounder{
		managerID:   cfg.ManagerID,
		fofID:       cfg.FofID,
		management:  cfg.Management,
		custodian:   cfg.Custodian,
		admin:       cfg.Admin,
		daysInYear:  decimal.NewFromInt(int64(days)),
		depositRate: cfg.DepositRate,
	}, nil
}

// fee is one day of an annual fee charged on the prior day's net assets,
// floored at the minimum base.
func (c *Compounder) fee(r model.FeeRate, prior decimal.Decimal) decimal.Decimal {
	if r.Rate.IsZero() {
		return decimal.Zero
	}
	base := decimal.Max(prior, r.MinBase)
	return base.Mul(r.Rate).Div(c.daysInYear).Round(AmountScale)
}

// Compound values the fund at the close of in.Date from the prior day's
// valuation.
func (c *Compounder) Compound(prev Valuation, in Close) (Valuation, model.NAVRecord, error) {
	rec := model.NAVRecord{
		ManagerID:        c.managerID,
		FofID:            c.fofID,
		Date:             in.Date,
		Shares:           in.Shares,
		Adjustment:       in.Adjustment,
		Carry:            in.Flows.Carry,
		SharesSubscribed: in.Flows.SharesSubscribed,
		SharesRedeemed:   in.Flows.SharesRedeemed,
		SharesFee:        in.Flows.SharesFee,
		SharesReinvested: in.Flows.SharesReinvested,
		DividendPerShare: in.Flows.DividendPerShare,
	}

	// Reprice holdings, in a fixed order.
	funds := make([]string, 0, len(in.Positions))
	for id := range in.Positions {
		funds = append(funds, id)
	}
	slices.Sort(funds)
	position := decimal.Zero
	for _, id := range funds {
		shares := in.Positions[id]
		if shares.IsZero() {
			continue
		}
		price, ok := in.Prices[id]
		if !ok {
			return prev, rec, model.Integrity(c.fofID, id, "", in.Date, "no price for held fund %s", id)
		}
		position = position.Add(shares.Mul(price))
	}
	rec.PositionValue = position.Round(AmountScale)

	// Fees accrue only once the fund has shares outstanding.
	if prev.Shares.IsPositive() {
		rec.ManagementFee = c.fee(c.management, prev.NetAssets)
		rec.CustodianFee = c.fee(c.custodian, prev.NetAssets)
		rec.AdminFee = c.fee(c.admin, prev.NetAssets)
	}
	if prev.Cash.IsPositive() && c.depositRate.IsPositive() {
		rec.Interest = prev.Cash.Mul(c.depositRate).Div(interestDays).Round(AmountScale)
	}

	cash := in.Cash.
		Sub(rec.ManagementFee).
		Sub(rec.CustodianFee).
		Sub(rec.AdminFee).
		Add(rec.Interest).
		Add(in.Adjustment)
	rec.Cash = cash
	rec.NetAssets = rec.PositionValue.Add(cash)

	if in.Shares.IsPositive() {
		rec.NAV = rec.NetAssets.Div(in.Shares).Round(NAVScale)
		if !rec.NAV.IsPositive() {
			return prev, rec, model.Integrity(c.fofID, "", "", in.Date,
				"nav %s is not positive (net assets %s, shares %s)", rec.NAV, rec.NetAssets, in.Shares)
		}
	} else {
		rec.NAV = one
	}

	cum := prev.CumDividend.Add(in.Flows.DividendPerShare)
	rec.AccNAV = rec.NAV.Add(cum)
	rec.AdjustedNAV = rec.NAV
	rec.TAFactor = one

	next := Valuation{
		Date:        in.Date,
		NAV:         rec.NAV,
		AccNAV:      rec.AccNAV,
		NetAssets:   rec.NetAssets,
		Cash:        cash,
		Shares:      in.Shares,
		CumDividend: cum,
	}
	return next, rec, nil
}
