package engine

import (
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/carry"
	"github.com/atmx/fof-nav/internal/ledger"
	"github.com/atmx/fof-nav/internal/market"
	"github.com/atmx/fof-nav/internal/model"
)

// Processor replays trade events onto lot ledgers and the fund's cash.
//
// Events whose FundID is the FOF are investor trades in the FOF. Events whose
// InvestorID is the FOF are the FOF's own trades in a held sub-fund.
// A Processor owns its ledgers for one pass and is not safe for concurrent use.
type Processor struct {
	cfg      model.FundConfig
	carry    *carry.Calculator
	subCarry map[string]*carry.Calculator
	none     *carry.Calculator
	prices   *market.PriceBook

	investors map[string]*ledger.Ledger
	holdings  map[string]*ledger.Ledger
	summaries map[string]*model.InvestorSummary

	cash   decimal.Decimal
	shares decimal.Decimal
}

// NewProcessor parses the fund's incentive terms and returns an empty
// processor. Unusable terms fail with a configuration error.
func NewProcessor(cfg model.FundConfig, prices *market.PriceBook) (*Processor, error) {
	if prices == nil {
		prices = market.NewPriceBook(nil)
	}
	calc, err := carry.NewCalculator(cfg.Incentive)
	if err != nil {
		return nil, model.Locate(err, cfg.FofID, cfg.FofID, "", time.Time{})
	}
	none, _ := carry.NewCalculator(model.IncentiveTerms{})

	ids := make([]string, 0, len(cfg.SubFunds))
	for id := range cfg.SubFunds {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	sub := make(map[string]*carry.Calculator, len(ids))
	for _, id := range ids {
		c, err := carry.NewCalculator(cfg.SubFunds[id])
		if err != nil {
			return nil, model.Locate(err, cfg.FofID, id, "", time.Time{})
		}
		sub[id] = c
	}

	return &Processor{
		cfg:       cfg,
		carry:     calc,
		subCarry:  sub,
		none:      none,
		prices:    prices,
		investors: make(map[string]*ledger.Ledger),
		holdings:  make(map[string]*ledger.Ledger),
		summaries: make(map[string]*model.InvestorSummary),
	}, nil
}

// Cash is the fund's cash balance after the events applied so far.
func (p *Processor) Cash() decimal.Decimal { return p.cash }

// SetCash replaces the cash balance once a day's fees and interest settle.
func (p *Processor) SetCash(cash decimal.Decimal) { p.cash = cash }

// Shares is the number of FOF shares outstanding.
func (p *Processor) Shares() decimal.Decimal { return p.shares }

// Positions returns the shares held in each sub-fund.
func (p *Processor) Positions() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.holdings))
	for id, l := range p.holdings {
		out[id] = l.TotalShares()
	}
	return out
}

func (p *Processor) subCalc(fundID string) *carry.Calculator {
	if c, ok := p.subCarry[fundID]; ok {
		return c
	}
	return p.none
}

func (p *Processor) investor(id string) *ledger.Ledger {
	l, ok := p.investors[id]
	if !ok {
		l = ledger.New(p.cfg.FofID, id)
		p.investors[id] = l
	}
	return l
}

func (p *Processor) holding(fundID string) *ledger.Ledger {
	l, ok := p.holdings[fundID]
	if !ok {
		l = ledger.New(fundID, p.cfg.FofID)
		p.holdings[fundID] = l
	}
	return l
}

func (p *Processor) summary(id string) *model.InvestorSummary {
	s, ok := p.summaries[id]
	if !ok {
		s = &model.InvestorSummary{ManagerID: p.cfg.ManagerID, FofID: p.cfg.FofID, InvestorID: id}
		p.summaries[id] = s
	}
	return s
}

// rank orders a day's events: subscriptions, redemptions, dividends, fees.
func rank(ev model.Event) int {
	switch ev.(type) {
	case model.Subscribe:
		return 0
	case model.Redeem:
		return 1
	case model.DividendCash, model.DividendReinvest:
		return 2
	default:
		return 3
	}
}

// SortDay orders one day's events in place for processing. Ties keep their
// time then input order.
func SortDay(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		ri, rj := rank(events[i]), rank(events[j])
		if ri != rj {
			return ri < rj
		}
		return events[i].Head().At.Before(events[j].Head().At)
	})
}

// dividendDay accumulates the FOF's distribution of one day.
type dividendDay struct {
	base  decimal.Decimal // shares outstanding when the first dividend applied
	seen  bool
	total decimal.Decimal
}

func (d *dividendDay) add(shares, amount decimal.Decimal) {
	if !d.seen {
		d.base = shares
		d.seen = true
	}
	d.total = d.total.Add(amount)
}

// Apply processes one day's events, already in SortDay order. mark is the
// previous day's valuation, used to price investor events without a
// confirmed NAV.
func (p *Processor) Apply(day time.Time, events []model.Event, mark Valuation) (Flows, error) {
	var (
		flows Flows
		div   dividendDay
	)
	for _, ev := range events {
		h := ev.Head()
		var err error
		switch {
		case h.FundID == p.cfg.FofID:
			err = p.applyInvestor(ev, mark, &flows, &div)
		case h.InvestorID == p.cfg.FofID:
			err = p.applyHolding(ev, day)
		default:
			err = model.Integrity(p.cfg.FofID, h.FundID, h.InvestorID, day,
				"event %s is neither a trade in %s nor by it", h.ID, p.cfg.FofID)
		}
		if err != nil {
			return flows, model.Locate(err, p.cfg.FofID, h.FundID, h.InvestorID, day)
		}
	}
	if div.seen && div.base.IsPositive() {
		flows.DividendPerShare = div.total.Div(div.base).Round(NAVScale)
	}
	return flows, nil
}

// fofPrice returns the NAV and acc NAV an investor event settles at.
func fofPrice(nav, acc decimal.Decimal, mark Valuation) (decimal.Decimal, decimal.Decimal) {
	if nav.IsZero() {
		nav = mark.NAV
	}
	if acc.IsZero() {
		acc = nav.Add(mark.CumDividend)
	}
	return nav, acc
}

func (p *Processor) applyInvestor(ev model.Event, mark Valuation, flows *Flows, div *dividendDay) error {
	h := ev.Head()
	switch e := ev.(type) {
	case model.Subscribe:
		shares, nav := e.Shares, e.NAV
		if shares.IsZero() {
			shares = e.Amount.Div(nav).Round(ShareScale)
		}
		if nav.IsZero() {
			nav = e.Amount.Div(shares).Round(NAVScale)
		}
		_, acc := fofPrice(nav, e.AccNAV, mark)
		wl := e.WaterLine
		if wl.IsZero() {
			wl = acc
		}
		if err := p.investor(h.InvestorID).AddLot(h.At, shares, wl, acc, e.Amount, e.CalcType); err != nil {
			return err
		}
		p.cash = p.cash.Add(e.Amount)
		p.shares = p.shares.Add(shares)
		flows.SharesSubscribed = flows.SharesSubscribed.Add(shares)
		s := p.summary(h.InvestorID)
		s.Cost = s.Cost.Add(e.Amount)

	case model.Redeem:
		l, ok := p.investors[h.InvestorID]
		if !ok {
			return model.Integrity("", "", "", time.Time{}, "redemption %s without a subscription record", h.ID)
		}
		nav, acc := fofPrice(e.NAV, e.AccNAV, mark)
		r, err := redeemLots(l, p.carry, h.At, e.Shares, nav, acc)
		if err != nil {
			return err
		}
		payout := e.Amount
		if payout.IsZero() {
			payout = r.shares.Mul(nav).Round(AmountScale).Sub(r.carry)
		}
		charged := r.carry.Add(r.kept)
		p.cash = p.cash.Sub(payout).Sub(charged)
		p.shares = p.shares.Sub(r.shares).Sub(r.keptShares)
		flows.SharesRedeemed = flows.SharesRedeemed.Add(r.shares)
		flows.SharesFee = flows.SharesFee.Add(r.keptShares)
		flows.Carry = flows.Carry.Add(charged)
		s := p.summary(h.InvestorID)
		s.Redeemed = s.Redeemed.Add(payout)
		s.CarryPaid = s.CarryPaid.Add(charged)

	case model.DividendCash:
		l, ok := p.investors[h.InvestorID]
		if !ok {
			return model.Integrity("", "", "", time.Time{}, "dividend %s without a subscription record", h.ID)
		}
		div.add(p.shares, e.Amount)
		_, acc := fofPrice(e.NAV, e.AccNAV, mark)
		c, err := p.dividendCarry(l, h.At, acc, e.Amount)
		if err != nil {
			return err
		}
		p.cash = p.cash.Sub(e.Amount)
		flows.Carry = flows.Carry.Add(c)
		s := p.summary(h.InvestorID)
		s.DividendCash = s.DividendCash.Add(e.Amount.Sub(c))
		s.CarryPaid = s.CarryPaid.Add(c)

	case model.DividendReinvest:
		l, ok := p.investors[h.InvestorID]
		if !ok {
			return model.Integrity("", "", "", time.Time{}, "dividend %s without a subscription record", h.ID)
		}
		div.add(p.shares, e.Amount)
		acc := e.AccNAV
		if acc.IsZero() {
			acc = mark.AccNAV
		}
		c, err := p.dividendCarry(l, h.At, acc, e.Amount)
		if err != nil {
			return err
		}
		net := e.Amount.Sub(c)
		shares, err := reinvestShares(e, net, mark.NAV)
		if err != nil {
			return err
		}
		if err := l.AddLot(h.At, shares, acc, acc, decimal.Zero, model.CarryRegular); err != nil {
			return err
		}
		p.cash = p.cash.Sub(c)
		p.shares = p.shares.Add(shares)
		flows.SharesReinvested = flows.SharesReinvested.Add(shares)
		flows.Carry = flows.Carry.Add(c)
		s := p.summary(h.InvestorID)
		s.CarryPaid = s.CarryPaid.Add(c)

	case model.DeductReward:
		l, ok := p.investors[h.InvestorID]
		if !ok {
			return model.Integrity("", "", "", time.Time{}, "fee %s without a subscription record", h.ID)
		}
		nav, acc := fofPrice(e.NAV, e.AccNAV, mark)
		dd, err := deductLots(l, p.carry, e, nav, acc)
		if err != nil {
			return err
		}
		s := p.summary(h.InvestorID)
		s.CarryPaid = s.CarryPaid.Add(dd.fee)
		if e.InCash {
			// paid by the investor outside the fund
			return nil
		}
		p.cash = p.cash.Sub(dd.fee)
		p.shares = p.shares.Sub(dd.shares)
		flows.SharesFee = flows.SharesFee.Add(dd.shares)
		flows.Carry = flows.Carry.Add(dd.fee)
	}
	return nil
}

func (p *Processor) dividendCarry(l *ledger.Ledger, at time.Time, acc, amount decimal.Decimal) (decimal.Decimal, error) {
	if !p.cfg.CarryOnDividend {
		return decimal.Zero, nil
	}
	return dividendCarry(l, p.carry, at, acc, amount)
}

// reinvestShares returns the confirmed new shares of e, or net / nav.
func reinvestShares(e model.DividendReinvest, net, fallbackNAV decimal.Decimal) (decimal.Decimal, error) {
	if e.Shares.IsPositive() {
		return e.Shares, nil
	}
	nav := e.NAV
	if nav.IsZero() {
		nav = fallbackNAV
	}
	if !nav.IsPositive() {
		return decimal.Zero, model.Integrity("", "", "", time.Time{}, "dividend %s has no reinvestment nav", e.ID)
	}
	return net.Div(nav).Round(ShareScale), nil
}

// subPrice returns the NAV and acc NAV of a sub-fund trade: the confirmed
// values, else the published quote on or before day.
func (p *Processor) subPrice(fundID string, day time.Time, nav, acc decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if nav.IsZero() || acc.IsZero() {
		q, ok := p.prices.AsOf(fundID, day)
		if nav.IsZero() {
			if !ok {
				return nav, acc, model.Integrity("", "", "", time.Time{}, "no price for %s", fundID)
			}
			nav = q.NAV
		}
		if acc.IsZero() {
			acc = nav
			if ok {
				acc = q.AccNAV
			}
		}
	}
	if !nav.IsPositive() {
		return nav, acc, model.Integrity("", "", "", time.Time{}, "non-positive nav %s for %s", nav, fundID)
	}
	return nav, acc, nil
}

func (p *Processor) applyHolding(ev model.Event, day time.Time) error {
	h := ev.Head()
	calc := p.subCalc(h.FundID)
	switch e := ev.(type) {
	case model.Subscribe:
		shares, nav := e.Shares, e.NAV
		if shares.IsZero() {
			shares = e.Amount.Div(nav).Round(ShareScale)
		}
		if nav.IsZero() {
			nav = e.Amount.Div(shares).Round(NAVScale)
		}
		acc := e.AccNAV
		if acc.IsZero() {
			acc = nav
			if q, ok := p.prices.AsOf(h.FundID, day); ok && q.NAV.Equal(nav) {
				acc = q.AccNAV
			}
		}
		wl := e.WaterLine
		if wl.IsZero() {
			wl = acc
		}
		if err := p.holding(h.FundID).AddLot(h.At, shares, wl, acc, e.Amount, e.CalcType); err != nil {
			return err
		}
		p.cash = p.cash.Sub(e.Amount)

	case model.Redeem:
		l, ok := p.holdings[h.FundID]
		if !ok {
			return model.Integrity("", "", "", time.Time{}, "redemption %s of a fund never bought", h.ID)
		}
		nav, acc, err := p.subPrice(h.FundID, day, e.NAV, e.AccNAV)
		if err != nil {
			return err
		}
		r, err := redeemLots(l, calc, h.At, e.Shares, nav, acc)
		if err != nil {
			return err
		}
		payout := e.Amount
		if payout.IsZero() {
			payout = r.shares.Mul(nav).Round(AmountScale).Sub(r.carry)
		}
		p.cash = p.cash.Add(payout)

	case model.DividendCash:
		if _, ok := p.holdings[h.FundID]; !ok {
			return model.Integrity("", "", "", time.Time{}, "dividend %s from a fund never bought", h.ID)
		}
		p.cash = p.cash.Add(e.Amount)

	case model.DividendReinvest:
		l, ok := p.holdings[h.FundID]
		if !ok {
			return model.Integrity("", "", "", time.Time{}, "dividend %s from a fund never bought", h.ID)
		}
		nav, acc, err := p.subPrice(h.FundID, day, e.NAV, e.AccNAV)
		if err != nil && e.Shares.IsZero() {
			return err
		}
		shares, err := reinvestShares(e, e.Amount, nav)
		if err != nil {
			return err
		}
		if acc.IsZero() {
			acc = nav
		}
		if err := l.AddLot(h.At, shares, acc, acc, decimal.Zero, model.CarryRegular); err != nil {
			return err
		}

	case model.DeductReward:
		l, ok := p.holdings[h.FundID]
		if !ok {
			return model.Integrity("", "", "", time.Time{}, "fee %s on a fund never bought", h.ID)
		}
		nav, acc, err := p.subPrice(h.FundID, day, e.NAV, e.AccNAV)
		if err != nil {
			return err
		}
		dd, err := deductLots(l, calc, e, nav, acc)
		if err != nil {
			return err
		}
		if e.InCash {
			p.cash = p.cash.Sub(dd.fee)
		}
	}
	return nil
}

// Summaries returns every investor's position valued at v, by investor id.
func (p *Processor) Summaries(v Valuation) []model.InvestorSummary {
	ids := make([]string, 0, len(p.summaries))
	for id := range p.summaries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]model.InvestorSummary, 0, len(ids))
	for _, id := range ids {
		s := *p.summaries[id]
		s.AsOf = v.Date
		if l, ok := p.investors[id]; ok {
			s.Shares = l.TotalShares()
			s.WaterLine = l.MaxWaterLine()
		}
		s.MarketValue = s.Shares.Mul(v.NAV).Round(AmountScale)
		s.Profit = s.MarketValue.Add(s.Redeemed).Add(s.DividendCash).Sub(s.Cost)
		if s.Cost.IsPositive() {
			s.Return = s.Profit.Div(s.Cost).Round(ReturnScale)
		}
		out = append(out, s)
	}
	return out
}

// Holdings returns the FOF's sub-fund positions priced on day, by fund id.
func (p *Processor) Holdings(day time.Time) []model.Holding {
	ids := make([]string, 0, len(p.holdings))
	for id := range p.holdings {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]model.Holding, 0, len(ids))
	for _, id := range ids {
		l := p.holdings[id]
		h := model.Holding{FundID: id, Shares: l.TotalShares(), Cost: l.TotalCost()}
		if q, ok := p.prices.AsOf(id, day); ok {
			h.Price = q.NAV
			h.MarketValue = h.Shares.Mul(q.NAV).Round(AmountScale)
		}
		out = append(out, h)
	}
	return out
}
