// Package model defines the core domain types shared across the NAV engine.
// All monetary values, share counts and NAVs use shopspring/decimal, never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CarryCalcType tags when a lot is charged performance fee.
type CarryCalcType string

const (
	// CarryRegular lots are charged at fee-deduction events and at redemption.
	CarryRegular CarryCalcType = "regular"
	// CarryAtRedemption lots are only charged when their shares are redeemed.
	CarryAtRedemption CarryCalcType = "redemption"
)

// Lot is a purchase tranche of fund shares held by one investor.
// Shares only ever go down; reinvested dividends open a new lot.
type Lot struct {
	FundID           string          `json:"fund_id"`
	InvestorID       string          `json:"investor_id"`
	AcquiredAt       time.Time       `json:"acquired_at"`
	Shares           decimal.Decimal `json:"shares"`
	WaterLine        decimal.Decimal `json:"water_line"`          // acc-NAV threshold for carry
	AccNAVAtPurchase decimal.Decimal `json:"acc_nav_at_purchase"` // profit is measured from here
	Cost             decimal.Decimal `json:"cost"`                // cash paid for the remaining shares
	CalcType         CarryCalcType   `json:"carry_calc_type"`
}

// FeeRate is an annual fee rate with a minimum fee base.
type FeeRate struct {
	Rate    decimal.Decimal `json:"rate" yaml:"rate"`
	MinBase decimal.Decimal `json:"min_base" yaml:"min_base"`
}

// IncentiveTerms describes a performance-fee arrangement in its stored form.
// Mode is one of SCST, INTE (HYBR is recognised but rejected); Schedule is
// "flat:<ratio>" or "tiered:<start>@<rate>,...".
type IncentiveTerms struct {
	Mode     string `json:"mode" yaml:"mode"`
	Schedule string `json:"schedule" yaml:"schedule"`
}

// IsZero reports whether no incentive fee is configured.
func (t IncentiveTerms) IsZero() bool { return t.Mode == "" && t.Schedule == "" }

// FundConfig holds everything the engine needs to know about one FOF.
type FundConfig struct {
	ManagerID     string          `json:"manager_id" yaml:"manager_id"`
	FofID         string          `json:"fof_id" yaml:"fof_id"`
	EstablishedOn time.Time       `json:"established_on" yaml:"established_on"`

	Management FeeRate `json:"management" yaml:"management"`
	Custodian  FeeRate `json:"custodian" yaml:"custodian"`
	Admin      FeeRate `json:"admin" yaml:"admin"`
	DaysInYear int     `json:"days_in_year" yaml:"days_in_year"` // 0 → 365

	DepositRate decimal.Decimal `json:"deposit_rate" yaml:"deposit_rate"` // annual, accrued /360

	Incentive       IncentiveTerms            `json:"incentive" yaml:"incentive"`
	CarryOnDividend bool                      `json:"carry_on_dividend" yaml:"carry_on_dividend"`
	SubFunds        map[string]IncentiveTerms `json:"sub_funds" yaml:"sub_funds"` // carry charged to the FOF by sub-fund managers
}

// PriceQuote is a published NAV of a held sub-fund on one date.
type PriceQuote struct {
	FundID string          `json:"fund_id" db:"fund_id"`
	Date   time.Time       `json:"date" db:"date"`
	NAV    decimal.Decimal `json:"nav" db:"nav"`
	AccNAV decimal.Decimal `json:"acc_nav" db:"acc_nav"`
}

// Adjustment is a manual audit correction to the FOF's cash on one date.
type Adjustment struct {
	ID        string          `json:"id" db:"id"`
	ManagerID string          `json:"manager_id" db:"manager_id"`
	FofID     string          `json:"fof_id" db:"fof_id"`
	Date      time.Time       `json:"date" db:"date"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed
	Reason    string          `json:"reason" db:"reason"`
}

// NAVRecord is the official valuation of a FOF on one date.
// Keyed by (ManagerID, FofID, Date); replaced only by full recomputation.
type NAVRecord struct {
	ManagerID string    `json:"manager_id" db:"manager_id"`
	FofID     string    `json:"fof_id" db:"fof_id"`
	Date      time.Time `json:"date" db:"date"`

	NAV         decimal.Decimal `json:"nav" db:"nav"`
	AccNAV      decimal.Decimal `json:"acc_net_value" db:"acc_net_value"`
	AdjustedNAV decimal.Decimal `json:"adjusted_nav" db:"adjusted_nav"`
	TAFactor    decimal.Decimal `json:"ta_factor" db:"ta_factor"`

	NetAssets     decimal.Decimal `json:"net_asset_fixed" db:"net_asset_fixed"`
	Shares        decimal.Decimal `json:"share" db:"share"`
	PositionValue decimal.Decimal `json:"position_value" db:"position_value"`
	Cash          decimal.Decimal `json:"cash" db:"cash"`

	ManagementFee decimal.Decimal `json:"management_fee" db:"management_fee"`
	CustodianFee  decimal.Decimal `json:"custodian_fee" db:"custodian_fee"`
	AdminFee      decimal.Decimal `json:"admin_fee" db:"admin_fee"`
	Interest      decimal.Decimal `json:"interest" db:"interest"`
	Carry         decimal.Decimal `json:"carry" db:"carry"`
	Adjustment    decimal.Decimal `json:"adjustment" db:"adjustment"`

	SharesSubscribed decimal.Decimal `json:"shares_subscribed" db:"shares_subscribed"`
	SharesRedeemed   decimal.Decimal `json:"shares_redeemed" db:"shares_redeemed"`
	SharesFee        decimal.Decimal `json:"shares_fee" db:"shares_fee"`
	SharesReinvested decimal.Decimal `json:"shares_reinvested" db:"shares_reinvested"`
	DividendPerShare decimal.Decimal `json:"dividend_per_share" db:"dividend_per_share"`
}

// InvestorSummary is the position and return of one investor in a FOF.
type InvestorSummary struct {
	ManagerID    string          `json:"manager_id" db:"manager_id"`
	FofID        string          `json:"fof_id" db:"fof_id"`
	InvestorID   string          `json:"investor_id" db:"investor_id"`
	AsOf         time.Time       `json:"as_of" db:"as_of"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	Cost         decimal.Decimal `json:"cost" db:"cost"`                     // total subscribed
	Redeemed     decimal.Decimal `json:"redeemed" db:"redeemed"`             // total redemption payout
	DividendCash decimal.Decimal `json:"dividend_cash" db:"dividend_cash"`   // net cash dividends
	CarryPaid    decimal.Decimal `json:"carry_paid" db:"carry_paid"`         // performance fees charged
	MarketValue  decimal.Decimal `json:"market_value" db:"market_value"`     // shares × NAV
	Profit       decimal.Decimal `json:"profit" db:"profit"`                 // value + redeemed + dividends − cost
	Return       decimal.Decimal `json:"return" db:"return"`                 // profit / cost
	WaterLine    decimal.Decimal `json:"water_line" db:"water_line"`         // highest open-lot water-line
}

// Holding is the FOF's position in one sub-fund on a date.
type Holding struct {
	FundID      string          `json:"fund_id"`
	Shares      decimal.Decimal `json:"shares"`
	Cost        decimal.Decimal `json:"cost"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
