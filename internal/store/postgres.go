package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/fof-nav/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS fund_configs (
	manager_id TEXT NOT NULL,
	fof_id     TEXT NOT NULL,
	config     JSONB NOT NULL,
	PRIMARY KEY (manager_id, fof_id)
);
CREATE TABLE IF NOT EXISTS trade_events (
	id              TEXT PRIMARY KEY,
	datetime        TIMESTAMPTZ NOT NULL,
	fund_id         TEXT NOT NULL,
	investor_id     TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	share_changed   NUMERIC NOT NULL DEFAULT 0,
	amount          NUMERIC NOT NULL DEFAULT 0,
	net_asset_value NUMERIC NOT NULL DEFAULT 0,
	acc_unit_value  NUMERIC NOT NULL DEFAULT 0,
	water_line      NUMERIC NOT NULL DEFAULT 0,
	carry_calc_type TEXT NOT NULL DEFAULT 'regular'
);
CREATE INDEX IF NOT EXISTS trade_events_fund ON trade_events (fund_id, datetime);
CREATE INDEX IF NOT EXISTS trade_events_investor ON trade_events (investor_id, datetime);
CREATE TABLE IF NOT EXISTS fund_prices (
	fund_id TEXT NOT NULL,
	date    DATE NOT NULL,
	nav     NUMERIC NOT NULL,
	acc_nav NUMERIC NOT NULL,
	PRIMARY KEY (fund_id, date)
);
CREATE TABLE IF NOT EXISTS trading_days (
	date DATE PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS nav_adjustments (
	id         TEXT PRIMARY KEY,
	manager_id TEXT NOT NULL,
	fof_id     TEXT NOT NULL,
	date       DATE NOT NULL,
	amount     NUMERIC NOT NULL,
	reason     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fof_nav_records (
	manager_id        TEXT NOT NULL,
	fof_id            TEXT NOT NULL,
	date              DATE NOT NULL,
	nav               NUMERIC NOT NULL,
	acc_net_value     NUMERIC NOT NULL,
	adjusted_nav      NUMERIC NOT NULL,
	ta_factor         NUMERIC NOT NULL,
	net_asset_fixed   NUMERIC NOT NULL,
	share             NUMERIC NOT NULL,
	position_value    NUMERIC NOT NULL,
	cash              NUMERIC NOT NULL,
	management_fee    NUMERIC NOT NULL,
	custodian_fee     NUMERIC NOT NULL,
	admin_fee         NUMERIC NOT NULL,
	interest          NUMERIC NOT NULL,
	carry             NUMERIC NOT NULL,
	adjustment        NUMERIC NOT NULL,
	shares_subscribed NUMERIC NOT NULL,
	shares_redeemed   NUMERIC NOT NULL,
	shares_fee        NUMERIC NOT NULL,
	shares_reinvested NUMERIC NOT NULL,
	dividend_per_share NUMERIC NOT NULL,
	PRIMARY KEY (manager_id, fof_id, date)
);
CREATE TABLE IF NOT EXISTS investor_summaries (
	manager_id    TEXT NOT NULL,
	fof_id        TEXT NOT NULL,
	investor_id   TEXT NOT NULL,
	as_of         DATE NOT NULL,
	shares        NUMERIC NOT NULL,
	cost          NUMERIC NOT NULL,
	redeemed      NUMERIC NOT NULL,
	dividend_cash NUMERIC NOT NULL,
	carry_paid    NUMERIC NOT NULL,
	market_value  NUMERIC NOT NULL,
	profit        NUMERIC NOT NULL,
	total_return  NUMERIC NOT NULL,
	water_line    NUMERIC NOT NULL,
	PRIMARY KEY (manager_id, fof_id, investor_id)
);`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- Fund configuration ---

func (s *PostgresStore) GetFundConfig(ctx context.Context, managerID, fofID string) (*model.FundConfig, error) {
	var cfg model.FundConfig
	err := s.pool.QueryRow(ctx,
		`SELECT config FROM fund_configs WHERE manager_id = $1 AND fof_id = $2`,
		managerID, fofID).Scan(&cfg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fund %s/%s: %w", managerID, fofID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fund config %s/%s: %w", managerID, fofID, err)
	}
	return &cfg, nil
}

func (s *PostgresStore) SaveFundConfig(ctx context.Context, cfg *model.FundConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fund_configs (manager_id, fof_id, config) VALUES ($1, $2, $3)
		 ON CONFLICT (manager_id, fof_id) DO UPDATE SET config = EXCLUDED.config`,
		cfg.ManagerID, cfg.FofID, cfg)
	return err
}

// --- Immutable event log ---

func (s *PostgresStore) InsertEvents(ctx context.Context, rows []model.Row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO trade_events (id, datetime, fund_id, investor_id, event_type,
			        share_changed, amount, net_asset_value, acc_unit_value, water_line, carry_calc_type)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
			r.ID, r.At, r.FundID, r.InvestorID, string(r.Type),
			r.ShareChanged.String(), r.Amount.String(), r.NAV.String(), r.AccNAV.String(), r.WaterLine.String(),
			calcType(r.CalcType),
		)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func calcType(c model.CarryCalcType) string {
	if c == "" {
		return string(model.CarryRegular)
	}
	return string(c)
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetEvents(ctx context.Context, fofID string) ([]model.Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, datetime, fund_id, investor_id, event_type,
		        share_changed::TEXT, amount::TEXT, net_asset_value::TEXT, acc_unit_value::TEXT,
		        water_line::TEXT, carry_calc_type
		 FROM trade_events WHERE fund_id = $1 OR investor_id = $1
		 ORDER BY datetime, id`, fofID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Row
	for rows.Next() {
		var r model.Row
		var typ, calc string
		var shares, amount, nav, acc, wl string
		if err := rows.Scan(&r.ID, &r.At, &r.FundID, &r.InvestorID, &typ,
			&shares, &amount, &nav, &acc, &wl, &calc); err != nil {
			return nil, err
		}
		r.Type = model.EventType(typ)
		r.CalcType = model.CarryCalcType(calc)
		r.ShareChanged, _ = decimal.NewFromString(shares)
		r.Amount, _ = decimal.NewFromString(amount)
		r.NAV, _ = decimal.NewFromString(nav)
		r.AccNAV, _ = decimal.NewFromString(acc)
		r.WaterLine, _ = decimal.NewFromString(wl)
		events = append(events, r)
	}
	return events, rows.Err()
}

// --- Market data ---

func (s *PostgresStore) InsertPrices(ctx context.Context, quotes []model.PriceQuote) error {
	batch := &pgx.Batch{}
	for _, q := range quotes {
		acc := q.AccNAV
		if acc.IsZero() {
			acc = q.NAV
		}
		batch.Queue(
			`INSERT INTO fund_prices (fund_id, date, nav, acc_nav) VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
			 ON CONFLICT (fund_id, date) DO UPDATE SET nav = EXCLUDED.nav, acc_nav = EXCLUDED.acc_nav`,
			q.FundID, model.Day(q.Date), q.NAV.String(), acc.String(),
		)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) GetPrices(ctx context.Context, fundIDs []string, to time.Time) ([]model.PriceQuote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fund_id, date, nav::TEXT, acc_nav::TEXT
		 FROM fund_prices WHERE fund_id = ANY($1) AND date <= $2
		 ORDER BY date, fund_id`, fundIDs, model.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []model.PriceQuote
	for rows.Next() {
		var q model.PriceQuote
		var nav, acc string
		if err := rows.Scan(&q.FundID, &q.Date, &nav, &acc); err != nil {
			return nil, err
		}
		q.Date = model.Day(q.Date)
		q.NAV, _ = decimal.NewFromString(nav)
		q.AccNAV, _ = decimal.NewFromString(acc)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *PostgresStore) InsertTradingDays(ctx context.Context, days []time.Time) error {
	batch := &pgx.Batch{}
	for _, d := range days {
		batch.Queue(`INSERT INTO trading_days (date) VALUES ($1) ON CONFLICT DO NOTHING`, model.Day(d))
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) GetTradingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date FROM trading_days WHERE date BETWEEN $1 AND $2 ORDER BY date`,
		model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, model.Day(d))
	}
	return days, rows.Err()
}

// --- Manual corrections ---

func (s *PostgresStore) InsertAdjustment(ctx context.Context, a *model.Adjustment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nav_adjustments (id, manager_id, fof_id, date, amount, reason)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		a.ID, a.ManagerID, a.FofID, model.Day(a.Date), a.Amount.String(), a.Reason,
	)
	return err
}

func (s *PostgresStore) GetAdjustments(ctx context.Context, managerID, fofID string) ([]model.Adjustment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, manager_id, fof_id, date, amount::TEXT, reason
		 FROM nav_adjustments WHERE manager_id = $1 AND fof_id = $2
		 ORDER BY date, id`, managerID, fofID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Adjustment
	for rows.Next() {
		var a model.Adjustment
		var amount string
		if err := rows.Scan(&a.ID, &a.ManagerID, &a.FofID, &a.Date, &amount, &a.Reason); err != nil {
			return nil, err
		}
		a.Date = model.Day(a.Date)
		a.Amount, _ = decimal.NewFromString(amount)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Results ---

// ReplaceResults deletes the range and inserts the new records in one
// transaction.
func (s *PostgresStore) ReplaceResults(ctx context.Context, managerID, fofID string, from, to time.Time,
	records []model.NAVRecord, summaries []model.InvestorSummary) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM fof_nav_records WHERE manager_id = $1 AND fof_id = $2 AND date BETWEEN $3 AND $4`,
		managerID, fofID, model.Day(from), model.Day(to))
	for _, r := range records {
		batch.Queue(
			`INSERT INTO fof_nav_records (manager_id, fof_id, date, nav, acc_net_value, adjusted_nav, ta_factor,
			        net_asset_fixed, share, position_value, cash, management_fee, custodian_fee, admin_fee,
			        interest, carry, adjustment, shares_subscribed, shares_redeemed, shares_fee,
			        shares_reinvested, dividend_per_share)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			        $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC,
			        $16::NUMERIC, $17::NUMERIC, $18::NUMERIC, $19::NUMERIC, $20::NUMERIC, $21::NUMERIC, $22::NUMERIC)`,
			managerID, fofID, model.Day(r.Date),
			r.NAV.String(), r.AccNAV.String(), r.AdjustedNAV.String(), r.TAFactor.String(),
			r.NetAssets.String(), r.Shares.String(), r.PositionValue.String(), r.Cash.String(),
			r.ManagementFee.String(), r.CustodianFee.String(), r.AdminFee.String(),
			r.Interest.String(), r.Carry.String(), r.Adjustment.String(),
			r.SharesSubscribed.String(), r.SharesRedeemed.String(), r.SharesFee.String(),
			r.SharesReinvested.String(), r.DividendPerShare.String(),
		)
	}
	batch.Queue(`DELETE FROM investor_summaries WHERE manager_id = $1 AND fof_id = $2`, managerID, fofID)
	for _, sm := range summaries {
		batch.Queue(
			`INSERT INTO investor_summaries (manager_id, fof_id, investor_id, as_of, shares, cost, redeemed,
			        dividend_cash, carry_paid, market_value, profit, total_return, water_line)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			        $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC)`,
			managerID, fofID, sm.InvestorID, model.Day(sm.AsOf),
			sm.Shares.String(), sm.Cost.String(), sm.Redeemed.String(), sm.DividendCash.String(),
			sm.CarryPaid.String(), sm.MarketValue.String(), sm.Profit.String(), sm.Return.String(),
			sm.WaterLine.String(),
		)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) GetNAVRecords(ctx context.Context, managerID, fofID string, from, to time.Time) ([]model.NAVRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date, nav::TEXT, acc_net_value::TEXT, adjusted_nav::TEXT, ta_factor::TEXT,
		        net_asset_fixed::TEXT, share::TEXT, position_value::TEXT, cash::TEXT,
		        management_fee::TEXT, custodian_fee::TEXT, admin_fee::TEXT, interest::TEXT,
		        carry::TEXT, adjustment::TEXT, shares_subscribed::TEXT, shares_redeemed::TEXT,
		        shares_fee::TEXT, shares_reinvested::TEXT, dividend_per_share::TEXT
		 FROM fof_nav_records
		 WHERE manager_id = $1 AND fof_id = $2 AND date BETWEEN $3 AND $4
		 ORDER BY date`, managerID, fofID, model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.NAVRecord
	for rows.Next() {
		r := model.NAVRecord{ManagerID: managerID, FofID: fofID}
		var v [19]string
		dest := []any{&r.Date}
		for i := range v {
			dest = append(dest, &v[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r.Date = model.Day(r.Date)
		fields := []*decimal.Decimal{
			&r.NAV, &r.AccNAV, &r.AdjustedNAV, &r.TAFactor,
			&r.NetAssets, &r.Shares, &r.PositionValue, &r.Cash,
			&r.ManagementFee, &r.CustodianFee, &r.AdminFee, &r.Interest,
			&r.Carry, &r.Adjustment, &r.SharesSubscribed, &r.SharesRedeemed,
			&r.SharesFee, &r.SharesReinvested, &r.DividendPerShare,
		}
		for i, f := range fields {
			*f, _ = decimal.NewFromString(v[i])
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetInvestorSummaries(ctx context.Context, managerID, fofID string) ([]model.InvestorSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT investor_id, as_of, shares::TEXT, cost::TEXT, redeemed::TEXT, dividend_cash::TEXT,
		        carry_paid::TEXT, market_value::TEXT, profit::TEXT, total_return::TEXT, water_line::TEXT
		 FROM investor_summaries WHERE manager_id = $1 AND fof_id = $2
		 ORDER BY investor_id`, managerID, fofID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InvestorSummary
	for rows.Next() {
		sm := model.InvestorSummary{ManagerID: managerID, FofID: fofID}
		var v [9]string
		if err := rows.Scan(&sm.InvestorID, &sm.AsOf,
			&v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &v[7], &v[8]); err != nil {
			return nil, err
		}
		sm.AsOf = model.Day(sm.AsOf)
		fields := []*decimal.Decimal{
			&sm.Shares, &sm.Cost, &sm.Redeemed, &sm.DividendCash,
			&sm.CarryPaid, &sm.MarketValue, &sm.Profit, &sm.Return, &sm.WaterLine,
		}
		for i, f := range fields {
			*f, _ = decimal.NewFromString(v[i])
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction, committing only if it succeeds.
func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
