// Package store defines the persistence interface for the NAV engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/fof-nav/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Fund configuration ---

	// GetFundConfig returns the configuration of one FOF.
	GetFundConfig(ctx context.Context, managerID, fofID string) (*model.FundConfig, error)

	// SaveFundConfig creates or replaces a FOF's configuration.
	SaveFundConfig(ctx context.Context, cfg *model.FundConfig) error

	// --- Immutable event log ---

	// InsertEvents appends trade events. Existing events are never updated.
	InsertEvents(ctx context.Context, rows []model.Row) error

	// DeleteEvent removes a mis-recorded event so it can be re-inserted.
	DeleteEvent(ctx context.Context, id string) error

	// GetEvents returns every event traded in or by fofID, oldest first.
	GetEvents(ctx context.Context, fofID string) ([]model.Row, error)

	// --- Market data ---

	// InsertPrices upserts published NAVs by (fund, date).
	InsertPrices(ctx context.Context, quotes []model.PriceQuote) error

	// GetPrices returns the quotes of fundIDs dated on or before `to`.
	GetPrices(ctx context.Context, fundIDs []string, to time.Time) ([]model.PriceQuote, error)

	// InsertTradingDays adds dates to the trading calendar.
	InsertTradingDays(ctx context.Context, days []time.Time) error

	// GetTradingDays returns the trading days in [from, to], ascending.
	GetTradingDays(ctx context.Context, from, to time.Time) ([]time.Time, error)

	// --- Manual corrections ---

	// InsertAdjustment records a manual audit correction.
	InsertAdjustment(ctx context.Context, a *model.Adjustment) error

	// GetAdjustments returns a FOF's corrections, by date.
	GetAdjustments(ctx context.Context, managerID, fofID string) ([]model.Adjustment, error)

	// --- Results ---

	// ReplaceResults atomically swaps a FOF's records dated in [from, to]
	// and all its investor summaries. Readers see either the old or the
	// new series, never a mix.
	ReplaceResults(ctx context.Context, managerID, fofID string, from, to time.Time,
		records []model.NAVRecord, summaries []model.InvestorSummary) error

	// GetNAVRecords returns a FOF's records dated in [from, to], by date.
	GetNAVRecords(ctx context.Context, managerID, fofID string, from, to time.Time) ([]model.NAVRecord, error)

	// GetInvestorSummaries returns a FOF's investor summaries, by investor.
	GetInvestorSummaries(ctx context.Context, managerID, fofID string) ([]model.InvestorSummary, error)
}
