// Package audit keeps a local history of recompute runs and manual
// NAV adjustments for later review.
package audit

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run status values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run describes one recompute of one FOF.
type Run struct {
	ID        string          `json:"id"`
	ManagerID string          `json:"manager_id"`
	FofID     string          `json:"fof_id"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration_ns"`
	Status    string          `json:"status"`
	Records   int             `json:"records"`
	Carry     decimal.Decimal `json:"carry"`
	Error     string          `json:"error,omitempty"`
}

// Adjustment records a manual correction applied to net assets.
type Adjustment struct {
	ID        string
	ManagerID string
	FofID     string
	Date      time.Time
	Amount    decimal.Decimal
	Reason    string
}

// Recorder persists audit history.
type Recorder interface {
	RecordRun(run *Run) error
	RecordAdjustment(adj *Adjustment) error
	Runs(managerID, fofID string, limit int) ([]Run, error)
	Close() error
}
