package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists audit history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets reporting tools read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite audit recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recompute_runs (
			id          TEXT PRIMARY KEY,
			manager_id  TEXT NOT NULL,
			fof_id      TEXT NOT NULL,
			from_date   TEXT NOT NULL,
			to_date     TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			status      TEXT NOT NULL,
			records     INTEGER NOT NULL,
			carry       TEXT NOT NULL,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_fund ON recompute_runs(manager_id, fof_id, started_at)`,

		`CREATE TABLE IF NOT EXISTS nav_adjustments (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			manager_id  TEXT NOT NULL,
			fof_id      TEXT NOT NULL,
			date        TEXT NOT NULL,
			amount      TEXT NOT NULL,
			reason      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustments_fund ON nav_adjustments(manager_id, fof_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_adjustments_id ON nav_adjustments(id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRun(run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO recompute_runs
		(id, manager_id, fof_id, from_date, to_date, started_at, duration_ms, status, records, carry, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ManagerID, run.FofID,
		run.From.Format(time.DateOnly), run.To.Format(time.DateOnly),
		run.StartedAt.UnixMilli(), run.Duration.Milliseconds(),
		run.Status, run.Records, run.Carry.String(), run.Error,
	)
	return err
}

// RecordAdjustment stores an applied adjustment the first time its id is
// seen; later runs applying it again leave the row as first recorded.
func (r *SQLiteRecorder) RecordAdjustment(adj *Adjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO nav_adjustments
		(id, recorded_at, manager_id, fof_id, date, amount, reason)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		adj.ID, time.Now().UnixMilli(), adj.ManagerID, adj.FofID,
		adj.Date.Format(time.DateOnly), adj.Amount.String(), adj.Reason,
	)
	return err
}

// Runs returns a fund's most recent runs, newest first.
func (r *SQLiteRecorder) Runs(managerID, fofID string, limit int) ([]Run, error) {
	rows, err := r.db.Query(`SELECT id, from_date, to_date, started_at, duration_ms, status, records, carry, COALESCE(error, '')
		FROM recompute_runs WHERE manager_id = ? AND fof_id = ?
		ORDER BY started_at DESC LIMIT ?`, managerID, fofID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run          Run
			from, to     string
			started, dur int64
			carry        string
		)
		if err := rows.Scan(&run.ID, &from, &to, &started, &dur, &run.Status, &run.Records, &carry, &run.Error); err != nil {
			return nil, err
		}
		run.ManagerID, run.FofID = managerID, fofID
		if run.From, err = time.Parse(time.DateOnly, from); err != nil {
			return nil, err
		}
		if run.To, err = time.Parse(time.DateOnly, to); err != nil {
			return nil, err
		}
		run.StartedAt = time.UnixMilli(started).UTC()
		run.Duration = time.Duration(dur) * time.Millisecond
		if run.Carry, err = decimal.NewFromString(carry); err != nil {
			return nil, fmt.Errorf("run %s carry: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	slog.Info("closing sqlite audit recorder")
	return r.db.Close()
}
