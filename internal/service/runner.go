// Package service wires the NAV engine to its collaborators: it loads a
// fund's inputs from the store, runs the engine, persists the result
// atomically and reports the run to the audit log, metrics and WebSocket
// clients. It also exposes the HTTP API and the nightly schedule.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/fof-nav/internal/audit"
	"github.com/atmx/fof-nav/internal/engine"
	"github.com/atmx/fof-nav/internal/market"
	"github.com/atmx/fof-nav/internal/metrics"
	"github.com/atmx/fof-nav/internal/model"
	"github.com/atmx/fof-nav/internal/store"
)

// Target names one FOF.
type Target struct {
	ManagerID string `json:"manager_id" yaml:"manager_id"`
	FofID     string `json:"fof_id" yaml:"fof_id"`
}

// Request asks for the records of one FOF dated in [From, To].
type Request struct {
	Target
	From time.Time
	To   time.Time
}

// Outcome describes a successful run.
type Outcome struct {
	RunID     string                  `json:"run_id"`
	ManagerID string                  `json:"manager_id"`
	FofID     string                  `json:"fof_id"`
	From      time.Time               `json:"from"`
	To        time.Time               `json:"to"`
	Records   int                     `json:"records"`
	Carry     decimal.Decimal         `json:"carry"`
	LatestNAV decimal.Decimal         `json:"latest_nav"`
	Holdings  []model.Holding         `json:"holdings"`
	Summaries []model.InvestorSummary `json:"investors"`
}

// Runner recomputes funds. Runs of the same fund are serialized; different
// funds run independently.
type Runner struct {
	store    store.Store
	recorder audit.Recorder
	hub      *Hub // optional WebSocket hub for run notifications

	locks sync.Map // Target → *sync.Mutex
}

// NewRunner creates a recompute runner.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewRunner(st store.Store, rec audit.Recorder, hub *Hub) *Runner {
	if rec == nil {
		rec = audit.NewNoopRecorder()
	}
	return &Runner{store: st, recorder: rec, hub: hub}
}

func (r *Runner) lock(t Target) func() {
	m, _ := r.locks.LoadOrStore(t, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Recompute replays one FOF and replaces its stored records in
// [req.From, req.To] and its investor summaries. On any failure nothing is
// persisted.
func (r *Runner) Recompute(ctx context.Context, req Request) (*Outcome, error) {
	defer r.lock(req.Target)()

	runID := uuid.New().String()
	from, to := model.Day(req.From), model.Day(req.To)
	log := slog.With("run", runID, "manager", req.ManagerID, "fof", req.FofID)
	log.Info("recompute started", "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))

	start := time.Now()
	res, err := r.run(ctx, req.Target, from, to, log)
	elapsed := time.Since(start)
	metrics.RecomputeDuration.Observe(elapsed.Seconds())

	run := &audit.Run{
		ID:        runID,
		ManagerID: req.ManagerID,
		FofID:     req.FofID,
		From:      from,
		To:        to,
		StartedAt: start.UTC(),
		Duration:  elapsed,
	}
	msg := Message{
		RunID:     runID,
		ManagerID: req.ManagerID,
		FofID:     req.FofID,
		From:      from.Format(time.DateOnly),
		To:        to.Format(time.DateOnly),
	}

	if err != nil {
		run.Status, run.Error = audit.StatusFailed, err.Error()
		r.record(run, log)
		metrics.RecomputesTotal.WithLabelValues(audit.StatusFailed).Inc()
		metrics.RecomputeFailures.WithLabelValues(kindLabel(err)).Inc()
		log.Error("recompute failed", "err", err, "kind", kindLabel(err))

		msg.Type, msg.Error = MsgRunFailed, err.Error()
		r.notify(msg)
		return nil, err
	}

	out := &Outcome{
		RunID:     runID,
		ManagerID: req.ManagerID,
		FofID:     req.FofID,
		From:      from,
		To:        to,
		Records:   len(res.Records),
		Carry:     decimal.Zero,
		Holdings:  res.Holdings,
		Summaries: res.Summaries,
	}
	for _, rec := range res.Records {
		out.Carry = out.Carry.Add(rec.Carry)
	}
	if n := len(res.Records); n > 0 {
		out.LatestNAV = res.Records[n-1].NAV
		metrics.LatestNAV.WithLabelValues(req.FofID).Set(out.LatestNAV.InexactFloat64())
	}

	run.Status, run.Records, run.Carry = audit.StatusOK, out.Records, out.Carry
	r.record(run, log)
	for _, a := range res.Adjustments {
		if err := r.recorder.RecordAdjustment(&audit.Adjustment{
			ID:        a.ID,
			ManagerID: a.ManagerID,
			FofID:     a.FofID,
			Date:      a.Date,
			Amount:    a.Amount,
			Reason:    a.Reason,
		}); err != nil {
			log.Error("audit adjustment failed", "err", err, "adjustment", a.ID)
		}
	}

	metrics.RecomputesTotal.WithLabelValues(audit.StatusOK).Inc()
	metrics.RecordsWritten.Add(float64(out.Records))
	metrics.CarryCharged.WithLabelValues(req.FofID).Add(out.Carry.InexactFloat64())

	log.Info("recompute finished",
		"records", out.Records,
		"latest_nav", out.LatestNAV.String(),
		"carry", out.Carry.String(),
		"elapsed", elapsed,
	)

	msg.Type, msg.NAV, msg.Records = MsgRunCompleted, out.LatestNAV.String(), out.Records
	r.notify(msg)
	return out, nil
}

// run loads the inputs, runs the engine and persists the result.
func (r *Runner) run(ctx context.Context, t Target, from, to time.Time, log *slog.Logger) (*engine.Result, error) {
	cfg, err := r.store.GetFundConfig(ctx, t.ManagerID, t.FofID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.Configuration(t.FofID, "fund %s/%s is not configured", t.ManagerID, t.FofID)
		}
		return nil, fmt.Errorf("load fund config: %w", err)
	}

	rows, err := r.store.GetEvents(ctx, t.FofID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := model.ParseRow(row)
		if err != nil {
			return nil, model.Locate(err, t.FofID, row.FundID, row.InvestorID, row.At)
		}
		events = append(events, ev)
	}

	quotes, err := r.store.GetPrices(ctx, subFunds(cfg, rows), to)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	days, err := r.store.GetTradingDays(ctx, time.Time{}, to)
	if err != nil {
		return nil, fmt.Errorf("load trading days: %w", err)
	}
	adjustments, err := r.store.GetAdjustments(ctx, t.ManagerID, t.FofID)
	if err != nil {
		return nil, fmt.Errorf("load adjustments: %w", err)
	}

	res, err := engine.Run(engine.Inputs{
		Config:      *cfg,
		Events:      events,
		Prices:      market.NewPriceBook(quotes),
		Calendar:    market.NewCalendar(days),
		Adjustments: adjustments,
		Logger:      log,
	}, from, to)
	if err != nil {
		return nil, err
	}

	if err := r.store.ReplaceResults(ctx, t.ManagerID, t.FofID, from, to, res.Records, res.Summaries); err != nil {
		return nil, fmt.Errorf("persist results: %w", err)
	}
	return res, nil
}

// subFunds lists every fund the FOF traded or has carry terms for.
func subFunds(cfg *model.FundConfig, rows []model.Row) []string {
	var ids []string
	for _, row := range rows {
		if row.InvestorID == cfg.FofID && row.FundID != cfg.FofID {
			ids = append(ids, row.FundID)
		}
	}
	for id := range cfg.SubFunds {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (r *Runner) record(run *audit.Run, log *slog.Logger) {
	if err := r.recorder.RecordRun(run); err != nil {
		log.Error("audit run failed", "err", err)
	}
}

func (r *Runner) notify(msg Message) {
	if r.hub != nil {
		r.hub.Broadcast(msg)
	}
}

// BatchResult is the outcome of one fund in a batch.
type BatchResult struct {
	Request Request
	Outcome *Outcome
	Err     error
}

// RecomputeAll runs every request, at most `parallel` at a time. Funds are
// independent: one failure does not stop the others.
func (r *Runner) RecomputeAll(ctx context.Context, reqs []Request, parallel int) []BatchResult {
	results := make([]BatchResult, len(reqs))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			out, err := r.Recompute(ctx, req)
			results[i] = BatchResult{Request: req, Outcome: out, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// kindLabel maps an error to its metrics label.
func kindLabel(err error) string {
	switch model.KindOf(err) {
	case model.ErrDataIntegrity:
		return "data_integrity"
	case model.ErrPrecheck:
		return "precheck"
	case model.ErrConfiguration:
		return "configuration"
	}
	return "internal"
}
