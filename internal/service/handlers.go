package service

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/fof-nav/internal/adjust"
	"github.com/atmx/fof-nav/internal/audit"
	"github.com/atmx/fof-nav/internal/engine"
	"github.com/atmx/fof-nav/internal/metrics"
	"github.com/atmx/fof-nav/internal/model"
	"github.com/atmx/fof-nav/internal/store"
)

// API serves the HTTP interface of the NAV engine.
type API struct {
	store    store.Store
	runner   *Runner
	recorder audit.Recorder
}

// NewAPI creates the HTTP handlers.
func NewAPI(st store.Store, runner *Runner, rec audit.Recorder) *API {
	if rec == nil {
		rec = audit.NewNoopRecorder()
	}
	return &API{store: st, runner: runner, recorder: rec}
}

// Routes registers every endpoint under r (usually mounted at /api/v1).
func (a *API) Routes(r chi.Router) {
	r.Route("/funds/{managerID}/{fofID}", func(r chi.Router) {
		r.Get("/config", a.GetConfig)
		r.Put("/config", a.PutConfig)
		r.Post("/recompute", a.Recompute)
		r.Get("/navs", a.GetNAVs)
		r.Get("/adjusted", a.GetAdjusted)
		r.Get("/investors", a.GetInvestors)
		r.Get("/runs", a.GetRuns)
		r.Post("/adjustments", a.PostAdjustment)
	})

	r.Post("/events", a.PostEvents)
	r.Delete("/events/{eventID}", a.DeleteEvent)
	r.Post("/prices", a.PostPrices)
	r.Post("/calendar", a.PostCalendar)
}

// --- Request types ---

// RecomputeRequest is the JSON body for POST .../recompute. Dates are
// YYYY-MM-DD; `to` defaults to today and `from` to `to`.
type RecomputeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AdjustmentRequest is the JSON body for POST .../adjustments.
type AdjustmentRequest struct {
	Date   string          `json:"date"`
	Amount json.RawMessage `json:"amount"`
	Reason string          `json:"reason"`
}

// --- Fund configuration ---

// GetConfig handles GET /api/v1/funds/{managerID}/{fofID}/config
func (a *API) GetConfig(w http.ResponseWriter, r *http.Request) {
	t := target(r)
	cfg, err := a.store.GetFundConfig(r.Context(), t.ManagerID, t.FofID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "fund not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load fund config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutConfig handles PUT /api/v1/funds/{managerID}/{fofID}/config
// The configuration is checked the same way a run checks it before saving.
func (a *API) PutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.FundConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t := target(r)
	cfg.ManagerID, cfg.FofID = t.ManagerID, t.FofID
	if cfg.EstablishedOn.IsZero() {
		writeError(w, "established_on is required", http.StatusBadRequest)
		return
	}
	if _, err := engine.NewCompounder(cfg); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := engine.NewProcessor(cfg, nil); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.store.SaveFundConfig(r.Context(), &cfg); err != nil {
		writeError(w, "failed to save fund config", http.StatusInternalServerError)
		return
	}
	slog.Info("fund config saved", "manager", cfg.ManagerID, "fof", cfg.FofID)
	writeJSON(w, http.StatusOK, cfg)
}

// --- Recompute ---

// Recompute handles POST /api/v1/funds/{managerID}/{fofID}/recompute
func (a *API) Recompute(w http.ResponseWriter, r *http.Request) {
	var body RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	to := model.Day(time.Now())
	if body.To != "" {
		d, err := time.Parse(time.DateOnly, body.To)
		if err != nil {
			writeError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = d
	}
	from := to
	if body.From != "" {
		d, err := time.Parse(time.DateOnly, body.From)
		if err != nil {
			writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = d
	}

	out, err := a.runner.Recompute(r.Context(), Request{Target: target(r), From: from, To: to})
	if err != nil {
		writeError(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Results ---

// GetNAVs handles GET /api/v1/funds/{managerID}/{fofID}/navs?from=&to=
// Without a range the whole series is returned.
func (a *API) GetNAVs(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}

	t := target(r)
	records, err := a.store.GetNAVRecords(r.Context(), t.ManagerID, t.FofID, from, to)
	if err != nil {
		writeError(w, "failed to load nav records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.NAVRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetAdjusted handles GET /api/v1/funds/{managerID}/{fofID}/adjusted?from=&to=&predecessor=
// It returns the adjusted NAV series. With predecessor=manager/fof the series
// is stitched onto the predecessor fund's at their first common date and
// rescaled to continue it; the predecessor's history up to that date is
// returned in full.
func (a *API) GetAdjusted(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	t := target(r)
	records, err := a.store.GetNAVRecords(r.Context(), t.ManagerID, t.FofID, from, to)
	if err != nil {
		writeError(w, "failed to load nav records", http.StatusInternalServerError)
		return
	}
	series := adjustedSeries(records)

	if v := r.URL.Query().Get("predecessor"); v != "" {
		manager, fof, found := strings.Cut(v, "/")
		if !found || manager == "" || fof == "" {
			writeError(w, "predecessor must be manager/fof", http.StatusBadRequest)
			return
		}
		prior, err := a.store.GetNAVRecords(r.Context(), manager, fof, time.Time{}, to)
		if err != nil {
			writeError(w, "failed to load predecessor nav records", http.StatusInternalServerError)
			return
		}
		if series, err = adjust.Chain(adjustedSeries(prior), series); err != nil {
			writeError(w, err.Error(), statusOf(err))
			return
		}
	}
	writeJSON(w, http.StatusOK, series)
}

func adjustedSeries(records []model.NAVRecord) []adjust.Point {
	out := make([]adjust.Point, len(records))
	for i, r := range records {
		out[i] = adjust.Point{Date: r.Date, Value: r.AdjustedNAV}
	}
	return out
}

// GetInvestors handles GET /api/v1/funds/{managerID}/{fofID}/investors
func (a *API) GetInvestors(w http.ResponseWriter, r *http.Request) {
	t := target(r)
	summaries, err := a.store.GetInvestorSummaries(r.Context(), t.ManagerID, t.FofID)
	if err != nil {
		writeError(w, "failed to load investor summaries", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []model.InvestorSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetRuns handles GET /api/v1/funds/{managerID}/{fofID}/runs?limit=
func (a *API) GetRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	t := target(r)
	runs, err := a.recorder.Runs(t.ManagerID, t.FofID, limit)
	if err != nil {
		writeError(w, "failed to load runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []audit.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// --- Inputs ---

// PostEvents handles POST /api/v1/events
// Appends trade events. Events without an id get one. The whole batch is
// rejected if any event is malformed.
func (a *API) PostEvents(w http.ResponseWriter, r *http.Request) {
	var rows []model.Row
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(rows) == 0 {
		writeError(w, "no events", http.StatusBadRequest)
		return
	}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.New().String()
		}
		if _, err := model.ParseRow(rows[i]); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := a.store.InsertEvents(r.Context(), rows); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	for _, row := range rows {
		metrics.EventsIngested.WithLabelValues(string(row.Type)).Inc()
	}
	slog.Info("events recorded", "count", len(rows))
	writeJSON(w, http.StatusCreated, rows)
}

// DeleteEvent handles DELETE /api/v1/events/{eventID}
func (a *API) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventID")
	if err := a.store.DeleteEvent(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "event not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to delete event", http.StatusInternalServerError)
		return
	}
	slog.Warn("event deleted", "event", id)
	w.WriteHeader(http.StatusNoContent)
}

// PostPrices handles POST /api/v1/prices
func (a *API) PostPrices(w http.ResponseWriter, r *http.Request) {
	var quotes []model.PriceQuote
	if err := json.NewDecoder(r.Body).Decode(&quotes); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for _, q := range quotes {
		if q.FundID == "" || q.Date.IsZero() || !q.NAV.IsPositive() {
			writeError(w, "each quote needs fund_id, date and a positive nav", http.StatusBadRequest)
			return
		}
	}
	if err := a.store.InsertPrices(r.Context(), quotes); err != nil {
		writeError(w, "failed to store prices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"quotes": len(quotes)})
}

// PostCalendar handles POST /api/v1/calendar with a list of YYYY-MM-DD dates.
func (a *API) PostCalendar(w http.ResponseWriter, r *http.Request) {
	var dates []string
	if err := json.NewDecoder(r.Body).Decode(&dates); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	days := make([]time.Time, 0, len(dates))
	for _, s := range dates {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			writeError(w, "dates must be YYYY-MM-DD: "+s, http.StatusBadRequest)
			return
		}
		days = append(days, d)
	}
	if err := a.store.InsertTradingDays(r.Context(), days); err != nil {
		writeError(w, "failed to store trading days", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"days": len(days)})
}

// PostAdjustment handles POST /api/v1/funds/{managerID}/{fofID}/adjustments
// A manual correction needs a reason; it is applied at the next recompute.
func (a *API) PostAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	t := target(r)
	adj := model.Adjustment{
		ID:        uuid.New().String(),
		ManagerID: t.ManagerID,
		FofID:     t.FofID,
		Date:      date,
		Reason:    req.Reason,
	}
	if err := adj.Amount.UnmarshalJSON(req.Amount); err != nil || adj.Amount.IsZero() {
		writeError(w, "amount must be a non-zero number", http.StatusBadRequest)
		return
	}
	if adj.Reason == "" {
		writeError(w, "reason is required", http.StatusBadRequest)
		return
	}

	if err := a.store.InsertAdjustment(r.Context(), &adj); err != nil {
		writeError(w, "failed to store adjustment", http.StatusInternalServerError)
		return
	}
	slog.Warn("manual adjustment recorded",
		"manager", adj.ManagerID,
		"fof", adj.FofID,
		"date", req.Date,
		"amount", adj.Amount.String(),
		"reason", adj.Reason,
	)
	writeJSON(w, http.StatusCreated, adj)
}

// --- helpers ---

// dateRange parses the optional from/to query parameters. Without them the
// range is unbounded. On a bad date it writes a 400 and returns false.
func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, to := time.Time{}, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return from, to, false
		}
		from = d
	}
	if v := q.Get("to"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return from, to, false
		}
		to = d
	}
	return from, to, true
}

func target(r *http.Request) Target {
	return Target{ManagerID: chi.URLParam(r, "managerID"), FofID: chi.URLParam(r, "fofID")}
}

// statusOf maps a run error to an HTTP status.
func statusOf(err error) int {
	switch model.KindOf(err) {
	case model.ErrConfiguration:
		return http.StatusBadRequest
	case model.ErrDataIntegrity, model.ErrPrecheck:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
