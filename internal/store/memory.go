package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/atmx/fof-nav/internal/model"
)

type fundKey struct{ managerID, fofID string }

type priceKey struct {
	fundID string
	date   time.Time
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	configs     map[fundKey]model.FundConfig
	events      []model.Row
	prices      map[priceKey]model.PriceQuote
	days        map[time.Time]struct{}
	adjustments []model.Adjustment
	records     map[fundKey][]model.NAVRecord
	summaries   map[fundKey][]model.InvestorSummary
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[fundKey]model.FundConfig),
		prices:    make(map[priceKey]model.PriceQuote),
		days:      make(map[time.Time]struct{}),
		records:   make(map[fundKey][]model.NAVRecord),
		summaries: make(map[fundKey][]model.InvestorSummary),
	}
}

func (s *MemoryStore) GetFundConfig(_ context.Context, managerID, fofID string) (*model.FundConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[fundKey{managerID, fofID}]
	if !ok {
		return nil, fmt.Errorf("fund %s/%s: %w", managerID, fofID, ErrNotFound)
	}
	return &cfg, nil
}

func (s *MemoryStore) SaveFundConfig(_ context.Context, cfg *model.FundConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	c := *cfg
	c.SubFunds = make(map[string]model.IncentiveTerms, len(cfg.SubFunds))
	for id, t := range cfg.SubFunds {
		c.SubFunds[id] = t
	}
	s.configs[fundKey{cfg.ManagerID, cfg.FofID}] = c
	return nil
}

func (s *MemoryStore) InsertEvents(_ context.Context, rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		if slices.ContainsFunc(s.events, func(e model.Row) bool { return e.ID == r.ID }) {
			return fmt.Errorf("event %s already exists", r.ID)
		}
	}
	s.events = append(s.events, rows...)
	return nil
}

func (s *MemoryStore) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.events, func(e model.Row) bool { return e.ID == id })
	if i < 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	s.events = slices.Delete(s.events, i, i+1)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, fofID string) ([]model.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Row
	for _, e := range s.events {
		if e.FundID == fofID || e.InvestorID == fofID {
			result = append(result, e)
		}
	}
	slices.SortStableFunc(result, func(a, b model.Row) int { return a.At.Compare(b.At) })
	return result, nil
}

func (s *MemoryStore) InsertPrices(_ context.Context, quotes []model.PriceQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range quotes {
		q.Date = model.Day(q.Date)
		s.prices[priceKey{q.FundID, q.Date}] = q
	}
	return nil
}

func (s *MemoryStore) GetPrices(_ context.Context, fundIDs []string, to time.Time) ([]model.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	to = model.Day(to)
	var result []model.PriceQuote
	for k, q := range s.prices {
		if slices.Contains(fundIDs, k.fundID) && !k.date.After(to) {
			result = append(result, q)
		}
	}
	slices.SortFunc(result, func(a, b model.PriceQuote) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.FundID, b.FundID)
	})
	return result, nil
}

func (s *MemoryStore) InsertTradingDays(_ context.Context, days []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range days {
		s.days[model.Day(d)] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) GetTradingDays(_ context.Context, from, to time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = model.Day(from), model.Day(to)
	var result []time.Time
	for d := range s.days {
		if !d.Before(from) && !d.After(to) {
			result = append(result, d)
		}
	}
	slices.SortFunc(result, func(a, b time.Time) int { return a.Compare(b) })
	return result, nil
}

func (s *MemoryStore) InsertAdjustment(_ context.Context, a *model.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.adjustments = append(s.adjustments, *a)
	return nil
}

func (s *MemoryStore) GetAdjustments(_ context.Context, managerID, fofID string) ([]model.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Adjustment
	for _, a := range s.adjustments {
		if a.ManagerID == managerID && a.FofID == fofID {
			result = append(result, a)
		}
	}
	slices.SortStableFunc(result, func(a, b model.Adjustment) int { return a.Date.Compare(b.Date) })
	return result, nil
}

// ReplaceResults swaps the range under a single write lock.
func (s *MemoryStore) ReplaceResults(_ context.Context, managerID, fofID string, from, to time.Time,
	records []model.NAVRecord, summaries []model.InvestorSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to = model.Day(from), model.Day(to)
	key := fundKey{managerID, fofID}
	kept := make([]model.NAVRecord, 0, len(s.records[key])+len(records))
	for _, r := range s.records[key] {
		if r.Date.Before(from) || r.Date.After(to) {
			kept = append(kept, r)
		}
	}
	kept = append(kept, records...)
	slices.SortFunc(kept, func(a, b model.NAVRecord) int { return a.Date.Compare(b.Date) })
	s.records[key] = kept
	s.summaries[key] = slices.Clone(summaries)
	return nil
}

func (s *MemoryStore) GetNAVRecords(_ context.Context, managerID, fofID string, from, to time.Time) ([]model.NAVRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = model.Day(from), model.Day(to)
	var result []model.NAVRecord
	for _, r := range s.records[fundKey{managerID, fofID}] {
		if !r.Date.Before(from) && !r.Date.After(to) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetInvestorSummaries(_ context.Context, managerID, fofID string) ([]model.InvestorSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.summaries[fundKey{managerID, fofID}]), nil
}
