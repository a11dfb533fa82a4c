package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/fof-nav/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Result keys carry the fund's generation, bumped by every ReplaceResults.
// A reader that loaded the primary before a replace can only cache under
// the old generation, which no later read asks for.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveFundConfig(ctx context.Context, cfg *model.FundConfig) error {
	if err := s.primary.SaveFundConfig(ctx, cfg); err != nil {
		return err
	}
	s.rdb.Del(ctx, configKey(cfg.ManagerID, cfg.FofID))
	return nil
}

func (s *CachedStore) ReplaceResults(ctx context.Context, managerID, fofID string, from, to time.Time,
	records []model.NAVRecord, summaries []model.InvestorSummary) error {
	if err := s.primary.ReplaceResults(ctx, managerID, fofID, from, to, records, summaries); err != nil {
		return err
	}
	// Older generations expire with their ttl.
	s.rdb.Incr(ctx, genKey(managerID, fofID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFundConfig(ctx context.Context, managerID, fofID string) (*model.FundConfig, error) {
	key := configKey(managerID, fofID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cfg model.FundConfig
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	// Cache miss: read from primary.
	cfg, err := s.primary.GetFundConfig(ctx, managerID, fofID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, cfg)
	return cfg, nil
}

func (s *CachedStore) GetNAVRecords(ctx context.Context, managerID, fofID string, from, to time.Time) ([]model.NAVRecord, error) {
	key := navKey(managerID, fofID, s.generation(ctx, managerID, fofID), from, to)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.NAVRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	// Cache miss.
	records, err := s.primary.GetNAVRecords(ctx, managerID, fofID, from, to)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, records)
	return records, nil
}

func (s *CachedStore) GetInvestorSummaries(ctx context.Context, managerID, fofID string) ([]model.InvestorSummary, error) {
	key := summariesKey(managerID, fofID, s.generation(ctx, managerID, fofID))
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var summaries []model.InvestorSummary
		if json.Unmarshal(data, &summaries) == nil {
			return summaries, nil
		}
	}

	summaries, err := s.primary.GetInvestorSummaries(ctx, managerID, fofID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, summaries)
	return summaries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertEvents(ctx context.Context, rows []model.Row) error {
	return s.primary.InsertEvents(ctx, rows)
}

func (s *CachedStore) DeleteEvent(ctx context.Context, id string) error {
	return s.primary.DeleteEvent(ctx, id)
}

func (s *CachedStore) GetEvents(ctx context.Context, fofID string) ([]model.Row, error) {
	return s.primary.GetEvents(ctx, fofID)
}

func (s *CachedStore) InsertPrices(ctx context.Context, quotes []model.PriceQuote) error {
	return s.primary.InsertPrices(ctx, quotes)
}

func (s *CachedStore) GetPrices(ctx context.Context, fundIDs []string, to time.Time) ([]model.PriceQuote, error) {
	return s.primary.GetPrices(ctx, fundIDs, to)
}

func (s *CachedStore) InsertTradingDays(ctx context.Context, days []time.Time) error {
	return s.primary.InsertTradingDays(ctx, days)
}

func (s *CachedStore) GetTradingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	return s.primary.GetTradingDays(ctx, from, to)
}

func (s *CachedStore) InsertAdjustment(ctx context.Context, a *model.Adjustment) error {
	return s.primary.InsertAdjustment(ctx, a)
}

func (s *CachedStore) GetAdjustments(ctx context.Context, managerID, fofID string) ([]model.Adjustment, error) {
	return s.primary.GetAdjustments(ctx, managerID, fofID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, key, data, s.ttl)
}

// generation returns the fund's current result generation, "0" before the
// first replace or when Redis is unreachable.
func (s *CachedStore) generation(ctx context.Context, managerID, fofID string) string {
	g, err := s.rdb.Get(ctx, genKey(managerID, fofID)).Result()
	if err != nil {
		return "0"
	}
	return g
}

func configKey(managerID, fofID string) string {
	return fmt.Sprintf("fund:%s:%s:config", managerID, fofID)
}

func genKey(managerID, fofID string) string {
	return fmt.Sprintf("fund:%s:%s:gen", managerID, fofID)
}

func summariesKey(managerID, fofID, gen string) string {
	return fmt.Sprintf("fund:%s:%s:%s:investors", managerID, fofID, gen)
}

func navKey(managerID, fofID, gen string, from, to time.Time) string {
	return fmt.Sprintf("fund:%s:%s:%s:navs:%s:%s", managerID, fofID, gen, from.Format(time.DateOnly), to.Format(time.DateOnly))
}
