package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
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

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateReserves(ctx context.Context, id string, virtualLong, virtualShort decimal.Decimal) error {
	if err := s.primary.UpdateReserves(ctx, id, virtualLong, virtualShort); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SetBalance(ctx context.Context, marketID, trader string, amount decimal.Decimal) error {
	return s.primary.SetBalance(ctx, marketID, trader, amount)
}

func (s *CachedStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(pos.MarketID, pos.Trader))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, marketID, trader string) error {
	if err := s.primary.DeletePosition(ctx, marketID, trader); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(marketID, trader))
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, entry)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketBySymbol(ctx context.Context, sym string) (*model.Market, error) {
	// Try cache via symbol→marketID mapping.
	marketID, err := s.rdb.Get(ctx, symbolKey(sym)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.primary.GetMarketBySymbol(ctx, sym)
	if err != nil {
		return nil, err
	}

	// Cache both the market and the symbol→ID mapping.
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, symbolKey(sym), m.ID, s.ttl)
	return m, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, marketID, trader string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(marketID, trader)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, marketID, trader)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(marketID, trader), data, s.ttl)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

// GetBalance is never cached: the balance is solvency-critical state read
// at the head of every engine operation.
func (s *CachedStore) GetBalance(ctx context.Context, marketID, trader string) (decimal.Decimal, error) {
	return s.primary.GetBalance(ctx, marketID, trader)
}

func (s *CachedStore) ListBalancesByTrader(ctx context.Context, trader string) (map[string]decimal.Decimal, error) {
	return s.primary.ListBalancesByTrader(ctx, trader)
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error) {
	return s.primary.ListPositionsByTrader(ctx, trader)
}

func (s *CachedStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByMarket(ctx, marketID)
}

func (s *CachedStore) GetLedgerEntriesByTrader(ctx context.Context, trader string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByTrader(ctx, trader)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string             { return fmt.Sprintf("market:%s", id) }
func symbolKey(sym string) string            { return fmt.Sprintf("symbol:%s", sym) }
func positionKey(marketID, tr string) string { return fmt.Sprintf("position:%s:%s", marketID, tr) }
