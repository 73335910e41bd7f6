package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	order     []string                    // market IDs in creation order
	balances  map[string]decimal.Decimal  // marketID|trader → balance
	positions map[string]*model.Position  // marketID|trader → position
	ledger    []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[string]*model.Position),
	}
}

func key(marketID, trader string) string {
	return marketID + "|" + trader
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.markets {
		if existing.Symbol == m.Symbol {
			return fmt.Errorf("%w: %s", ErrDuplicateSymbol, m.Symbol)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	s.order = append(s.order, m.ID)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMarketBySymbol(_ context.Context, sym string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.Symbol == sym {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: symbol %s", ErrMarketNotFound, sym)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.order))
	for _, id := range s.order {
		markets = append(markets, *s.markets[id])
	}
	return markets, nil
}

func (s *MemoryStore) UpdateReserves(_ context.Context, id string, virtualLong, virtualShort decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	m.VirtualLong = virtualLong
	m.VirtualShort = virtualShort
	return nil
}

// --- Balances ---

func (s *MemoryStore) GetBalance(_ context.Context, marketID, trader string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[key(marketID, trader)], nil
}

func (s *MemoryStore) SetBalance(_ context.Context, marketID, trader string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key(marketID, trader)] = amount
	return nil
}

func (s *MemoryStore) ListBalancesByTrader(_ context.Context, trader string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal)
	suffix := "|" + trader
	for k, v := range s.balances {
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			out[k[:len(k)-len(suffix)]] = v
		}
	}
	return out, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, marketID, trader string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key(marketID, trader)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in market %s", ErrPositionNotFound, trader, marketID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pos
	s.positions[key(pos.MarketID, pos.Trader)] = &cp
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, marketID, trader string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(marketID, trader)
	if _, ok := s.positions[k]; !ok {
		return fmt.Errorf("%w: %s in market %s", ErrPositionNotFound, trader, marketID)
	}
	delete(s.positions, k)
	return nil
}

func (s *MemoryStore) ListPositionsByTrader(_ context.Context, trader string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.Trader == trader {
			out = append(out, *p)
		}
	}
	return out, nil
}

// --- Ledger ---

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByMarket(_ context.Context, marketID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByTrader(_ context.Context, trader string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.Trader == trader {
			result = append(result, e)
		}
	}
	return result, nil
}
