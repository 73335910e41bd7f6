package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/model"
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

const marketColumns = `id, symbol, underlying, oracle, collateral,
	initial_price::TEXT, fee_rate::TEXT,
	virtual_long::TEXT, virtual_short::TEXT,
	expiry, status, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var initialPrice, feeRate, vLong, vShort string

	err := row.Scan(&m.ID, &m.Symbol, &m.Underlying, &m.Oracle, &m.Collateral,
		&initialPrice, &feeRate, &vLong, &vShort,
		&m.Expiry, &m.Status, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.InitialPrice, _ = decimal.NewFromString(initialPrice)
	m.FeeRate, _ = decimal.NewFromString(feeRate)
	m.VirtualLong, _ = decimal.NewFromString(vLong)
	m.VirtualShort, _ = decimal.NewFromString(vShort)
	return &m, nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, symbol, underlying, oracle, collateral,
		    initial_price, fee_rate, virtual_long, virtual_short,
		    expiry, status, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		    $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		    $10, $11, $12)`,
		m.ID, m.Symbol, m.Underlying, m.Oracle, m.Collateral,
		m.InitialPrice.String(), m.FeeRate.String(),
		m.VirtualLong.String(), m.VirtualShort.String(),
		m.Expiry, m.Status, m.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, m.Symbol)
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) GetMarketBySymbol(ctx context.Context, sym string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE symbol = $1`, sym))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: symbol %s", ErrMarketNotFound, sym)
	}
	if err != nil {
		return nil, fmt.Errorf("get market by symbol %s: %w", sym, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateReserves(ctx context.Context, id string, virtualLong, virtualShort decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET virtual_long = $2::NUMERIC, virtual_short = $3::NUMERIC
		 WHERE id = $1`,
		id, virtualLong.String(), virtualShort.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return nil
}

// --- Balances ---

func (s *PostgresStore) GetBalance(ctx context.Context, marketID, trader string) (decimal.Decimal, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM balances WHERE market_id = $1 AND trader = $2`,
		marketID, trader).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("get balance %s/%s: %w", marketID, trader, err)
	}
	d, _ := decimal.NewFromString(amount)
	return d, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, marketID, trader string, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (market_id, trader, amount)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (market_id, trader) DO UPDATE SET amount = EXCLUDED.amount`,
		marketID, trader, amount.String(),
	)
	return err
}

func (s *PostgresStore) ListBalancesByTrader(ctx context.Context, trader string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, amount::TEXT FROM balances WHERE trader = $1`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var marketID, amount string
		if err := rows.Scan(&marketID, &amount); err != nil {
			return nil, err
		}
		out[marketID], _ = decimal.NewFromString(amount)
	}
	return out, rows.Err()
}

// --- Positions ---

const positionColumns = `trader, market_id, side, size::TEXT,
	entry_price::TEXT, collateral::TEXT, opened_at, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var size, entry, collateral string

	err := row.Scan(&p.Trader, &p.MarketID, &p.Side,
		&size, &entry, &collateral, &p.OpenedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Size, _ = decimal.NewFromString(size)
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.Collateral, _ = decimal.NewFromString(collateral)
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, marketID, trader string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 AND trader = $2`, marketID, trader))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s in market %s", ErrPositionNotFound, trader, marketID)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", marketID, trader, err)
	}
	return p, nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (trader, market_id, side, size, entry_price, collateral, opened_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (market_id, trader) DO UPDATE SET
		   side = EXCLUDED.side,
		   size = EXCLUDED.size,
		   entry_price = EXCLUDED.entry_price,
		   collateral = EXCLUDED.collateral,
		   updated_at = EXCLUDED.updated_at`,
		pos.Trader, pos.MarketID, pos.Side,
		pos.Size.String(), pos.EntryPrice.String(), pos.Collateral.String(),
		pos.OpenedAt, pos.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, marketID, trader string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE market_id = $1 AND trader = $2`,
		marketID, trader)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s in market %s", ErrPositionNotFound, trader, marketID)
	}
	return nil
}

func (s *PostgresStore) ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE trader = $1`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// --- Ledger ---

const ledgerColumns = `id, market_id, trader, op, side,
	amount::TEXT, size::TEXT, price::TEXT, fee::TEXT, pnl::TEXT, shortfall::TEXT,
	timestamp`

func scanLedgerEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var amount, size, price, fee, pnl, shortfall string

	err := row.Scan(&e.ID, &e.MarketID, &e.Trader, &e.Op, &e.Side,
		&amount, &size, &price, &fee, &pnl, &shortfall, &e.Timestamp)
	if err != nil {
		return nil, err
	}

	e.Amount, _ = decimal.NewFromString(amount)
	e.Size, _ = decimal.NewFromString(size)
	e.Price, _ = decimal.NewFromString(price)
	e.Fee, _ = decimal.NewFromString(fee)
	e.PnL, _ = decimal.NewFromString(pnl)
	e.Shortfall, _ = decimal.NewFromString(shortfall)
	return &e, nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger (id, market_id, trader, op, side, amount, size, price, fee, pnl, shortfall, timestamp)
		 VALUES ($1, $2, $3, $4, $5,
		    $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		    $12)`,
		entry.ID, entry.MarketID, entry.Trader, entry.Op, entry.Side,
		entry.Amount.String(), entry.Size.String(), entry.Price.String(),
		entry.Fee.String(), entry.PnL.String(), entry.Shortfall.String(),
		entry.Timestamp,
	)
	return err
}

func (s *PostgresStore) ledgerQuery(ctx context.Context, where, arg string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger WHERE `+where+` = $1 ORDER BY timestamp ASC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.ledgerQuery(ctx, "market_id", marketID)
}

func (s *PostgresStore) GetLedgerEntriesByTrader(ctx context.Context, trader string) ([]model.LedgerEntry, error) {
	return s.ledgerQuery(ctx, "trader", trader)
}
