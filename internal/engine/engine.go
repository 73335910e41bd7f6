// Package engine implements the vAMM market operations: deposit, open,
// close, withdraw, and settle, plus the factory that creates markets.
//
// Every operation executes all-or-nothing under a per-market lock. State
// that protects solvency (balances, position collateral, virtual reserves)
// is mutated before any outbound token transfer; inbound transfers complete
// before any credit is written (checks-effects-interactions).
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/synthx/vamm-engine/internal/metrics"
	"github.com/synthx/vamm-engine/internal/model"
	"github.com/synthx/vamm-engine/internal/oracle"
	"github.com/synthx/vamm-engine/internal/risk"
	"github.com/synthx/vamm-engine/internal/store"
	"github.com/synthx/vamm-engine/internal/token"
	"github.com/synthx/vamm-engine/internal/vamm"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrInvalidSide is returned for an unrecognized position direction.
	ErrInvalidSide = errors.New("engine: side must be LONG or SHORT")

	// ErrInsufficientBalance is returned when the trader's free balance
	// cannot cover the requested amount.
	ErrInsufficientBalance = errors.New("engine: insufficient balance")

	// ErrNoPosition is returned by close/settle when the trader holds no
	// open position in the market.
	ErrNoPosition = errors.New("engine: no open position")

	// ErrMarketExpired is returned when opening a position at or after the
	// market's expiry. Trading is closed once now >= expiry.
	ErrMarketExpired = errors.New("engine: market expired, trading closed")

	// ErrNotExpired is returned by settle before the market's expiry.
	ErrNotExpired = errors.New("engine: market has not expired")

	// ErrOppositeDirection is returned when opening against an existing
	// position's side. Positions merge only in the same direction.
	ErrOppositeDirection = errors.New("engine: position exists with opposite direction")
)

// Broadcaster receives engine events for fan-out (WebSocket hub).
type Broadcaster interface {
	Broadcast(ev Event)
}

// Event is an engine notification: market creations, trades, settlements.
type Event struct {
	Type     string `json:"type"`
	MarketID string `json:"market_id"`
	Symbol   string `json:"symbol"`
	Trader   string `json:"trader,omitempty"`
	Side     string `json:"side,omitempty"`
	Price    string `json:"price,omitempty"`
	Size     string `json:"size,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

// Event types.
const (
	EventMarketCreated   = "market_created"
	EventTradeOpened     = "trade_opened"
	EventTradeClosed     = "trade_closed"
	EventPositionSettled = "position_settled"
)

// Engine executes market operations against a Store, moving real collateral
// through an external token and settling expired markets against an oracle.
type Engine struct {
	store       store.Store
	token       token.CollateralToken
	oracle      oracle.PriceOracle
	limiter     *risk.Limiter // nil disables exposure limits
	broadcaster Broadcaster   // nil disables event fan-out
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-market operation serialization
}

// New creates an engine. limiter and broadcaster may be nil.
func New(st store.Store, tok token.CollateralToken, orc oracle.PriceOracle, limiter *risk.Limiter, b Broadcaster) *Engine {
	return &Engine{
		store:       st,
		token:       tok,
		oracle:      orc,
		limiter:     limiter,
		broadcaster: b,
		now:         func() time.Time { return time.Now().UTC() },
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Store exposes the underlying store for read-only query handlers.
func (e *Engine) Store() store.Store {
	return e.store
}

// lockMarket returns the mutex serializing operations on one market.
func (e *Engine) lockMarket(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// custody is the token account holding a market's collateral.
func custody(marketID string) string {
	return "market:" + marketID
}

// GetPrice returns the live synthetic price of a market.
func (e *Engine) GetPrice(ctx context.Context, marketID string) (decimal.Decimal, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return vamm.Price(vamm.Reserves{Long: m.VirtualLong, Short: m.VirtualShort})
}

// Deposit pulls amount of the collateral token from the trader into the
// market's custody and credits the trader's free balance. The credit is
// written only after the inbound transfer succeeds, and the whole operation
// holds the market lock so the untrusted transfer cannot re-enter another
// operation on this market.
func (e *Engine) Deposit(ctx context.Context, marketID, trader string, amount decimal.Decimal) error {
	done := e.observe(model.OpDeposit)

	if !amount.IsPositive() {
		return done(ErrInvalidAmount)
	}

	lock := e.lockMarket(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return done(err)
	}

	if err := e.token.TransferFrom(ctx, trader, custody(marketID), amount); err != nil {
		return done(fmt.Errorf("deposit transfer: %w", err))
	}

	bal, err := e.store.GetBalance(ctx, marketID, trader)
	if err != nil {
		return done(err)
	}
	if err := e.store.SetBalance(ctx, marketID, trader, bal.Add(amount)); err != nil {
		return done(err)
	}

	if err := e.journal(ctx, &model.LedgerEntry{
		MarketID: marketID,
		Trader:   trader,
		Op:       model.OpDeposit,
		Amount:   amount,
	}); err != nil {
		return done(err)
	}

	slog.Info("collateral deposited",
		"market", m.Symbol, "trader", trader, "amount", amount.String())
	return done(nil)
}

// Open opens a synthetic position of 1× exposure backed by collateral taken
// from the trader's free balance. limitPrice, when non-zero, is the worst
// acceptable execution price: a maximum for longs, a minimum for shorts.
// An existing same-direction position is merged with a size-weighted
// average entry price; opening against the existing direction is rejected.
func (e *Engine) Open(ctx context.Context, marketID, trader string, collateral decimal.Decimal, side model.Side, limitPrice decimal.Decimal) (*model.Position, error) {
	done := e.observe(model.OpOpen)

	if !collateral.IsPositive() {
		return nil, done(ErrInvalidAmount)
	}
	if !side.Valid() {
		return nil, done(ErrInvalidSide)
	}

	lock := e.lockMarket(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, done(err)
	}
	if m.Expired(e.now()) {
		return nil, done(ErrMarketExpired)
	}

	bal, err := e.store.GetBalance(ctx, marketID, trader)
	if err != nil {
		return nil, done(err)
	}
	if bal.LessThan(collateral) {
		return nil, done(fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, collateral))
	}

	reserves := vamm.Reserves{Long: m.VirtualLong, Short: m.VirtualShort}
	price, err := vamm.Price(reserves)
	if err != nil {
		return nil, done(err)
	}

	// Slippage bound: longs pay the price, shorts receive it.
	if err := vamm.CheckBound(price, limitPrice, side == model.SideLong); err != nil {
		return nil, done(err)
	}

	size, fee, err := vamm.SizeForCollateral(collateral, price, m.FeeRate)
	if err != nil {
		return nil, done(err)
	}

	if err := e.checkExposure(ctx, m, trader, size); err != nil {
		metrics.RiskRejections.Inc()
		return nil, done(err)
	}

	// Merge with the existing position or create a fresh one.
	now := e.now()
	pos, err := e.store.GetPosition(ctx, marketID, trader)
	switch {
	case err == nil:
		if pos.Side != side {
			return nil, done(ErrOppositeDirection)
		}
		pos.EntryPrice = vamm.MergeEntryPrice(pos.Size, pos.EntryPrice, size, price)
		pos.Size = pos.Size.Add(size)
		pos.Collateral = pos.Collateral.Add(collateral)
		pos.UpdatedAt = now
	case errors.Is(err, store.ErrPositionNotFound):
		pos = &model.Position{
			Trader:     trader,
			MarketID:   marketID,
			Side:       side,
			Size:       size,
			EntryPrice: price,
			Collateral: collateral,
			OpenedAt:   now,
			UpdatedAt:  now,
		}
	default:
		return nil, done(err)
	}

	newReserves, err := vamm.ApplyOpen(reserves, side, size)
	if err != nil {
		return nil, done(err)
	}

	if err := e.store.SetBalance(ctx, marketID, trader, bal.Sub(collateral)); err != nil {
		return nil, done(err)
	}
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		return nil, done(err)
	}
	if err := e.store.UpdateReserves(ctx, marketID, newReserves.Long, newReserves.Short); err != nil {
		return nil, done(err)
	}
	if err := e.journal(ctx, &model.LedgerEntry{
		MarketID: marketID,
		Trader:   trader,
		Op:       model.OpOpen,
		Side:     side,
		Amount:   collateral,
		Size:     size,
		Price:    price,
		Fee:      fee,
	}); err != nil {
		return nil, done(err)
	}

	metrics.PositionsOpened.WithLabelValues(string(side)).Inc()
	metrics.NotionalVolume.WithLabelValues(marketID, string(side)).Add(size.InexactFloat64())

	slog.Info("position opened",
		"market", m.Symbol, "trader", trader, "side", side,
		"size", size.String(), "entry", price.String(),
		"collateral", collateral.String(), "fee", fee.String())

	e.emit(Event{
		Type: EventTradeOpened, MarketID: marketID, Symbol: m.Symbol,
		Trader: trader, Side: string(side),
		Price: price.String(), Size: size.String(), Amount: collateral.String(),
	})
	return pos, done(nil)
}

// Close exits the trader's position against the live virtual price, after
// reversing the position's own reserve perturbation so an immediate
// open-close round trip at unchanged reserves realizes zero PnL. Payout is
// floored at zero; any loss beyond locked collateral is surfaced as an
// insolvency event. limitPrice, when non-zero, is the worst acceptable exit
// price: a minimum for longs, a maximum for shorts.
func (e *Engine) Close(ctx context.Context, marketID, trader string, limitPrice decimal.Decimal) (*model.LedgerEntry, error) {
	done := e.observe(model.OpClose)

	lock := e.lockMarket(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, done(err)
	}

	pos, err := e.store.GetPosition(ctx, marketID, trader)
	if errors.Is(err, store.ErrPositionNotFound) {
		return nil, done(ErrNoPosition)
	}
	if err != nil {
		return nil, done(err)
	}

	reserves := vamm.Reserves{Long: m.VirtualLong, Short: m.VirtualShort}
	restored, err := vamm.ApplyClose(reserves, pos.Side, pos.Size)
	if err != nil {
		return nil, done(err)
	}
	exitPrice, err := vamm.Price(restored)
	if err != nil {
		return nil, done(err)
	}

	if err := vamm.CheckBound(exitPrice, limitPrice, pos.Side == model.SideShort); err != nil {
		return nil, done(err)
	}

	entry, err := e.payOut(ctx, m, pos, exitPrice, model.OpClose, &restored)
	if err != nil {
		return nil, done(err)
	}

	e.emit(Event{
		Type: EventTradeClosed, MarketID: marketID, Symbol: m.Symbol,
		Trader: trader, Side: string(pos.Side),
		Price: exitPrice.String(), Size: pos.Size.String(), Amount: entry.Amount.String(),
	})
	return entry, done(nil)
}

// Settle exits the trader's position against the oracle price. Only
// callable once now >= expiry. Virtual reserves are intentionally left
// untouched: the market is closing, not continuing to trade.
func (e *Engine) Settle(ctx context.Context, marketID, trader string) (*model.LedgerEntry, error) {
	done := e.observe(model.OpSettle)

	lock := e.lockMarket(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, done(err)
	}
	if !m.Expired(e.now()) {
		return nil, done(ErrNotExpired)
	}

	pos, err := e.store.GetPosition(ctx, marketID, trader)
	if errors.Is(err, store.ErrPositionNotFound) {
		return nil, done(ErrNoPosition)
	}
	if err != nil {
		return nil, done(err)
	}

	oraclePrice, err := e.oracle.Price(ctx, m.Oracle)
	if err != nil {
		return nil, done(fmt.Errorf("settlement oracle: %w", err))
	}

	entry, err := e.payOut(ctx, m, pos, oraclePrice, model.OpSettle, nil)
	if err != nil {
		return nil, done(err)
	}

	e.emit(Event{
		Type: EventPositionSettled, MarketID: marketID, Symbol: m.Symbol,
		Trader: trader, Side: string(pos.Side),
		Price: oraclePrice.String(), Size: pos.Size.String(), Amount: entry.Amount.String(),
	})
	return entry, done(nil)
}

// payOut realizes a position at exitPrice: credits max(0, collateral+pnl)
// to the trader's free balance, deletes the position, optionally writes new
// reserves, and journals the operation. Shared by Close and Settle.
func (e *Engine) payOut(ctx context.Context, m *model.Market, pos *model.Position, exitPrice decimal.Decimal, op string, newReserves *vamm.Reserves) (*model.LedgerEntry, error) {
	pnl := vamm.PnL(pos.Side, pos.Size, pos.EntryPrice, exitPrice)
	payout, shortfall := vamm.Payout(pos.Collateral, pnl)

	if shortfall.IsPositive() {
		metrics.InsolvencyEvents.Inc()
		slog.Warn("loss exceeds locked collateral, payout floored at zero",
			"market", m.Symbol, "trader", pos.Trader,
			"pnl", pnl.String(), "collateral", pos.Collateral.String(),
			"shortfall", shortfall.String())
	}

	bal, err := e.store.GetBalance(ctx, m.ID, pos.Trader)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetBalance(ctx, m.ID, pos.Trader, bal.Add(payout)); err != nil {
		return nil, err
	}
	if err := e.store.DeletePosition(ctx, m.ID, pos.Trader); err != nil {
		return nil, err
	}
	if newReserves != nil {
		if err := e.store.UpdateReserves(ctx, m.ID, newReserves.Long, newReserves.Short); err != nil {
			return nil, err
		}
	}

	entry := &model.LedgerEntry{
		MarketID:  m.ID,
		Trader:    pos.Trader,
		Op:        op,
		Side:      pos.Side,
		Amount:    payout,
		Size:      pos.Size,
		Price:     exitPrice,
		PnL:       pnl,
		Shortfall: shortfall,
	}
	if err := e.journal(ctx, entry); err != nil {
		return nil, err
	}

	slog.Info("position realized",
		"op", op, "market", m.Symbol, "trader", pos.Trader,
		"side", pos.Side, "size", pos.Size.String(),
		"exit", exitPrice.String(), "pnl", pnl.String(), "payout", payout.String())
	return entry, nil
}

// Withdraw debits the trader's free balance and then pays the collateral
// token out. Effects before interaction: the debit is written first, and
// rolled back if the untrusted outbound transfer fails.
func (e *Engine) Withdraw(ctx context.Context, marketID, trader string, amount decimal.Decimal) error {
	done := e.observe(model.OpWithdraw)

	if !amount.IsPositive() {
		return done(ErrInvalidAmount)
	}

	lock := e.lockMarket(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return done(err)
	}

	bal, err := e.store.GetBalance(ctx, marketID, trader)
	if err != nil {
		return done(err)
	}
	if bal.LessThan(amount) {
		return done(fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount))
	}

	if err := e.store.SetBalance(ctx, marketID, trader, bal.Sub(amount)); err != nil {
		return done(err)
	}

	if err := e.token.Transfer(ctx, custody(marketID), trader, amount); err != nil {
		// Whole-operation failure: restore the debited balance.
		if rbErr := e.store.SetBalance(ctx, marketID, trader, bal); rbErr != nil {
			slog.Error("withdraw rollback failed",
				"market", m.Symbol, "trader", trader, "err", rbErr)
		}
		return done(fmt.Errorf("withdraw transfer: %w", err))
	}

	if err := e.journal(ctx, &model.LedgerEntry{
		MarketID: marketID,
		Trader:   trader,
		Op:       model.OpWithdraw,
		Amount:   amount,
	}); err != nil {
		return done(err)
	}

	slog.Info("collateral withdrawn",
		"market", m.Symbol, "trader", trader, "amount", amount.String())
	return done(nil)
}

// Portfolio aggregates a trader's balances and open positions across all
// markets, marking unrealized PnL at the live virtual price.
func (e *Engine) Portfolio(ctx context.Context, trader string) (*model.Portfolio, error) {
	balances, err := e.store.ListBalancesByTrader(ctx, trader)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.ListPositionsByTrader(ctx, trader)
	if err != nil {
		return nil, err
	}

	p := &model.Portfolio{
		Trader:   trader,
		Balances: balances,
	}
	for _, pos := range positions {
		mark, err := e.GetPrice(ctx, pos.MarketID)
		if err != nil {
			return nil, err
		}
		pnl := vamm.PnL(pos.Side, pos.Size, pos.EntryPrice, mark)
		p.Positions = append(p.Positions, model.PositionView{
			Position:      pos,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
		})
		p.TotalPnL = p.TotalPnL.Add(pnl)
		p.TotalNotional = p.TotalNotional.Add(pos.Size)
	}
	return p, nil
}

// checkExposure enforces the risk limiter against the trader's current
// notional in this market plus exposures in all other markets.
func (e *Engine) checkExposure(ctx context.Context, m *model.Market, trader string, sizeDelta decimal.Decimal) error {
	if e.limiter == nil {
		return nil
	}

	positions, err := e.store.ListPositionsByTrader(ctx, trader)
	if err != nil {
		return err
	}

	current := decimal.Zero
	var others []risk.Exposure
	for _, pos := range positions {
		if pos.MarketID == m.ID {
			current = pos.Size
			continue
		}
		om, err := e.store.GetMarket(ctx, pos.MarketID)
		if err != nil {
			return err
		}
		others = append(others, risk.Exposure{
			Underlying: om.Underlying,
			Notional:   pos.Size,
		})
	}
	return e.limiter.CheckOpen(m.Underlying, current, sizeDelta, others)
}

// journal stamps and appends an immutable ledger entry.
func (e *Engine) journal(ctx context.Context, entry *model.LedgerEntry) error {
	entry.ID = uuid.New().String()
	entry.Timestamp = e.now()
	return e.store.InsertLedgerEntry(ctx, entry)
}

func (e *Engine) emit(ev Event) {
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(ev)
	}
}

// observe starts an operation timer and returns a closer recording outcome
// and latency.
func (e *Engine) observe(op string) func(error) error {
	start := time.Now()
	return func(err error) error {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
		metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		return err
	}
}
