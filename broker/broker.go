// Package broker implements the Broker API façade (component F): the
// single entry point strategies interact with, wiring the matching engine,
// account kernel, and persistence layer together, plus the background
// auto-update driver. Grounded on the teacher's core/engine.go orchestration
// pattern (mutex-guarded running flag, ticker-driven background loop,
// locally defined interfaces to avoid import cycles).
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"paperbroker/account"
	"paperbroker/matching"
	"paperbroker/storage"
	"paperbroker/types"
)

// BarSource is the external collaborator that supplies the next bar for a
// symbol to the background auto-update driver (spec §1's backtest driver
// is explicitly out of scope; this is the seam it plugs into).
type BarSource interface {
	NextBar(ctx context.Context, symbol string) (types.Bar, bool, error)
}

// FillListener receives a synchronous notification for every fill OnBar
// produces, after the fill and its resulting position are persisted
// (spec §9 "Callbacks / hooks"). Grounded on the teacher's
// TradeNotifier/SetTradeNotifier seam (core/engine.go).
type FillListener interface {
	OnFill(order types.Order, fill types.Fill)
}

// CloseListener receives a synchronous notification for every position
// close (SL/TP or explicit), after the Trade row is persisted.
type CloseListener interface {
	OnPositionClose(trade types.Trade)
}

// Broker is the strategy-facing façade wiring D (matching), E (account),
// and C (storage) together (spec §4.F).
type Broker struct {
	mu sync.Mutex

	matching *matching.Engine
	kernel   *account.Kernel
	store    *storage.Store
	log      zerolog.Logger

	lastBar map[string]types.Bar

	// busy guards re-entrancy: callbacks invoked from OnBar must not call
	// back into OnBar (spec §9 "Re-entrancy is prevented by a simple busy flag").
	busy bool

	// deferredSubmits holds orders submitted while busy==true; they enter
	// the next bar's matching pass, never the in-flight one (spec §5
	// ordering guarantees).
	deferredSubmits []*types.Order

	fillListeners  []FillListener
	closeListeners []CloseListener

	autoUpdate struct {
		running bool
		cancel  context.CancelFunc
		group   *errgroup.Group
		symbols []string
		source  BarSource
		interval time.Duration
	}
}

// New constructs a Broker from its three wired components.
func New(m *matching.Engine, k *account.Kernel, s *storage.Store, log zerolog.Logger) *Broker {
	k.SetPendingOrderCounter(func() int { return len(m.PendingOrders()) })
	return &Broker{
		matching: m,
		kernel:   k,
		store:    s,
		log:      log,
		lastBar:  make(map[string]types.Bar),
	}
}

// AddFillListener registers a callback invoked synchronously from OnBar for
// every fill it produces, after that fill's position is persisted.
func (b *Broker) AddFillListener(l FillListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillListeners = append(b.fillListeners, l)
}

// AddCloseListener registers a callback invoked synchronously from OnBar
// (or ClosePosition) for every position close, after the Trade row is persisted.
func (b *Broker) AddCloseListener(l CloseListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeListeners = append(b.closeListeners, l)
}

// SubmitOrderParams collects submit_order's optional fields (spec §4.F).
type SubmitOrderParams struct {
	Symbol       string
	Type         types.OrderType
	Side         types.Side
	Quantity     decimal.Decimal
	LimitPrice   *decimal.Decimal
	StopPrice    *decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	TimeInForce  types.TimeInForce
	StrategyName string
}

// SubmitOrder validates and enqueues an order, applying pre-trade checks
// before handing it to the matching engine (spec §4.F `submit_order`).
func (b *Broker) SubmitOrder(p SubmitOrderParams) (bool, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tif := p.TimeInForce
	if tif == "" {
		tif = types.GTC
	}

	order := &types.Order{
		OrderID:      uuid.NewString(),
		Symbol:       p.Symbol,
		Type:         p.Type,
		Side:         p.Side,
		Quantity:     p.Quantity,
		LimitPrice:   p.LimitPrice,
		StopPrice:    p.StopPrice,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		TimeInForce:  tif,
		CreatedTime:  time.Now().UTC(),
		StrategyName: p.StrategyName,
	}

	refPrice := b.referencePrice(p.Symbol, p.Side, p.LimitPrice, p.StopPrice)
	if ok, reason := b.kernel.PreTradeCheck(p.Symbol, p.Side, p.Quantity, refPrice); !ok {
		order.Status = types.StatusRejected
		order.RejectionReason = reason
		if b.store != nil {
			_ = b.store.SaveOrder(*order)
		}
		b.log.Warn().Str("order_id", order.OrderID).Str("reason", reason).Msg("order rejected pre-trade")
		return false, order.OrderID, fmt.Errorf("%s", reason)
	}

	if b.busy {
		// A submit arriving from within an on_bar callback must not be
		// matched in the same bar (spec §5 ordering guarantees).
		b.deferredSubmits = append(b.deferredSubmits, order)
		if b.store != nil {
			_ = b.store.SaveOrder(*order)
		}
		return true, order.OrderID, nil
	}

	if err := b.matching.Submit(order); err != nil {
		order.Status = types.StatusRejected
		order.RejectionReason = err.Error()
		if b.store != nil {
			_ = b.store.SaveOrder(*order)
		}
		return false, order.OrderID, err
	}
	if b.store != nil {
		if err := b.store.SaveOrder(*order); err != nil {
			return false, order.OrderID, fmt.Errorf("persist order: %w", err)
		}
	}
	return true, order.OrderID, nil
}

func (b *Broker) referencePrice(symbol string, side types.Side, limit, stop *decimal.Decimal) decimal.Decimal {
	if bar, ok := b.lastBar[symbol]; ok {
		if side == types.Buy {
			return bar.Ask
		}
		return bar.Bid
	}
	if limit != nil {
		return *limit
	}
	if stop != nil {
		return *stop
	}
	return decimal.Zero
}

// CancelOrder cancels a non-terminal order (spec §4.F `cancel_order`).
func (b *Broker) CancelOrder(orderID, reason string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.matching.Cancel(orderID, reason); err != nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownOrder, err.Error())
	}
	if o := b.matching.Order(orderID); o != nil && b.store != nil {
		_ = b.store.UpdateOrder(*o)
	}
	return true, nil
}

// ModifyOrder updates a non-terminal order's quantity/limit/stop (spec §4.F
// `modify_order`).
func (b *Broker) ModifyOrder(orderID string, newQuantity, newLimitPrice, newStopPrice *decimal.Decimal) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.matching.Modify(orderID, newQuantity, newLimitPrice, newStopPrice); err != nil {
		return false, err
	}
	if o := b.matching.Order(orderID); o != nil && b.store != nil {
		_ = b.store.UpdateOrder(*o)
	}
	return true, nil
}

// GetPositions returns every position the kernel holds, open and closed,
// optionally filtered by symbol (spec §4.F `get_positions`).
func (b *Broker) GetPositions(symbol string) []types.Position {
	return b.kernel.Positions(symbol)
}

// AccountInfo is the response shape for `get_account_info`.
type AccountInfo struct {
	Balance    decimal.Decimal
	Equity     decimal.Decimal
	NumOpen    int
	NumPending int
}

// GetAccountInfo returns balance/equity/position and order counts (spec
// §4.F `get_account_info`).
func (b *Broker) GetAccountInfo() AccountInfo {
	positions := b.kernel.Positions("")
	open := 0
	for _, p := range positions {
		if p.IsOpen {
			open++
		}
	}
	return AccountInfo{
		Balance:    b.kernel.Balance(),
		Equity:     b.kernel.Equity(),
		NumOpen:    open,
		NumPending: len(b.matching.PendingOrders()),
	}
}

// GetOrderHistory returns persisted orders, optionally filtered (spec §4.F
// `get_order_history`). Query operations never error on "not found"; an
// empty slice is returned instead.
func (b *Broker) GetOrderHistory(symbol, status string, from, to time.Time) []types.Order {
	if b.store == nil {
		return nil
	}
	orders, err := b.store.OrdersBySymbolAndStatus(symbol, status, from, to)
	if err != nil {
		b.log.Error().Err(err).Msg("get_order_history failed")
		return nil
	}
	return orders
}

// GetTradeHistory returns persisted trades, optionally filtered (spec §4.F
// `get_trade_history`).
func (b *Broker) GetTradeHistory(symbol string, from, to time.Time) []types.Trade {
	if b.store == nil {
		return nil
	}
	trades, err := b.store.TradesBySymbol(symbol, from, to)
	if err != nil {
		b.log.Error().Err(err).Msg("get_trade_history failed")
		return nil
	}
	return trades
}

// ClosePosition performs an explicit close using the last known bar's
// bid/ask for the position's symbol (spec §4.F `close_position`).
func (b *Broker) ClosePosition(positionID, reason string) (bool, error) {
	b.mu.Lock()
	positions := b.kernel.Positions("")
	var symbol string
	for _, p := range positions {
		if p.PositionID == positionID {
			symbol = p.Symbol
			break
		}
	}
	if symbol == "" {
		b.mu.Unlock()
		return false, ErrUnknownPosition
	}
	bar, ok := b.lastBar[symbol]
	if !ok {
		b.mu.Unlock()
		return false, fmt.Errorf("%w: no market data yet for %s", ErrDataGap, symbol)
	}
	b.mu.Unlock()

	trade, err := b.kernel.ClosePosition(positionID, reason, bar.Bid, bar.Ask, bar.Time)
	if err != nil {
		return false, err
	}
	b.dispatchClose(*trade)
	return true, nil
}

// Orders returns the current pending order set (read-only convenience view
// named explicitly by spec §4.F, not raw field access), including orders
// submitted from an OnBar callback that wait for the next bar.
func (b *Broker) Orders() []*types.Order {
	pending := b.matching.PendingOrders()
	b.mu.Lock()
	pending = append(pending, b.deferredSubmits...)
	b.mu.Unlock()
	return pending
}

// OnBar drives one bar through the broker: matching pass, fill
// application, per-bar position update/SL-TP checks (where the kernel takes
// its snapshots), then rollover, in that exact order (spec §4.F). It does not
// hold the broker's mutex for its whole duration: a fill/close listener
// invoked from within OnBar is free to call Submit/Cancel/Modify/Get*
// without deadlocking, while the busy flag (spec §9) still defers any
// submit made from such a callback to the next bar, and rejects a
// re-entrant OnBar call outright.
func (b *Broker) OnBar(symbol string, bar types.Bar) error {
	b.mu.Lock()
	if b.busy {
		b.mu.Unlock()
		return fmt.Errorf("on_bar is not re-entrant: a previous on_bar call is still in progress")
	}
	if prev, ok := b.lastBar[symbol]; ok && bar.Time.Before(prev.Time) {
		b.mu.Unlock()
		b.log.Warn().Str("symbol", symbol).Msg("bar out of order, skipping")
		return fmt.Errorf("%w: bar for %s out of order", ErrDataGap, symbol)
	}
	b.lastBar[symbol] = bar

	// Drain submits deferred from the previous bar's callbacks before this
	// bar's own matching pass (spec §5 ordering guarantees).
	deferred := b.deferredSubmits
	b.deferredSubmits = nil
	b.busy = true
	b.mu.Unlock()

	for _, o := range deferred {
		_ = b.matching.Submit(o)
	}

	fills, touched := b.matching.OnBar(symbol, bar)
	for _, f := range fills {
		o := touched[f.OrderID]
		if _, err := b.kernel.ApplyFill(&o, f); err != nil {
			b.mu.Lock()
			b.busy = false
			b.mu.Unlock()
			return fmt.Errorf("apply fill: %w", err)
		}
		b.dispatchFill(o, f)
	}
	for _, o := range touched {
		if o.Status.IsTerminal() && b.store != nil {
			_ = b.store.UpdateOrder(o)
		}
	}

	trades := b.kernel.UpdatePositions(symbol, bar)
	for _, t := range trades {
		b.dispatchClose(t)
	}
	b.kernel.Rollover(bar)

	b.mu.Lock()
	b.busy = false
	b.mu.Unlock()

	return nil
}

// dispatchFill notifies every registered FillListener, outside the broker
// lock so a listener may freely call back into the façade (spec §9).
func (b *Broker) dispatchFill(o types.Order, f types.Fill) {
	b.mu.Lock()
	listeners := append([]FillListener(nil), b.fillListeners...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.OnFill(o, f)
	}
}

// dispatchClose notifies every registered CloseListener, outside the
// broker lock (spec §9).
func (b *Broker) dispatchClose(t types.Trade) {
	b.mu.Lock()
	listeners := append([]CloseListener(nil), b.closeListeners...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.OnPositionClose(t)
	}
}

// StartAutoUpdate starts the background driver: a ticker loop that fetches
// the next bar for every symbol in symbols from source and drives OnBar
// (spec §5 "Auto-update mode"). The broker's mutex is not held for the
// whole tick: OnBar takes it only around its bookkeeping, so other calls
// may run while a tick is matching; a submit made meanwhile waits for the
// next bar and a second OnBar is rejected by the busy flag.
func (b *Broker) StartAutoUpdate(ctx context.Context, source BarSource, symbols []string, interval time.Duration) error {
	b.mu.Lock()
	if b.autoUpdate.running {
		b.mu.Unlock()
		return fmt.Errorf("auto-update already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	b.autoUpdate.running = true
	b.autoUpdate.cancel = cancel
	b.autoUpdate.group = group
	b.autoUpdate.symbols = symbols
	b.autoUpdate.source = source
	b.autoUpdate.interval = interval
	b.mu.Unlock()

	group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				b.tick(gctx, source, symbols)
			}
		}
	})

	return nil
}

// tick fetches the latest bar for every symbol and drives OnBar; a fetch
// timeout or error skips that symbol for this cadence rather than failing
// the whole driver (spec §5 "the tick is skipped and retried next cadence").
func (b *Broker) tick(ctx context.Context, source BarSource, symbols []string) {
	for _, sym := range symbols {
		bar, ok, err := source.NextBar(ctx, sym)
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", sym).Msg("bar fetch failed, skipping tick")
			continue
		}
		if !ok {
			continue
		}
		if err := b.OnBar(sym, bar); err != nil {
			b.log.Warn().Err(err).Str("symbol", sym).Msg("on_bar failed during auto-update")
		}
	}
}

// StopAutoUpdate signals the background driver to stop and joins it; an
// in-flight tick always completes before this returns (spec §5).
func (b *Broker) StopAutoUpdate() error {
	b.mu.Lock()
	if !b.autoUpdate.running {
		b.mu.Unlock()
		return nil
	}
	cancel := b.autoUpdate.cancel
	group := b.autoUpdate.group
	b.mu.Unlock()

	cancel()
	err := group.Wait()

	b.mu.Lock()
	b.autoUpdate.running = false
	b.mu.Unlock()
	return err
}
