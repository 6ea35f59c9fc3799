// Package matching implements the Order Matching Engine (component D):
// a pending-order map, per-bar matching against the matching-rules table,
// and end-of-bar time-in-force handling. Grounded on the teacher's
// execution/executor.go order-state-machine shape, generalized from
// single-shot slippage-adjusted fills to full bar-by-bar matching, and on
// the YoForex order_types.go TimeInForce enum.
package matching

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paperbroker/core"
	"paperbroker/costmodel"
	"paperbroker/types"
)

// SubmitError reports why submit/cancel/modify failed validation.
type SubmitError struct {
	Reason string
}

func (e *SubmitError) Error() string { return e.Reason }

func invalidParam(reason string) error { return &SubmitError{Reason: reason} }

// Engine holds every order it has ever accepted (terminal or not) and
// matches the non-terminal ones against incoming bars. Terminal orders are
// retained (not deleted) so Cancel/Modify/Order stay idempotent/consistent
// for ids that were once pending.
type Engine struct {
	mu sync.Mutex

	orders  map[string]*types.Order
	symbols *core.SymbolManager
	costs   costmodel.Config
	rnd     *rand.Rand
	log     zerolog.Logger

	fillCounter uint64
}

// NewEngine constructs a matching engine. rnd is the injectable,
// instance-seeded pseudo-random source used for slippage draws (spec §9).
func NewEngine(symbols *core.SymbolManager, costs costmodel.Config, rnd *rand.Rand, log zerolog.Logger) *Engine {
	return &Engine{
		orders:  make(map[string]*types.Order),
		symbols: symbols,
		costs:   costs,
		rnd:     rnd,
		log:     log,
	}
}

// Submit validates and enqueues an order. On failure it returns a reason
// and does not enqueue (spec §4.D).
func (e *Engine) Submit(o *types.Order) error {
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return invalidParam("quantity must be > 0")
	}
	switch o.Type {
	case types.Limit:
		if o.LimitPrice == nil || o.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return invalidParam("LIMIT requires limit_price > 0")
		}
	case types.Stop:
		if o.StopPrice == nil || o.StopPrice.LessThanOrEqual(decimal.Zero) {
			return invalidParam("STOP requires stop_price > 0")
		}
	case types.StopLimit:
		if o.StopPrice == nil || o.StopPrice.LessThanOrEqual(decimal.Zero) {
			return invalidParam("STOP_LIMIT requires stop_price > 0")
		}
		if o.LimitPrice == nil || o.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return invalidParam("STOP_LIMIT requires limit_price > 0")
		}
	case types.Market:
		// no extra requirement
	default:
		return invalidParam("unknown order type")
	}

	if o.OrderID == "" {
		o.OrderID = uuid.NewString()
	}
	o.Status = types.StatusPending
	if o.CreatedTime.IsZero() {
		o.CreatedTime = time.Now().UTC()
	}
	o.RemainingQuantity = o.Quantity
	o.FilledQuantity = decimal.Zero

	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders[o.OrderID] = o
	e.log.Info().Str("order_id", o.OrderID).Str("symbol", o.Symbol).
		Str("type", string(o.Type)).Str("side", string(o.Side)).
		Msg("order submitted")
	return nil
}

// Cancel transitions a non-terminal order to CANCELLED. Idempotent on
// already-terminal orders (spec §5 "Cancellation & timeouts").
func (e *Engine) Cancel(orderID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return invalidParam("unknown order")
	}
	if o.Status.IsTerminal() {
		return nil // idempotent no-op
	}
	now := time.Now().UTC()
	o.Status = types.StatusCancelled
	o.CancelledTime = &now
	o.CancelledReason = reason
	e.log.Info().Str("order_id", orderID).Str("reason", reason).Msg("order cancelled")
	return nil
}

// Modify updates a non-terminal order's quantity/limit/stop in place.
func (e *Engine) Modify(orderID string, newQuantity, newLimitPrice, newStopPrice *decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return invalidParam("unknown order")
	}
	if o.Status.IsTerminal() {
		return invalidParam("order is terminal")
	}
	if newQuantity != nil {
		if newQuantity.LessThan(o.FilledQuantity) {
			return invalidParam("new_quantity below already-filled quantity")
		}
		o.Quantity = *newQuantity
		o.RemainingQuantity = o.Quantity.Sub(o.FilledQuantity)
	}
	if newLimitPrice != nil {
		o.LimitPrice = newLimitPrice
	}
	if newStopPrice != nil {
		o.StopPrice = newStopPrice
	}
	return nil
}

// Order returns the order with the given id (pending or terminal), or nil.
func (e *Engine) Order(orderID string) *types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders[orderID]
}

// PendingOrders returns a read-only snapshot of the current pending
// (non-terminal) set (spec §4.F "the façade exposes a read-only view orders").
func (e *Engine) PendingOrders() []*types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTime.Equal(out[j].CreatedTime) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedTime.Before(out[j].CreatedTime)
	})
	return out
}

func (e *Engine) nextFillID() string {
	e.fillCounter++
	return fmt.Sprintf("fill-%d-%s", e.fillCounter, uuid.NewString()[:8])
}

// OnBar attempts to match every pending order of symbol against bar,
// applying matching rules, partial-fill rules, and end-of-bar TIF handling
// in deterministic (created_time, order_id) order (spec §4.D). It returns
// the fills produced and, keyed by order id, a snapshot of every order it
// touched this bar — callers need the full order (side, SL/TP, strategy
// name) to interpret a fill, and a terminal order is removed from the
// pending set before OnBar returns.
func (e *Engine) OnBar(symbol string, bar types.Bar) ([]types.Fill, map[string]types.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0)
	for id, o := range e.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		oi, oj := e.orders[ids[i]], e.orders[ids[j]]
		if oi.CreatedTime.Equal(oj.CreatedTime) {
			return oi.OrderID < oj.OrderID
		}
		return oi.CreatedTime.Before(oj.CreatedTime)
	})

	sym := e.symbols.Get(symbol)
	var fills []types.Fill
	touched := make(map[string]types.Order)

	for _, id := range ids {
		o := e.orders[id]

		// DAY expiry check happens before any matching attempt.
		if o.TimeInForce == types.DAY && bar.Time.UTC().Format("2006-01-02") > o.CreatedTime.UTC().Format("2006-01-02") {
			o.Status = types.StatusExpired
			e.log.Info().Str("order_id", id).Msg("order expired (DAY)")
			touched[id] = *o
			continue
		}

		orderFills := e.matchOrder(o, bar, sym)
		fills = append(fills, orderFills...)

		e.applyEndOfBarTIF(o, bar)

		if len(orderFills) > 0 || o.Status.IsTerminal() {
			touched[id] = *o
		}
	}

	return fills, touched
}

// matchOrder attempts to fill o against bar per the matching-rules table,
// returning any fills produced. It mutates o's accounting fields in place.
func (e *Engine) matchOrder(o *types.Order, bar types.Bar, sym *core.Symbol) []types.Fill {
	touched, fillPrice, triggeredFromStop := e.evaluateTrigger(o, bar)
	if !touched {
		return nil
	}

	available := decimal.NewFromInt(bar.TickVolume)
	remaining := o.RemainingQuantity

	if o.TimeInForce == types.FOK && available.LessThan(remaining) {
		now := time.Now().UTC()
		o.Status = types.StatusCancelled
		o.CancelledTime = &now
		o.CancelledReason = types.ReasonFOKUnfillable
		e.log.Info().Str("order_id", o.OrderID).Msg("FOK unfillable, no fill emitted")
		return nil
	}

	fillVolume := remaining
	isPartial := false
	if available.LessThan(remaining) {
		fillVolume = available
		isPartial = true
	}
	if fillVolume.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	if triggeredFromStop {
		o.StopTriggered = true
	}

	commission := e.costs.Commission(fillVolume)

	newFilled := o.FilledQuantity.Add(fillVolume)
	o.AvgFillPrice = weightedAvg(o.AvgFillPrice, o.FilledQuantity, fillPrice, fillVolume)
	o.FilledQuantity = newFilled
	o.RemainingQuantity = o.Quantity.Sub(newFilled)

	if o.RemainingQuantity.LessThanOrEqual(decimal.Zero) {
		o.Status = types.StatusFilled
		now := time.Now().UTC()
		o.FilledTime = &now
	} else {
		o.Status = types.StatusPartialFilled
	}

	fill := types.Fill{
		FillID:               e.nextFillID(),
		OrderID:              o.OrderID,
		FillTime:             bar.Time,
		FillPrice:            fillPrice,
		FillVolume:           fillVolume,
		Commission:           commission,
		IsPartial:            isPartial,
		RemainingVolumeAfter: o.RemainingQuantity,
		MarketPrice:          bar.Close,
		Bid:                  bar.Bid,
		Ask:                  bar.Ask,
		BarVolume:            bar.TickVolume,
	}

	e.log.Info().Str("order_id", o.OrderID).Str("fill_id", fill.FillID).
		Str("price", fillPrice.String()).Str("volume", fillVolume.String()).
		Bool("partial", isPartial).Msg("order filled")

	result := []types.Fill{fill}

	// MARKET orders needing more volume may re-scan the same bar for
	// additional liquidity; limit/stop orders do not (spec §4.D).
	if o.Type == types.Market && isPartial {
		more := e.matchOrder(o, bar, sym)
		result = append(result, more...)
	}

	_ = sym
	return result
}

// evaluateTrigger decides whether o's trigger condition is satisfied within
// bar, and if so at what price, per the matching-rules table (spec §4.D).
func (e *Engine) evaluateTrigger(o *types.Order, bar types.Bar) (touched bool, fillPrice decimal.Decimal, fromStop bool) {
	switch o.Type {
	case types.Market:
		if o.Side == types.Buy {
			slip := e.costs.Slippage(e.rnd, costmodel.SlippageEntry, e.pointSize(o.Symbol))
			return true, bar.Ask.Add(slip), false
		}
		slip := e.costs.Slippage(e.rnd, costmodel.SlippageEntry, e.pointSize(o.Symbol))
		return true, bar.Bid.Sub(slip), false

	case types.Limit:
		if o.Side == types.Buy {
			if bar.Low.LessThanOrEqual(*o.LimitPrice) {
				return true, *o.LimitPrice, false
			}
			return false, decimal.Zero, false
		}
		if bar.High.GreaterThanOrEqual(*o.LimitPrice) {
			return true, *o.LimitPrice, false
		}
		return false, decimal.Zero, false

	case types.Stop:
		if o.Side == types.Buy {
			if bar.High.GreaterThanOrEqual(*o.StopPrice) {
				slip := e.costs.Slippage(e.rnd, costmodel.SlippageEntry, e.pointSize(o.Symbol))
				return true, bar.Ask.Add(slip), true
			}
			return false, decimal.Zero, false
		}
		if bar.Low.LessThanOrEqual(*o.StopPrice) {
			slip := e.costs.Slippage(e.rnd, costmodel.SlippageEntry, e.pointSize(o.Symbol))
			return true, bar.Bid.Sub(slip), true
		}
		return false, decimal.Zero, false

	case types.StopLimit:
		if !o.StopTriggered {
			if o.Side == types.Buy && bar.High.GreaterThanOrEqual(*o.StopPrice) {
				o.StopTriggered = true
			} else if o.Side == types.Sell && bar.Low.LessThanOrEqual(*o.StopPrice) {
				o.StopTriggered = true
			} else {
				return false, decimal.Zero, false
			}
		}
		// Now behaves as a limit order, possibly within the same bar.
		if o.Side == types.Buy {
			if bar.Low.LessThanOrEqual(*o.LimitPrice) {
				return true, *o.LimitPrice, false
			}
			return false, decimal.Zero, false
		}
		if bar.High.GreaterThanOrEqual(*o.LimitPrice) {
			return true, *o.LimitPrice, false
		}
		return false, decimal.Zero, false
	}
	return false, decimal.Zero, false
}

func (e *Engine) pointSize(symbol string) decimal.Decimal {
	return e.symbols.Get(symbol).PointSize
}

// applyEndOfBarTIF enforces IOC remainder cancellation and cancels any FOK
// order not filled in this bar; GTC needs nothing, the FOK volume check sits
// in matchOrder, and DAY expiry at the top of OnBar.
func (e *Engine) applyEndOfBarTIF(o *types.Order, bar types.Bar) {
	if o.Status.IsTerminal() {
		return
	}
	switch o.TimeInForce {
	case types.IOC:
		now := time.Now().UTC()
		o.Status = types.StatusCancelled
		o.CancelledTime = &now
		o.CancelledReason = types.ReasonIOCRemainder
		e.log.Info().Str("order_id", o.OrderID).Msg("IOC remainder cancelled")
	case types.FOK:
		// FOK must resolve within the bar it is attempted: if it did not
		// fully fill (including "never touched at all"), it is cancelled.
		now := time.Now().UTC()
		o.Status = types.StatusCancelled
		o.CancelledTime = &now
		o.CancelledReason = types.ReasonFOKUnfillable
		e.log.Info().Str("order_id", o.OrderID).Msg("FOK unfillable, no fill emitted")
	}
}

func weightedAvg(prevAvg, prevQty, newPrice, newQty decimal.Decimal) decimal.Decimal {
	totalQty := prevQty.Add(newQty)
	if totalQty.IsZero() {
		return newPrice
	}
	weighted := prevAvg.Mul(prevQty).Add(newPrice.Mul(newQty))
	return weighted.Div(totalQty)
}
