// Package account implements the Account Kernel / Broker Simulator
// (component E): balance/equity/margin bookkeeping, fill application,
// per-bar SL/TP monitoring with the SL-first policy, realized P&L,
// pre-trade checks, snapshots, and daily rollover.
//
// Grounded heavily on the YoForex B-book engine retrieved for this spec
// (Account/Position/Order/Trade maps, calculateMargin/calculatePnL),
// adapted from a multi-account engine to one account per Kernel instance.
package account

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"paperbroker/core"
	"paperbroker/costmodel"
	"paperbroker/types"
)

// RolloverConfig fixes the daily swap-application instant (Open Question 2
// in SPEC_FULL.md — decided as a configurable daily UTC instant).
type RolloverConfig struct {
	AtUTC time.Duration // offset since UTC midnight, e.g. 22h for 22:00 UTC
}

// DefaultRolloverConfig returns the FX-market-convention rollover instant.
func DefaultRolloverConfig() RolloverConfig {
	return RolloverConfig{AtUTC: 22 * time.Hour}
}

// Config is the account kernel's static configuration surface (spec §6).
type Config struct {
	InitialBalance       decimal.Decimal
	MaxPositions         int
	RejectionProbability decimal.Decimal // 0 disables stochastic BROKER_REJECT
	SnapshotCadence       int            // snapshot every N bars; 0 takes a snapshot every bar
	Rollover             RolloverConfig
	Leverage             decimal.Decimal // e.g. 30 for 30:1
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialBalance:       decimal.NewFromInt(10000),
		MaxPositions:         50,
		RejectionProbability: decimal.Zero,
		SnapshotCadence:      0,
		Rollover:             DefaultRolloverConfig(),
		Leverage:             decimal.NewFromInt(30),
	}
}

// SnapshotSink receives an AccountSnapshot every time one is taken (event
// driven or cadence driven); the storage layer implements this.
type SnapshotSink interface {
	SaveSnapshot(types.AccountSnapshot) error
}

// PositionSink receives position create/update notifications.
type PositionSink interface {
	SaveFill(types.Fill) error
	SavePosition(types.Position) error
	UpdatePosition(types.Position) error
	SaveTrade(types.Trade) error
	UpdateOrder(types.Order) error
}

// Kernel owns all account state for a single paper account.
type Kernel struct {
	mu sync.Mutex

	cfg     Config
	costs   costmodel.Config
	symbols *core.SymbolManager
	rnd     *rand.Rand
	log     zerolog.Logger
	store   PositionSink
	snaps   SnapshotSink

	// pendingCount reports the matching engine's pending-order count for
	// snapshots (spec §3 AccountHistory "counts of ... pending orders"); the
	// kernel owns no order state itself, so this is wired in by the façade.
	pendingCount func() int

	balance decimal.Decimal

	positions map[string]*types.Position

	totalRealizedPnL    decimal.Decimal
	totalCommissionPaid decimal.Decimal
	totalTrades         int

	lastRolloverDate string // "2006-01-02" of the last date rollover fired
	barsSinceSnapshot int
	equityHighWaterMark decimal.Decimal

	dayStartDate    string // "2006-01-02" the current daily P&L window started
	dayStartEquity  decimal.Decimal
}

// NewKernel constructs an account kernel with the given initial balance.
func NewKernel(cfg Config, costs costmodel.Config, symbols *core.SymbolManager, rnd *rand.Rand, store PositionSink, snaps SnapshotSink, log zerolog.Logger) *Kernel {
	return &Kernel{
		cfg:                 cfg,
		costs:               costs,
		symbols:             symbols,
		rnd:                 rnd,
		log:                 log,
		store:               store,
		snaps:               snaps,
		balance:             cfg.InitialBalance,
		positions:           make(map[string]*types.Position),
		equityHighWaterMark: cfg.InitialBalance,
	}
}

// SetPendingOrderCounter wires a callback the kernel uses to populate
// AccountSnapshot.NumPendingOrders; the façade supplies the matching engine's
// pending-order count since the kernel itself tracks only positions/balance.
func (k *Kernel) SetPendingOrderCounter(f func() int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pendingCount = f
}

// Balance returns the current account balance.
func (k *Kernel) Balance() decimal.Decimal {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.balance
}

// Equity returns balance plus unrealized P&L across open positions
// (invariant 7 in spec §3).
func (k *Kernel) Equity() decimal.Decimal {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.equityLocked()
}

func (k *Kernel) equityLocked() decimal.Decimal {
	eq := k.balance
	for _, p := range k.positions {
		if p.IsOpen {
			eq = eq.Add(p.UnrealizedPnL)
		}
	}
	return eq
}

func (k *Kernel) marginUsedLocked() decimal.Decimal {
	used := decimal.Zero
	for _, p := range k.positions {
		if p.IsOpen {
			used = used.Add(k.positionMargin(p))
		}
	}
	return used
}

func (k *Kernel) positionMargin(p *types.Position) decimal.Decimal {
	sym := k.symbols.Get(p.Symbol)
	notional := p.Quantity.Mul(sym.ContractSize).Mul(p.CurrentPrice)
	if k.cfg.Leverage.IsZero() {
		return notional
	}
	return notional.Div(k.cfg.Leverage)
}

// PreTradeCheck validates a hypothetical order against INVALID_VOLUME,
// MAX_POSITIONS, INSUFFICIENT_MARGIN, and (if configured) stochastic
// BROKER_REJECT, in that order (spec §4.E).
func (k *Kernel) PreTradeCheck(symbol string, side types.Side, quantity, refPrice decimal.Decimal) (ok bool, reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sym := k.symbols.Get(symbol)
	if quantity.LessThan(sym.MinLot) || quantity.GreaterThan(sym.MaxLot) {
		return false, types.ReasonInvalidVolume
	}
	if !sym.LotStep.IsZero() {
		steps := quantity.Div(sym.LotStep)
		if !steps.Equal(steps.Round(0)) {
			return false, types.ReasonInvalidVolume
		}
	}

	openCount := 0
	for _, p := range k.positions {
		if p.IsOpen {
			openCount++
		}
	}
	if k.cfg.MaxPositions > 0 && openCount >= k.cfg.MaxPositions {
		return false, types.ReasonMaxPositions
	}

	notional := quantity.Mul(sym.ContractSize).Mul(refPrice)
	requiredMargin := notional
	if !k.cfg.Leverage.IsZero() {
		requiredMargin = notional.Div(k.cfg.Leverage)
	}
	freeMargin := k.equityLocked().Sub(k.marginUsedLocked())
	if freeMargin.Sub(requiredMargin).LessThan(decimal.Zero) {
		return false, types.ReasonInsufficientMargin
	}

	if k.cfg.RejectionProbability.GreaterThan(decimal.Zero) {
		if decimal.NewFromFloat(k.rnd.Float64()).LessThan(k.cfg.RejectionProbability) {
			return false, types.ReasonBrokerReject
		}
	}

	return true, ""
}

// ApplyFill interprets a fill from the matching engine: debits commission,
// accrues spread cost, and opens a new Position for the order (independent-
// positions policy, SPEC_FULL.md Open Question 1).
func (k *Kernel) ApplyFill(o *types.Order, f types.Fill) (*types.Position, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sym := k.symbols.Get(o.Symbol)

	k.balance = k.balance.Sub(f.Commission)
	k.totalCommissionPaid = k.totalCommissionPaid.Add(f.Commission)

	spreadCost := k.costs.SpreadCost(f.Bid, f.Ask, f.FillVolume, sym.ContractSize)

	pos := &types.Position{
		PositionID:      uuid.NewString(),
		Symbol:          o.Symbol,
		Side:            o.Side,
		Quantity:        f.FillVolume,
		EntryPrice:      f.FillPrice,
		CurrentPrice:    f.FillPrice,
		StopLoss:        o.StopLoss,
		TakeProfit:      o.TakeProfit,
		IsOpen:          true,
		TotalCommission: f.Commission,
		SpreadCost:      spreadCost,
		OpenTime:        f.FillTime,
		StrategyName:    o.StrategyName,
	}
	k.positions[pos.PositionID] = pos

	if k.store != nil {
		if err := k.store.SaveFill(f); err != nil {
			return nil, fmt.Errorf("persist fill: %w", err)
		}
		if err := k.store.SavePosition(*pos); err != nil {
			return nil, fmt.Errorf("persist position: %w", err)
		}
		if err := k.store.UpdateOrder(*o); err != nil {
			return nil, fmt.Errorf("persist order: %w", err)
		}
	}

	k.log.Info().Str("position_id", pos.PositionID).Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).Str("entry", pos.EntryPrice.String()).
		Msg("position opened")

	k.maybeSnapshotLocked(f.FillTime, true)
	return pos, nil
}

// UpdatePositions runs the per-bar SL/TP sweep for every open position of
// symbol (spec §4.E "Per bar" steps 1-5, SL-first policy).
func (k *Kernel) UpdatePositions(symbol string, bar types.Bar) []types.Trade {
	k.mu.Lock()
	defer k.mu.Unlock()

	sym := k.symbols.Get(symbol)
	var trades []types.Trade

	for _, p := range k.positions {
		if !p.IsOpen || p.Symbol != symbol {
			continue
		}

		p.CurrentPrice = bar.Close
		p.UnrealizedPnL = unrealizedPnL(p, sym.ContractSize)

		// SL-first policy: if both SL and TP fall within [low, high], the
		// pessimistic exit (SL) is taken and TP is not also evaluated
		// (spec §4.E step 5 — deliberate, contract-tested).
		if slHit, exitPrice := k.checkStopLoss(p, bar, sym); slHit {
			if t := k.closePositionLocked(p, exitPrice, types.ExitStopLoss, bar.Time); t != nil {
				trades = append(trades, *t)
			}
			continue
		}
		if tpHit, exitPrice := k.checkTakeProfit(p, bar, sym); tpHit {
			if t := k.closePositionLocked(p, exitPrice, types.ExitTakeProfit, bar.Time); t != nil {
				trades = append(trades, *t)
			}
			continue
		}

		if k.store != nil {
			_ = k.store.UpdatePosition(*p)
		}
	}

	k.maybeSnapshotLocked(bar.Time, false)
	return trades
}

func unrealizedPnL(p *types.Position, contractSize decimal.Decimal) decimal.Decimal {
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Side == types.Sell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity).Mul(contractSize)
}

func (k *Kernel) checkStopLoss(p *types.Position, bar types.Bar, sym *core.Symbol) (bool, decimal.Decimal) {
	if p.StopLoss == nil {
		return false, decimal.Zero
	}
	slip := k.costs.Slippage(k.rnd, costmodel.SlippageStopLoss, sym.PointSize)
	if p.Side == types.Buy {
		if bar.Low.LessThanOrEqual(*p.StopLoss) {
			return true, p.StopLoss.Sub(slip)
		}
		return false, decimal.Zero
	}
	if bar.High.GreaterThanOrEqual(*p.StopLoss) {
		return true, p.StopLoss.Add(slip)
	}
	return false, decimal.Zero
}

func (k *Kernel) checkTakeProfit(p *types.Position, bar types.Bar, sym *core.Symbol) (bool, decimal.Decimal) {
	if p.TakeProfit == nil {
		return false, decimal.Zero
	}
	slip := k.costs.Slippage(k.rnd, costmodel.SlippageTakeProfit, sym.PointSize)
	if p.Side == types.Buy {
		if bar.High.GreaterThanOrEqual(*p.TakeProfit) {
			return true, p.TakeProfit.Add(slip)
		}
		return false, decimal.Zero
	}
	if bar.Low.LessThanOrEqual(*p.TakeProfit) {
		return true, p.TakeProfit.Sub(slip)
	}
	return false, decimal.Zero
}

// ClosePosition performs an explicit close (spec §4.E "Explicit close").
// Exit price is current bid (LONG) or ask (SHORT); no slippage beyond the
// spread component already modelled.
func (k *Kernel) ClosePosition(positionID, reason string, bid, ask decimal.Decimal, at time.Time) (*types.Trade, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, ok := k.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("unknown position %s", positionID)
	}
	if !p.IsOpen {
		return nil, fmt.Errorf("position %s already closed", positionID)
	}

	exitPrice := bid
	if p.Side == types.Sell {
		exitPrice = ask
	}
	t := k.closePositionLocked(p, exitPrice, reason, at)
	if t == nil {
		return nil, fmt.Errorf("close failed for position %s", positionID)
	}
	return t, nil
}

// closePositionLocked computes realized P&L per spec §4.E's formula block
// and persists the position update and then the Trade row through two
// separate store calls; they do not share a transaction, and store errors
// are not reported. Caller must hold k.mu.
func (k *Kernel) closePositionLocked(p *types.Position, exitPrice decimal.Decimal, reason string, at time.Time) *types.Trade {
	sym := k.symbols.Get(p.Symbol)

	grossPnL := exitPrice.Sub(p.EntryPrice)
	if p.Side == types.Sell {
		grossPnL = grossPnL.Neg()
	}
	grossPnL = grossPnL.Mul(p.Quantity).Mul(sym.ContractSize)

	spreadCost := p.SpreadCost
	netPnL := grossPnL.Sub(p.TotalCommission).Sub(p.TotalSwap).Sub(spreadCost)

	k.balance = k.balance.Add(netPnL)
	k.totalRealizedPnL = k.totalRealizedPnL.Add(netPnL)
	k.totalTrades++

	p.IsOpen = false
	p.ExitPrice = &exitPrice
	p.RealizedPnL = netPnL
	p.ExitReason = reason
	closeTime := at
	p.CloseTime = &closeTime
	p.UnrealizedPnL = decimal.Zero

	durationHours := decimal.NewFromFloat(at.Sub(p.OpenTime).Hours())
	pointSize := sym.PointSize
	pips := decimal.Zero
	if !pointSize.IsZero() {
		priceDiff := exitPrice.Sub(p.EntryPrice)
		if p.Side == types.Sell {
			priceDiff = priceDiff.Neg()
		}
		pips = priceDiff.Div(pointSize)
	}

	equityAfter := k.equityLocked()

	// Slippage (schema §6) is the deviation of the realized exit from the
	// triggered SL/TP level; an explicit close has none beyond the spread
	// already captured in spreadCost (spec §4.E "Explicit close").
	slippage := decimal.Zero
	switch reason {
	case types.ExitStopLoss:
		if p.StopLoss != nil {
			slippage = exitPrice.Sub(*p.StopLoss).Abs()
		}
	case types.ExitTakeProfit:
		if p.TakeProfit != nil {
			slippage = exitPrice.Sub(*p.TakeProfit).Abs()
		}
	}

	trade := types.Trade{
		TradeID:       uuid.NewString(),
		Symbol:        p.Symbol,
		Direction:     p.Side,
		EntryTime:     p.OpenTime,
		ExitTime:      at,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     exitPrice,
		LotSize:       p.Quantity,
		GrossPnL:      grossPnL,
		Commission:    p.TotalCommission,
		Swap:          p.TotalSwap,
		SpreadCost:    spreadCost,
		Slippage:      slippage,
		NetPnL:        netPnL,
		Pips:          pips,
		DurationHours: durationHours,
		ExitReason:    reason,
		BalanceAfter:  k.balance,
		EquityAfter:   equityAfter,
		StrategyName:  p.StrategyName,
	}

	if equityAfter.GreaterThan(k.equityHighWaterMark) {
		k.equityHighWaterMark = equityAfter
	}
	if !k.equityHighWaterMark.IsZero() {
		dd := k.equityHighWaterMark.Sub(equityAfter)
		trade.DrawdownPct = dd.Div(k.equityHighWaterMark).Mul(decimal.NewFromInt(100))
	}

	if k.store != nil {
		_ = k.store.UpdatePosition(*p)
		_ = k.store.SaveTrade(trade)
	}

	k.log.Info().Str("position_id", p.PositionID).Str("reason", reason).
		Str("net_pnl", netPnL.String()).Msg("position closed")

	k.maybeSnapshotLocked(at, true)
	return &trade
}

// Positions returns every position the kernel holds, open and closed,
// optionally filtered by symbol.
func (k *Kernel) Positions(symbol string) []types.Position {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []types.Position
	for _, p := range k.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Rollover applies swap to every open position if the bar stream has
// crossed the configured daily UTC instant since the last firing
// (SPEC_FULL.md Open Question 2).
func (k *Kernel) Rollover(bar types.Bar) {
	k.mu.Lock()
	defer k.mu.Unlock()

	dateStr := bar.Time.UTC().Format("2006-01-02")
	instant := time.Date(bar.Time.UTC().Year(), bar.Time.UTC().Month(), bar.Time.UTC().Day(), 0, 0, 0, 0, time.UTC).Add(k.cfg.Rollover.AtUTC)
	if bar.Time.UTC().Before(instant) {
		return
	}
	if k.lastRolloverDate == dateStr {
		return
	}
	k.lastRolloverDate = dateStr

	for _, p := range k.positions {
		if !p.IsOpen {
			continue
		}
		swap := k.costs.Swap(string(p.Side), p.Quantity)
		k.balance = k.balance.Add(swap)
		p.TotalSwap = p.TotalSwap.Add(swap)
		if k.store != nil {
			_ = k.store.UpdatePosition(*p)
		}
	}
	k.log.Info().Str("date", dateStr).Msg("daily rollover applied")
}

// maybeSnapshotLocked takes an AccountHistory snapshot if forced (fills and
// closes force one), or if the configured bar-count cadence has elapsed
// (every call when the cadence is 0). Caller must hold k.mu.
func (k *Kernel) maybeSnapshotLocked(at time.Time, force bool) {
	k.barsSinceSnapshot++
	if !force && k.cfg.SnapshotCadence > 0 && k.barsSinceSnapshot < k.cfg.SnapshotCadence {
		return
	}
	k.barsSinceSnapshot = 0
	if k.snaps == nil {
		return
	}

	numPositions := 0
	for _, p := range k.positions {
		if p.IsOpen {
			numPositions++
		}
	}
	numPending := 0
	if k.pendingCount != nil {
		numPending = k.pendingCount()
	}
	equity := k.equityLocked()

	dateStr := at.UTC().Format("2006-01-02")
	if k.dayStartDate != dateStr {
		k.dayStartDate = dateStr
		k.dayStartEquity = equity
	}
	dailyPnL := equity.Sub(k.dayStartEquity)
	dailyReturnPct := decimal.Zero
	if !k.dayStartEquity.IsZero() {
		dailyReturnPct = dailyPnL.Div(k.dayStartEquity).Mul(decimal.NewFromInt(100))
	}

	marginUsed := k.marginUsedLocked()
	freeMargin := equity.Sub(marginUsed)
	marginLevel := decimal.Zero
	if !marginUsed.IsZero() {
		marginLevel = equity.Div(marginUsed).Mul(decimal.NewFromInt(100))
	}

	dd := decimal.Zero
	ddPct := decimal.Zero
	if equity.GreaterThan(k.equityHighWaterMark) {
		k.equityHighWaterMark = equity
	} else if !k.equityHighWaterMark.IsZero() {
		dd = k.equityHighWaterMark.Sub(equity)
		ddPct = dd.Div(k.equityHighWaterMark).Mul(decimal.NewFromInt(100))
	}

	snap := types.AccountSnapshot{
		Timestamp:           at,
		Balance:             k.balance,
		Equity:              equity,
		MarginUsed:          marginUsed,
		FreeMargin:          freeMargin,
		MarginLevel:         marginLevel,
		NumPositions:        numPositions,
		NumPendingOrders:    numPending,
		DailyPnL:            dailyPnL,
		DailyReturnPct:      dailyReturnPct,
		TotalRealizedPnL:    k.totalRealizedPnL,
		TotalTrades:         k.totalTrades,
		TotalCommissionPaid: k.totalCommissionPaid,
		DrawdownUSD:         dd,
		DrawdownPct:         ddPct,
	}
	_ = k.snaps.SaveSnapshot(snap)
}

// ForceSnapshot takes an AccountHistory row immediately, regardless of
// cadence (spec §4.E "Snapshots are also taken whenever balance changes or
// a position opens/closes").
func (k *Kernel) ForceSnapshot(at time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.maybeSnapshotLocked(at, true)
}
