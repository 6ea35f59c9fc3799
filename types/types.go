// Package types holds the domain entities shared across the matching
// engine, account kernel, storage, and broker façade. Keeping them here
// (rather than in any one of those packages) avoids import cycles, the
// same reason the teacher keeps its own cross-package structs in a bare
// types package.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	Market     OrderType = "MARKET"
	Limit      OrderType = "LIMIT"
	Stop       OrderType = "STOP"
	StopLimit  OrderType = "STOP_LIMIT"
)

// Side is the direction of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TimeInForce controls how long an order remains eligible for matching.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
	DAY TimeInForce = "DAY"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusPartialFilled   OrderStatus = "PARTIAL_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether status cannot change again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Exit reasons recorded on a closed Position / Trade.
const (
	ExitStopLoss      = "Stop Loss"
	ExitTakeProfit    = "Take Profit"
	ExitManual        = "Manual Close"
	ExitLiquidation   = "Liquidation"
)

// Pre-trade / operational rejection reasons (component F / §7 taxonomy).
const (
	ReasonInvalidVolume     = "INVALID_VOLUME"
	ReasonMaxPositions      = "MAX_POSITIONS"
	ReasonInsufficientMargin = "INSUFFICIENT_MARGIN"
	ReasonBrokerReject      = "BROKER_REJECT"
	ReasonIOCRemainder      = "IOC remainder"
	ReasonFOKUnfillable     = "FOK unfillable"
)

// Bar is one OHLC interval with bid/ask and tick volume (component A).
// Immutable once constructed; matching decisions read only this record.
type Bar struct {
	Time       time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	TickVolume int64
}

// Order is a strategy's instruction, tracked through its lifecycle.
type Order struct {
	OrderID      string
	Symbol       string
	Type         OrderType
	Side         Side
	Quantity     decimal.Decimal // requested
	LimitPrice   *decimal.Decimal
	StopPrice    *decimal.Decimal
	TimeInForce  TimeInForce
	CreatedTime  time.Time
	ExpiresAt    *time.Time
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	StrategyName string

	FilledQuantity   decimal.Decimal
	RemainingQuantity decimal.Decimal
	AvgFillPrice     decimal.Decimal
	Status           OrderStatus
	FilledTime       *time.Time
	CancelledTime    *time.Time
	RejectionReason  string
	CancelledReason  string

	// StopTriggered marks a STOP/STOP_LIMIT order whose stop condition has
	// already fired and which now behaves as its converted order type.
	StopTriggered bool
}

// Fill is an immutable realized execution against an order.
type Fill struct {
	FillID          string
	OrderID         string
	FillTime        time.Time
	FillPrice       decimal.Decimal
	FillVolume      decimal.Decimal
	Commission      decimal.Decimal
	IsPartial       bool
	RemainingVolumeAfter decimal.Decimal
	MarketPrice     decimal.Decimal
	Bid             decimal.Decimal
	Ask             decimal.Decimal
	BarVolume       int64
}

// Position is the exposure opened by a single fill; each opening fill
// creates its own Position.
type Position struct {
	PositionID     string
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	CurrentPrice   decimal.Decimal
	ExitPrice      *decimal.Decimal
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	IsOpen         bool
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	TotalCommission decimal.Decimal
	TotalSwap      decimal.Decimal
	SpreadCost     decimal.Decimal
	OpenTime       time.Time
	CloseTime      *time.Time
	ExitReason     string
	StrategyName   string
}

// Trade is the closed round-trip derived from a Position, immutable once written.
type Trade struct {
	TradeID       string
	Symbol        string
	Direction     Side
	EntryTime     time.Time
	ExitTime      time.Time
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.Decimal
	LotSize       decimal.Decimal
	GrossPnL      decimal.Decimal
	Commission    decimal.Decimal
	Swap          decimal.Decimal
	SpreadCost    decimal.Decimal
	Slippage      decimal.Decimal
	NetPnL        decimal.Decimal
	Pips          decimal.Decimal
	DurationHours decimal.Decimal
	ExitReason    string
	BalanceAfter  decimal.Decimal
	EquityAfter   decimal.Decimal
	DrawdownPct   decimal.Decimal
	StrategyName  string
}

// AccountSnapshot is a periodic record of account state (component §4.E).
type AccountSnapshot struct {
	ID                   uint
	Timestamp            time.Time
	Balance              decimal.Decimal
	Equity               decimal.Decimal
	MarginUsed           decimal.Decimal
	FreeMargin           decimal.Decimal
	MarginLevel          decimal.Decimal
	NumPositions         int
	NumPendingOrders     int
	DailyPnL             decimal.Decimal
	DailyReturnPct       decimal.Decimal
	TotalRealizedPnL     decimal.Decimal
	TotalTrades          int
	TotalCommissionPaid  decimal.Decimal
	DrawdownUSD          decimal.Decimal
	DrawdownPct          decimal.Decimal
}
