// Package storage implements the Persistence Layer (component C) on GORM,
// grounded on the teacher's internal/database/database.go dual-backend
// (SQLite / Postgres) setup and decimal-typed column style.
package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord is the persisted shape of types.Order.
type OrderRecord struct {
	OrderID           string `gorm:"primaryKey"`
	Symbol            string `gorm:"index:idx_orders_symbol_status_created"`
	OrderType         string
	Side              string
	Quantity          decimal.Decimal `gorm:"type:decimal(18,8)"`
	LimitPrice        *decimal.Decimal `gorm:"type:decimal(18,8)"`
	StopPrice         *decimal.Decimal `gorm:"type:decimal(18,8)"`
	AvgFillPrice      decimal.Decimal  `gorm:"type:decimal(18,8)"`
	Status            string           `gorm:"index:idx_orders_symbol_status_created"`
	FilledQuantity    decimal.Decimal  `gorm:"type:decimal(18,8)"`
	RemainingQuantity decimal.Decimal  `gorm:"type:decimal(18,8)"`
	CreatedTime       time.Time        `gorm:"index:idx_orders_symbol_status_created"`
	FilledTime        *time.Time
	CancelledTime     *time.Time
	ExpiresAt         *time.Time
	RejectionReason   string
	CancelledReason   string
	StrategyName      string
	StopLoss          *decimal.Decimal `gorm:"type:decimal(18,8)"`
	TakeProfit        *decimal.Decimal `gorm:"type:decimal(18,8)"`

	Fills []FillRecord `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// FillRecord is the persisted shape of types.Fill. FK to OrderRecord with
// cascading delete (spec §3 invariant 4, §6 schema).
type FillRecord struct {
	FillID               string `gorm:"primaryKey"`
	OrderID              string `gorm:"index:idx_fills_order_time"`
	FillTime             time.Time `gorm:"index:idx_fills_order_time"`
	FillPrice            decimal.Decimal `gorm:"type:decimal(18,8)"`
	FillVolume           decimal.Decimal `gorm:"type:decimal(18,8)"`
	Commission           decimal.Decimal `gorm:"type:decimal(18,8)"`
	IsPartial            bool
	RemainingVolumeAfter decimal.Decimal `gorm:"type:decimal(18,8)"`
	MarketPrice          decimal.Decimal `gorm:"type:decimal(18,8)"`
	Bid                  decimal.Decimal `gorm:"type:decimal(18,8)"`
	Ask                  decimal.Decimal `gorm:"type:decimal(18,8)"`
	BarVolume            int64
}

// PositionRecord is the persisted shape of types.Position.
type PositionRecord struct {
	PositionID      string `gorm:"primaryKey"`
	Symbol          string `gorm:"index:idx_positions_symbol_open_opentime"`
	Side            string
	Quantity        decimal.Decimal `gorm:"type:decimal(18,8)"`
	EntryPrice      decimal.Decimal `gorm:"type:decimal(18,8)"`
	CurrentPrice    decimal.Decimal `gorm:"type:decimal(18,8)"`
	ExitPrice       *decimal.Decimal `gorm:"type:decimal(18,8)"`
	StopLoss        *decimal.Decimal `gorm:"type:decimal(18,8)"`
	TakeProfit      *decimal.Decimal `gorm:"type:decimal(18,8)"`
	IsOpen          bool             `gorm:"index:idx_positions_symbol_open_opentime"`
	UnrealizedPnL   decimal.Decimal  `gorm:"type:decimal(18,8)"`
	RealizedPnL     decimal.Decimal  `gorm:"type:decimal(18,8)"`
	TotalCommission decimal.Decimal  `gorm:"type:decimal(18,8)"`
	TotalSwap       decimal.Decimal  `gorm:"type:decimal(18,8)"`
	SpreadCost      decimal.Decimal  `gorm:"type:decimal(18,8)"`
	OpenTime        time.Time        `gorm:"index:idx_positions_symbol_open_opentime"`
	CloseTime       *time.Time
	ExitReason      string
	StrategyName    string
}

// TradeRecord is the persisted shape of types.Trade. Insert-only.
type TradeRecord struct {
	TradeID       string `gorm:"primaryKey"`
	Symbol        string `gorm:"index:idx_trades_symbol_exittime_netpnl"`
	Direction     string
	EntryTime     time.Time
	ExitTime      time.Time `gorm:"index:idx_trades_symbol_exittime_netpnl"`
	EntryPrice    decimal.Decimal `gorm:"type:decimal(18,8)"`
	ExitPrice     decimal.Decimal `gorm:"type:decimal(18,8)"`
	LotSize       decimal.Decimal `gorm:"type:decimal(18,8)"`
	GrossPnL      decimal.Decimal `gorm:"type:decimal(18,8)"`
	Commission    decimal.Decimal `gorm:"type:decimal(18,8)"`
	Swap          decimal.Decimal `gorm:"type:decimal(18,8)"`
	SpreadCost    decimal.Decimal `gorm:"type:decimal(18,8)"`
	Slippage      decimal.Decimal `gorm:"type:decimal(18,8)"`
	NetPnL        decimal.Decimal `gorm:"type:decimal(18,8);index:idx_trades_symbol_exittime_netpnl"`
	Pips          decimal.Decimal `gorm:"type:decimal(18,8)"`
	DurationHours decimal.Decimal `gorm:"type:decimal(18,8)"`
	ExitReason    string
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(18,8)"`
	EquityAfter   decimal.Decimal `gorm:"type:decimal(18,8)"`
	DrawdownPct   decimal.Decimal `gorm:"type:decimal(18,8)"`
	StrategyName  string
}

// AccountHistoryRecord is a periodic account snapshot, insert-only.
type AccountHistoryRecord struct {
	ID                  uint      `gorm:"primaryKey"`
	Timestamp           time.Time `gorm:"index:idx_account_history_timestamp"`
	Balance             decimal.Decimal `gorm:"type:decimal(18,8)"`
	Equity              decimal.Decimal `gorm:"type:decimal(18,8)"`
	MarginUsed          decimal.Decimal `gorm:"type:decimal(18,8)"`
	FreeMargin          decimal.Decimal `gorm:"type:decimal(18,8)"`
	MarginLevel         decimal.Decimal `gorm:"type:decimal(18,8)"`
	NumPositions        int
	NumPendingOrders    int
	DailyPnL            decimal.Decimal `gorm:"type:decimal(18,8)"`
	DailyReturnPct      decimal.Decimal `gorm:"type:decimal(18,8)"`
	TotalRealizedPnL    decimal.Decimal `gorm:"type:decimal(18,8)"`
	TotalTrades         int
	TotalCommissionPaid decimal.Decimal `gorm:"type:decimal(18,8)"`
	DrawdownUSD         decimal.Decimal `gorm:"type:decimal(18,8)"`
	DrawdownPct         decimal.Decimal `gorm:"type:decimal(18,8)"`
}
