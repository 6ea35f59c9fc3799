package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paperbroker/types"
)

// Store is the append-dominant durable store for orders, fills, positions,
// trades, and account snapshots (spec §4.C). Backed by GORM with either an
// embedded SQLite file or a networked Postgres database, selected by DSN
// shape exactly as the teacher's internal/database package does.
type Store struct {
	db *gorm.DB

	feedMu      sync.Mutex
	tradeSubs   []chan types.Trade
	positionSubs []chan types.Position
}

// Open connects to dsn, choosing Postgres when it carries a postgres://
// or postgresql:// prefix and falling back to an embedded SQLite file
// otherwise, mirroring the teacher's dual-backend detection.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create database directory: %w", mkErr)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&OrderRecord{},
		&FillRecord{},
		&PositionRecord{},
		&TradeRecord{},
		&AccountHistoryRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveOrder inserts a new order row.
func (s *Store) SaveOrder(o types.Order) error {
	rec := orderToRecord(o)
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// UpdateOrder persists mutable fields of an existing order in place (spec
// §4.C "orders ... receive in-place updates limited to their mutable fields").
func (s *Store) UpdateOrder(o types.Order) error {
	rec := orderToRecord(o)
	if err := s.db.Model(&OrderRecord{}).Where("order_id = ?", o.OrderID).
		Select("status", "filled_quantity", "remaining_quantity", "avg_fill_price",
			"filled_time", "cancelled_time", "rejection_reason", "cancelled_reason").
		Updates(rec).Error; err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// SaveFill inserts an immutable fill row. The FK to orders cascades on
// delete via the GORM constraint declared on OrderRecord.Fills.
func (s *Store) SaveFill(f types.Fill) error {
	rec := fillToRecord(f)
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("save fill: %w", err)
	}
	return nil
}

// SavePosition inserts a new position row and notifies position subscribers.
func (s *Store) SavePosition(p types.Position) error {
	rec := positionToRecord(p)
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	s.publishPosition(p)
	return nil
}

// UpdatePosition persists mutable position fields in place and notifies
// position subscribers.
func (s *Store) UpdatePosition(p types.Position) error {
	rec := positionToRecord(p)
	if err := s.db.Model(&PositionRecord{}).Where("position_id = ?", p.PositionID).
		Select("current_price", "exit_price", "is_open", "unrealized_pnl", "realized_pnl",
			"total_commission", "total_swap", "spread_cost", "close_time", "exit_reason").
		Updates(rec).Error; err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	s.publishPosition(p)
	return nil
}

// SaveTrade inserts an immutable trade row and notifies trade subscribers.
func (s *Store) SaveTrade(t types.Trade) error {
	rec := tradeToRecord(t)
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	s.publishTrade(t)
	return nil
}

// SaveSnapshot inserts an account history row.
func (s *Store) SaveSnapshot(a types.AccountSnapshot) error {
	rec := AccountHistoryRecord{
		Timestamp:           a.Timestamp,
		Balance:             a.Balance,
		Equity:              a.Equity,
		MarginUsed:          a.MarginUsed,
		FreeMargin:          a.FreeMargin,
		MarginLevel:         a.MarginLevel,
		NumPositions:        a.NumPositions,
		NumPendingOrders:    a.NumPendingOrders,
		DailyPnL:            a.DailyPnL,
		DailyReturnPct:      a.DailyReturnPct,
		TotalRealizedPnL:    a.TotalRealizedPnL,
		TotalTrades:         a.TotalTrades,
		TotalCommissionPaid: a.TotalCommissionPaid,
		DrawdownUSD:         a.DrawdownUSD,
		DrawdownPct:         a.DrawdownPct,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("save account snapshot: %w", err)
	}
	return nil
}

// OrderByID returns the order with the given id, or nil if not found
// (query operations never error on "not found", spec §7).
func (s *Store) OrderByID(orderID string) (*types.Order, error) {
	var rec OrderRecord
	err := s.db.Where("order_id = ?", orderID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("order by id: %w", err)
	}
	o := recordToOrder(rec)
	return &o, nil
}

// OrdersBySymbolAndStatus returns orders for symbol (optional) and status
// (optional) within [from, to] (optional zero values for unbounded).
func (s *Store) OrdersBySymbolAndStatus(symbol, status string, from, to time.Time) ([]types.Order, error) {
	q := s.db.Model(&OrderRecord{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if !from.IsZero() {
		q = q.Where("created_time >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_time <= ?", to)
	}
	var recs []OrderRecord
	if err := q.Order("created_time asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("orders by symbol/status: %w", err)
	}
	out := make([]types.Order, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordToOrder(r))
	}
	return out, nil
}

// TradesBySymbol returns trades for symbol (optional) within [from, to]
// (optional zero values for unbounded).
func (s *Store) TradesBySymbol(symbol string, from, to time.Time) ([]types.Trade, error) {
	q := s.db.Model(&TradeRecord{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if !from.IsZero() {
		q = q.Where("exit_time >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("exit_time <= ?", to)
	}
	var recs []TradeRecord
	if err := q.Order("exit_time asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("trades by symbol: %w", err)
	}
	out := make([]types.Trade, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordToTrade(r))
	}
	return out, nil
}

// PositionsBySymbol returns positions for symbol (optional), optionally
// filtered to only-open.
func (s *Store) PositionsBySymbol(symbol string, openOnly bool) ([]types.Position, error) {
	q := s.db.Model(&PositionRecord{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if openOnly {
		q = q.Where("is_open = ?", true)
	}
	var recs []PositionRecord
	if err := q.Order("open_time asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("positions by symbol: %w", err)
	}
	out := make([]types.Position, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordToPosition(r))
	}
	return out, nil
}

// FillsByOrder returns all fills for an order, ordered by fill time.
func (s *Store) FillsByOrder(orderID string) ([]types.Fill, error) {
	var recs []FillRecord
	if err := s.db.Where("order_id = ?", orderID).Order("fill_time asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("fills by order: %w", err)
	}
	out := make([]types.Fill, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordToFill(r))
	}
	return out, nil
}

// DeleteOrder removes an order and, via the FK cascade declared on
// OrderRecord, its fills (spec §3 invariant 4).
func (s *Store) DeleteOrder(orderID string) error {
	if err := s.db.Select("Fills").Delete(&OrderRecord{OrderID: orderID}).Error; err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

// ── Lightweight real-time change feed (spec §4.C) ──────────────────────────
//
// Absent subscribers, publishing is a no-op: sends are non-blocking against
// buffered channels, so a slow or absent subscriber never stalls the single
// writer.

// SubscribeTrades registers a new trade-event subscriber.
func (s *Store) SubscribeTrades() <-chan types.Trade {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	ch := make(chan types.Trade, 64)
	s.tradeSubs = append(s.tradeSubs, ch)
	return ch
}

// SubscribePositions registers a new position-event subscriber.
func (s *Store) SubscribePositions() <-chan types.Position {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	ch := make(chan types.Position, 64)
	s.positionSubs = append(s.positionSubs, ch)
	return ch
}

func (s *Store) publishTrade(t types.Trade) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for _, ch := range s.tradeSubs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (s *Store) publishPosition(p types.Position) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for _, ch := range s.positionSubs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("underlying db handle: %w", err)
	}
	return sqlDB.Close()
}
