package matching

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"paperbroker/core"
	"paperbroker/costmodel"
	"paperbroker/types"
)

func newTestEngine() *Engine {
	symbols := core.NewSymbolManager()
	symbols.Register(&core.Symbol{
		Name:         "EURUSD",
		ContractSize: decimal.NewFromInt(100000),
		PointSize:    decimal.NewFromFloat(0.0001),
		MinLot:       decimal.NewFromFloat(0.01),
		MaxLot:       decimal.NewFromInt(100),
		LotStep:      decimal.NewFromFloat(0.01),
	})
	costs := costmodel.DefaultConfig()
	costs.SlippagePipsAvg = decimal.Zero
	costs.SlippagePipsMax = decimal.Zero
	rnd := rand.New(rand.NewSource(1))
	return NewEngine(symbols, costs, rnd, zerolog.Nop())
}

func bar(t time.Time, low, high, close, bid, ask string, vol int64) types.Bar {
	return types.Bar{
		Time:       t,
		Low:        decimal.RequireFromString(low),
		High:       decimal.RequireFromString(high),
		Close:      decimal.RequireFromString(close),
		Bid:        decimal.RequireFromString(bid),
		Ask:        decimal.RequireFromString(ask),
		TickVolume: vol,
	}
}

// Scenario 3: limit buy waits, then partially fills, then fully fills.
func TestLimitBuyWaitsThenPartialThenFull(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	limitPrice := decimal.RequireFromString("1.1000")
	order := &types.Order{
		Symbol:      "EURUSD",
		Type:        types.Limit,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(1.0),
		LimitPrice:  &limitPrice,
		TimeInForce: types.GTC,
		CreatedTime: base,
	}
	require.NoError(t, e.Submit(order))

	// Bar A: low=1.1010, no fill.
	fills, _ := e.OnBar("EURUSD", bar(base, "1.1010", "1.1020", "1.1015", "1.1014", "1.1016", 800))
	require.Empty(t, fills)
	require.Equal(t, types.StatusPending, order.Status)

	// Bar B: low=1.0998, vol=800 -> partial fill of 0.8 at 1.1000.
	fillsB, _ := e.OnBar("EURUSD", bar(base.Add(time.Hour), "1.0998", "1.1020", "1.1010", "1.1009", "1.1011", 800))
	require.Len(t, fillsB, 1)
	require.True(t, fillsB[0].IsPartial)
	require.True(t, fillsB[0].FillVolume.Equal(decimal.NewFromFloat(0.8)))
	require.Equal(t, types.StatusPartialFilled, order.Status)
	require.True(t, order.RemainingQuantity.Equal(decimal.NewFromFloat(0.2)))

	// Bar C: low=1.0995, vol=500 -> fill remaining 0.2.
	fillsC, _ := e.OnBar("EURUSD", bar(base.Add(2*time.Hour), "1.0995", "1.1020", "1.1010", "1.1009", "1.1011", 500))
	require.Len(t, fillsC, 1)
	require.False(t, fillsC[0].IsPartial)
	require.Equal(t, types.StatusFilled, order.Status)
	require.True(t, order.RemainingQuantity.IsZero())
}

// Scenario 5: IOC partial then cancel.
func TestIOCPartialThenCancel(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	limitPrice := decimal.RequireFromString("1.1000")
	order := &types.Order{
		Symbol:      "EURUSD",
		Type:        types.Limit,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(10.0),
		LimitPrice:  &limitPrice,
		TimeInForce: types.IOC,
		CreatedTime: base,
	}
	require.NoError(t, e.Submit(order))

	fills, _ := e.OnBar("EURUSD", bar(base, "1.0998", "1.1020", "1.1010", "1.1009", "1.1011", 6))
	require.Len(t, fills, 1)
	require.True(t, fills[0].FillVolume.Equal(decimal.NewFromInt(6)))
	require.Equal(t, types.StatusCancelled, order.Status)
	require.Equal(t, types.ReasonIOCRemainder, order.CancelledReason)
	require.True(t, order.FilledQuantity.Equal(decimal.NewFromInt(6)))
}

// FOK needing 10 units on a bar with 6 -> no fill at all, cancelled.
func TestFOKUnfillable(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	limitPrice := decimal.RequireFromString("1.1000")
	order := &types.Order{
		Symbol:      "EURUSD",
		Type:        types.Limit,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(10.0),
		LimitPrice:  &limitPrice,
		TimeInForce: types.FOK,
		CreatedTime: base,
	}
	require.NoError(t, e.Submit(order))

	fills, _ := e.OnBar("EURUSD", bar(base, "1.0998", "1.1020", "1.1010", "1.1009", "1.1011", 6))
	require.Empty(t, fills)
	require.Equal(t, types.StatusCancelled, order.Status)
	require.Equal(t, types.ReasonFOKUnfillable, order.CancelledReason)
	require.True(t, order.FilledQuantity.IsZero())
}

// Boundary: bar.low == limit_price exactly still matches.
func TestLimitMatchesOnExactTouch(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	limitPrice := decimal.RequireFromString("1.1000")
	order := &types.Order{
		Symbol:      "EURUSD",
		Type:        types.Limit,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(1.0),
		LimitPrice:  &limitPrice,
		TimeInForce: types.GTC,
		CreatedTime: base,
	}
	require.NoError(t, e.Submit(order))

	fills, _ := e.OnBar("EURUSD", bar(base, "1.1000", "1.1020", "1.1010", "1.1009", "1.1011", 800))
	require.Len(t, fills, 1)
	require.True(t, fills[0].FillPrice.Equal(limitPrice))
}

// Scenario 4: stop breakout converts to market.
func TestStopBreakoutConvertsToMarket(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	stopPrice := decimal.RequireFromString("1.1050")
	order := &types.Order{
		Symbol:      "EURUSD",
		Type:        types.Stop,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(1.0),
		StopPrice:   &stopPrice,
		TimeInForce: types.GTC,
		CreatedTime: base,
	}
	require.NoError(t, e.Submit(order))

	fills, _ := e.OnBar("EURUSD", bar(base, "1.1040", "1.1055", "1.1053", "1.1051", "1.1053", 800))
	require.Len(t, fills, 1)
	require.True(t, fills[0].FillPrice.Equal(decimal.RequireFromString("1.1053")))
	require.Equal(t, types.StatusFilled, order.Status)
}

// Deterministic ordering: orders match in (created_time, order_id) order.
func TestDeterministicOrdering(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	o1 := &types.Order{OrderID: "b", Symbol: "EURUSD", Type: types.Market, Side: types.Buy, Quantity: decimal.NewFromFloat(0.5), TimeInForce: types.GTC, CreatedTime: base}
	o2 := &types.Order{OrderID: "a", Symbol: "EURUSD", Type: types.Market, Side: types.Buy, Quantity: decimal.NewFromFloat(0.5), TimeInForce: types.GTC, CreatedTime: base}
	require.NoError(t, e.Submit(o1))
	require.NoError(t, e.Submit(o2))

	fills, _ := e.OnBar("EURUSD", bar(base, "1.0999", "1.1001", "1.1000", "1.0999", "1.1001", 1000))
	require.Len(t, fills, 2)
	require.Equal(t, o2.OrderID, fills[0].OrderID) // "a" sorts before "b"
	require.Equal(t, o1.OrderID, fills[1].OrderID)
}

// Submit -> Cancel before any fill leaves no fills and a terminal order.
func TestSubmitThenCancel(t *testing.T) {
	e := newTestEngine()
	order := &types.Order{
		Symbol:      "EURUSD",
		Type:        types.Limit,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(1.0),
		LimitPrice:  ptr(decimal.RequireFromString("1.0000")),
		TimeInForce: types.GTC,
	}
	require.NoError(t, e.Submit(order))
	require.NoError(t, e.Cancel(order.OrderID, "user cancelled"))
	require.Equal(t, types.StatusCancelled, order.Status)

	// Idempotent: cancelling again is a no-op success.
	require.NoError(t, e.Cancel(order.OrderID, "again"))
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
