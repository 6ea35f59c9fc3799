package account

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

// fakeSink is an in-memory PositionSink/SnapshotSink, standing in for
// storage.Store in kernel-only tests.
type fakeSink struct {
	fills     []types.Fill
	positions []types.Position
	trades    []types.Trade
	orders    []types.Order
	snaps     []types.AccountSnapshot
}

func (f *fakeSink) SaveFill(fl types.Fill) error            { f.fills = append(f.fills, fl); return nil }
func (f *fakeSink) SavePosition(p types.Position) error      { f.positions = append(f.positions, p); return nil }
func (f *fakeSink) UpdatePosition(p types.Position) error    { f.positions = append(f.positions, p); return nil }
func (f *fakeSink) SaveTrade(t types.Trade) error            { f.trades = append(f.trades, t); return nil }
func (f *fakeSink) UpdateOrder(o types.Order) error          { f.orders = append(f.orders, o); return nil }
func (f *fakeSink) SaveSnapshot(s types.AccountSnapshot) error { f.snaps = append(f.snaps, s); return nil }

func newTestKernel(t *testing.T) (*Kernel, *fakeSink) {
	t.Helper()
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
	costs.CommissionPerLot = decimal.NewFromInt(7)
	sink := &fakeSink{}
	cfg := DefaultConfig()
	k := NewKernel(cfg, costs, symbols, rand.New(rand.NewSource(1)), sink, sink, zerolog.Nop())
	return k, sink
}

// Scenario 1: market buy + take profit.
func TestMarketBuyWithTakeProfit(t *testing.T) {
	k, _ := newTestKernel(t)

	order := &types.Order{
		OrderID:  "o1",
		Symbol:   "EURUSD",
		Side:     types.Buy,
		Quantity: decimal.NewFromFloat(0.1),
		StopLoss: nil,
		TakeProfit: ptr(decimal.RequireFromString("1.1100")),
	}
	fill := types.Fill{
		OrderID:    "o1",
		FillPrice:  decimal.RequireFromString("1.1001"),
		FillVolume: decimal.NewFromFloat(0.1),
		Commission: decimal.NewFromFloat(0.7),
		Bid:        decimal.RequireFromString("1.0999"),
		Ask:        decimal.RequireFromString("1.1001"),
		FillTime:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}

	pos, err := k.ApplyFill(order, fill)
	require.NoError(t, err)
	require.True(t, pos.IsOpen)

	balanceAfterFill := k.Balance()
	require.True(t, balanceAfterFill.Equal(DefaultConfig().InitialBalance.Sub(fill.Commission)))

	// Next bar: high touches 1.1105, TP should trigger.
	bar := types.Bar{
		Time:  fill.FillTime.Add(time.Hour),
		High:  decimal.RequireFromString("1.1105"),
		Low:   decimal.RequireFromString("1.1050"),
		Close: decimal.RequireFromString("1.1090"),
	}
	trades := k.UpdatePositions("EURUSD", bar)
	require.Len(t, trades, 1)
	require.True(t, trades[0].NetPnL.GreaterThan(decimal.Zero))

	positions := k.Positions("EURUSD")
	require.Len(t, positions, 1)
	require.False(t, positions[0].IsOpen)
}

// Scenario 2: buy with stop-loss hit.
func TestBuyWithStopLossHit(t *testing.T) {
	k, _ := newTestKernel(t)

	order := &types.Order{
		OrderID:  "o1",
		Symbol:   "EURUSD",
		Side:     types.Buy,
		Quantity: decimal.NewFromFloat(0.1),
		StopLoss: ptr(decimal.RequireFromString("1.0950")),
	}
	fill := types.Fill{
		OrderID:    "o1",
		FillPrice:  decimal.RequireFromString("1.1000"),
		FillVolume: decimal.NewFromFloat(0.1),
		Commission: decimal.NewFromFloat(0.7),
		Bid:        decimal.RequireFromString("1.0998"),
		Ask:        decimal.RequireFromString("1.1000"),
		FillTime:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	_, err := k.ApplyFill(order, fill)
	require.NoError(t, err)

	balanceBeforeClose := k.Balance()

	bar := types.Bar{
		Time:  fill.FillTime.Add(time.Hour),
		Low:   decimal.RequireFromString("1.0940"),
		High:  decimal.RequireFromString("1.0999"),
		Close: decimal.RequireFromString("1.0945"),
	}
	trades := k.UpdatePositions("EURUSD", bar)
	require.Len(t, trades, 1)
	require.Equal(t, types.ExitStopLoss, trades[0].ExitReason)
	require.True(t, trades[0].NetPnL.LessThan(decimal.Zero))
	require.True(t, k.Balance().LessThan(balanceBeforeClose))
}

// Boundary: SL and TP both within [low, high] -> SL-first policy.
func TestSLFirstPolicyWhenBothHit(t *testing.T) {
	k, _ := newTestKernel(t)

	order := &types.Order{
		OrderID:    "o1",
		Symbol:     "EURUSD",
		Side:       types.Buy,
		Quantity:   decimal.NewFromFloat(0.1),
		StopLoss:   ptr(decimal.RequireFromString("1.0950")),
		TakeProfit: ptr(decimal.RequireFromString("1.1050")),
	}
	fill := types.Fill{
		OrderID:    "o1",
		FillPrice:  decimal.RequireFromString("1.1000"),
		FillVolume: decimal.NewFromFloat(0.1),
		Commission: decimal.NewFromFloat(0.7),
		Bid:        decimal.RequireFromString("1.0998"),
		Ask:        decimal.RequireFromString("1.1000"),
		FillTime:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	_, err := k.ApplyFill(order, fill)
	require.NoError(t, err)

	// Both SL (1.0950) and TP (1.1050) sit inside [low, high].
	bar := types.Bar{
		Time:  fill.FillTime.Add(time.Hour),
		Low:   decimal.RequireFromString("1.0900"),
		High:  decimal.RequireFromString("1.1100"),
		Close: decimal.RequireFromString("1.1000"),
	}
	trades := k.UpdatePositions("EURUSD", bar)
	require.Len(t, trades, 1)
	require.Equal(t, types.ExitStopLoss, trades[0].ExitReason)
}

// Invariant: equity == balance + sum(unrealized pnl across open positions).
func TestEquityInvariant(t *testing.T) {
	k, _ := newTestKernel(t)

	order := &types.Order{OrderID: "o1", Symbol: "EURUSD", Side: types.Buy, Quantity: decimal.NewFromFloat(0.1)}
	fill := types.Fill{
		OrderID: "o1", FillPrice: decimal.RequireFromString("1.1000"), FillVolume: decimal.NewFromFloat(0.1),
		Commission: decimal.NewFromFloat(0.7), Bid: decimal.RequireFromString("1.0998"), Ask: decimal.RequireFromString("1.1000"),
		FillTime: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	_, err := k.ApplyFill(order, fill)
	require.NoError(t, err)

	bar := types.Bar{Time: fill.FillTime.Add(time.Hour), Low: decimal.RequireFromString("1.0990"), High: decimal.RequireFromString("1.1010"), Close: decimal.RequireFromString("1.1010")}
	k.UpdatePositions("EURUSD", bar)

	positions := k.Positions("EURUSD")
	require.Len(t, positions, 1)

	expectedEquity := k.Balance().Add(positions[0].UnrealizedPnL)
	require.True(t, k.Equity().Equal(expectedEquity))
}

// Pre-trade rejection: volume below min lot.
func TestPreTradeCheckInvalidVolume(t *testing.T) {
	k, _ := newTestKernel(t)
	ok, reason := k.PreTradeCheck("EURUSD", types.Buy, decimal.NewFromFloat(0.001), decimal.RequireFromString("1.1000"))
	require.False(t, ok)
	require.Equal(t, types.ReasonInvalidVolume, reason)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
