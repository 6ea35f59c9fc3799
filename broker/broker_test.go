package broker

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"paperbroker/account"
	"paperbroker/core"
	"paperbroker/costmodel"
	"paperbroker/matching"
	"paperbroker/storage"
	"paperbroker/types"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

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
	rnd := rand.New(rand.NewSource(7))

	m := matching.NewEngine(symbols, costs, rnd, zerolog.Nop())
	k := account.NewKernel(account.DefaultConfig(), costs, symbols, rnd, store, store, zerolog.Nop())
	return New(m, k, store, zerolog.Nop())
}

func eurusdBar(t time.Time, low, high, close, bid, ask string, vol int64) types.Bar {
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

// Scenario 1 at the façade level: market buy with a take-profit, driven
// through submit_order/on_bar exactly as a strategy would call it.
func TestSubmitOrderMarketBuyWithTakeProfit(t *testing.T) {
	b := newTestBroker(t)
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	ok, orderID, err := b.SubmitOrder(SubmitOrderParams{
		Symbol:      "EURUSD",
		Type:        types.Market,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(0.1),
		TakeProfit:  ptr(decimal.RequireFromString("1.1100")),
		TimeInForce: types.GTC,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, orderID)

	require.NoError(t, b.OnBar("EURUSD", eurusdBar(base, "1.0990", "1.1005", "1.1000", "1.0999", "1.1001", 1000)))

	info := b.GetAccountInfo()
	require.True(t, info.Balance.LessThan(account.DefaultConfig().InitialBalance))
	require.Equal(t, 1, info.NumOpen)

	require.NoError(t, b.OnBar("EURUSD", eurusdBar(base.Add(time.Hour), "1.1050", "1.1105", "1.1090", "1.1089", "1.1091", 1000)))

	after := b.GetAccountInfo()
	require.Equal(t, 0, after.NumOpen)
	require.True(t, after.Balance.GreaterThan(account.DefaultConfig().InitialBalance))

	trades := b.GetTradeHistory("EURUSD", time.Time{}, time.Time{})
	require.Len(t, trades, 1)
	require.Equal(t, types.ExitTakeProfit, trades[0].ExitReason)
	require.True(t, trades[0].NetPnL.GreaterThan(decimal.Zero))
}

// Round-trip law: submit then cancel before any fill leaves balance
// unchanged, and cancelling the now-terminal order again is a no-op success.
func TestSubmitThenCancelLeavesBalanceUnchanged(t *testing.T) {
	b := newTestBroker(t)

	startBalance := b.GetAccountInfo().Balance
	limit := decimal.RequireFromString("1.0000")
	ok, orderID, err := b.SubmitOrder(SubmitOrderParams{
		Symbol:      "EURUSD",
		Type:        types.Limit,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(1.0),
		LimitPrice:  &limit,
		TimeInForce: types.GTC,
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.CancelOrder(orderID, "test cancel")
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, b.GetAccountInfo().Balance.Equal(startBalance))

	// Idempotent: cancelling an already-terminal order is a no-op success.
	ok, err = b.CancelOrder(orderID, "again")
	require.NoError(t, err)
	require.True(t, ok)
}

// Pre-trade rejection surfaces as a REJECTED order, not a panic or a
// network-style exception (spec §7).
func TestSubmitOrderRejectedOnInvalidVolume(t *testing.T) {
	b := newTestBroker(t)
	ok, orderID, err := b.SubmitOrder(SubmitOrderParams{
		Symbol:      "EURUSD",
		Type:        types.Market,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(0.0001),
		TimeInForce: types.GTC,
	})
	require.Error(t, err)
	require.False(t, ok)
	require.NotEmpty(t, orderID)
}

// Scenario 6 (replay equivalence), exercised as the determinism property it
// depends on: two independently wired brokers seeded identically and fed
// the same bar sequence reach the same final balance, equity, and open
// position count — the same guarantee a replay of the persisted event log
// into a fresh kernel must reproduce.
func TestDeterministicReplayAcrossIndependentBrokers(t *testing.T) {
	run := func() (balance, equity decimal.Decimal, openPositions int, tradeCount int) {
		b := newTestBroker(t)
		base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

		_, _, err := b.SubmitOrder(SubmitOrderParams{
			Symbol:      "EURUSD",
			Type:        types.Market,
			Side:        types.Buy,
			Quantity:    decimal.NewFromFloat(0.1),
			StopLoss:    ptr(decimal.RequireFromString("1.0950")),
			TakeProfit:  ptr(decimal.RequireFromString("1.1100")),
			TimeInForce: types.GTC,
		})
		require.NoError(t, err)

		require.NoError(t, b.OnBar("EURUSD", eurusdBar(base, "1.0990", "1.1005", "1.1000", "1.0999", "1.1001", 1000)))
		require.NoError(t, b.OnBar("EURUSD", eurusdBar(base.Add(time.Hour), "1.1050", "1.1105", "1.1090", "1.1089", "1.1091", 1000)))

		info := b.GetAccountInfo()
		trades := b.GetTradeHistory("EURUSD", time.Time{}, time.Time{})
		return info.Balance, info.Equity, info.NumOpen, len(trades)
	}

	bal1, eq1, open1, trades1 := run()
	bal2, eq2, open2, trades2 := run()

	require.True(t, bal1.Equal(bal2))
	require.True(t, eq1.Equal(eq2))
	require.Equal(t, open1, open2)
	require.Equal(t, trades1, trades2)
}

// recordingListener implements both FillListener and CloseListener, and
// re-enters the façade from inside the callback to prove OnBar does not
// deadlock and that the re-entrant submit defers to the next bar (spec §9,
// spec §5 ordering guarantees).
type recordingListener struct {
	b           *Broker
	fills       []types.Fill
	closes      []types.Trade
	submittedID string
	submitErr   error
}

func (r *recordingListener) OnFill(order types.Order, fill types.Fill) {
	r.fills = append(r.fills, fill)
	_, id, err := r.b.SubmitOrder(SubmitOrderParams{
		Symbol:      "EURUSD",
		Type:        types.Limit,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(0.1),
		LimitPrice:  ptr(decimal.RequireFromString("1.0000")),
		TimeInForce: types.GTC,
	})
	r.submitErr = err
	r.submittedID = id
}

func (r *recordingListener) OnPositionClose(trade types.Trade) {
	r.closes = append(r.closes, trade)
}

func TestFillAndCloseListenersFireWithoutDeadlockAndSubmitDefers(t *testing.T) {
	b := newTestBroker(t)
	listener := &recordingListener{b: b}
	b.AddFillListener(listener)
	b.AddCloseListener(listener)

	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	ok, _, err := b.SubmitOrder(SubmitOrderParams{
		Symbol:      "EURUSD",
		Type:        types.Market,
		Side:        types.Buy,
		Quantity:    decimal.NewFromFloat(0.1),
		TakeProfit:  ptr(decimal.RequireFromString("1.1100")),
		TimeInForce: types.GTC,
	})
	require.True(t, ok)
	require.NoError(t, err)

	require.NoError(t, b.OnBar("EURUSD", eurusdBar(base, "1.0990", "1.1005", "1.1000", "1.0999", "1.1001", 1000)))
	require.Len(t, listener.fills, 1)
	require.NoError(t, listener.submitErr)
	require.NotEmpty(t, listener.submittedID)

	// The submit issued from inside the fill callback must not be matched
	// in the same bar: it is still pending after this bar's matching pass.
	pending := b.Orders()
	require.Len(t, pending, 1)
	require.Equal(t, listener.submittedID, pending[0].OrderID)

	require.NoError(t, b.OnBar("EURUSD", eurusdBar(base.Add(time.Hour), "1.1050", "1.1105", "1.1090", "1.1089", "1.1091", 1000)))
	require.Len(t, listener.closes, 1)
	require.Equal(t, types.ExitTakeProfit, listener.closes[0].ExitReason)
}

// The background auto-update driver starts, ticks against a fake bar
// source, and stops cleanly, joining the in-flight tick (spec §5).
func TestAutoUpdateStartStop(t *testing.T) {
	b := newTestBroker(t)

	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	src := &fakeBarSource{
		bars: []types.Bar{
			eurusdBar(base, "1.0990", "1.1005", "1.1000", "1.0999", "1.1001", 1000),
			eurusdBar(base.Add(time.Hour), "1.1000", "1.1010", "1.1005", "1.1004", "1.1006", 1000),
		},
	}

	require.NoError(t, b.StartAutoUpdate(context.Background(), src, []string{"EURUSD"}, 10*time.Millisecond))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.StopAutoUpdate())

	require.GreaterOrEqual(t, src.calls, 1)

	// Stopping twice is safe.
	require.NoError(t, b.StopAutoUpdate())
}

type fakeBarSource struct {
	bars  []types.Bar
	idx   int
	calls int
}

func (f *fakeBarSource) NextBar(ctx context.Context, symbol string) (types.Bar, bool, error) {
	f.calls++
	if f.idx >= len(f.bars) {
		return types.Bar{}, false, nil
	}
	bar := f.bars[f.idx]
	f.idx++
	return bar, true, nil
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
