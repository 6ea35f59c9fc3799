// Command paperbroker wires the cost model, matching engine, account
// kernel, persistence layer, and broker façade together and runs a small
// demo session. Grounded on the teacher's cmd/main.go bootstrap shape
// (config load -> logger -> db -> engine -> run).
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"paperbroker/account"
	"paperbroker/broker"
	"paperbroker/core"
	"paperbroker/costmodel"
	"paperbroker/internal/config"
	"paperbroker/matching"
	"paperbroker/storage"
	"paperbroker/types"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	log.Logger = logger

	cfg := config.Load()

	store, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open persistence layer")
	}
	defer store.Close()

	symbols := core.NewSymbolManager()
	symbols.Register(&core.Symbol{
		Name:         "EURUSD",
		ContractSize: decimal.NewFromInt(100000),
		PointSize:    core.DefaultPointSize("EURUSD"),
		MinLot:       decimal.NewFromFloat(0.01),
		MaxLot:       decimal.NewFromInt(100),
		LotStep:      decimal.NewFromFloat(0.01),
	})

	rnd := rand.New(rand.NewSource(42)) // injectable, instance-seeded (spec §9)

	costs := costmodel.Config{
		SpreadPips:            cfg.SpreadPips,
		SpreadVolumeThreshold: cfg.SpreadVolumeThreshold,
		MaxSpreadMultiplier:   cfg.MaxSpreadMultiplier,
		CommissionPerLot:      cfg.CommissionPerLot,
		SlippagePipsAvg:       cfg.SlippagePipsAvg,
		SlippagePipsMax:       cfg.SlippagePipsMax,
		SLSlippageMultiplier:  cfg.SLSlippageMultiplier,
		TPSlippageMultiplier:  cfg.TPSlippageMultiplier,
		SwapLong:              cfg.SwapLong,
		SwapShort:             cfg.SwapShort,
	}

	matchingEngine := matching.NewEngine(symbols, costs, rnd, logger.With().Str("component", "matching").Logger())

	kernelCfg := account.Config{
		InitialBalance:       cfg.InitialBalance,
		MaxPositions:         cfg.MaxPositions,
		RejectionProbability: cfg.RejectionProbability,
		SnapshotCadence:      cfg.SnapshotCadenceBars,
		Rollover:             account.DefaultRolloverConfig(),
		Leverage:             decimal.NewFromInt(30),
	}
	kernel := account.NewKernel(kernelCfg, costs, symbols, rnd, store, store, logger.With().Str("component", "account").Logger())

	b := broker.New(matchingEngine, kernel, store, logger.With().Str("component", "broker").Logger())

	runDemo(b, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("shutting down")
}

// runDemo submits a single market order and steps two bars through it, a
// minimal stand-in for the external backtest driver this repo does not own.
func runDemo(b *broker.Broker, logger zerolog.Logger) {
	ok, orderID, err := b.SubmitOrder(broker.SubmitOrderParams{
		Symbol:      "EURUSD",
		Type:        "MARKET",
		Side:        "BUY",
		Quantity:    decimal.NewFromFloat(0.1),
		TakeProfit:  decimalPtr(decimal.NewFromFloat(1.1100)),
		TimeInForce: "GTC",
	})
	if !ok {
		logger.Warn().Err(err).Msg("demo order rejected")
		return
	}
	logger.Info().Str("order_id", orderID).Msg("demo order submitted")

	now := time.Now().UTC()
	_ = b.OnBar("EURUSD", makeDemoBar(now, "1.0999", "1.1001", "1.0999", "1.1000", "1.1001", 1000))
	_ = b.OnBar("EURUSD", makeDemoBar(now.Add(time.Hour), "1.1000", "1.1105", "1.0995", "1.1090", "1.1091", 1000))

	info := b.GetAccountInfo()
	logger.Info().Str("balance", info.Balance.String()).Str("equity", info.Equity.String()).Msg("demo run complete")
}

func makeDemoBar(t time.Time, open, high, low, close, ask string, vol int64) types.Bar {
	return types.Bar{
		Time:       t,
		Open:       decimal.RequireFromString(open),
		High:       decimal.RequireFromString(high),
		Low:        decimal.RequireFromString(low),
		Close:      decimal.RequireFromString(close),
		Bid:        decimal.RequireFromString(close),
		Ask:        decimal.RequireFromString(ask),
		TickVolume: vol,
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

