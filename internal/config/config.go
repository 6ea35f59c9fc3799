// Package config loads the broker's configuration surface (spec §6) from
// environment variables, optionally preloaded from a .env file. Grounded on
// the teacher's internal/config/config.go getEnv* helper family and
// risk/manager.go's envDecimalRM/envIntRM pattern; the fields themselves are
// this spec's configuration surface rather than the teacher's polymarket/
// risk-per-trade fields, since that original module concerned a different
// domain.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config mirrors the recognized configuration surface of spec §6.
type Config struct {
	InitialBalance       decimal.Decimal
	SpreadPips           decimal.Decimal
	CommissionPerLot     decimal.Decimal
	SlippagePipsAvg      decimal.Decimal
	SlippagePipsMax      decimal.Decimal
	SLSlippageMultiplier decimal.Decimal
	TPSlippageMultiplier decimal.Decimal
	SwapLong             decimal.Decimal
	SwapShort            decimal.Decimal

	FillProbability      decimal.Decimal
	RejectionProbability decimal.Decimal

	MinLot       decimal.Decimal
	MaxLot       decimal.Decimal
	LotStep      decimal.Decimal
	MaxPositions int

	MinVolume             int64
	SpreadVolumeThreshold int64
	MaxSpreadMultiplier   decimal.Decimal

	SnapshotCadenceBars int
	AutoUpdateInterval  time.Duration

	DatabaseDSN string
}

// Load reads a .env file if present (ignored if missing) then populates
// Config from the environment, falling back to spec-documented defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		InitialBalance:        getEnvDecimal("PAPERBROKER_INITIAL_BALANCE", decimal.NewFromInt(10000)),
		SpreadPips:            getEnvDecimal("PAPERBROKER_SPREAD_PIPS", decimal.NewFromFloat(1.5)),
		CommissionPerLot:      getEnvDecimal("PAPERBROKER_COMMISSION_PER_LOT", decimal.NewFromFloat(7)),
		SlippagePipsAvg:       getEnvDecimal("PAPERBROKER_SLIPPAGE_PIPS_AVG", decimal.NewFromFloat(0.3)),
		SlippagePipsMax:       getEnvDecimal("PAPERBROKER_SLIPPAGE_PIPS_MAX", decimal.NewFromFloat(1.2)),
		SLSlippageMultiplier:  getEnvDecimal("PAPERBROKER_SL_SLIPPAGE_MULTIPLIER", decimal.NewFromFloat(1.5)),
		TPSlippageMultiplier:  getEnvDecimal("PAPERBROKER_TP_SLIPPAGE_MULTIPLIER", decimal.NewFromFloat(0.5)),
		SwapLong:              getEnvDecimal("PAPERBROKER_SWAP_LONG", decimal.NewFromFloat(-2.5)),
		SwapShort:             getEnvDecimal("PAPERBROKER_SWAP_SHORT", decimal.NewFromFloat(0.8)),
		FillProbability:       getEnvDecimal("PAPERBROKER_FILL_PROBABILITY", decimal.NewFromInt(1)),
		RejectionProbability:  getEnvDecimal("PAPERBROKER_REJECTION_PROBABILITY", decimal.Zero),
		MinLot:                getEnvDecimal("PAPERBROKER_MIN_LOT", decimal.NewFromFloat(0.01)),
		MaxLot:                getEnvDecimal("PAPERBROKER_MAX_LOT", decimal.NewFromInt(100)),
		LotStep:               getEnvDecimal("PAPERBROKER_LOT_STEP", decimal.NewFromFloat(0.01)),
		MaxPositions:          getEnvInt("PAPERBROKER_MAX_POSITIONS", 50),
		MinVolume:             getEnvInt64("PAPERBROKER_MIN_VOLUME", 100),
		SpreadVolumeThreshold: getEnvInt64("PAPERBROKER_SPREAD_VOLUME_THRESHOLD", 100),
		MaxSpreadMultiplier:   getEnvDecimal("PAPERBROKER_MAX_SPREAD_MULTIPLIER", decimal.NewFromInt(3)),
		SnapshotCadenceBars:   getEnvInt("PAPERBROKER_SNAPSHOT_CADENCE_BARS", 0),
		AutoUpdateInterval:    getEnvDuration("PAPERBROKER_AUTO_UPDATE_INTERVAL_MS", time.Second),
		DatabaseDSN:           getEnvString("PAPERBROKER_DATABASE_DSN", "paperbroker.db"),
	}
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
