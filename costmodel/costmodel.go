// Package costmodel implements the pure-function arithmetic of spread,
// commission, slippage, and swap that the account kernel applies around
// every fill and every rollover. Grounded on risk/manager.go's env-var
// configured knob style and the YoForex engine's pip/point arithmetic.
package costmodel

import (
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

// Config enumerates the configuration surface of the cost model (spec §4.B, §6).
type Config struct {
	SpreadPips            decimal.Decimal
	SpreadVolumeThreshold int64
	MaxSpreadMultiplier   decimal.Decimal

	CommissionPerLot decimal.Decimal

	SlippagePipsAvg      decimal.Decimal
	SlippagePipsMax      decimal.Decimal
	SLSlippageMultiplier decimal.Decimal
	TPSlippageMultiplier decimal.Decimal

	SwapLong  decimal.Decimal
	SwapShort decimal.Decimal
}

// DefaultConfig returns conservative, deterministic-friendly defaults.
func DefaultConfig() Config {
	return Config{
		SpreadPips:            decimal.NewFromFloat(1.5),
		SpreadVolumeThreshold: 100,
		MaxSpreadMultiplier:   decimal.NewFromInt(3),
		CommissionPerLot:      decimal.NewFromFloat(7),
		SlippagePipsAvg:       decimal.NewFromFloat(0.3),
		SlippagePipsMax:       decimal.NewFromFloat(1.2),
		SLSlippageMultiplier:  decimal.NewFromFloat(1.5),
		TPSlippageMultiplier:  decimal.NewFromFloat(0.5),
		SwapLong:              decimal.NewFromFloat(-2.5),
		SwapShort:             decimal.NewFromFloat(0.8),
	}
}

// DefaultPointSize applies the documented JPY vs non-JPY convention.
// Mirrors core.DefaultPointSize; kept independent so costmodel does not
// import core.
func DefaultPointSize(symbol string) decimal.Decimal {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return decimal.NewFromFloat(0.01)
	}
	return decimal.NewFromFloat(0.0001)
}

// Commission computes the commission charged for a fill of the given lot volume.
func (c Config) Commission(fillVolume decimal.Decimal) decimal.Decimal {
	return fillVolume.Mul(c.CommissionPerLot)
}

// SpreadCost estimates the round-trip spread cost of a fill.
func (c Config) SpreadCost(bid, ask, fillVolume, contractSize decimal.Decimal) decimal.Decimal {
	return ask.Sub(bid).Abs().Mul(fillVolume).Mul(contractSize)
}

// EffectiveSpreadPips widens the configured spread when bar volume is thin,
// capped at MaxSpreadMultiplier.
func (c Config) EffectiveSpreadPips(barVolume int64) decimal.Decimal {
	if c.SpreadVolumeThreshold <= 0 || barVolume >= c.SpreadVolumeThreshold {
		return c.SpreadPips
	}
	// Linear widening as volume drops toward zero, capped.
	deficit := decimal.NewFromInt(c.SpreadVolumeThreshold - barVolume)
	threshold := decimal.NewFromInt(c.SpreadVolumeThreshold)
	multiplier := decimal.NewFromInt(1).Add(deficit.Div(threshold))
	if multiplier.GreaterThan(c.MaxSpreadMultiplier) {
		multiplier = c.MaxSpreadMultiplier
	}
	return c.SpreadPips.Mul(multiplier)
}

// Slippage kinds, used to pick the right multiplier.
type SlippageKind int

const (
	SlippageEntry SlippageKind = iota
	SlippageStopLoss
	SlippageTakeProfit
)

// Slippage draws a bounded pseudo-random slippage amount, in price terms,
// given the symbol's point size. The source is injected so tests can seed
// it for reproducibility (spec §9).
func (c Config) Slippage(rnd *rand.Rand, kind SlippageKind, pointSize decimal.Decimal) decimal.Decimal {
	// Mean of two uniform draws scaled to [0, 2*SlippagePipsAvg], so the
	// expected slippage is SlippagePipsAvg, then clamped to
	// [0, SlippagePipsMax] (keeps it bounded and simple, no need for a full
	// distribution library for this domain).
	r1 := rnd.Float64()
	r2 := rnd.Float64()
	avg := c.SlippagePipsAvg.InexactFloat64()
	max := c.SlippagePipsMax.InexactFloat64()
	pips := avg * (r1 + r2)
	if pips > max {
		pips = max
	}
	if pips < 0 {
		pips = 0
	}
	slip := decimal.NewFromFloat(pips).Mul(pointSize)

	switch kind {
	case SlippageStopLoss:
		return slip.Mul(c.SLSlippageMultiplier)
	case SlippageTakeProfit:
		return slip.Mul(c.TPSlippageMultiplier)
	default:
		return slip
	}
}

// Swap returns the per-lot overnight charge/credit for the given side.
func (c Config) Swap(side string, quantity decimal.Decimal) decimal.Decimal {
	if side == "BUY" {
		return c.SwapLong.Mul(quantity)
	}
	return c.SwapShort.Mul(quantity)
}
