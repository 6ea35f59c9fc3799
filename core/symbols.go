package core

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYMBOLS - Instrument metadata management
// ═══════════════════════════════════════════════════════════════════════════════

// Symbol describes the contract metadata used to translate a quoted price and
// a lot size into account-currency money.
type Symbol struct {
	Name         string
	ContractSize decimal.Decimal // units per lot, e.g. 100000 for FX majors
	PointSize    decimal.Decimal // smallest quoted price increment
	MinLot       decimal.Decimal
	MaxLot       decimal.Decimal
	LotStep      decimal.Decimal
}

var defaultContractSize = decimal.NewFromInt(100000)

// DefaultPointSize applies the documented JPY vs non-JPY convention when a
// symbol has no registered metadata.
func DefaultPointSize(symbol string) decimal.Decimal {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return decimal.NewFromFloat(0.01)
	}
	return decimal.NewFromFloat(0.0001)
}

// SymbolManager manages instrument metadata, falling back to documented
// defaults for anything not explicitly registered.
type SymbolManager struct {
	mu      sync.RWMutex
	symbols map[string]*Symbol
}

// NewSymbolManager creates a new symbol manager.
func NewSymbolManager() *SymbolManager {
	return &SymbolManager{
		symbols: make(map[string]*Symbol),
	}
}

// Register adds or updates a symbol's metadata.
func (sm *SymbolManager) Register(s *Symbol) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.symbols[s.Name] = s
}

// Get returns the registered metadata for a symbol, or a synthesized default
// (JPY/non-JPY point size, standard lot contract size) if none was registered.
func (sm *SymbolManager) Get(name string) *Symbol {
	sm.mu.RLock()
	s, ok := sm.symbols[name]
	sm.mu.RUnlock()
	if ok {
		return s
	}

	return &Symbol{
		Name:         name,
		ContractSize: defaultContractSize,
		PointSize:    DefaultPointSize(name),
		MinLot:       decimal.NewFromFloat(0.01),
		MaxLot:       decimal.NewFromInt(100),
		LotStep:      decimal.NewFromFloat(0.01),
	}
}

// Count returns the number of explicitly registered symbols.
func (sm *SymbolManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.symbols)
}
