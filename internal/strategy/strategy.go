// Package strategy defines the Strategy interface for entry logic and a
// constructor registry that resolves the configured strategy at startup.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"solotrader/internal/domain"
)

// Strategy produces at most one entry signal per closed bar and assigns the
// initial risk levels for it. Implementations are stateless between calls:
// everything they need is in the bar series and the params.
type Strategy interface {
	// Name returns the unique identifier this strategy registers under.
	Name() string

	// Enrich computes the indicator columns the strategy needs over the full
	// series. It never drops or reorders bars.
	Enrich(bars domain.Series, p Params) *Frame

	// SignalOnClose evaluates the last closed bar of an enriched frame and
	// returns a signal, or nil when no entry condition holds.
	SignalOnClose(f *Frame, p Params) *domain.Signal

	// InitialRisk derives stop, target and R from the confirmed entry price
	// and the signal bar's ATR.
	InitialRisk(entry, atr float64, sig *domain.Signal, p Params) domain.RiskLevels
}

// Params carries strategy tuning values from the config file. Values are
// whatever YAML produced; the typed getters apply defaults on missing or
// mistyped keys.
type Params map[string]any

// Float returns the parameter as float64, or def when absent or not numeric.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int returns the parameter as int, or def when absent or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// String returns the parameter as string, or def when absent.
func (p Params) String(key string, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

var (
	mu       sync.RWMutex
	registry = make(map[string]func() Strategy)
)

// Register adds a strategy constructor under name. It is called from package
// init() in the builtins package; duplicate names panic at startup.
func Register(name string, ctor func() Strategy) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = ctor
}

// New constructs the named strategy. An unknown name is an error the caller
// should treat as fatal at startup.
func New(name string) (Strategy, error) {
	mu.RLock()
	ctor, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, Names())
	}
	return ctor(), nil
}

// Names returns the sorted list of registered strategy names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
