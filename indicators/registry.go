package indicators

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds an indicator for a period. Indicators without a period
// ignore it.
type Factory func(period int) (Indicator, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{
		"sma":    periodic(func(n int) Indicator { return NewSMA(n) }),
		"ema":    periodic(func(n int) Indicator { return NewEMA(n) }),
		"stddev": periodic(func(n int) Indicator { return NewStdDev(n) }),
		"atr":    periodic(func(n int) Indicator { return NewATR(n) }),
		"adx":    periodic(func(n int) Indicator { return NewADX(n) }),
		"vwap":   func(int) (Indicator, error) { return NewVWAP(), nil },
	}
)

func periodic(build func(int) Indicator) Factory {
	return func(period int) (Indicator, error) {
		if period <= 0 {
			return nil, fmt.Errorf("period must be positive, got %d", period)
		}
		return build(period), nil
	}
}

// Register adds or replaces the factory for tag.
func Register(tag string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(tag)] = f
}

// New builds the indicator registered under tag.
func New(tag string, period int) (Indicator, error) {
	mu.RLock()
	f, ok := registry[strings.ToLower(strings.TrimSpace(tag))]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown indicator %q (supported: %s)", tag, strings.Join(Tags(), ", "))
	}
	ind, err := f(period)
	if err != nil {
		return nil, fmt.Errorf("indicator %s: %w", tag, err)
	}
	return ind, nil
}

func Tags() []string {
	mu.RLock()
	defer mu.RUnlock()
	tags := make([]string, 0, len(registry))
	for t := range registry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
