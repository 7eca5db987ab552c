package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"laddertrade/internal/exchange"
)

// SymbolRules are the exchange filters that matter for order placement.
type SymbolRules struct {
	TickSize decimal.Decimal
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// Precision rounds prices to tick size and quantities to lot step.
type Precision struct {
	mu       sync.RWMutex
	rules    map[string]SymbolRules
	loadedAt time.Time
	ttl      time.Duration
	load     func(ctx context.Context) (map[string]SymbolRules, error)
}

func NewPrecision(load func(ctx context.Context) (map[string]SymbolRules, error)) *Precision {
	return &Precision{load: load, ttl: time.Hour}
}

func (p *Precision) Rules(ctx context.Context, symbol string) (SymbolRules, error) {
	p.mu.RLock()
	r, ok := p.rules[symbol]
	stale := time.Since(p.loadedAt) > p.ttl
	p.mu.RUnlock()
	if ok && !stale {
		return r, nil
	}

	rules, err := p.load(ctx)
	if err != nil {
		if ok {
			return r, nil
		}
		return SymbolRules{}, err
	}
	p.mu.Lock()
	p.rules = rules
	p.loadedAt = time.Now()
	p.mu.Unlock()

	r, ok = rules[symbol]
	if !ok {
		return SymbolRules{}, exchange.Permanent("exchange_info", 0, fmt.Errorf("unknown symbol %s", symbol))
	}
	return r, nil
}

// Normalize returns price and quantity as strings accepted by the exchange.
// Price is rounded to the nearest tick, quantity is floored to the lot step.
func (p *Precision) Normalize(ctx context.Context, symbol string, price, qty decimal.Decimal) (string, string, error) {
	r, err := p.Rules(ctx, symbol)
	if err != nil {
		return "", "", err
	}
	price = roundToStep(price, r.TickSize)
	qty = floorToStep(qty, r.StepSize)
	if !qty.IsPositive() || qty.LessThan(r.MinQty) {
		return "", "", exchange.Permanent("normalize", 0, fmt.Errorf("quantity below minimum %s for %s", r.MinQty, symbol))
	}
	return price.String(), qty.String(), nil
}

func roundToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Round(0).Mul(step)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
