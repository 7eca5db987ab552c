// internal/scanner/service/scanner.go
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"laddertrade/internal/exchange"
	"laddertrade/internal/logger"
)

// Filter selects movers from a 24h snapshot. MinAbsChange is in percent (5 = 5%).
type Filter struct {
	MinAbsChange   decimal.Decimal
	MinQuoteVolume decimal.Decimal
	QuoteAsset     string // symbol suffix, "" for any
	Limit          int
}

// Mover is a ticker that passed the filter.
type Mover struct {
	exchange.Ticker
	Direction string `json:"direction"` // UP or DOWN
}

type Scanner struct {
	source   exchange.TickerSource
	defaults Filter
}

func NewScanner(source exchange.TickerSource, defaults Filter) *Scanner {
	return &Scanner{source: source, defaults: defaults}
}

func (s *Scanner) Defaults() Filter {
	return s.defaults
}

// Scan returns symbols whose absolute 24h change is at least f.MinAbsChange,
// strongest first.
func (s *Scanner) Scan(ctx context.Context, f Filter) ([]Mover, error) {
	tickers, err := s.source.Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tickers: %w", err)
	}
	movers := Select(tickers, f)
	logger.Debug(ctx, "Scanner: scan finished", "tickers", len(tickers), "movers", len(movers),
		"min_change", f.MinAbsChange.String())
	return movers, nil
}

// Select applies f to tickers.
func Select(tickers []exchange.Ticker, f Filter) []Mover {
	out := make([]Mover, 0)
	for _, t := range tickers {
		if f.QuoteAsset != "" && !strings.HasSuffix(t.Symbol, f.QuoteAsset) {
			continue
		}
		if t.ChangePercent.Abs().LessThan(f.MinAbsChange) {
			continue
		}
		if f.MinQuoteVolume.IsPositive() && t.QuoteVolume.LessThan(f.MinQuoteVolume) {
			continue
		}
		dir := "UP"
		if t.ChangePercent.IsNegative() {
			dir = "DOWN"
		}
		out = append(out, Mover{Ticker: t, Direction: dir})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ChangePercent.Abs(), out[j].ChangePercent.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return out[i].Symbol < out[j].Symbol
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
