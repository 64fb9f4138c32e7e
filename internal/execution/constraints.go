package execution

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// exchangeInfoFile mirrors the cached exchange-info layout:
// {"symbols": [{"symbol": ..., "filters": [{"filterType": ...}]}]}.
type exchangeInfoFile struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize,omitempty"`
			StepSize   string `json:"stepSize,omitempty"`
			MinQty     string `json:"minQty,omitempty"`
		} `json:"filters"`
	} `json:"symbols"`
	FetchedAtMs int64 `json:"fetched_at_ms,omitempty"`
}

// ConstraintProvider serves SymbolConstraints from a cached
// exchange-info file. A stale cache is a valid fallback; only a
// missing or unparseable cache is an error.
type ConstraintProvider struct {
	path        string
	ttlMs       int64
	clock       core.Clock
	logger      core.ILogger
	constraints map[string]core.SymbolConstraints
	fetchedAtMs int64
}

// NewConstraintProvider loads the cache at path.
func NewConstraintProvider(path string, ttlMs int64, clock core.Clock, logger core.ILogger) (*ConstraintProvider, error) {
	p := &ConstraintProvider{
		path:   path,
		ttlMs:  ttlMs,
		clock:  clock,
		logger: logger.WithField("component", "constraint_provider"),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ConstraintProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read exchange-info cache: %w", err)
	}
	var file exchangeInfoFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse exchange-info cache: %w", err)
	}

	constraints := make(map[string]core.SymbolConstraints, len(file.Symbols))
	for _, s := range file.Symbols {
		c := core.SymbolConstraints{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				if c.TickSize, err = decimal.NewFromString(f.TickSize); err != nil {
					return fmt.Errorf("symbol %s tickSize: %w", s.Symbol, err)
				}
			case "LOT_SIZE":
				if c.StepSize, err = decimal.NewFromString(f.StepSize); err != nil {
					return fmt.Errorf("symbol %s stepSize: %w", s.Symbol, err)
				}
				if c.MinQty, err = decimal.NewFromString(f.MinQty); err != nil {
					return fmt.Errorf("symbol %s minQty: %w", s.Symbol, err)
				}
			}
		}
		constraints[s.Symbol] = c
	}

	p.constraints = constraints
	p.fetchedAtMs = file.FetchedAtMs
	return nil
}

// Get returns constraints for a symbol.
func (p *ConstraintProvider) Get(symbol string) (core.SymbolConstraints, error) {
	if p.ttlMs > 0 && p.fetchedAtMs > 0 && p.clock.NowMs()-p.fetchedAtMs > p.ttlMs {
		p.logger.Warn("exchange-info cache is stale, using as fallback",
			"age_ms", p.clock.NowMs()-p.fetchedAtMs, "ttl_ms", p.ttlMs)
	}
	c, ok := p.constraints[symbol]
	if !ok {
		return core.SymbolConstraints{}, fmt.Errorf("no constraints for symbol %s", symbol)
	}
	return c, nil
}

// Symbols lists the cached symbols.
func (p *ConstraintProvider) Symbols() []string {
	out := make([]string, 0, len(p.constraints))
	for s := range p.constraints {
		out = append(out, s)
	}
	return out
}
