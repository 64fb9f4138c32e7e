// Package exchange hosts the exchange-port implementations: order
// identity, the idempotent wrapper, the simulated (paper) port, and
// the Binance futures live adapter.
package exchange

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvAllowLegacyOrderID enables acceptance of the pre-v1 client order
// id format.
const EnvAllowLegacyOrderID = "ALLOW_LEGACY_ORDER_ID"

const (
	defaultPrefix     = "grinder_"
	defaultStrategyID = "default"
	// legacyStrategyID marks orders parsed from the legacy format.
	legacyStrategyID = "__legacy__"
)

// IdentityConfig controls client-order-id generation and ownership
// checks. Only IDs matching the prefix with an allowlisted strategy are
// ours; everything else is ignored by the reconciler.
type IdentityConfig struct {
	Prefix            string
	StrategyID        string
	AllowedStrategies map[string]bool
	RequireAllowlist  bool
	AllowLegacy       bool
}

// NewIdentityConfig normalizes and applies env overrides.
func NewIdentityConfig(prefix, strategyID string, allowed []string) IdentityConfig {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	if strategyID == "" {
		strategyID = defaultStrategyID
	}
	allowedSet := make(map[string]bool, len(allowed)+1)
	for _, s := range allowed {
		allowedSet[s] = true
	}
	if len(allowedSet) == 0 {
		allowedSet[strategyID] = true
	}
	return IdentityConfig{
		Prefix:            prefix,
		StrategyID:        strategyID,
		AllowedStrategies: allowedSet,
		RequireAllowlist:  true,
		AllowLegacy:       os.Getenv(EnvAllowLegacyOrderID) == "1",
	}
}

// IsStrategyAllowed checks the allowlist.
func (c IdentityConfig) IsStrategyAllowed(strategyID string) bool {
	if !c.RequireAllowlist {
		return true
	}
	if strategyID == legacyStrategyID {
		return c.AllowLegacy
	}
	return c.AllowedStrategies[strategyID]
}

// ParsedOrderID holds the components of a client order id.
type ParsedOrderID struct {
	Prefix     string
	StrategyID string
	Symbol     string
	LevelID    string
	TS         int64
	Seq        int64
	IsLegacy   bool
}

// GenerateClientOrderID renders the v1 format:
// {prefix}{strategy_id}_{symbol}_{level_id}_{ts}_{seq}.
// Deterministic in its inputs, so replays produce identical IDs.
func GenerateClientOrderID(c IdentityConfig, symbol string, levelID int, ts, seq int64) string {
	return fmt.Sprintf("%s%s_%s_%d_%d_%d", c.Prefix, c.StrategyID, symbol, levelID, ts, seq)
}

// ParseClientOrderID splits a client order id into components.
// Legacy format (no strategy_id) parses only when allowed by config.
func ParseClientOrderID(c IdentityConfig, id string) (ParsedOrderID, error) {
	if !strings.HasPrefix(id, c.Prefix) {
		return ParsedOrderID{}, fmt.Errorf("client order id %q lacks prefix %q", id, c.Prefix)
	}
	rest := strings.TrimPrefix(id, c.Prefix)
	parts := strings.Split(rest, "_")

	switch len(parts) {
	case 5:
		ts, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return ParsedOrderID{}, fmt.Errorf("client order id %q ts: %w", id, err)
		}
		seq, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			return ParsedOrderID{}, fmt.Errorf("client order id %q seq: %w", id, err)
		}
		return ParsedOrderID{
			Prefix:     c.Prefix,
			StrategyID: parts[0],
			Symbol:     parts[1],
			LevelID:    parts[2],
			TS:         ts,
			Seq:        seq,
		}, nil
	case 4:
		if !c.AllowLegacy {
			return ParsedOrderID{}, fmt.Errorf("legacy client order id %q rejected (%s != 1)", id, EnvAllowLegacyOrderID)
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return ParsedOrderID{}, fmt.Errorf("client order id %q ts: %w", id, err)
		}
		seq, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return ParsedOrderID{}, fmt.Errorf("client order id %q seq: %w", id, err)
		}
		return ParsedOrderID{
			Prefix:     c.Prefix,
			StrategyID: legacyStrategyID,
			Symbol:     parts[0],
			LevelID:    parts[1],
			TS:         ts,
			Seq:        seq,
			IsLegacy:   true,
		}, nil
	default:
		return ParsedOrderID{}, fmt.Errorf("client order id %q has %d segments", id, len(parts))
	}
}

// IsOurs reports whether a client order id belongs to an allowed
// strategy of ours.
func IsOurs(c IdentityConfig, id string) bool {
	parsed, err := ParseClientOrderID(c, id)
	if err != nil {
		return false
	}
	return c.IsStrategyAllowed(parsed.StrategyID)
}

// SeqGenerator issues monotonically increasing sequence numbers. The
// main loop is the only caller, so no locking: determinism comes from
// call order.
type SeqGenerator struct {
	next int64
}

// Next returns the next sequence number, starting at 1.
func (g *SeqGenerator) Next() int64 {
	g.next++
	return g.next
}
