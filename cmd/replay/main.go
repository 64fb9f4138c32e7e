// Command replay runs a snapshot fixture through the deterministic
// pipeline twice and verifies digest stability. Exits non-zero on a
// digest mismatch or any contract violation, so it doubles as the
// smoke gate in CI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/exchange"
	"github.com/bnzr-team/grinder/internal/execution"
	"github.com/bnzr-team/grinder/internal/feature"
	"github.com/bnzr-team/grinder/internal/policy"
	"github.com/bnzr-team/grinder/internal/regime"
	"github.com/bnzr-team/grinder/internal/replay"
	"github.com/bnzr-team/grinder/pkg/logging"
)

func main() {
	fixturePath := flag.String("fixture", "", "path to JSONL snapshot fixture")
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated symbol universe")
	spacingBps := flag.Int64("spacing-bps", 10, "grid spacing in bps")
	levels := flag.Int("levels", 5, "grid levels per side")
	sizePerLevel := flag.String("size", "0.001", "base-asset size per level")
	runs := flag.Int("runs", 2, "replay runs to compare")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -fixture <path>")
		os.Exit(2)
	}

	snapshots, err := replay.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture error: %v\n", err)
		os.Exit(2)
	}

	universe := strings.Split(*symbols, ",")
	constraints := make(map[string]core.SymbolConstraints, len(universe))
	for _, s := range universe {
		constraints[s] = core.SymbolConstraints{
			Symbol:   s,
			TickSize: decimal.RequireFromString("0.01"),
			StepSize: decimal.RequireFromString("0.001"),
			MinQty:   decimal.RequireFromString("0.001"),
		}
	}

	config := replay.Config{
		Symbols:        universe,
		FeatureConfig:  feature.DefaultConfig(),
		RegimeConfig:   regime.DefaultConfig(),
		GridConfig:     policy.StaticGridConfig{SpacingBps: *spacingBps, Levels: *levels, SizePerLevel: decimal.RequireFromString(*sizePerLevel)},
		EngineConfig:   execution.EngineConfig{RepriceThresholdBps: 1},
		Constraints:    constraints,
		InitialCapital: decimal.RequireFromString("10000"),
		MaxDrawdownPct: 5.0,
		Identity:       exchange.NewIdentityConfig("", "", nil),
	}

	logger := logging.NewNop()
	ctx := context.Background()

	var first string
	for i := 0; i < *runs; i++ {
		clock := core.NewManualClock(0)
		result, err := replay.Run(ctx, config, clock, logger, snapshots)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay error on run %d: %v\n", i+1, err)
			os.Exit(1)
		}
		fmt.Printf("run %d: decisions=%d fills=%d digest=%s\n", i+1, len(result.Decisions), result.Fills, result.Digest)
		if i == 0 {
			first = result.Digest
		} else if result.Digest != first {
			fmt.Fprintf(os.Stderr, "DIGEST MISMATCH: run 1 %s != run %d %s\n", first, i+1, result.Digest)
			os.Exit(1)
		}
	}
	fmt.Println("digest stable")
}
