package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bnzr-team/grinder/internal/core"
)

// LoadFixture reads a JSONL snapshot fixture: one snapshot map per
// line, in replay order.
func LoadFixture(path string) ([]core.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	var snapshots []core.Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", line, err)
		}
		snap, err := core.SnapshotFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", line, err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// RunResult is the outcome of one fixture replay.
type RunResult struct {
	Decisions []core.Decision
	Digest    string
	Fills     int
}

// Run replays a snapshot sequence through a fresh pipeline and
// returns the decisions plus the run digest.
func Run(ctx context.Context, config Config, clock core.Clock, logger core.ILogger, snapshots []core.Snapshot) (RunResult, error) {
	engine, err := NewCycleEngine(config, clock, nil, logger)
	if err != nil {
		return RunResult{}, err
	}
	for _, snap := range snapshots {
		if _, err := engine.ProcessSnapshot(ctx, snap); err != nil {
			return RunResult{}, err
		}
	}
	digest, err := engine.Digest()
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{
		Decisions: engine.Decisions(),
		Digest:    digest,
		Fills:     len(engine.Paper().Fills()),
	}, nil
}
