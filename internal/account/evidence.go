package account

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/reconcile"
)

// EnvEvidenceDir enables evidence writing when set to a directory
// path. Safe-by-default: unset means no evidence is written.
const EnvEvidenceDir = "GRINDER_EVIDENCE_DIR"

// EvidenceWriter dumps a sync result as a signed bundle:
// account_snapshot.json, positions.json, open_orders.json,
// mismatches.json, summary.txt and sha256sums.txt, where each sha is
// computed over the exact file bytes.
type EvidenceWriter struct {
	baseDir string
	clock   core.Clock
	logger  core.ILogger
}

// NewEvidenceWriter reads the env gate. Returns nil when disabled.
func NewEvidenceWriter(clock core.Clock, logger core.ILogger) *EvidenceWriter {
	dir := os.Getenv(EnvEvidenceDir)
	if dir == "" {
		return nil
	}
	return &EvidenceWriter{
		baseDir: dir,
		clock:   clock,
		logger:  logger.WithField("component", "evidence_writer"),
	}
}

// Write creates one bundle directory and returns its path.
func (w *EvidenceWriter) Write(result SyncResult) (string, error) {
	bundleID := fmt.Sprintf("%d_%s", w.clock.NowMs(), uuid.NewString()[:8])
	dir := filepath.Join(w.baseDir, bundleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create evidence dir: %w", err)
	}

	snapBytes, err := result.Snapshot.Render()
	if err != nil {
		return "", err
	}

	positions := make([]map[string]any, 0, len(result.Snapshot.Positions))
	for _, p := range result.Snapshot.ToMap()["positions"].([]any) {
		positions = append(positions, p.(map[string]any))
	}
	posBytes, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return "", err
	}

	orders := make([]map[string]any, 0, len(result.Snapshot.OpenOrders))
	for _, o := range result.Snapshot.ToMap()["open_orders"].([]any) {
		orders = append(orders, o.(map[string]any))
	}
	orderBytes, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return "", err
	}

	mismatchBytes, err := json.MarshalIndent(mismatchMaps(result.Mismatches), "", "  ")
	if err != nil {
		return "", err
	}

	summary := fmt.Sprintf(
		"ts=%d source=%s accepted=%v positions=%d open_orders=%d mismatches=%d\n",
		result.Snapshot.TS, result.Snapshot.Source, result.Accepted,
		len(result.Snapshot.Positions), len(result.Snapshot.OpenOrders), len(result.Mismatches))

	files := map[string][]byte{
		"account_snapshot.json": snapBytes,
		"positions.json":        posBytes,
		"open_orders.json":      orderBytes,
		"mismatches.json":       mismatchBytes,
		"summary.txt":           []byte(summary),
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var sums strings.Builder
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), files[name], 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
		sum := sha256.Sum256(files[name])
		fmt.Fprintf(&sums, "%s  %s\n", hex.EncodeToString(sum[:]), name)
	}
	if err := os.WriteFile(filepath.Join(dir, "sha256sums.txt"), []byte(sums.String()), 0o644); err != nil {
		return "", fmt.Errorf("write sha256sums: %w", err)
	}

	w.logger.Info("evidence bundle written", "dir", dir)
	return dir, nil
}

func mismatchMaps(mismatches []reconcile.Mismatch) []map[string]any {
	out := make([]map[string]any, 0, len(mismatches))
	for _, m := range mismatches {
		out = append(out, map[string]any{
			"type":            m.Type,
			"symbol":          m.Symbol,
			"client_order_id": m.ClientOrderID,
			"expected":        m.Expected,
			"observed":        m.Observed,
			"ts_detected":     m.TsDetected,
			"action_plan":     m.ActionPlan,
		})
	}
	return out
}
