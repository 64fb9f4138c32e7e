// Package ml is the fill-model scaffolding. Inference itself is an
// external collaborator: the contract here is "given a FeatureSnapshot
// and a model handle, return a scored policy feature or a block
// reason". Missing or failing models are fail-closed.
package ml

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Stage of a registered model.
type Stage string

const (
	StageShadow Stage = "shadow"
	StageActive Stage = "active"
)

// Block reasons returned by the scorer.
const (
	BlockNoModel     = "ML_NO_ACTIVE_MODEL"
	BlockScoreFailed = "ML_SCORE_FAILED"
)

// Model scores a feature snapshot. Implementations wrap external
// inference runtimes; the core never loads artifacts itself.
type Model interface {
	Name() string
	Score(features core.FeatureSnapshot) (decimal.Decimal, error)
}

// Registry holds models keyed by (name, stage).
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
	logger core.ILogger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger core.ILogger) *Registry {
	return &Registry{
		models: make(map[string]Model),
		logger: logger.WithField("component", "ml_registry"),
	}
}

func key(name string, stage Stage) string {
	return fmt.Sprintf("%s@%s", name, stage)
}

// Register installs a model at a stage, replacing any previous one.
func (r *Registry) Register(name string, stage Stage, model Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[key(name, stage)] = model
	r.logger.Info("model registered", "name", name, "stage", string(stage))
}

// Get returns the model at (name, stage).
func (r *Registry) Get(name string, stage Stage) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[key(name, stage)]
	return m, ok
}

// ScoreResult is the scorer output: a score or a block reason, never
// both.
type ScoreResult struct {
	Score       decimal.Decimal
	Scored      bool
	BlockReason string
}

// ScoreOrBlock scores features with the active model. Fail-closed: no
// model or a scoring error blocks rather than passing a default score.
// A shadow model at the same name is scored too but only logged.
func (r *Registry) ScoreOrBlock(name string, features core.FeatureSnapshot) ScoreResult {
	active, ok := r.Get(name, StageActive)
	if !ok {
		return ScoreResult{BlockReason: BlockNoModel}
	}

	if shadow, hasShadow := r.Get(name, StageShadow); hasShadow {
		if score, err := shadow.Score(features); err != nil {
			r.logger.Warn("shadow model score failed", "name", name, "error", err)
		} else {
			r.logger.Debug("shadow model score", "name", name, "score", score.String())
		}
	}

	score, err := active.Score(features)
	if err != nil {
		r.logger.Error("active model score failed, blocking", "name", name, "error", err)
		return ScoreResult{BlockReason: BlockScoreFailed}
	}
	return ScoreResult{Score: score, Scored: true}
}
