package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/promptcanary/promptcanary/internal/dataset"
	"github.com/promptcanary/promptcanary/internal/extract"
	"github.com/promptcanary/promptcanary/internal/store"
)

const (
	// InitialCandidateTraffic is the traffic share a fresh candidate starts
	// with; the active prompt keeps the remainder.
	InitialCandidateTraffic = 0.10
)

// Result captures the outcome of a completed training run.
type Result struct {
	ActiveID     string `json:"active_id"`
	CandidateID  string `json:"candidate_id"`
	DatasetSize  int    `json:"dataset_size"`
	TrainSize    int    `json:"train_size"`
	ValSize      int    `json:"val_size"`
	Optimizer    string `json:"optimizer"`
	PromptLength int    `json:"prompt_length"`
}

// promptStore is the slice of the store the trainer needs.
type promptStore interface {
	GetPromptByStatus(status store.PromptStatus) (*store.Prompt, error)
	BeginExperiment(candidate *store.Prompt, activeID string, activeTraffic float64) error
}

// Trainer runs the full optimization loop: stability check, dataset build,
// prompt optimization, and experiment setup. It creates the candidate and
// the initial traffic split and nothing more; promotion and rollback belong
// to the canary controller.
type Trainer struct {
	store     promptStore
	builder   *dataset.Builder
	optimizer Optimizer
	logger    *slog.Logger
}

func New(st promptStore, builder *dataset.Builder, optimizer Optimizer, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		store:     st,
		builder:   builder,
		optimizer: optimizer,
		logger:    logger.With("component", "trainer"),
	}
}

// Train executes one training run and installs the optimized prompt as a
// candidate at InitialCandidateTraffic. Returns ErrExperimentActive,
// ErrNoActivePrompt or ErrEmptyDataset for the corresponding preconditions.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	t.logger.Info("starting training run", "optimizer", t.optimizer.Name())

	if err := EnsureStable(t.store, t.logger); err != nil {
		return nil, err
	}

	active, err := t.store.GetPromptByStatus(store.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active prompt: %w", err)
	}
	if active == nil {
		return nil, ErrNoActivePrompt
	}

	interactions, err := t.builder.Build("")
	if err != nil {
		return nil, err
	}
	if len(interactions) == 0 {
		return nil, ErrEmptyDataset
	}

	train, val := splitDataset(interactions)
	t.logger.Info("dataset ready", "total", len(interactions), "train", len(train), "val", len(val))

	optimized, err := t.optimizer.Optimize(ctx, active.Text, train, val)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOptimizeFailed, err)
	}

	candidate := &store.Prompt{
		ID:        ulid.Make().String(),
		Text:      optimized,
		Status:    store.StatusCandidate,
		Traffic:   InitialCandidateTraffic,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.BeginExperiment(candidate, active.ID, 1.0-InitialCandidateTraffic); err != nil {
		return nil, fmt.Errorf("failed to begin experiment: %w", err)
	}

	t.logger.Info("experiment started",
		"active_id", active.ID,
		"candidate_id", candidate.ID,
		"candidate_traffic", InitialCandidateTraffic)

	return &Result{
		ActiveID:     active.ID,
		CandidateID:  candidate.ID,
		DatasetSize:  len(interactions),
		TrainSize:    len(train),
		ValSize:      len(val),
		Optimizer:    t.optimizer.Name(),
		PromptLength: len(optimized),
	}, nil
}

// splitDataset holds out every tenth interaction for validation. Small
// datasets keep everything in the training split.
func splitDataset(in []*extract.Interaction) (train, val []*extract.Interaction) {
	if len(in) < 10 {
		return in, nil
	}
	for i, item := range in {
		if i%10 == 9 {
			val = append(val, item)
		} else {
			train = append(train, item)
		}
	}
	return train, val
}
