package dataset

import (
	"fmt"
	"log/slog"

	"github.com/promptcanary/promptcanary/internal/extract"
	"github.com/promptcanary/promptcanary/internal/store"
)

// DefaultFetchLimit bounds how many task records a single build pulls from
// storage.
const DefaultFetchLimit = 10000

// TaskSource is the slice of the store the builder needs.
type TaskSource interface {
	FetchTasksWithFeedback(promptID string, limit int) ([]*store.TaskRecord, error)
}

// Options control how a training dataset is assembled.
type Options struct {
	// Strategy is an extraction strategy spec, e.g. "last_turn" or
	// "last_n_turns:3".
	Strategy string
	// FetchLimit caps how many tasks are read. Zero means DefaultFetchLimit.
	FetchLimit int
	// RequireFeedback drops interactions whose feedback could not be
	// normalized to a score.
	RequireFeedback bool
	// MinFeedbackThreshold drops scored interactions below this value.
	MinFeedbackThreshold float64
	// QualityRules are optional CEL expressions; see NewQualityGate.
	QualityRules []string
	// ExtractAll uses every interaction a strategy can yield per task
	// instead of just the primary one.
	ExtractAll bool
	// SystemPrompt is stamped onto extracted interactions when the strategy
	// supports it.
	SystemPrompt string
}

// Builder assembles training datasets from recorded tasks. The pipeline
// runs fetch, normalize, extract, quality filter, validate, dedupe, in that
// order, and logs how many interactions survive each stage.
type Builder struct {
	source   TaskSource
	strategy extract.Strategy
	gate     *QualityGate
	opts     Options
	logger   *slog.Logger
}

// NewBuilder constructs a Builder. The strategy spec and quality rules are
// resolved up front so a bad configuration fails before any training run.
func NewBuilder(source TaskSource, opts Options, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Strategy == "" {
		opts.Strategy = "last_turn"
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = DefaultFetchLimit
	}

	strategy, err := extract.New(opts.Strategy)
	if err != nil {
		return nil, err
	}
	if sp, ok := strategy.(extract.SystemPrompter); ok && opts.SystemPrompt != "" {
		sp.SetSystemPrompt(opts.SystemPrompt)
	}
	gate, err := NewQualityGate(opts.QualityRules, logger)
	if err != nil {
		return nil, err
	}

	return &Builder{
		source:   source,
		strategy: strategy,
		gate:     gate,
		opts:     opts,
		logger:   logger.With("component", "dataset.Builder"),
	}, nil
}

// Build produces the deduplicated dataset for a prompt. Pass an empty
// promptID to draw from all prompts. An empty result is not an error here;
// callers decide whether an empty dataset is fatal.
func (b *Builder) Build(promptID string) ([]*extract.Interaction, error) {
	records, err := b.source.FetchTasksWithFeedback(promptID, b.opts.FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task records: %w", err)
	}

	var extracted []*extract.Interaction
	for _, rec := range records {
		score := NormalizeFeedback(rec.FeedbackKind, rec.FeedbackValue)
		if score == nil && rec.FeedbackScore != nil {
			// Stored score takes over when the raw value is gone.
			score = rec.FeedbackScore
		}

		if b.opts.ExtractAll {
			extracted = append(extracted, b.strategy.ExtractAll(rec.TaskID, rec.History, score, rec.FeedbackKind)...)
		} else if in := b.strategy.Extract(rec.TaskID, rec.History, score, rec.FeedbackKind); in != nil {
			extracted = append(extracted, in)
		}
	}

	var filtered []*extract.Interaction
	for _, in := range extracted {
		if b.opts.RequireFeedback && in.FeedbackScore == nil {
			continue
		}
		if in.FeedbackScore != nil && *in.FeedbackScore < b.opts.MinFeedbackThreshold {
			continue
		}
		if !b.gate.Admit(in) {
			continue
		}
		filtered = append(filtered, in)
	}

	var valid []*extract.Interaction
	for _, in := range filtered {
		if in.UserInput == "" || in.AgentOutput == "" {
			continue
		}
		valid = append(valid, in)
	}

	seen := make(map[[2]string]struct{}, len(valid))
	var deduped []*extract.Interaction
	for _, in := range valid {
		key := [2]string{in.UserInput, in.AgentOutput}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, in)
	}

	b.logger.Info("dataset built",
		"prompt_id", promptID,
		"strategy", b.strategy.Name(),
		"fetched", len(records),
		"extracted", len(extracted),
		"filtered", len(filtered),
		"valid", len(valid),
		"deduped", len(deduped))

	return deduped, nil
}
