package router

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/promptcanary/promptcanary/internal/store"
)

// PromptSource is the slice of the store the router needs.
type PromptSource interface {
	GetPromptByStatus(status store.PromptStatus) (*store.Prompt, error)
	InsertPrompt(p *store.Prompt) error
}

// Router picks which prompt serves a request. During an experiment the
// candidate is chosen with probability equal to its traffic share and the
// active prompt otherwise; outside an experiment the active prompt always
// wins.
type Router struct {
	source PromptSource
	rng    func() float64
	logger *slog.Logger
}

// New creates a Router. Pass a nil rng to use the default source; tests
// inject a deterministic one.
func New(source PromptSource, rng func() float64, logger *slog.Logger) *Router {
	if rng == nil {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		rng = r.Float64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		source: source,
		rng:    rng,
		logger: logger.With("component", "router"),
	}
}

// Select returns the prompt that should serve the next request. With no
// candidate the active prompt is returned unconditionally. With no active
// prompt but a candidate present, the candidate is returned. (nil, nil)
// means no prompts exist at all.
func (r *Router) Select() (*store.Prompt, error) {
	active, err := r.source.GetPromptByStatus(store.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active prompt: %w", err)
	}
	candidate, err := r.source.GetPromptByStatus(store.StatusCandidate)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate prompt: %w", err)
	}

	switch {
	case active == nil && candidate == nil:
		r.logger.Warn("no prompts available for selection")
		return nil, nil
	case candidate == nil:
		return active, nil
	case active == nil:
		r.logger.Warn("candidate exists without an active prompt", "candidate_id", candidate.ID)
		return candidate, nil
	}

	roll := r.rng()
	if roll < candidate.Traffic {
		r.logger.Debug("selected candidate prompt",
			"prompt_id", candidate.ID, "traffic", candidate.Traffic, "roll", roll)
		return candidate, nil
	}
	r.logger.Debug("selected active prompt",
		"prompt_id", active.ID, "traffic", active.Traffic, "roll", roll)
	return active, nil
}

// Bootstrap installs the first active prompt at full traffic. Fails if an
// active prompt already exists.
func (r *Router) Bootstrap(text string) (*store.Prompt, error) {
	existing, err := r.source.GetPromptByStatus(store.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to check for active prompt: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("an active prompt already exists (id=%s)", existing.ID)
	}

	p := &store.Prompt{
		ID:        ulid.Make().String(),
		Text:      text,
		Status:    store.StatusActive,
		Traffic:   1.0,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.source.InsertPrompt(p); err != nil {
		return nil, fmt.Errorf("failed to insert bootstrap prompt: %w", err)
	}
	r.logger.Info("bootstrapped active prompt", "prompt_id", p.ID)
	return p, nil
}
