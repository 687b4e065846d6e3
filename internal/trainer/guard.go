package trainer

import (
	"fmt"
	"log/slog"

	"github.com/promptcanary/promptcanary/internal/store"
)

// promptChecker is the slice of the store the guard needs.
type promptChecker interface {
	GetPromptByStatus(status store.PromptStatus) (*store.Prompt, error)
}

// EnsureStable verifies no experiment is in flight. A candidate prompt in
// the store means an A/B test is still running, and starting new training
// now would clobber it.
func EnsureStable(checker promptChecker, logger *slog.Logger) error {
	candidate, err := checker.GetPromptByStatus(store.StatusCandidate)
	if err != nil {
		return fmt.Errorf("failed to check for candidate prompt: %w", err)
	}
	if candidate != nil {
		logger.Error("training blocked by active experiment", "candidate_id", candidate.ID)
		return fmt.Errorf("%w (candidate_id=%s)", ErrExperimentActive, candidate.ID)
	}
	logger.Info("stability check passed: no candidate prompt")
	return nil
}
