package canary

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/promptcanary/promptcanary/internal/store"
)

// TrafficStep is the fixed increment canary runs move traffic by.
const TrafficStep = 0.1

// DefaultMinInteractions is how many interactions each side needs before a
// comparison counts.
const DefaultMinInteractions = 20

// trafficEpsilon absorbs float drift after repeated 0.1 steps. Values
// within this distance of 0.0 or 1.0 are snapped exactly.
const trafficEpsilon = 1e-9

// ErrTrafficInvariant means active and candidate traffic no longer sum to
// 1.0. The controller refuses to step on corrupted state.
var ErrTrafficInvariant = errors.New("active and candidate traffic do not sum to 1.0")

// Winner is the outcome of a metrics comparison.
type Winner string

const (
	WinnerActive    Winner = "active"
	WinnerCandidate Winner = "candidate"
	WinnerNone      Winner = "none"
)

// Outcome describes what a single controller run did.
type Outcome struct {
	Action           string   `json:"action"` // "none", "step_up", "step_down", "promoted", "archived"
	Winner           Winner   `json:"winner"`
	ActiveID         string   `json:"active_id,omitempty"`
	CandidateID      string   `json:"candidate_id,omitempty"`
	ActiveTraffic    float64  `json:"active_traffic"`
	CandidateTraffic float64  `json:"candidate_traffic"`
	ActiveScore      *float64 `json:"active_score,omitempty"`
	CandidateScore   *float64 `json:"candidate_score,omitempty"`
}

// metricsStore is the slice of the store the controller needs.
type metricsStore interface {
	GetPromptByStatus(status store.PromptStatus) (*store.Prompt, error)
	AggregateMetrics(promptID string) (*store.PromptMetrics, error)
	StepTraffic(update store.StepUpdate) error
}

// Controller runs one canary evaluation at a time: compare aggregated
// feedback metrics for the active and candidate prompts, move traffic one
// step toward the winner, and finish the experiment when an edge is
// reached.
type Controller struct {
	store           metricsStore
	minInteractions int
	logger          *slog.Logger
}

func New(st metricsStore, minInteractions int, logger *slog.Logger) *Controller {
	if minInteractions <= 0 {
		minInteractions = DefaultMinInteractions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:           st,
		minInteractions: minInteractions,
		logger:          logger.With("component", "canary"),
	}
}

// CompareMetrics decides which prompt is winning. Returns WinnerNone when
// either side has too few interactions, either average is missing, or the
// averages tie exactly.
func (c *Controller) CompareMetrics(active, candidate *store.PromptMetrics) Winner {
	if active.InteractionCount < c.minInteractions || candidate.InteractionCount < c.minInteractions {
		c.logger.Info("not enough interactions to compare",
			"active_count", active.InteractionCount,
			"candidate_count", candidate.InteractionCount,
			"required", c.minInteractions)
		return WinnerNone
	}
	if active.AverageScore == nil || candidate.AverageScore == nil {
		c.logger.Info("missing feedback averages, holding traffic")
		return WinnerNone
	}
	switch {
	case *candidate.AverageScore > *active.AverageScore:
		return WinnerCandidate
	case *active.AverageScore > *candidate.AverageScore:
		return WinnerActive
	default:
		return WinnerNone
	}
}

// Run performs one canary evaluation. A missing candidate is a stable
// system and a no-op; a missing active alongside a candidate is left alone
// with a warning. Traffic corruption returns ErrTrafficInvariant without
// touching the rows.
func (c *Controller) Run() (*Outcome, error) {
	active, err := c.store.GetPromptByStatus(store.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active prompt: %w", err)
	}
	candidate, err := c.store.GetPromptByStatus(store.StatusCandidate)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate prompt: %w", err)
	}

	if candidate == nil {
		c.logger.Info("no candidate prompt, system stable")
		return &Outcome{Action: "none", Winner: WinnerNone}, nil
	}
	if active == nil {
		c.logger.Warn("candidate exists without active prompt, skipping run", "candidate_id", candidate.ID)
		return &Outcome{Action: "none", Winner: WinnerNone, CandidateID: candidate.ID}, nil
	}

	sum := active.Traffic + candidate.Traffic
	if math.Abs(sum-1.0) > trafficEpsilon {
		c.logger.Error("traffic invariant violated",
			"active_id", active.ID, "candidate_id", candidate.ID, "sum", sum)
		return nil, fmt.Errorf("%w: active=%.6f candidate=%.6f", ErrTrafficInvariant, active.Traffic, candidate.Traffic)
	}

	activeMetrics, err := c.store.AggregateMetrics(active.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate active metrics: %w", err)
	}
	candidateMetrics, err := c.store.AggregateMetrics(candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate candidate metrics: %w", err)
	}

	outcome := &Outcome{
		ActiveID:         active.ID,
		CandidateID:      candidate.ID,
		ActiveTraffic:    active.Traffic,
		CandidateTraffic: candidate.Traffic,
		ActiveScore:      activeMetrics.AverageScore,
		CandidateScore:   candidateMetrics.AverageScore,
	}

	winner := c.CompareMetrics(activeMetrics, candidateMetrics)
	outcome.Winner = winner
	if winner == WinnerNone {
		c.logger.Info("no clear winner, holding traffic",
			"active_traffic", active.Traffic, "candidate_traffic", candidate.Traffic)
		outcome.Action = "none"
		return outcome, nil
	}

	step := TrafficStep
	if winner == WinnerActive {
		step = -TrafficStep
	}
	newCandidate := snapTraffic(candidate.Traffic + step)
	newActive := snapTraffic(active.Traffic - step)

	update := store.StepUpdate{
		ActiveID:         active.ID,
		CandidateID:      candidate.ID,
		ActiveTraffic:    newActive,
		CandidateTraffic: newCandidate,
	}

	switch {
	case newCandidate == 1.0:
		// Candidate takes over; the displaced prompt records why it left.
		update.CandidateStatus = store.StatusActive
		update.ActiveStatus = store.StatusRolledBack
		outcome.Action = "promoted"
	case newCandidate == 0.0:
		update.CandidateStatus = store.StatusDeprecated
		update.ActiveTraffic = 1.0
		newActive = 1.0
		outcome.Action = "archived"
	case winner == WinnerCandidate:
		outcome.Action = "step_up"
	default:
		outcome.Action = "step_down"
	}

	if err := c.store.StepTraffic(update); err != nil {
		return nil, fmt.Errorf("failed to apply traffic step: %w", err)
	}

	outcome.ActiveTraffic = newActive
	outcome.CandidateTraffic = newCandidate

	c.logger.Info("canary step applied",
		"action", outcome.Action,
		"winner", winner,
		"active_traffic", newActive,
		"candidate_traffic", newCandidate)

	return outcome, nil
}

// snapTraffic clamps to [0, 1] and snaps float drift onto the exact edges
// so terminal transitions fire reliably.
func snapTraffic(v float64) float64 {
	if v < trafficEpsilon {
		return 0.0
	}
	if v > 1.0-trafficEpsilon {
		return 1.0
	}
	return v
}
