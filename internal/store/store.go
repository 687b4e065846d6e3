package store

import (
	"errors"
	"time"
)

// ErrUnavailable marks database access failures so callers can tell a
// store outage apart from other errors. All Store implementations wrap
// their database errors with it.
var ErrUnavailable = errors.New("store unavailable")

// Store defines the interface for prompt, task, and feedback persistence.
type Store interface {
	// Initialize creates tables and indexes.
	Initialize() error

	// Close cleanly shuts down the store.
	Close() error

	// Prompts
	GetPrompt(id string) (*Prompt, error)
	GetPromptByStatus(status PromptStatus) (*Prompt, error)
	ListPrompts(status PromptStatus) ([]*Prompt, error)
	InsertPrompt(p *Prompt) error
	UpdatePromptTraffic(id string, traffic float64) error
	UpdatePromptStatus(id string, status PromptStatus) error
	ZeroOutAllExcept(keepIDs []string) error

	// BeginExperiment atomically inserts the candidate, sets the active
	// prompt's traffic to the complement, and zeroes every other prompt.
	BeginExperiment(candidate *Prompt, activeID string, activeTraffic float64) error

	// StepTraffic applies one canary step atomically.
	StepTraffic(update StepUpdate) error

	// Tasks and feedback
	RecordTask(t *Task) error
	GetTask(id string) (*Task, error)
	RecordFeedback(f *Feedback) error

	// FetchTasksWithFeedback returns tasks joined with their latest
	// feedback, newest first. An empty promptID fetches across all
	// prompts. Tasks without feedback are included with nil score.
	FetchTasksWithFeedback(promptID string, limit int) ([]*TaskRecord, error)

	// AggregateMetrics computes interaction count and average normalized
	// score for a prompt at read time.
	AggregateMetrics(promptID string) (*PromptMetrics, error)

	// Job leases provide mutual exclusion for offline jobs (train, canary)
	// across processes sharing the same database.
	AcquireJobLease(name, holder string, ttl time.Duration) (bool, error)
	ReleaseJobLease(name, holder string) error
}
