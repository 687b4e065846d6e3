package store

import (
	"time"
)

// PromptStatus is the lifecycle state of a prompt version.
type PromptStatus string

const (
	StatusActive     PromptStatus = "active"
	StatusCandidate  PromptStatus = "candidate"
	StatusDeprecated PromptStatus = "deprecated"
	StatusRolledBack PromptStatus = "rolled_back"
)

// Prompt is a versioned instruction prompt with its traffic share.
// At most one active and one candidate prompt exist at a time; their
// traffic values sum to 1.0 while an experiment is running.
type Prompt struct {
	ID        string       `json:"id" db:"id"`
	Text      string       `json:"text" db:"text"`
	Status    PromptStatus `json:"status" db:"status"`
	Traffic   float64      `json:"traffic" db:"traffic"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// Message is a single turn in a task's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Task records one unit of work served by a prompt, with the full
// conversation history that produced it.
type Task struct {
	ID        string    `json:"id" db:"id"`
	PromptID  string    `json:"prompt_id" db:"prompt_id"`
	History   []Message `json:"history" db:"history"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Feedback is a user signal attached to a task. Value carries the raw
// signal (e.g. a 1-5 rating); Score is the normalized [0,1] form computed
// at ingest, nil when the signal could not be normalized.
type Feedback struct {
	ID        string    `json:"id" db:"id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	Kind      string    `json:"kind" db:"kind"`
	Value     *float64  `json:"value,omitempty" db:"value"`
	Comment   string    `json:"comment,omitempty" db:"comment"`
	Score     *float64  `json:"score,omitempty" db:"score"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TaskRecord is a task joined with its most recent feedback, as returned
// by FetchTasksWithFeedback. Feedback fields are zero/nil for tasks that
// never received any.
type TaskRecord struct {
	TaskID        string    `json:"task_id"`
	PromptID      string    `json:"prompt_id"`
	History       []Message `json:"history"`
	FeedbackKind  string    `json:"feedback_kind,omitempty"`
	FeedbackValue *float64  `json:"feedback_value,omitempty"`
	FeedbackScore *float64  `json:"feedback_score,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PromptMetrics holds read-time aggregates for a single prompt.
// AverageScore is nil when no normalized feedback exists.
type PromptMetrics struct {
	PromptID         string   `json:"prompt_id"`
	InteractionCount int      `json:"interaction_count"`
	AverageScore     *float64 `json:"average_score,omitempty"`
}

// StepUpdate describes one atomic canary traffic adjustment. Both traffic
// writes and any status transitions land in a single transaction, so a
// promotion or archive can never be observed half-applied.
type StepUpdate struct {
	ActiveID         string
	CandidateID      string
	ActiveTraffic    float64
	CandidateTraffic float64

	// Optional status transitions, empty means unchanged.
	ActiveStatus    PromptStatus
	CandidateStatus PromptStatus
}
