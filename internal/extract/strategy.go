package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/promptcanary/promptcanary/internal/store"
)

// Interaction is a single training example pulled out of a conversation.
type Interaction struct {
	TaskID        string   `json:"task_id"`
	UserInput     string   `json:"user_input"`
	AgentOutput   string   `json:"agent_output"`
	FeedbackScore *float64 `json:"feedback_score,omitempty"`
	FeedbackKind  string   `json:"feedback_kind,omitempty"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
}

// Turn is a paired user message and the assistant reply that followed it.
type Turn struct {
	User      string
	Assistant string
}

// Strategy turns a conversation history into zero or more interactions.
// Extract returns the single interaction a strategy considers primary, or
// nil when the history yields nothing usable. ExtractAll may return several
// interactions for strategies that window over the history.
type Strategy interface {
	Name() string
	Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction
	ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction
}

// SystemPrompter is implemented by strategies that can stamp a fixed system
// prompt onto every interaction they produce.
type SystemPrompter interface {
	SetSystemPrompt(text string)
}

// CleanMessages drops malformed entries: empty roles, empty or
// whitespace-only content. Content is trimmed in place.
func CleanMessages(messages []store.Message) []store.Message {
	cleaned := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if m.Role == "" || content == "" {
			continue
		}
		cleaned = append(cleaned, store.Message{Role: m.Role, Content: content})
	}
	return cleaned
}

func isUser(role string) bool {
	return role == "user"
}

func isAssistant(role string) bool {
	return role == "assistant" || role == "agent"
}

// ParseTurns pairs each user message with the next assistant reply. A user
// message followed by another user message before any reply arrives is
// dropped, as are assistant messages with no preceding user message.
func ParseTurns(messages []store.Message) []Turn {
	var turns []Turn
	i := 0
	for i < len(messages) {
		if !isUser(messages[i].Role) {
			i++
			continue
		}
		user := messages[i].Content
		j := i + 1
		paired := false
		for j < len(messages) {
			if isAssistant(messages[j].Role) {
				turns = append(turns, Turn{User: user, Assistant: messages[j].Content})
				paired = true
				j++
				break
			}
			if isUser(messages[j].Role) {
				break
			}
			j++
		}
		if paired {
			i = j
		} else {
			i++
		}
	}
	return turns
}

// New builds a strategy from a spec string. Parameterized strategies take a
// colon-separated argument, e.g. "last_n_turns:3". Unknown names or bad
// parameters return an error.
func New(spec string) (Strategy, error) {
	name := spec
	arg := ""
	if idx := strings.Index(spec, ":"); idx >= 0 {
		name = spec[:idx]
		arg = spec[idx+1:]
	}

	parseN := func(def int) (int, error) {
		if arg == "" {
			return def, nil
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return 0, fmt.Errorf("invalid parameter %q for strategy %s: %w", arg, name, err)
		}
		return n, nil
	}

	switch name {
	case "last_turn":
		return &LastTurn{}, nil
	case "full_history":
		return &FullHistory{}, nil
	case "last_n_turns":
		n, err := parseN(3)
		if err != nil {
			return nil, err
		}
		return NewLastNTurns(n), nil
	case "first_n_turns":
		n, err := parseN(3)
		if err != nil {
			return nil, err
		}
		return NewFirstNTurns(n), nil
	case "context_window":
		n, err := parseN(5)
		if err != nil {
			return nil, err
		}
		return NewContextWindow(n), nil
	case "sliding_window":
		n, err := parseN(4)
		if err != nil {
			return nil, err
		}
		return NewSlidingWindow(n, 2, 0), nil
	case "summary_context":
		n, err := parseN(3)
		if err != nil {
			return nil, err
		}
		return NewSummaryContext(5, n, 500, "bullets"), nil
	case "key_turns":
		n, err := parseN(3)
		if err != nil {
			return nil, err
		}
		return NewKeyTurns(n, SimilarityJaccard, true, true), nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", name)
	}
}

func newInteraction(taskID, input, output string, score *float64, kind string) *Interaction {
	return &Interaction{
		TaskID:        taskID,
		UserInput:     input,
		AgentOutput:   output,
		FeedbackScore: score,
		FeedbackKind:  kind,
	}
}

// singleOrNil wraps Extract for strategies whose ExtractAll is just the
// one primary interaction.
func singleOrNil(s Strategy, taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	in := s.Extract(taskID, messages, score, kind)
	if in == nil {
		return nil
	}
	return []*Interaction{in}
}
