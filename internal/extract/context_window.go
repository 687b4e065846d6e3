package extract

import (
	"fmt"
	"strings"

	"github.com/promptcanary/promptcanary/internal/store"
)

// ContextWindow keeps the last N turns and collapses their user messages
// into a single input. The output is the final assistant reply. An optional
// system prompt is carried on every extracted interaction.
type ContextWindow struct {
	n            int
	systemPrompt string
}

func NewContextWindow(n int) *ContextWindow {
	if n < 1 {
		n = 1
	}
	return &ContextWindow{n: n}
}

func (s *ContextWindow) Name() string { return "context_window" }

func (s *ContextWindow) SetSystemPrompt(text string) { s.systemPrompt = text }

func (s *ContextWindow) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	turns := ParseTurns(CleanMessages(messages))
	if len(turns) == 0 {
		return nil
	}
	if len(turns) > s.n {
		turns = turns[len(turns)-s.n:]
	}
	input, output := windowToPair(turns)
	in := newInteraction(taskID, input, output, score, kind)
	in.SystemPrompt = s.systemPrompt
	return in
}

func (s *ContextWindow) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	return singleOrNil(s, taskID, messages, score, kind)
}

// windowToPair folds a window of turns into an input/output pair. Short
// windows join the user messages plainly; longer ones get turn markers so
// ordering stays legible.
func windowToPair(turns []Turn) (input, output string) {
	output = turns[len(turns)-1].Assistant
	users := make([]string, 0, len(turns))
	for i, t := range turns {
		if len(turns) > 3 {
			users = append(users, fmt.Sprintf("[Turn %d] %s", i+1, t.User))
		} else {
			users = append(users, t.User)
		}
	}
	return strings.Join(users, "\n\n"), output
}
