package extract

import (
	"strings"

	"github.com/promptcanary/promptcanary/internal/store"
)

// maxFullHistoryLength caps the combined history size for the full_history
// strategy. Conversations longer than this are skipped rather than truncated.
const maxFullHistoryLength = 8000

// FullHistory uses the first user message as the input and every message
// after it, role-labelled, as the output.
type FullHistory struct{}

func (s *FullHistory) Name() string { return "full_history" }

func (s *FullHistory) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	messages = CleanMessages(messages)

	firstUser := -1
	for i, m := range messages {
		if isUser(m.Role) {
			firstUser = i
			break
		}
	}
	if firstUser < 0 || firstUser == len(messages)-1 {
		return nil
	}

	input := messages[firstUser].Content
	lines := make([]string, 0, len(messages)-firstUser-1)
	for _, m := range messages[firstUser+1:] {
		lines = append(lines, capitalizeRole(m.Role)+": "+m.Content)
	}
	output := strings.Join(lines, "\n")

	if len(input)+len(output) > maxFullHistoryLength {
		return nil
	}
	return newInteraction(taskID, input, output, score, kind)
}

func (s *FullHistory) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	return singleOrNil(s, taskID, messages, score, kind)
}

func capitalizeRole(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
