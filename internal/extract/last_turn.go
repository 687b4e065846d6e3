package extract

import "github.com/promptcanary/promptcanary/internal/store"

// LastTurn extracts only the final exchange: the last assistant reply and
// the nearest user message before it.
type LastTurn struct{}

func (s *LastTurn) Name() string { return "last_turn" }

func (s *LastTurn) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	messages = CleanMessages(messages)

	lastAssistant := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if isAssistant(messages[i].Role) {
			lastAssistant = i
			break
		}
	}
	if lastAssistant < 0 {
		return nil
	}

	for i := lastAssistant - 1; i >= 0; i-- {
		if isUser(messages[i].Role) {
			return newInteraction(taskID, messages[i].Content, messages[lastAssistant].Content, score, kind)
		}
	}
	return nil
}

func (s *LastTurn) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	return singleOrNil(s, taskID, messages, score, kind)
}
