package extract

import (
	"strings"

	"github.com/promptcanary/promptcanary/internal/store"
)

// LastNTurns keeps the final N turns, folding all but the last into a
// transcript prefix so the model sees recent context with the final
// question.
type LastNTurns struct {
	n int
}

func NewLastNTurns(n int) *LastNTurns {
	if n < 1 {
		n = 1
	}
	return &LastNTurns{n: n}
}

func (s *LastNTurns) Name() string { return "last_n_turns" }

func (s *LastNTurns) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	turns := ParseTurns(CleanMessages(messages))
	if len(turns) == 0 {
		return nil
	}
	if len(turns) > s.n {
		turns = turns[len(turns)-s.n:]
	}
	if len(turns) == 1 {
		return newInteraction(taskID, turns[0].User, turns[0].Assistant, score, kind)
	}

	var context []string
	for _, t := range turns[:len(turns)-1] {
		context = append(context, "User: "+t.User+"\nAssistant: "+t.Assistant)
	}
	last := turns[len(turns)-1]
	input := strings.Join(context, "\n") + "\n\nUser: " + last.User
	return newInteraction(taskID, input, last.Assistant, score, kind)
}

func (s *LastNTurns) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	return singleOrNil(s, taskID, messages, score, kind)
}

// FirstNTurns keeps the opening N turns of a conversation, useful when the
// start of an exchange carries the behavior worth training on.
type FirstNTurns struct {
	n int
}

func NewFirstNTurns(n int) *FirstNTurns {
	if n < 1 {
		n = 1
	}
	return &FirstNTurns{n: n}
}

func (s *FirstNTurns) Name() string { return "first_n_turns" }

func (s *FirstNTurns) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	turns := ParseTurns(CleanMessages(messages))
	if len(turns) == 0 {
		return nil
	}
	if len(turns) > s.n {
		turns = turns[:s.n]
	}

	input := turns[0].User
	if len(turns) == 1 {
		return newInteraction(taskID, input, turns[0].Assistant, score, kind)
	}

	lines := []string{"Assistant: " + turns[0].Assistant}
	for _, t := range turns[1:] {
		lines = append(lines, "User: "+t.User, "Assistant: "+t.Assistant)
	}
	return newInteraction(taskID, input, strings.Join(lines, "\n"), score, kind)
}

func (s *FirstNTurns) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	return singleOrNil(s, taskID, messages, score, kind)
}
