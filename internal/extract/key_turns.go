package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/promptcanary/promptcanary/internal/store"
)

// KeyTurns selects the turns most similar to the final exchange, keeping
// only the context that appears relevant to the question being answered.
type KeyTurns struct {
	n            int
	method       SimilarityMethod
	includeFinal bool
	bothMessages bool
}

func NewKeyTurns(n int, method SimilarityMethod, includeFinal, bothMessages bool) *KeyTurns {
	if n < 1 {
		n = 1
	}
	return &KeyTurns{n: n, method: method, includeFinal: includeFinal, bothMessages: bothMessages}
}

func (s *KeyTurns) Name() string { return "key_turns" }

func (s *KeyTurns) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	turns := ParseTurns(CleanMessages(messages))
	if len(turns) == 0 {
		return nil
	}
	if len(turns) <= s.n {
		return s.fromTurns(taskID, turns, score, kind)
	}

	final := turns[len(turns)-1]
	reference := s.turnText(final)

	var corpus []string
	if s.method == SimilarityWeighted {
		corpus = make([]string, 0, len(turns))
		for _, t := range turns {
			corpus = append(corpus, s.turnText(t))
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(turns)-1)
	for i, t := range turns[:len(turns)-1] {
		ranked = append(ranked, scored{i, Similarity(s.turnText(t), reference, s.method, corpus)})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	want := s.n
	if s.includeFinal {
		want--
	}
	if want > len(ranked) {
		want = len(ranked)
	}
	selected := ranked[:want]
	sort.Slice(selected, func(a, b int) bool { return selected[a].idx < selected[b].idx })

	key := make([]Turn, 0, want+1)
	for _, sc := range selected {
		key = append(key, turns[sc.idx])
	}
	if s.includeFinal {
		key = append(key, final)
	}
	return s.fromTurns(taskID, key, score, kind)
}

func (s *KeyTurns) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	return singleOrNil(s, taskID, messages, score, kind)
}

func (s *KeyTurns) turnText(t Turn) string {
	if s.bothMessages {
		return t.User + " " + t.Assistant
	}
	return t.User
}

func (s *KeyTurns) fromTurns(taskID string, turns []Turn, score *float64, kind string) *Interaction {
	if len(turns) == 0 {
		return nil
	}
	output := turns[len(turns)-1].Assistant
	if len(turns) == 1 {
		return newInteraction(taskID, turns[0].User, output, score, kind)
	}

	var lines []string
	for i, t := range turns[:len(turns)-1] {
		lines = append(lines,
			fmt.Sprintf("[Key context %d]", i+1),
			"User: "+t.User,
			"Assistant: "+t.Assistant)
	}
	lines = append(lines, "", "[Current query]", "User: "+turns[len(turns)-1].User)
	return newInteraction(taskID, strings.Join(lines, "\n"), output, score, kind)
}
