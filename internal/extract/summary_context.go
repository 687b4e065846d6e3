package extract

import (
	"fmt"
	"strings"

	"github.com/promptcanary/promptcanary/internal/store"
)

// SummaryContext condenses earlier turns into a short summary and keeps the
// most recent turns verbatim, for conversations too long to include whole.
type SummaryContext struct {
	summaryTurns  int
	recentTurns   int
	maxSummaryLen int
	format        string // "bullets" or "paragraph"
}

func NewSummaryContext(summaryTurns, recentTurns, maxSummaryLen int, format string) *SummaryContext {
	if summaryTurns < 1 {
		summaryTurns = 1
	}
	if recentTurns < 1 {
		recentTurns = 1
	}
	if maxSummaryLen < 100 {
		maxSummaryLen = 100
	}
	if format != "bullets" && format != "paragraph" {
		format = "bullets"
	}
	return &SummaryContext{
		summaryTurns:  summaryTurns,
		recentTurns:   recentTurns,
		maxSummaryLen: maxSummaryLen,
		format:        format,
	}
}

func (s *SummaryContext) Name() string { return "summary_context" }

func (s *SummaryContext) Extract(taskID string, messages []store.Message, score *float64, kind string) *Interaction {
	turns := ParseTurns(CleanMessages(messages))
	if len(turns) == 0 {
		return nil
	}

	// Short conversations need no summary at all.
	if len(turns) <= s.recentTurns {
		input := turns[0].User
		if len(turns) > 1 {
			input = formatRecentTurns(turns)
		}
		return newInteraction(taskID, input, turns[len(turns)-1].Assistant, score, kind)
	}

	var summarize, recent []Turn
	total := s.summaryTurns + s.recentTurns
	if len(turns) <= total {
		split := len(turns) - s.recentTurns
		summarize, recent = turns[:split], turns[split:]
	} else {
		window := turns[len(turns)-total:]
		summarize, recent = window[:s.summaryTurns], window[s.summaryTurns:]
	}

	summary := s.summarize(summarize)
	recentText := formatRecentTurns(recent)

	input := recentText
	if summary != "" {
		input = "[Previous conversation summary]\n" + summary + "\n\n[Recent conversation]\n" + recentText
	}
	output := turns[len(turns)-1].Assistant
	if input == "" || output == "" {
		return nil
	}
	return newInteraction(taskID, input, output, score, kind)
}

func (s *SummaryContext) ExtractAll(taskID string, messages []store.Message, score *float64, kind string) []*Interaction {
	return singleOrNil(s, taskID, messages, score, kind)
}

func (s *SummaryContext) summarize(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var summary string
	if s.format == "bullets" {
		lines := make([]string, 0, len(turns))
		for i, t := range turns {
			lines = append(lines, fmt.Sprintf("- Turn %d: %s; %s",
				i+1, keyPoint(t.User, "Asked"), keyPoint(t.Assistant, "Answered")))
		}
		summary = strings.Join(lines, "\n")
	} else {
		points := make([]string, 0, len(turns))
		for _, t := range turns {
			points = append(points, fmt.Sprintf("%s %s.",
				keyPoint(t.User, "User asked about"),
				keyPoint(t.Assistant, "and received information on")))
		}
		summary = strings.Join(points, " ")
	}
	if len(summary) > s.maxSummaryLen {
		summary = summary[:s.maxSummaryLen-3] + "..."
	}
	return summary
}

// keyPoint reduces text to its first sentence, or truncates at a word
// boundary when no short sentence exists.
func keyPoint(text, prefix string) string {
	text = strings.Join(strings.Fields(text), " ")

	end := -1
	for _, c := range []string{".", "!", "?"} {
		if pos := strings.Index(text, c); pos != -1 && (end == -1 || pos < end) {
			end = pos
		}
	}

	var point string
	switch {
	case end != -1 && end < 100:
		point = text[:end+1]
	case len(text) > 80:
		cut := text[:80]
		if idx := strings.LastIndex(cut, " "); idx > 0 {
			cut = cut[:idx]
		}
		point = cut + "..."
	default:
		point = text
	}

	if prefix != "" {
		return prefix + ": " + point
	}
	return point
}

func formatRecentTurns(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) == 1 {
		return turns[0].User
	}
	var lines []string
	for _, t := range turns[:len(turns)-1] {
		lines = append(lines, "User: "+t.User, "Assistant: "+t.Assistant)
	}
	lines = append(lines, "User: "+turns[len(turns)-1].User)
	return strings.Join(lines, "\n")
}
