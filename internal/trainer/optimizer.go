package trainer

import (
	"context"
	"fmt"
	"strings"

	"github.com/promptcanary/promptcanary/internal/extract"
)

// Optimizer produces an improved instruction prompt from the current one
// plus a dataset of scored interactions.
type Optimizer interface {
	Name() string
	Optimize(ctx context.Context, basePrompt string, train, val []*extract.Interaction) (string, error)
}

// NewOptimizer resolves an optimizer by name.
func NewOptimizer(name, model string, temperature float64) (Optimizer, error) {
	switch name {
	case "", "llm":
		return NewLLMOptimizer(NewLLMClient(model, temperature)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOptimizer, name)
	}
}

const optimizerSystemPrompt = `You are a prompt engineer. You will receive the current system prompt of an AI assistant along with real conversations and their user feedback scores (0.0 is worst, 1.0 is best).

Rewrite the system prompt so the assistant keeps doing what earned high scores and stops doing what earned low scores.

Respond with ONLY the new system prompt text. No preamble, no markdown fences, no commentary.`

// maxExamplesPerSection caps how many interactions go into the optimizer
// request. The highest and lowest scored examples carry the signal; the
// middle mostly adds tokens.
const maxExamplesPerSection = 10

// LLMOptimizer asks an LLM to rewrite the instruction prompt based on the
// best and worst scored interactions in the dataset.
type LLMOptimizer struct {
	llm *LLMClient
}

func NewLLMOptimizer(llm *LLMClient) *LLMOptimizer {
	return &LLMOptimizer{llm: llm}
}

func (o *LLMOptimizer) Name() string { return "llm" }

func (o *LLMOptimizer) Optimize(ctx context.Context, basePrompt string, train, val []*extract.Interaction) (string, error) {
	if len(train) == 0 {
		return "", ErrEmptyDataset
	}

	var b strings.Builder
	b.WriteString("Current system prompt:\n---\n")
	b.WriteString(basePrompt)
	b.WriteString("\n---\n\n")

	high, low := partitionByScore(train)
	writeExamples(&b, "High scoring conversations", high)
	writeExamples(&b, "Low scoring conversations", low)

	if len(val) > 0 {
		b.WriteString(fmt.Sprintf("\n%d further conversations were held out for validation.\n", len(val)))
	}
	b.WriteString("\nWrite the improved system prompt now.")

	improved, err := o.llm.Complete(ctx, optimizerSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("optimizer llm call failed: %w", err)
	}
	if improved == "" {
		return "", fmt.Errorf("optimizer returned an empty prompt")
	}
	return improved, nil
}

// partitionByScore splits interactions at the 0.5 mark. Unscored
// interactions land in the high bucket; they were admitted by the dataset
// gate, so they are at worst neutral examples.
func partitionByScore(in []*extract.Interaction) (high, low []*extract.Interaction) {
	for _, i := range in {
		if i.FeedbackScore != nil && *i.FeedbackScore < 0.5 {
			low = append(low, i)
		} else {
			high = append(high, i)
		}
	}
	return high, low
}

func writeExamples(b *strings.Builder, title string, examples []*extract.Interaction) {
	if len(examples) == 0 {
		return
	}
	if len(examples) > maxExamplesPerSection {
		examples = examples[:maxExamplesPerSection]
	}
	fmt.Fprintf(b, "%s:\n", title)
	for i, ex := range examples {
		score := "unscored"
		if ex.FeedbackScore != nil {
			score = fmt.Sprintf("%.2f", *ex.FeedbackScore)
		}
		fmt.Fprintf(b, "\nExample %d (score %s)\nUser: %s\nAssistant: %s\n", i+1, score, ex.UserInput, ex.AgentOutput)
	}
	b.WriteString("\n")
}
