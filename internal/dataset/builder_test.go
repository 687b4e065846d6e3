package dataset

import (
	"fmt"
	"testing"

	"github.com/promptcanary/promptcanary/internal/store"
)

type mockSource struct {
	records []*store.TaskRecord
	err     error
}

func (m *mockSource) FetchTasksWithFeedback(promptID string, limit int) ([]*store.TaskRecord, error) {
	return m.records, m.err
}

func fptr(v float64) *float64 { return &v }

func record(taskID, input, output, kind string, value *float64) *store.TaskRecord {
	return &store.TaskRecord{
		TaskID: taskID,
		History: []store.Message{
			{Role: "user", Content: input},
			{Role: "assistant", Content: output},
		},
		FeedbackKind:  kind,
		FeedbackValue: value,
	}
}

func TestNormalizeFeedback(t *testing.T) {
	tests := []struct {
		kind  string
		value *float64
		want  *float64
	}{
		{"rating", fptr(1), fptr(0)},
		{"rating", fptr(3), fptr(0.5)},
		{"rating", fptr(5), fptr(1)},
		{"rating", fptr(6), nil},
		{"rating", fptr(0), nil},
		{"rating", nil, nil},
		{"thumbs_up", nil, fptr(1)},
		{"thumbs_down", nil, fptr(0)},
		{"score", fptr(0.7), fptr(0.7)},
		{"score", fptr(1.4), fptr(1)},
		{"score", fptr(-0.2), fptr(0)},
		{"score", nil, nil},
		{"emoji", fptr(3), nil},
		{"", nil, nil},
	}
	for _, tt := range tests {
		got := NormalizeFeedback(tt.kind, tt.value)
		if (got == nil) != (tt.want == nil) {
			t.Errorf("NormalizeFeedback(%q, %v) = %v, want %v", tt.kind, tt.value, got, tt.want)
			continue
		}
		if got != nil && *got != *tt.want {
			t.Errorf("NormalizeFeedback(%q, %v) = %v, want %v", tt.kind, *tt.value, *got, *tt.want)
		}
	}
}

func TestBuilderPipeline(t *testing.T) {
	src := &mockSource{records: []*store.TaskRecord{
		record("t1", "good question", "good answer", "rating", fptr(5)),
		record("t2", "bad question", "bad answer", "rating", fptr(1)),
		record("t3", "no feedback", "reply", "", nil),
		record("t4", "good question", "good answer", "thumbs_up", nil), // duplicate of t1
	}}

	b, err := NewBuilder(src, Options{
		Strategy:             "last_turn",
		RequireFeedback:      true,
		MinFeedbackThreshold: 0.5,
	}, nil)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	out, err := b.Build("")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(out))
	}
	if out[0].TaskID != "t1" {
		t.Errorf("expected first-wins dedupe to keep t1, got %s", out[0].TaskID)
	}
	if out[0].FeedbackScore == nil || *out[0].FeedbackScore != 1.0 {
		t.Errorf("score = %v", out[0].FeedbackScore)
	}
}

func TestBuilderKeepsUnscoredWhenNotRequired(t *testing.T) {
	src := &mockSource{records: []*store.TaskRecord{
		record("t1", "q", "a", "", nil),
	}}
	b, err := NewBuilder(src, Options{Strategy: "last_turn"}, nil)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	out, err := b.Build("")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(out))
	}
}

func TestBuilderQualityRules(t *testing.T) {
	src := &mockSource{records: []*store.TaskRecord{
		record("t1", "short", "a", "thumbs_up", nil),
		record("t2", "a much longer question with detail", "a detailed answer", "thumbs_up", nil),
	}}
	b, err := NewBuilder(src, Options{
		Strategy:     "last_turn",
		QualityRules: []string{`input.length > 10`},
	}, nil)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	out, err := b.Build("")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out) != 1 || out[0].TaskID != "t2" {
		t.Fatalf("expected only t2 to pass, got %d interactions", len(out))
	}
}

func TestBuilderBadRuleRejected(t *testing.T) {
	if _, err := NewBuilder(&mockSource{}, Options{QualityRules: []string{`input.length +`}}, nil); err == nil {
		t.Error("expected compile error for malformed rule")
	}
	if _, err := NewBuilder(&mockSource{}, Options{QualityRules: []string{`input.length`}}, nil); err == nil {
		t.Error("expected error for non-bool rule")
	}
}

func TestBuilderFetchError(t *testing.T) {
	src := &mockSource{err: fmt.Errorf("disk gone")}
	b, err := NewBuilder(src, Options{}, nil)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Build(""); err == nil {
		t.Error("expected fetch error to propagate")
	}
}

func TestBuilderUnknownStrategy(t *testing.T) {
	if _, err := NewBuilder(&mockSource{}, Options{Strategy: "bogus"}, nil); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
