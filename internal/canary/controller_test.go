package canary

import (
	"errors"
	"testing"

	"github.com/promptcanary/promptcanary/internal/store"
)

type mockStore struct {
	active    *store.Prompt
	candidate *store.Prompt
	metrics   map[string]*store.PromptMetrics

	stepped *store.StepUpdate
}

func (m *mockStore) GetPromptByStatus(status store.PromptStatus) (*store.Prompt, error) {
	switch status {
	case store.StatusActive:
		return m.active, nil
	case store.StatusCandidate:
		return m.candidate, nil
	}
	return nil, nil
}

func (m *mockStore) AggregateMetrics(promptID string) (*store.PromptMetrics, error) {
	if pm, ok := m.metrics[promptID]; ok {
		return pm, nil
	}
	return &store.PromptMetrics{PromptID: promptID}, nil
}

func (m *mockStore) StepTraffic(update store.StepUpdate) error {
	m.stepped = &update
	return nil
}

func fptr(v float64) *float64 { return &v }

func metrics(id string, count int, avg *float64) *store.PromptMetrics {
	return &store.PromptMetrics{PromptID: id, InteractionCount: count, AverageScore: avg}
}

func experiment(activeTraffic, candidateTraffic float64) *mockStore {
	return &mockStore{
		active:    &store.Prompt{ID: "a", Status: store.StatusActive, Traffic: activeTraffic},
		candidate: &store.Prompt{ID: "c", Status: store.StatusCandidate, Traffic: candidateTraffic},
		metrics:   map[string]*store.PromptMetrics{},
	}
}

func TestCompareMetrics(t *testing.T) {
	c := New(&mockStore{}, 20, nil)

	tests := []struct {
		name      string
		active    *store.PromptMetrics
		candidate *store.PromptMetrics
		want      Winner
	}{
		{"candidate wins", metrics("a", 50, fptr(0.6)), metrics("c", 50, fptr(0.8)), WinnerCandidate},
		{"active wins", metrics("a", 50, fptr(0.9)), metrics("c", 50, fptr(0.4)), WinnerActive},
		{"exact tie", metrics("a", 50, fptr(0.7)), metrics("c", 50, fptr(0.7)), WinnerNone},
		{"candidate too few", metrics("a", 50, fptr(0.5)), metrics("c", 19, fptr(0.9)), WinnerNone},
		{"active too few", metrics("a", 5, fptr(0.5)), metrics("c", 50, fptr(0.9)), WinnerNone},
		{"active unscored", metrics("a", 50, nil), metrics("c", 50, fptr(0.9)), WinnerNone},
		{"candidate unscored", metrics("a", 50, fptr(0.5)), metrics("c", 50, nil), WinnerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.CompareMetrics(tt.active, tt.candidate); got != tt.want {
				t.Errorf("CompareMetrics = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunNoCandidate(t *testing.T) {
	st := &mockStore{active: &store.Prompt{ID: "a", Status: store.StatusActive, Traffic: 1.0}}
	out, err := New(st, 0, nil).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != "none" {
		t.Errorf("action = %q", out.Action)
	}
	if st.stepped != nil {
		t.Error("no step should be applied")
	}
}

func TestRunStepUp(t *testing.T) {
	st := experiment(0.9, 0.1)
	st.metrics["a"] = metrics("a", 100, fptr(0.6))
	st.metrics["c"] = metrics("c", 30, fptr(0.8))

	out, err := New(st, 20, nil).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != "step_up" {
		t.Errorf("action = %q", out.Action)
	}
	if st.stepped == nil {
		t.Fatal("expected a traffic step")
	}
	if !almost(st.stepped.CandidateTraffic, 0.2) || !almost(st.stepped.ActiveTraffic, 0.8) {
		t.Errorf("step = %+v", st.stepped)
	}
	if st.stepped.ActiveStatus != "" || st.stepped.CandidateStatus != "" {
		t.Errorf("no status change expected, got %+v", st.stepped)
	}
}

func TestRunStepDown(t *testing.T) {
	st := experiment(0.7, 0.3)
	st.metrics["a"] = metrics("a", 100, fptr(0.9))
	st.metrics["c"] = metrics("c", 40, fptr(0.5))

	out, err := New(st, 20, nil).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != "step_down" {
		t.Errorf("action = %q", out.Action)
	}
	if !almost(st.stepped.CandidateTraffic, 0.2) || !almost(st.stepped.ActiveTraffic, 0.8) {
		t.Errorf("step = %+v", st.stepped)
	}
}

func TestRunHoldsOnTie(t *testing.T) {
	st := experiment(0.5, 0.5)
	st.metrics["a"] = metrics("a", 100, fptr(0.7))
	st.metrics["c"] = metrics("c", 100, fptr(0.7))

	out, err := New(st, 20, nil).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != "none" || st.stepped != nil {
		t.Errorf("tie should hold traffic, got action=%q stepped=%+v", out.Action, st.stepped)
	}
}

func TestRunPromotesAtFullTraffic(t *testing.T) {
	st := experiment(0.1, 0.9)
	st.metrics["a"] = metrics("a", 100, fptr(0.5))
	st.metrics["c"] = metrics("c", 200, fptr(0.9))

	out, err := New(st, 20, nil).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != "promoted" {
		t.Errorf("action = %q", out.Action)
	}
	if st.stepped.CandidateTraffic != 1.0 || st.stepped.ActiveTraffic != 0.0 {
		t.Errorf("traffic = %+v", st.stepped)
	}
	if st.stepped.CandidateStatus != store.StatusActive || st.stepped.ActiveStatus != store.StatusRolledBack {
		t.Errorf("statuses = %+v", st.stepped)
	}
}

func TestRunArchivesAtZeroTraffic(t *testing.T) {
	st := experiment(0.9, 0.1)
	st.metrics["a"] = metrics("a", 100, fptr(0.9))
	st.metrics["c"] = metrics("c", 50, fptr(0.3))

	out, err := New(st, 20, nil).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != "archived" {
		t.Errorf("action = %q", out.Action)
	}
	if st.stepped.CandidateTraffic != 0.0 || st.stepped.ActiveTraffic != 1.0 {
		t.Errorf("traffic = %+v", st.stepped)
	}
	if st.stepped.CandidateStatus != store.StatusDeprecated {
		t.Errorf("candidate status = %q", st.stepped.CandidateStatus)
	}
	if st.stepped.ActiveStatus != "" {
		t.Errorf("active keeps its status, got %q", st.stepped.ActiveStatus)
	}
}

func TestRunFloatDriftSnapsToEdge(t *testing.T) {
	// Nine 0.1 steps of float math leave values like 0.9000000000000001.
	st := experiment(1-0.9000000000000001, 0.9000000000000001)
	st.metrics["a"] = metrics("a", 100, fptr(0.5))
	st.metrics["c"] = metrics("c", 200, fptr(0.9))

	out, err := New(st, 20, nil).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Action != "promoted" {
		t.Errorf("action = %q, want promoted despite float drift", out.Action)
	}
	if st.stepped.CandidateTraffic != 1.0 {
		t.Errorf("candidate traffic = %v, want exactly 1.0", st.stepped.CandidateTraffic)
	}
}

func TestRunTrafficInvariantViolation(t *testing.T) {
	st := experiment(0.8, 0.1)
	out, err := New(st, 20, nil).Run()
	if !errors.Is(err, ErrTrafficInvariant) {
		t.Fatalf("err = %v, want ErrTrafficInvariant", err)
	}
	if out != nil || st.stepped != nil {
		t.Error("no step should be applied on corrupted state")
	}
}

func almost(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
