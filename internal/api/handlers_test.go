package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/promptcanary/promptcanary/internal/config"
	"github.com/promptcanary/promptcanary/internal/router"
	"github.com/promptcanary/promptcanary/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.Initialize(); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rt := router.New(st, func() float64 { return 0.99 }, nil)
	return NewServer(config.ServerConfig{}, st, rt, nil), st
}

func seedPrompt(t *testing.T, st store.Store, status store.PromptStatus, traffic float64) *store.Prompt {
	t.Helper()
	p := &store.Prompt{
		ID:        ulid.Make().String(),
		Text:      "You are helpful.",
		Status:    status,
		Traffic:   traffic,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.InsertPrompt(p); err != nil {
		t.Fatalf("failed to insert prompt: %v", err)
	}
	return p
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSelectPromptEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/prompts/select", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSelectPrompt(t *testing.T) {
	srv, st := newTestServer(t)
	p := seedPrompt(t, st, store.StatusActive, 1.0)

	rec := doJSON(t, srv, http.MethodGet, "/api/prompts/select", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got store.Prompt
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("selected %s, want %s", got.ID, p.ID)
	}
}

func TestRecordTaskAndFeedback(t *testing.T) {
	srv, st := newTestServer(t)
	p := seedPrompt(t, st, store.StatusActive, 1.0)

	body := `{"prompt_id":"` + p.ID + `","history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`
	rec := doJSON(t, srv, http.MethodPost, "/api/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("task status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var taskResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &taskResp); err != nil {
		t.Fatalf("bad task response: %v", err)
	}
	taskID := taskResp["task_id"]
	if taskID == "" {
		t.Fatal("missing task_id")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/tasks/"+taskID+"/feedback", `{"kind":"rating","value":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("feedback status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var fbResp struct {
		FeedbackID string   `json:"feedback_id"`
		Score      *float64 `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fbResp); err != nil {
		t.Fatalf("bad feedback response: %v", err)
	}
	if fbResp.Score == nil || *fbResp.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", fbResp.Score)
	}

	metrics, err := st.AggregateMetrics(p.ID)
	if err != nil {
		t.Fatalf("AggregateMetrics: %v", err)
	}
	if metrics.InteractionCount != 1 {
		t.Errorf("interaction count = %d, want 1", metrics.InteractionCount)
	}
}

func TestRecordTaskValidation(t *testing.T) {
	srv, st := newTestServer(t)
	p := seedPrompt(t, st, store.StatusActive, 1.0)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing prompt", `{"history":[{"role":"user","content":"x"}]}`, http.StatusBadRequest},
		{"empty history", `{"prompt_id":"` + p.ID + `","history":[]}`, http.StatusBadRequest},
		{"unknown prompt", `{"prompt_id":"nope","history":[{"role":"user","content":"x"}]}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/tasks", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRecordFeedbackUnknownTask(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/tasks/nope/feedback", `{"kind":"thumbs_up"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListPrompts(t *testing.T) {
	srv, st := newTestServer(t)
	seedPrompt(t, st, store.StatusActive, 0.9)
	seedPrompt(t, st, store.StatusCandidate, 0.1)
	seedPrompt(t, st, store.StatusDeprecated, 0)

	rec := doJSON(t, srv, http.MethodGet, "/api/prompts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Prompts []store.Prompt `json:"prompts"`
		Total   int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/prompts?status=candidate", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("filtered total = %d, want 1", resp.Total)
	}
}

func TestPromptMetricsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/prompts/nope/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	srv, st := newTestServer(t)
	seedPrompt(t, st, store.StatusActive, 0.9)
	seedPrompt(t, st, store.StatusCandidate, 0.1)

	rec := doJSON(t, srv, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		ExperimentActive bool                   `json:"experiment_active"`
		Active           map[string]interface{} `json:"active"`
		Candidate        map[string]interface{} `json:"candidate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if !resp.ExperimentActive {
		t.Error("experiment_active = false, want true")
	}
	if resp.Active == nil || resp.Candidate == nil {
		t.Error("expected both active and candidate entries")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
