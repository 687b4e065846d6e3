package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/promptcanary/promptcanary/internal/dataset"
	"github.com/promptcanary/promptcanary/internal/store"
)

// --- Serving path ---

func (s *Server) handleSelectPrompt(w http.ResponseWriter, r *http.Request) {
	p, err := s.router.Select()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "no prompts available")
		return
	}
	s.BroadcastEvent("prompt_selected", map[string]string{
		"prompt_id": p.ID,
		"status":    string(p.Status),
	})
	writeJSON(w, p)
}

type recordTaskRequest struct {
	PromptID string          `json:"prompt_id"`
	History  []store.Message `json:"history"`
}

func (s *Server) handleRecordTask(w http.ResponseWriter, r *http.Request) {
	var req recordTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PromptID == "" {
		writeError(w, http.StatusBadRequest, "prompt_id is required")
		return
	}
	if len(req.History) == 0 {
		writeError(w, http.StatusBadRequest, "history must not be empty")
		return
	}

	prompt, err := s.store.GetPrompt(req.PromptID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if prompt == nil {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}

	task := &store.Task{
		ID:        ulid.Make().String(),
		PromptID:  req.PromptID,
		History:   req.History,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.RecordTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.BroadcastEvent("task_recorded", map[string]string{
		"task_id":   task.ID,
		"prompt_id": task.PromptID,
	})
	writeJSONStatus(w, http.StatusCreated, map[string]string{"task_id": task.ID})
}

type recordFeedbackRequest struct {
	Kind    string   `json:"kind"`
	Value   *float64 `json:"value,omitempty"`
	Comment string   `json:"comment,omitempty"`
}

func (s *Server) handleRecordFeedback(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	var req recordFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	task, err := s.store.GetTask(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	fb := &store.Feedback{
		ID:        ulid.Make().String(),
		TaskID:    taskID,
		Kind:      req.Kind,
		Value:     req.Value,
		Comment:   req.Comment,
		Score:     dataset.NormalizeFeedback(req.Kind, req.Value),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.RecordFeedback(fb); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.BroadcastEvent("feedback_recorded", map[string]interface{}{
		"task_id":   taskID,
		"prompt_id": task.PromptID,
		"score":     fb.Score,
	})
	writeJSONStatus(w, http.StatusCreated, map[string]interface{}{
		"feedback_id": fb.ID,
		"score":       fb.Score,
	})
}

// --- Inspection ---

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	prompts, err := s.store.ListPrompts(store.PromptStatus(status))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"prompts": prompts,
		"total":   len(prompts),
	})
}

func (s *Server) handlePromptMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	prompt, err := s.store.GetPrompt(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if prompt == nil {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}

	metrics, err := s.store.AggregateMetrics(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, metrics)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.GetPromptByStatus(store.StatusActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	candidate, err := s.store.GetPromptByStatus(store.StatusCandidate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := map[string]interface{}{
		"experiment_active": candidate != nil,
		"active":            promptStatusEntry(s, active),
		"candidate":         promptStatusEntry(s, candidate),
	}
	writeJSON(w, status)
}

func promptStatusEntry(s *Server, p *store.Prompt) interface{} {
	if p == nil {
		return nil
	}
	entry := map[string]interface{}{
		"id":      p.ID,
		"status":  p.Status,
		"traffic": p.Traffic,
	}
	if metrics, err := s.store.AggregateMetrics(p.ID); err == nil {
		entry["interactions"] = metrics.InteractionCount
		entry["average_score"] = metrics.AverageScore
	}
	return entry
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
