package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptcanary/promptcanary/internal/config"
	"github.com/promptcanary/promptcanary/internal/router"
	"github.com/promptcanary/promptcanary/internal/store"
)

// Server exposes the prompt selection and feedback ingestion API.
type Server struct {
	config     config.ServerConfig
	store      store.Store
	router     *router.Router
	wsHub      *WebSocketHub
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg config.ServerConfig, st store.Store, rt *router.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: cfg,
		store:  st,
		router: rt,
		wsHub:  NewWebSocketHub(logger, cfg.CORS),
		mux:    http.NewServeMux(),
		logger: logger.With("component", "api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Serving path
	s.mux.HandleFunc("GET /api/prompts/select", s.handleSelectPrompt)
	s.mux.HandleFunc("POST /api/tasks", s.handleRecordTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/feedback", s.handleRecordFeedback)

	// Inspection
	s.mux.HandleFunc("GET /api/prompts", s.handleListPrompts)
	s.mux.HandleFunc("GET /api/prompts/{id}/metrics", s.handlePromptMetrics)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Live canary event feed
	s.mux.HandleFunc("GET /api/events", s.wsHub.HandleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the API server on the given address.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BroadcastEvent pushes an event to all WebSocket clients. Handlers use it
// for selection, task, and feedback activity.
func (s *Server) BroadcastEvent(eventType string, data interface{}) {
	s.wsHub.Broadcast(eventType, data)
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIAddr makes an address string from host and port.
func APIAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
