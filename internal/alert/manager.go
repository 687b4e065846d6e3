package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/promptcanary/promptcanary/internal/config"
)

// Alert types emitted by the canary lifecycle.
const (
	TypeCanaryStep       = "canary_step"
	TypePromptPromoted   = "prompt_promoted"
	TypePromptArchived   = "prompt_archived"
	TypeTrainingComplete = "training_complete"
	TypeTrafficInvariant = "traffic_invariant_violated"
)

// Alert represents a notification to be sent.
type Alert struct {
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity"` // info, warning, critical
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	ActiveID    string                 `json:"active_id,omitempty"`
	CandidateID string                 `json:"candidate_id,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Manager orchestrates alert delivery with deduplication.
type Manager struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	senders  []Sender
	dedup    map[string]time.Time // dedupKey -> lastSent
	dedupTTL time.Duration
	logger   *slog.Logger
}

// Sender is an interface for alert delivery channels.
type Sender interface {
	Send(alert Alert) error
	Name() string
}

// NewManager creates a new alert manager with the channels the config
// enables.
func NewManager(cfg config.AlertsConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		senders:  make([]Sender, 0),
		dedup:    make(map[string]time.Time),
		dedupTTL: 5 * time.Minute,
		logger:   logger.With("component", "alert"),
	}

	if cfg.Slack.WebhookURL != "" {
		m.senders = append(m.senders, NewSlackSender(cfg.Slack))
	}
	if cfg.Webhook.URL != "" {
		m.senders = append(m.senders, NewWebhookSender(cfg.Webhook))
	}

	return m
}

// Send dispatches an alert to all configured channels with deduplication.
// Repeated alerts of the same type for the same experiment inside the TTL
// are dropped.
func (m *Manager) Send(alert Alert) {
	alert.Timestamp = time.Now()

	dedupKey := alert.Type + "|" + alert.ActiveID + "|" + alert.CandidateID
	m.mu.Lock()
	if lastSent, ok := m.dedup[dedupKey]; ok && time.Since(lastSent) < m.dedupTTL {
		m.mu.Unlock()
		m.logger.Debug("alert deduplicated", "type", alert.Type, "key", dedupKey)
		return
	}
	m.dedup[dedupKey] = time.Now()
	m.pruneLocked(time.Now())
	m.mu.Unlock()

	for _, sender := range m.senders {
		m.wg.Add(1)
		go func(s Sender) {
			defer m.wg.Done()
			if err := s.Send(alert); err != nil {
				m.logger.Error("failed to send alert",
					"sender", s.Name(),
					"type", alert.Type,
					"error", err,
				)
			}
		}(sender)
	}
}

// Flush blocks until every dispatched alert has been attempted. Short-lived
// commands call it before exiting so in-flight deliveries are not cut off.
func (m *Manager) Flush() {
	m.wg.Wait()
}

// pruneLocked drops dedup entries old enough to never suppress anything
// again. Caller holds mu.
func (m *Manager) pruneLocked(now time.Time) {
	for key, ts := range m.dedup {
		if now.Sub(ts) > m.dedupTTL*2 {
			delete(m.dedup, key)
		}
	}
}

// HasSenders returns true if any alert channels are configured.
func (m *Manager) HasSenders() bool {
	return len(m.senders) > 0
}
