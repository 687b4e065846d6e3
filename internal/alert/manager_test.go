package alert

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/promptcanary/promptcanary/internal/config"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestManagerNoSenders(t *testing.T) {
	m := NewManager(config.AlertsConfig{}, nil)
	if m.HasSenders() {
		t.Error("expected no senders for empty config")
	}
	// Must not panic with zero channels.
	m.Send(Alert{Type: TypeCanaryStep, Severity: "info"})
}

func TestManagerDedup(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	m := NewManager(config.AlertsConfig{
		Webhook: config.WebhookAlertConfig{URL: srv.URL},
	}, nil)
	if !m.HasSenders() {
		t.Fatal("expected webhook sender")
	}

	a := Alert{Type: TypeCanaryStep, Severity: "info", ActiveID: "a1", CandidateID: "c1"}
	m.Send(a)
	m.Send(a) // deduplicated
	m.Send(Alert{Type: TypePromptPromoted, Severity: "info", ActiveID: "a1", CandidateID: "c1"})

	waitFor(t, func() bool { return atomic.LoadInt64(&hits) == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Errorf("webhook hits = %d, want 2", got)
	}
}

func TestWebhookSignature(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-PromptCanary-Signature")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	sender := NewWebhookSender(config.WebhookAlertConfig{URL: srv.URL, Secret: "s3cret"})
	if err := sender.Send(Alert{Type: TypePromptPromoted, Severity: "info", CandidateID: "c1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotSig == "" {
		t.Fatal("missing signature header")
	}
	want := computeHMAC(gotBody, []byte("s3cret"))
	if !hmac.Equal([]byte(gotSig), []byte(want)) {
		t.Errorf("signature mismatch: got %s want %s", gotSig, want)
	}

	var a Alert
	if err := json.Unmarshal(gotBody, &a); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if a.Type != TypePromptPromoted || a.CandidateID != "c1" {
		t.Errorf("payload = %+v", a)
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := NewWebhookSender(config.WebhookAlertConfig{URL: srv.URL})
	if err := sender.Send(Alert{Type: TypeCanaryStep}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestSlackPayload(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	sender := NewSlackSender(config.SlackAlertConfig{WebhookURL: srv.URL, Channel: "#deploys"})
	err := sender.Send(Alert{
		Type:        TypeTrafficInvariant,
		Severity:    "critical",
		Title:       "Traffic invariant violated",
		Message:     "active and candidate traffic sum to 0.9",
		ActiveID:    "a1",
		CandidateID: "c1",
		Timestamp:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	payload := string(body)
	for _, want := range []string{"#deploys", "Traffic invariant violated", "a1", "c1", severityColor("critical")} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q: %s", want, payload)
		}
	}
}

func TestDedupPruningOnSend(t *testing.T) {
	m := NewManager(config.AlertsConfig{}, nil)
	m.dedup["stale"] = time.Now().Add(-time.Hour)
	m.dedup["fresh"] = time.Now()
	m.Send(Alert{Type: TypeCanaryStep, ActiveID: "a1", CandidateID: "c1"})
	if _, ok := m.dedup["stale"]; ok {
		t.Error("stale entry not pruned")
	}
	if _, ok := m.dedup["fresh"]; !ok {
		t.Error("fresh entry should remain")
	}
	if _, ok := m.dedup[TypeCanaryStep+"|a1|c1"]; !ok {
		t.Error("sent alert should be recorded for dedup")
	}
}

func TestFlushWaitsForDelivery(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	m := NewManager(config.AlertsConfig{
		Webhook: config.WebhookAlertConfig{URL: srv.URL},
	}, nil)
	m.Send(Alert{Type: TypeTrafficInvariant, Severity: "critical"})
	m.Flush()

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("deliveries completed after Flush = %d, want 1", got)
	}
}

func TestSeverityMapping(t *testing.T) {
	if severityEmoji("critical") == severityEmoji("info") {
		t.Error("critical and info should differ")
	}
	if severityColor("warning") != "#ffc107" {
		t.Errorf("warning color = %s", severityColor("warning"))
	}
}
