package hook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/santoshvicky137/SFCICD/internal/config"
)

const testSecret = "hook-secret"

// mockPipeline implements Pipeline for testing.
type mockPipeline struct {
	mu      sync.Mutex
	runs    int
	block   chan struct{}
	started chan struct{}
}

func (m *mockPipeline) Run(_ context.Context) error {
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	return nil
}

func (m *mockPipeline) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, pipeline Pipeline, mutate func(*config.Config)) *Server {
	t.Helper()

	secretFile := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(secretFile, []byte(testSecret+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Serve: config.ServeConfig{
			ListenAddr:              "127.0.0.1:0",
			GitHubWebhookSecretFile: secretFile,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := NewServer(cfg, pipeline, testLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	return req
}

func TestHandleWebhookRejectsGet(t *testing.T) {
	s := newTestServer(t, &mockPipeline{}, nil)

	rec := httptest.NewRecorder()
	s.handleWebhook(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleWebhookRejectsWrongContentType(t *testing.T) {
	s := newTestServer(t, &mockPipeline{}, nil)

	req := pushRequest(`{}`)
	req.Header.Set("Content-Type", "text/plain")

	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t, &mockPipeline{}, nil)

	req := pushRequest(`{}`)
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandleWebhookRejectsMissingSignature(t *testing.T) {
	s := newTestServer(t, &mockPipeline{}, nil)

	req := pushRequest(`{}`)
	req.Header.Del("X-Hub-Signature-256")

	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandleWebhookIgnoresDisallowedEvent(t *testing.T) {
	pipeline := &mockPipeline{}
	s := newTestServer(t, pipeline, func(c *config.Config) {
		c.Serve.AllowedEventTypes = []string{"push"}
	})

	body := `{}`
	req := pushRequest(body)
	req.Header.Set("X-GitHub-Event", "ping")

	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not configured") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandleWebhookIgnoresDisallowedRef(t *testing.T) {
	pipeline := &mockPipeline{}
	s := newTestServer(t, pipeline, func(c *config.Config) {
		c.Serve.AllowedRefs = []string{"refs/heads/main"}
	})

	rec := httptest.NewRecorder()
	s.handleWebhook(rec, pushRequest(`{"ref":"refs/heads/feature"}`))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Ref not configured") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandleWebhookTriggersPipeline(t *testing.T) {
	pipeline := &mockPipeline{}
	s := newTestServer(t, pipeline, func(c *config.Config) {
		c.Serve.AllowedRefs = []string{"refs/heads/main"}
	})
	s.debounce.delay = 10 * time.Millisecond

	rec := httptest.NewRecorder()
	s.handleWebhook(rec, pushRequest(`{"ref":"refs/heads/main","after":"abc123"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "triggered") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for pipeline.runCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pipeline.runCount() != 1 {
		t.Errorf("expected one pipeline run, got %d", pipeline.runCount())
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	pipeline := &mockPipeline{}
	s := newTestServer(t, pipeline, nil)
	s.debounce.delay = 50 * time.Millisecond

	for i := 0; i < 5; i++ {
		s.debounce.trigger(func() {
			s.runPipeline(context.Background())
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for pipeline.runCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Give any extra timers a chance to fire before asserting.
	time.Sleep(100 * time.Millisecond)
	if pipeline.runCount() != 1 {
		t.Errorf("expected a single coalesced run, got %d", pipeline.runCount())
	}
}

func TestRunPipelineSingleFlight(t *testing.T) {
	pipeline := &mockPipeline{
		block:   make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	s := newTestServer(t, pipeline, nil)

	go s.runPipeline(context.Background())
	<-pipeline.started

	// Requests while a run is in flight queue exactly one re-run.
	s.runPipeline(context.Background())
	s.runPipeline(context.Background())
	s.runPipeline(context.Background())

	close(pipeline.block)

	deadline := time.Now().Add(2 * time.Second)
	for pipeline.runCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := pipeline.runCount(); got != 2 {
		t.Errorf("expected exactly 2 runs (initial + one pending), got %d", got)
	}
}

func TestNewServerMissingSecret(t *testing.T) {
	cfg := &config.Config{
		Serve: config.ServeConfig{
			ListenAddr:              "127.0.0.1:0",
			GitHubWebhookSecretFile: "/nonexistent/secret",
		},
	}
	if _, err := NewServer(cfg, &mockPipeline{}, testLogger()); err == nil {
		t.Error("expected error for missing secret file")
	}
}
