package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marinaops/internal/config"
)

// mockMetricsCollector implements MetricsCollector for testing.
type mockMetricsCollector struct {
	mu    sync.Mutex
	calls []metricsCall
}

type metricsCall struct {
	method, route, status string
	duration              time.Duration
}

func (m *mockMetricsCollector) RecordRequest(method, route, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricsCall{method, route, status, duration})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{
		Environment: "local",
		Server:      config.ServerConfig{RequestTimeout: time.Second},
		Security:    config.SecurityConfig{CorsAllowedOrigins: []string{"*"}},
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv
}

func TestNewServer_Success(t *testing.T) {
	cfg := &config.Config{Environment: "local"}
	srv, err := NewServer(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	if srv.Config != cfg {
		t.Error("Config field not set correctly")
	}
	if srv.Validator == nil {
		t.Error("Validator should be initialized")
	}
	if srv.Router() == nil || srv.Handler() == nil {
		t.Error("router should be initialized")
	}
}

func TestNewServer_NilArguments(t *testing.T) {
	if _, err := NewServer(nil, slog.Default()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestShutdown_RunsHooksInReverse(t *testing.T) {
	srv := newTestServer(t)

	var order []string
	srv.OnShutdown(func(context.Context) error {
		order = append(order, "pool")
		return nil
	})
	srv.OnShutdown(func(context.Context) error {
		order = append(order, "listener")
		return nil
	})

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(order) != 2 || order[0] != "listener" || order[1] != "pool" {
		t.Errorf("unexpected hook order: %v", order)
	}
}

func TestShutdown_JoinsErrorsAndRunsAllHooks(t *testing.T) {
	srv := newTestServer(t)

	errKafka := errors.New("kafka close")
	ran := false
	srv.OnShutdown(func(context.Context) error {
		ran = true
		return nil
	})
	srv.OnShutdown(func(context.Context) error { return errKafka })

	err := srv.Shutdown(context.Background())
	if !errors.Is(err, errKafka) {
		t.Fatalf("expected joined error to wrap %v, got %v", errKafka, err)
	}
	if !ran {
		t.Error("hooks after a failing hook must still run")
	}
}
