package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marinaops/internal/config"
	"marinaops/internal/core"
	"marinaops/internal/observability"
	"marinaops/internal/rules"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Server:      config.ServerConfig{Port: "0", RequestTimeout: 5 * time.Second},
		Security:    config.SecurityConfig{CorsAllowedOrigins: []string{"*"}},
	}
}

// buildTestServer wires the HTTP surface over a static rule store and no
// database.
func buildTestServer(t *testing.T, probes ...core.HealthProbe) *core.Server {
	t.Helper()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry(registry)
	store := rules.NewStaticStore(rules.MustNewSet(rules.Rule{
		Name: "storm",
		Predicate: rules.Predicate{Logic: rules.LogicAny, Conditions: []rules.Condition{
			{Field: rules.FieldCondition, Operator: rules.OpIn, Values: []string{"storm"}},
		}},
		Action: rules.Block{},
		Reason: "storm warning",
	}))

	srv, err := newServer(testConfig(), testLogger(), serverDeps{
		Rules:    store,
		Metrics:  metrics,
		Gatherer: registry,
		Probes:   probes,
	})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	srv.MountRoutes()
	return srv
}

func get(t *testing.T, srv *core.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := buildTestServer(t, core.ProbeFunc("database", func(context.Context) error { return nil }))

	rec := get(t, srv, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: got status %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHealthEndpoint_UnhealthyProbe(t *testing.T) {
	srv := buildTestServer(t, core.ProbeFunc("database", func(context.Context) error {
		return errors.New("connection refused")
	}))

	rec := get(t, srv, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health: got status %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRulesEndpointIsMounted(t *testing.T) {
	srv := buildTestServer(t)

	rec := get(t, srv, "/v1/rules")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/rules: got status %d; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Data.Count)
	}
}

func TestSweepRouteAbsentWithoutSweeper(t *testing.T) {
	srv := buildTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sweeps", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /v1/sweeps: got status %d, want 404 or 405", rec.Code)
	}
}

func TestMetricsEndpointExposesRequestMetrics(t *testing.T) {
	srv := buildTestServer(t)

	_ = get(t, srv, "/v1/rules")
	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: got status %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`marinaops_http_requests_total{method="GET",route="/v1/rules",status="200"} 1`,
		"marinaops_rules_loaded",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStartWorker_StopsOnShutdown(t *testing.T) {
	srv, err := core.NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	started := make(chan struct{})
	stopped := false
	startWorker(context.Background(), srv, "test", testLogger(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		stopped = true
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !stopped {
		t.Error("worker did not observe cancellation before Shutdown returned")
	}
}

func TestStartWorker_ShutdownDeadline(t *testing.T) {
	srv, err := core.NewServer(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	release := make(chan struct{})
	defer close(release)
	startWorker(context.Background(), srv, "stuck", testLogger(), func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = srv.Shutdown(ctx)
	if err == nil || !strings.Contains(err.Error(), "stuck did not stop") {
		t.Errorf("Shutdown error = %v, want deadline error naming the worker", err)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
		warnOn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
		{"bogus", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := newLogger(tt.level)
			if got := l.Enabled(ctx, slog.LevelDebug); got != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugOn)
			}
			if got := l.Enabled(ctx, slog.LevelInfo); got != tt.infoOn {
				t.Errorf("info enabled = %v, want %v", got, tt.infoOn)
			}
			if got := l.Enabled(ctx, slog.LevelWarn); got != tt.warnOn {
				t.Errorf("warn enabled = %v, want %v", got, tt.warnOn)
			}
		})
	}
}
