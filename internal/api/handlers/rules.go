package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marinaops/internal/core"
	"marinaops/internal/observability"
	"marinaops/internal/rules"
	"marinaops/internal/types"
)

// RuleRegistry exposes the active rule set and reloads it on demand.
type RuleRegistry interface {
	Current() *rules.Set
	LoadedAt() time.Time
	Refresh(ctx context.Context) (*rules.Set, error)
}

// ViewInvalidator drops every memoized week.
type ViewInvalidator interface {
	InvalidateAll()
}

// RulesHandler lists and refreshes the rescheduling rules.
type RulesHandler struct {
	registry RuleRegistry
	weeks    ViewInvalidator
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewRulesHandler creates a RulesHandler. weeks and metrics may be nil.
func NewRulesHandler(registry RuleRegistry, weeks ViewInvalidator, metrics *observability.Metrics, logger *slog.Logger) *RulesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesHandler{registry: registry, weeks: weeks, metrics: metrics, logger: logger}
}

// RegisterRoutes mounts the rule endpoints.
func (h *RulesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/rules", h.List)
	r.Post("/rules/refresh", h.Refresh)
}

type rulesResponse struct {
	Rules    []rules.Record `json:"rules"`
	Count    int            `json:"count"`
	LoadedAt time.Time      `json:"loaded_at"`
}

func (h *RulesHandler) snapshot(set *rules.Set) rulesResponse {
	resp := rulesResponse{Rules: []rules.Record{}, LoadedAt: h.registry.LoadedAt().UTC()}
	for _, rule := range set.Rules() {
		resp.Rules = append(resp.Rules, rules.RecordOf(rule))
	}
	resp.Count = len(resp.Rules)
	return resp
}

// List handles GET /v1/rules. Rules are returned in evaluation order.
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	core.Data(w, r, http.StatusOK, h.snapshot(h.registry.Current()))
}

// Refresh handles POST /v1/rules/refresh. On success every memoized week is
// dropped so views are recomputed under the new rules. On failure the
// previous set stays active.
func (h *RulesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	set, err := h.registry.Refresh(r.Context())
	if err != nil {
		if types.CodeOf(err) == "" {
			err = types.NewAppError(types.ErrCodeConfigInvalidRuleSet, "rule refresh failed, previous rule set kept", err)
		}
		h.logger.ErrorContext(r.Context(), "rule refresh failed", "error", err)
		core.Error(w, r, err)
		return
	}

	if h.weeks != nil {
		h.weeks.InvalidateAll()
	}
	if h.metrics != nil {
		h.metrics.RulesLoaded.Set(float64(set.Len()))
	}
	h.logger.InfoContext(r.Context(), "rules refreshed via API", "rules", set.Len())
	core.Data(w, r, http.StatusOK, h.snapshot(set))
}
