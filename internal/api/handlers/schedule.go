// Package handlers contains the HTTP handlers of the scheduling API. Each
// handler depends on narrow interfaces declared here and is mounted onto
// the /v1 router through core.Server.V1RouteRegistrars.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marinaops/internal/core"
	"marinaops/internal/scheduling"
	"marinaops/internal/types"
)

// WeekPlanner reads aggregated weeks and single-task evaluations.
type WeekPlanner interface {
	Week(ctx context.Context, siteID string, weekStart types.Date) (scheduling.WeekView, error)
	Evaluate(ctx context.Context, taskID string) (types.Task, types.Evaluation, error)
}

// TaskMover is the rescheduling command surface.
type TaskMover interface {
	Reschedule(ctx context.Context, taskID string, newDate types.Date) (scheduling.Result, error)
	ApplyRecommendation(ctx context.Context, taskID string) (scheduling.Result, error)
}

// WeekSweeper applies every recommendation of a week.
type WeekSweeper interface {
	Sweep(ctx context.Context, siteID string, weekStart types.Date) (scheduling.SweepReport, error)
}

// ScheduleHandler serves the planning calendar and rescheduling commands.
type ScheduleHandler struct {
	planner   WeekPlanner
	mover     TaskMover
	sweeper   WeekSweeper
	validator *core.Validator
	logger    *slog.Logger
}

// NewScheduleHandler creates a ScheduleHandler. sweeper may be nil, in which
// case the sweep route is not mounted.
func NewScheduleHandler(planner WeekPlanner, mover TaskMover, sweeper WeekSweeper, val *core.Validator, logger *slog.Logger) *ScheduleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &ScheduleHandler{
		planner:   planner,
		mover:     mover,
		sweeper:   sweeper,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the scheduling endpoints.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Get("/weeks/{weekStart}", h.GetWeek)
	r.Route("/tasks/{id}", func(r chi.Router) {
		r.Get("/evaluation", h.GetEvaluation)
		r.Post("/reschedule", h.Reschedule)
		r.Post("/apply-recommendation", h.ApplyRecommendation)
	})
	if h.sweeper != nil {
		r.Post("/sweeps", h.Sweep)
	}
}

// GetWeek handles GET /v1/weeks/{weekStart}?site_id=.
func (h *ScheduleHandler) GetWeek(w http.ResponseWriter, r *http.Request) {
	weekStart, err := parseDateParam("weekStart", chi.URLParam(r, "weekStart"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"site_id query parameter is required",
			nil,
		))
		return
	}

	view, err := h.planner.Week(r.Context(), siteID, weekStart)
	if err != nil {
		h.fail(w, r, "week aggregation failed", err)
		return
	}
	core.Data(w, r, http.StatusOK, view)
}

type evaluationResponse struct {
	Task       types.Task       `json:"task"`
	Evaluation types.Evaluation `json:"evaluation"`
}

// GetEvaluation handles GET /v1/tasks/{id}/evaluation. When the weather
// behind the evaluation could not be read it answers 503 rather than an
// evaluation nobody can act on.
func (h *ScheduleHandler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	task, eval, err := h.planner.Evaluate(r.Context(), id)
	if err != nil {
		h.fail(w, r, "task evaluation failed", err)
		return
	}
	if eval.Status == types.EvaluationUnavailable {
		h.fail(w, r, "weather unavailable for evaluation", types.NewAppErrorWithDetails(
			types.ErrCodeUnavailableWeather,
			"weather data is unavailable for this task's date",
			nil,
			map[string]any{"task_id": task.ID, "date": task.ScheduledDate.String()},
		))
		return
	}
	core.Data(w, r, http.StatusOK, evaluationResponse{Task: task, Evaluation: eval})
}

// RescheduleRequest is the body of POST /v1/tasks/{id}/reschedule.
type RescheduleRequest struct {
	NewDate string `json:"new_date" validate:"required,iso_date"`
}

// Reschedule handles POST /v1/tasks/{id}/reschedule. A move to the task's
// current date answers 200 with moved=false.
func (h *ScheduleHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	newDate, err := types.ParseDate(req.NewDate)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate, "new_date must be YYYY-MM-DD", err))
		return
	}

	res, err := h.mover.Reschedule(r.Context(), id, newDate)
	if err != nil {
		h.fail(w, r, "reschedule failed", err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// ApplyRecommendation handles POST /v1/tasks/{id}/apply-recommendation.
func (h *ScheduleHandler) ApplyRecommendation(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}

	res, err := h.mover.ApplyRecommendation(r.Context(), id)
	if err != nil {
		h.fail(w, r, "apply recommendation failed", err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// SweepRequest is the body of POST /v1/sweeps.
type SweepRequest struct {
	SiteID    string `json:"site_id" validate:"required,site_id"`
	WeekStart string `json:"week_start" validate:"required,iso_date"`
}

// Sweep handles POST /v1/sweeps. Individual failed moves are part of the
// report; only a failure to build the week is an error response.
func (h *ScheduleHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	weekStart, err := parseDateParam("week_start", req.WeekStart)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	report, err := h.sweeper.Sweep(r.Context(), req.SiteID, weekStart)
	if err != nil {
		h.fail(w, r, "sweep failed", err)
		return
	}
	core.Data(w, r, http.StatusOK, report)
}

// fail logs unexpected failures and writes the error envelope. Client-side
// errors (4xx) are not logged here; the request logger already records them.
func (h *ScheduleHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if types.CodeOf(err).HTTPStatus() >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg,
			"error", err,
			"request_id", types.GetRequestID(r.Context()),
		)
	}
	core.Error(w, r, err)
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"task id is required",
			nil,
		))
		return "", false
	}
	return id, true
}

func parseDateParam(name, value string) (types.Date, error) {
	if value == "" {
		return types.Date{}, types.NewAppError(types.ErrCodeValidationMissingField, name+" is required", nil)
	}
	d, err := types.ParseDate(value)
	if err != nil {
		return types.Date{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidDate,
			name+" must be YYYY-MM-DD",
			err,
			map[string]any{name: value},
		)
	}
	return d, nil
}
