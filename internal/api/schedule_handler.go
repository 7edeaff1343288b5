package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/repo"
	"github.com/mkovri/Consilium/internal/scheduler"
)

// ListSchedules возвращает список schedules с фильтрацией.
// GET /api/v1/schedules?owner_id=...&enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := repo.ScheduleFilter{}

	if ownerIDStr := r.URL.Query().Get("owner_id"); ownerIDStr != "" {
		ownerID, err := uuid.Parse(ownerIDStr)
		if err != nil {
			BadRequest(w, "invalid owner_id")
			return
		}
		filter.OwnerID = &ownerID
	}

	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		enabled := enabledStr == "true"
		filter.Enabled = &enabled
	}

	filter.Limit = queryInt(r, "limit", 50)
	filter.Offset = queryInt(r, "offset", 0)

	schedules, err := h.schedules.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт расписание автоматических ребалансировок.
// POST /api/v1/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Валидация
	if req.OwnerID == uuid.Nil {
		BadRequest(w, "owner_id is required")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.CronExpr == "" && req.IntervalSec <= 0 {
		BadRequest(w, "either cron_expr or interval_sec is required")
		return
	}
	if req.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(req.CronExpr); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	maxParallel := req.MaxParallel
	if maxParallel <= 0 {
		maxParallel = domain.DefaultMaxParallel
	}

	minSuccess := req.MinSuccessFraction
	if minSuccess <= 0 {
		minSuccess = domain.DefaultMinSuccessFraction
	}

	now := h.now()
	schedule := &domain.Schedule{
		ID:                 uuid.New(),
		OwnerID:            req.OwnerID,
		Name:               req.Name,
		CronExpr:           req.CronExpr,
		IntervalSec:        req.IntervalSec,
		Timezone:           timezone,
		Enabled:            req.Enabled,
		Tickers:            req.Tickers,
		MaxParallel:        maxParallel,
		MinSuccessFraction: minSuccess,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	nextDue, err := scheduler.CalculateInitialNextDue(schedule)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	schedule.NextDueAt = &nextDue

	if err := h.schedules.Create(r.Context(), schedule); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, ScheduleFromDomain(schedule))
}

// GetSchedule возвращает schedule по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// UpdateSchedule обновляет schedule. При смене cron/interval/timezone
// next_due_at пересчитывается от текущего момента.
// PUT /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	timingChanged := false
	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.CronExpr != nil {
		if *req.CronExpr != "" {
			if err := scheduler.ValidateCronExpr(*req.CronExpr); err != nil {
				BadRequest(w, err.Error())
				return
			}
		}
		schedule.CronExpr = *req.CronExpr
		timingChanged = true
	}
	if req.IntervalSec != nil {
		schedule.IntervalSec = *req.IntervalSec
		timingChanged = true
	}
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
		timingChanged = true
	}
	if req.Tickers != nil {
		schedule.Tickers = *req.Tickers
	}
	if req.MaxParallel != nil {
		schedule.MaxParallel = *req.MaxParallel
	}
	if req.MinSuccessFraction != nil {
		schedule.MinSuccessFraction = *req.MinSuccessFraction
	}

	if schedule.CronExpr == "" && schedule.IntervalSec <= 0 {
		BadRequest(w, "either cron_expr or interval_sec is required")
		return
	}

	if timingChanged {
		nextDue, err := scheduler.CalculateNextDue(schedule, h.now())
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		schedule.NextDueAt = &nextDue
	}
	schedule.UpdatedAt = h.now()

	if err := h.schedules.Update(r.Context(), schedule); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// DeleteSchedule удаляет schedule.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if err := h.schedules.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	NoContent(w)
}

// SetScheduleEnabled включает или выключает schedule.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.schedules.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	// Возвращаем обновлённый schedule
	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}
