package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
	"github.com/mkovri/Consilium/internal/pipeline"
	"github.com/mkovri/Consilium/internal/repo"
)

// ListTasks возвращает список задач анализа с фильтрацией.
// GET /api/v1/tasks?owner_id=...&rebalance_id=...&status=...&limit=...&offset=...
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := repo.TaskFilter{}

	if ownerIDStr := r.URL.Query().Get("owner_id"); ownerIDStr != "" {
		ownerID, err := uuid.Parse(ownerIDStr)
		if err != nil {
			BadRequest(w, "invalid owner_id")
			return
		}
		filter.OwnerID = &ownerID
	}

	if rebIDStr := r.URL.Query().Get("rebalance_id"); rebIDStr != "" {
		rebID, err := uuid.Parse(rebIDStr)
		if err != nil {
			BadRequest(w, "invalid rebalance_id")
			return
		}
		filter.RebalanceID = &rebID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.TaskStatus(status)
	}

	filter.Limit = queryInt(r, "limit", 50)
	filter.Offset = queryInt(r, "offset", 0)

	tasks, err := h.tasks.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}

// CreateTask создаёт задачу анализа одного тикера и запускает конвейер.
// POST /api/v1/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		BadRequest(w, "ticker is required")
		return
	}
	if req.OwnerID == uuid.Nil {
		BadRequest(w, "owner_id is required")
		return
	}

	settings := domain.DefaultAgentSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	task := &domain.AnalysisTask{
		ID:        uuid.New(),
		Ticker:    ticker,
		OwnerID:   req.OwnerID,
		Status:    domain.TaskStatusPending,
		Settings:  settings,
		CreatedAt: h.now(),
	}

	if err := h.tasks.Create(r.Context(), task, h.pipeline); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Запускаем конвейер сразу: переводим задачу в RUNNING и отправляем
	// первого агента. Сбой отправки не фатален — след остаётся в
	// хранилище, и sweep координатора перезапустит фазу.
	if h.sequencer != nil && len(h.pipeline) > 0 {
		if err := h.tasks.MarkRunning(r.Context(), task.ID); err == nil {
			task.MarkRunning()
			if _, err := h.sequencer.StartPhase(r.Context(), task, h.pipeline[0].Name); err != nil {
				h.logger.Warn("failed to dispatch first agent",
					"task_id", task.ID,
					"error", err,
				)
			}
		} else {
			h.logger.Warn("failed to mark task running", "task_id", task.ID, "error", err)
		}
	}

	Created(w, TaskFromDomain(*task))
}

// GetTask возвращает задачу вместе с состоянием фаз конвейера.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	runs, err := h.agents.ListByTask(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, TaskDetailResponse{
		TaskResponse: TaskFromDomain(*task),
		Phases:       domain.BuildPhaseRecords(h.pipeline, runs),
	})
}

// CancelTask выставляет флаг кооперативной отмены.
// POST /api/v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	if task.IsFinished() {
		InvalidState(w, "task is already finished")
		return
	}

	if err := h.tasks.RequestCancel(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "task not found")
		return
	}

	task.CancelRequested = true
	Success(w, TaskFromDomain(*task))
}

// AgentRetryResponse — подтверждение отправки намеренного retry.
type AgentRetryResponse struct {
	TaskID  uuid.UUID `json:"task_id"`
	Agent   string    `json:"agent"`
	Attempt int       `json:"attempt"`
}

// RetryAgent отправляет намеренный retry упавшего агента.
// Это единственный внешний путь, перезапускающий агента со статусом ERROR.
// POST /api/v1/tasks/{id}/agents/{agent}/retry
func (h *Handler) RetryAgent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}
	agent := r.PathValue("agent")

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	if task.IsFinished() {
		InvalidState(w, "task is already finished")
		return
	}
	if task.CancelRequested {
		InvalidState(w, "task cancellation requested")
		return
	}

	run, err := h.agents.Get(r.Context(), id, agent)
	if HandleRepoError(w, h.logger, err, "agent not found") {
		return
	}

	if run.Status != domain.AgentStatusError {
		InvalidState(w, "only agents in ERROR can be retried")
		return
	}

	if h.publisher == nil {
		InternalError(w, h.logger, pipeline.ErrDispatchFailed)
		return
	}

	envelope := domain.RetryEnvelope{
		Attempt:     run.Attempt + 1,
		MaxRetries:  task.Settings.MaxRetries,
		TimeoutSec:  task.Settings.TimeoutSec,
		Intentional: true,
	}

	payload := mq.AgentInvokePayload{
		TaskID:  task.ID,
		Ticker:  task.Ticker,
		OwnerID: task.OwnerID,
		Agent:   run.Agent,
		Phase:   run.Phase,
		Retry:   envelope,
	}

	if err := h.publisher.PublishAgentInvoke(r.Context(), payload); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("manual agent retry dispatched",
		"task_id", task.ID,
		"agent", run.Agent,
		"attempt", envelope.Attempt,
	)

	JSON(w, http.StatusAccepted, DataResponse{Data: AgentRetryResponse{
		TaskID:  task.ID,
		Agent:   run.Agent,
		Attempt: envelope.Attempt,
	}})
}

// queryInt парсит целочисленный query параметр с дефолтным значением.
func queryInt(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
