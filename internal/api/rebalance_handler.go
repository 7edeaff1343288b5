package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/repo"
)

// ListRebalances возвращает список ребалансировок с фильтрацией.
// GET /api/v1/rebalances?owner_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRebalances(w http.ResponseWriter, r *http.Request) {
	filter := repo.RebalanceFilter{}

	if ownerIDStr := r.URL.Query().Get("owner_id"); ownerIDStr != "" {
		ownerID, err := uuid.Parse(ownerIDStr)
		if err != nil {
			BadRequest(w, "invalid owner_id")
			return
		}
		filter.OwnerID = &ownerID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RebalanceStatus(status)
	}

	filter.Limit = queryInt(r, "limit", 50)
	filter.Offset = queryInt(r, "offset", 0)

	rebs, err := h.rebalances.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RebalanceResponse, len(rebs))
	for i, reb := range rebs {
		result[i] = RebalanceFromDomain(reb)
	}

	List(w, result, len(result))
}

// CreateRebalance создаёт ребалансировку портфеля.
// POST /api/v1/rebalances
func (h *Handler) CreateRebalance(w http.ResponseWriter, r *http.Request) {
	var req CreateRebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.OwnerID == uuid.Nil {
		BadRequest(w, "owner_id is required")
		return
	}

	tickers := make([]string, 0, len(req.Tickers))
	for _, t := range req.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			tickers = append(tickers, t)
		}
	}
	if len(tickers) == 0 {
		BadRequest(w, "tickers are required")
		return
	}

	maxParallel := req.MaxParallel
	if maxParallel <= 0 {
		maxParallel = domain.DefaultMaxParallel
	}

	minSuccess := req.MinSuccessFraction
	if minSuccess <= 0 {
		minSuccess = domain.DefaultMinSuccessFraction
	}
	if minSuccess > 1 {
		BadRequest(w, "min_success_fraction must be within (0, 1]")
		return
	}

	settings := domain.DefaultAgentSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	reb := &domain.RebalanceTask{
		ID:                 uuid.New(),
		OwnerID:            req.OwnerID,
		Status:             domain.RebalanceStatusPending,
		Tickers:            tickers,
		MaxParallel:        maxParallel,
		MinSuccessFraction: minSuccess,
		Settings:           settings,
		BuildStatus:        domain.BuildStatusNone,
		CreatedAt:          h.now(),
	}

	if err := h.rebalances.Create(r.Context(), reb); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Публикуем событие в очередь: событие — только подсказка,
	// координатор в любом случае заберёт PENDING ребалансировку поллингом.
	if h.publisher != nil {
		if err := h.publisher.PublishRebalancePending(r.Context(), reb.ID); err != nil {
			h.logger.Warn("failed to publish rebalance.pending", "rebalance_id", reb.ID, "error", err)
		}
	}

	Created(w, RebalanceFromDomain(*reb))
}

// GetRebalance возвращает ребалансировку по ID.
// GET /api/v1/rebalances/{id}
func (h *Handler) GetRebalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid rebalance id")
		return
	}

	reb, err := h.rebalances.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "rebalance not found") {
		return
	}

	Success(w, RebalanceFromDomain(*reb))
}

// CancelRebalance отменяет ребалансировку и запрашивает кооперативную
// отмену её незавершённых задач анализа.
// POST /api/v1/rebalances/{id}/cancel
func (h *Handler) CancelRebalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid rebalance id")
		return
	}

	reb, err := h.rebalances.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "rebalance not found") {
		return
	}

	if reb.IsFinished() {
		InvalidState(w, "rebalance is already finished")
		return
	}

	if err := h.rebalances.MarkCancelled(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "rebalance not found")
		return
	}
	reb.MarkCancelled()

	// Дочерние задачи отменяются кооперативно: уже работающий агент
	// доработает, но его результат дальше по конвейеру не пойдёт.
	tasks, err := h.tasks.List(r.Context(), repo.TaskFilter{RebalanceID: &id, Limit: len(reb.Tickers)})
	if err != nil {
		h.logger.Warn("failed to list rebalance tasks for cancellation",
			"rebalance_id", id,
			"error", err,
		)
	}
	for _, task := range tasks {
		if task.IsFinished() {
			continue
		}
		if err := h.tasks.RequestCancel(r.Context(), task.ID); err != nil && !errors.Is(err, repo.ErrStale) {
			h.logger.Warn("failed to request task cancellation",
				"task_id", task.ID,
				"error", err,
			)
		}
	}

	Success(w, RebalanceFromDomain(*reb))
}

// ListRebalanceTasks возвращает задачи анализа ребалансировки.
// GET /api/v1/rebalances/{id}/tasks
func (h *Handler) ListRebalanceTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid rebalance id")
		return
	}

	if _, err := h.rebalances.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "rebalance not found") {
		return
	}

	tasks, err := h.tasks.List(r.Context(), repo.TaskFilter{
		RebalanceID: &id,
		Limit:       queryInt(r, "limit", 200),
		Offset:      queryInt(r, "offset", 0),
	})
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}

// ListRebalanceOrders возвращает торговые заявки ребалансировки.
// GET /api/v1/rebalances/{id}/orders
func (h *Handler) ListRebalanceOrders(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid rebalance id")
		return
	}

	if _, err := h.rebalances.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "rebalance not found") {
		return
	}

	orders, err := h.orders.ListByRebalance(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]OrderResponse, len(orders))
	for i, o := range orders {
		result[i] = OrderFromDomain(o)
	}

	List(w, result, len(result))
}
