package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
)

// GetOrder возвращает торговую заявку по ID.
// GET /api/v1/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "order not found") {
		return
	}

	Success(w, OrderFromDomain(*order))
}

// ApproveOrder одобряет заявку (PENDING_APPROVAL → APPROVED).
// POST /api/v1/orders/{id}/approve
func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	h.decideOrder(w, r, h.orders.Approve)
}

// RejectOrder отклоняет заявку (PENDING_APPROVAL → REJECTED).
// POST /api/v1/orders/{id}/reject
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	h.decideOrder(w, r, h.orders.Reject)
}

// decideOrder выполняет условный переход approve/reject и возвращает
// обновлённую заявку.
func (h *Handler) decideOrder(w http.ResponseWriter, r *http.Request, decide func(context.Context, uuid.UUID) error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid order id")
		return
	}

	if err := decide(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "order not found")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "order not found") {
		return
	}

	Success(w, OrderFromDomain(*order))
}

// SubmitOrder отправляет одобренную заявку брокеру и отмечает её
// как SUBMITTED. Переход условный: отправить можно только APPROVED.
// POST /api/v1/orders/{id}/submit
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "order not found") {
		return
	}

	if order.Status != domain.OrderStatusApproved {
		InvalidState(w, "only approved orders can be submitted")
		return
	}

	if err := h.broker.SubmitOrder(r.Context(), order); err != nil {
		BrokerError(w, h.logger, err)
		return
	}

	// Отметка условная: конкурентный submit проиграет и получит 422.
	if err := h.orders.MarkSubmitted(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "order not found")
		return
	}

	order.Status = domain.OrderStatusSubmitted
	Success(w, OrderFromDomain(*order))
}
