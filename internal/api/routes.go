package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Tasks
	mux.Handle("GET /api/v1/tasks", chain(http.HandlerFunc(h.ListTasks)))
	mux.Handle("POST /api/v1/tasks", chain(http.HandlerFunc(h.CreateTask)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("POST /api/v1/tasks/{id}/cancel", chain(http.HandlerFunc(h.CancelTask)))
	mux.Handle("POST /api/v1/tasks/{id}/agents/{agent}/retry", chain(http.HandlerFunc(h.RetryAgent)))

	// Rebalances
	mux.Handle("GET /api/v1/rebalances", chain(http.HandlerFunc(h.ListRebalances)))
	mux.Handle("POST /api/v1/rebalances", chain(http.HandlerFunc(h.CreateRebalance)))
	mux.Handle("GET /api/v1/rebalances/{id}", chain(http.HandlerFunc(h.GetRebalance)))
	mux.Handle("POST /api/v1/rebalances/{id}/cancel", chain(http.HandlerFunc(h.CancelRebalance)))
	mux.Handle("GET /api/v1/rebalances/{id}/tasks", chain(http.HandlerFunc(h.ListRebalanceTasks)))
	mux.Handle("GET /api/v1/rebalances/{id}/orders", chain(http.HandlerFunc(h.ListRebalanceOrders)))

	// Orders
	mux.Handle("GET /api/v1/orders/{id}", chain(http.HandlerFunc(h.GetOrder)))
	mux.Handle("POST /api/v1/orders/{id}/approve", chain(http.HandlerFunc(h.ApproveOrder)))
	mux.Handle("POST /api/v1/orders/{id}/reject", chain(http.HandlerFunc(h.RejectOrder)))
	mux.Handle("POST /api/v1/orders/{id}/submit", chain(http.HandlerFunc(h.SubmitOrder)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
