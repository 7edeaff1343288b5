// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (хранилища, publisher, брокер, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - task_handler.go      — обработчики для /tasks
//   - rebalance_handler.go — обработчики для /rebalances
//   - order_handler.go     — обработчики для /orders
//   - schedule_handler.go  — обработчики для /schedules
//
// API предоставляет REST endpoints для управления задачами анализа,
// ребалансировками, торговыми заявками и расписаниями.
package api
