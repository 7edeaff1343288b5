// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - agent.invoke        — запрос на вызов агента (начальный, намеренный retry, починка)
//   - task.completed      — задача анализа терминальна (callback fan-in)
//   - rebalance.pending   — новая ребалансировка ожидает fan-out
//   - coordinator.event   — fire-and-forget подсказка координатору
//
// Событие — только подсказка для снижения латентности: истина всегда
// выводится из хранилища, поэтому сообщения можно безопасно дублировать,
// терять и задерживать. Потерянное событие стоит лишь задержки —
// периодическая сверка координатора его догонит.
package mq
