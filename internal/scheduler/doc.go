// Package scheduler реализует планировщик автоматических ребалансировок.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и создаёт для них новые ребалансировки.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules:  scheduleRepo,
//	    Rebalances: rebalanceRepo,
//	    Broker:     brokerClient,
//	    Publisher:  publisher,  // опционально
//	    Logger:     logger,
//	})
//
//	// Вызывается каждый тик (обычно раз в секунду)
//	if err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Идемпотентность:
//
// Ребалансировка создаётся с ключом "{schedule_id}_{next_due_at_unix}",
// поэтому падение между созданием ребалансировки и обновлением
// next_due_at не приводит к дубликату на следующем тике.
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package scheduler
