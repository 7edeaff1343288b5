package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/repo"
	"github.com/mkovri/Consilium/internal/telemetry"
)

// fanOut порождает задачи анализа ребалансировки и запускает первые
// min(MaxParallel, N) из них.
//
// Идемпотентен: задачи создаются только для тикеров, у которых их ещё
// нет, поэтому повторная доставка события или падение посреди fan-out
// не порождают дублей.
func (c *Coordinator) fanOut(ctx context.Context, reb *domain.RebalanceTask) error {
	log := telemetry.WithRebalanceID(c.logger, reb.ID.String())

	existing, err := c.tasks.List(ctx, repo.TaskFilter{
		RebalanceID: &reb.ID,
		Limit:       len(reb.Tickers) + 1,
	})
	if err != nil {
		return fmt.Errorf("list existing tasks: %w", err)
	}

	have := make(map[string]bool, len(existing))
	for _, task := range existing {
		have[task.Ticker] = true
	}

	created := 0
	for _, ticker := range reb.Tickers {
		if have[ticker] {
			continue
		}
		have[ticker] = true

		task := &domain.AnalysisTask{
			ID:          uuid.New(),
			Ticker:      ticker,
			OwnerID:     reb.OwnerID,
			RebalanceID: &reb.ID,
			Status:      domain.TaskStatusPending,
			Settings:    reb.Settings,
			CreatedAt:   time.Now(),
		}
		if err := c.tasks.Create(ctx, task, c.pipeline); err != nil {
			// Уже созданные задачи останутся; повтор доделает остальное.
			return fmt.Errorf("create task for %s: %w", ticker, err)
		}
		created++
	}

	if err := c.rebalances.MarkRunning(ctx, reb.ID); err != nil && !errors.Is(err, repo.ErrStale) {
		return fmt.Errorf("mark rebalance running: %w", err)
	}
	reb.Status = domain.RebalanceStatusRunning

	log.Info("rebalance fan-out",
		"tickers", len(reb.Tickers),
		"created", created,
		"max_parallel", reb.MaxParallel,
	)

	counts, err := c.tasks.Counts(ctx, reb.ID)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}

	return c.topUp(ctx, log, reb, counts)
}

// topUp пополняет очередь выполняющихся задач до потолка MaxParallel.
//
// Каждое продвижение — условная запись PENDING → RUNNING; перед ним
// перепроверяется флаг отмены, чтобы отменённая в очереди задача
// никогда не стартовала.
func (c *Coordinator) topUp(ctx context.Context, log *slog.Logger, reb *domain.RebalanceTask, counts domain.TaskCounts) error {
	maxParallel := reb.MaxParallel
	if maxParallel <= 0 {
		maxParallel = domain.DefaultMaxParallel
	}

	slots := maxParallel - counts.Running
	if slots <= 0 || counts.Pending == 0 {
		return nil
	}

	// Выборка шире числа слотов: отменённые в очереди задачи слот
	// не занимают и не должны его блокировать.
	pending, err := c.tasks.ListPendingByRebalance(ctx, reb.ID, c.batchSize)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}

	promoted := 0
	for i := range pending {
		if promoted >= slots {
			break
		}
		task := &pending[i]

		if task.CancelRequested {
			c.cancelTask(ctx, telemetry.WithTaskID(log, task.ID.String()), task)
			continue
		}

		if err := c.tasks.MarkRunning(ctx, task.ID); err != nil {
			if errors.Is(err, repo.ErrStale) {
				// Задачу успел продвинуть конкурентный fan-in либо её отменили.
				continue
			}
			return fmt.Errorf("mark task running: %w", err)
		}
		task.Status = domain.TaskStatusRunning
		promoted++

		c.startTask(ctx, log, task)
	}

	return nil
}

// startTask отправляет первого агента первой фазы задачи.
func (c *Coordinator) startTask(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask) {
	if len(c.pipeline) == 0 {
		log.Error("cannot start task", "task_id", task.ID, "error", ErrEmptyPipeline)
		return
	}

	outcome, err := c.sequencer.StartPhase(ctx, task, c.pipeline[0].Name)
	if err != nil {
		// Намеченный агент уже переведён в ERROR; задачу доведёт сверка.
		log.Warn("task start dispatch failed",
			"task_id", task.ID,
			"ticker", task.Ticker,
			"error", err,
		)
		return
	}

	log.Info("analysis task started",
		"task_id", task.ID,
		"ticker", task.Ticker,
		"agent", outcome.Agent,
	)
}
