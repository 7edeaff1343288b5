package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/repo"
	"github.com/mkovri/Consilium/internal/telemetry"
)

// reconcile доводит ребалансировку до корректного состояния из снимка
// хранилища: выполняет потерянный fan-out, пополняет очередь задач,
// принимает решение по кворуму и достраивает заявки.
//
// Единая точка входа для событий и сверки; безопасен к повторным и
// конкурентным вызовам — все решающие переходы условные.
func (c *Coordinator) reconcile(ctx context.Context, rebalanceID uuid.UUID) error {
	reb, err := c.rebalances.GetByID(ctx, rebalanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRebalanceNotFound, rebalanceID)
		}
		return fmt.Errorf("get rebalance: %w", err)
	}

	log := telemetry.WithRebalanceID(c.logger, reb.ID.String())

	if reb.Status == domain.RebalanceStatusPending {
		return c.fanOut(ctx, reb)
	}

	if reb.IsFinished() {
		// Построение могло быть захвачено и оборвано рестартом:
		// BuildStatus INVOKED без DONE/ERROR достраивается здесь.
		if reb.Status == domain.RebalanceStatusCompleted && reb.BuildStatus == domain.BuildStatusInvoked {
			c.runBuild(ctx, log, reb)
		}
		return nil
	}

	counts, err := c.tasks.Counts(ctx, reb.ID)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}

	required := reb.RequiredSuccesses(counts.Total)

	switch {
	case counts.AllTerminal() && counts.Completed >= required:
		return c.completeRebalance(ctx, log, reb, counts)

	case counts.Completed+counts.InProgress() < required:
		// Кворум уже недостижим — ждать оставшиеся задачи бессмысленно.
		return c.failQuorum(ctx, log, reb, counts, required)

	default:
		return c.topUp(ctx, log, reb, counts)
	}
}

// completeRebalance фиксирует набранный кворум и запускает построение
// портфеля. Право на построение захватывается условной записью, поэтому
// из нескольких конкурентных fan-in построение запустит ровно один.
func (c *Coordinator) completeRebalance(ctx context.Context, log *slog.Logger, reb *domain.RebalanceTask, counts domain.TaskCounts) error {
	if err := c.rebalances.ClaimBuild(ctx, reb.ID); err != nil {
		if errors.Is(err, repo.ErrStale) {
			// Построение уже захвачено другим вызовом.
			return nil
		}
		return fmt.Errorf("claim build: %w", err)
	}

	if err := c.rebalances.MarkCompleted(ctx, reb.ID); err != nil && !errors.Is(err, repo.ErrStale) {
		return fmt.Errorf("mark rebalance completed: %w", err)
	}

	telemetry.RebalancesFinished.WithLabelValues(string(domain.RebalanceStatusCompleted)).Inc()
	log.Info("quorum reached, rebalance completed",
		"completed", counts.Completed,
		"failed", counts.Failed,
		"total", counts.Total,
	)

	c.runBuild(ctx, log, reb)
	return nil
}

// failQuorum терминально завершает ребалансировку из-за недобора кворума.
// Недобор никогда не понижается молча до успеха.
func (c *Coordinator) failQuorum(ctx context.Context, log *slog.Logger, reb *domain.RebalanceTask, counts domain.TaskCounts, required int) error {
	msg := fmt.Sprintf("quorum shortfall: %d of %d tasks succeeded, %d required",
		counts.Completed, counts.Total, required)

	if err := c.rebalances.MarkError(ctx, reb.ID, domain.ErrorKindQuorumShortfall, msg); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return nil
		}
		return fmt.Errorf("mark rebalance error: %w", err)
	}

	telemetry.QuorumShortfalls.Inc()
	telemetry.RebalancesFinished.WithLabelValues(string(domain.RebalanceStatusError)).Inc()
	log.Warn("rebalance failed on quorum",
		"completed", counts.Completed,
		"failed", counts.Failed,
		"total", counts.Total,
		"required", required,
	)

	return nil
}

// runBuild выполняет построение заявок и фиксирует его исход.
func (c *Coordinator) runBuild(ctx context.Context, log *slog.Logger, reb *domain.RebalanceTask) {
	if err := c.builder.Build(ctx, reb); err != nil {
		log.Error("portfolio build failed", "error", err)
		if serr := c.rebalances.SetBuildStatus(ctx, reb.ID, domain.BuildStatusError); serr != nil {
			log.Error("failed to record build status", "error", serr)
		}
		return
	}

	if err := c.rebalances.SetBuildStatus(ctx, reb.ID, domain.BuildStatusDone); err != nil {
		log.Error("failed to record build status", "error", err)
		return
	}

	log.Info("trade orders built")
}
