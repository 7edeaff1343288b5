package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/pipeline"
	"github.com/mkovri/Consilium/internal/repo"
	"github.com/mkovri/Consilium/internal/telemetry"
)

// repairTask доводит одну задачу анализа до корректного состояния.
//
// Выводит следующее действие из снимка хранилища, а не из события:
//   - все фазы терминальны → финализировать задачу по вердикту
//     финального агента последней фазы;
//   - в текущей фазе есть RUNNING агент → ход у воркера, не вмешиваться;
//   - иначе → передать ход секвенсером (это покрывает и межфазный
//     переход: текущая фаза — первая не полностью терминальная).
//
// Используется обработчиком coordinator.events и сверкой; безопасен
// к повторным вызовам.
func (c *Coordinator) repairTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	log := telemetry.WithTaskID(c.logger, task.ID.String())

	if task.IsFinished() {
		// Задача уже финализирована — остаётся продвинуть fan-in.
		return c.reconcileParent(ctx, task)
	}

	if task.CancelRequested {
		c.cancelTask(ctx, log, task)
		return c.reconcileParent(ctx, task)
	}

	runs, err := c.agents.ListByTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("list agent runs: %w", err)
	}

	records := domain.BuildPhaseRecords(c.pipeline, runs)

	cur, ok := domain.CurrentPhase(records)
	if !ok {
		c.finalizeTask(ctx, log, task, records)
		return c.reconcileParent(ctx, task)
	}

	if phaseHasRunning(cur) {
		// Ход у воркера; если он упал, агента подберёт recoverStaleAgents.
		return nil
	}

	if task.Status == domain.TaskStatusPending {
		if err := c.tasks.MarkRunning(ctx, task.ID); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return nil
			}
			return fmt.Errorf("mark task running: %w", err)
		}
		task.Status = domain.TaskStatusRunning
	}

	outcome, err := c.sequencer.Advance(ctx, task, cur.Name, "")
	if err != nil {
		if errors.Is(err, pipeline.ErrDispatchFailed) {
			// След сбоя записан в хранилище; следующая сверка попробует снова.
			return nil
		}
		return fmt.Errorf("advance phase: %w", err)
	}

	switch outcome.Kind {
	case pipeline.OutcomeDispatched:
		log.Info("task advanced", "phase", cur.Name, "agent", outcome.Agent)
	case pipeline.OutcomePhaseDone:
		// Фаза оказалась терминальной между чтением и шагом секвенсера.
		if c.pipeline.IsLastPhase(cur.Name) {
			c.finalizeTask(ctx, log, task, records)
			return c.reconcileParent(ctx, task)
		}
	}

	return nil
}

// finalizeTask терминально завершает задачу, все фазы которой
// завершены. Задача успешна, только если финальный агент последней
// фазы записал вердикт; любой иной исход — ERROR с его причиной.
func (c *Coordinator) finalizeTask(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask, records []domain.PhaseRecord) {
	verdict := finalVerdict(records)

	if taskSucceeded(records, verdict) {
		if err := c.tasks.MarkCompleted(ctx, task.ID); err != nil {
			if !errors.Is(err, repo.ErrStale) {
				log.Error("failed to mark task completed", "error", err)
			}
			return
		}
		task.Status = domain.TaskStatusCompleted

		telemetry.TasksFinished.WithLabelValues(string(domain.TaskStatusCompleted)).Inc()
		log.Info("task completed by reconciliation")
		return
	}

	kind := domain.ErrorKindBusiness
	msg := "pipeline finished without a final verdict"
	if verdict != nil && verdict.Status == domain.AgentStatusError {
		if verdict.ErrorKind != "" {
			kind = verdict.ErrorKind
		}
		msg = fmt.Sprintf("final agent %s failed: %s", verdict.Agent, verdict.Error)
	}

	if err := c.tasks.MarkError(ctx, task.ID, kind, msg); err != nil {
		if !errors.Is(err, repo.ErrStale) {
			log.Error("failed to mark task error", "error", err)
		}
		return
	}
	task.Status = domain.TaskStatusError

	telemetry.TasksFinished.WithLabelValues(string(domain.TaskStatusError)).Inc()
	log.Warn("task failed", "error_kind", kind, "error", msg)
}

// cancelTask финализирует кооперативную отмену: задача CANCELLED,
// невызванные агенты SKIPPED.
func (c *Coordinator) cancelTask(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask) {
	if err := c.tasks.MarkCancelled(ctx, task.ID); err != nil {
		if !errors.Is(err, repo.ErrStale) {
			log.Error("failed to cancel task", "error", err)
		}
		return
	}
	task.Status = domain.TaskStatusCancelled

	runs, err := c.agents.ListByTask(ctx, task.ID)
	if err != nil {
		log.Error("failed to list agent runs for cancellation", "error", err)
		return
	}
	for _, run := range runs {
		if run.Status != domain.AgentStatusPending {
			continue
		}
		if err := c.agents.MarkSkipped(ctx, task.ID, run.Agent); err != nil && !errors.Is(err, repo.ErrStale) {
			log.Warn("failed to skip pending agent", "agent", run.Agent, "error", err)
		}
	}

	telemetry.TasksFinished.WithLabelValues(string(domain.TaskStatusCancelled)).Inc()
	log.Info("task cancelled")
}

// reconcileParent продвигает fan-in родительской ребалансировки,
// если задача ей принадлежит.
func (c *Coordinator) reconcileParent(ctx context.Context, task *domain.AnalysisTask) error {
	if task.RebalanceID == nil {
		return nil
	}
	return c.reconcile(ctx, *task.RebalanceID)
}

// phaseHasRunning проверяет, выполняется ли сейчас какой-нибудь агент фазы.
func phaseHasRunning(rec domain.PhaseRecord) bool {
	for _, run := range rec.Agents {
		if run.Status == domain.AgentStatusRunning {
			return true
		}
	}
	return rec.Final != nil && rec.Final.Status == domain.AgentStatusRunning
}

// finalVerdict возвращает запись финального агента последней фазы.
func finalVerdict(records []domain.PhaseRecord) *domain.AgentRun {
	if len(records) == 0 {
		return nil
	}
	return records[len(records)-1].Final
}

// taskSucceeded решает, успешна ли полностью терминальная задача.
// При объявленном финальном агенте решает его вердикт; без него
// последняя фаза успешна, когда завершился каждый её обычный агент.
func taskSucceeded(records []domain.PhaseRecord, verdict *domain.AgentRun) bool {
	if verdict != nil {
		return verdict.Status == domain.AgentStatusCompleted
	}
	if len(records) == 0 {
		return false
	}
	last := records[len(records)-1]
	if len(last.Agents) == 0 {
		return false
	}
	for _, run := range last.Agents {
		if run.Status != domain.AgentStatusCompleted {
			return false
		}
	}
	return true
}
