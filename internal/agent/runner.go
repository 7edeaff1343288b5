package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
	"github.com/mkovri/Consilium/internal/pipeline"
	"github.com/mkovri/Consilium/internal/repo"
	"github.com/mkovri/Consilium/internal/telemetry"
)

// TaskStore — операции над задачами, нужные runner'у.
// Реализуется repo.TaskRepo.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkError(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
}

// AgentStore — операции над записями агентов, нужные runner'у.
// Реализуется repo.AgentRepo.
type AgentStore interface {
	pipeline.AgentStore

	Get(ctx context.Context, taskID uuid.UUID, agent string) (*domain.AgentRun, error)

	// ClaimRunning — условный захват записи: PENDING → RUNNING,
	// при allowError также ERROR → RUNNING. Проигравший гонку захват
	// получает repo.ErrStale.
	ClaimRunning(ctx context.Context, taskID uuid.UUID, agent string, attempt int, allowError bool) error

	// MarkCompleted — RUNNING → COMPLETED с однократной записью insight.
	MarkCompleted(ctx context.Context, taskID uuid.UUID, agent, output string) error

	// MarkSkipped — PENDING → SKIPPED (кооперативная отмена).
	MarkSkipped(ctx context.Context, taskID uuid.UUID, agent string) error
}

// Notifier — исходящие уведомления. Реализуется mq.Publisher.
//
// Уведомления — fire-and-forget подсказки: их потеря стоит только
// задержки, истину координатор выводит из хранилища.
type Notifier interface {
	PublishCoordinatorEvent(ctx context.Context, payload mq.CoordinatorEventPayload) error
	PublishTaskCompleted(ctx context.Context, payload mq.TaskCompletedPayload) error
}

// Runner обрабатывает один запрос на вызов агента от начала до конца.
type Runner struct {
	tasks    TaskStore
	agents   AgentStore
	registry *Registry
	notifier Notifier

	guard      *pipeline.Guard
	supervisor *pipeline.Supervisor
	sequencer  *pipeline.Sequencer

	pipeline domain.Pipeline
	logger   *slog.Logger
}

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	Tasks    TaskStore
	Agents   AgentStore
	Registry *Registry

	// Invoker — отправка запросов на вызов (mq.Publisher).
	Invoker pipeline.Invoker

	// Notifier — события координатору и callbacks (mq.Publisher).
	Notifier Notifier

	// Pipeline — конфигурация конвейера (default: domain.DefaultPipeline).
	Pipeline domain.Pipeline

	Logger *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := cfg.Pipeline
	if p == nil {
		p = domain.DefaultPipeline()
	}

	return &Runner{
		tasks:      cfg.Tasks,
		agents:     cfg.Agents,
		registry:   cfg.Registry,
		notifier:   cfg.Notifier,
		guard:      pipeline.NewGuard(logger),
		supervisor: pipeline.NewSupervisor(cfg.Agents, cfg.Invoker, logger),
		sequencer:  pipeline.NewSequencer(cfg.Agents, cfg.Invoker, p, logger),
		pipeline:   p,
		logger:     logger,
	}
}

// HandleInvoke обрабатывает запрос на вызов агента.
//
// Возврат ошибки означает инфраструктурный сбой (сообщение будет
// redelivered). Все ожидаемые исходы — short-circuit, блокировка,
// проигранный захват, исчерпанные ретраи — завершаются nil.
func (r *Runner) HandleInvoke(ctx context.Context, payload mq.AgentInvokePayload) error {
	log := telemetry.WithAgent(telemetry.WithTaskID(r.logger, payload.TaskID.String()), payload.Agent)

	// 1. Задача.
	task, err := r.tasks.GetByID(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, payload.TaskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	if task.IsFinished() {
		log.Debug("invoke for finished task dropped", "task_status", task.Status)
		return nil
	}

	// 2. Кооперативная отмена: проверяется перед каждым переходом.
	if task.CancelRequested {
		r.cancelTask(ctx, log, task)
		return nil
	}

	// 3. Запись агента.
	run, err := r.agents.Get(ctx, payload.TaskID, payload.Agent)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrAgentRunNotFound, payload.TaskID, payload.Agent)
		}
		return fmt.Errorf("get agent run: %w", err)
	}

	// 4. Guard: судьба вызова по состоянию в хранилище.
	check := r.guard.Check(run, payload.Retry.Intentional)
	switch check.Decision {
	case pipeline.DecisionShortCircuit:
		telemetry.AgentInvocations.WithLabelValues(payload.Agent, "short_circuit").Inc()
		log.Info("agent already completed, returning stored insight")
		return nil
	case pipeline.DecisionBlock:
		telemetry.AgentInvocations.WithLabelValues(payload.Agent, "blocked").Inc()
		log.Debug("invoke blocked", "reason", check.Reason)
		return nil
	}

	// 5. Захват: проигравший гонку получает ErrStale и отступает.
	err = r.agents.ClaimRunning(ctx, payload.TaskID, payload.Agent, payload.Retry.Attempt, payload.Retry.Intentional)
	if err != nil {
		if errors.Is(err, repo.ErrStale) {
			log.Debug("lost claim race, backing off")
			return nil
		}
		return fmt.Errorf("claim agent run: %w", err)
	}

	// Первый захваченный агент запускает конвейер задачи.
	if task.Status == domain.TaskStatusPending {
		if err := r.tasks.MarkRunning(ctx, task.ID); err != nil && !errors.Is(err, repo.ErrStale) {
			return fmt.Errorf("mark task running: %w", err)
		}
		task.Status = domain.TaskStatusRunning
	}

	log.Info("agent started",
		"phase", payload.Phase,
		"attempt", payload.Retry.Attempt,
		"intentional", payload.Retry.Intentional,
	)

	// 6. Исполнитель и insights предшественников.
	executor, err := r.registry.Get(payload.Agent)
	if err != nil {
		if markErr := r.agents.MarkError(ctx, task.ID, payload.Agent, domain.ErrorKindBusiness, err.Error()); markErr != nil {
			return fmt.Errorf("mark unknown agent: %w", markErr)
		}
		r.notifyCoordinator(ctx, log, task, payload.Phase, payload.Agent, mq.CompletionTypeError, err.Error())
		return nil
	}

	insights, err := r.collectInsights(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("collect insights: %w", err)
	}

	// 7. Попытка под супервизором.
	output, err := r.supervisor.Run(ctx, task, payload.Agent, payload.Phase, payload.Retry,
		func(ctx context.Context) (string, error) {
			return executor.Execute(ctx, ExecContext{Task: task, Insights: insights})
		})

	switch {
	case err == nil:
		// Успех обрабатывается ниже.

	case errors.Is(err, pipeline.ErrRetryScheduled):
		telemetry.AgentRetries.WithLabelValues(payload.Agent).Inc()
		return nil

	case errors.Is(err, pipeline.ErrRetryExhausted):
		telemetry.AgentInvocations.WithLabelValues(payload.Agent, "error").Inc()
		r.notifyCoordinator(ctx, log, task, payload.Phase, payload.Agent, mq.CompletionTypeError, err.Error())
		return nil

	case errors.Is(err, pipeline.ErrDispatchFailed):
		r.notifyCoordinator(ctx, log, task, payload.Phase, payload.Agent, mq.CompletionTypeDispatchFailed, err.Error())
		return nil

	default:
		// Прерванная попытка: запись осталась RUNNING, сообщение
		// будет redelivered, зависание подберёт сверка координатора.
		return err
	}

	// 8. Запись insight (ровно один раз).
	if err := r.agents.MarkCompleted(ctx, task.ID, payload.Agent, output); err != nil {
		if errors.Is(err, repo.ErrStale) {
			log.Warn("completion lost conditional write, insight discarded")
			return nil
		}
		return fmt.Errorf("mark agent completed: %w", err)
	}

	telemetry.AgentInvocations.WithLabelValues(payload.Agent, "completed").Inc()
	log.Info("agent completed", "phase", payload.Phase, "attempt", payload.Retry.Attempt)

	// 9. Передача хода.
	return r.advance(ctx, log, task, payload.Phase, payload.Agent)
}

// advance передаёт ход после завершения агента и обрабатывает итог.
func (r *Runner) advance(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask, phase, agent string) error {
	outcome, err := r.sequencer.Advance(ctx, task, phase, agent)
	if err != nil {
		if errors.Is(err, pipeline.ErrDispatchFailed) {
			r.notifyCoordinator(ctx, log, task, phase, outcome.Agent, mq.CompletionTypeDispatchFailed, err.Error())
			return nil
		}
		return fmt.Errorf("advance phase: %w", err)
	}

	if outcome.Kind != pipeline.OutcomePhaseDone {
		return nil
	}

	if r.pipeline.IsLastPhase(phase) {
		r.finalizeCompleted(ctx, log, task)
		return nil
	}

	// Межфазный переход выполняет координатор.
	r.notifyCoordinator(ctx, log, task, phase, agent, mq.CompletionTypeLastInPhase, "")
	return nil
}

// finalizeCompleted завершает задачу после последней фазы.
func (r *Runner) finalizeCompleted(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask) {
	if err := r.tasks.MarkCompleted(ctx, task.ID); err != nil {
		if errors.Is(err, repo.ErrStale) {
			log.Debug("task already finalized elsewhere")
			return
		}
		log.Error("failed to mark task completed", "error", err)
		return
	}

	telemetry.TasksFinished.WithLabelValues(string(domain.TaskStatusCompleted)).Inc()
	log.Info("task completed")

	r.publishCallback(ctx, log, task, true, "")
}

// cancelTask финализирует кооперативную отмену: задача CANCELLED,
// невызванные агенты SKIPPED, родительской ребалансировке — callback.
func (r *Runner) cancelTask(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask) {
	if err := r.tasks.MarkCancelled(ctx, task.ID); err != nil && !errors.Is(err, repo.ErrStale) {
		log.Error("failed to cancel task", "error", err)
		return
	}

	runs, err := r.agents.ListByTask(ctx, task.ID)
	if err != nil {
		log.Error("failed to list agent runs for cancellation", "error", err)
		return
	}
	for _, run := range runs {
		if run.Status != domain.AgentStatusPending {
			continue
		}
		if err := r.agents.MarkSkipped(ctx, task.ID, run.Agent); err != nil && !errors.Is(err, repo.ErrStale) {
			log.Warn("failed to skip pending agent", "agent", run.Agent, "error", err)
		}
	}

	telemetry.TasksFinished.WithLabelValues(string(domain.TaskStatusCancelled)).Inc()
	log.Info("task cancelled")

	r.publishCallback(ctx, log, task, false, "cancelled")
}

// collectInsights собирает результаты завершённых агентов.
func (r *Runner) collectInsights(ctx context.Context, taskID uuid.UUID) (map[string]string, error) {
	runs, err := r.agents.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	insights := make(map[string]string, len(runs))
	for _, run := range runs {
		if run.Status == domain.AgentStatusCompleted && run.Output != "" {
			insights[run.Agent] = run.Output
		}
	}
	return insights, nil
}

// notifyCoordinator отправляет fire-and-forget подсказку координатору.
// Сбой отправки только логируется: истину координатор выводит из
// хранилища, потерянное событие стоит задержки до следующей сверки.
func (r *Runner) notifyCoordinator(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask, phase, agent string, ctype mq.CompletionType, errMsg string) {
	if r.notifier == nil {
		return
	}

	payload := mq.CoordinatorEventPayload{
		TaskID:         task.ID,
		Phase:          phase,
		Agent:          agent,
		CompletionType: ctype,
		Error:          errMsg,
	}

	if err := r.notifier.PublishCoordinatorEvent(ctx, payload); err != nil {
		log.Warn("failed to publish coordinator event",
			"completion_type", ctype,
			"error", err,
		)
	}
}

// publishCallback отправляет callback о терминальной задаче
// родительской ребалансировке (fan-in).
func (r *Runner) publishCallback(ctx context.Context, log *slog.Logger, task *domain.AnalysisTask, success bool, errMsg string) {
	if r.notifier == nil || task.RebalanceID == nil {
		return
	}

	payload := mq.TaskCompletedPayload{
		RebalanceID: *task.RebalanceID,
		TaskID:      task.ID,
		Ticker:      task.Ticker,
		Success:     success,
		Error:       errMsg,
	}

	if err := r.notifier.PublishTaskCompleted(ctx, payload); err != nil {
		log.Warn("failed to publish task completion callback", "error", err)
	}
}
