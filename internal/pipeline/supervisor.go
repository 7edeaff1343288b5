package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
)

// AgentFunc — одна попытка агента. Возвращает insight агента.
// ctx несёт дедлайн попытки.
type AgentFunc func(ctx context.Context) (string, error)

// KindError помечает ошибку классом. Исполнители агентов оборачивают
// инфраструктурные ошибки в KindError, чтобы супервизор записал
// правильный класс в хранилище.
type KindError struct {
	Kind domain.ErrorKind
	Err  error
}

// Error реализует error.
func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap возвращает обёрнутую ошибку.
func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind оборачивает ошибку классом.
func WithKind(kind domain.ErrorKind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

// Supervisor выполняет одну попытку агента с дедлайном и сам
// переназначает следующую попытку.
//
// Ретраи переживают падение процесса: результат каждой попытки
// фиксируется в хранилище, а следующая попытка отправляется отдельным
// сообщением с Intentional=true. Воркер, подхвативший это сообщение,
// пройдёт Guard и продолжит с того же места.
type Supervisor struct {
	agents  AgentStore
	invoker Invoker
	logger  *slog.Logger

	// sleep — пауза перед retry (подменяется в тестах).
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor создаёт Supervisor.
func NewSupervisor(agents AgentStore, invoker Invoker, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		agents:  agents,
		invoker: invoker,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Run выполняет попытку envelope.Attempt агента fn.
//
// Возможные исходы:
//   - успех — возвращается insight, err == nil;
//   - попытка не удалась, лимит не исчерпан — агент переведён в ERROR,
//     пауза RetryDelay, отправлена попытка Attempt+1 (Intentional=true),
//     возвращается ErrRetryScheduled;
//   - лимит исчерпан — агент в терминальном ERROR, возвращается
//     ErrRetryExhausted (вызывающий уведомляет координатора);
//   - отправка следующей попытки не удалась — ErrDispatchFailed;
//   - остановка процесса — попытка прерывается без записи в хранилище,
//     зависшую задачу подберёт сверка координатора.
func (s *Supervisor) Run(ctx context.Context, task *domain.AnalysisTask, agent, phase string, envelope domain.RetryEnvelope, fn AgentFunc) (string, error) {
	timeout := time.Duration(envelope.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = domain.DefaultAgentSettings().Timeout()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	output, err := fn(attemptCtx)
	cancel()

	if err == nil {
		return output, nil
	}

	// Остановка процесса: попытку не фиксируем, запись остаётся
	// RUNNING и будет найдена сверкой по устаревшему updated_at.
	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("attempt interrupted: %w", err)
	}

	kind := classifyKind(err)

	s.logger.Warn("agent attempt failed",
		"task_id", task.ID,
		"agent", agent,
		"phase", phase,
		"attempt", envelope.Attempt,
		"kind", kind,
		"error", err,
	)

	if markErr := s.agents.MarkError(ctx, task.ID, agent, kind, err.Error()); markErr != nil {
		return "", fmt.Errorf("mark agent error: %w", markErr)
	}

	if !envelope.CanRetry() {
		return "", fmt.Errorf("%w: agent %s after %d attempts: %v",
			ErrRetryExhausted, agent, envelope.Attempt+1, err)
	}

	delay := time.Duration(task.Settings.RetryDelaySec) * time.Second
	if delay <= 0 {
		delay = domain.DefaultAgentSettings().RetryDelay()
	}
	if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
		return "", fmt.Errorf("retry delay interrupted: %w", sleepErr)
	}

	next := envelope.Next()
	payload := mq.AgentInvokePayload{
		TaskID:  task.ID,
		Ticker:  task.Ticker,
		OwnerID: task.OwnerID,
		Agent:   agent,
		Phase:   phase,
		Retry:   next,
	}

	if pubErr := s.invoker.PublishAgentInvoke(ctx, payload); pubErr != nil {
		if markErr := s.agents.MarkDispatchFailed(ctx, task.ID, agent, pubErr.Error()); markErr != nil {
			s.logger.Error("failed to mark retry dispatch failure",
				"task_id", task.ID,
				"agent", agent,
				"error", markErr,
			)
		}
		return "", fmt.Errorf("%w: retry of agent %s: %v", ErrDispatchFailed, agent, pubErr)
	}

	s.logger.Info("agent retry dispatched",
		"task_id", task.ID,
		"agent", agent,
		"phase", phase,
		"attempt", next.Attempt,
		"max_retries", next.MaxRetries,
	)

	return "", fmt.Errorf("%w: agent %s attempt %d", ErrRetryScheduled, agent, next.Attempt)
}

// classifyKind определяет класс ошибки попытки.
func classifyKind(err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}

	var kindErr *KindError
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}

	return domain.ErrorKindBusiness
}

// sleepCtx ждёт d с учётом отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
