package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
)

// OutcomeKind — результат шага секвенсера.
type OutcomeKind int

const (
	// OutcomeDispatched — ход передан следующему агенту фазы.
	OutcomeDispatched OutcomeKind = iota

	// OutcomeWaiting — передавать ход некому: в фазе есть выполняющиеся
	// агенты, их завершение продвинет конвейер.
	OutcomeWaiting

	// OutcomePhaseDone — фаза полностью терминальна (включая финального
	// агента); межфазный переход выполняет координатор.
	OutcomePhaseDone

	// OutcomeDispatchFailed — отправка запроса не удалась; намеченный
	// агент переведён в ERROR.
	OutcomeDispatchFailed
)

// String возвращает имя результата для логов.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeWaiting:
		return "waiting"
	case OutcomePhaseDone:
		return "phase_done"
	case OutcomeDispatchFailed:
		return "dispatch_failed"
	default:
		return "unknown"
	}
}

// Outcome — итог одного шага секвенсера.
type Outcome struct {
	// Kind — вид итога.
	Kind OutcomeKind

	// Agent — отправленный (или намеченный при сбое отправки) агент.
	Agent string
}

// Sequencer передаёт ход между агентами одной фазы.
//
// После завершения агента Sequencer выбирает равновероятно случайного
// кандидата среди незавершённых пиров фазы и отправляет ему запрос на
// вызов. Финальный агент фазы отправляется только когда все обычные
// агенты терминальны. Порядок обычных агентов внутри фазы не
// фиксирован: валидно любое чередование.
//
// Sequencer не помечает кандидата RUNNING перед отправкой — этот
// переход выполняет воркер при входе (claim в хранилище). Поэтому
// дубль запроса безопасен, а сбой отправки переводит кандидата в
// ERROR, чтобы след сбоя был виден в хранилище, и никогда не
// возвращает его в PENDING.
type Sequencer struct {
	agents   AgentStore
	invoker  Invoker
	pipeline domain.Pipeline
	logger   *slog.Logger

	// randIntn — источник случайного выбора (подменяется в тестах).
	randIntn func(n int) int
}

// NewSequencer создаёт Sequencer.
func NewSequencer(agents AgentStore, invoker Invoker, p domain.Pipeline, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		agents:   agents,
		invoker:  invoker,
		pipeline: p,
		logger:   logger,
		randIntn: rand.IntN,
	}
}

// Advance выполняет один шаг передачи хода в фазе после завершения
// агента justCompleted.
//
// Кандидаты — обычные агенты фазы в статусе PENDING, а также в ERROR
// с неисчерпанным лимитом попыток (восстановление после потерянного
// сообщения о retry). Когда кандидатов нет и все обычные агенты
// терминальны, отправляется финальный агент; когда терминальна вся
// фаза — возвращается OutcomePhaseDone.
func (s *Sequencer) Advance(ctx context.Context, task *domain.AnalysisTask, phase, justCompleted string) (Outcome, error) {
	phaseDef, ok := s.pipeline.Phase(phase)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}

	runs, err := s.agents.ListByTask(ctx, task.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list agent runs: %w", err)
	}

	records := domain.BuildPhaseRecords(s.pipeline, runs)
	rec, ok := findRecord(records, phase)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}

	// Кандидаты среди обычных агентов фазы.
	candidates := make([]domain.AgentRun, 0, len(rec.Agents))
	for _, run := range rec.Agents {
		if run.Agent == justCompleted {
			continue
		}
		if isCandidate(run, task.Settings) {
			candidates = append(candidates, run)
		}
	}

	if len(candidates) > 0 {
		pick := candidates[s.randIntn(len(candidates))]
		return s.dispatch(ctx, task, phase, pick)
	}

	if !rec.RegularsTerminal() {
		// Пиры ещё выполняются — их завершение продвинет фазу.
		return Outcome{Kind: OutcomeWaiting}, nil
	}

	// Все обычные агенты терминальны: очередь финального агента.
	if phaseDef.FinalAgent != "" && rec.Final != nil && !rec.Final.Status.IsTerminal() {
		if rec.Final.Status == domain.AgentStatusRunning {
			return Outcome{Kind: OutcomeWaiting}, nil
		}
		return s.dispatch(ctx, task, phase, *rec.Final)
	}

	return Outcome{Kind: OutcomePhaseDone}, nil
}

// StartPhase отправляет первого агента фазы. Используется при запуске
// задачи и при межфазном переходе координатором.
func (s *Sequencer) StartPhase(ctx context.Context, task *domain.AnalysisTask, phase string) (Outcome, error) {
	return s.Advance(ctx, task, phase, "")
}

// dispatch отправляет запрос на вызов агента.
//
// При сбое отправки кандидат переводится в ERROR (TRANSPORT) — никогда
// обратно в PENDING — и возвращается ErrDispatchFailed с именем
// намеченного агента в Outcome.
func (s *Sequencer) dispatch(ctx context.Context, task *domain.AnalysisTask, phase string, run domain.AgentRun) (Outcome, error) {
	envelope := domain.FirstAttempt(task.Settings)
	if run.Status == domain.AgentStatusError {
		// Возобновление упавшего агента — намеренный retry.
		envelope = domain.RetryEnvelope{
			Attempt:     run.Attempt + 1,
			MaxRetries:  task.Settings.MaxRetries,
			TimeoutSec:  task.Settings.TimeoutSec,
			Intentional: true,
		}
	}

	payload := mq.AgentInvokePayload{
		TaskID:  task.ID,
		Ticker:  task.Ticker,
		OwnerID: task.OwnerID,
		Agent:   run.Agent,
		Phase:   phase,
		Retry:   envelope,
	}

	if err := s.invoker.PublishAgentInvoke(ctx, payload); err != nil {
		s.logger.Warn("agent dispatch failed",
			"task_id", task.ID,
			"agent", run.Agent,
			"phase", phase,
			"error", err,
		)

		if markErr := s.agents.MarkDispatchFailed(ctx, task.ID, run.Agent, err.Error()); markErr != nil {
			s.logger.Error("failed to mark dispatch failure",
				"task_id", task.ID,
				"agent", run.Agent,
				"error", markErr,
			)
		}

		return Outcome{Kind: OutcomeDispatchFailed, Agent: run.Agent},
			fmt.Errorf("%w: agent %s: %v", ErrDispatchFailed, run.Agent, err)
	}

	s.logger.Info("agent dispatched",
		"task_id", task.ID,
		"agent", run.Agent,
		"phase", phase,
		"attempt", envelope.Attempt,
	)

	return Outcome{Kind: OutcomeDispatched, Agent: run.Agent}, nil
}

// isCandidate проверяет, можно ли передать ход агенту.
func isCandidate(run domain.AgentRun, settings domain.AgentSettings) bool {
	switch run.Status {
	case domain.AgentStatusPending:
		return true
	case domain.AgentStatusError:
		// Упавший агент подлежит возобновлению, пока не исчерпан
		// лимит: всего допускается 1+MaxRetries запусков.
		return run.Attempt < settings.MaxRetries
	default:
		return false
	}
}

// findRecord ищет проекцию фазы по имени.
func findRecord(records []domain.PhaseRecord, phase string) (domain.PhaseRecord, bool) {
	for _, rec := range records {
		if rec.Name == phase {
			return rec, true
		}
	}
	return domain.PhaseRecord{}, false
}
