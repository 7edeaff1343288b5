package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
)

// --- Fakes ---

// fakeAgentStore — хранилище записей агентов в памяти.
type fakeAgentStore struct {
	runs map[string]*domain.AgentRun // agent → run

	markErrors      []string // агенты, получившие MarkError
	dispatchFailed  []string // агенты, получившие MarkDispatchFailed
	failMarkError   error
	failListByTask  error
}

func newFakeAgentStore(runs ...domain.AgentRun) *fakeAgentStore {
	s := &fakeAgentStore{runs: make(map[string]*domain.AgentRun)}
	for i := range runs {
		run := runs[i]
		s.runs[run.Agent] = &run
	}
	return s
}

func (s *fakeAgentStore) ListByTask(_ context.Context, _ uuid.UUID) ([]domain.AgentRun, error) {
	if s.failListByTask != nil {
		return nil, s.failListByTask
	}
	out := make([]domain.AgentRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (s *fakeAgentStore) MarkError(_ context.Context, _ uuid.UUID, agent string, kind domain.ErrorKind, msg string) error {
	if s.failMarkError != nil {
		return s.failMarkError
	}
	s.markErrors = append(s.markErrors, agent)
	run := s.runs[agent]
	run.Status = domain.AgentStatusError
	run.ErrorKind = kind
	run.Error = msg
	return nil
}

func (s *fakeAgentStore) MarkDispatchFailed(_ context.Context, _ uuid.UUID, agent, msg string) error {
	s.dispatchFailed = append(s.dispatchFailed, agent)
	run := s.runs[agent]
	run.Status = domain.AgentStatusError
	run.ErrorKind = domain.ErrorKindTransport
	run.Error = msg
	return nil
}

// fakeInvoker — собирает отправленные запросы на вызов.
type fakeInvoker struct {
	published []mq.AgentInvokePayload
	err       error
}

func (f *fakeInvoker) PublishAgentInvoke(_ context.Context, payload mq.AgentInvokePayload) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload)
	return nil
}

func testTask() *domain.AnalysisTask {
	return &domain.AnalysisTask{
		ID:       uuid.New(),
		Ticker:   "NVDA",
		OwnerID:  uuid.New(),
		Status:   domain.TaskStatusRunning,
		Settings: domain.DefaultAgentSettings(),
	}
}

func run(taskID uuid.UUID, phase, agent string, status domain.AgentStatus) domain.AgentRun {
	return domain.AgentRun{TaskID: taskID, Phase: phase, Agent: agent, Status: status}
}

func newTestSequencer(store *fakeAgentStore, invoker *fakeInvoker, pick int) *Sequencer {
	seq := NewSequencer(store, invoker, domain.DefaultPipeline(), nil)
	seq.randIntn = func(n int) int { return pick % n }
	return seq
}

// --- Sequencer Tests ---

func TestSequencer_Advance_DispatchesPendingPeer(t *testing.T) {
	task := testTask()
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusCompleted),
		run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusPending),
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusPending),
	)
	invoker := &fakeInvoker{}
	seq := newTestSequencer(store, invoker, 0)

	outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, domain.AgentBull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Kind != OutcomeDispatched {
		t.Fatalf("expected dispatched, got %s", outcome.Kind)
	}
	if outcome.Agent != domain.AgentBear {
		t.Errorf("expected bear dispatched, got %s", outcome.Agent)
	}
	if len(invoker.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(invoker.published))
	}

	payload := invoker.published[0]
	if payload.Agent != domain.AgentBear || payload.Phase != domain.PhaseResearch {
		t.Errorf("wrong payload: %+v", payload)
	}
	if payload.Retry.Attempt != 0 || payload.Retry.Intentional {
		t.Errorf("first attempt envelope expected, got %+v", payload.Retry)
	}
}

func TestSequencer_Advance_FinalAgentNotBeforeRegularsTerminal(t *testing.T) {
	// Финальный агент не отправляется, пока bear ещё PENDING:
	// кандидатом становится bear, а не research_manager.
	task := testTask()
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusCompleted),
		run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusPending),
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusPending),
	)
	invoker := &fakeInvoker{}

	// Любое значение генератора не должно выбрать финального агента.
	for pick := 0; pick < 4; pick++ {
		invoker.published = nil
		seq := newTestSequencer(store, invoker, pick)

		outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, domain.AgentBull)
		if err != nil {
			t.Fatalf("pick %d: unexpected error: %v", pick, err)
		}
		if outcome.Agent == domain.AgentResearchMgr {
			t.Fatalf("pick %d: final agent dispatched before regulars terminal", pick)
		}
	}
}

func TestSequencer_Advance_FinalAgentAfterRegularsTerminal(t *testing.T) {
	// ERROR тоже терминален для гейтинга: bull COMPLETED, bear ERROR
	// с исчерпанными попытками → очередь финального агента.
	task := testTask()
	bearRun := run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusError)
	bearRun.Attempt = task.Settings.MaxRetries
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusCompleted),
		bearRun,
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusPending),
	)
	invoker := &fakeInvoker{}
	seq := newTestSequencer(store, invoker, 0)

	outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, domain.AgentBull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Kind != OutcomeDispatched || outcome.Agent != domain.AgentResearchMgr {
		t.Fatalf("expected final agent dispatch, got %+v", outcome)
	}
}

func TestSequencer_Advance_ErroredPeerWithAttemptsLeftIsCandidate(t *testing.T) {
	// Упавший пир с неисчерпанным лимитом возобновляется намеренным
	// retry (восстановление после потерянного сообщения).
	task := testTask()
	bearRun := run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusError)
	bearRun.Attempt = 0
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusCompleted),
		bearRun,
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusPending),
	)
	invoker := &fakeInvoker{}
	seq := newTestSequencer(store, invoker, 0)

	outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, domain.AgentBull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Agent != domain.AgentBear {
		t.Fatalf("expected bear retried, got %s", outcome.Agent)
	}
	payload := invoker.published[0]
	if !payload.Retry.Intentional {
		t.Error("resume of errored peer must be intentional")
	}
	if payload.Retry.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", payload.Retry.Attempt)
	}
}

func TestSequencer_Advance_ExhaustedPeerNotCandidate(t *testing.T) {
	// Агент, исчерпавший лимит, никогда не вызывается снова.
	task := testTask()
	bearRun := run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusError)
	bearRun.Attempt = task.Settings.MaxRetries
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusRunning),
		bearRun,
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusPending),
	)
	invoker := &fakeInvoker{}
	seq := newTestSequencer(store, invoker, 0)

	outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Kind != OutcomeWaiting {
		t.Fatalf("expected waiting (bull running, bear exhausted), got %s", outcome.Kind)
	}
	if len(invoker.published) != 0 {
		t.Errorf("nothing should be dispatched, got %d", len(invoker.published))
	}
}

func TestSequencer_Advance_WaitingWhilePeerRunning(t *testing.T) {
	task := testTask()
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusCompleted),
		run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusRunning),
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusPending),
	)
	invoker := &fakeInvoker{}
	seq := newTestSequencer(store, invoker, 0)

	outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, domain.AgentBull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Kind != OutcomeWaiting {
		t.Fatalf("expected waiting, got %s", outcome.Kind)
	}
}

func TestSequencer_Advance_PhaseDone(t *testing.T) {
	task := testTask()
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusCompleted),
		run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusCompleted),
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusCompleted),
	)
	invoker := &fakeInvoker{}
	seq := newTestSequencer(store, invoker, 0)

	outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, domain.AgentResearchMgr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Kind != OutcomePhaseDone {
		t.Fatalf("expected phase_done, got %s", outcome.Kind)
	}
	if len(invoker.published) != 0 {
		t.Errorf("nothing should be dispatched, got %d", len(invoker.published))
	}
}

func TestSequencer_Advance_DispatchFailureRollsToError(t *testing.T) {
	// Сбой отправки: намеченный агент переводится в ERROR (TRANSPORT),
	// никогда обратно в PENDING, и его имя возвращается вместе с ошибкой.
	task := testTask()
	store := newFakeAgentStore(
		run(task.ID, domain.PhaseResearch, domain.AgentBull, domain.AgentStatusCompleted),
		run(task.ID, domain.PhaseResearch, domain.AgentBear, domain.AgentStatusPending),
		run(task.ID, domain.PhaseResearch, domain.AgentResearchMgr, domain.AgentStatusPending),
	)
	invoker := &fakeInvoker{err: fmt.Errorf("broker gone")}
	seq := newTestSequencer(store, invoker, 0)

	outcome, err := seq.Advance(context.Background(), task, domain.PhaseResearch, domain.AgentBull)

	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	if outcome.Kind != OutcomeDispatchFailed || outcome.Agent != domain.AgentBear {
		t.Fatalf("expected intended agent in outcome, got %+v", outcome)
	}

	bear := store.runs[domain.AgentBear]
	if bear.Status != domain.AgentStatusError {
		t.Errorf("candidate must be ERROR after dispatch failure, got %s", bear.Status)
	}
	if bear.ErrorKind != domain.ErrorKindTransport {
		t.Errorf("expected TRANSPORT kind, got %s", bear.ErrorKind)
	}
}

func TestSequencer_Advance_UniformPick(t *testing.T) {
	// Генератор выбирает индекс среди кандидатов: при трёх PENDING
	// пирах разный индекс даёт разного агента.
	task := testTask()
	taskID := task.ID
	makeStore := func() *fakeAgentStore {
		return newFakeAgentStore(
			run(taskID, domain.PhaseAnalysis, domain.AgentMarket, domain.AgentStatusCompleted),
			run(taskID, domain.PhaseAnalysis, domain.AgentNews, domain.AgentStatusPending),
			run(taskID, domain.PhaseAnalysis, domain.AgentFundamentals, domain.AgentStatusPending),
			run(taskID, domain.PhaseAnalysis, domain.AgentSentiment, domain.AgentStatusPending),
		)
	}

	seen := make(map[string]bool)
	for pick := 0; pick < 3; pick++ {
		invoker := &fakeInvoker{}
		seq := newTestSequencer(makeStore(), invoker, pick)

		outcome, err := seq.Advance(context.Background(), task, domain.PhaseAnalysis, domain.AgentMarket)
		if err != nil {
			t.Fatalf("pick %d: unexpected error: %v", pick, err)
		}
		if outcome.Agent == domain.AgentMarket {
			t.Fatalf("pick %d: just completed agent re-dispatched", pick)
		}
		seen[outcome.Agent] = true
	}

	if len(seen) != 3 {
		t.Errorf("expected 3 distinct candidates across picks, got %d: %v", len(seen), seen)
	}
}

func TestSequencer_Advance_UnknownPhase(t *testing.T) {
	task := testTask()
	seq := newTestSequencer(newFakeAgentStore(), &fakeInvoker{}, 0)

	_, err := seq.Advance(context.Background(), task, "settlement", "")
	if !errors.Is(err, ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase, got %v", err)
	}
}
