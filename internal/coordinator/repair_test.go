package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
)

// newStandaloneTask создаёт одиночную (вне ребалансировки) задачу
// в статусе RUNNING со свежими PENDING агентами.
func newStandaloneTask(t *testing.T, env *coordEnv) *domain.AnalysisTask {
	t.Helper()

	task := &domain.AnalysisTask{
		ID:        uuid.New(),
		Ticker:    "TSLA",
		OwnerID:   uuid.New(),
		Status:    domain.TaskStatusPending,
		Settings:  domain.DefaultAgentSettings(),
		CreatedAt: time.Now(),
	}
	if err := env.tasks.Create(context.Background(), task, domain.DefaultPipeline()); err != nil {
		t.Fatalf("create task: %v", err)
	}
	env.tasks.setStatus(task.ID, domain.TaskStatusRunning)
	task.Status = domain.TaskStatusRunning
	return task
}

// completeAllAgents переводит всех агентов задачи в COMPLETED
// и записывает вердикт финальному агенту последней фазы.
func completeAllAgents(env *coordEnv, taskID uuid.UUID, verdict string) {
	for _, ph := range domain.DefaultPipeline() {
		for _, agent := range ph.AllAgents() {
			env.agents.set(taskID, agent, domain.AgentStatusCompleted, 0, "insight")
		}
	}
	env.agents.set(taskID, domain.AgentRiskJudge, domain.AgentStatusCompleted, 0, verdict)
}

func TestRepairTask_ResumesStalledPhase(t *testing.T) {
	// Событие передачи хода потеряно: market завершён, остальные
	// аналитики PENDING, никто не выполняется.
	env := newCoordEnv(t, nil, 1, 0.5)
	task := newStandaloneTask(t, env)

	env.agents.set(task.ID, domain.AgentMarket, domain.AgentStatusCompleted, 0, "insight")

	if err := env.coord.repairTask(context.Background(), task.ID); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	if env.invoker.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", env.invoker.count())
	}
	invoke := env.invoker.invokes[0]
	if invoke.Phase != domain.PhaseAnalysis {
		t.Errorf("dispatch must stay in the current phase, got %s", invoke.Phase)
	}
	if invoke.Agent == domain.AgentMarket {
		t.Errorf("completed agent must not be re-dispatched")
	}
}

func TestRepairTask_AdvancesToNextPhase(t *testing.T) {
	// Фаза analysis полностью терминальна, событие last_in_phase
	// потеряно: сверка запускает первого агента research.
	env := newCoordEnv(t, nil, 1, 0.5)
	task := newStandaloneTask(t, env)

	for _, agent := range []string{domain.AgentMarket, domain.AgentNews, domain.AgentFundamentals, domain.AgentSentiment} {
		env.agents.set(task.ID, agent, domain.AgentStatusCompleted, 0, "insight")
	}

	if err := env.coord.repairTask(context.Background(), task.ID); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	if env.invoker.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", env.invoker.count())
	}
	invoke := env.invoker.invokes[0]
	if invoke.Phase != domain.PhaseResearch {
		t.Errorf("expected research phase dispatch, got %s", invoke.Phase)
	}
	if invoke.Agent == domain.AgentResearchMgr {
		t.Errorf("final agent must not start before bull and bear")
	}
}

func TestRepairTask_LeavesRunningPhaseAlone(t *testing.T) {
	env := newCoordEnv(t, nil, 1, 0.5)
	task := newStandaloneTask(t, env)

	env.agents.set(task.ID, domain.AgentMarket, domain.AgentStatusRunning, 0, "")

	if err := env.coord.repairTask(context.Background(), task.ID); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	if env.invoker.count() != 0 {
		t.Errorf("repair must not interfere while an agent is running, dispatched %d", env.invoker.count())
	}
}

func TestRepairTask_FinalizesCompletedTask(t *testing.T) {
	env := newCoordEnv(t, nil, 1, 0.5)
	task := newStandaloneTask(t, env)

	completeAllAgents(env, task.ID, "FINAL RECOMMENDATION: BUY")

	if err := env.coord.repairTask(context.Background(), task.ID); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	got, _ := env.tasks.GetByID(context.Background(), task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("task must be COMPLETED, got %s", got.Status)
	}
}

func TestRepairTask_FailsTaskWithoutFinalVerdict(t *testing.T) {
	// Все фазы терминальны, но risk_judge исчерпал попытки:
	// задача терминально неуспешна с его классом ошибки.
	env := newCoordEnv(t, nil, 1, 0.5)
	task := newStandaloneTask(t, env)

	completeAllAgents(env, task.ID, "")
	env.agents.set(task.ID, domain.AgentRiskJudge, domain.AgentStatusError, task.Settings.MaxRetries, "")
	env.agents.mu.Lock()
	env.agents.runs[task.ID][domain.AgentRiskJudge].ErrorKind = domain.ErrorKindTimeout
	env.agents.mu.Unlock()

	if err := env.coord.repairTask(context.Background(), task.ID); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	got, _ := env.tasks.GetByID(context.Background(), task.ID)
	if got.Status != domain.TaskStatusError {
		t.Fatalf("task must be ERROR, got %s", got.Status)
	}
	if got.ErrorKind != domain.ErrorKindTimeout {
		t.Errorf("error kind must come from the final agent, got %s", got.ErrorKind)
	}
}

func TestRepairTask_CancelRequested(t *testing.T) {
	env := newCoordEnv(t, nil, 1, 0.5)
	task := newStandaloneTask(t, env)

	env.agents.set(task.ID, domain.AgentMarket, domain.AgentStatusCompleted, 0, "insight")
	env.tasks.mu.Lock()
	env.tasks.tasks[task.ID].CancelRequested = true
	env.tasks.mu.Unlock()

	if err := env.coord.repairTask(context.Background(), task.ID); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	got, _ := env.tasks.GetByID(context.Background(), task.ID)
	if got.Status != domain.TaskStatusCancelled {
		t.Fatalf("task must be CANCELLED, got %s", got.Status)
	}
	if env.agents.status(task.ID, domain.AgentNews) != domain.AgentStatusSkipped {
		t.Errorf("pending agents must be SKIPPED on cancellation")
	}
	if env.agents.status(task.ID, domain.AgentMarket) != domain.AgentStatusCompleted {
		t.Errorf("finished agents must keep their status on cancellation")
	}
	if env.invoker.count() != 0 {
		t.Errorf("cancelled task must not dispatch agents")
	}
}

func TestRepairTask_UnknownTaskDropped(t *testing.T) {
	env := newCoordEnv(t, nil, 1, 0.5)

	err := env.coord.repairTask(context.Background(), uuid.New())
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRecoverStaleAgents_FailsAndRedispatches(t *testing.T) {
	// Воркер упал посреди попытки: агент завис в RUNNING. Сверка
	// переводит его в ERROR (TIMEOUT) и перезапускает фазу.
	env := newCoordEnv(t, nil, 1, 0.5)
	task := newStandaloneTask(t, env)

	env.agents.set(task.ID, domain.AgentMarket, domain.AgentStatusRunning, 0, "")

	env.coord.recoverStaleAgents(context.Background())

	if env.agents.status(task.ID, domain.AgentMarket) != domain.AgentStatusError {
		t.Fatalf("stale agent must be ERROR, got %s", env.agents.status(task.ID, domain.AgentMarket))
	}
	env.agents.mu.Lock()
	kind := env.agents.runs[task.ID][domain.AgentMarket].ErrorKind
	env.agents.mu.Unlock()
	if kind != domain.ErrorKindTimeout {
		t.Errorf("stale agent error kind must be TIMEOUT, got %s", kind)
	}

	// Фаза продолжена: лимит попыток market не исчерпан, поэтому он
	// остаётся кандидатом наравне с PENDING пирами.
	if env.invoker.count() != 1 {
		t.Fatalf("expected 1 dispatch after recovery, got %d", env.invoker.count())
	}
	if env.invoker.invokes[0].Phase != domain.PhaseAnalysis {
		t.Errorf("recovery dispatch must stay in the analysis phase")
	}
}

func TestRepairTask_FinalizeDrivesFanIn(t *testing.T) {
	// Потерянный callback: сверка финализирует задачу и сама
	// продвигает fan-in родительской ребалансировки до построения.
	env := newCoordEnv(t, []string{"AAPL"}, 1, 0.5)
	env.fanOutDone(t)

	task := env.tasks.byTicker(t, env.reb.ID, "AAPL")
	completeAllAgents(env, task.ID, "FINAL RECOMMENDATION: BUY")

	if err := env.coord.repairTask(context.Background(), task.ID); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	got, _ := env.tasks.GetByID(context.Background(), task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("task must be COMPLETED, got %s", got.Status)
	}

	reb := env.rebalances.get(env.reb.ID)
	if reb.Status != domain.RebalanceStatusCompleted {
		t.Errorf("fan-in must complete the rebalance, got %s", reb.Status)
	}
	if reb.BuildStatus != domain.BuildStatusDone {
		t.Errorf("fan-in must run the build, got %s", reb.BuildStatus)
	}

	orders, _ := env.orders.ListByRebalance(context.Background(), env.reb.ID)
	if len(orders) != 1 || orders[0].Side != domain.OrderSideBuy {
		t.Errorf("expected a single BUY order, got %+v", orders)
	}
}
