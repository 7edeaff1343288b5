package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
	"github.com/mkovri/Consilium/internal/repo"
)

// --- In-memory stores with conditional-write semantics ---

// memTaskStore — задачи в памяти с условными переходами как в repo.
// Create заодно сеет записи агентов в связанном memAgentStore,
// повторяя транзакцию repo.TaskRepo.Create.
type memTaskStore struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*domain.AnalysisTask
	order   []uuid.UUID
	agents  *memAgentStore
	stalled []domain.AnalysisTask
}

func newMemTaskStore(agents *memAgentStore) *memTaskStore {
	return &memTaskStore{
		tasks:  make(map[uuid.UUID]*domain.AnalysisTask),
		agents: agents,
	}
}

func (s *memTaskStore) Create(_ context.Context, task *domain.AnalysisTask, p domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return repo.ErrAlreadyExists
	}
	copied := *task
	s.tasks[task.ID] = &copied
	s.order = append(s.order, task.ID)
	s.agents.seed(task.ID, p)
	return nil
}

func (s *memTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *memTaskStore) List(_ context.Context, filter repo.TaskFilter) ([]domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AnalysisTask
	for _, id := range s.order {
		task := s.tasks[id]
		if filter.RebalanceID != nil &&
			(task.RebalanceID == nil || *task.RebalanceID != *filter.RebalanceID) {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		out = append(out, *task)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memTaskStore) ListPendingByRebalance(_ context.Context, rebalanceID uuid.UUID, limit int) ([]domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AnalysisTask
	for _, id := range s.order {
		task := s.tasks[id]
		if task.RebalanceID == nil || *task.RebalanceID != rebalanceID {
			continue
		}
		if task.Status != domain.TaskStatusPending {
			continue
		}
		out = append(out, *task)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memTaskStore) Counts(_ context.Context, rebalanceID uuid.UUID) (domain.TaskCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c domain.TaskCounts
	for _, task := range s.tasks {
		if task.RebalanceID == nil || *task.RebalanceID != rebalanceID {
			continue
		}
		c.Total++
		switch task.Status {
		case domain.TaskStatusCompleted:
			c.Completed++
		case domain.TaskStatusError:
			c.Failed++
		case domain.TaskStatusCancelled:
			c.Cancelled++
		case domain.TaskStatusRunning:
			c.Running++
		case domain.TaskStatusPending:
			c.Pending++
		}
	}
	return c, nil
}

func (s *memTaskStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	if task.Status != domain.TaskStatusPending || task.CancelRequested {
		return repo.ErrStale
	}
	task.MarkRunning()
	return nil
}

func (s *memTaskStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	if task.Status != domain.TaskStatusRunning {
		return repo.ErrStale
	}
	task.MarkCompleted()
	return nil
}

func (s *memTaskStore) MarkError(_ context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	if task.Status.IsTerminal() {
		return repo.ErrStale
	}
	task.MarkError(kind, msg)
	return nil
}

func (s *memTaskStore) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	if task.Status.IsTerminal() {
		return repo.ErrStale
	}
	task.MarkCancelled()
	return nil
}

func (s *memTaskStore) ListStalled(_ context.Context, _ time.Duration, _ int) ([]domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnalysisTask{}, s.stalled...), nil
}

// byTicker возвращает задачу ребалансировки по тикеру.
func (s *memTaskStore) byTicker(t *testing.T, rebalanceID uuid.UUID, ticker string) *domain.AnalysisTask {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.Ticker == ticker && task.RebalanceID != nil && *task.RebalanceID == rebalanceID {
			return task
		}
	}
	t.Fatalf("no task for ticker %s", ticker)
	return nil
}

func (s *memTaskStore) setStatus(id uuid.UUID, status domain.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].Status = status
}

// memAgentStore — записи агентов в памяти с условными переходами.
type memAgentStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]map[string]*domain.AgentRun
}

func newMemAgentStore() *memAgentStore {
	return &memAgentStore{runs: make(map[uuid.UUID]map[string]*domain.AgentRun)}
}

func (s *memAgentStore) seed(taskID uuid.UUID, p domain.Pipeline) {
	byAgent := make(map[string]*domain.AgentRun)
	for _, ph := range p {
		for _, agent := range ph.AllAgents() {
			byAgent[agent] = &domain.AgentRun{
				TaskID: taskID,
				Phase:  ph.Name,
				Agent:  agent,
				Status: domain.AgentStatusPending,
			}
		}
	}
	s.mu.Lock()
	s.runs[taskID] = byAgent
	s.mu.Unlock()
}

func (s *memAgentStore) Get(_ context.Context, taskID uuid.UUID, agent string) (*domain.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[taskID][agent]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *memAgentStore) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AgentRun, 0, len(s.runs[taskID]))
	for _, run := range s.runs[taskID] {
		out = append(out, *run)
	}
	return out, nil
}

func (s *memAgentStore) MarkError(_ context.Context, taskID uuid.UUID, agent string, kind domain.ErrorKind, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[taskID][agent]
	if run.Status != domain.AgentStatusRunning {
		return repo.ErrStale
	}
	run.Status = domain.AgentStatusError
	run.ErrorKind = kind
	run.Error = msg
	return nil
}

func (s *memAgentStore) MarkDispatchFailed(_ context.Context, taskID uuid.UUID, agent, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[taskID][agent]
	if run.Status != domain.AgentStatusPending && run.Status != domain.AgentStatusError {
		return repo.ErrStale
	}
	run.Status = domain.AgentStatusError
	run.ErrorKind = domain.ErrorKindTransport
	run.Error = msg
	return nil
}

func (s *memAgentStore) MarkSkipped(_ context.Context, taskID uuid.UUID, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[taskID][agent]
	if run.Status != domain.AgentStatusPending {
		return repo.ErrStale
	}
	run.Status = domain.AgentStatusSkipped
	return nil
}

// ListStaleRunning в фейке возвращает всех RUNNING агентов:
// тесты управляют зависанием напрямую через статусы.
func (s *memAgentStore) ListStaleRunning(_ context.Context, _ time.Duration, _ int) ([]domain.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AgentRun
	for _, byAgent := range s.runs {
		for _, run := range byAgent {
			if run.Status == domain.AgentStatusRunning {
				out = append(out, *run)
			}
		}
	}
	return out, nil
}

// set выставляет запись агента в нужное состояние.
func (s *memAgentStore) set(taskID uuid.UUID, agent string, status domain.AgentStatus, attempt int, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[taskID][agent]
	run.Status = status
	run.Attempt = attempt
	run.Output = output
}

func (s *memAgentStore) status(taskID uuid.UUID, agent string) domain.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[taskID][agent].Status
}

// memRebalanceStore — ребалансировки в памяти с условными переходами.
type memRebalanceStore struct {
	mu   sync.Mutex
	rebs map[uuid.UUID]*domain.RebalanceTask
}

func newMemRebalanceStore(rebs ...*domain.RebalanceTask) *memRebalanceStore {
	s := &memRebalanceStore{rebs: make(map[uuid.UUID]*domain.RebalanceTask)}
	for _, reb := range rebs {
		s.rebs[reb.ID] = reb
	}
	return s
}

func (s *memRebalanceStore) GetByID(_ context.Context, id uuid.UUID) (*domain.RebalanceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reb, ok := s.rebs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *reb
	return &copied, nil
}

func (s *memRebalanceStore) ListUnfinished(_ context.Context, _ int) ([]domain.RebalanceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RebalanceTask
	for _, reb := range s.rebs {
		if !reb.IsFinished() {
			out = append(out, *reb)
		}
	}
	return out, nil
}

func (s *memRebalanceStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reb := s.rebs[id]
	if reb.Status != domain.RebalanceStatusPending {
		return repo.ErrStale
	}
	reb.MarkRunning()
	return nil
}

func (s *memRebalanceStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reb := s.rebs[id]
	if reb.Status != domain.RebalanceStatusRunning {
		return repo.ErrStale
	}
	reb.MarkCompleted()
	return nil
}

func (s *memRebalanceStore) MarkError(_ context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reb := s.rebs[id]
	if reb.IsFinished() {
		return repo.ErrStale
	}
	reb.MarkError(kind, msg)
	return nil
}

func (s *memRebalanceStore) ClaimBuild(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reb := s.rebs[id]
	if reb.BuildStatus != domain.BuildStatusNone {
		return repo.ErrStale
	}
	reb.BuildStatus = domain.BuildStatusInvoked
	return nil
}

func (s *memRebalanceStore) SetBuildStatus(_ context.Context, id uuid.UUID, status domain.BuildStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebs[id].BuildStatus = status
	return nil
}

func (s *memRebalanceStore) get(id uuid.UUID) *domain.RebalanceTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebs[id]
}

// memOrderStore — торговые заявки в памяти.
type memOrderStore struct {
	mu     sync.Mutex
	orders []domain.TradeOrder
}

func (s *memOrderStore) Create(_ context.Context, order *domain.TradeOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, *order)
	return nil
}

func (s *memOrderStore) ListByRebalance(_ context.Context, rebalanceID uuid.UUID) ([]domain.TradeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeOrder
	for _, order := range s.orders {
		if order.RebalanceID == rebalanceID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *memOrderStore) byTicker(ticker string) (domain.TradeOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.Ticker == ticker {
			return order, true
		}
	}
	return domain.TradeOrder{}, false
}

// fakeInvoker — собирает отправленные запросы на вызов агентов.
type fakeInvoker struct {
	mu      sync.Mutex
	invokes []mq.AgentInvokePayload
	err     error
}

func (f *fakeInvoker) PublishAgentInvoke(_ context.Context, payload mq.AgentInvokePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.invokes = append(f.invokes, payload)
	return nil
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invokes)
}

// fakeBroker — брокерский API в памяти.
type fakeBroker struct {
	snapshot *broker.PortfolioSnapshot
	err      error
}

func (f *fakeBroker) Snapshot(_ context.Context, ownerID uuid.UUID) (*broker.PortfolioSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	return &broker.PortfolioSnapshot{
		OwnerID:   ownerID,
		Positions: map[string]broker.Position{},
	}, nil
}

func (f *fakeBroker) SubmitOrder(_ context.Context, _ *domain.TradeOrder) error {
	return nil
}

// --- Test harness ---

type coordEnv struct {
	tasks      *memTaskStore
	agents     *memAgentStore
	rebalances *memRebalanceStore
	orders     *memOrderStore
	invoker    *fakeInvoker
	broker     *fakeBroker
	coord      *Coordinator
	reb        *domain.RebalanceTask
}

func newCoordEnv(t *testing.T, tickers []string, maxParallel int, minSuccess float64) *coordEnv {
	t.Helper()

	reb := &domain.RebalanceTask{
		ID:                 uuid.New(),
		OwnerID:            uuid.New(),
		Status:             domain.RebalanceStatusPending,
		Tickers:            tickers,
		MaxParallel:        maxParallel,
		MinSuccessFraction: minSuccess,
		Settings:           domain.DefaultAgentSettings(),
		BuildStatus:        domain.BuildStatusNone,
	}

	agents := newMemAgentStore()
	tasks := newMemTaskStore(agents)
	rebalances := newMemRebalanceStore(reb)
	orders := &memOrderStore{}
	invoker := &fakeInvoker{}
	brk := &fakeBroker{}

	coord := New(Config{
		Tasks:      tasks,
		Agents:     agents,
		Rebalances: rebalances,
		Orders:     orders,
		Invoker:    invoker,
		Broker:     brk,
	})

	return &coordEnv{
		tasks:      tasks,
		agents:     agents,
		rebalances: rebalances,
		orders:     orders,
		invoker:    invoker,
		broker:     brk,
		coord:      coord,
		reb:        reb,
	}
}

// fanOutDone выполняет fan-out и возвращает срез созданных задач.
func (env *coordEnv) fanOutDone(t *testing.T) {
	t.Helper()
	if err := env.coord.reconcile(context.Background(), env.reb.ID); err != nil {
		t.Fatalf("fan-out failed: %v", err)
	}
}

// finishTask терминально завершает задачу, выставляя вердикт risk_judge.
func (env *coordEnv) finishTask(t *testing.T, ticker string, status domain.TaskStatus, verdict string) *domain.AnalysisTask {
	t.Helper()
	task := env.tasks.byTicker(t, env.reb.ID, ticker)
	env.tasks.setStatus(task.ID, status)
	if status == domain.TaskStatusCompleted {
		env.agents.set(task.ID, domain.AgentRiskJudge, domain.AgentStatusCompleted, 0, verdict)
	}
	return task
}
