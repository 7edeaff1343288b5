package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
	"github.com/mkovri/Consilium/internal/repo"
)

// --- Fakes ---

type memAgentStore struct {
	runs map[uuid.UUID]map[string]*domain.AgentRun
}

func newMemAgentStore() *memAgentStore {
	return &memAgentStore{runs: map[uuid.UUID]map[string]*domain.AgentRun{}}
}

func (s *memAgentStore) seed(taskID uuid.UUID, p domain.Pipeline) {
	m := map[string]*domain.AgentRun{}
	for _, ph := range p {
		for _, agent := range ph.AllAgents() {
			m[agent] = &domain.AgentRun{
				TaskID: taskID,
				Phase:  ph.Name,
				Agent:  agent,
				Status: domain.AgentStatusPending,
			}
		}
	}
	s.runs[taskID] = m
}

func (s *memAgentStore) Get(_ context.Context, taskID uuid.UUID, agent string) (*domain.AgentRun, error) {
	run, ok := s.runs[taskID][agent]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *memAgentStore) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.AgentRun, error) {
	var runs []domain.AgentRun
	for _, run := range s.runs[taskID] {
		runs = append(runs, *run)
	}
	return runs, nil
}

func (s *memAgentStore) MarkError(_ context.Context, taskID uuid.UUID, agent string, kind domain.ErrorKind, msg string) error {
	run, ok := s.runs[taskID][agent]
	if !ok || run.Status != domain.AgentStatusRunning {
		return repo.ErrStale
	}
	run.Status = domain.AgentStatusError
	run.ErrorKind = kind
	run.Error = msg
	return nil
}

func (s *memAgentStore) MarkDispatchFailed(_ context.Context, taskID uuid.UUID, agent, msg string) error {
	run, ok := s.runs[taskID][agent]
	if !ok || (run.Status != domain.AgentStatusPending && run.Status != domain.AgentStatusError) {
		return repo.ErrStale
	}
	run.Status = domain.AgentStatusError
	run.ErrorKind = domain.ErrorKindTransport
	run.Error = msg
	return nil
}

func (s *memAgentStore) set(taskID uuid.UUID, agent string, status domain.AgentStatus, attempt int) {
	s.runs[taskID][agent].Status = status
	s.runs[taskID][agent].Attempt = attempt
}

type memTaskStore struct {
	agents *memAgentStore
	tasks  map[uuid.UUID]*domain.AnalysisTask
	order  []uuid.UUID
}

func newMemTaskStore(agents *memAgentStore) *memTaskStore {
	return &memTaskStore{agents: agents, tasks: map[uuid.UUID]*domain.AnalysisTask{}}
}

func (s *memTaskStore) Create(_ context.Context, task *domain.AnalysisTask, p domain.Pipeline) error {
	copied := *task
	s.tasks[task.ID] = &copied
	s.order = append(s.order, task.ID)
	s.agents.seed(task.ID, p)
	return nil
}

func (s *memTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *memTaskStore) List(_ context.Context, filter repo.TaskFilter) ([]domain.AnalysisTask, error) {
	var tasks []domain.AnalysisTask
	for _, id := range s.order {
		task := s.tasks[id]
		if filter.RebalanceID != nil && (task.RebalanceID == nil || *task.RebalanceID != *filter.RebalanceID) {
			continue
		}
		if filter.OwnerID != nil && task.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

func (s *memTaskStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	task, ok := s.tasks[id]
	if !ok || task.Status != domain.TaskStatusPending || task.CancelRequested {
		return repo.ErrStale
	}
	task.MarkRunning()
	return nil
}

func (s *memTaskStore) RequestCancel(_ context.Context, id uuid.UUID) error {
	task, ok := s.tasks[id]
	if !ok || task.IsFinished() {
		return repo.ErrStale
	}
	task.CancelRequested = true
	return nil
}

type memRebalanceStore struct {
	rebalances map[uuid.UUID]*domain.RebalanceTask
}

func newMemRebalanceStore() *memRebalanceStore {
	return &memRebalanceStore{rebalances: map[uuid.UUID]*domain.RebalanceTask{}}
}

func (s *memRebalanceStore) Create(_ context.Context, reb *domain.RebalanceTask) error {
	copied := *reb
	s.rebalances[reb.ID] = &copied
	return nil
}

func (s *memRebalanceStore) GetByID(_ context.Context, id uuid.UUID) (*domain.RebalanceTask, error) {
	reb, ok := s.rebalances[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *reb
	return &copied, nil
}

func (s *memRebalanceStore) List(_ context.Context, filter repo.RebalanceFilter) ([]domain.RebalanceTask, error) {
	var rebs []domain.RebalanceTask
	for _, reb := range s.rebalances {
		if filter.OwnerID != nil && reb.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Status != "" && reb.Status != filter.Status {
			continue
		}
		rebs = append(rebs, *reb)
	}
	return rebs, nil
}

func (s *memRebalanceStore) MarkCancelled(_ context.Context, id uuid.UUID) error {
	reb, ok := s.rebalances[id]
	if !ok || reb.IsFinished() {
		return repo.ErrStale
	}
	reb.MarkCancelled()
	return nil
}

type memOrderStore struct {
	orders map[uuid.UUID]*domain.TradeOrder
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: map[uuid.UUID]*domain.TradeOrder{}}
}

func (s *memOrderStore) GetByID(_ context.Context, id uuid.UUID) (*domain.TradeOrder, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *memOrderStore) ListByRebalance(_ context.Context, rebalanceID uuid.UUID) ([]domain.TradeOrder, error) {
	var orders []domain.TradeOrder
	for _, order := range s.orders {
		if order.RebalanceID == rebalanceID {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

func (s *memOrderStore) Approve(_ context.Context, id uuid.UUID) error {
	return s.transition(id, domain.OrderStatusPendingApproval, domain.OrderStatusApproved)
}

func (s *memOrderStore) Reject(_ context.Context, id uuid.UUID) error {
	return s.transition(id, domain.OrderStatusPendingApproval, domain.OrderStatusRejected)
}

func (s *memOrderStore) MarkSubmitted(_ context.Context, id uuid.UUID) error {
	return s.transition(id, domain.OrderStatusApproved, domain.OrderStatusSubmitted)
}

func (s *memOrderStore) transition(id uuid.UUID, from, to domain.OrderStatus) error {
	order, ok := s.orders[id]
	if !ok || order.Status != from {
		return repo.ErrInvalidState
	}
	order.Status = to
	now := time.Now()
	order.DecidedAt = &now
	return nil
}

type memScheduleStore struct {
	schedules map[uuid.UUID]*domain.Schedule
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: map[uuid.UUID]*domain.Schedule{}}
}

func (s *memScheduleStore) Create(_ context.Context, sched *domain.Schedule) error {
	copied := *sched
	s.schedules[sched.ID] = &copied
	return nil
}

func (s *memScheduleStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	sched, ok := s.schedules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *sched
	return &copied, nil
}

func (s *memScheduleStore) List(_ context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error) {
	var schedules []domain.Schedule
	for _, sched := range s.schedules {
		if filter.OwnerID != nil && sched.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		schedules = append(schedules, *sched)
	}
	return schedules, nil
}

func (s *memScheduleStore) Update(_ context.Context, sched *domain.Schedule) error {
	if _, ok := s.schedules[sched.ID]; !ok {
		return repo.ErrNotFound
	}
	copied := *sched
	s.schedules[sched.ID] = &copied
	return nil
}

func (s *memScheduleStore) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	sched, ok := s.schedules[id]
	if !ok {
		return repo.ErrNotFound
	}
	sched.Enabled = enabled
	return nil
}

func (s *memScheduleStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.schedules[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

type fakeNotifier struct {
	invokes []mq.AgentInvokePayload
	pending []uuid.UUID
	err     error
}

func (n *fakeNotifier) PublishAgentInvoke(_ context.Context, payload mq.AgentInvokePayload) error {
	if n.err != nil {
		return n.err
	}
	n.invokes = append(n.invokes, payload)
	return nil
}

func (n *fakeNotifier) PublishRebalancePending(_ context.Context, rebalanceID uuid.UUID) error {
	if n.err != nil {
		return n.err
	}
	n.pending = append(n.pending, rebalanceID)
	return nil
}

type fakeBroker struct {
	submitted []*domain.TradeOrder
	err       error
}

func (b *fakeBroker) Snapshot(_ context.Context, ownerID uuid.UUID) (*broker.PortfolioSnapshot, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &broker.PortfolioSnapshot{OwnerID: ownerID, Positions: map[string]broker.Position{}}, nil
}

func (b *fakeBroker) SubmitOrder(_ context.Context, order *domain.TradeOrder) error {
	if b.err != nil {
		return b.err
	}
	b.submitted = append(b.submitted, order)
	return nil
}

// --- Harness ---

type apiEnv struct {
	tasks      *memTaskStore
	agents     *memAgentStore
	rebalances *memRebalanceStore
	orders     *memOrderStore
	schedules  *memScheduleStore
	notifier   *fakeNotifier
	broker     *fakeBroker
	mux        *http.ServeMux
}

func newAPIEnv() *apiEnv {
	agents := newMemAgentStore()
	env := &apiEnv{
		tasks:      newMemTaskStore(agents),
		agents:     agents,
		rebalances: newMemRebalanceStore(),
		orders:     newMemOrderStore(),
		schedules:  newMemScheduleStore(),
		notifier:   &fakeNotifier{},
		broker:     &fakeBroker{},
	}

	h := NewHandler(Config{
		Tasks:      env.tasks,
		Agents:     env.agents,
		Rebalances: env.rebalances,
		Orders:     env.orders,
		Schedules:  env.schedules,
		Publisher:  env.notifier,
		Broker:     env.broker,
	})

	env.mux = http.NewServeMux()
	h.RegisterRoutes(env.mux)
	return env
}

func (env *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp.Data
}

// seedTask создаёт RUNNING задачу с полным набором записей агентов.
func (env *apiEnv) seedTask(t *testing.T) *domain.AnalysisTask {
	t.Helper()
	task := &domain.AnalysisTask{
		ID:       uuid.New(),
		Ticker:   "AAPL",
		OwnerID:  uuid.New(),
		Status:   domain.TaskStatusRunning,
		Settings: domain.DefaultAgentSettings(),
	}
	if err := env.tasks.Create(context.Background(), task, domain.DefaultPipeline()); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	env.tasks.tasks[task.ID].Status = domain.TaskStatusRunning
	return task
}

func (env *apiEnv) seedOrder(t *testing.T, status domain.OrderStatus) *domain.TradeOrder {
	t.Helper()
	order := &domain.TradeOrder{
		ID:          uuid.New(),
		RebalanceID: uuid.New(),
		OwnerID:     uuid.New(),
		Ticker:      "AAPL",
		Side:        domain.OrderSideBuy,
		Quantity:    10,
		Status:      status,
	}
	env.orders.orders[order.ID] = order
	return order
}

// --- Task endpoints ---

func TestCreateTask_StartsPipeline(t *testing.T) {
	env := newAPIEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{
		Ticker:  "aapl",
		OwnerID: uuid.New(),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeData[TaskResponse](t, rec)
	if resp.Ticker != "AAPL" {
		t.Errorf("ticker = %q, want normalized AAPL", resp.Ticker)
	}
	if resp.Status != string(domain.TaskStatusRunning) {
		t.Errorf("status = %s, want RUNNING", resp.Status)
	}

	if len(env.notifier.invokes) != 1 {
		t.Fatalf("published %d invokes, want 1", len(env.notifier.invokes))
	}
	invoke := env.notifier.invokes[0]
	if invoke.Phase != domain.PhaseAnalysis {
		t.Errorf("first invoke phase = %s, want analysis", invoke.Phase)
	}
	if invoke.Retry.Attempt != 0 || invoke.Retry.Intentional {
		t.Errorf("first invoke envelope = %+v, want attempt 0 non-intentional", invoke.Retry)
	}
}

func TestCreateTask_RequiresTicker(t *testing.T) {
	env := newAPIEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{OwnerID: uuid.New()})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetTask_ReturnsPhases(t *testing.T) {
	env := newAPIEnv()
	task := env.seedTask(t)

	rec := env.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeData[TaskDetailResponse](t, rec)
	if len(resp.Phases) != len(domain.DefaultPipeline()) {
		t.Errorf("phases = %d, want %d", len(resp.Phases), len(domain.DefaultPipeline()))
	}
}

func TestGetTask_NotFound(t *testing.T) {
	env := newAPIEnv()

	rec := env.do(t, http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelTask(t *testing.T) {
	env := newAPIEnv()
	task := env.seedTask(t)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !env.tasks.tasks[task.ID].CancelRequested {
		t.Error("cancel_requested not set in store")
	}

	// Завершённую задачу отменить нельзя.
	env.tasks.tasks[task.ID].Status = domain.TaskStatusCompleted
	rec = env.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("cancel finished task: status = %d, want 422", rec.Code)
	}
}

func TestRetryAgent_PublishesIntentionalInvoke(t *testing.T) {
	env := newAPIEnv()
	task := env.seedTask(t)
	env.agents.set(task.ID, domain.AgentMarket, domain.AgentStatusError, 2)

	rec := env.do(t, http.MethodPost,
		"/api/v1/tasks/"+task.ID.String()+"/agents/market/retry", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if len(env.notifier.invokes) != 1 {
		t.Fatalf("published %d invokes, want 1", len(env.notifier.invokes))
	}
	invoke := env.notifier.invokes[0]
	if invoke.Agent != domain.AgentMarket {
		t.Errorf("agent = %s, want market", invoke.Agent)
	}
	if !invoke.Retry.Intentional {
		t.Error("retry must be intentional")
	}
	if invoke.Retry.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", invoke.Retry.Attempt)
	}
}

func TestRetryAgent_RejectsNonErrorAgent(t *testing.T) {
	env := newAPIEnv()
	task := env.seedTask(t)
	env.agents.set(task.ID, domain.AgentMarket, domain.AgentStatusCompleted, 0)

	rec := env.do(t, http.MethodPost,
		"/api/v1/tasks/"+task.ID.String()+"/agents/market/retry", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if len(env.notifier.invokes) != 0 {
		t.Errorf("published %d invokes, want 0", len(env.notifier.invokes))
	}
}

// --- Rebalance endpoints ---

func TestCreateRebalance(t *testing.T) {
	env := newAPIEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/rebalances", CreateRebalanceRequest{
		OwnerID: uuid.New(),
		Tickers: []string{"aapl", "MSFT", " "},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeData[RebalanceResponse](t, rec)
	if len(resp.Tickers) != 2 || resp.Tickers[0] != "AAPL" || resp.Tickers[1] != "MSFT" {
		t.Errorf("tickers = %v", resp.Tickers)
	}
	if resp.MaxParallel != domain.DefaultMaxParallel {
		t.Errorf("max_parallel = %d, want default %d", resp.MaxParallel, domain.DefaultMaxParallel)
	}
	if resp.Status != string(domain.RebalanceStatusPending) {
		t.Errorf("status = %s, want PENDING", resp.Status)
	}

	if len(env.notifier.pending) != 1 {
		t.Errorf("published %d pending events, want 1", len(env.notifier.pending))
	}
}

func TestCreateRebalance_PublishFailureStillCreates(t *testing.T) {
	env := newAPIEnv()
	env.notifier.err = errors.New("rabbitmq down")

	rec := env.do(t, http.MethodPost, "/api/v1/rebalances", CreateRebalanceRequest{
		OwnerID: uuid.New(),
		Tickers: []string{"AAPL"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 despite publish failure", rec.Code)
	}
	if len(env.rebalances.rebalances) != 1 {
		t.Error("rebalance not stored")
	}
}

func TestCancelRebalance_RequestsTaskCancellation(t *testing.T) {
	env := newAPIEnv()

	reb := &domain.RebalanceTask{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Status:  domain.RebalanceStatusRunning,
		Tickers: []string{"AAPL", "MSFT"},
	}
	env.rebalances.rebalances[reb.ID] = reb

	running := &domain.AnalysisTask{
		ID: uuid.New(), Ticker: "AAPL", OwnerID: reb.OwnerID,
		RebalanceID: &reb.ID, Status: domain.TaskStatusRunning,
	}
	done := &domain.AnalysisTask{
		ID: uuid.New(), Ticker: "MSFT", OwnerID: reb.OwnerID,
		RebalanceID: &reb.ID, Status: domain.TaskStatusCompleted,
	}
	env.tasks.Create(context.Background(), running, domain.DefaultPipeline())
	env.tasks.Create(context.Background(), done, domain.DefaultPipeline())

	rec := env.do(t, http.MethodPost, "/api/v1/rebalances/"+reb.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if env.rebalances.rebalances[reb.ID].Status != domain.RebalanceStatusCancelled {
		t.Errorf("rebalance status = %s, want CANCELLED", env.rebalances.rebalances[reb.ID].Status)
	}
	if !env.tasks.tasks[running.ID].CancelRequested {
		t.Error("running task: cancel not requested")
	}
	if env.tasks.tasks[done.ID].CancelRequested {
		t.Error("finished task must not be touched")
	}
}

// --- Order endpoints ---

func TestApproveOrder(t *testing.T) {
	env := newAPIEnv()
	order := env.seedOrder(t, domain.OrderStatusPendingApproval)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeData[OrderResponse](t, rec)
	if resp.Status != string(domain.OrderStatusApproved) {
		t.Errorf("status = %s, want APPROVED", resp.Status)
	}

	// Повторное решение по той же заявке отклоняется.
	rec = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/reject", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("re-decide: status = %d, want 422", rec.Code)
	}
}

func TestSubmitOrder(t *testing.T) {
	env := newAPIEnv()
	order := env.seedOrder(t, domain.OrderStatusApproved)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/submit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if len(env.broker.submitted) != 1 {
		t.Fatalf("broker received %d orders, want 1", len(env.broker.submitted))
	}
	if env.orders.orders[order.ID].Status != domain.OrderStatusSubmitted {
		t.Errorf("order status = %s, want SUBMITTED", env.orders.orders[order.ID].Status)
	}
}

func TestSubmitOrder_BrokerOutage(t *testing.T) {
	env := newAPIEnv()
	order := env.seedOrder(t, domain.OrderStatusApproved)
	env.broker.err = broker.ErrUnavailable

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/submit", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if env.orders.orders[order.ID].Status != domain.OrderStatusApproved {
		t.Errorf("order status = %s, must stay APPROVED", env.orders.orders[order.ID].Status)
	}
}

func TestSubmitOrder_RequiresApproval(t *testing.T) {
	env := newAPIEnv()
	order := env.seedOrder(t, domain.OrderStatusPendingApproval)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/submit", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if len(env.broker.submitted) != 0 {
		t.Error("unapproved order must not reach broker")
	}
}

// --- Schedule endpoints ---

func TestCreateSchedule_ComputesNextDue(t *testing.T) {
	env := newAPIEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		OwnerID:  uuid.New(),
		Name:     "weekly",
		CronExpr: "0 9 * * 1",
		Enabled:  true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeData[ScheduleResponse](t, rec)
	if resp.NextDueAt == nil || !resp.NextDueAt.After(time.Now()) {
		t.Errorf("next_due_at = %v, want future time", resp.NextDueAt)
	}
	if resp.Timezone != "UTC" {
		t.Errorf("timezone = %s, want UTC default", resp.Timezone)
	}
}

func TestCreateSchedule_RejectsInvalidCron(t *testing.T) {
	env := newAPIEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		OwnerID:  uuid.New(),
		Name:     "broken",
		CronExpr: "not a cron",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSetScheduleEnabled(t *testing.T) {
	env := newAPIEnv()

	sched := &domain.Schedule{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		Name:        "daily",
		IntervalSec: 86400,
		Timezone:    "UTC",
		Enabled:     true,
	}
	env.schedules.schedules[sched.ID] = sched

	rec := env.do(t, http.MethodPut, "/api/v1/schedules/"+sched.ID.String()+"/enabled",
		SetEnabledRequest{Enabled: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeData[ScheduleResponse](t, rec)
	if resp.Enabled {
		t.Error("schedule still enabled")
	}
}
