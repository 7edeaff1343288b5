package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/pipeline"
	"github.com/mkovri/Consilium/internal/repo"
)

// TaskStore — операции хранилища задач, нужные API.
// Реализуется repo.TaskRepo.
type TaskStore interface {
	Create(ctx context.Context, task *domain.AnalysisTask, p domain.Pipeline) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)
	List(ctx context.Context, filter repo.TaskFilter) ([]domain.AnalysisTask, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	RequestCancel(ctx context.Context, id uuid.UUID) error
}

// AgentStore — операции хранилища агентов, нужные API.
// Реализуется repo.AgentRepo.
type AgentStore interface {
	pipeline.AgentStore
	Get(ctx context.Context, taskID uuid.UUID, agent string) (*domain.AgentRun, error)
}

// RebalanceStore — операции хранилища ребалансировок, нужные API.
// Реализуется repo.RebalanceRepo.
type RebalanceStore interface {
	Create(ctx context.Context, reb *domain.RebalanceTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RebalanceTask, error)
	List(ctx context.Context, filter repo.RebalanceFilter) ([]domain.RebalanceTask, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
}

// OrderStore — операции хранилища заявок, нужные API.
// Реализуется repo.OrderRepo.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TradeOrder, error)
	ListByRebalance(ctx context.Context, rebalanceID uuid.UUID) ([]domain.TradeOrder, error)
	Approve(ctx context.Context, id uuid.UUID) error
	Reject(ctx context.Context, id uuid.UUID) error
	MarkSubmitted(ctx context.Context, id uuid.UUID) error
}

// ScheduleStore — операции хранилища расписаний, нужные API.
// Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	Create(ctx context.Context, sched *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, sched *domain.Schedule) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Notifier — публикация событий оркестрации. Реализуется mq.Publisher.
type Notifier interface {
	pipeline.Invoker
	PublishRebalancePending(ctx context.Context, rebalanceID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	tasks      TaskStore
	agents     AgentStore
	rebalances RebalanceStore
	orders     OrderStore
	schedules  ScheduleStore
	publisher  Notifier
	broker     broker.Client
	sequencer  *pipeline.Sequencer
	pipeline   domain.Pipeline
	logger     *slog.Logger
	now        func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	Tasks      TaskStore
	Agents     AgentStore
	Rebalances RebalanceStore
	Orders     OrderStore
	Schedules  ScheduleStore

	// Publisher — события оркестрации. Без него создание задач и
	// ребалансировок опирается на polling координатора.
	Publisher Notifier

	// Broker — клиент брокерского API для отправки одобренных заявок.
	Broker broker.Client

	// Pipeline — конфигурация конвейера (default: domain.DefaultPipeline).
	Pipeline domain.Pipeline

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := cfg.Pipeline
	if p == nil {
		p = domain.DefaultPipeline()
	}

	var seq *pipeline.Sequencer
	if cfg.Publisher != nil {
		seq = pipeline.NewSequencer(cfg.Agents, cfg.Publisher, p, logger)
	}

	return &Handler{
		tasks:      cfg.Tasks,
		agents:     cfg.Agents,
		rebalances: cfg.Rebalances,
		orders:     cfg.Orders,
		schedules:  cfg.Schedules,
		publisher:  cfg.Publisher,
		broker:     cfg.Broker,
		sequencer:  seq,
		pipeline:   p,
		logger:     logger,
		now:        time.Now,
	}
}
