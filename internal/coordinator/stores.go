package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/pipeline"
	"github.com/mkovri/Consilium/internal/repo"
)

// TaskStore — операции над задачами анализа, нужные координатору.
// Реализуется repo.TaskRepo.
type TaskStore interface {
	Create(ctx context.Context, task *domain.AnalysisTask, p domain.Pipeline) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error)
	List(ctx context.Context, filter repo.TaskFilter) ([]domain.AnalysisTask, error)
	ListPendingByRebalance(ctx context.Context, rebalanceID uuid.UUID, limit int) ([]domain.AnalysisTask, error)

	// Counts — истинные счётчики задач ребалансировки. Fan-in всегда
	// пересчитывает их отсюда, никогда не доверяя памяти процесса.
	Counts(ctx context.Context, rebalanceID uuid.UUID) (domain.TaskCounts, error)

	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkError(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	// ListStalled — RUNNING задачи, потерявшие событие передачи хода.
	ListStalled(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.AnalysisTask, error)
}

// AgentStore — операции над записями агентов, нужные координатору.
// Реализуется repo.AgentRepo.
type AgentStore interface {
	pipeline.AgentStore

	Get(ctx context.Context, taskID uuid.UUID, agent string) (*domain.AgentRun, error)
	MarkSkipped(ctx context.Context, taskID uuid.UUID, agent string) error

	// ListStaleRunning — агенты, зависшие в RUNNING после падения воркера.
	ListStaleRunning(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.AgentRun, error)
}

// RebalanceStore — операции над ребалансировками.
// Реализуется repo.RebalanceRepo.
type RebalanceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RebalanceTask, error)
	ListUnfinished(ctx context.Context, limit int) ([]domain.RebalanceTask, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkError(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error

	// ClaimBuild — условный захват права на построение портфеля
	// (NONE → INVOKED). Гарантирует однократный запуск downstream-шага.
	ClaimBuild(ctx context.Context, id uuid.UUID) error
	SetBuildStatus(ctx context.Context, id uuid.UUID, status domain.BuildStatus) error
}

// OrderStore — операции над торговыми заявками.
// Реализуется repo.OrderRepo.
type OrderStore interface {
	Create(ctx context.Context, order *domain.TradeOrder) error
	ListByRebalance(ctx context.Context, rebalanceID uuid.UUID) ([]domain.TradeOrder, error)
}
