package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovri/Consilium/internal/domain"
)

// TaskRepo — репозиторий задач анализа.
//
// Задача создаётся вместе с полным набором записей агентов (PENDING)
// в одной транзакции, чтобы конвейер никогда не видел задачу без
// инициализированных агентов.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, ticker, owner_id, rebalance_id, status, cancel_requested,
	       settings, error, error_kind, started_at, finished_at, created_at`

// Create создаёт задачу и записи агентов по конфигурации конвейера.
func (r *TaskRepo) Create(ctx context.Context, task *domain.AnalysisTask, pipeline domain.Pipeline) error {
	settingsJSON, err := json.Marshal(task.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO analysis_tasks (id, ticker, owner_id, rebalance_id, status,
		                            cancel_requested, settings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, query,
		task.ID,
		task.Ticker,
		task.OwnerID,
		task.RebalanceID,
		task.Status,
		task.CancelRequested,
		settingsJSON,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	agentQuery := `
		INSERT INTO agent_runs (task_id, phase, agent, status, attempt, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`
	now := time.Now()
	for _, phase := range pipeline {
		for _, agent := range phase.AllAgents() {
			if _, err := tx.Exec(ctx, agentQuery, task.ID, phase.Name, agent, domain.AgentStatusPending, now); err != nil {
				return fmt.Errorf("insert agent run %s: %w", agent, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// GetByID возвращает задачу по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1`
	return r.scanTask(r.pool.QueryRow(ctx, query, id))
}

// TaskFilter — фильтр списка задач.
type TaskFilter struct {
	OwnerID     *uuid.UUID
	RebalanceID *uuid.UUID
	Status      domain.TaskStatus
	Limit       int
	Offset      int
}

// List возвращает список задач с фильтрацией.
func (r *TaskRepo) List(ctx context.Context, filter TaskFilter) ([]domain.AnalysisTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE ($1::uuid IS NULL OR owner_id = $1)
		  AND ($2::uuid IS NULL OR rebalance_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, query,
		filter.OwnerID,
		filter.RebalanceID,
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListPendingByRebalance возвращает PENDING задачи ребалансировки
// в порядке создания — очередь ожидания fan-out'а.
func (r *TaskRepo) ListPendingByRebalance(ctx context.Context, rebalanceID uuid.UUID, limit int) ([]domain.AnalysisTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE rebalance_id = $1 AND status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, rebalanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Counts возвращает счётчики задач ребалансировки одним запросом.
// Fan-in всегда берёт истинные счётчики отсюда, не из памяти.
func (r *TaskRepo) Counts(ctx context.Context, rebalanceID uuid.UUID) (domain.TaskCounts, error) {
	var c domain.TaskCounts
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'COMPLETED'),
		       COUNT(*) FILTER (WHERE status = 'ERROR'),
		       COUNT(*) FILTER (WHERE status = 'CANCELLED'),
		       COUNT(*) FILTER (WHERE status = 'RUNNING'),
		       COUNT(*) FILTER (WHERE status = 'PENDING')
		FROM analysis_tasks
		WHERE rebalance_id = $1
	`, rebalanceID).Scan(&c.Total, &c.Completed, &c.Failed, &c.Cancelled, &c.Running, &c.Pending)
	if err != nil {
		return domain.TaskCounts{}, fmt.Errorf("count tasks: %w", err)
	}
	return c, nil
}

// MarkRunning переводит задачу PENDING → RUNNING (условная запись).
func (r *TaskRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'RUNNING', started_at = NOW()
		WHERE id = $1 AND status = 'PENDING' AND NOT cancel_requested
	`
	return r.execCAS(ctx, query, id)
}

// MarkCompleted переводит задачу RUNNING → COMPLETED.
func (r *TaskRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'COMPLETED', finished_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`
	return r.execCAS(ctx, query, id)
}

// MarkError переводит незавершённую задачу в ERROR.
func (r *TaskRepo) MarkError(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'ERROR', error_kind = $2, error = $3, finished_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	result, err := r.pool.Exec(ctx, query, id, kind, msg)
	if err != nil {
		return fmt.Errorf("mark task error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// MarkCancelled переводит незавершённую задачу в CANCELLED.
func (r *TaskRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'CANCELLED', error_kind = 'CANCELLED', finished_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	return r.execCAS(ctx, query, id)
}

// RequestCancel выставляет флаг кооперативной отмены.
// Агент, уже выполняющийся в этот момент, доработает; его результат
// дальше по конвейеру не пойдёт.
func (r *TaskRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE analysis_tasks
		SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	return r.execCAS(ctx, query, id)
}

// ListStalled возвращает RUNNING задачи без единого RUNNING агента,
// у которых агенты не обновлялись дольше staleAfter. Такие задачи
// потеряли событие передачи хода и чинятся координатором.
func (r *TaskRepo) ListStalled(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.AnalysisTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM analysis_tasks t
		WHERE t.status = 'RUNNING'
		  AND NOT EXISTS (
		        SELECT 1 FROM agent_runs a
		        WHERE a.task_id = t.id AND a.status = 'RUNNING'
		  )
		  AND NOT EXISTS (
		        SELECT 1 FROM agent_runs a
		        WHERE a.task_id = t.id AND a.updated_at > NOW() - $1::interval
		  )
		ORDER BY t.created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, staleAfter.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// --- Helpers ---

func (r *TaskRepo) execCAS(ctx context.Context, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (r *TaskRepo) scanTask(row pgx.Row) (*domain.AnalysisTask, error) {
	task, err := scanTaskRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

func scanTaskRow(row pgx.Row) (*domain.AnalysisTask, error) {
	var task domain.AnalysisTask
	var settingsJSON []byte
	var taskError, errorKind *string

	err := row.Scan(
		&task.ID,
		&task.Ticker,
		&task.OwnerID,
		&task.RebalanceID,
		&task.Status,
		&task.CancelRequested,
		&settingsJSON,
		&taskError,
		&errorKind,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if settingsJSON != nil {
		if err := json.Unmarshal(settingsJSON, &task.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	if taskError != nil {
		task.Error = *taskError
	}
	if errorKind != nil {
		task.ErrorKind = domain.ErrorKind(*errorKind)
	}

	return &task, nil
}

func scanTasks(rows pgx.Rows) ([]domain.AnalysisTask, error) {
	var tasks []domain.AnalysisTask
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
