package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovri/Consilium/internal/domain"
)

// AgentRepo — репозиторий записей агентов.
//
// Все переходы статуса — условные записи. Проигравший CAS получает
// ErrStale и отбрасывает свой переход: именно так разрешаются гонки
// двух конкурентных вызовов одного агента.
type AgentRepo struct {
	pool *pgxpool.Pool
}

// NewAgentRepo создаёт новый AgentRepo.
func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

const agentColumns = `task_id, phase, agent, status, attempt, output, output_at,
	       error, error_kind, started_at, finished_at, updated_at`

// Get возвращает запись агента.
func (r *AgentRepo) Get(ctx context.Context, taskID uuid.UUID, agent string) (*domain.AgentRun, error) {
	query := `SELECT ` + agentColumns + ` FROM agent_runs WHERE task_id = $1 AND agent = $2`
	run, err := scanAgentRow(r.pool.QueryRow(ctx, query, taskID, agent))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListByTask возвращает все записи агентов задачи.
func (r *AgentRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.AgentRun, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agent_runs
		WHERE task_id = $1
		ORDER BY phase, agent
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.AgentRun
	for rows.Next() {
		run, err := scanAgentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ClaimRunning атомарно захватывает агента под выполнение:
// PENDING → RUNNING для первого вызова, ERROR → RUNNING для
// намеренного retry. Из двух конкурентных вызовов переход пройдёт
// ровно у одного; второй получит ErrStale.
func (r *AgentRepo) ClaimRunning(ctx context.Context, taskID uuid.UUID, agent string, attempt int, allowError bool) error {
	from := []string{string(domain.AgentStatusPending)}
	if allowError {
		from = append(from, string(domain.AgentStatusError))
	}
	query := `
		UPDATE agent_runs
		SET status = 'RUNNING', attempt = $3, started_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND agent = $2 AND status = ANY($4)
	`
	return r.execCAS(ctx, "claim agent", query, taskID, agent, attempt, from)
}

// MarkCompleted записывает insight и переводит агента RUNNING → COMPLETED.
// Единственный путь записи Output: результат пишется ровно один раз.
func (r *AgentRepo) MarkCompleted(ctx context.Context, taskID uuid.UUID, agent, output string) error {
	query := `
		UPDATE agent_runs
		SET status = 'COMPLETED', output = $3, output_at = NOW(),
		    error = NULL, error_kind = NULL,
		    finished_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND agent = $2 AND status = 'RUNNING'
	`
	return r.execCAS(ctx, "complete agent", query, taskID, agent, output)
}

// MarkError переводит агента RUNNING → ERROR с причиной.
func (r *AgentRepo) MarkError(ctx context.Context, taskID uuid.UUID, agent string, kind domain.ErrorKind, msg string) error {
	query := `
		UPDATE agent_runs
		SET status = 'ERROR', error_kind = $3, error = $4,
		    finished_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND agent = $2 AND status = 'RUNNING'
	`
	return r.execCAS(ctx, "fail agent", query, taskID, agent, kind, msg)
}

// MarkDispatchFailed переводит агента PENDING → ERROR.
//
// Используется секвенсером, когда выбранного агента не удалось даже
// запустить (transport). Откат именно в ERROR, а не обратно в PENDING:
// перезапуск после сбоя доставки разрешён только намеренному retry.
func (r *AgentRepo) MarkDispatchFailed(ctx context.Context, taskID uuid.UUID, agent, msg string) error {
	query := `
		UPDATE agent_runs
		SET status = 'ERROR', error_kind = 'TRANSPORT', error = $3,
		    finished_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND agent = $2 AND status IN ('PENDING', 'ERROR')
	`
	return r.execCAS(ctx, "mark dispatch failed", query, taskID, agent, msg)
}

// ListStaleRunning возвращает агентов, зависших в RUNNING дольше
// staleAfter: воркер упал посреди попытки и не записал исход.
// Координатор переводит таких в ERROR/TIMEOUT и двигает фазу дальше.
func (r *AgentRepo) ListStaleRunning(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.AgentRun, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agent_runs
		WHERE status = 'RUNNING' AND updated_at < NOW() - $1::interval
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, staleAfter.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale agent runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.AgentRun
	for rows.Next() {
		run, err := scanAgentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// MarkSkipped переводит агента PENDING → SKIPPED.
func (r *AgentRepo) MarkSkipped(ctx context.Context, taskID uuid.UUID, agent string) error {
	query := `
		UPDATE agent_runs
		SET status = 'SKIPPED', finished_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND agent = $2 AND status = 'PENDING'
	`
	return r.execCAS(ctx, "skip agent", query, taskID, agent)
}

// --- Helpers ---

func (r *AgentRepo) execCAS(ctx context.Context, op, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func scanAgentRow(row pgx.Row) (*domain.AgentRun, error) {
	var run domain.AgentRun
	var output, runError, errorKind *string

	err := row.Scan(
		&run.TaskID,
		&run.Phase,
		&run.Agent,
		&run.Status,
		&run.Attempt,
		&output,
		&run.OutputAt,
		&runError,
		&errorKind,
		&run.StartedAt,
		&run.FinishedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if output != nil {
		run.Output = *output
	}
	if runError != nil {
		run.Error = *runError
	}
	if errorKind != nil {
		run.ErrorKind = domain.ErrorKind(*errorKind)
	}

	return &run, nil
}
