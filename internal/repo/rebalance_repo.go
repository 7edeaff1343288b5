package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovri/Consilium/internal/domain"
)

// RebalanceRepo — репозиторий ребалансировок.
type RebalanceRepo struct {
	pool *pgxpool.Pool
}

// NewRebalanceRepo создаёт новый RebalanceRepo.
func NewRebalanceRepo(pool *pgxpool.Pool) *RebalanceRepo {
	return &RebalanceRepo{pool: pool}
}

const rebalanceColumns = `id, owner_id, status, tickers, max_parallel, min_success_fraction,
	       settings, build_status, idempotency_key, error, error_kind, started_at, finished_at, created_at`

// Create создаёт новую ребалансировку.
func (r *RebalanceRepo) Create(ctx context.Context, reb *domain.RebalanceTask) error {
	settingsJSON, err := json.Marshal(reb.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	query := `
		INSERT INTO rebalance_tasks (id, owner_id, status, tickers, max_parallel,
		                             min_success_fraction, settings, build_status,
		                             idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		reb.ID,
		reb.OwnerID,
		reb.Status,
		reb.Tickers,
		reb.MaxParallel,
		reb.MinSuccessFraction,
		settingsJSON,
		reb.BuildStatus,
		nullString(reb.IdempotencyKey),
		reb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rebalance: %w", err)
	}
	return nil
}

// GetByID возвращает ребалансировку по ID.
func (r *RebalanceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RebalanceTask, error) {
	query := `SELECT ` + rebalanceColumns + ` FROM rebalance_tasks WHERE id = $1`
	reb, err := scanRebalanceRow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reb, err
}

// GetByIdempotencyKey возвращает ребалансировку по ключу дедупликации.
// Используется планировщиком, чтобы не создать дубликат за один
// момент срабатывания расписания.
func (r *RebalanceRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.RebalanceTask, error) {
	query := `SELECT ` + rebalanceColumns + ` FROM rebalance_tasks WHERE idempotency_key = $1`
	reb, err := scanRebalanceRow(r.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reb, err
}

// RebalanceFilter — фильтр списка ребалансировок.
type RebalanceFilter struct {
	OwnerID *uuid.UUID
	Status  domain.RebalanceStatus
	Limit   int
	Offset  int
}

// List возвращает список ребалансировок с фильтрацией.
func (r *RebalanceRepo) List(ctx context.Context, filter RebalanceFilter) ([]domain.RebalanceTask, error) {
	query := `
		SELECT ` + rebalanceColumns + `
		FROM rebalance_tasks
		WHERE ($1::uuid IS NULL OR owner_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, query,
		filter.OwnerID,
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list rebalances: %w", err)
	}
	defer rows.Close()

	var rebs []domain.RebalanceTask
	for rows.Next() {
		reb, err := scanRebalanceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rebalance: %w", err)
		}
		rebs = append(rebs, *reb)
	}
	return rebs, rows.Err()
}

// ListUnfinished возвращает незавершённые ребалансировки —
// кандидаты на сверку координатором.
func (r *RebalanceRepo) ListUnfinished(ctx context.Context, limit int) ([]domain.RebalanceTask, error) {
	query := `
		SELECT ` + rebalanceColumns + `
		FROM rebalance_tasks
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished rebalances: %w", err)
	}
	defer rows.Close()

	var rebs []domain.RebalanceTask
	for rows.Next() {
		reb, err := scanRebalanceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rebalance: %w", err)
		}
		rebs = append(rebs, *reb)
	}
	return rebs, rows.Err()
}

// MarkRunning переводит ребалансировку PENDING → RUNNING.
func (r *RebalanceRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE rebalance_tasks
		SET status = 'RUNNING', started_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	return r.execCAS(ctx, "mark rebalance running", query, id)
}

// MarkCompleted переводит ребалансировку RUNNING → COMPLETED.
func (r *RebalanceRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE rebalance_tasks
		SET status = 'COMPLETED', finished_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`
	return r.execCAS(ctx, "mark rebalance completed", query, id)
}

// MarkError переводит незавершённую ребалансировку в ERROR.
// Недобор кворума терминален и никогда не понижается молча.
func (r *RebalanceRepo) MarkError(ctx context.Context, id uuid.UUID, kind domain.ErrorKind, msg string) error {
	query := `
		UPDATE rebalance_tasks
		SET status = 'ERROR', error_kind = $2, error = $3, finished_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	return r.execCAS(ctx, "mark rebalance error", query, id, kind, msg)
}

// MarkCancelled переводит незавершённую ребалансировку в CANCELLED.
func (r *RebalanceRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE rebalance_tasks
		SET status = 'CANCELLED', error_kind = 'CANCELLED', finished_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	return r.execCAS(ctx, "mark rebalance cancelled", query, id)
}

// ClaimBuild атомарно захватывает право на запуск построения портфеля
// (NONE → INVOKED). Гарантирует, что downstream-шаг будет вызван один
// раз, даже если кворум заметили несколько конкурентных fan-in'ов.
func (r *RebalanceRepo) ClaimBuild(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE rebalance_tasks
		SET build_status = 'INVOKED'
		WHERE id = $1 AND build_status = 'NONE'
	`
	return r.execCAS(ctx, "claim build", query, id)
}

// SetBuildStatus обновляет статус построения портфеля.
func (r *RebalanceRepo) SetBuildStatus(ctx context.Context, id uuid.UUID, status domain.BuildStatus) error {
	query := `UPDATE rebalance_tasks SET build_status = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("set build status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *RebalanceRepo) execCAS(ctx context.Context, op, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func scanRebalanceRow(row pgx.Row) (*domain.RebalanceTask, error) {
	var reb domain.RebalanceTask
	var settingsJSON []byte
	var idempotencyKey, rebError, errorKind *string

	err := row.Scan(
		&reb.ID,
		&reb.OwnerID,
		&reb.Status,
		&reb.Tickers,
		&reb.MaxParallel,
		&reb.MinSuccessFraction,
		&settingsJSON,
		&reb.BuildStatus,
		&idempotencyKey,
		&rebError,
		&errorKind,
		&reb.StartedAt,
		&reb.FinishedAt,
		&reb.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if settingsJSON != nil {
		if err := json.Unmarshal(settingsJSON, &reb.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	if idempotencyKey != nil {
		reb.IdempotencyKey = *idempotencyKey
	}
	if rebError != nil {
		reb.Error = *rebError
	}
	if errorKind != nil {
		reb.ErrorKind = domain.ErrorKind(*errorKind)
	}

	return &reb, nil
}
