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

// ScheduleRepo — репозиторий расписаний ребалансировок.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

const scheduleColumns = `id, owner_id, name, cron_expr, interval_sec, timezone, enabled,
	       tickers, max_parallel, min_success_fraction,
	       next_due_at, last_run_at, last_rebalance_id, created_at, updated_at`

// Create создаёт новый schedule.
func (r *ScheduleRepo) Create(ctx context.Context, schedule *domain.Schedule) error {
	query := `
		INSERT INTO rebalance_schedules (id, owner_id, name, cron_expr, interval_sec,
		                                 timezone, enabled, tickers, max_parallel,
		                                 min_success_fraction, next_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		schedule.ID,
		schedule.OwnerID,
		nullString(schedule.Name),
		nullString(schedule.CronExpr),
		nullInt(schedule.IntervalSec),
		schedule.Timezone,
		schedule.Enabled,
		schedule.Tickers,
		schedule.MaxParallel,
		schedule.MinSuccessFraction,
		schedule.NextDueAt,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM rebalance_schedules WHERE id = $1`
	return r.scanSchedule(r.pool.QueryRow(ctx, query, id))
}

// ScheduleFilter — фильтр списка schedules.
type ScheduleFilter struct {
	OwnerID *uuid.UUID
	Enabled *bool
	Limit   int
	Offset  int
}

// List возвращает список schedules с фильтрацией.
func (r *ScheduleRepo) List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM rebalance_schedules
		WHERE ($1::uuid IS NULL OR owner_id = $1)
		  AND ($2::boolean IS NULL OR enabled = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, query,
		filter.OwnerID,
		filter.Enabled,
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	return r.scanSchedules(rows)
}

// ListDue возвращает schedules, готовые к выполнению.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM rebalance_schedules
		WHERE enabled = true
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	return r.scanSchedules(rows)
}

// Update обновляет schedule.
func (r *ScheduleRepo) Update(ctx context.Context, schedule *domain.Schedule) error {
	query := `
		UPDATE rebalance_schedules
		SET name = $2, cron_expr = $3, interval_sec = $4, timezone = $5,
		    enabled = $6, tickers = $7, max_parallel = $8, min_success_fraction = $9,
		    next_due_at = $10, last_run_at = $11, last_rebalance_id = $12, updated_at = $13
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		schedule.ID,
		nullString(schedule.Name),
		nullString(schedule.CronExpr),
		nullInt(schedule.IntervalSec),
		schedule.Timezone,
		schedule.Enabled,
		schedule.Tickers,
		schedule.MaxParallel,
		schedule.MinSuccessFraction,
		schedule.NextDueAt,
		schedule.LastRunAt,
		schedule.LastRebalanceID,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled включает или выключает schedule.
func (r *ScheduleRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `UPDATE rebalance_schedules SET enabled = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет schedule.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM rebalance_schedules WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *ScheduleRepo) scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	schedule, err := scanScheduleRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return schedule, err
}

func (r *ScheduleRepo) scanSchedules(rows pgx.Rows) ([]domain.Schedule, error) {
	var schedules []domain.Schedule
	for rows.Next() {
		schedule, err := scanScheduleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

func scanScheduleRow(row pgx.Row) (*domain.Schedule, error) {
	var schedule domain.Schedule
	var name, cronExpr *string
	var intervalSec *int

	err := row.Scan(
		&schedule.ID,
		&schedule.OwnerID,
		&name,
		&cronExpr,
		&intervalSec,
		&schedule.Timezone,
		&schedule.Enabled,
		&schedule.Tickers,
		&schedule.MaxParallel,
		&schedule.MinSuccessFraction,
		&schedule.NextDueAt,
		&schedule.LastRunAt,
		&schedule.LastRebalanceID,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if name != nil {
		schedule.Name = *name
	}
	if cronExpr != nil {
		schedule.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		schedule.IntervalSec = *intervalSec
	}

	return &schedule, nil
}

// nullInt возвращает nil для нулевого значения (для NULL в БД).
func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
