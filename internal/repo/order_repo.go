package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkovri/Consilium/internal/domain"
)

// OrderRepo — репозиторий торговых заявок.
type OrderRepo struct {
	pool *pgxpool.Pool
}

// NewOrderRepo создаёт новый OrderRepo.
func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, rebalance_id, owner_id, ticker, side, quantity,
	       rationale, status, decided_at, created_at`

// Create создаёт новую заявку.
func (r *OrderRepo) Create(ctx context.Context, order *domain.TradeOrder) error {
	query := `
		INSERT INTO trade_orders (id, rebalance_id, owner_id, ticker, side,
		                          quantity, rationale, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		order.ID,
		order.RebalanceID,
		order.OwnerID,
		order.Ticker,
		order.Side,
		order.Quantity,
		nullString(order.Rationale),
		order.Status,
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID возвращает заявку по ID.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TradeOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM trade_orders WHERE id = $1`
	order, err := scanOrderRow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

// ListByRebalance возвращает заявки ребалансировки.
func (r *OrderRepo) ListByRebalance(ctx context.Context, rebalanceID uuid.UUID) ([]domain.TradeOrder, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM trade_orders
		WHERE rebalance_id = $1
		ORDER BY ticker ASC
	`
	rows, err := r.pool.Query(ctx, query, rebalanceID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.TradeOrder
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// --- Approve/reject workflow ---

// Approve одобряет заявку (PENDING_APPROVAL → APPROVED).
func (r *OrderRepo) Approve(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE trade_orders
		SET status = 'APPROVED', decided_at = NOW()
		WHERE id = $1 AND status = 'PENDING_APPROVAL'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("approve order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Reject отклоняет заявку (PENDING_APPROVAL → REJECTED).
func (r *OrderRepo) Reject(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE trade_orders
		SET status = 'REJECTED', decided_at = NOW()
		WHERE id = $1 AND status = 'PENDING_APPROVAL'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("reject order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkSubmitted отмечает заявку как отправленную брокеру (APPROVED → SUBMITTED).
func (r *OrderRepo) MarkSubmitted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE trade_orders
		SET status = 'SUBMITTED'
		WHERE id = $1 AND status = 'APPROVED'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark order submitted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// --- Helpers ---

func scanOrderRow(row pgx.Row) (*domain.TradeOrder, error) {
	var order domain.TradeOrder
	var rationale *string

	err := row.Scan(
		&order.ID,
		&order.RebalanceID,
		&order.OwnerID,
		&order.Ticker,
		&order.Side,
		&order.Quantity,
		&rationale,
		&order.Status,
		&order.DecidedAt,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rationale != nil {
		order.Rationale = *rationale
	}

	return &order, nil
}
