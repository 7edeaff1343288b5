package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderSide — направление торговой заявки.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
	OrderSideHold OrderSide = "HOLD"
)

// TradeOrder — торговая заявка, созданная шагом построения портфеля.
//
// Заявки создаются в PENDING_APPROVAL; решение approve/reject —
// внешний переход состояния (пользователь), не часть оркестрации.
// Переходы условные: одобрить или отклонить можно только заявку
// в PENDING_APPROVAL.
type TradeOrder struct {
	// ID — уникальный идентификатор заявки.
	ID uuid.UUID `json:"id"`

	// RebalanceID — ребалансировка, породившая заявку.
	RebalanceID uuid.UUID `json:"rebalance_id"`

	// OwnerID — владелец.
	OwnerID uuid.UUID `json:"owner_id"`

	// Ticker — тикер бумаги.
	Ticker string `json:"ticker"`

	// Side — направление: BUY, SELL или HOLD.
	Side OrderSide `json:"side"`

	// Quantity — количество бумаг. 0 для HOLD.
	Quantity int `json:"quantity"`

	// Rationale — итоговая рекомендация конвейера, обосновывающая заявку.
	Rationale string `json:"rationale,omitempty"`

	// Status — текущий статус заявки.
	Status OrderStatus `json:"status"`

	// DecidedAt — время решения approve/reject.
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}
