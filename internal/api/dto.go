package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
)

// Task DTOs

// CreateTaskRequest — запрос на создание задачи анализа одного тикера.
type CreateTaskRequest struct {
	Ticker   string                `json:"ticker"`
	OwnerID  uuid.UUID             `json:"owner_id"`
	Settings *domain.AgentSettings `json:"settings,omitempty"`
}

// TaskResponse — ответ с задачей анализа.
type TaskResponse struct {
	ID              uuid.UUID            `json:"id"`
	Ticker          string               `json:"ticker"`
	OwnerID         uuid.UUID            `json:"owner_id"`
	RebalanceID     *uuid.UUID           `json:"rebalance_id,omitempty"`
	Status          string               `json:"status"`
	CancelRequested bool                 `json:"cancel_requested"`
	Settings        domain.AgentSettings `json:"settings"`
	Error           string               `json:"error,omitempty"`
	ErrorKind       string               `json:"error_kind,omitempty"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// TaskFromDomain конвертирует domain.AnalysisTask в TaskResponse.
func TaskFromDomain(t domain.AnalysisTask) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		Ticker:          t.Ticker,
		OwnerID:         t.OwnerID,
		RebalanceID:     t.RebalanceID,
		Status:          string(t.Status),
		CancelRequested: t.CancelRequested,
		Settings:        t.Settings,
		Error:           t.Error,
		ErrorKind:       string(t.ErrorKind),
		StartedAt:       t.StartedAt,
		FinishedAt:      t.FinishedAt,
		CreatedAt:       t.CreatedAt,
	}
}

// TaskDetailResponse — задача вместе с состоянием фаз конвейера.
type TaskDetailResponse struct {
	TaskResponse
	Phases []domain.PhaseRecord `json:"phases"`
}

// Rebalance DTOs

// CreateRebalanceRequest — запрос на создание ребалансировки.
type CreateRebalanceRequest struct {
	OwnerID            uuid.UUID             `json:"owner_id"`
	Tickers            []string              `json:"tickers"`
	MaxParallel        int                   `json:"max_parallel,omitempty"`
	MinSuccessFraction float64               `json:"min_success_fraction,omitempty"`
	Settings           *domain.AgentSettings `json:"settings,omitempty"`
}

// RebalanceResponse — ответ с ребалансировкой.
type RebalanceResponse struct {
	ID                 uuid.UUID            `json:"id"`
	OwnerID            uuid.UUID            `json:"owner_id"`
	Status             string               `json:"status"`
	Tickers            []string             `json:"tickers"`
	MaxParallel        int                  `json:"max_parallel"`
	MinSuccessFraction float64              `json:"min_success_fraction"`
	Settings           domain.AgentSettings `json:"settings"`
	BuildStatus        string               `json:"build_status"`
	Error              string               `json:"error,omitempty"`
	ErrorKind          string               `json:"error_kind,omitempty"`
	StartedAt          *time.Time           `json:"started_at,omitempty"`
	FinishedAt         *time.Time           `json:"finished_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// RebalanceFromDomain конвертирует domain.RebalanceTask в RebalanceResponse.
func RebalanceFromDomain(r domain.RebalanceTask) RebalanceResponse {
	return RebalanceResponse{
		ID:                 r.ID,
		OwnerID:            r.OwnerID,
		Status:             string(r.Status),
		Tickers:            r.Tickers,
		MaxParallel:        r.MaxParallel,
		MinSuccessFraction: r.MinSuccessFraction,
		Settings:           r.Settings,
		BuildStatus:        string(r.BuildStatus),
		Error:              r.Error,
		ErrorKind:          string(r.ErrorKind),
		StartedAt:          r.StartedAt,
		FinishedAt:         r.FinishedAt,
		CreatedAt:          r.CreatedAt,
	}
}

// Order DTOs

// OrderResponse — ответ с торговой заявкой.
type OrderResponse struct {
	ID          uuid.UUID  `json:"id"`
	RebalanceID uuid.UUID  `json:"rebalance_id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Ticker      string     `json:"ticker"`
	Side        string     `json:"side"`
	Quantity    int        `json:"quantity"`
	Rationale   string     `json:"rationale,omitempty"`
	Status      string     `json:"status"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// OrderFromDomain конвертирует domain.TradeOrder в OrderResponse.
func OrderFromDomain(o domain.TradeOrder) OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		RebalanceID: o.RebalanceID,
		OwnerID:     o.OwnerID,
		Ticker:      o.Ticker,
		Side:        string(o.Side),
		Quantity:    o.Quantity,
		Rationale:   o.Rationale,
		Status:      string(o.Status),
		DecidedAt:   o.DecidedAt,
		CreatedAt:   o.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	OwnerID            uuid.UUID `json:"owner_id"`
	Name               string    `json:"name"`
	CronExpr           string    `json:"cron_expr,omitempty"`
	IntervalSec        int       `json:"interval_sec,omitempty"`
	Timezone           string    `json:"timezone,omitempty"`
	Enabled            bool      `json:"enabled"`
	Tickers            []string  `json:"tickers,omitempty"`
	MaxParallel        int       `json:"max_parallel,omitempty"`
	MinSuccessFraction float64   `json:"min_success_fraction,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name               *string   `json:"name,omitempty"`
	CronExpr           *string   `json:"cron_expr,omitempty"`
	IntervalSec        *int      `json:"interval_sec,omitempty"`
	Timezone           *string   `json:"timezone,omitempty"`
	Tickers            *[]string `json:"tickers,omitempty"`
	MaxParallel        *int      `json:"max_parallel,omitempty"`
	MinSuccessFraction *float64  `json:"min_success_fraction,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID                 uuid.UUID  `json:"id"`
	OwnerID            uuid.UUID  `json:"owner_id"`
	Name               string     `json:"name"`
	CronExpr           string     `json:"cron_expr,omitempty"`
	IntervalSec        int        `json:"interval_sec,omitempty"`
	Timezone           string     `json:"timezone"`
	Enabled            bool       `json:"enabled"`
	Tickers            []string   `json:"tickers,omitempty"`
	MaxParallel        int        `json:"max_parallel"`
	MinSuccessFraction float64    `json:"min_success_fraction"`
	NextDueAt          *time.Time `json:"next_due_at,omitempty"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
	LastRebalanceID    *uuid.UUID `json:"last_rebalance_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:                 s.ID,
		OwnerID:            s.OwnerID,
		Name:               s.Name,
		CronExpr:           s.CronExpr,
		IntervalSec:        s.IntervalSec,
		Timezone:           s.Timezone,
		Enabled:            s.Enabled,
		Tickers:            s.Tickers,
		MaxParallel:        s.MaxParallel,
		MinSuccessFraction: s.MinSuccessFraction,
		NextDueAt:          s.NextDueAt,
		LastRunAt:          s.LastRunAt,
		LastRebalanceID:    s.LastRebalanceID,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}
