package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматических ребалансировок.
//
// Schedule позволяет запускать ребалансировку:
// - По cron-выражению: "0 9 * * 1" (каждый понедельник в 9:00)
// - По интервалу: каждые N секунд
//
// Scheduler проверяет next_due_at и создаёт ребалансировку,
// когда время подошло.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// OwnerID — владелец портфеля.
	OwnerID uuid.UUID `json:"owner_id"`

	// Name — имя расписания для удобства.
	Name string `json:"name,omitempty"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	// Используется если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled"`

	// Tickers — тикеры для fan-out создаваемых ребалансировок.
	// Пустой список — тикеры берутся из снимка портфеля брокера.
	Tickers []string `json:"tickers,omitempty"`

	// MaxParallel — потолок одновременных задач анализа.
	MaxParallel int `json:"max_parallel"`

	// MinSuccessFraction — порог кворума создаваемых ребалансировок.
	MinSuccessFraction float64 `json:"min_success_fraction"`

	// NextDueAt — время следующего запуска.
	// Scheduler создаёт ребалансировку, когда now >= NextDueAt.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastRebalanceID — ID последней созданной ребалансировки.
	LastRebalanceID *uuid.UUID `json:"last_rebalance_id,omitempty"`

	// CreatedAt — время создания schedule.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextDueAt == nil {
		return false
	}
	return now.After(*s.NextDueAt) || now.Equal(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске.
func (s *Schedule) RecordRun(rebalanceID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	s.LastRebalanceID = &rebalanceID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
