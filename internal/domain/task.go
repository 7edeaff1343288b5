package domain

import (
	"time"

	"github.com/google/uuid"
)

// Стандартные параметры выполнения агентов.
const (
	// DefaultMaxRetries — число повторных запусков агента по умолчанию.
	DefaultMaxRetries = 2

	// DefaultTimeoutSec — дедлайн одной попытки агента по умолчанию.
	DefaultTimeoutSec = 120

	// DefaultRetryDelaySec — пауза перед повторным запуском по умолчанию.
	DefaultRetryDelaySec = 5
)

// AgentSettings — параметры выполнения агентов внутри задачи.
//
// Передаются в каждый запрос на вызов агента и применяются
// супервизором. Хранятся на задаче, чтобы повторный вызов
// (в том числе после рестарта) использовал те же параметры.
type AgentSettings struct {
	// MaxRetries — максимум повторных запусков одного агента.
	// Начальный вызов в счёт не входит: агент вызывается не более
	// 1+MaxRetries раз.
	MaxRetries int `json:"max_retries"`

	// TimeoutSec — дедлайн одной попытки в секундах.
	TimeoutSec int `json:"timeout_sec"`

	// RetryDelaySec — пауза перед повторным запуском в секундах.
	RetryDelaySec int `json:"retry_delay_sec"`

	// Depth — глубина анализа ("fast" или "deep"). Прокидывается
	// в построение промптов, на оркестрацию не влияет.
	Depth string `json:"depth,omitempty"`
}

// DefaultAgentSettings возвращает настройки по умолчанию.
func DefaultAgentSettings() AgentSettings {
	return AgentSettings{
		MaxRetries:    DefaultMaxRetries,
		TimeoutSec:    DefaultTimeoutSec,
		RetryDelaySec: DefaultRetryDelaySec,
	}
}

// Timeout возвращает дедлайн одной попытки как time.Duration.
func (s AgentSettings) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return DefaultTimeoutSec * time.Second
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// RetryDelay возвращает паузу перед retry как time.Duration.
func (s AgentSettings) RetryDelay() time.Duration {
	if s.RetryDelaySec <= 0 {
		return DefaultRetryDelaySec * time.Second
	}
	return time.Duration(s.RetryDelaySec) * time.Second
}

// AnalysisTask — задача анализа одного тикера.
//
// Task создаётся когда:
// - Пользователь запрашивает анализ одного тикера (через API/CLI)
// - Координатор выполняет fan-out ребалансировки (по задаче на тикер)
//
// Состояние конвейера (фазы и агенты) живёт в строках AgentRun;
// сама задача несёт только итоговый статус и настройки. Воркеры
// stateless и короткоживущие: прогресс всегда выводится повторным
// чтением хранилища, а не из памяти процесса.
type AnalysisTask struct {
	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"id"`

	// Ticker — тикер анализируемой бумаги.
	Ticker string `json:"ticker"`

	// OwnerID — владелец задачи.
	OwnerID uuid.UUID `json:"owner_id"`

	// RebalanceID — ссылка на родительскую ребалансировку.
	// Nil для одиночных задач.
	RebalanceID *uuid.UUID `json:"rebalance_id,omitempty"`

	// Status — текущий статус задачи.
	Status TaskStatus `json:"status"`

	// CancelRequested — флаг кооперативной отмены. Выставляется извне
	// (пользователем) и проверяется перед каждым переходом состояния.
	// Агент, уже выполняющийся в момент отмены, доработает, но его
	// результат дальше по конвейеру не пойдёт.
	CancelRequested bool `json:"cancel_requested"`

	// Settings — параметры выполнения агентов.
	Settings AgentSettings `json:"settings"`

	// Error — текст ошибки при статусе ERROR.
	Error string `json:"error,omitempty"`

	// ErrorKind — класс ошибки (TIMEOUT/TRANSPORT/BUSINESS/CANCELLED).
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// StartedAt — время старта конвейера.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания задачи.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если задача завершена.
func (t *AnalysisTask) IsFinished() bool {
	return t.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (t *AnalysisTask) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// MarkRunning переводит задачу в статус RUNNING.
func (t *AnalysisTask) MarkRunning() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
}

// MarkCompleted переводит задачу в статус COMPLETED.
func (t *AnalysisTask) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.FinishedAt = &now
}

// MarkError переводит задачу в статус ERROR с причиной.
func (t *AnalysisTask) MarkError(kind ErrorKind, msg string) {
	now := time.Now()
	t.Status = TaskStatusError
	t.ErrorKind = kind
	t.Error = msg
	t.FinishedAt = &now
}

// MarkCancelled переводит задачу в статус CANCELLED.
func (t *AnalysisTask) MarkCancelled() {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.ErrorKind = ErrorKindCancelled
	t.FinishedAt = &now
}
