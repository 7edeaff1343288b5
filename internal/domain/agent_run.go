package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentRun — состояние одного агента внутри задачи анализа.
//
// На пару (задача, агент) существует ровно одна запись; она создаётся
// вместе с задачей в статусе PENDING. Все переходы — условные записи:
// переход, чьё предусловие не выполнено, отбрасывается проигравшим
// (repo.ErrStale), поэтому два честно-конкурентных первых вызова
// одного агента разрешаются хранилищем, а не блокировкой.
type AgentRun struct {
	// TaskID — ссылка на задачу анализа.
	TaskID uuid.UUID `json:"task_id"`

	// Phase — имя фазы, к которой принадлежит агент.
	Phase string `json:"phase"`

	// Agent — ключ агента (например "market", "bull", "risk_judge").
	Agent string `json:"agent"`

	// Status — текущий статус агента.
	Status AgentStatus `json:"status"`

	// Attempt — номер последней попытки (0-based).
	Attempt int `json:"attempt"`

	// Output — результат агента (insight). Записывается ровно один раз,
	// при переходе RUNNING → COMPLETED; повторный вызов завершённого
	// агента возвращает сохранённый Output без повторной работы.
	Output string `json:"output,omitempty"`

	// OutputAt — время генерации Output.
	OutputAt *time.Time `json:"output_at,omitempty"`

	// Error — текст ошибки при статусе ERROR.
	Error string `json:"error,omitempty"`

	// ErrorKind — класс ошибки.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// StartedAt — время последнего перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время последнего терминального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// UpdatedAt — время последнего изменения записи. Используется
	// координатором для поиска зависших задач.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFinished возвращает true, если агент в терминальном статусе.
func (a *AgentRun) IsFinished() bool {
	return a.Status.IsTerminal()
}

// RetryEnvelope — параметры попытки, передаваемые в каждом запросе
// на вызов агента.
//
// Intentional различает намеренный retry (запущенный супервизором или
// явным действием пользователя) и случайный повторный вызов (например,
// дублированную доставку сообщения). Перезапустить агента со статусом
// ERROR вправе только намеренный retry.
type RetryEnvelope struct {
	// Attempt — номер попытки (0-based). Начальный вызов — 0.
	Attempt int `json:"attempt"`

	// MaxRetries — максимум повторных запусков.
	MaxRetries int `json:"max_retries"`

	// TimeoutSec — дедлайн этой попытки в секундах.
	TimeoutSec int `json:"timeout_sec"`

	// Intentional — true для намеренного retry.
	Intentional bool `json:"intentional"`
}

// CanRetry возвращает true, если после попытки Attempt допустим ещё
// один запуск. Попытки нумеруются 0..MaxRetries: всего агент вызывается
// не более 1+MaxRetries раз.
func (e RetryEnvelope) CanRetry() bool {
	return e.Attempt < e.MaxRetries
}

// Next возвращает конверт следующей намеренной попытки.
func (e RetryEnvelope) Next() RetryEnvelope {
	return RetryEnvelope{
		Attempt:     e.Attempt + 1,
		MaxRetries:  e.MaxRetries,
		TimeoutSec:  e.TimeoutSec,
		Intentional: true,
	}
}

// FirstAttempt возвращает конверт начального вызова с параметрами задачи.
func FirstAttempt(settings AgentSettings) RetryEnvelope {
	return RetryEnvelope{
		Attempt:    0,
		MaxRetries: settings.MaxRetries,
		TimeoutSec: settings.TimeoutSec,
	}
}
