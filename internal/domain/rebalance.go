package domain

import (
	"time"

	"github.com/google/uuid"
)

// Параметры ребалансировки по умолчанию.
const (
	// DefaultMaxParallel — потолок одновременно выполняющихся задач
	// анализа на одну ребалансировку.
	DefaultMaxParallel = 3

	// DefaultMinSuccessFraction — доля успешных анализов, необходимая
	// для запуска построения портфеля. Продуктовая константа, не
	// выводимая из инвариантов; настраивается на ребалансировке.
	DefaultMinSuccessFraction = 0.30
)

// BuildStatus — статус шага построения портфеля (downstream-шаг fan-in).
type BuildStatus string

const (
	// BuildStatusNone — построение ещё не запускалось.
	BuildStatusNone BuildStatus = "NONE"

	// BuildStatusInvoked — построение запущено.
	BuildStatusInvoked BuildStatus = "INVOKED"

	// BuildStatusDone — заявки построены.
	BuildStatusDone BuildStatus = "DONE"

	// BuildStatusError — построение завершилось ошибкой.
	BuildStatusError BuildStatus = "ERROR"
)

// RebalanceTask — ребалансировка портфеля.
//
// Создаётся со списком тикеров; fan-out порождает по задаче анализа
// на тикер и сразу переводит min(MaxParallel, N) из них в RUNNING.
// Каждое терминальное завершение задачи анализа триггерит fan-in:
// пересчёт счётчиков напрямую из хранилища и либо пополнение очереди,
// либо решение по кворуму.
type RebalanceTask struct {
	// ID — уникальный идентификатор ребалансировки.
	ID uuid.UUID `json:"id"`

	// OwnerID — владелец.
	OwnerID uuid.UUID `json:"owner_id"`

	// Status — текущий статус.
	Status RebalanceStatus `json:"status"`

	// Tickers — тикеры, по которым выполняется fan-out.
	Tickers []string `json:"tickers"`

	// MaxParallel — потолок одновременных задач анализа.
	MaxParallel int `json:"max_parallel"`

	// MinSuccessFraction — порог кворума (доля успешных задач).
	MinSuccessFraction float64 `json:"min_success_fraction"`

	// Settings — параметры агентов, наследуемые задачами анализа.
	Settings AgentSettings `json:"settings"`

	// BuildStatus — статус downstream-шага построения портфеля.
	BuildStatus BuildStatus `json:"build_status"`

	// IdempotencyKey — ключ дедупликации для ребалансировок, созданных
	// планировщиком: "{schedule_id}_{next_due_at_unix}". Пустой для
	// ребалансировок, созданных вручную.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Error — текст ошибки при статусе ERROR.
	Error string `json:"error,omitempty"`

	// ErrorKind — класс ошибки.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// StartedAt — время начала fan-out.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если ребалансировка завершена.
func (r *RebalanceTask) IsFinished() bool {
	return r.Status.IsTerminal()
}

// RequiredSuccesses возвращает минимум успешных задач для кворума:
// ceil(total * MinSuccessFraction).
func (r *RebalanceTask) RequiredSuccesses(total int) int {
	if total <= 0 {
		return 0
	}
	frac := r.MinSuccessFraction
	if frac <= 0 {
		frac = DefaultMinSuccessFraction
	}
	required := int(float64(total) * frac)
	if float64(required) < float64(total)*frac {
		required++
	}
	return required
}

// MarkRunning переводит ребалансировку в статус RUNNING.
func (r *RebalanceTask) MarkRunning() {
	now := time.Now()
	r.Status = RebalanceStatusRunning
	r.StartedAt = &now
}

// MarkCompleted переводит ребалансировку в статус COMPLETED.
func (r *RebalanceTask) MarkCompleted() {
	now := time.Now()
	r.Status = RebalanceStatusCompleted
	r.FinishedAt = &now
}

// MarkError переводит ребалансировку в статус ERROR.
func (r *RebalanceTask) MarkError(kind ErrorKind, msg string) {
	now := time.Now()
	r.Status = RebalanceStatusError
	r.ErrorKind = kind
	r.Error = msg
	r.FinishedAt = &now
}

// MarkCancelled переводит ребалансировку в статус CANCELLED.
func (r *RebalanceTask) MarkCancelled() {
	now := time.Now()
	r.Status = RebalanceStatusCancelled
	r.ErrorKind = ErrorKindCancelled
	r.FinishedAt = &now
}

// TaskCounts — счётчики задач анализа одной ребалансировки.
//
// Всегда пересчитываются запросом к хранилищу в момент fan-in:
// доверять счётчику в памяти нельзя, вызовы — независимые процессы.
type TaskCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Running   int `json:"running"`
	Pending   int `json:"pending"`
}

// InProgress возвращает число нетерминальных задач.
func (c TaskCounts) InProgress() int {
	return c.Total - c.Completed - c.Failed - c.Cancelled
}

// AllTerminal возвращает true, если все задачи терминальны.
func (c TaskCounts) AllTerminal() bool {
	return c.InProgress() == 0
}
