package domain

// TaskStatus — статус задачи анализа.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ ERROR
//	          (или) → CANCELLED (из PENDING или RUNNING)
type TaskStatus string

const (
	// TaskStatusPending — задача создана, но ещё не начала выполняться.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — конвейер агентов выполняется.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusCompleted — все фазы пройдены, итоговая рекомендация готова.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusError — задача завершилась с ошибкой.
	TaskStatusError TaskStatus = "ERROR"

	// TaskStatusCancelled — задача отменена пользователем.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
// После финального статуса ни один агент не вправе писать insights
// или продвигать фазы (это обеспечивает Completion Guard).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusError, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// AgentStatus — статус одного агента внутри задачи.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ ERROR (повторный запуск только по явному retry)
//	PENDING → SKIPPED (фаза отменена или агент исключён настройками)
type AgentStatus string

const (
	// AgentStatusPending — агент ещё не запускался.
	AgentStatusPending AgentStatus = "PENDING"

	// AgentStatusRunning — агент выполняется. Конкурентный запуск того же
	// агента для той же задачи не допускается никогда.
	AgentStatusRunning AgentStatus = "RUNNING"

	// AgentStatusCompleted — агент успешно записал свой insight.
	AgentStatusCompleted AgentStatus = "COMPLETED"

	// AgentStatusError — агент завершился с ошибкой (после всех retry).
	AgentStatusError AgentStatus = "ERROR"

	// AgentStatusSkipped — агент пропущен (не выполнялся и не будет).
	AgentStatusSkipped AgentStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный для агента.
// ERROR считается терминальным для целей гейтинга фазы: финальный агент
// запускается когда все обычные агенты COMPLETED или ERROR.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusError, AgentStatusSkipped:
		return true
	default:
		return false
	}
}

// RebalanceStatus — статус ребалансировки.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED (кворум набран, построение портфеля запущено)
//	                  ↘ ERROR (кворум недостижим)
//	          (или) → CANCELLED
type RebalanceStatus string

const (
	// RebalanceStatusPending — ребалансировка создана, fan-out ещё не выполнен.
	RebalanceStatusPending RebalanceStatus = "PENDING"

	// RebalanceStatusRunning — задачи анализа выполняются.
	RebalanceStatusRunning RebalanceStatus = "RUNNING"

	// RebalanceStatusCompleted — кворум набран, шаг построения портфеля вызван.
	RebalanceStatusCompleted RebalanceStatus = "COMPLETED"

	// RebalanceStatusError — кворум недостижим или fan-out не удался.
	RebalanceStatusError RebalanceStatus = "ERROR"

	// RebalanceStatusCancelled — ребалансировка отменена.
	RebalanceStatusCancelled RebalanceStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RebalanceStatus) IsTerminal() bool {
	switch s {
	case RebalanceStatusCompleted, RebalanceStatusError, RebalanceStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderStatus — статус торговой заявки (approve/reject workflow).
//
// Жизненный цикл:
//
//	PENDING_APPROVAL → APPROVED → SUBMITTED
//	                 ↘ REJECTED
type OrderStatus string

const (
	// OrderStatusPendingApproval — заявка ожидает решения пользователя.
	OrderStatusPendingApproval OrderStatus = "PENDING_APPROVAL"

	// OrderStatusApproved — заявка одобрена, можно отправлять брокеру.
	OrderStatusApproved OrderStatus = "APPROVED"

	// OrderStatusRejected — заявка отклонена.
	OrderStatusRejected OrderStatus = "REJECTED"

	// OrderStatusSubmitted — заявка отправлена брокеру.
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
)

// String возвращает строковое представление OrderStatus.
func (s OrderStatus) String() string {
	return string(s)
}

// ErrorKind — класс ошибки в таксономии системы.
//
// Каждый терминальный ERROR-статус несёт человекочитаемую причину
// и один из этих классов. Внешние опросчики различают их без
// парсинга текста.
type ErrorKind string

const (
	// ErrorKindTimeout — дедлайн супервизора истёк, retry исчерпаны.
	ErrorKindTimeout ErrorKind = "TIMEOUT"

	// ErrorKindTransport — вызов не удалось даже отправить (dispatch failure).
	ErrorKindTransport ErrorKind = "TRANSPORT"

	// ErrorKindBusiness — агент выполнился, но его работа завершилась ошибкой.
	ErrorKindBusiness ErrorKind = "BUSINESS"

	// ErrorKindQuorumShortfall — успешных анализов меньше порога кворума.
	ErrorKindQuorumShortfall ErrorKind = "QUORUM_SHORTFALL"

	// ErrorKindCancelled — кооперативная отмена.
	ErrorKindCancelled ErrorKind = "CANCELLED"
)
