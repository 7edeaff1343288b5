package pipeline

import "errors"

// Ошибки ядра оркестрации.
var (
	// ErrAgentRunning — агент уже выполняется другим воркером.
	ErrAgentRunning = errors.New("agent is already running")

	// ErrAgentFailed — агент в статусе ERROR, а вызов не является
	// намеренным retry. Случайные повторные вызовы упавшего агента
	// отвергаются.
	ErrAgentFailed = errors.New("agent failed, retry must be intentional")

	// ErrAgentSkipped — агент пропущен и не подлежит вызову.
	ErrAgentSkipped = errors.New("agent was skipped")

	// ErrTaskCancelled — задача анализа отменена.
	ErrTaskCancelled = errors.New("task is cancelled")

	// ErrRetryExhausted — все попытки агента исчерпаны.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrRetryScheduled — попытка не удалась, следующая отправлена.
	ErrRetryScheduled = errors.New("attempt failed, retry dispatched")

	// ErrDispatchFailed — запрос на вызов агента не удалось отправить.
	// Намеченный агент при этом переводится в ERROR (никогда обратно
	// в PENDING), чтобы координатор увидел сбой в хранилище.
	ErrDispatchFailed = errors.New("agent invocation dispatch failed")

	// ErrUnknownAgent — агент не входит в конфигурацию конвейера.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownPhase — фаза не входит в конфигурацию конвейера.
	ErrUnknownPhase = errors.New("unknown phase")
)
