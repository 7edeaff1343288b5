package agent

import "errors"

// Ошибки agent worker.
var (
	// ErrTaskNotFound — задача не найдена в БД.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskFinished — задача уже в терминальном статусе.
	ErrTaskFinished = errors.New("task already finished")

	// ErrAgentRunNotFound — запись агента не найдена.
	ErrAgentRunNotFound = errors.New("agent run not found")

	// ErrUnknownAgent — нет исполнителя для данного агента.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrGeneration — LLM-сервис вернул ошибку.
	ErrGeneration = errors.New("text generation failed")
)
