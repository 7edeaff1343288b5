package coordinator

import "errors"

// Ошибки координатора.
var (
	// ErrTaskNotFound — задача из события не существует в хранилище.
	// Такое событие отбрасывается без requeue.
	ErrTaskNotFound = errors.New("task not found")

	// ErrRebalanceNotFound — ребалансировка из события не существует.
	ErrRebalanceNotFound = errors.New("rebalance not found")

	// ErrEmptyPipeline — конвейер без фаз, запускать нечего.
	ErrEmptyPipeline = errors.New("pipeline has no phases")
)
