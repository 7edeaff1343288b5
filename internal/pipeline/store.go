package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
)

// AgentStore — операции над записями агентов, нужные ядру оркестрации.
// Реализуется repo.AgentRepo.
type AgentStore interface {
	// ListByTask возвращает все записи агентов задачи.
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.AgentRun, error)

	// MarkError переводит агента RUNNING → ERROR с классом ошибки.
	MarkError(ctx context.Context, taskID uuid.UUID, agent string, kind domain.ErrorKind, msg string) error

	// MarkDispatchFailed переводит агента PENDING/ERROR → ERROR (TRANSPORT)
	// после неудачной отправки запроса на вызов.
	MarkDispatchFailed(ctx context.Context, taskID uuid.UUID, agent, msg string) error
}

// Invoker отправляет запрос на вызов агента. Реализуется mq.Publisher.
//
// Отправка — это только сигнал: легитимность вызова на стороне
// воркера проверяют Guard и условная запись хранилища.
type Invoker interface {
	PublishAgentInvoke(ctx context.Context, payload mq.AgentInvokePayload) error
}
