package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mkovri/Consilium/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeAgentInvoke      MessageType = "agent.invoke"
	MessageTypeTaskCompleted    MessageType = "task.completed"
	MessageTypeRebalancePending MessageType = "rebalance.pending"
	MessageTypeCoordinatorEvent MessageType = "coordinator.event"
)

// CompletionType — вид события для координатора.
type CompletionType string

// Виды событий координатора.
const (
	// CompletionTypeError — агент терминально упал.
	CompletionTypeError CompletionType = "error"

	// CompletionTypeLastInPhase — фаза полностью завершена,
	// нужен переход к следующей фазе или финализация задачи.
	CompletionTypeLastInPhase CompletionType = "last_in_phase"

	// CompletionTypeDispatchFailed — передача хода пиру не удалась.
	CompletionTypeDispatchFailed CompletionType = "fallback_invocation_failed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// AgentInvokePayload — запрос на вызов агента.
//
// Доставка может дублироваться: легитимность вызова проверяет
// Completion Guard на стороне воркера, а гонки разрешает условная
// запись в хранилище.
type AgentInvokePayload struct {
	TaskID  uuid.UUID            `json:"task_id"`
	Ticker  string               `json:"ticker"`
	OwnerID uuid.UUID            `json:"owner_id"`
	Agent   string               `json:"agent"`
	Phase   string               `json:"phase"`
	Retry   domain.RetryEnvelope `json:"retry"`
}

// TaskCompletedPayload — callback о терминальном завершении задачи анализа.
type TaskCompletedPayload struct {
	RebalanceID uuid.UUID `json:"rebalance_id"`
	TaskID      uuid.UUID `json:"task_id"`
	Ticker      string    `json:"ticker"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// RebalancePendingPayload — событие о новой ребалансировке.
type RebalancePendingPayload struct {
	RebalanceID uuid.UUID `json:"rebalance_id"`
}

// CoordinatorEventPayload — fire-and-forget подсказка координатору.
//
// Payload не является источником истины: координатор заново выводит
// правильное следующее действие из хранилища.
type CoordinatorEventPayload struct {
	TaskID         uuid.UUID      `json:"task_id"`
	Phase          string         `json:"phase"`
	Agent          string         `json:"agent,omitempty"`
	CompletionType CompletionType `json:"completion_type"`
	Error          string         `json:"error,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishAgentInvoke публикует запрос на вызов агента.
// Потребитель: Agent worker.
func (p *Publisher) PublishAgentInvoke(ctx context.Context, payload AgentInvokePayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeAgentInvoke,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeAgents, RoutingKeyInvoke, msg)
}

// PublishTaskCompleted публикует callback о терминальной задаче анализа.
// Потребитель: Coordinator (fan-in).
func (p *Publisher) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyCompleted, msg)
}

// PublishRebalancePending публикует событие о новой ребалансировке.
// Потребитель: Coordinator (fan-out).
func (p *Publisher) PublishRebalancePending(ctx context.Context, rebalanceID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRebalancePending,
		Payload:   RebalancePendingPayload{RebalanceID: rebalanceID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyPending, msg)
}

// PublishCoordinatorEvent публикует подсказку координатору.
// Потребитель: Coordinator (fallback).
func (p *Publisher) PublishCoordinatorEvent(ctx context.Context, payload CoordinatorEventPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeCoordinatorEvent,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeCoordinator, RoutingKeyEvent, msg)
}
