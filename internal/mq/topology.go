package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeAgents      Exchange = "consilium.agents"
	ExchangeTasks       Exchange = "consilium.tasks"
	ExchangeCoordinator Exchange = "consilium.coordinator"
	ExchangeDLQ         Exchange = "consilium.dlq"
)

// Queues — имена очередей.
const (
	QueueAgentsInvoke      Queue = "agents.invoke"
	QueueTasksCompleted    Queue = "tasks.completed"
	QueueRebalancesPending Queue = "rebalances.pending"
	QueueCoordinatorEvents Queue = "coordinator.events"
	QueueDLQAgents         Queue = "dlq.agents"
)

// Routing keys.
const (
	RoutingKeyInvoke    RoutingKey = "invoke"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyEvent     RoutingKey = "event"
	RoutingKeyDLQAgents RoutingKey = "agents"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeAgents, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeCoordinator, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQAgents),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// agents.invoke — с DLQ (вызовы агентов уходят в DLQ после nack-retry)
		{QueueAgentsInvoke, dlqArgs},

		// tasks.completed — без DLQ (callback-события fan-in)
		{QueueTasksCompleted, nil},

		// rebalances.pending — без DLQ (ребалансировка обрабатывается один раз)
		{QueueRebalancesPending, nil},

		// coordinator.events — без DLQ (подсказки, потеря только стоит латентности)
		{QueueCoordinatorEvents, nil},

		// dlq.agents — сама DLQ очередь
		{QueueDLQAgents, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueAgentsInvoke, RoutingKeyInvoke, ExchangeAgents},
		{QueueTasksCompleted, RoutingKeyCompleted, ExchangeTasks},
		{QueueRebalancesPending, RoutingKeyPending, ExchangeTasks},
		{QueueCoordinatorEvents, RoutingKeyEvent, ExchangeCoordinator},
		{QueueDLQAgents, RoutingKeyDLQAgents, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Consilium RabbitMQ Topology:

    consilium.agents (direct)
    └── agents.invoke [routing: invoke]
            Consumer: Agent worker
            DLQ: dlq.agents

    consilium.tasks (direct)
    ├── tasks.completed [routing: completed]
    │       Consumer: Coordinator (fan-in)
    └── rebalances.pending [routing: pending]
            Consumer: Coordinator (fan-out)

    consilium.coordinator (direct)
    └── coordinator.events [routing: event]
            Consumer: Coordinator (fallback)

    consilium.dlq (direct)
    └── dlq.agents [routing: agents]
            Manual processing
  `
}
