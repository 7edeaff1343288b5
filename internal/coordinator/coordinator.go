package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/mq"
	"github.com/mkovri/Consilium/internal/pipeline"
)

// Параметры по умолчанию.
const (
	defaultPollInterval = 15 * time.Second
	defaultBatchSize    = 100

	// defaultStaleAfter — порог, после которого RUNNING агент или
	// задача без RUNNING агентов считаются потерянными. Должен с
	// запасом превышать дедлайн одной попытки агента.
	defaultStaleAfter = 10 * time.Minute
)

// Coordinator управляет ребалансировками и межфазными переходами задач.
//
// Работает по событиям из трёх очередей плюс периодическая сверка:
//   - rebalances.pending — fan-out новой ребалансировки
//   - tasks.completed — fan-in после терминальной задачи анализа
//   - coordinator.events — подсказки от воркеров (last_in_phase,
//     терминальная ошибка агента, сбой передачи хода)
//
// Каждое сообщение — только сигнал «посмотри на это ещё раз»:
// обработчики заново читают хранилище и выводят следующее действие
// из него, поэтому безопасны к дублям и потерям.
type Coordinator struct {
	tasks      TaskStore
	agents     AgentStore
	rebalances RebalanceStore

	sequencer *pipeline.Sequencer
	builder   *Builder

	conn *mq.Connection

	rebalanceConsumer *mq.Consumer
	taskConsumer      *mq.Consumer
	eventConsumer     *mq.Consumer

	pipeline     domain.Pipeline
	pollInterval time.Duration
	batchSize    int
	staleAfter   time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Coordinator.
type Config struct {
	Tasks      TaskStore
	Agents     AgentStore
	Rebalances RebalanceStore
	Orders     OrderStore

	// Invoker — отправка запросов на вызов агентов (mq.Publisher).
	Invoker pipeline.Invoker

	// Conn — соединение с RabbitMQ для consumers.
	Conn *mq.Connection

	// Broker — клиент брокерского API для построения заявок.
	Broker broker.Client

	// Pipeline — конфигурация конвейера (default: domain.DefaultPipeline).
	Pipeline domain.Pipeline

	// PollInterval — интервал сверки (default: 15s).
	PollInterval time.Duration

	// BatchSize — размер выборки за один цикл сверки (default: 100).
	BatchSize int

	// StaleAfter — порог зависания агента или задачи (default: 10m).
	StaleAfter time.Duration

	Logger *slog.Logger
}

// New создаёт Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := cfg.Pipeline
	if p == nil {
		p = domain.DefaultPipeline()
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	return &Coordinator{
		tasks:        cfg.Tasks,
		agents:       cfg.Agents,
		rebalances:   cfg.Rebalances,
		sequencer:    pipeline.NewSequencer(cfg.Agents, cfg.Invoker, p, logger),
		builder:      NewBuilder(cfg.Tasks, cfg.Agents, cfg.Orders, cfg.Broker, logger),
		conn:         cfg.Conn,
		pipeline:     p,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		staleAfter:   staleAfter,
		logger:       logger,
	}
}

// Start запускает Coordinator.
//
// Запускает:
//   - Consumer для rebalances.pending
//   - Consumer для tasks.completed
//   - Consumer для coordinator.events
//   - Горутину периодической сверки
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.logger.Info("starting coordinator",
		"poll_interval", c.pollInterval,
		"batch_size", c.batchSize,
		"stale_after", c.staleAfter,
	)

	c.rebalanceConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:    mq.QueueRebalancesPending,
		Handler:  c.handleRebalancePending,
		Prefetch: 10,
	})

	c.taskConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:    mq.QueueTasksCompleted,
		Handler:  c.handleTaskCompleted,
		Prefetch: 10,
	})

	c.eventConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
		Queue:    mq.QueueCoordinatorEvents,
		Handler:  c.handleCoordinatorEvent,
		Prefetch: 10,
	})

	for _, consumer := range []*mq.Consumer{c.rebalanceConsumer, c.taskConsumer, c.eventConsumer} {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("consumer error", "error", err)
			}
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sweepLoop(ctx)
	}()

	c.logger.Info("coordinator started")
	return nil
}

// Stop останавливает Coordinator.
func (c *Coordinator) Stop() {
	c.logger.Info("stopping coordinator...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}

	for _, consumer := range []*mq.Consumer{c.rebalanceConsumer, c.taskConsumer, c.eventConsumer} {
		if consumer != nil {
			consumer.Stop()
		}
	}

	c.wg.Wait()

	c.logger.Info("coordinator stopped")
}

// handleRebalancePending обрабатывает событие о новой ребалансировке.
func (c *Coordinator) handleRebalancePending(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RebalancePendingPayload](&d.Message)
	if err != nil {
		c.logger.Error("invalid rebalance.pending payload", "error", err)
		return nil
	}

	if err := c.reconcile(ctx, payload.RebalanceID); err != nil {
		if errors.Is(err, ErrRebalanceNotFound) {
			c.logger.Warn("rebalance.pending for unknown rebalance dropped",
				"rebalance_id", payload.RebalanceID)
			return nil
		}
		return err
	}
	return nil
}

// handleTaskCompleted обрабатывает callback о терминальной задаче анализа.
//
// Payload — подсказка: fan-in пересчитывает счётчики из хранилища,
// поэтому Success/Error из сообщения не используются как истина.
func (c *Coordinator) handleTaskCompleted(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&d.Message)
	if err != nil {
		c.logger.Error("invalid task.completed payload", "error", err)
		return nil
	}

	if err := c.reconcile(ctx, payload.RebalanceID); err != nil {
		if errors.Is(err, ErrRebalanceNotFound) {
			c.logger.Warn("task.completed for unknown rebalance dropped",
				"rebalance_id", payload.RebalanceID)
			return nil
		}
		return err
	}
	return nil
}

// handleCoordinatorEvent обрабатывает подсказку от воркера.
//
// Вид события (last_in_phase, error, сбой передачи хода) не различается:
// repairTask в любом случае выводит правильное следующее действие из
// снимка хранилища.
func (c *Coordinator) handleCoordinatorEvent(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CoordinatorEventPayload](&d.Message)
	if err != nil {
		c.logger.Error("invalid coordinator.event payload", "error", err)
		return nil
	}

	c.logger.Debug("coordinator event",
		"task_id", payload.TaskID,
		"phase", payload.Phase,
		"agent", payload.Agent,
		"completion_type", payload.CompletionType,
	)

	if err := c.repairTask(ctx, payload.TaskID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			c.logger.Warn("event for unknown task dropped", "task_id", payload.TaskID)
			return nil
		}
		return err
	}
	return nil
}

// sweepLoop — цикл периодической сверки.
func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// Первая сверка сразу при старте: подхватываем всё, что произошло
	// пока координатор был выключен.
	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep выполняет один цикл сверки.
func (c *Coordinator) sweep(ctx context.Context) {
	c.recoverStaleAgents(ctx)
	c.repairStalledTasks(ctx)
	c.driveRebalances(ctx)
}

// recoverStaleAgents находит агентов, зависших в RUNNING после падения
// воркера, переводит их в ERROR (TIMEOUT) и продвигает задачу.
// Попытки агента при этом не исчерпываются: если лимит позволяет,
// секвенсер перезапустит его намеренным retry.
func (c *Coordinator) recoverStaleAgents(ctx context.Context) {
	runs, err := c.agents.ListStaleRunning(ctx, c.staleAfter, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list stale agents", "error", err)
		return
	}

	for _, run := range runs {
		msg := "agent attempt abandoned: no status update within " + c.staleAfter.String()
		if err := c.agents.MarkError(ctx, run.TaskID, run.Agent, domain.ErrorKindTimeout, msg); err != nil {
			// Проигранный CAS — воркер успел дописать исход сам.
			continue
		}

		c.logger.Warn("stale running agent failed",
			"task_id", run.TaskID,
			"agent", run.Agent,
			"attempt", run.Attempt,
		)

		if err := c.repairTask(ctx, run.TaskID); err != nil && !errors.Is(err, ErrTaskNotFound) {
			c.logger.Error("failed to repair task after stale agent",
				"task_id", run.TaskID,
				"error", err,
			)
		}
	}
}

// repairStalledTasks чинит RUNNING задачи, потерявшие событие передачи
// хода (ни одного RUNNING агента и ни одного обновления дольше порога).
func (c *Coordinator) repairStalledTasks(ctx context.Context) {
	tasks, err := c.tasks.ListStalled(ctx, c.staleAfter, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list stalled tasks", "error", err)
		return
	}

	for i := range tasks {
		if err := c.repairTask(ctx, tasks[i].ID); err != nil && !errors.Is(err, ErrTaskNotFound) {
			c.logger.Error("failed to repair stalled task",
				"task_id", tasks[i].ID,
				"error", err,
			)
		}
	}
}

// driveRebalances доводит незавершённые ребалансировки: потерянный
// fan-out, застрявший fan-in, невостребованное решение по кворуму.
func (c *Coordinator) driveRebalances(ctx context.Context) {
	rebs, err := c.rebalances.ListUnfinished(ctx, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list unfinished rebalances", "error", err)
		return
	}

	for i := range rebs {
		if err := c.reconcile(ctx, rebs[i].ID); err != nil {
			c.logger.Error("failed to reconcile rebalance",
				"rebalance_id", rebs[i].ID,
				"error", err,
			)
		}
	}
}
