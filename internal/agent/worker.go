package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mkovri/Consilium/internal/mq"
)

const defaultPrefetch = 5

// Worker — stateless исполнитель агентов.
//
// Потребляет очередь agents.invoke и обрабатывает каждый запрос через
// Runner. Несколько экземпляров могут потреблять из одной очереди:
// гонки разрешает захват записи в хранилище, а не очередь.
type Worker struct {
	runner *Runner
	conn   *mq.Connection

	consumer *mq.Consumer
	prefetch int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// WorkerConfig — конфигурация Worker.
type WorkerConfig struct {
	Runner *Runner
	Conn   *mq.Connection

	// Prefetch — количество сообщений предварительной загрузки
	// (default: 5).
	Prefetch int

	Logger *slog.Logger
}

// NewWorker создаёт Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	return &Worker{
		runner:   cfg.Runner,
		conn:     cfg.Conn,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Start запускает потребление очереди agents.invoke.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    mq.QueueAgentsInvoke,
		Handler:  w.handleInvoke,
		Prefetch: w.prefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("invoke consumer error", "error", err)
		}
	}()

	w.logger.Info("agent worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения горутин.
func (w *Worker) Stop() {
	w.logger.Info("stopping agent worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()
	w.logger.Info("agent worker stopped")
}

// handleInvoke обрабатывает сообщение agent.invoke.
func (w *Worker) handleInvoke(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.AgentInvokePayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse agent.invoke payload", "error", err)
		return err
	}

	if err := w.runner.HandleInvoke(ctx, payload); err != nil {
		// Ожидаемые ситуации — ack: повтор не поможет.
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrAgentRunNotFound) {
			w.logger.Debug("invoke not processed",
				"task_id", payload.TaskID,
				"agent", payload.Agent,
				"reason", err,
			)
			return nil
		}
		return err
	}

	return nil
}
