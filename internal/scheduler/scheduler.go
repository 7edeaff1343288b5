package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/repo"
)

// ScheduleStore — операции хранилища расписаний, нужные планировщику.
// Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, sched *domain.Schedule) error
}

// RebalanceStore — операции хранилища ребалансировок, нужные планировщику.
// Реализуется repo.RebalanceRepo.
type RebalanceStore interface {
	Create(ctx context.Context, reb *domain.RebalanceTask) error
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.RebalanceTask, error)
}

// Notifier публикует событие о новой ребалансировке.
// Реализуется mq.Publisher.
type Notifier interface {
	PublishRebalancePending(ctx context.Context, rebalanceID uuid.UUID) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules  ScheduleStore
	rebalances RebalanceStore
	broker     broker.Client
	publisher  Notifier
	logger     *slog.Logger
	batchSize  int
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules  ScheduleStore
	Rebalances RebalanceStore
	Broker     broker.Client
	Publisher  Notifier // опционально: без него координатор заберёт ребалансировку поллингом
	Logger     *slog.Logger
	BatchSize  int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Scheduler{
		schedules:  cfg.Schedules,
		rebalances: cfg.Rebalances,
		broker:     cfg.Broker,
		publisher:  cfg.Publisher,
		logger:     logger,
		batchSize:  batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт ребалансировку
// 3. Обновляет next_due_at
// 4. Публикует rebalance.pending в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		rebCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if rebCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"rebalances_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если ребалансировка была создана (не была дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// 1. Определяем тикеры: из schedule либо из снимка портфеля
	tickers, err := s.resolveTickers(ctx, sched)
	if err != nil {
		// Брокер недоступен — next_due_at не трогаем, следующий тик повторит
		return false, fmt.Errorf("resolve tickers: %w", err)
	}
	if len(tickers) == 0 {
		s.logger.Warn("schedule has no tickers and portfolio is empty, skipping run",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
		)
		return false, s.advanceSchedule(ctx, sched, now)
	}

	// 2. Формируем idempotency key: "{schedule_id}_{next_due_at_unix}"
	// Это гарантирует, что для одного schedule и конкретного времени
	// будет создана только одна ребалансировка
	idempKey := fmt.Sprintf("%s_%d", sched.ID, sched.NextDueAt.Unix())

	// 3. Проверяем, не создана ли уже ребалансировка (idempotency)
	existing, err := s.rebalances.GetByIdempotencyKey(ctx, idempKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}

	var rebCreated bool
	var rebID uuid.UUID

	if existing != nil {
		// Ребалансировка уже существует — просто обновляем next_due_at
		s.logger.Debug("rebalance already exists (idempotency)",
			"schedule_id", sched.ID,
			"rebalance_id", existing.ID,
			"idempotency_key", idempKey,
		)
		rebID = existing.ID
		rebCreated = false
	} else {
		// 4. Создаём новую ребалансировку
		reb := &domain.RebalanceTask{
			ID:                 uuid.New(),
			OwnerID:            sched.OwnerID,
			Status:             domain.RebalanceStatusPending,
			Tickers:            tickers,
			MaxParallel:        sched.MaxParallel,
			MinSuccessFraction: sched.MinSuccessFraction,
			Settings:           domain.DefaultAgentSettings(),
			BuildStatus:        domain.BuildStatusNone,
			IdempotencyKey:     idempKey,
			CreatedAt:          now,
		}

		if err := s.rebalances.Create(ctx, reb); err != nil {
			return false, fmt.Errorf("create rebalance: %w", err)
		}

		s.logger.Info("created rebalance from schedule",
			"rebalance_id", reb.ID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"tickers", len(tickers),
		)

		rebID = reb.ID
		rebCreated = true
	}

	// 5. Вычисляем следующее время запуска
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, leaving schedule as is",
			"schedule_id", sched.ID,
			"error", err,
		)
		// Schedule некорректный — лучше не трогать next_due_at
		return rebCreated, nil
	}

	// 6. Обновляем schedule
	sched.RecordRun(rebID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return rebCreated, fmt.Errorf("update schedule: %w", err)
	}

	// 7. Публикуем событие в RabbitMQ (если publisher настроен и ребалансировка создана)
	if s.publisher != nil && rebCreated {
		if err := s.publisher.PublishRebalancePending(ctx, rebID); err != nil {
			// Не фатальная ошибка — ребалансировка уже создана в БД,
			// координатор заберёт её через polling
			s.logger.Warn("failed to publish rebalance.pending",
				"rebalance_id", rebID,
				"error", err,
			)
		}
	}

	return rebCreated, nil
}

// resolveTickers возвращает тикеры для ребалансировки:
// из самого schedule либо, если список пуст, из снимка портфеля брокера.
func (s *Scheduler) resolveTickers(ctx context.Context, sched *domain.Schedule) ([]string, error) {
	if len(sched.Tickers) > 0 {
		return sched.Tickers, nil
	}

	snapshot, err := s.broker.Snapshot(ctx, sched.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("portfolio snapshot: %w", err)
	}

	tickers := make([]string, 0, len(snapshot.Positions))
	for ticker := range snapshot.Positions {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers, nil
}

// advanceSchedule сдвигает next_due_at без создания ребалансировки.
// Без сдвига пустой schedule оставался бы due на каждом тике.
func (s *Scheduler) advanceSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) error {
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}

	sched.NextDueAt = &nextDue
	sched.UpdatedAt = now
	if err := s.schedules.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}
