package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/repo"
)

const (
	// verdictMarker — маркер итогового решения в тексте risk_judge.
	verdictMarker = "FINAL RECOMMENDATION"

	// defaultBuyQuantity — размер лота покупки, пока доля портфеля
	// не рассчитывается из цен.
	// TODO: считать размер позиции от стоимости портфеля, когда
	// брокерский API начнёт отдавать котировки.
	defaultBuyQuantity = 10

	// maxRationaleLen — предел длины обоснования в заявке.
	maxRationaleLen = 2000
)

// Builder строит торговые заявки из итоговых вердиктов конвейера.
//
// Запускается после набора кворума. По каждой успешной задаче анализа
// создаёт заявку BUY/SELL/HOLD в статусе PENDING_APPROVAL; решение
// approve/reject остаётся за пользователем.
type Builder struct {
	tasks  TaskStore
	agents AgentStore
	orders OrderStore
	broker broker.Client
	logger *slog.Logger
}

// NewBuilder создаёт Builder.
func NewBuilder(tasks TaskStore, agents AgentStore, orders OrderStore, brk broker.Client, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		tasks:  tasks,
		agents: agents,
		orders: orders,
		broker: brk,
		logger: logger,
	}
}

// Build создаёт заявки по завершённым задачам ребалансировки.
//
// Идемпотентен: тикеры, по которым заявка уже существует, пропускаются,
// поэтому повтор после падения достраивает только недостающее.
func (b *Builder) Build(ctx context.Context, reb *domain.RebalanceTask) error {
	existing, err := b.orders.ListByRebalance(ctx, reb.ID)
	if err != nil {
		return fmt.Errorf("list existing orders: %w", err)
	}

	have := make(map[string]bool, len(existing))
	for _, order := range existing {
		have[order.Ticker] = true
	}

	completed, err := b.tasks.List(ctx, repo.TaskFilter{
		RebalanceID: &reb.ID,
		Status:      domain.TaskStatusCompleted,
		Limit:       len(reb.Tickers) + 1,
	})
	if err != nil {
		return fmt.Errorf("list completed tasks: %w", err)
	}

	snapshot, err := b.broker.Snapshot(ctx, reb.OwnerID)
	if err != nil {
		return fmt.Errorf("portfolio snapshot: %w", err)
	}

	built := 0
	for i := range completed {
		task := &completed[i]
		if have[task.Ticker] {
			continue
		}

		run, err := b.agents.Get(ctx, task.ID, domain.AgentRiskJudge)
		if err != nil {
			return fmt.Errorf("get verdict for %s: %w", task.Ticker, err)
		}
		if run.Status != domain.AgentStatusCompleted || run.Output == "" {
			b.logger.Warn("completed task has no verdict, skipping",
				"task_id", task.ID,
				"ticker", task.Ticker,
			)
			continue
		}

		order := buildOrder(reb, task.Ticker, ParseVerdict(run.Output), run.Output, snapshot)
		if err := b.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order for %s: %w", task.Ticker, err)
		}
		built++

		b.logger.Info("trade order created",
			"order_id", order.ID,
			"ticker", order.Ticker,
			"side", order.Side,
			"quantity", order.Quantity,
		)
	}

	b.logger.Info("portfolio build finished",
		"rebalance_id", reb.ID,
		"orders", built,
		"skipped", len(have),
	)

	return nil
}

// buildOrder собирает заявку по вердикту и снимку портфеля.
// Продажа без открытой позиции вырождается в HOLD.
func buildOrder(reb *domain.RebalanceTask, ticker string, side domain.OrderSide, rationale string, snapshot *broker.PortfolioSnapshot) *domain.TradeOrder {
	quantity := 0
	switch side {
	case domain.OrderSideBuy:
		quantity = defaultBuyQuantity
	case domain.OrderSideSell:
		pos, ok := snapshot.Positions[ticker]
		if ok && pos.Quantity > 0 {
			quantity = int(pos.Quantity)
		} else {
			side = domain.OrderSideHold
		}
	}

	return &domain.TradeOrder{
		ID:          uuid.New(),
		RebalanceID: reb.ID,
		OwnerID:     reb.OwnerID,
		Ticker:      ticker,
		Side:        side,
		Quantity:    quantity,
		Rationale:   truncateRationale(rationale),
		Status:      domain.OrderStatusPendingApproval,
		CreatedAt:   time.Now(),
	}
}

// ParseVerdict извлекает решение BUY/SELL/HOLD из текста вердикта.
//
// Сначала отбрасывается всё до маркера итоговой рекомендации (если он
// есть), затем берётся последнее упомянутое решение. Неразборчивый
// вердикт трактуется как HOLD — самое безопасное действие.
func ParseVerdict(verdict string) domain.OrderSide {
	text := strings.ToUpper(verdict)
	if i := strings.LastIndex(text, verdictMarker); i >= 0 {
		text = text[i:]
	}

	side := domain.OrderSideHold
	best := -1
	for _, s := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell, domain.OrderSideHold} {
		if i := strings.LastIndex(text, string(s)); i > best {
			best = i
			side = s
		}
	}
	return side
}

// truncateRationale обрезает обоснование до предела хранения.
func truncateRationale(s string) string {
	if len(s) <= maxRationaleLen {
		return s
	}
	return s[:maxRationaleLen] + "..."
}
