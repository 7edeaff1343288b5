package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/pipeline"
)

// ExecContext — вход исполнения одного агента.
type ExecContext struct {
	// Task — задача анализа.
	Task *domain.AnalysisTask

	// Insights — результаты уже завершённых агентов (agent → insight).
	Insights map[string]string
}

// Executor — один агент конвейера. Возвращает insight агента.
//
// ctx несёт дедлайн попытки, установленный супервизором. Исполнитель
// обязан быть идемпотентным по побочным эффектам: один и тот же вызов
// может быть повторён после сбоя.
type Executor interface {
	Execute(ctx context.Context, in ExecContext) (string, error)
}

// promptExecutor — исполнитель поверх Generator: строит промпт из
// тикера и insights предшественников, возвращает сгенерированный текст.
type promptExecutor struct {
	gen    Generator
	system string

	// build собирает пользовательский промпт.
	build func(in ExecContext) string
}

// Execute генерирует insight агента.
func (e *promptExecutor) Execute(ctx context.Context, in ExecContext) (string, error) {
	return e.gen.Generate(ctx, GenerateRequest{
		System: e.system,
		Prompt: e.build(in),
	})
}

// traderExecutor — трейдер: помимо insights ресёрча получает снимок
// текущего портфеля от брокера.
type traderExecutor struct {
	gen Generator
	brk broker.Client
}

// Execute строит торговый план по итогам ресёрча и портфелю.
func (e *traderExecutor) Execute(ctx context.Context, in ExecContext) (string, error) {
	var b strings.Builder
	b.WriteString(promptHeader(in))
	b.WriteString(insightsSection(in,
		domain.AgentResearchMgr, domain.AgentBull, domain.AgentBear))

	snapshot, err := e.brk.Snapshot(ctx, in.Task.OwnerID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", pipeline.WithKind(domain.ErrorKindTransport,
			fmt.Errorf("portfolio snapshot: %w", err))
	}

	b.WriteString("\nCurrent portfolio:\n")
	fmt.Fprintf(&b, "- cash: %.2f\n", snapshot.Cash)
	if pos, ok := snapshot.Positions[in.Task.Ticker]; ok {
		fmt.Fprintf(&b, "- position in %s: %.2f @ avg %.2f\n", pos.Ticker, pos.Quantity, pos.AvgPrice)
	} else {
		fmt.Fprintf(&b, "- no open position in %s\n", in.Task.Ticker)
	}

	b.WriteString("\nProduce a trade plan: direction (BUY/SELL/HOLD), size rationale and entry conditions.")

	return e.gen.Generate(ctx, GenerateRequest{
		System: "You are a trader. Turn research conclusions into a concrete, executable trade plan.",
		Prompt: b.String(),
	})
}

// promptHeader — общая шапка промпта: тикер и глубина анализа.
func promptHeader(in ExecContext) string {
	depth := in.Task.Settings.Depth
	if depth == "" {
		depth = "fast"
	}
	return fmt.Sprintf("Ticker: %s\nAnalysis depth: %s\n", in.Task.Ticker, depth)
}

// insightsSection форматирует insights перечисленных агентов.
// Отсутствующие (упавшие или пропущенные) агенты не включаются:
// их отсутствие — часть входа, а не ошибка.
func insightsSection(in ExecContext, agents ...string) string {
	var b strings.Builder
	for _, agent := range agents {
		insight, ok := in.Insights[agent]
		if !ok || insight == "" {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", agent, insight)
	}
	return b.String()
}
