package agent

import (
	"fmt"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
)

// Registry — реестр исполнителей по ключу агента.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр с исполнителями всех агентов
// стандартного конвейера.
func NewRegistry(gen Generator, brk broker.Client) *Registry {
	r := &Registry{executors: make(map[string]Executor)}

	// Фаза analysis: четыре независимых аналитика.
	r.Register(domain.AgentMarket, &promptExecutor{
		gen:    gen,
		system: "You are a market analyst. Assess price action, volume and technical indicators.",
		build: func(in ExecContext) string {
			return promptHeader(in) + "\nAnalyse the recent market data for this ticker."
		},
	})
	r.Register(domain.AgentNews, &promptExecutor{
		gen:    gen,
		system: "You are a news analyst. Assess recent company and macro news flow.",
		build: func(in ExecContext) string {
			return promptHeader(in) + "\nSummarise the news relevant to this ticker and its likely impact."
		},
	})
	r.Register(domain.AgentFundamentals, &promptExecutor{
		gen:    gen,
		system: "You are a fundamentals analyst. Assess financials, valuation and earnings quality.",
		build: func(in ExecContext) string {
			return promptHeader(in) + "\nAnalyse the fundamentals of this company."
		},
	})
	r.Register(domain.AgentSentiment, &promptExecutor{
		gen:    gen,
		system: "You are a sentiment analyst. Assess social and retail investor sentiment.",
		build: func(in ExecContext) string {
			return promptHeader(in) + "\nAssess the current sentiment around this ticker."
		},
	})

	// Фаза research: спор быка и медведя, менеджер подводит итог.
	analysisAgents := []string{
		domain.AgentMarket, domain.AgentNews,
		domain.AgentFundamentals, domain.AgentSentiment,
	}
	r.Register(domain.AgentBull, &promptExecutor{
		gen:    gen,
		system: "You are a bullish researcher. Argue the strongest case for buying.",
		build: func(in ExecContext) string {
			return promptHeader(in) + insightsSection(in, analysisAgents...) +
				"\nBuild the bull case from the analyst reports above."
		},
	})
	r.Register(domain.AgentBear, &promptExecutor{
		gen:    gen,
		system: "You are a bearish researcher. Argue the strongest case against buying.",
		build: func(in ExecContext) string {
			return promptHeader(in) + insightsSection(in, analysisAgents...) +
				"\nBuild the bear case from the analyst reports above."
		},
	})
	r.Register(domain.AgentResearchMgr, &promptExecutor{
		gen:    gen,
		system: "You are a research manager. Weigh the bull and bear cases and issue a verdict.",
		build: func(in ExecContext) string {
			return promptHeader(in) + insightsSection(in, domain.AgentBull, domain.AgentBear) +
				"\nWeigh both cases and state a clear investment stance with reasoning."
		},
	})

	// Фаза trading: трейдер с доступом к портфелю.
	r.Register(domain.AgentTrader, &traderExecutor{gen: gen, brk: brk})

	// Фаза risk: три перспективы и судья.
	r.Register(domain.AgentRisky, &promptExecutor{
		gen:    gen,
		system: "You are an aggressive risk debater. Argue for maximising the position.",
		build: func(in ExecContext) string {
			return promptHeader(in) + insightsSection(in, domain.AgentTrader) +
				"\nCritique the trade plan from an aggressive, return-seeking perspective."
		},
	})
	r.Register(domain.AgentSafe, &promptExecutor{
		gen:    gen,
		system: "You are a conservative risk debater. Argue for capital preservation.",
		build: func(in ExecContext) string {
			return promptHeader(in) + insightsSection(in, domain.AgentTrader) +
				"\nCritique the trade plan from a conservative, capital-preserving perspective."
		},
	})
	r.Register(domain.AgentNeutral, &promptExecutor{
		gen:    gen,
		system: "You are a neutral risk debater. Weigh upside against downside dispassionately.",
		build: func(in ExecContext) string {
			return promptHeader(in) + insightsSection(in, domain.AgentTrader) +
				"\nCritique the trade plan from a balanced perspective."
		},
	})
	r.Register(domain.AgentRiskJudge, &promptExecutor{
		gen:    gen,
		system: "You are the risk judge. Issue the final, binding recommendation.",
		build: func(in ExecContext) string {
			return promptHeader(in) +
				insightsSection(in, domain.AgentTrader,
					domain.AgentRisky, domain.AgentSafe, domain.AgentNeutral) +
				"\nIssue the final recommendation: BUY, SELL or HOLD, with target size and rationale."
		},
	})

	return r
}

// Register добавляет исполнителя для агента.
func (r *Registry) Register(agent string, executor Executor) {
	r.executors[agent] = executor
}

// Get возвращает исполнителя агента.
func (r *Registry) Get(agent string) (Executor, error) {
	executor, ok := r.executors[agent]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}
	return executor, nil
}
