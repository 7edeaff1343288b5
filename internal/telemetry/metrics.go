package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Доменные метрики. Регистрируются в default registry и отдаются
// через /metrics каждого бинарника.
var (
	// AgentInvocations — вызовы агентов по итогу (completed, error,
	// short_circuit, blocked, retry_scheduled).
	AgentInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consilium_agent_invocations_total",
		Help: "Agent invocations by outcome",
	}, []string{"agent", "outcome"})

	// AgentRetries — переназначенные попытки агентов.
	AgentRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consilium_agent_retries_total",
		Help: "Agent retry attempts dispatched",
	}, []string{"agent"})

	// TasksFinished — терминальные задачи анализа по статусу.
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consilium_tasks_finished_total",
		Help: "Analysis tasks reaching a terminal status",
	}, []string{"status"})

	// RebalancesFinished — терминальные ребалансировки по статусу.
	RebalancesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consilium_rebalances_finished_total",
		Help: "Rebalances reaching a terminal status",
	}, []string{"status"})

	// QuorumShortfalls — ребалансировки, не набравшие кворум.
	QuorumShortfalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consilium_quorum_shortfalls_total",
		Help: "Rebalances failed due to quorum shortfall",
	})
)
