package coordinator

import (
	"context"
	"testing"

	"github.com/mkovri/Consilium/internal/broker"
	"github.com/mkovri/Consilium/internal/domain"
)

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		name    string
		verdict string
		want    domain.OrderSide
	}{
		{
			name:    "marker with buy",
			verdict: "Долгая аргументация...\nFINAL RECOMMENDATION: **BUY** with a small position.",
			want:    domain.OrderSideBuy,
		},
		{
			name:    "marker overrides earlier mentions",
			verdict: "The bear case says SELL, the bull case says BUY.\nFinal recommendation: HOLD until earnings.",
			want:    domain.OrderSideHold,
		},
		{
			name:    "no marker takes last mention",
			verdict: "Initially I leaned BUY, but risk outweighs upside: SELL.",
			want:    domain.OrderSideSell,
		},
		{
			name:    "lowercase verdict",
			verdict: "final recommendation: sell",
			want:    domain.OrderSideSell,
		},
		{
			name:    "unparseable defaults to hold",
			verdict: "The committee could not reach a decision.",
			want:    domain.OrderSideHold,
		},
		{
			name:    "empty defaults to hold",
			verdict: "",
			want:    domain.OrderSideHold,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseVerdict(tc.verdict); got != tc.want {
				t.Errorf("ParseVerdict(%q) = %s, want %s", tc.verdict, got, tc.want)
			}
		})
	}
}

func TestBuild_SellQuantityFromPosition(t *testing.T) {
	env := newCoordEnv(t, []string{"AAPL", "NVDA"}, 2, 0.5)
	env.broker.snapshot = &broker.PortfolioSnapshot{
		OwnerID: env.reb.OwnerID,
		Positions: map[string]broker.Position{
			"AAPL": {Ticker: "AAPL", Quantity: 37, AvgPrice: 180},
		},
	}

	env.fanOutDone(t)
	env.finishTask(t, "AAPL", domain.TaskStatusCompleted, "FINAL RECOMMENDATION: SELL")
	env.finishTask(t, "NVDA", domain.TaskStatusCompleted, "FINAL RECOMMENDATION: SELL")

	if err := env.coord.reconcile(context.Background(), env.reb.ID); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	aapl, ok := env.orders.byTicker("AAPL")
	if !ok {
		t.Fatal("no AAPL order")
	}
	if aapl.Side != domain.OrderSideSell || aapl.Quantity != 37 {
		t.Errorf("sell quantity must match the open position, got %s %d", aapl.Side, aapl.Quantity)
	}

	// Продажа без открытой позиции вырождается в HOLD.
	nvda, ok := env.orders.byTicker("NVDA")
	if !ok {
		t.Fatal("no NVDA order")
	}
	if nvda.Side != domain.OrderSideHold || nvda.Quantity != 0 {
		t.Errorf("sell without a position must degrade to HOLD, got %s %d", nvda.Side, nvda.Quantity)
	}
}

func TestBuild_BrokerOutageRecordedAsBuildError(t *testing.T) {
	env := newCoordEnv(t, []string{"AAPL"}, 1, 0.5)
	env.broker.err = broker.ErrUnavailable

	env.fanOutDone(t)
	env.finishTask(t, "AAPL", domain.TaskStatusCompleted, "FINAL RECOMMENDATION: BUY")

	if err := env.coord.reconcile(context.Background(), env.reb.ID); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	reb := env.rebalances.get(env.reb.ID)
	if reb.Status != domain.RebalanceStatusCompleted {
		t.Errorf("quorum result must stand regardless of the build, got %s", reb.Status)
	}
	if reb.BuildStatus != domain.BuildStatusError {
		t.Errorf("build failure must be recorded, got %s", reb.BuildStatus)
	}

	orders, _ := env.orders.ListByRebalance(context.Background(), env.reb.ID)
	if len(orders) != 0 {
		t.Errorf("no orders on build failure, got %d", len(orders))
	}
}
