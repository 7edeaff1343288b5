package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRebalanceCmd создаёт группу команд для управления ребалансировками.
func NewRebalanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Manage portfolio rebalances",
	}

	cmd.AddCommand(
		newRebalanceListCmd(clientFn, outputFn),
		newRebalanceCreateCmd(clientFn, outputFn),
		newRebalanceShowCmd(clientFn, outputFn),
		newRebalanceCancelCmd(clientFn, outputFn),
		newRebalanceTasksCmd(clientFn, outputFn),
		newRebalanceOrdersCmd(clientFn, outputFn),
	)

	return cmd
}

func newRebalanceListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var ownerID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rebalances",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			rebalances, err := client.ListRebalances(ListRebalancesOpts{
				OwnerID: ownerID,
				Status:  status,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "TICKERS", "BUILD", "CREATED"}
			rows := make([][]string, len(rebalances))
			for i, r := range rebalances {
				rows[i] = []string{
					r.ID, r.Status, strings.Join(r.Tickers, ","), r.BuildStatus, r.CreatedAt,
				}
			}

			out.Print(headers, rows, rebalances)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Filter by owner ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, ERROR, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRebalanceCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var ownerID string
	var tickers []string
	var maxParallel int
	var minSuccess float64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a portfolio rebalance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			reb, err := client.CreateRebalance(CreateRebalanceRequest{
				OwnerID:            ownerID,
				Tickers:            tickers,
				MaxParallel:        maxParallel,
				MinSuccessFraction: minSuccess,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Rebalance created: %s", reb.ID))
			out.Print(
				[]string{"ID", "STATUS", "TICKERS", "MAX_PARALLEL", "CREATED"},
				[][]string{{
					reb.ID, reb.Status, strings.Join(reb.Tickers, ","),
					strconv.Itoa(reb.MaxParallel), reb.CreatedAt,
				}},
				reb,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner ID (required)")
	cmd.Flags().StringSliceVar(&tickers, "ticker", nil, "Ticker to analyze (repeatable, required)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Maximum concurrent ticker tasks")
	cmd.Flags().Float64Var(&minSuccess, "min-success", 0, "Minimum fraction of successful tasks for portfolio build")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("ticker")

	return cmd
}

func newRebalanceShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show rebalance details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			reb, err := client.GetRebalance(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "STATUS", "TICKERS", "BUILD", "ERROR", "CREATED"},
				[][]string{{
					reb.ID, reb.Status, strings.Join(reb.Tickers, ","),
					reb.BuildStatus, reb.Error, reb.CreatedAt,
				}},
				reb,
			)
			return nil
		},
	}
}

func newRebalanceCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a rebalance and its ticker tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			reb, err := client.CancelRebalance(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Rebalance cancelled: %s", reb.ID))
			return nil
		},
	}
}

func newRebalanceTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks REBALANCE_ID",
		Short: "List ticker tasks of a rebalance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListRebalanceTasks(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "TICKER", "STATUS", "ERROR_KIND", "CREATED"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{t.ID, t.Ticker, t.Status, t.ErrorKind, t.CreatedAt}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

func newRebalanceOrdersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "orders REBALANCE_ID",
		Short: "List trade orders of a rebalance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			orders, err := client.ListRebalanceOrders(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "TICKER", "SIDE", "QTY", "STATUS"}
			rows := make([][]string, len(orders))
			for i, o := range orders {
				rows[i] = []string{o.ID, o.Ticker, o.Side, strconv.Itoa(o.Quantity), o.Status}
			}

			out.Print(headers, rows, orders)
			return nil
		},
	}
}
