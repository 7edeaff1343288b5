package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewOrderCmd создаёт группу команд для управления торговыми заявками.
func NewOrderCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage trade orders",
	}

	cmd.AddCommand(
		newOrderShowCmd(clientFn, outputFn),
		newOrderApproveCmd(clientFn, outputFn),
		newOrderRejectCmd(clientFn, outputFn),
		newOrderSubmitCmd(clientFn, outputFn),
	)

	return cmd
}

func newOrderShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show trade order details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			order, err := client.GetOrder(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "TICKER", "SIDE", "QTY", "STATUS", "RATIONALE"},
				[][]string{{
					order.ID, order.Ticker, order.Side,
					strconv.Itoa(order.Quantity), order.Status, order.Rationale,
				}},
				order,
			)
			return nil
		},
	}
}

func newOrderApproveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "approve ID",
		Short: "Approve a pending trade order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			order, err := client.ApproveOrder(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Order approved: %s", order.ID))
			return nil
		},
	}
}

func newOrderRejectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reject ID",
		Short: "Reject a pending trade order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			order, err := client.RejectOrder(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Order rejected: %s", order.ID))
			return nil
		},
	}
}

func newOrderSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "submit ID",
		Short: "Submit an approved order to the broker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			order, err := client.SubmitOrder(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Order submitted to broker: %s", order.ID))
			return nil
		},
	}
}
