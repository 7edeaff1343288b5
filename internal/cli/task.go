package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для управления задачами анализа.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage analysis tasks",
	}

	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskCreateCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskCancelCmd(clientFn, outputFn),
		newTaskRetryCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var ownerID string
	var rebalanceID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analysis tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(ListTasksOpts{
				OwnerID:     ownerID,
				RebalanceID: rebalanceID,
				Status:      status,
				Limit:       limit,
			})
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

	cmd.Flags().StringVar(&ownerID, "owner", "", "Filter by owner ID")
	cmd.Flags().StringVar(&rebalanceID, "rebalance-id", "", "Filter by rebalance ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, ERROR, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newTaskCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var ownerID string

	cmd := &cobra.Command{
		Use:   "create TICKER",
		Short: "Start analysis of a single ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.CreateTask(CreateTaskRequest{
				Ticker:  strings.ToUpper(args[0]),
				OwnerID: ownerID,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task created: %s", task.ID))
			out.Print(
				[]string{"ID", "TICKER", "STATUS", "CREATED"},
				[][]string{{task.ID, task.Ticker, task.Status, task.CreatedAt}},
				task,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner ID (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details with pipeline phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(task)
				return nil
			}

			out.Table(
				[]string{"ID", "TICKER", "STATUS", "CANCEL_REQUESTED", "ERROR", "CREATED"},
				[][]string{{
					task.ID, task.Ticker, task.Status,
					strconv.FormatBool(task.CancelRequested), task.Error, task.CreatedAt,
				}},
			)

			// Развёрнутое состояние конвейера: по строке на агента.
			headers := []string{"PHASE", "AGENT", "STATUS", "ATTEMPT", "ERROR"}
			var rows [][]string
			for _, phase := range task.Phases {
				for _, run := range phase.Agents {
					rows = append(rows, []string{
						phase.Name, run.Agent, run.Status, strconv.Itoa(run.Attempt), run.Error,
					})
				}
				if phase.Final != nil {
					rows = append(rows, []string{
						phase.Name, phase.Final.Agent, phase.Final.Status,
						strconv.Itoa(phase.Final.Attempt), phase.Final.Error,
					})
				}
			}
			out.Table(headers, rows)
			return nil
		},
	}
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Request cooperative cancellation of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.CancelTask(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cancellation requested: %s", task.ID))
			return nil
		},
	}
}

func newTaskRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry TASK_ID AGENT",
		Short: "Retry a failed agent of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			retry, err := client.RetryAgent(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Retry dispatched: agent %s, attempt %d", retry.Agent, retry.Attempt))
			return nil
		},
	}
}
