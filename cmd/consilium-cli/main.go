// Consilium CLI — инструмент командной строки для управления
// задачами анализа, ребалансировками, заявками и расписаниями
// через HTTP API.
//
// Использование:
//
//	consilium [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task       Управление задачами анализа
//	rebalance  Управление ребалансировками
//	order      Управление торговыми заявками
//	schedule   Управление расписаниями
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkovri/Consilium/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "consilium",
		Short:         "Consilium CLI — multi-agent portfolio analysis tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewRebalanceCmd(clientFn, outputFn),
		cli.NewOrderCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
