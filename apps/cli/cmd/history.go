package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/history"
	"github.com/abdul-hamid-achik/hitwire/packages/output"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs",
	Long: `List the runs recorded with "hitwire run --history", newest first.
Pass a run ID to print its full timeline.

Examples:
  hitwire history --db runs.db
  hitwire history --db runs.db --limit 50
  hitwire history --db runs.db 0d9c6d2e-5c1f-4c55-9a43-1f0b9f6f4a1e`,
	Args: cobra.MaximumNArgs(1),
	RunE: historyCommand,
}

var (
	historyDBFlag      string
	historyLimitFlag   int
	historyNoColorFlag bool
)

func init() {
	historyCmd.Flags().StringVar(&historyDBFlag, "db", getEnvString("HITWIRE_HISTORY", "hitwire-history.db"), "History database (env: HITWIRE_HISTORY)")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum number of runs to list, 0 lists all")
	historyCmd.Flags().BoolVar(&historyNoColorFlag, "no-color", getEnvBool("HITWIRE_NO_COLOR", false), "Disable colored output (env: HITWIRE_NO_COLOR)")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	store, err := history.Open(historyDBFlag)
	if err != nil {
		return configExit(fmt.Errorf("cannot open history database: %w", err))
	}
	defer store.Close()

	formatter := output.NewConsoleFormatter(
		output.WithWriter(cmd.OutOrStdout()),
		output.WithNoColor(historyNoColorFlag),
		output.WithVerbose(len(args) == 1),
	)

	if len(args) == 1 {
		run, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return &ExitError{Code: ExitUsageError, Err: fmt.Errorf("run %s not found: %w", args[0], err)}
		}
		formatter.FormatRuns([]history.Run{run})
		return nil
	}

	runs, err := store.List(cmd.Context(), historyLimitFlag)
	if err != nil {
		return err
	}
	formatter.FormatRuns(runs)
	return nil
}
