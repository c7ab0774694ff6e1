package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/store"
)

// QuarantineOptions holds flags for the quarantine command.
type QuarantineOptions struct {
	*RootOptions
	Database      string
	PlatformRunID string
	ScenarioRunID string
}

// NewQuarantineCommand creates the quarantine command.
func NewQuarantineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QuarantineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "List quarantined records for a run scope",
		Long: `Quarantine lists the append-only rejection log for one run scope, in
append order: source coordinates, reason code, and detail. The raw payload
is included in json output.

Examples:
  tracefold quarantine --db ./tracefold.db --platform-run plat-1 --scenario-run scen-1
  tracefold quarantine --db ./tracefold.db --platform-run plat-1 --scenario-run scen-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuarantine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.PlatformRunID, "platform-run", "", "platform run id (required)")
	_ = cmd.MarkFlagRequired("platform-run")
	cmd.Flags().StringVar(&opts.ScenarioRunID, "scenario-run", "", "scenario run id (required)")
	_ = cmd.MarkFlagRequired("scenario-run")

	return cmd
}

func runQuarantine(opts *QuarantineOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	scope := envelope.Scope{PlatformRunID: opts.PlatformRunID, ScenarioRunID: opts.ScenarioRunID}
	rows, err := st.ListQuarantine(ctx, scope)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read quarantine", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if done, err := formatter.JSON(rows); done || err != nil {
		return err
	}
	writeQuarantineText(cmd.OutOrStdout(), rows)
	return nil
}

func writeQuarantineText(w io.Writer, rows []store.QuarantineRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "Quarantine is empty.")
		return
	}
	for _, q := range rows {
		fmt.Fprintf(w, "#%d  %s  %s\n", q.ID, q.Source, q.ReasonCode)
		fmt.Fprintf(w, "    %s\n", q.Detail)
	}
}
