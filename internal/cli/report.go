package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/report"
	"github.com/tracefold/tracefold/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database      string
	PlatformRunID string
	ScenarioRunID string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize intake state per run scope",
		Long: `Report prints the per-scope intake summary: candidate counts, chain
resolution, the metrics ledger, quarantine reasons, health, and the
lineage fingerprint.

Exit codes:
  0 - All reported scopes are GREEN or AMBER
  1 - At least one scope is RED
  2 - Command error

Examples:
  tracefold report --db ./tracefold.db
  tracefold report --db ./tracefold.db --platform-run plat-1 --scenario-run scen-1
  tracefold report --db ./tracefold.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.PlatformRunID, "platform-run", "", "restrict to one platform run id")
	cmd.Flags().StringVar(&opts.ScenarioRunID, "scenario-run", "", "restrict to one scenario run id")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	reporter := &report.Reporter{Store: st}

	var snapshots []report.Snapshot
	if opts.PlatformRunID != "" || opts.ScenarioRunID != "" {
		if opts.PlatformRunID == "" || opts.ScenarioRunID == "" {
			return NewExitError(ExitCommandError, "--platform-run and --scenario-run must be given together")
		}
		snap, err := reporter.Scope(ctx, envelope.Scope{
			PlatformRunID: opts.PlatformRunID,
			ScenarioRunID: opts.ScenarioRunID,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build report", err)
		}
		snapshots = []report.Snapshot{snap}
	} else {
		snapshots, err = reporter.Export(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build report", err)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if done, err := formatter.JSON(snapshots); err != nil {
		return err
	} else if !done {
		writeReportText(cmd.OutOrStdout(), snapshots)
	}

	for _, snap := range snapshots {
		if snap.Health == report.HealthRed {
			return NewExitError(ExitFailure, fmt.Sprintf("scope %s/%s is RED",
				snap.Scope.PlatformRunID, snap.Scope.ScenarioRunID))
		}
	}
	return nil
}

func writeReportText(w io.Writer, snapshots []report.Snapshot) {
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "No scopes recorded.")
		return
	}
	for _, snap := range snapshots {
		fmt.Fprintf(w, "Scope %s/%s  [%s]\n", snap.Scope.PlatformRunID, snap.Scope.ScenarioRunID, snap.Health)
		fmt.Fprintf(w, "  fingerprint: %s\n", snap.Fingerprint)
		fmt.Fprintf(w, "  chains: %d resolved, %d unresolved\n", snap.Chains.Resolved, snap.Chains.Unresolved)

		kinds := make([]string, 0, len(snap.Candidates))
		for kind := range snap.Candidates {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", kind, snap.Candidates[kind])
		}

		names := make([]string, 0, len(snap.Metrics))
		for name := range snap.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d\n", name, snap.Metrics[name])
		}

		reasons := make([]string, 0, len(snap.QuarantineReasons))
		for reason := range snap.QuarantineReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(w, "  quarantine %s: %d\n", reason, snap.QuarantineReasons[reason])
		}
		fmt.Fprintln(w)
	}
}
