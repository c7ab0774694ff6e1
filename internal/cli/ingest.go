package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracefold/tracefold/internal/bus"
	"github.com/tracefold/tracefold/internal/intake"
	"github.com/tracefold/tracefold/internal/policy"
	"github.com/tracefold/tracefold/internal/report"
	"github.com/tracefold/tracefold/internal/store"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
	Dir      string
	Topics   []string
	Policy   string
	Follow   bool
}

// IngestSummary is the result reported after an ingest run.
type IngestSummary struct {
	Topics    []string          `json:"topics"`
	Snapshots []report.Snapshot `json:"snapshots"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest event files into the lineage store",
		Long: `Ingest reads NDJSON partition files from a directory laid out as
<dir>/<topic>/<partition>.ndjson, validates every record against the intake
policy, and admits candidates into the store. Checkpoints make re-running
over the same directory a no-op for already-processed offsets.

Exit codes:
  0 - Ingest completed
  2 - Command error (bad paths, unreadable policy, write failure)

Examples:
  tracefold ingest --db ./tracefold.db --dir ./events
  tracefold ingest --db ./tracefold.db --dir ./events --topic decisions
  tracefold ingest --db ./tracefold.db --dir ./events --policy intake.cue`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory of topic/partition NDJSON files (required)")
	_ = cmd.MarkFlagRequired("dir")
	cmd.Flags().StringSliceVar(&opts.Topics, "topic", nil, "topic to ingest (repeatable; default all)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to CUE intake policy (default embedded)")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "keep polling for new records until interrupted")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Follow {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	pol := policy.Default()
	if opts.Policy != "" {
		pol, err = policy.LoadFile(opts.Policy)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load policy", err)
		}
	}

	fb, err := bus.OpenFileBus(opts.Dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open event directory", err)
	}

	topics := opts.Topics
	if len(topics) == 0 {
		topics = fb.Topics()
	}
	if len(topics) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no topics found under %s", opts.Dir))
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logHandler := slog.NewTextHandler(io.Discard, nil)
	if opts.Verbose {
		logHandler = slog.NewTextHandler(cmd.ErrOrStderr(), nil)
	}

	consumer := &intake.Consumer{
		Bus:       fb,
		Processor: &intake.Processor{Store: st, Policy: pol, Logger: slog.New(logHandler)},
		Logger:    slog.New(logHandler),
		Drain:     !opts.Follow,
	}

	formatter.VerboseLog("ingesting topics %v from %s", topics, opts.Dir)
	if err := consumer.RunTopics(ctx, topics); err != nil {
		if ctx.Err() != nil {
			formatter.VerboseLog("ingest interrupted")
		} else {
			return WrapExitError(ExitCommandError, "ingest failed", err)
		}
	}

	reporter := &report.Reporter{Store: st}
	snapshots, err := reporter.Export(ctx)
	if err != nil {
		// Best effort when interrupted; a cancelled context cannot read.
		snapshots = nil
	}

	summary := IngestSummary{Topics: topics, Snapshots: snapshots}
	if done, err := formatter.JSON(summary); done || err != nil {
		return err
	}
	return writeIngestText(cmd.OutOrStdout(), summary)
}

func writeIngestText(w io.Writer, summary IngestSummary) error {
	fmt.Fprintf(w, "Ingested topics: %v\n", summary.Topics)
	for _, snap := range summary.Snapshots {
		fmt.Fprintf(w, "\nScope %s/%s  [%s]\n", snap.Scope.PlatformRunID, snap.Scope.ScenarioRunID, snap.Health)
		fmt.Fprintf(w, "  chains: %d resolved, %d unresolved\n", snap.Chains.Resolved, snap.Chains.Unresolved)
		fmt.Fprintf(w, "  accepted=%d rejected=%d duplicates=%d\n",
			snap.Metrics[store.MetricAccepted],
			snap.Metrics[store.MetricRejected],
			snap.Metrics[store.MetricDuplicate])
		for reason, n := range snap.QuarantineReasons {
			fmt.Fprintf(w, "  quarantine %s: %d\n", reason, n)
		}
	}
	return nil
}
