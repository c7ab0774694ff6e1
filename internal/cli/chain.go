package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tracefold/tracefold/internal/store"
)

// ChainOptions holds flags for the chain command.
type ChainOptions struct {
	*RootOptions
	Database string
}

// ChainView is the full lineage view of one decision.
type ChainView struct {
	Chain    store.ChainRecord     `json:"chain"`
	Intents  []store.IntentRecord  `json:"intents"`
	Outcomes []store.OutcomeRecord `json:"outcomes"`
}

// NewChainCommand creates the chain command.
func NewChainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chain <decision-id>",
		Short: "Show the lineage chain for a decision",
		Long: `Chain prints everything recorded for a decision id: the decision
contribution (if admitted), the linked intents and outcomes, the chain
status, and the unresolved reasons.

Exit codes:
  0 - Chain found
  1 - No contribution recorded for the decision id
  2 - Command error

Examples:
  tracefold chain dec-42 --db ./tracefold.db
  tracefold chain dec-42 --db ./tracefold.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChain(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runChain(opts *ChainOptions, cmd *cobra.Command, decisionID string) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	chain, ok, err := st.GetLineageChain(ctx, decisionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read chain", err)
	}
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("no chain recorded for decision %s", decisionID))
	}

	intents, err := st.ListLineageIntents(ctx, decisionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read intents", err)
	}
	outcomes, err := st.ListLineageOutcomes(ctx, decisionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outcomes", err)
	}

	view := ChainView{Chain: chain, Intents: intents, Outcomes: outcomes}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if done, err := formatter.JSON(view); done || err != nil {
		return err
	}
	writeChainText(cmd.OutOrStdout(), view)
	return nil
}

func writeChainText(w io.Writer, view ChainView) {
	c := view.Chain
	fmt.Fprintf(w, "Decision %s  [%s]\n", c.DecisionID, c.ChainStatus)
	if c.DecisionEventID != "" {
		fmt.Fprintf(w, "  decision event: %s (from %s)\n", c.DecisionEventID, c.DecisionRef)
		fmt.Fprintf(w, "  run config digest: %s\n", c.RunConfigDigest)
	} else {
		fmt.Fprintln(w, "  decision event: (not yet observed)")
	}
	if len(c.UnresolvedReasons) > 0 {
		fmt.Fprintf(w, "  unresolved: %s\n", strings.Join(c.UnresolvedReasons, ", "))
	}
	for _, in := range view.Intents {
		fmt.Fprintf(w, "  intent %s (%s) from %s\n", in.ActionID, in.ActionType, in.SourceRef)
	}
	for _, out := range view.Outcomes {
		fmt.Fprintf(w, "  outcome %s action=%s status=%s from %s\n",
			out.OutcomeID, out.ActionID, out.Status, out.SourceRef)
	}
}
