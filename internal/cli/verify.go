package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database      string
	PlatformRunID string
	ScenarioRunID string
	Expect        string
}

// VerifyResult is the fingerprint verification outcome.
type VerifyResult struct {
	Scope       envelope.Scope `json:"scope"`
	Fingerprint string         `json:"fingerprint"`
	Expected    string         `json:"expected,omitempty"`
	Match       *bool          `json:"match,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compute or verify the lineage fingerprint for a scope",
		Long: `Verify computes the order-independent lineage fingerprint for one run
scope. Two stores fed the same admitted content produce the same
fingerprint regardless of partition layout or arrival order, so comparing
fingerprints across environments verifies convergence.

Exit codes:
  0 - Fingerprint computed (and matched --expect, if given)
  1 - Fingerprint differs from --expect
  2 - Command error

Examples:
  tracefold verify --db ./tracefold.db --platform-run plat-1 --scenario-run scen-1
  tracefold verify --db ./a.db --platform-run plat-1 --scenario-run scen-1 --expect <digest>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.PlatformRunID, "platform-run", "", "platform run id (required)")
	_ = cmd.MarkFlagRequired("platform-run")
	cmd.Flags().StringVar(&opts.ScenarioRunID, "scenario-run", "", "scenario run id (required)")
	_ = cmd.MarkFlagRequired("scenario-run")
	cmd.Flags().StringVar(&opts.Expect, "expect", "", "fingerprint to compare against")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	scope := envelope.Scope{PlatformRunID: opts.PlatformRunID, ScenarioRunID: opts.ScenarioRunID}
	fingerprint, err := st.Fingerprint(ctx, scope)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute fingerprint", err)
	}

	result := VerifyResult{Scope: scope, Fingerprint: fingerprint}
	if opts.Expect != "" {
		match := fingerprint == opts.Expect
		result.Expected = opts.Expect
		result.Match = &match
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if done, err := formatter.JSON(result); err != nil {
		return err
	} else if !done {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", fingerprint)
		if result.Match != nil {
			if *result.Match {
				fmt.Fprintln(cmd.OutOrStdout(), "fingerprint matches")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "fingerprint MISMATCH")
			}
		}
	}

	if result.Match != nil && !*result.Match {
		return NewExitError(ExitFailure, "fingerprint does not match expected value")
	}
	return nil
}
