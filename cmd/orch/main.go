package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

// errNotMerged ends a run or skim whose changes were rejected. The report
// has already been printed, so main only sets the exit status.
var errNotMerged = errors.New("changes were not merged")

func newRootCmd() *cobra.Command {
	opts := &runOptions{}

	root := &cobra.Command{
		Use:   "orch [request]",
		Short: "Ownership-aware multi-agent orchestrator",
		Long: `orch plans a change with a planning agent, delegates each piece to the
agent that owns the affected files, runs every agent in its own git worktree
and merges the result only if no agent touched files it does not own.

A bare request is shorthand for "orch run <request>".`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runRequest(cmd, opts, args)
		},
	}
	root.PersistentFlags().StringP("path", "C", ".", "Repository root")
	opts.bind(root)

	root.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newSkimCmd(),
		newAgentsCmd(),
		newWorktreesCmd(),
		newUpgradeCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		if !errors.Is(err, errNotMerged) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
