package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pengelbrecht/orch/internal/report"
	"github.com/pengelbrecht/orch/internal/skim"
	"github.com/pengelbrecht/orch/internal/update"
)

func newSkimCmd() *cobra.Command {
	var (
		action     string
		allowDirty bool
	)
	cmd := &cobra.Command{
		Use:   "skim <skimsystem>",
		Short: "Resolve the change requests a skimsystem left in sidecar files",
		Long: `Skim runs the skimsystem's integration command, collects the pending change
requests it wrote into sidecar files and hands each subsystem's requests to
the owning agent. The changes merge only if every agent succeeds without
violations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := a.preflight(ctx, a.cfg.Run.RequireClean && !allowDirty); err != nil {
				return err
			}

			eng := a.engine(nil)
			lc := skim.New(eng, a.dir, a.workspace, skim.NewCommandRunner(a.cfg.Integration.Command, a.root),
				skim.WithLogger(a.logger.With("component", "skim")),
				skim.WithMetrics(a.metrics),
				skim.WithTaskOptions(a.cfg.TaskOptions()),
			)

			res, err := lc.Run(ctx, args[0], action)
			if err != nil {
				return err
			}
			if len(res.Packets) == 0 {
				fmt.Fprintf(out, "No pending change requests for %s.\n", res.Skimsystem)
				return nil
			}
			for _, p := range res.Packets {
				fmt.Fprintf(out, "%s: %d change requests for %s\n", p.Subsystem, p.Requests(), p.Agent)
			}
			fmt.Fprintln(out)
			report.Write(out, report.FromSkim(res))
			if !res.Merged {
				return errNotMerged
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Action passed to the integration command")
	cmd.Flags().BoolVar(&allowDirty, "allow-dirty", false, "Run even with uncommitted changes in the repository")
	return cmd
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents and the files they own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			fmt.Fprintln(cmd.OutOrStdout(), report.Agents(a.dir))
			return nil
		},
	}
}

func newWorktreesCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "worktrees",
		Short: "List orch worktrees left in the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if prune {
				removed, warnings, err := a.workspace.Prune(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d worktrees.\n", len(removed))
				for _, w := range warnings {
					fmt.Fprintf(out, "  - %s\n", w)
				}
				return nil
			}

			wts, err := a.workspace.List(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, report.Worktrees(wts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Remove every orch worktree and branch")
	return cmd
}

func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade orch to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Current version: %s\n", version)
			fmt.Fprintln(out, "Checking for updates...")

			rel, err := update.Update(cmd.Context(), version)
			if err != nil {
				if errors.Is(err, update.ErrDevBuild) {
					return fmt.Errorf("%w; install a release from GitHub", err)
				}
				return err
			}
			fmt.Fprintf(out, "Upgraded to %s\n", rel.Version)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orch version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "orch %s\n", version)
		},
	}
}
