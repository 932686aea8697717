package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/report"
	"github.com/pengelbrecht/orch/internal/tui"
	"github.com/pengelbrecht/orch/internal/update"
)

// runOptions are the run flags. Flags left unset keep the configured value.
type runOptions struct {
	maxReplans    int
	mergeStrategy string
	model         string
	timeout       time.Duration
	budget        float64
	planOnly      bool
	useTUI        bool
	headless      bool
	allowDirty    bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&o.maxReplans, "max-replans", 2, "Replans allowed after permission violations")
	f.StringVar(&o.mergeStrategy, "merge-strategy", "all-or-nothing", "Merge policy: all-or-nothing or incremental")
	f.StringVarP(&o.model, "model", "m", "", "Default model for delegated agents")
	f.DurationVar(&o.timeout, "timeout", 0, "Timeout per agent task (0 = configured)")
	f.Float64Var(&o.budget, "budget", 0, "Maximum cost in dollars for the whole run (0 = configured)")
	f.BoolVar(&o.planOnly, "plan-only", false, "Print the plan without running agents")
	f.BoolVar(&o.useTUI, "tui", false, "Show the interactive live view")
	f.BoolVar(&o.headless, "headless", false, "Emit JSON Lines events and the result on stdout")
	f.BoolVar(&o.allowDirty, "allow-dirty", false, "Run even with uncommitted changes in the repository")
	cmd.MarkFlagsMutuallyExclusive("tui", "headless")
}

// apply overrides a's configuration with the flags the user set.
func (o *runOptions) apply(cmd *cobra.Command, a *app) error {
	f := cmd.Flags()
	cfg := a.cfg
	if f.Changed("max-replans") {
		if o.maxReplans < 0 {
			return fmt.Errorf("--max-replans must not be negative")
		}
		cfg.Run.MaxReplans = o.maxReplans
	}
	if f.Changed("merge-strategy") {
		if _, err := engine.ParseMergePolicy(o.mergeStrategy); err != nil {
			return err
		}
		cfg.Run.MergeStrategy = o.mergeStrategy
	}
	if f.Changed("model") {
		cfg.Agent.Model = o.model
	}
	if f.Changed("timeout") && o.timeout > 0 {
		cfg.Agent.Timeout = o.timeout
	}
	if f.Changed("budget") && o.budget > 0 {
		cfg.Run.MaxCostUSD = o.budget
	}
	if o.allowDirty {
		cfg.Run.RequireClean = false
	}
	return nil
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Plan a request and run it with the owning agents",
		Long: `Run asks the planning agent for a plan, runs each task in the owning agent's
worktree and merges the work when no agent changed files it does not own.
Permission violations trigger a replan, up to --max-replans times.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, args)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runRequest(cmd *cobra.Command, opts *runOptions, args []string) error {
	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		return errors.New("empty request")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := opts.apply(cmd, a); err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.planOnly {
		return printPlan(ctx, a, out, request, false)
	}
	if err := a.preflight(ctx, a.cfg.Run.RequireClean); err != nil {
		return err
	}

	runID := uuid.NewString()
	var eng *engine.Engine
	planner := a.planner(func(line string) {
		if eng != nil && eng.OnProgress != nil {
			eng.OnProgress("dock", line)
		}
	})
	eng = a.engine(planner)

	runCfg := engine.RunConfig{
		TaskOptions:       a.cfg.TaskOptions(),
		Request:           request,
		RunID:             runID,
		MaxReplanAttempts: a.cfg.Run.MaxReplans,
		MergePolicy:       a.cfg.MergePolicy(),
		Limits:            a.cfg.Limits(),
	}
	if runCfg.MaxReplanAttempts == 0 {
		runCfg.MaxReplanAttempts = -1
	}
	a.logger.Info("run starting", "run_id", runID, "merge_policy", runCfg.MergePolicy.String(), "max_replans", a.cfg.Run.MaxReplans)

	var result *engine.RunResult
	switch {
	case opts.useTUI:
		result, err = tui.Run(ctx, eng, tui.Config{RunID: runID, Request: request}, func(ctx context.Context) (*engine.RunResult, error) {
			return eng.Run(ctx, runCfg)
		})
	case opts.headless:
		h := engine.NewHeadlessOutput(true, runID)
		h.SetWriter(out)
		h.Attach(eng)
		result, err = eng.Run(ctx, runCfg)
		switch {
		case ctx.Err() != nil:
			h.Interrupted()
		case err != nil:
			h.Error(err)
		}
		if result != nil {
			h.Complete(result)
		}
		if err != nil {
			return err
		}
		if !result.Merged {
			return errNotMerged
		}
		return nil
	default:
		h := engine.NewHeadlessOutput(false, "")
		h.SetWriter(out)
		h.Attach(eng)
		result, err = eng.Run(ctx, runCfg)
		if ctx.Err() != nil {
			h.Interrupted()
		}
	}

	if result != nil {
		fmt.Fprintln(out)
		report.Write(out, report.FromRun(result))
		report.Usage(out, result)
	}
	if err != nil {
		return err
	}

	notifyUpdate(ctx, cmd.ErrOrStderr())
	if !result.Merged {
		return errNotMerged
	}
	return nil
}

func newPlanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Ask the planning agent for a plan without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return printPlan(cmd.Context(), a, cmd.OutOrStdout(), strings.Join(args, " "), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}

func printPlan(ctx context.Context, a *app, w io.Writer, request string, asJSON bool) error {
	planner := a.planner(func(line string) {
		a.logger.Debug("dock", "activity", line)
	})
	p, err := planner.Plan(ctx, request, nil)
	if err != nil {
		return err
	}
	if asJSON {
		fmt.Fprintln(w, p.JSON())
		return nil
	}
	fmt.Fprint(w, report.Plan(p, terminalWidth()))
	return nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// notifyUpdate prints a one-line notice when a newer release exists. The
// check is cached for a day and gives up after a few seconds.
func notifyUpdate(ctx context.Context, w io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if notice := update.CheckPeriodically(ctx, version); notice != "" {
		fmt.Fprintln(w, notice)
	}
}
