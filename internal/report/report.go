// Package report renders run outcomes, plans and the ownership registry
// for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/skim"
	"github.com/pengelbrecht/orch/internal/worktree"
)

var (
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("78")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")
	accentColor  = lipgloss.Color("86")

	okStyle      = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	deniedStyle  = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	headingStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// Outcome is what every report needs from a run or a skim.
type Outcome struct {
	Merged          bool
	Reason          string
	Violations      []permission.AgentViolations
	Results         []engine.AgentResult
	CleanupWarnings []worktree.CleanupWarning
}

// FromRun builds an Outcome from a run.
func FromRun(r *engine.RunResult) Outcome {
	o := Outcome{
		Merged:          r.Merged,
		Violations:      r.Violations,
		Results:         r.Results,
		CleanupWarnings: r.CleanupWarnings,
	}
	if err := r.Err(); err != nil {
		o.Reason = err.Error()
	}
	return o
}

// FromSkim builds an Outcome from a skim lifecycle.
func FromSkim(r *skim.Result) Outcome {
	o := Outcome{
		Merged:          r.Merged,
		Violations:      r.Violations,
		Results:         r.Results,
		CleanupWarnings: r.CleanupWarnings,
	}
	if !r.Merged {
		o.Reason = "changes rejected"
		if len(r.Violations) > 0 {
			o.Reason = "permission violations"
		}
	}
	return o
}

// Write prints the outcome: a verdict line, violations, one line per agent
// result and any cleanup warnings.
func Write(w io.Writer, o Outcome) {
	if o.Merged {
		fmt.Fprintln(w, okStyle.Render("OK:")+" All agent changes merged successfully.")
	} else {
		reason := o.Reason
		if reason == "" {
			reason = "changes were not merged"
		}
		fmt.Fprintln(w, failStyle.Render("FAIL:")+" "+reason)
		for _, av := range o.Violations {
			fmt.Fprintf(w, "\nAgent '%s' violations:\n", av.Agent)
			for _, v := range av.Violations {
				fmt.Fprintf(w, "  - %s: %s\n", v.Path, v.Reason)
			}
		}
	}

	if len(o.Results) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headingStyle.Render("Agent results:"))
		for _, r := range o.Results {
			fmt.Fprintf(w, "  %s %s (%d files)\n", statusTag(r.Status), r.Agent, len(r.FilesModified))
		}
	}

	if len(o.CleanupWarnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, deniedStyle.Render("Cleanup warnings:"))
		for _, cw := range o.CleanupWarnings {
			fmt.Fprintf(w, "  - %s\n", cw)
		}
	}
}

func statusTag(s engine.Status) string {
	switch s.Kind {
	case engine.StatusSuccess:
		return okStyle.Render("[OK]")
	case engine.StatusFailed:
		return failStyle.Render("[FAIL]") + " " + s.Message
	default:
		return deniedStyle.Render("[DENIED]")
	}
}

// Usage prints a one-line spend summary.
func Usage(w io.Writer, r *engine.RunResult) {
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d attempts, %d tokens, $%.4f, %s",
		r.Attempts, r.Usage.TotalTokens(), r.Usage.CostUSD, r.Duration.Round(1e9))))
}

// Plan renders p as terminal markdown. width <= 0 disables wrapping. The
// raw markdown is returned when rendering fails.
func Plan(p *plan.Plan, width int) string {
	md := p.Markdown()
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 4 {
		opts = append(opts, glamour.WithWordWrap(width-4))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// Agents renders the ownership registry: one row per agent with its role,
// the units it owns and the globs it may write.
func Agents(dir *ownership.Directory) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("AGENT", "ROLE", "UNITS", "GLOBS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headingStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, a := range dir.Agents() {
		role, _ := dir.RoleOf(a)
		var units []string
		for _, s := range dir.SubsystemsOf(a) {
			units = append(units, s.Name)
		}
		for _, s := range dir.SkimsystemsOf(a) {
			units = append(units, s.Name)
		}
		globs := dir.Globs(a)
		if role == ownership.RoleSkimsystem {
			globs = []string{"**/*" + dir.SidecarSuffix()}
		}
		t.Row(a, role.String(), strings.Join(units, ", "), strings.Join(globs, " "))
	}
	return t.Render()
}

// Worktrees renders orch worktrees.
func Worktrees(wts []*worktree.Worktree) string {
	if len(wts) == 0 {
		return mutedStyle.Render("No orch worktrees.")
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("RUN", "AGENT", "BRANCH", "PATH").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headingStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, wt := range wts {
		t.Row(wt.RunID, wt.Agent, wt.Branch, wt.Path)
	}
	return t.Render()
}
