// Package prompt builds the system context handed to the planner and to
// each delegated agent.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/permission"
	"github.com/pengelbrecht/orch/internal/plan"
	"github.com/pengelbrecht/orch/internal/sidecar"
)

// PendingGroup is the set of open change requests recorded in one sidecar.
type PendingGroup struct {
	Sidecar  string
	Source   string
	Requests []sidecar.ChangeRequest
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"targets": func(t []string) string {
		if len(t) == 0 {
			return "all subsystems"
		}
		return strings.Join(t, ", ")
	},
}

var sections = template.Must(template.New("prompt").Funcs(funcs).Parse(sectionTemplates))

// render executes each named section against data and joins the non-empty
// results with blank lines.
func render(data any, names ...string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		var buf strings.Builder
		if err := sections.ExecuteTemplate(&buf, name, data); err != nil {
			// Only reachable if a section references a missing field.
			parts = append(parts, fmt.Sprintf("Error generating prompt: %v", err))
			continue
		}
		if s := strings.TrimSpace(buf.String()); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

type agentLine struct {
	Name        string
	Role        string
	Description string
}

type dockData struct {
	Raw         string
	Suffix      string
	Agents      []agentLine
	Subsystems  []ownership.Subsystem
	Skimsystems []ownership.Skimsystem
}

func newDockData(dir *ownership.Directory) dockData {
	d := dockData{
		Raw:         strings.TrimSpace(dir.Raw()),
		Suffix:      dir.SidecarSuffix(),
		Subsystems:  dir.Subsystems(),
		Skimsystems: dir.Skimsystems(),
	}
	for _, a := range dir.Agents() {
		role, _ := dir.RoleOf(a)
		d.Agents = append(d.Agents, agentLine{Name: a, Role: role.String(), Description: dir.Description(a)})
	}
	return d
}

// DockContext is the planner's system context: the raw declarations, the
// agent registry, ownership summaries, planning rules and the output schema.
func DockContext(dir *ownership.Directory) string {
	return render(newDockData(dir), "dock-intro", "dock-raw", "dock-agents", "dock-subsystems", "dock-skimsystems", "dock-rules", "dock-output")
}

type replanData struct {
	Attempt    int
	Violations []permission.AgentViolations
}

// ReplanContext extends DockContext with the violations that sank the
// previous attempt.
func ReplanContext(dir *ownership.Directory, violations []permission.AgentViolations, attempt int) string {
	return DockContext(dir) + "\n\n" + render(replanData{Attempt: attempt, Violations: violations}, "replan")
}

type taskData struct {
	Agent       string
	Suffix      string
	Subsystems  []ownership.Subsystem
	Skimsystems []ownership.Skimsystem
	Globs       []string
	Policies    [][2]string
	Pending     []PendingGroup
	Instruction string
	FocusFiles  []string
}

func newTaskData(dir *ownership.Directory, agent string, task plan.Task) taskData {
	return taskData{
		Agent:       agent,
		Suffix:      dir.SidecarSuffix(),
		Subsystems:  dir.SubsystemsOf(agent),
		Skimsystems: dir.SkimsystemsOf(agent),
		Globs:       dir.Globs(agent),
		Policies:    dir.Policies(),
		Instruction: task.Instruction,
		FocusFiles:  task.FocusFiles,
	}
}

// SubsystemContext is the system context for an agent that owns source
// files. pending lists open change requests against the agent's files.
func SubsystemContext(dir *ownership.Directory, agent string, task plan.Task, pending []PendingGroup) string {
	data := newTaskData(dir, agent, task)
	data.Pending = pending
	return render(data, "subsystem-identity", "pending", "policies", "boundary", "task", "subsystem-guidelines")
}

// SkimsystemContext is the system context for an agent that may only write
// sidecar files.
func SkimsystemContext(dir *ownership.Directory, agent string, task plan.Task) string {
	return render(newTaskData(dir, agent, task), "skimsystem-identity", "principles", "skim-boundary", "task")
}

type requestData struct {
	Skimsystem string
	Groups     []PendingGroup
}

// ChangeRequestInstruction is the task instruction that asks a subsystem
// owner to work through change requests raised by a skimsystem.
func ChangeRequestInstruction(skimsystem string, groups []PendingGroup) string {
	return render(requestData{Skimsystem: skimsystem, Groups: groups}, "change-requests")
}

const sectionTemplates = `
{{- define "dock-intro" -}}
You are the dock agent for the orch orchestration system.

Your role is to analyze user requests and produce a structured execution plan that delegates work to registered agents. You are READ-ONLY: do not modify any files.
{{- end}}

{{- define "dock-raw" -}}
## Repository Declarations

{{.Raw}}
{{- end}}

{{- define "dock-agents" -}}
## Agent Registry
{{range .Agents}}
- {{.Name}} (role: {{.Role}}){{with .Description}}: {{.}}{{end}}
{{- end}}
{{- end}}

{{- define "dock-subsystems" -}}
## Subsystem Ownership
{{range .Subsystems}}
- **{{.Name}}** (owner: {{.Owner}}{{with .Status}}, status: {{.}}{{end}}){{with .Description}}: {{.}}{{end}}
  files: {{join .Files ", "}}
{{- else}}
(none)
{{- end}}
{{- end}}

{{- define "dock-skimsystems" -}}
## Skimsystem Coverage
{{range .Skimsystems}}
- **{{.Name}}** (owner: {{.Owner}}{{with .Status}}, status: {{.}}{{end}}, targets: {{targets .Targets}}){{with .Description}}: {{.}}{{end}}
{{- else}}
(none)
{{- end}}
{{- end}}

{{- define "dock-rules" -}}
## Rules

1. Subsystem agents can ONLY modify files matching their subsystem's glob patterns.
2. Skimsystem agents can ONLY modify *{{.Suffix}} sidecar files (never source files). They create change_requests.
3. Each task must specify a registered agent (an owner declared in the ownership manifest).
4. Tasks may depend on earlier tasks using depends_on with task indices.
5. Instructions should be specific and actionable.
6. focus_files should list the specific files the agent should work on.
{{- end}}

{{- define "dock-output" -}}
## Output Format

Respond with ONLY a JSON object matching this schema (no markdown, no explanation):
{
  "summary": "string: what you plan to do",
  "tasks": [
    {
      "agent": "string: agent name from the registry",
      "instruction": "string: specific instruction for this agent",
      "focus_files": ["string: file paths to focus on"],
      "depends_on": [0],
      "model": "string (optional): model override, e.g. claude-sonnet-4-5 or o4-mini"
    }
  ]
}
{{- end}}

{{- define "replan" -}}
## PREVIOUS ATTEMPT FAILED (attempt {{.Attempt}})

Your previous plan was rejected due to permission violations:
{{range .Violations}}
Agent '{{.Agent}}' violated permissions:
{{- range .Violations}}
  - {{.Path}}: {{.Reason}}
{{- end}}
{{end}}
Please produce a corrected plan. Ensure each agent only targets files within its declared scope.
{{- end}}

{{- define "subsystem-identity" -}}
You are {{.Agent}}, a subsystem agent in the orch orchestration system.

## Your Subsystems
{{- range .Subsystems}}

### {{.Name}}{{with .Status}} ({{.}}){{end}}
{{- with .Description}}
{{.}}
{{- end}}
Files: {{join .Files ", "}}
{{- end}}
{{- end}}

{{- define "pending" -}}
{{- if .Pending -}}
## Pending Change Requests
{{- range .Pending}}

### {{.Source}} ({{len .Requests}} pending)
{{- range .Requests}}
- [{{.ID}}] {{.Target}}: {{.Description}}
{{- end}}
{{- end}}
{{- end}}
{{- end}}

{{- define "policies" -}}
{{- if .Policies -}}
## Policies
{{- range .Policies}}
- {{index . 0}}: {{index . 1}}
{{- end}}
{{- end}}
{{- end}}

{{- define "boundary" -}}
## File Boundary (STRICT)
You may ONLY modify files matching these patterns:
{{- range .Globs}}
- {{.}}
{{- end}}

STRICT BOUNDARY: If you modify any file outside these patterns, your entire run will be rejected.
{{- end}}

{{- define "task" -}}
## Task
{{.Instruction}}

## Focus Files
{{- range .FocusFiles}}
- {{.}}
{{- else}}
(none specified)
{{- end}}
{{- end}}

{{- define "subsystem-guidelines" -}}
## Guidelines
- Make targeted, minimal changes to accomplish the task.
- You may read any file in the repo for context, but only write to your owned files.
- If you need changes in files you don't own, note this in your output. The orchestrator handles cross-boundary coordination.
- Commit your changes when done.
- If you cannot proceed, end your final message with <promise>BLOCKED: reason</promise>.
{{- end}}

{{- define "skimsystem-identity" -}}
You are {{.Agent}}, a skimsystem agent in the orch orchestration system.

## Your Skimsystems
{{- range .Skimsystems}}

### {{.Name}}{{with .Status}} ({{.}}){{end}}
{{- with .Description}}
{{.}}
{{- end}}
{{- end}}
{{- end}}

{{- define "principles" -}}
## Principles
{{- $any := false}}
{{- range $s := .Skimsystems}}
{{- range .Principles}}{{$any = true}}
- [{{$s.Name}}] {{.}}
{{- end}}
{{- end}}
{{- if not $any}}
(none)
{{- end}}
{{- end}}

{{- define "skim-boundary" -}}
## STRICT BOUNDARY
You may ONLY modify *{{.Suffix}} sidecar files. You must NEVER modify source files.
Your changes should be change_requests addressed to the appropriate subsystem owners.

If you modify any file not ending in {{.Suffix}}, your entire run will be rejected.

## Change Request Format
Sidecar files are YAML. Append requests like this:

subsystem: <owning subsystem>
change_requests:
  - id: unique-id
    from: {{.Agent}}
    target: fn(function_name)
    type: review
    status: pending
    created: "YYYY-MM-DD"
    description: what needs to change and why
{{- end}}

{{- define "change-requests" -}}
Resolve the change requests raised by the {{.Skimsystem}} skimsystem.
{{- range .Groups}}

### {{.Source}}
{{- range .Requests}}
- [{{.ID}}] {{.Target}}: {{.Description}}
{{- end}}
{{- end}}

For each request, either make the change in the source file or decide it should not be made. Then edit the request in its sidecar file, changing status: pending to status: resolved or status: denied.
{{- end}}
`
