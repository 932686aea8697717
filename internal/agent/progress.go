package agent

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// maxCommandLen is the character budget for shell commands in progress lines.
const maxCommandLen = 80

// summarizeTool renders one progress line for a tool call: the tool name and
// a short argument. File paths are shown relative to workDir.
func summarizeTool(name string, input json.RawMessage, workDir string) string {
	var args map[string]any
	_ = json.Unmarshal(input, &args)

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := args[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	var arg string
	switch name {
	case "Read", "Edit", "Write", "MultiEdit", "NotebookEdit":
		arg = shortenPath(str("file_path", "notebook_path", "path"), workDir)
	case "Bash":
		arg = truncate(oneLine(str("command")), maxCommandLen)
	case "Grep":
		arg = str("pattern")
		if p := str("path"); p != "" {
			arg += " in " + shortenPath(p, workDir)
		}
	case "Glob":
		arg = str("pattern")
	case "WebFetch":
		arg = str("url")
	case "WebSearch":
		arg = str("query")
	case "Task":
		arg = str("description")
	default:
		arg = shortenPath(str("file_path", "path", "command", "pattern"), workDir)
		arg = truncate(oneLine(arg), maxCommandLen)
	}

	if arg == "" {
		return name
	}
	return name + " " + arg
}

// shortenPath strips workDir from an absolute path so the agent's view of the
// project (relative paths) is what gets shown.
func shortenPath(path, workDir string) string {
	if path == "" || workDir == "" {
		return path
	}
	clean := filepath.Clean(workDir)
	if rel, ok := strings.CutPrefix(path, clean+string(filepath.Separator)); ok {
		return rel
	}
	if path == clean {
		return "."
	}
	return path
}

// truncate shortens s to max characters, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
