package worktree

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseNameStatus(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []DiffEntry
	}{
		{
			name:   "empty",
			output: "",
			want:   nil,
		},
		{
			name:   "added modified deleted",
			output: "A\x00src/new.rs\x00M\x00src/ast.rs\x00D\x00src/old.rs\x00",
			want: []DiffEntry{
				{Path: "src/new.rs", Kind: Added},
				{Path: "src/ast.rs", Kind: Modified},
				{Path: "src/old.rs", Kind: Deleted},
			},
		},
		{
			name:   "other status letters count as modified",
			output: "T\x00link\x00R100\x00src/a.rs\x00src/b.rs\x00",
			want: []DiffEntry{
				{Path: "link", Kind: Modified},
				{Path: "src/b.rs", Kind: Modified},
			},
		},
		{
			name:   "paths keep quotes tabs and spaces",
			output: "A\x00src/we\"ird.go\x00M\x00 lead\ttab .go\x00",
			want: []DiffEntry{
				{Path: `src/we"ird.go`, Kind: Added},
				{Path: " lead\ttab .go", Kind: Modified},
			},
		},
		{
			name:   "truncated record is dropped",
			output: "M\x00ok.txt\x00A\x00",
			want:   []DiffEntry{{Path: "ok.txt", Kind: Modified}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseNameStatus(tt.output)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseNameStatus() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestManager_InspectDiff(t *testing.T) {
	ctx := context.Background()

	t.Run("clean worktree has no entries", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)
		wt, _ := m.Create(ctx, "core-agent", "run1")

		entries, err := m.InspectDiff(ctx, wt)
		if err != nil {
			t.Fatalf("InspectDiff() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("InspectDiff() = %+v, want none", entries)
		}
	})

	t.Run("unions uncommitted untracked and committed changes", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)
		wt, _ := m.Create(ctx, "core-agent", "run1")

		// Committed since base.
		writeFile(t, filepath.Join(wt.Path, "src", "committed.rs"), "fn main() {}")
		runGit(t, wt.Path, "add", "-A")
		runGit(t, wt.Path, "commit", "-m", "agent commit")

		// Uncommitted edit of a tracked file.
		writeFile(t, filepath.Join(wt.Path, "initial.txt"), "changed")
		// Untracked file.
		writeFile(t, filepath.Join(wt.Path, "notes.txt"), "new")

		entries, err := m.InspectDiff(ctx, wt)
		if err != nil {
			t.Fatalf("InspectDiff() error = %v", err)
		}

		want := []DiffEntry{
			{Path: "initial.txt", Kind: Modified},
			{Path: "notes.txt", Kind: Added},
			{Path: "src/committed.rs", Kind: Added},
		}
		if !reflect.DeepEqual(entries, want) {
			t.Errorf("InspectDiff() = %+v, want %+v", entries, want)
		}
	})

	t.Run("path in several sources appears once with first classification", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)
		wt, _ := m.Create(ctx, "core-agent", "run1")

		// Added in a commit, then edited again without committing.
		writeFile(t, filepath.Join(wt.Path, "src", "lib.rs"), "v1")
		runGit(t, wt.Path, "add", "-A")
		runGit(t, wt.Path, "commit", "-m", "add lib")
		writeFile(t, filepath.Join(wt.Path, "src", "lib.rs"), "v2")

		entries, err := m.InspectDiff(ctx, wt)
		if err != nil {
			t.Fatalf("InspectDiff() error = %v", err)
		}
		want := []DiffEntry{{Path: "src/lib.rs", Kind: Modified}}
		if !reflect.DeepEqual(entries, want) {
			t.Errorf("InspectDiff() = %+v, want %+v", entries, want)
		}

		again, err := m.InspectDiff(ctx, wt)
		if err != nil {
			t.Fatalf("second InspectDiff() error = %v", err)
		}
		if !reflect.DeepEqual(again, entries) {
			t.Errorf("InspectDiff() not stable: %+v then %+v", entries, again)
		}
	})

	t.Run("paths with special characters are not quoted", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)
		wt, _ := m.Create(ctx, "core-agent", "run1")

		writeFile(t, filepath.Join(wt.Path, "src", `we"ird.go`), "package src")
		writeFile(t, filepath.Join(wt.Path, "src", "back\\slash.go"), "package src")
		runGit(t, wt.Path, "add", "-A")
		runGit(t, wt.Path, "commit", "-m", "odd names")
		writeFile(t, filepath.Join(wt.Path, "src", "tab\tname.go"), "package src")

		entries, err := m.InspectDiff(ctx, wt)
		if err != nil {
			t.Fatalf("InspectDiff() error = %v", err)
		}
		want := []DiffEntry{
			{Path: "src/tab\tname.go", Kind: Added},
			{Path: "src/back\\slash.go", Kind: Added},
			{Path: `src/we"ird.go`, Kind: Added},
		}
		if !reflect.DeepEqual(entries, want) {
			t.Errorf("InspectDiff() = %q, want %q", entries, want)
		}
	})

	t.Run("deleted tracked file", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)
		wt, _ := m.Create(ctx, "core-agent", "run1")

		if err := os.Remove(filepath.Join(wt.Path, "initial.txt")); err != nil {
			t.Fatal(err)
		}
		entries, err := m.InspectDiff(ctx, wt)
		if err != nil {
			t.Fatalf("InspectDiff() error = %v", err)
		}
		want := []DiffEntry{{Path: "initial.txt", Kind: Deleted}}
		if !reflect.DeepEqual(entries, want) {
			t.Errorf("InspectDiff() = %+v, want %+v", entries, want)
		}
	})

	t.Run("fails with GitFailed outside a worktree", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)

		_, err := m.InspectDiff(ctx, &Worktree{Path: t.TempDir(), Agent: "x"})
		if !IsOp(err, GitFailed) {
			t.Errorf("InspectDiff() error = %v, want GitFailed", err)
		}
	})
}

func TestManager_AutoCommit(t *testing.T) {
	ctx := context.Background()
	dir := createTempGitRepo(t)
	m := newTestManager(t, dir)
	wt, _ := m.Create(ctx, "core-agent", "run1")

	committed, err := m.AutoCommit(ctx, wt)
	if err != nil {
		t.Fatalf("AutoCommit() error = %v", err)
	}
	if committed {
		t.Error("AutoCommit() on a clean worktree should return false")
	}

	writeFile(t, filepath.Join(wt.Path, "src", "ast.rs"), "struct Ast;")
	committed, err = m.AutoCommit(ctx, wt)
	if err != nil {
		t.Fatalf("AutoCommit() error = %v", err)
	}
	if !committed {
		t.Fatal("AutoCommit() with changes should return true")
	}

	if msg := runGit(t, wt.Path, "log", "-1", "--format=%s"); msg != "orch: agent 'core-agent' changes" {
		t.Errorf("commit message = %q", msg)
	}
	if status := runGit(t, wt.Path, "status", "--porcelain"); status != "" {
		t.Errorf("worktree should be clean after AutoCommit, got %q", status)
	}
}

func TestManager_Merge(t *testing.T) {
	ctx := context.Background()

	t.Run("merges branch into root", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)
		wt, _ := m.Create(ctx, "core-agent", "run1")

		writeFile(t, filepath.Join(wt.Path, "src", "ast.rs"), "struct Ast;")
		if _, err := m.AutoCommit(ctx, wt); err != nil {
			t.Fatalf("AutoCommit() error = %v", err)
		}

		if err := m.Merge(ctx, wt); err != nil {
			t.Fatalf("Merge() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "src", "ast.rs")); err != nil {
			t.Errorf("merged file missing from root: %v", err)
		}
		if msg := runGit(t, dir, "log", "-1", "--format=%s"); msg != "orch: merge agent 'core-agent' changes" {
			t.Errorf("merge commit message = %q", msg)
		}
	})

	t.Run("conflict is GitFailed and leaves root clean", func(t *testing.T) {
		dir := createTempGitRepo(t)
		m := newTestManager(t, dir)
		wt, _ := m.Create(ctx, "core-agent", "run1")

		writeFile(t, filepath.Join(wt.Path, "initial.txt"), "agent version")
		if _, err := m.AutoCommit(ctx, wt); err != nil {
			t.Fatalf("AutoCommit() error = %v", err)
		}

		writeFile(t, filepath.Join(dir, "initial.txt"), "root version")
		runGit(t, dir, "commit", "-am", "diverge")

		err := m.Merge(ctx, wt)
		if !IsOp(err, GitFailed) {
			t.Fatalf("Merge() error = %v, want GitFailed", err)
		}
		if status := runGit(t, dir, "status", "--porcelain", "--untracked-files=no"); status != "" {
			t.Errorf("root should be clean after aborted merge, got %q", status)
		}
	})
}
