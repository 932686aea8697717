package ownership

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
sidecar_suffix: .bog
subsystems:
  - name: core
    owner: core-agent
    description: AST and parser
    status: green
    files: ["src/ast.rs", "src/parser.rs"]
  - name: cli
    owner: cli-agent
    files: ["src/cli/**"]
  - name: fixtures
    owner: core-agent
    files: ["tests/fixtures/*.bog"]
skimsystems:
  - name: code-quality
    owner: quality-agent
    principles: ["no unwrap in library code"]
agents:
  core-agent: Owns the language core
policies:
  review: required
`

func TestLoad(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".orch"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultManifest), []byte(testManifest), 0644))

	dir, err := Load(root, "")
	require.NoError(t, err)

	assert.Equal(t, testManifest, dir.Raw())
	assert.Equal(t, ".bog", dir.SidecarSuffix())
	assert.Equal(t, []string{"cli-agent", "core-agent", "quality-agent"}, dir.Agents())
	assert.Equal(t, "Owns the language core", dir.Description("core-agent"))
	assert.Equal(t, [][2]string{{"review", "required"}}, dir.Policies())

	role, ok := dir.RoleOf("core-agent")
	assert.True(t, ok)
	assert.Equal(t, RoleSubsystem, role)

	role, ok = dir.RoleOf("quality-agent")
	assert.True(t, ok)
	assert.Equal(t, RoleSkimsystem, role)

	role, ok = dir.RoleOf("ghost-agent")
	assert.False(t, ok)
	assert.Equal(t, RoleNone, role)

	assert.Equal(t, []string{"src/ast.rs", "src/parser.rs", "tests/fixtures/*.bog"}, dir.Globs("core-agent"))
	assert.Empty(t, dir.Globs("quality-agent"))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{"empty", "", "empty"},
		{"no units", "agents: {}\n", "declares no subsystems"},
		{"unknown key", "subsystems: []\nbogus: 1\n", "bogus"},
		{"missing owner", "subsystems:\n  - name: core\n    files: [a]\n", "has no owner"},
		{"duplicate", "subsystems:\n  - {name: a, owner: x, files: [a]}\n  - {name: a, owner: y, files: [b]}\n", "declared twice"},
		{"dual role", "subsystems:\n  - {name: a, owner: x, files: [a]}\nskimsystems:\n  - {name: q, owner: x}\n", "owns both"},
		{"unknown target", "subsystems:\n  - {name: a, owner: x, files: [a]}\nskimsystems:\n  - {name: q, owner: y, targets: [nope]}\n", "unknown subsystem"},
		{"bad glob", "subsystems:\n  - {name: a, owner: x, files: [\"src/[\"]}\n", "invalid glob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, "own.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.manifest), 0644))

			_, err := Load(root, "own.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(t.TempDir(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestDirectory_OwnerOfPath(t *testing.T) {
	spec, err := Parse([]byte(testManifest))
	require.NoError(t, err)
	dir, err := New(spec, testManifest)
	require.NoError(t, err)

	tests := []struct {
		path  string
		owner string
		found bool
	}{
		{"src/ast.rs", "core-agent", true},
		{"src/cli/args/parse.rs", "cli-agent", true},
		{"tests/fixtures/a.bog", "core-agent", true},
		{"tests/fixtures/deep/a.bog", "", false},
		{"README.md", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			sub, ok := dir.OwnerOfPath(tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.owner, sub.Owner)
		})
	}
}

func TestDirectory_TargetSubsystems(t *testing.T) {
	dir, err := New(Spec{
		Subsystems: []Subsystem{
			{Name: "core", Owner: "core-agent", Files: []string{"src/*.rs"}},
			{Name: "cli", Owner: "cli-agent", Files: []string{"cli/*.rs"}},
		},
		Skimsystems: []Skimsystem{
			{Name: "all", Owner: "a-agent"},
			{Name: "some", Owner: "b-agent", Targets: []string{"cli"}},
		},
	}, "")
	require.NoError(t, err)

	all, _ := dir.Skimsystem("all")
	some, _ := dir.Skimsystem("some")
	assert.Len(t, dir.TargetSubsystems(all), 2)
	require.Len(t, dir.TargetSubsystems(some), 1)
	assert.Equal(t, "cli", dir.TargetSubsystems(some)[0].Name)
	assert.Equal(t, DefaultSidecarSuffix, dir.SidecarSuffix())
}

func TestDirectory_WithSidecarSuffix(t *testing.T) {
	dir, err := New(Spec{Subsystems: []Subsystem{{Name: "core", Owner: "core-agent", Files: []string{"src/**"}}}}, "")
	require.NoError(t, err)

	assert.Same(t, dir, dir.WithSidecarSuffix(""))
	other := dir.WithSidecarSuffix(".notes")
	assert.Equal(t, ".notes", other.SidecarSuffix())
	assert.Equal(t, DefaultSidecarSuffix, dir.SidecarSuffix())
	assert.Equal(t, dir.Globs("core-agent"), other.Globs("core-agent"))
}
