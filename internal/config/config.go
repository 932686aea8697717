// Package config loads orch settings from .orch/config.yaml and ORCH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pengelbrecht/orch/internal/agent"
	"github.com/pengelbrecht/orch/internal/budget"
	"github.com/pengelbrecht/orch/internal/engine"
	"github.com/pengelbrecht/orch/internal/logging"
	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/skim"
	"github.com/pengelbrecht/orch/internal/telemetry"
	"github.com/pengelbrecht/orch/internal/worktree"
)

// File is the config location relative to the repository root.
const File = ".orch/config.yaml"

// EnvPrefix prefixes environment overrides: run.max_replans is read from
// ORCH_RUN_MAX_REPLANS.
const EnvPrefix = "ORCH"

type Config struct {
	Ownership   Ownership        `mapstructure:"ownership"`
	Worktrees   Worktrees        `mapstructure:"worktrees"`
	Run         Run              `mapstructure:"run"`
	Agent       Agent            `mapstructure:"agent"`
	Dock        Dock             `mapstructure:"dock"`
	Providers   Providers        `mapstructure:"providers"`
	Integration Integration      `mapstructure:"integration"`
	Log         logging.Config   `mapstructure:"log"`
	Metrics     Metrics          `mapstructure:"metrics"`
	Tracing     telemetry.Config `mapstructure:"tracing"`

	// Root is the repository root the config was loaded for.
	Root string `mapstructure:"-"`
}

type Ownership struct {
	Manifest      string `mapstructure:"manifest"`
	SidecarSuffix string `mapstructure:"sidecar_suffix"`
}

type Worktrees struct {
	Dir string `mapstructure:"dir"`
}

type Run struct {
	MaxReplans    int           `mapstructure:"max_replans"`
	MergeStrategy string        `mapstructure:"merge_strategy"`
	MaxCostUSD    float64       `mapstructure:"max_cost_usd"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	MaxDuration   time.Duration `mapstructure:"max_duration"`

	// MaxInvocations counts planner and agent calls together.
	MaxInvocations int `mapstructure:"max_invocations"`

	// RequireClean refuses to start a run over uncommitted changes.
	RequireClean bool `mapstructure:"require_clean"`
}

type Agent struct {
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBudgetUSD float64       `mapstructure:"max_budget_usd"`
	Tools        []string      `mapstructure:"tools"`
}

type Dock struct {
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	Tools   []string      `mapstructure:"tools"`
}

type Providers struct {
	Claude Command `mapstructure:"claude"`
	Codex  Command `mapstructure:"codex"`
}

type Command struct {
	Command string `mapstructure:"command"`
}

type Integration struct {
	Command string `mapstructure:"command"`
}

type Metrics struct {
	// Textfile is written in the Prometheus text format after each run.
	Textfile string `mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ownership.manifest", ownership.DefaultManifest)
	v.SetDefault("ownership.sidecar_suffix", "")
	v.SetDefault("worktrees.dir", worktree.DefaultWorktreeDir)
	v.SetDefault("run.max_replans", engine.DefaultMaxReplanAttempts)
	v.SetDefault("run.merge_strategy", engine.AllOrNothing.String())
	v.SetDefault("run.max_cost_usd", 0.0)
	v.SetDefault("run.max_tokens", 0)
	v.SetDefault("run.max_duration", time.Duration(0))
	v.SetDefault("run.max_invocations", 0)
	v.SetDefault("run.require_clean", true)
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.timeout", agent.DefaultAgentTimeout)
	v.SetDefault("agent.max_budget_usd", 0.0)
	v.SetDefault("agent.tools", agent.AgentTools)
	v.SetDefault("dock.model", "")
	v.SetDefault("dock.timeout", agent.DefaultPlannerTimeout)
	v.SetDefault("dock.tools", agent.PlannerTools)
	v.SetDefault("providers.claude.command", "claude")
	v.SetDefault("providers.codex.command", "codex")
	v.SetDefault("integration.command", skim.DefaultCommand)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Load reads <root>/.orch/config.yaml when present and applies environment
// overrides on top of the built-in defaults. Every failure is a ContextLoad
// error.
func Load(root string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := filepath.Join(root, File)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, engine.ContextLoadError("reading "+File, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, engine.ContextLoadError("reading "+File, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, engine.ContextLoadError("decoding "+File, err)
	}
	cfg.Root = root

	if err := cfg.Validate(); err != nil {
		return nil, engine.ContextLoadError("invalid configuration", err)
	}
	return &cfg, nil
}

// Validate checks values Load cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	if c.Run.MaxReplans < 0 {
		errs = append(errs, fmt.Errorf("run.max_replans must not be negative, got %d", c.Run.MaxReplans))
	}
	if _, err := engine.ParseMergePolicy(c.Run.MergeStrategy); err != nil {
		errs = append(errs, fmt.Errorf("run.merge_strategy: %w", err))
	}
	if c.Run.MaxCostUSD < 0 || c.Agent.MaxBudgetUSD < 0 || c.Run.MaxTokens < 0 || c.Run.MaxInvocations < 0 {
		errs = append(errs, errors.New("budgets must not be negative"))
	}
	if c.Agent.Timeout < 0 || c.Dock.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// MergePolicy returns the parsed run.merge_strategy.
func (c *Config) MergePolicy() engine.MergePolicy {
	p, _ := engine.ParseMergePolicy(c.Run.MergeStrategy)
	return p
}

// Limits returns the run-wide budget.
func (c *Config) Limits() budget.Limits {
	return budget.Limits{
		MaxInvocations: c.Run.MaxInvocations,
		MaxTokens:      c.Run.MaxTokens,
		MaxCost:        c.Run.MaxCostUSD,
		MaxDuration:    c.Run.MaxDuration,
	}
}

// TaskOptions returns the per-task settings.
func (c *Config) TaskOptions() engine.TaskOptions {
	return engine.TaskOptions{
		Model:        c.Agent.Model,
		AgentTimeout: c.Agent.Timeout,
		MaxBudgetUSD: c.Agent.MaxBudgetUSD,
		Tools:        c.Agent.Tools,
	}
}

// ManifestPath returns the ownership manifest path, absolute when the
// configured one is relative.
func (c *Config) ManifestPath() string {
	return c.resolve(c.Ownership.Manifest)
}

// WorktreeDir returns the worktree base directory.
func (c *Config) WorktreeDir() string {
	return c.resolve(c.Worktrees.Dir)
}

// MetricsPath returns the metrics textfile path, or "" when disabled.
func (c *Config) MetricsPath() string {
	if c.Metrics.Textfile == "" {
		return ""
	}
	return c.resolve(c.Metrics.Textfile)
}

// LogPath returns the log file path, or "" for stderr.
func (c *Config) LogPath() string {
	return c.resolve(c.Log.File)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
