// Package update checks GitHub releases for a newer orch and replaces the
// running binary.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
)

const (
	repoOwner     = "pengelbrecht"
	repoName      = "orch"
	checkInterval = 24 * time.Hour
	brewFormula   = "pengelbrecht/tap/orch"
)

// ErrDevBuild is returned for builds without a release version.
var ErrDevBuild = errors.New("cannot update dev builds")

// cache stores the last release check.
type cache struct {
	LastCheck       time.Time `json:"last_check"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
}

// cachePath returns $XDG_CONFIG_HOME/orch/update-cache.json, falling back
// to ~/.config. Empty when neither can be resolved.
func cachePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "orch", "update-cache.json")
}

func loadCache(path string) *cache {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var c cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}
	return &c
}

func saveCache(path string, c *cache) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0644)
}

// InstallMethod represents how orch was installed.
type InstallMethod int

const (
	InstallUnknown InstallMethod = iota
	InstallHomebrew
	// InstallBinary covers release downloads and go install.
	InstallBinary
)

func (m InstallMethod) String() string {
	switch m {
	case InstallHomebrew:
		return "homebrew"
	case InstallBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// DetectInstallMethod inspects the resolved path of the running binary.
func DetectInstallMethod() InstallMethod {
	exe, err := os.Executable()
	if err != nil {
		return InstallUnknown
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return InstallUnknown
	}
	return installMethodFor(exe)
}

func installMethodFor(exe string) InstallMethod {
	switch {
	case strings.Contains(exe, "/Cellar/"),
		strings.HasPrefix(exe, "/opt/homebrew/"),
		strings.HasPrefix(exe, "/usr/local/Homebrew/"),
		strings.Contains(exe, "linuxbrew"):
		return InstallHomebrew
	default:
		return InstallBinary
	}
}

// Release describes the newest published release.
type Release struct {
	Version    string
	ReleaseURL string
}

// releaseVersion strips a leading v and reports whether v names a release
// build.
func releaseVersion(v string) (string, bool) {
	v = strings.TrimPrefix(v, "v")
	if v == "" || v == "dev" {
		return "", false
	}
	return v, true
}

func detectLatest(ctx context.Context) (*selfupdate.Updater, *selfupdate.Release, bool, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, nil, false, fmt.Errorf("creating GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, nil, false, fmt.Errorf("creating updater: %w", err)
	}
	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return nil, nil, false, fmt.Errorf("detecting latest version: %w", err)
	}
	return updater, latest, found, nil
}

// CheckForUpdate reports the latest release and whether it is newer than
// currentVersion. Dev builds never have updates.
func CheckForUpdate(ctx context.Context, currentVersion string) (*Release, bool, error) {
	current, ok := releaseVersion(currentVersion)
	if !ok {
		return nil, false, nil
	}

	_, latest, found, err := detectLatest(ctx)
	if err != nil || !found {
		return nil, false, err
	}

	release := &Release{Version: latest.Version(), ReleaseURL: latest.URL}
	return release, latest.GreaterThan(current), nil
}

// Update replaces the running binary with the latest release. Homebrew
// installs are refused; brew owns those files.
func Update(ctx context.Context, currentVersion string) (*Release, error) {
	if DetectInstallMethod() == InstallHomebrew {
		return nil, fmt.Errorf("orch was installed via Homebrew; run: brew upgrade %s", brewFormula)
	}
	current, ok := releaseVersion(currentVersion)
	if !ok {
		return nil, ErrDevBuild
	}

	updater, latest, found, err := detectLatest(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("no releases found")
	}
	if !latest.GreaterThan(current) {
		return nil, fmt.Errorf("already at latest version (%s)", currentVersion)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return nil, fmt.Errorf("updating: %w", err)
	}
	return &Release{Version: latest.Version(), ReleaseURL: latest.URL}, nil
}

// CheckPeriodically checks for a release at most once per checkInterval
// and returns a one-line notice when one is available.
func CheckPeriodically(ctx context.Context, currentVersion string) string {
	return checkPeriodically(ctx, currentVersion, cachePath(), CheckForUpdate)
}

type checkFunc func(ctx context.Context, currentVersion string) (*Release, bool, error)

func checkPeriodically(ctx context.Context, currentVersion, path string, check checkFunc) string {
	current, ok := releaseVersion(currentVersion)
	if !ok {
		return ""
	}

	// A cached result may predate an upgrade, so compare again.
	if c := loadCache(path); c != nil && time.Since(c.LastCheck) < checkInterval {
		if c.UpdateAvailable && isNewerVersion(c.LatestVersion, current) {
			return formatUpdateNotice(currentVersion, c.LatestVersion, DetectInstallMethod())
		}
		return ""
	}

	release, hasUpdate, err := check(ctx, currentVersion)

	next := &cache{LastCheck: time.Now(), UpdateAvailable: hasUpdate && err == nil}
	if release != nil {
		next.LatestVersion = release.Version
	}
	saveCache(path, next)

	if err != nil || !hasUpdate {
		return ""
	}
	return formatUpdateNotice(currentVersion, release.Version, DetectInstallMethod())
}

// isNewerVersion reports whether a is a higher semantic version than b.
// Unparseable versions are never newer.
func isNewerVersion(a, b string) bool {
	av, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	bv, err := semver.NewVersion(b)
	if err != nil {
		return false
	}
	return av.GreaterThan(bv)
}

func formatUpdateNotice(current, latest string, method InstallMethod) string {
	cmd := "orch upgrade"
	if method == InstallHomebrew {
		cmd = "brew upgrade " + brewFormula
	}
	return fmt.Sprintf("Update available: %s -> %s (run: %s)", current, latest, cmd)
}
