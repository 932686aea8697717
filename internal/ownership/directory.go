// Package ownership holds the read-only snapshot of who owns what in a
// repository: subsystems own source files by glob, skimsystems own only
// sidecar files. A Directory is built once per run and never changes.
package ownership

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultSidecarSuffix marks annotation files that sit next to a source file.
const DefaultSidecarSuffix = ".bog"

// Role is the kind of unit an agent owns.
type Role int

const (
	// RoleNone means the agent is not registered.
	RoleNone Role = iota
	RoleSubsystem
	RoleSkimsystem
)

func (r Role) String() string {
	switch r {
	case RoleSubsystem:
		return "subsystem"
	case RoleSkimsystem:
		return "skimsystem"
	default:
		return "unregistered"
	}
}

// Subsystem owns primary source files matched by Files.
type Subsystem struct {
	Name        string   `yaml:"name"`
	Owner       string   `yaml:"owner"`
	Description string   `yaml:"description,omitempty"`
	Status      string   `yaml:"status,omitempty"`
	Files       []string `yaml:"files"`
}

// Skimsystem is a cross-cutting unit that may only write sidecar files.
// Empty Targets means every subsystem.
type Skimsystem struct {
	Name        string   `yaml:"name"`
	Owner       string   `yaml:"owner"`
	Description string   `yaml:"description,omitempty"`
	Status      string   `yaml:"status,omitempty"`
	Targets     []string `yaml:"targets,omitempty"`
	Principles  []string `yaml:"principles,omitempty"`
}

// Spec is the declarative input a Directory is built from.
type Spec struct {
	Subsystems    []Subsystem       `yaml:"subsystems"`
	Skimsystems   []Skimsystem      `yaml:"skimsystems"`
	Agents        map[string]string `yaml:"agents,omitempty"` // agent -> description
	SidecarSuffix string            `yaml:"sidecar_suffix,omitempty"`
	Policies      map[string]string `yaml:"policies,omitempty"`
}

// Directory is an immutable ownership snapshot.
type Directory struct {
	raw           string
	suffix        string
	subsystems    map[string]Subsystem
	skimsystems   map[string]Skimsystem
	roles         map[string]Role
	agentSubs     map[string][]string
	agentSkims    map[string][]string
	descriptions  map[string]string
	policies      map[string]string
	subsystemList []string
}

// New validates spec and builds a Directory. raw is the declaration text as
// the user wrote it; it is only ever shown to the planner.
func New(spec Spec, raw string) (*Directory, error) {
	d := &Directory{
		raw:          raw,
		suffix:       spec.SidecarSuffix,
		subsystems:   make(map[string]Subsystem),
		skimsystems:  make(map[string]Skimsystem),
		roles:        make(map[string]Role),
		agentSubs:    make(map[string][]string),
		agentSkims:   make(map[string][]string),
		descriptions: make(map[string]string),
		policies:     make(map[string]string),
	}
	if d.suffix == "" {
		d.suffix = DefaultSidecarSuffix
	}

	for _, s := range spec.Subsystems {
		if s.Name == "" {
			return nil, fmt.Errorf("subsystem with owner %q has no name", s.Owner)
		}
		if s.Owner == "" {
			return nil, fmt.Errorf("subsystem %q has no owner", s.Name)
		}
		if _, dup := d.subsystems[s.Name]; dup {
			return nil, fmt.Errorf("subsystem %q declared twice", s.Name)
		}
		for _, g := range s.Files {
			if !doublestar.ValidatePattern(g) {
				return nil, fmt.Errorf("subsystem %q: invalid glob %q", s.Name, g)
			}
		}
		s.Files = append([]string(nil), s.Files...)
		d.subsystems[s.Name] = s
		d.agentSubs[s.Owner] = append(d.agentSubs[s.Owner], s.Name)
		d.roles[s.Owner] = RoleSubsystem
		d.subsystemList = append(d.subsystemList, s.Name)
	}

	for _, s := range spec.Skimsystems {
		if s.Name == "" {
			return nil, fmt.Errorf("skimsystem with owner %q has no name", s.Owner)
		}
		if s.Owner == "" {
			return nil, fmt.Errorf("skimsystem %q has no owner", s.Name)
		}
		if _, dup := d.skimsystems[s.Name]; dup {
			return nil, fmt.Errorf("skimsystem %q declared twice", s.Name)
		}
		if d.roles[s.Owner] == RoleSubsystem {
			return nil, fmt.Errorf("agent %q owns both a subsystem and skimsystem %q", s.Owner, s.Name)
		}
		for _, target := range s.Targets {
			if _, ok := d.subsystems[target]; !ok {
				return nil, fmt.Errorf("skimsystem %q targets unknown subsystem %q", s.Name, target)
			}
		}
		s.Targets = append([]string(nil), s.Targets...)
		s.Principles = append([]string(nil), s.Principles...)
		d.skimsystems[s.Name] = s
		d.agentSkims[s.Owner] = append(d.agentSkims[s.Owner], s.Name)
		d.roles[s.Owner] = RoleSkimsystem
	}

	for agent, desc := range spec.Agents {
		d.descriptions[agent] = desc
	}
	for k, v := range spec.Policies {
		d.policies[k] = v
	}

	sort.Strings(d.subsystemList)
	return d, nil
}

// Raw returns the declaration text the directory was loaded from.
func (d *Directory) Raw() string { return d.raw }

// SidecarSuffix returns the suffix that marks sidecar files.
func (d *Directory) SidecarSuffix() string { return d.suffix }

// WithSidecarSuffix returns a copy of d that uses suffix for sidecars. An
// empty suffix returns d.
func (d *Directory) WithSidecarSuffix(suffix string) *Directory {
	if suffix == "" || suffix == d.suffix {
		return d
	}
	c := *d
	c.suffix = suffix
	return &c
}

// RoleOf returns the role of agent. ok is false for unregistered agents.
func (d *Directory) RoleOf(agent string) (Role, bool) {
	r, ok := d.roles[agent]
	return r, ok
}

// Globs returns the union of the file globs of every subsystem agent owns.
func (d *Directory) Globs(agent string) []string {
	var out []string
	for _, name := range d.agentSubs[agent] {
		out = append(out, d.subsystems[name].Files...)
	}
	return out
}

// Description returns the free-form description declared for agent.
func (d *Directory) Description(agent string) string { return d.descriptions[agent] }

// Policies returns the declared policies sorted by key.
func (d *Directory) Policies() [][2]string {
	keys := make([]string, 0, len(d.policies))
	for k := range d.policies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{k, d.policies[k]}
	}
	return out
}

// Agents returns every registered agent, sorted.
func (d *Directory) Agents() []string {
	out := make([]string, 0, len(d.roles))
	for a := range d.roles {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Subsystem looks up a subsystem by name.
func (d *Directory) Subsystem(name string) (Subsystem, bool) {
	s, ok := d.subsystems[name]
	return s, ok
}

// Skimsystem looks up a skimsystem by name.
func (d *Directory) Skimsystem(name string) (Skimsystem, bool) {
	s, ok := d.skimsystems[name]
	return s, ok
}

// Subsystems returns every subsystem sorted by name.
func (d *Directory) Subsystems() []Subsystem {
	out := make([]Subsystem, 0, len(d.subsystemList))
	for _, name := range d.subsystemList {
		out = append(out, d.subsystems[name])
	}
	return out
}

// Skimsystems returns every skimsystem sorted by name.
func (d *Directory) Skimsystems() []Skimsystem {
	out := make([]Skimsystem, 0, len(d.skimsystems))
	for _, s := range d.skimsystems {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SubsystemsOf returns the subsystems agent owns, in declaration order.
func (d *Directory) SubsystemsOf(agent string) []Subsystem {
	var out []Subsystem
	for _, name := range d.agentSubs[agent] {
		out = append(out, d.subsystems[name])
	}
	return out
}

// SkimsystemsOf returns the skimsystems agent owns, in declaration order.
func (d *Directory) SkimsystemsOf(agent string) []Skimsystem {
	var out []Skimsystem
	for _, name := range d.agentSkims[agent] {
		out = append(out, d.skimsystems[name])
	}
	return out
}

// TargetSubsystems returns the subsystems a skimsystem covers.
func (d *Directory) TargetSubsystems(skim Skimsystem) []Subsystem {
	if len(skim.Targets) == 0 {
		return d.Subsystems()
	}
	out := make([]Subsystem, 0, len(skim.Targets))
	for _, name := range skim.Targets {
		out = append(out, d.subsystems[name])
	}
	return out
}

// OwnerOfPath returns the first subsystem, by name, whose globs match path.
func (d *Directory) OwnerOfPath(path string) (Subsystem, bool) {
	for _, name := range d.subsystemList {
		s := d.subsystems[name]
		if MatchAny(s.Files, path) {
			return s, true
		}
	}
	return Subsystem{}, false
}

// MatchAny reports whether path matches any of globs. `*` stays within one
// path segment and `**` spans segments.
func MatchAny(globs []string, path string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}
