package skim

import (
	"io/fs"
	"os"
	"sort"

	"github.com/pengelbrecht/orch/internal/ownership"
	"github.com/pengelbrecht/orch/internal/prompt"
	"github.com/pengelbrecht/orch/internal/sidecar"
)

// WorkPacket is every pending change request one skimsystem raised against
// one subsystem.
type WorkPacket struct {
	Subsystem string
	Agent     string
	Groups    []prompt.PendingGroup
}

// Requests counts the change requests in the packet.
func (w WorkPacket) Requests() int {
	n := 0
	for _, g := range w.Groups {
		n += len(g.Requests)
	}
	return n
}

// FocusFiles lists each source file followed by its sidecar.
func (w WorkPacket) FocusFiles() []string {
	files := make([]string, 0, 2*len(w.Groups))
	for _, g := range w.Groups {
		files = append(files, g.Source, g.Sidecar)
	}
	return files
}

// Collect scans root for sidecars holding pending change requests from
// skimOwner and groups them by subsystem. skip names directories, relative
// to root, that are not entered.
func Collect(root, skimOwner string, dir *ownership.Directory, store sidecar.Store, skip ...string) ([]WorkPacket, []sidecar.ScanError, error) {
	return CollectFS(os.DirFS(root), skimOwner, dir, store, skip...)
}

// CollectFS is Collect over an fs.FS.
func CollectFS(fsys fs.FS, skimOwner string, dir *ownership.Directory, store sidecar.Store, skip ...string) ([]WorkPacket, []sidecar.ScanError, error) {
	entries, problems, err := sidecar.ScanFS(fsys, dir.SidecarSuffix(), store, skip...)
	if err != nil {
		return nil, problems, err
	}

	bySubsystem := make(map[string]*WorkPacket)
	for _, e := range entries {
		pending := e.File.Pending(skimOwner)
		if len(pending) == 0 {
			continue
		}

		var sub ownership.Subsystem
		var ok bool
		if e.File.Subsystem != "" {
			sub, ok = dir.Subsystem(e.File.Subsystem)
		} else {
			sub, ok = dir.OwnerOfPath(e.Source)
		}
		if !ok {
			continue
		}

		wp, exists := bySubsystem[sub.Name]
		if !exists {
			wp = &WorkPacket{Subsystem: sub.Name, Agent: sub.Owner}
			bySubsystem[sub.Name] = wp
		}
		wp.Groups = append(wp.Groups, prompt.PendingGroup{Sidecar: e.Path, Source: e.Source, Requests: pending})
	}

	packets := make([]WorkPacket, 0, len(bySubsystem))
	for _, wp := range bySubsystem {
		packets = append(packets, *wp)
	}
	sort.Slice(packets, func(i, j int) bool { return packets[i].Subsystem < packets[j].Subsystem })
	return packets, problems, nil
}
