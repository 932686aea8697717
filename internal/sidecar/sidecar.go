// Package sidecar reads the annotation files that sit next to source files.
// A sidecar for src/parser.rs is src/parser.rs<suffix>; skimsystem agents
// write change requests into it and subsystem owners resolve them.
package sidecar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Change request statuses.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusDenied   = "denied"
)

// ChangeRequest asks a subsystem owner to change something in a source file.
type ChangeRequest struct {
	ID          string `yaml:"id"`
	From        string `yaml:"from"`
	Target      string `yaml:"target"`
	Type        string `yaml:"type,omitempty"`
	Status      string `yaml:"status"`
	Created     string `yaml:"created,omitempty"`
	Description string `yaml:"description"`
}

// File is the decoded content of one sidecar.
type File struct {
	Subsystem      string          `yaml:"subsystem,omitempty"`
	ChangeRequests []ChangeRequest `yaml:"change_requests,omitempty"`
}

// Pending returns requests still awaiting a decision. A non-empty from
// restricts the result to requests raised by that agent.
func (f *File) Pending(from string) []ChangeRequest {
	var out []ChangeRequest
	for _, cr := range f.ChangeRequests {
		if cr.Status != StatusPending {
			continue
		}
		if from != "" && cr.From != from {
			continue
		}
		out = append(out, cr)
	}
	return out
}

// Store decodes sidecar content.
type Store interface {
	Decode(data []byte) (*File, error)
}

// YAMLStore decodes sidecars written as YAML documents.
type YAMLStore struct{}

// Decode parses data. An empty sidecar decodes to an empty File.
func (YAMLStore) Decode(data []byte) (*File, error) {
	var f File
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, err
	}
	return &f, nil
}

// Entry is a sidecar found on disk.
type Entry struct {
	Path   string // slash-separated, relative to the scanned root
	Source string // Path without the sidecar suffix
	File   *File
}

// ScanError records a sidecar that could not be read or decoded.
type ScanError struct {
	Path string
	Err  error
}

func (e ScanError) Error() string { return fmt.Sprintf("sidecar %s: %v", e.Path, e.Err) }

// Scan walks root for files ending in suffix and decodes each with store.
// Directories named in skip (slash-separated, relative to root) and .git are
// not entered. Undecodable sidecars are reported, not fatal. Entries are
// sorted by path.
func Scan(root, suffix string, store Store, skip ...string) ([]Entry, []ScanError, error) {
	return ScanFS(os.DirFS(root), suffix, store, skip...)
}

// ScanFS is Scan over an fs.FS.
func ScanFS(fsys fs.FS, suffix string, store Store, skip ...string) ([]Entry, []ScanError, error) {
	if store == nil {
		store = YAMLStore{}
	}
	pattern := "**/*" + suffix
	skipped := make(map[string]bool, len(skip)+1)
	skipped[".git"] = true
	for _, s := range skip {
		skipped[strings.Trim(path.Clean(s), "/")] = true
	}

	var entries []Entry
	var problems []ScanError
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			problems = append(problems, ScanError{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != "." && skipped[p] {
				return fs.SkipDir
			}
			return nil
		}
		if ok, _ := doublestar.Match(pattern, p); !ok {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			problems = append(problems, ScanError{Path: p, Err: err})
			return nil
		}
		f, err := store.Decode(data)
		if err != nil {
			problems = append(problems, ScanError{Path: p, Err: err})
			return nil
		}
		entries = append(entries, Entry{Path: p, Source: strings.TrimSuffix(p, suffix), File: f})
		return nil
	})
	if err != nil {
		return nil, problems, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, problems, nil
}
