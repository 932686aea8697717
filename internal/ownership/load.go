package ownership

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultManifest is the manifest location relative to the repository root.
const DefaultManifest = ".orch/ownership.yaml"

// Load reads and validates the ownership manifest at manifestPath.
// Relative paths resolve against root.
func Load(root, manifestPath string) (*Directory, error) {
	if manifestPath == "" {
		manifestPath = DefaultManifest
	}
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(root, manifestPath)
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading ownership manifest: %w", err)
	}

	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}

	dir, err := New(spec, string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}
	return dir, nil
}

// Parse decodes a YAML manifest. Unknown keys are rejected.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return Spec{}, errors.New("ownership manifest is empty")
		}
		return Spec{}, fmt.Errorf("parsing ownership manifest: %w", err)
	}
	if len(spec.Subsystems) == 0 && len(spec.Skimsystems) == 0 {
		return Spec{}, errors.New("ownership manifest declares no subsystems or skimsystems")
	}
	return spec, nil
}
