package config

import (
	"os"
	"path/filepath"

	"github.com/wippyai/mdgx-bridge/errors"
)

// Manifest lists the systems a batch run evaluates.
type Manifest struct {
	Systems []System `yaml:"systems" validate:"required,min=1,unique=Name,dive"`
}

// System is one topology/coordinate pair and the sites to evaluate it at.
// Sites names a file of whitespace-separated coordinates, three per atom.
type System struct {
	Name        string `yaml:"name" validate:"required"`
	Topology    string `yaml:"topology" validate:"required"`
	Coordinates string `yaml:"coordinates" validate:"required"`
	Sites       string `yaml:"sites" validate:"required"`
}

// LoadManifest reads a batch manifest. Relative paths resolve against the
// manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InvalidConfig("read "+path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i := range m.Systems {
		s := &m.Systems[i]
		s.Topology = resolve(dir, s.Topology)
		s.Coordinates = resolve(dir, s.Coordinates)
		s.Sites = resolve(dir, s.Sites)
	}
	return m, nil
}

// ParseManifest decodes and validates a manifest without resolving paths.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := decodeStrict(data, m); err != nil {
		return nil, err
	}
	if err := check(m); err != nil {
		return nil, err
	}
	return m, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
