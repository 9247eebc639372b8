package store

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Manifest lists every object baked into an output directory.
type Manifest struct {
	Objects []ObjectEntry `yaml:"objects"`
}

// ObjectEntry describes one bake of one object.
type ObjectEntry struct {
	Object   string         `yaml:"object"`
	Source   string         `yaml:"source,omitempty"`
	BakedAt  string         `yaml:"baked_at"`
	Textures []TextureEntry `yaml:"textures"`
	Failures []FailureEntry `yaml:"failures,omitempty"`
}

// TextureEntry describes one written texture. Bounds let a shader
// denormalise preview images.
type TextureEntry struct {
	Name      string     `yaml:"name"`
	Clip      string     `yaml:"clip"`
	Kind      string     `yaml:"kind"`
	Format    string     `yaml:"format"`
	Width     int        `yaml:"width"`
	Height    int        `yaml:"height"`
	FrameRate float32    `yaml:"frame_rate"`
	Duration  float32    `yaml:"duration"`
	BoundsMin [3]float32 `yaml:"bounds_min,flow"`
	BoundsMax [3]float32 `yaml:"bounds_max,flow"`
	File      string     `yaml:"file"`
	Preview   string     `yaml:"preview,omitempty"`
}

// FailureEntry records a clip that produced no texture.
type FailureEntry struct {
	Clip   string `yaml:"clip"`
	Kind   string `yaml:"kind"`
	Reason string `yaml:"reason"`
}

// ReadManifest loads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// Put adds entry, replacing any entry for the same object. Objects stay
// sorted by name.
func (m *Manifest) Put(entry ObjectEntry) {
	for i := range m.Objects {
		if m.Objects[i].Object == entry.Object {
			m.Objects[i] = entry
			return
		}
	}
	m.Objects = append(m.Objects, entry)
	sort.Slice(m.Objects, func(i, j int) bool { return m.Objects[i].Object < m.Objects[j].Object })
}

// Find returns the entry for object, or nil.
func (m *Manifest) Find(object string) *ObjectEntry {
	for i := range m.Objects {
		if m.Objects[i].Object == object {
			return &m.Objects[i]
		}
	}
	return nil
}

// WriteFile writes the manifest as YAML.
func (m *Manifest) WriteFile(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
