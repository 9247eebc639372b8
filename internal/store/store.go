// Package store persists baked textures: .vat files, optional image
// previews and a YAML manifest describing every bake.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vat/pkg/formats"
	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// ManifestName is the manifest file written into the output directory.
const ManifestName = "manifest.yaml"

// halfCoarseMagnitude is where float16 steps reach 1/4 unit.
const halfCoarseMagnitude = 256

// Options configures a Store.
type Options struct {
	Dir      string
	Preview  string // "", "png" or "tiff"
	Manifest bool
}

// Store writes bake results into one output directory.
type Store struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

// New creates a store. A nil logger disables logging.
func New(opts Options, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{opts: opts, log: log, now: time.Now}
}

// SaveBatch writes every succeeded texture of result and, when enabled,
// records the batch in the manifest. The returned entry describes what was
// written.
func (s *Store) SaveBatch(object, source string, result *vat.BatchResult) (*ObjectEntry, error) {
	if err := os.MkdirAll(s.opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	entry := &ObjectEntry{
		Object:  object,
		Source:  source,
		BakedAt: s.now().UTC().Format(time.RFC3339),
	}

	clips := make([]string, 0, len(result.Succeeded))
	for clip := range result.Succeeded {
		clips = append(clips, clip)
	}
	sort.Strings(clips)

	for _, clip := range clips {
		textures := []*vat.Texture{result.Succeeded[clip]}
		if nrm, ok := result.Normals[clip]; ok {
			textures = append(textures, nrm)
		}
		for _, tex := range textures {
			te, err := s.WriteTexture(tex)
			if err != nil {
				return nil, err
			}
			entry.Textures = append(entry.Textures, *te)
		}
	}

	for _, f := range result.Failed {
		entry.Failures = append(entry.Failures, FailureEntry{
			Clip:   f.Clip,
			Kind:   string(f.Kind),
			Reason: f.Err.Error(),
		})
	}

	if s.opts.Manifest {
		if err := s.record(entry); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// WriteTexture writes tex as <dir>/<name>.vat, plus a preview when enabled.
func (s *Store) WriteTexture(tex *vat.Texture) (*TextureEntry, error) {
	base := FileName(tex.Name)
	path := filepath.Join(s.opts.Dir, base+".vat")

	if err := writeFile(path, func(f *os.File) error { return formats.WriteVAT(f, tex) }); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}

	bounds := tex.Bounds()
	if tex.Format == vat.FormatRGBAHalf && magnitude(bounds) >= halfCoarseMagnitude {
		s.log.Warn("half precision is coarse at this scale, consider float format",
			zap.String("texture", tex.Name),
			zap.Float32("magnitude", magnitude(bounds)))
	}
	te := &TextureEntry{
		Name:      tex.Name,
		Clip:      tex.Clip,
		Kind:      tex.Kind.String(),
		Format:    tex.Format.String(),
		Width:     tex.Width,
		Height:    tex.Height,
		FrameRate: tex.FrameRate,
		Duration:  tex.Duration,
		BoundsMin: bounds.Min,
		BoundsMax: bounds.Max,
		File:      filepath.Base(path),
	}

	if s.opts.Preview != "" {
		preview := filepath.Join(s.opts.Dir, base+"."+s.opts.Preview)
		if err := WritePreview(preview, tex); err != nil {
			return nil, err
		}
		te.Preview = filepath.Base(preview)
	}

	s.log.Debug("texture written",
		zap.String("texture", tex.Name),
		zap.String("path", path),
		zap.String("preview", te.Preview))
	return te, nil
}

// record merges entry into the manifest, replacing a previous bake of the
// same object.
func (s *Store) record(entry *ObjectEntry) error {
	path := filepath.Join(s.opts.Dir, ManifestName)

	m, err := ReadManifest(path)
	if errors.Is(err, os.ErrNotExist) {
		m = &Manifest{}
	} else if err != nil {
		return err
	}

	m.Put(*entry)
	if err := m.WriteFile(path); err != nil {
		return err
	}
	s.log.Info("manifest updated", zap.String("path", path), zap.Int("objects", len(m.Objects)))
	return nil
}

// FileName turns a texture name into a safe file base name.
func FileName(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// magnitude returns the largest absolute coordinate within b.
func magnitude(b vat.Bounds) float32 {
	var m float32
	for c := 0; c < 3; c++ {
		m = max(m, -b.Min[c], b.Max[c])
	}
	return m
}
