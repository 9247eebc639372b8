// Package assets resolves model paths against GRF archives and data
// directories, caching loaded bytes.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vat/pkg/encoding"
	"github.com/Faultbox/midgard-vat/pkg/formats"
	"github.com/Faultbox/midgard-vat/pkg/grf"
)

// ErrNotFound is returned when no archive or directory holds a path.
var ErrNotFound = errors.New("asset not found")

// Options configures a Manager.
type Options struct {
	ModelPrefix  string // Tried before the bare name, e.g. "data/model/"
	CacheEntries int    // 0 disables caching
}

// Manager handles asset loading from GRF files and data directories.
type Manager struct {
	opts     Options
	archives []*grf.Archive
	dirs     []string
	cache    *Cache
	log      *zap.Logger
	mu       sync.RWMutex
}

// NewManager creates a new asset manager. A nil logger disables logging.
func NewManager(opts Options, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		opts:  opts,
		cache: NewCache(opts.CacheEntries),
		log:   log,
	}
}

// AddArchive adds a GRF archive to the manager.
// Archives are searched in reverse order (last added = highest priority).
func (m *Manager) AddArchive(path string) error {
	archive, err := grf.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}

	m.mu.Lock()
	m.archives = append(m.archives, archive)
	m.mu.Unlock()

	m.log.Debug("archive added", zap.String("path", path), zap.Int("files", len(archive.List())))
	return nil
}

// AddDir adds a data directory searched after every archive.
func (m *Manager) AddDir(dir string) {
	m.mu.Lock()
	m.dirs = append(m.dirs, dir)
	m.mu.Unlock()
}

// Load loads a file by its archive path. Archives are tried first, then
// data directories in the order they were added.
func (m *Manager) Load(name string) ([]byte, error) {
	key := encoding.NormalizeGRFPath(name)
	if data, ok := m.cache.Get(key); ok {
		return data, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.archives) - 1; i >= 0; i-- {
		data, err := m.archives[i].Read(key)
		if err == nil {
			m.cache.Set(key, data)
			return data, nil
		}
		if !errors.Is(err, grf.ErrNotFound) {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
	}

	// Data directories keep the caller's case.
	rel := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	for _, dir := range m.dirs {
		full := filepath.Join(dir, rel)
		if fi, err := os.Stat(full); err == nil && fi.IsDir() {
			continue
		}
		data, err := os.ReadFile(full)
		if err == nil {
			m.cache.Set(key, data)
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Resolve finds a model by name. The name is looked up in the archives and
// data directories with and without the model prefix, adding ".rsm" when it
// has no extension; a plain filesystem path is tried last. It returns the
// resolved path and its bytes.
func (m *Manager) Resolve(name string) (string, []byte, error) {
	for _, candidate := range m.candidates(name) {
		data, err := m.Load(candidate)
		if err == nil {
			return candidate, data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", nil, err
		}
	}

	data, err := os.ReadFile(name)
	if err == nil {
		return name, data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return "", nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (m *Manager) candidates(name string) []string {
	name = strings.ReplaceAll(name, "\\", "/")
	names := []string{name}
	if path.Ext(name) == "" {
		names = append(names, name+".rsm")
	}

	var out []string
	prefix := strings.ReplaceAll(m.opts.ModelPrefix, "\\", "/")
	if prefix != "" && !strings.HasPrefix(encoding.NormalizeGRFPath(name), encoding.NormalizeGRFPath(prefix)) {
		for _, n := range names {
			out = append(out, prefix+n)
		}
	}
	return append(out, names...)
}

// LoadRSM resolves and parses an RSM model.
func (m *Manager) LoadRSM(name string) (*formats.RSM, string, error) {
	resolved, data, err := m.Resolve(name)
	if err != nil {
		return nil, "", err
	}
	model, err := formats.ParseRSM(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing %s: %w", resolved, err)
	}
	return model, resolved, nil
}

// Close closes all archives.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, archive := range m.archives {
		archive.Close()
	}
	m.archives = nil
	m.cache.Clear()
}
