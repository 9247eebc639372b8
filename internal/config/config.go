// Package config handles baker configuration loading and management.
package config

import (
	"fmt"
	"time"

	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// Config holds all baker settings.
type Config struct {
	Bake    BakeConfig    `yaml:"bake"`
	Data    DataConfig    `yaml:"data"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// BakeConfig holds sampling and encoding settings.
type BakeConfig struct {
	FrameRate float32       `yaml:"frame_rate"` // Samples per second for formats that store none
	Format    string        `yaml:"format"`     // "half" or "float"
	Normals   bool          `yaml:"normals"`    // Also bake normal textures
	Parallel  bool          `yaml:"parallel"`   // One worker per clip
	Workers   int           `yaml:"workers"`    // 0 = GOMAXPROCS
	Timeout   time.Duration `yaml:"timeout"`    // 0 = no limit
}

// DataConfig holds model lookup settings.
type DataConfig struct {
	GRFPaths     []string `yaml:"grf_paths"`     // Searched last to first
	Dirs         []string `yaml:"dirs"`          // Extracted data folders, searched after archives
	ModelPrefix  string   `yaml:"model_prefix"`  // Tried before bare names inside archives
	CacheEntries int      `yaml:"cache_entries"` // Loaded file cache size
}

// OutputConfig holds where and how textures are written.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Preview  string `yaml:"preview"`  // "", "png" or "tiff"
	Manifest bool   `yaml:"manifest"` // Write manifest.yaml next to the textures
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Bake: BakeConfig{
			FrameRate: 30,
			Format:    "half",
			Parallel:  true,
		},
		Data: DataConfig{
			ModelPrefix:  "data/model/",
			CacheEntries: 64,
		},
		Output: OutputConfig{
			Dir:      "baked",
			Manifest: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks values a YAML file or flag could have set wrong.
func (c *Config) Validate() error {
	if c.Bake.FrameRate <= 0 {
		return fmt.Errorf("bake.frame_rate must be > 0, got %v", c.Bake.FrameRate)
	}
	if _, err := vat.ParsePixelFormat(c.Bake.Format); err != nil {
		return fmt.Errorf("bake.format: %w", err)
	}
	if c.Bake.Workers < 0 {
		return fmt.Errorf("bake.workers must be >= 0, got %d", c.Bake.Workers)
	}
	switch c.Output.Preview {
	case "", "png", "tiff":
	default:
		return fmt.Errorf("output.preview must be png or tiff, got %q", c.Output.Preview)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	return nil
}

// PixelFormat returns the parsed bake format. Call after Validate.
func (c *Config) PixelFormat() vat.PixelFormat {
	f, _ := vat.ParsePixelFormat(c.Bake.Format)
	return f
}

// BakeOptions converts the bake section into baker options.
func (c *Config) BakeOptions() vat.Options {
	return vat.Options{
		Format:  c.PixelFormat(),
		Normals: c.Bake.Normals,
		Workers: c.Bake.Workers,
	}
}
