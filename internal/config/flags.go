package config

import (
	"flag"
	"strings"
	"time"
)

// Flags holds command-line overrides. Zero values mean "not set".
type Flags struct {
	Config  string
	Debug   bool
	FPS     float64
	Format  string
	Normals bool
	Serial  bool
	Workers int
	Timeout time.Duration
	GRF     string // comma-separated archive paths
	Data    string // comma-separated data folders
	Out     string
	Preview string
}

// RegisterFlags binds the config overrides to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.Float64Var(&f.FPS, "fps", 0, "Sampling frame rate")
	fs.StringVar(&f.Format, "format", "", "Pixel format: half or float")
	fs.BoolVar(&f.Normals, "normals", false, "Also bake normal textures")
	fs.BoolVar(&f.Serial, "serial", false, "Bake clips one at a time")
	fs.IntVar(&f.Workers, "workers", 0, "Parallel bake workers")
	fs.DurationVar(&f.Timeout, "timeout", 0, "Abort baking after this long")
	fs.StringVar(&f.GRF, "grf", "", "Comma-separated GRF archives to search")
	fs.StringVar(&f.Data, "data", "", "Comma-separated extracted data folders to search")
	fs.StringVar(&f.Out, "o", "", "Output directory")
	fs.StringVar(&f.Preview, "preview", "", "Also write previews: png or tiff")
	return f
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.FPS > 0 {
		cfg.Bake.FrameRate = float32(f.FPS)
	}
	if f.Format != "" {
		cfg.Bake.Format = f.Format
	}
	if f.Normals {
		cfg.Bake.Normals = true
	}
	if f.Serial {
		cfg.Bake.Parallel = false
	}
	if f.Workers > 0 {
		cfg.Bake.Workers = f.Workers
	}
	if f.Timeout > 0 {
		cfg.Bake.Timeout = f.Timeout
	}
	if f.GRF != "" {
		cfg.Data.GRFPaths = splitList(f.GRF)
	}
	if f.Data != "" {
		cfg.Data.Dirs = splitList(f.Data)
	}
	if f.Out != "" {
		cfg.Output.Dir = f.Out
	}
	if f.Preview != "" {
		cfg.Output.Preview = f.Preview
	}
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
