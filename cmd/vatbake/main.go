// vatbake bakes animated RSM and glTF models into vertex animation textures.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vat/internal/assets"
	"github.com/Faultbox/midgard-vat/internal/config"
	"github.com/Faultbox/midgard-vat/internal/logger"
	"github.com/Faultbox/midgard-vat/internal/store"
	"github.com/Faultbox/midgard-vat/pkg/formats"
	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// usageError is printed as a usage line instead of an error.
type usageError string

func (u usageError) Error() string { return "Usage: " + string(u) }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command, rest := args[0], args[1:]

	var err error
	switch command {
	case "bake":
		err = cmdBake(rest, stdout, stderr)
	case "clips", "ls":
		err = cmdClips(rest, stdout, stderr)
	case "info":
		err = cmdInfo(rest, stdout)
	case "preview":
		err = cmdPreview(rest, stdout)
	case "config":
		err = cmdConfig(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}

	var usage usageError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.As(err, &usage):
		fmt.Fprintln(stderr, usage.Error())
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `vatbake - vertex animation texture baker

Usage:
  vatbake <command> [options]

Commands:
  bake <model> [name]           Bake every clip of a model (.rsm, .gltf, .glb)
  clips <model>                 List a model's clips and texture sizes
  info <file.vat>               Show a baked texture's header
  preview <file.vat> <out>      Write a .png or .tiff preview of a texture
  config [-save]                Print the effective config, or save it as
                                the user default

RSM models are looked up in the configured GRF archives first, then in
the data folders, then as a plain path ("windmill" finds
data/model/windmill.rsm).

Examples:
  vatbake bake -fps 30 -normals models/hero.glb
  vatbake bake -grf data.grf -preview png prontera/windmill
  vatbake config -grf data.grf,rdata.grf -data ./extracted -save
  vatbake info baked/hero_walk.vat`)
}

func cmdBake(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("bake", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	mesh := fs.String("mesh", "", "glTF node to bake (default: first node with a mesh)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return usageError("vatbake bake [options] <model> [name]")
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log

	am, err := openAssets(cfg, log)
	if err != nil {
		return err
	}
	defer am.Close()
	logger.Debug("model search path",
		zap.Strings("archives", cfg.Data.GRFPaths),
		zap.Strings("dirs", cfg.Data.Dirs))

	obj, err := openObject(fs.Arg(0), fs.Arg(1), *mesh, cfg, am)
	if err != nil {
		return err
	}
	logger.Sugar.Infof("baking %s (%s, %d vertices)", obj.source, obj.kind, obj.vertices)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cfg.Bake.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Bake.Timeout)
		defer cancel()
	}

	baker := vat.NewBaker(cfg.BakeOptions(), log)
	var result *vat.BatchResult
	if cfg.Bake.Parallel {
		result, err = baker.BakeAllParallel(ctx, obj.name, obj.clips, obj.factory)
	} else {
		var eval vat.Evaluator
		if eval, err = obj.factory(); err != nil {
			return err
		}
		result, err = baker.BakeAll(ctx, obj.name, obj.clips, eval)
	}
	if err != nil {
		return err
	}

	if result.Total() == 0 {
		fmt.Fprintf(stdout, "%s has no animation clips, nothing to bake\n", obj.source)
		return nil
	}

	st := store.New(store.Options{
		Dir:      cfg.Output.Dir,
		Preview:  cfg.Output.Preview,
		Manifest: cfg.Output.Manifest,
	}, log)
	entry, err := st.SaveBatch(obj.name, obj.source, result)
	if err != nil {
		logger.Error("saving textures failed", zap.String("object", obj.name), zap.Error(err))
		return err
	}
	logger.Info("bake finished",
		zap.String("object", obj.name),
		zap.Int("textures", len(entry.Textures)),
		zap.String("dir", cfg.Output.Dir))

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, te := range entry.Textures {
		fmt.Fprintf(tw, "%s\t%dx%d\t%s\t%s\n", te.Name, te.Width, te.Height, te.Format, te.File)
	}
	for _, f := range entry.Failures {
		fmt.Fprintf(tw, "%s\tFAILED\t%s\t%s\n", f.Clip, f.Kind, f.Reason)
	}
	tw.Flush()

	if len(result.Failed) > 0 {
		for _, f := range result.Failed {
			logger.Warn("clip failed", zap.String("clip", f.Clip), zap.String("kind", string(f.Kind)), zap.Error(f.Err))
		}
		return fmt.Errorf("%d of %d clips failed", len(result.Failed), result.Total())
	}
	return nil
}

func cmdClips(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("clips", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	mesh := fs.String("mesh", "", "glTF node to inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return usageError("vatbake clips [options] <model>")
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	am, err := openAssets(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer am.Close()

	obj, err := openObject(fs.Arg(0), "", *mesh, cfg, am)
	if err != nil {
		return err
	}
	clips, err := obj.clips.ListClips()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Model:    %s (%s)\n", obj.source, obj.kind)
	fmt.Fprintf(stdout, "Object:   %s\n", obj.name)
	fmt.Fprintf(stdout, "Vertices: %d\n", obj.vertices)
	for _, d := range obj.details {
		fmt.Fprintln(stdout, d)
	}
	fmt.Fprintf(stdout, "Clips:    %d\n", len(clips))

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, c := range clips {
		size := "-"
		if frames, err := vat.FrameCount(c.Duration, c.FrameRate); err == nil {
			size = fmt.Sprintf("%dx%d", obj.vertices, frames)
		}
		fmt.Fprintf(tw, "  %s\t%.3fs\t%gfps\t%s\n", c.Name, c.Duration, c.FrameRate, size)
	}
	return tw.Flush()
}

func cmdConfig(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	save := fs.Bool("save", false, "Write the effective config to "+config.UserConfigPath())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if *save {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Fprintf(stdout, "Wrote %s\n", config.UserConfigPath())
		return nil
	}

	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}

func cmdInfo(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return usageError("vatbake info <file.vat>")
	}

	v, err := formats.ParseVATFile(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "File:       %s\n", args[0])
	fmt.Fprintf(stdout, "Version:    %s\n", v.Version)
	fmt.Fprintf(stdout, "Name:       %s\n", v.Name)
	fmt.Fprintf(stdout, "Clip:       %s\n", v.Clip)
	fmt.Fprintf(stdout, "Kind:       %s\n", v.Kind)
	fmt.Fprintf(stdout, "Format:     %s\n", v.Format)
	fmt.Fprintf(stdout, "Size:       %dx%d (vertices x frames)\n", v.Width, v.Height)
	fmt.Fprintf(stdout, "Frame rate: %g fps\n", v.FrameRate)
	fmt.Fprintf(stdout, "Duration:   %.3fs\n", v.Duration)
	fmt.Fprintf(stdout, "Bounds:     [%g %g %g] - [%g %g %g]\n",
		v.Bounds.Min[0], v.Bounds.Min[1], v.Bounds.Min[2],
		v.Bounds.Max[0], v.Bounds.Max[1], v.Bounds.Max[2])
	fmt.Fprintf(stdout, "Payload:    %.2f KB\n", float64(v.PayloadSize())/1024)
	return nil
}

func cmdPreview(args []string, stdout io.Writer) error {
	if len(args) < 2 {
		return usageError("vatbake preview <file.vat> <out.(png|tiff)>")
	}

	v, err := formats.ParseVATFile(args[0])
	if err != nil {
		return err
	}
	if err := store.WritePreview(args[1], v.Texture()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s (%dx%d)\n", args[1], v.Width, v.Height)
	return nil
}

// openAssets registers the configured archives and data folders. A missing
// archive is an error; models given as plain paths never need one.
func openAssets(cfg *config.Config, log *zap.Logger) (*assets.Manager, error) {
	am := assets.NewManager(assets.Options{
		ModelPrefix:  cfg.Data.ModelPrefix,
		CacheEntries: cfg.Data.CacheEntries,
	}, log)
	for _, path := range cfg.Data.GRFPaths {
		if err := am.AddArchive(path); err != nil {
			am.Close()
			return nil, err
		}
	}
	for _, dir := range cfg.Data.Dirs {
		am.AddDir(dir)
	}
	return am, nil
}
