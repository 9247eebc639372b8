package vat

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Baker.
type Options struct {
	Format  PixelFormat
	Normals bool // Also bake normal textures when the evaluator supports it
	Workers int  // Parallel bake worker limit, 0 = GOMAXPROCS
}

// Baker orchestrates sampling and encoding over every clip of an object.
type Baker struct {
	opts Options
	log  *zap.Logger
}

// NewBaker creates a baker. A nil logger disables logging.
func NewBaker(opts Options, log *zap.Logger) *Baker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Baker{opts: opts, log: log}
}

// BakeAll bakes every clip of clips through a single evaluator, in listing
// order. A failing clip is recorded in Failed and the batch continues.
// The returned error is only set when the clip list itself is unavailable.
//
// ctx is checked before each clip; clips not started when it is done are
// reported as canceled.
func (b *Baker) BakeAll(ctx context.Context, objectName string, clips ClipSource, eval Evaluator) (*BatchResult, error) {
	list, err := b.listClips(clips)
	if err != nil {
		return nil, err
	}

	result := newBatchResult()
	seen := make(map[string]bool, len(list))
	start := time.Now()

	for _, clip := range list {
		if err := ctx.Err(); err != nil {
			b.fail(result, clip.Name, fmt.Errorf("%w: %v", ErrCanceled, err))
			continue
		}
		if seen[clip.Name] {
			b.fail(result, clip.Name, &InputError{Clip: clip.Name, Reason: "duplicate clip name"})
			continue
		}
		seen[clip.Name] = true

		pos, nrm, err := b.bakeClip(objectName, clip, eval)
		if err != nil {
			b.fail(result, clip.Name, err)
			continue
		}
		b.succeed(result, clip.Name, pos, nrm)
	}

	b.logSummary(objectName, result, start)
	return result, nil
}

// BakeAllParallel bakes each clip in its own worker with its own evaluator
// from newEval. Results are merged after all workers finish; Failed keeps
// listing order.
func (b *Baker) BakeAllParallel(ctx context.Context, objectName string, clips ClipSource, newEval EvaluatorFactory) (*BatchResult, error) {
	if newEval == nil {
		return nil, &InputError{Reason: "no evaluator factory"}
	}
	list, err := b.listClips(clips)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		pos, nrm *Texture
		err      error
	}
	outcomes := make([]outcome, len(list))
	start := time.Now()

	// Duplicates are resolved up front so workers never race on a name.
	seen := make(map[string]bool, len(list))
	g := new(errgroup.Group)
	g.SetLimit(b.workers())
	for i, clip := range list {
		if seen[clip.Name] {
			outcomes[i].err = &InputError{Clip: clip.Name, Reason: "duplicate clip name"}
			continue
		}
		seen[clip.Name] = true

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = fmt.Errorf("%w: %v", ErrCanceled, err)
				return nil
			}
			if err := ValidateClip(clip); err != nil {
				outcomes[i].err = err
				return nil
			}
			eval, err := newEval()
			if err != nil {
				outcomes[i].err = &InputError{Clip: clip.Name, Reason: fmt.Sprintf("creating evaluator: %v", err)}
				return nil
			}
			pos, nrm, err := b.bakeClip(objectName, clip, eval)
			outcomes[i] = outcome{pos: pos, nrm: nrm, err: err}
			return nil
		})
	}
	_ = g.Wait() // workers record their errors in outcomes

	result := newBatchResult()
	for i, clip := range list {
		o := outcomes[i]
		if o.err != nil {
			b.fail(result, clip.Name, o.err)
			continue
		}
		b.succeed(result, clip.Name, o.pos, o.nrm)
	}

	b.logSummary(objectName, result, start)
	return result, nil
}

// bakeClip runs the sampler then the encoder for one clip.
func (b *Baker) bakeClip(objectName string, clip ClipInfo, eval Evaluator) (pos, nrm *Texture, err error) {
	if err := ValidateClip(clip); err != nil {
		return nil, nil, err
	}

	sampler := Sampler{Normals: b.opts.Normals, Log: b.log}
	baked, err := sampler.Sample(clip, eval)
	if err != nil {
		return nil, nil, err
	}

	name := TextureName(objectName, clip.Name)
	enc := Encoder{Format: b.opts.Format}
	pos, err = enc.Encode(name, baked)
	if err != nil {
		return nil, nil, err
	}

	if b.opts.Normals && len(baked.Samples) > 0 && baked.Samples[0].Normals != nil {
		nrm, err = enc.EncodeNormals(name+"_normals", baked)
		if err != nil {
			return nil, nil, err
		}
	}

	b.log.Info("baked clip",
		zap.String("texture", name),
		zap.Int("width", pos.Width),
		zap.Int("height", pos.Height),
		zap.Bool("normals", nrm != nil))
	return pos, nrm, nil
}

func (b *Baker) listClips(clips ClipSource) ([]ClipInfo, error) {
	if clips == nil {
		return nil, &InputError{Reason: "no clip source"}
	}
	list, err := clips.ListClips()
	if err != nil {
		return nil, fmt.Errorf("listing clips: %w", err)
	}
	return list, nil
}

func (b *Baker) fail(result *BatchResult, clip string, err error) {
	f := Failure{Clip: clip, Kind: KindOf(err), Err: err}
	result.Failed = append(result.Failed, f)
	b.log.Warn("clip failed",
		zap.String("clip", clip),
		zap.String("kind", string(f.Kind)),
		zap.Error(err))
}

func (b *Baker) succeed(result *BatchResult, clip string, pos, nrm *Texture) {
	result.Succeeded[clip] = pos
	if nrm != nil {
		result.Normals[clip] = nrm
	}
}

func (b *Baker) workers() int {
	if b.opts.Workers > 0 {
		return b.opts.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (b *Baker) logSummary(objectName string, result *BatchResult, start time.Time) {
	b.log.Info("bake finished",
		zap.String("object", objectName),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("elapsed", time.Since(start)))
}
