package vat

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// frameEpsilon absorbs float error in duration x rate so that e.g.
// 1.0s at 30fps yields 31 frames and never 30.
const frameEpsilon = 1e-4

const (
	// MaxFrames caps the frame count of one clip.
	MaxFrames = 1 << 20
	// MaxPixels caps vertices x frames of one texture. The .vat reader
	// applies the same limit to headers.
	MaxPixels = 1 << 28
)

// ValidateClip checks the clip's duration and frame rate.
func ValidateClip(clip ClipInfo) error {
	if !isPositiveFinite(clip.FrameRate) {
		return &InputError{Clip: clip.Name, Reason: fmt.Sprintf("frame rate must be > 0, got %v", clip.FrameRate)}
	}
	if !isPositiveFinite(clip.Duration) {
		return &InputError{Clip: clip.Name, Reason: fmt.Sprintf("duration must be > 0, got %v", clip.Duration)}
	}
	if float64(clip.Duration)*float64(clip.FrameRate) >= MaxFrames {
		return &InputError{Clip: clip.Name, Reason: fmt.Sprintf("%vs at %vfps exceeds %d frames", clip.Duration, clip.FrameRate, MaxFrames)}
	}
	return nil
}

// FrameCount returns floor(duration * frameRate) + 1. The extra frame is the
// terminal pose at t = duration so playback is exact at clip boundaries.
func FrameCount(duration, frameRate float32) (int, error) {
	if err := ValidateClip(ClipInfo{Duration: duration, FrameRate: frameRate}); err != nil {
		return 0, err
	}
	return int(math.Floor(float64(duration)*float64(frameRate)+frameEpsilon)) + 1, nil
}

// SampleTime returns the pose time of frame f.
func SampleTime(frame int, frameRate float32) float32 {
	return float32(float64(frame) / float64(frameRate))
}

// SampleTimes returns {0, 1/R, 2/R, ..., (F-1)/R}.
func SampleTimes(duration, frameRate float32) ([]float32, error) {
	n, err := FrameCount(duration, frameRate)
	if err != nil {
		return nil, err
	}
	times := make([]float32, n)
	for f := range times {
		times[f] = SampleTime(f, frameRate)
	}
	return times, nil
}

// Sampler produces one Sample per frame of a clip.
type Sampler struct {
	// Normals enables normal capture for evaluators implementing NormalEvaluator.
	Normals bool
	Log     *zap.Logger
}

// Sample evaluates every frame of clip in order.
func (s *Sampler) Sample(clip ClipInfo, eval Evaluator) (*BakedClip, error) {
	if eval == nil {
		return nil, &InputError{Clip: clip.Name, Reason: "no mesh evaluator bound"}
	}
	if err := ValidateClip(clip); err != nil {
		return nil, err
	}
	frameCount, err := FrameCount(clip.Duration, clip.FrameRate)
	if err != nil {
		return nil, err
	}
	vertexCount := eval.VertexCount()
	if vertexCount <= 0 {
		return nil, &InputError{Clip: clip.Name, Reason: "mesh evaluator has no vertices bound"}
	}
	if int64(frameCount)*int64(vertexCount) > MaxPixels {
		return nil, &InputError{Clip: clip.Name, Reason: fmt.Sprintf("%d vertices x %d frames exceeds %d pixels", vertexCount, frameCount, MaxPixels)}
	}

	rooted, isRooted := eval.(RootedEvaluator)
	if isRooted {
		rooted.ResetRoot()
	}
	normalEval, hasNormals := eval.(NormalEvaluator)
	captureNormals := s.Normals && hasNormals

	log := s.logger()
	log.Debug("sampling clip",
		zap.String("clip", clip.Name),
		zap.Int("frames", frameCount),
		zap.Int("vertices", vertexCount),
		zap.Bool("normals", captureNormals))

	baked := &BakedClip{
		Name:        clip.Name,
		FrameRate:   clip.FrameRate,
		Duration:    clip.Duration,
		FrameCount:  frameCount,
		VertexCount: vertexCount,
		Samples:     make([]Sample, 0, frameCount),
	}

	for f := 0; f < frameCount; f++ {
		t := SampleTime(f, clip.FrameRate)
		if err := eval.SetPose(clip, t); err != nil {
			return nil, &SamplingError{Clip: clip.Name, Frame: f, Time: t, Err: err}
		}
		positions, err := eval.CurrentVertexPositions()
		if err != nil {
			return nil, &SamplingError{Clip: clip.Name, Frame: f, Time: t, Err: err}
		}

		toObject, normalMatrix := mgl32.Ident4(), mgl32.Ident4()
		if isRooted {
			root := rooted.RootTransform()
			if root.Det() == 0 {
				return nil, &SamplingError{Clip: clip.Name, Frame: f, Time: t, Err: fmt.Errorf("root transform is singular")}
			}
			toObject = root.Inv()
			normalMatrix = root.Transpose()
		}

		sample := Sample{
			Frame:     f,
			Time:      t,
			Positions: make([]mgl32.Vec3, len(positions)),
		}
		for i, p := range positions {
			sample.Positions[i] = mgl32.TransformCoordinate(p, toObject)
		}

		if captureNormals {
			normals, err := normalEval.CurrentVertexNormals()
			if err != nil {
				return nil, &SamplingError{Clip: clip.Name, Frame: f, Time: t, Err: err}
			}
			sample.Normals = make([]mgl32.Vec3, len(normals))
			for i, n := range normals {
				sample.Normals[i] = safeNormalize(mgl32.TransformNormal(n, normalMatrix))
			}
		}

		baked.Samples = append(baked.Samples, sample)
	}

	return baked, nil
}

func (s *Sampler) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func isPositiveFinite(v float32) bool {
	f := float64(v)
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

func safeNormalize(v mgl32.Vec3) mgl32.Vec3 {
	if v.LenSqr() == 0 {
		return v
	}
	return v.Normalize()
}
