package vat

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Encoder packs baked clips into textures. It performs no I/O.
type Encoder struct {
	Format PixelFormat
}

// Encode packs clip positions into a texture named name. Width is the clip's
// vertex count and height its frame count, with no padding or cropping.
func (e *Encoder) Encode(name string, clip *BakedClip) (*Texture, error) {
	return e.encode(name, clip, KindPosition, func(s *Sample) []mgl32.Vec3 { return s.Positions })
}

// EncodeNormals packs clip normals into a texture named name.
func (e *Encoder) EncodeNormals(name string, clip *BakedClip) (*Texture, error) {
	return e.encode(name, clip, KindNormal, func(s *Sample) []mgl32.Vec3 { return s.Normals })
}

func (e *Encoder) encode(name string, clip *BakedClip, kind TextureKind, values func(*Sample) []mgl32.Vec3) (*Texture, error) {
	if clip == nil {
		return nil, &InputError{Reason: "nil baked clip"}
	}
	if clip.VertexCount <= 0 || clip.FrameCount <= 0 {
		return nil, &InputError{Clip: clip.Name, Reason: "empty baked clip"}
	}
	if len(clip.Samples) != clip.FrameCount {
		return nil, &FormatMismatchError{Clip: clip.Name, Frame: -1, What: "frame", Got: len(clip.Samples), Want: clip.FrameCount}
	}

	// Validate the whole clip before allocating the pixel buffer.
	what := "vertex"
	if kind == KindNormal {
		what = "normal"
	}
	for i := range clip.Samples {
		if n := len(values(&clip.Samples[i])); n != clip.VertexCount {
			return nil, &FormatMismatchError{Clip: clip.Name, Frame: clip.Samples[i].Frame, What: what, Got: n, Want: clip.VertexCount}
		}
	}

	tex := NewTexture(name, clip.VertexCount, clip.FrameCount, e.Format)
	tex.Clip = clip.Name
	tex.Kind = kind
	tex.FrameRate = clip.FrameRate
	tex.Duration = clip.Duration

	for y := range clip.Samples {
		for x, v := range values(&clip.Samples[y]) {
			tex.Set(x, y, v)
		}
	}
	if b := tex.Bounds(); !e.Format.Fits(b) {
		return nil, &InputError{Clip: clip.Name, Reason: fmt.Sprintf("%s values span %v to %v, beyond the %s range of +-%d", what, b.Min, b.Max, e.Format, MaxHalf)}
	}
	return tex, nil
}
