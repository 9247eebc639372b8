// Package vat bakes animated mesh vertex positions into floating-point
// textures for vertex-shader playback (vertex animation textures).
//
// A bake is a pure batch transform: every clip listed by a ClipSource is
// sampled frame by frame through an Evaluator, and each clip becomes one
// Texture whose width is the vertex count and whose height is the frame
// count. Pixel (x, y) holds the object-space position of vertex x at frame y.
package vat

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// ClipInfo describes one animation clip as listed by a ClipSource.
type ClipInfo struct {
	Name      string
	Duration  float32 // Seconds
	FrameRate float32 // Frames per second
}

// String returns "name (1.25s @ 30fps)".
func (c ClipInfo) String() string {
	return fmt.Sprintf("%s (%.3gs @ %gfps)", c.Name, c.Duration, c.FrameRate)
}

// Sample holds every vertex position of one frame in object space.
type Sample struct {
	Frame     int
	Time      float32
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3 // Only set when normals are baked
}

// BakedClip aggregates all samples of one clip.
type BakedClip struct {
	Name        string
	FrameRate   float32
	Duration    float32
	FrameCount  int
	VertexCount int
	Samples     []Sample
}

// TextureKind identifies what a texture's RGB channels encode.
type TextureKind uint8

const (
	KindPosition TextureKind = 0 // RGB = object-space XYZ position
	KindNormal   TextureKind = 1 // RGB = object-space XYZ normal
)

// String returns the kind name used in manifests.
func (k TextureKind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindNormal:
		return "normal"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// PixelFormat is the storage precision used when a texture is persisted.
// 8-bit channels lose animation fidelity, so only float formats exist.
type PixelFormat uint8

const (
	FormatRGBAHalf  PixelFormat = 0 // 4 x float16
	FormatRGBAFloat PixelFormat = 1 // 4 x float32
)

// String returns the format name used in config and manifests.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGBAHalf:
		return "half"
	case FormatRGBAFloat:
		return "float"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// MaxHalf is the largest finite float16 value.
const MaxHalf = 65504

// Fits reports whether values within b survive storage in f.
func (f PixelFormat) Fits(b Bounds) bool {
	if f != FormatRGBAHalf {
		return true
	}
	for c := 0; c < 3; c++ {
		if b.Min[c] < -MaxHalf || b.Max[c] > MaxHalf {
			return false
		}
	}
	return true
}

// BytesPerChannel returns the storage size of one channel.
func (f PixelFormat) BytesPerChannel() int {
	if f == FormatRGBAFloat {
		return 4
	}
	return 2
}

// ParsePixelFormat parses "half" or "float".
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "half", "rgbahalf", "":
		return FormatRGBAHalf, nil
	case "float", "rgbafloat":
		return FormatRGBAFloat, nil
	default:
		return 0, fmt.Errorf("%w: unknown pixel format %q", ErrInvalidInput, s)
	}
}

// Channels is the number of channels per pixel (RGBA).
const Channels = 4

// Bounds is an axis-aligned box over encoded values.
type Bounds struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Size returns Max - Min.
func (b Bounds) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Texture is a baked clip packed into a 2D float pixel grid.
// Width is the vertex count and Height the frame count.
type Texture struct {
	Name      string
	Clip      string
	Kind      TextureKind
	Format    PixelFormat
	Width     int
	Height    int
	FrameRate float32
	Duration  float32
	Pix       []float32 // Row-major RGBA, row = frame
}

// NewTexture allocates a zeroed texture.
func NewTexture(name string, width, height int, format PixelFormat) *Texture {
	return &Texture{
		Name:   name,
		Format: format,
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*Channels),
	}
}

// PixOffset returns the index of pixel (x, y)'s first channel in Pix.
func (t *Texture) PixOffset(x, y int) int {
	return (y*t.Width + x) * Channels
}

// Set writes v into pixel (x, y); alpha is reserved and set to 1.
func (t *Texture) Set(x, y int, v mgl32.Vec3) {
	i := t.PixOffset(x, y)
	t.Pix[i+0] = v[0]
	t.Pix[i+1] = v[1]
	t.Pix[i+2] = v[2]
	t.Pix[i+3] = 1
}

// Position decodes the value encoded at pixel (x, y): for a position
// texture this is vertex x at frame y.
func (t *Texture) Position(x, y int) mgl32.Vec3 {
	i := t.PixOffset(x, y)
	return mgl32.Vec3{t.Pix[i], t.Pix[i+1], t.Pix[i+2]}
}

// Frame decodes an entire row.
func (t *Texture) Frame(y int) []mgl32.Vec3 {
	out := make([]mgl32.Vec3, t.Width)
	for x := range out {
		out[x] = t.Position(x, y)
	}
	return out
}

// Bounds returns the min/max of all encoded RGB values.
func (t *Texture) Bounds() Bounds {
	if t.Width == 0 || t.Height == 0 {
		return Bounds{}
	}
	b := Bounds{Min: t.Position(0, 0), Max: t.Position(0, 0)}
	for i := 0; i < len(t.Pix); i += Channels {
		for c := 0; c < 3; c++ {
			v := t.Pix[i+c]
			if v < b.Min[c] {
				b.Min[c] = v
			}
			if v > b.Max[c] {
				b.Max[c] = v
			}
		}
	}
	return b
}

// Failure records why a clip was excluded from a batch result.
type Failure struct {
	Clip string
	Kind FailureKind
	Err  error
}

// Error makes Failure usable as an error.
func (f Failure) Error() string {
	return fmt.Sprintf("clip %q: %s: %v", f.Clip, f.Kind, f.Err)
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error {
	return f.Err
}

// BatchResult partitions every listed clip into succeeded or failed.
type BatchResult struct {
	Succeeded map[string]*Texture // Keyed by clip name
	Normals   map[string]*Texture // Keyed by clip name, only when normals are baked
	Failed    []Failure           // In clip listing order
}

func newBatchResult() *BatchResult {
	return &BatchResult{
		Succeeded: make(map[string]*Texture),
		Normals:   make(map[string]*Texture),
	}
}

// Total returns the number of clips accounted for.
func (r *BatchResult) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// TextureName returns the deterministic texture name for a clip of an object.
func TextureName(objectName, clipName string) string {
	return objectName + "_" + clipName
}
