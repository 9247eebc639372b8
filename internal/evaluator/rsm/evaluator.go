// Package rsm evaluates RSM rigid-node models for baking. Each model has a
// single clip spanning its animation length.
package rsm

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-vat/pkg/formats"
	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// DefaultClipName names the clip when Options.Name is empty.
const DefaultClipName = "anim"

// ErrUnknownClip is returned by SetPose for a clip the model does not own.
var ErrUnknownClip = errors.New("unknown clip")

// Options configures an Evaluator.
type Options struct {
	Name      string  // Clip name
	FrameRate float32 // RSM 1.x stores no frame rate
}

// Evaluator poses an RSM model. It is not safe for concurrent use; use
// Factory to give each worker its own.
type Evaluator struct {
	model       *formats.RSM
	index       map[string]int
	clip        vat.ClipInfo
	vertexCount int
	timeMs      float32
}

// New creates an evaluator over model, posed at t = 0.
func New(model *formats.RSM, opts Options) (*Evaluator, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", vat.ErrInvalidInput)
	}
	if opts.Name == "" {
		opts.Name = DefaultClipName
	}

	e := &Evaluator{
		model: model,
		index: make(map[string]int, len(model.Nodes)),
		clip: vat.ClipInfo{
			Name:      opts.Name,
			Duration:  float32(model.AnimLength) / 1000,
			FrameRate: opts.FrameRate,
		},
		vertexCount: model.GetTotalVertexCount(),
	}
	for i := range model.Nodes {
		// First node wins on duplicate names.
		if _, ok := e.index[model.Nodes[i].Name]; !ok {
			e.index[model.Nodes[i].Name] = i
		}
	}
	return e, nil
}

// ListClips returns the model's clip, or none for a static model.
func (e *Evaluator) ListClips() ([]vat.ClipInfo, error) {
	if !e.model.HasAnimation() {
		return nil, nil
	}
	return []vat.ClipInfo{e.clip}, nil
}

// Factory returns a factory of independent evaluators sharing the parsed
// model, which is never written.
func (e *Evaluator) Factory() vat.EvaluatorFactory {
	return func() (vat.Evaluator, error) {
		c := *e
		c.timeMs = 0
		return &c, nil
	}
}

// VertexCount returns the number of raw vertices over all nodes.
func (e *Evaluator) VertexCount() int {
	return e.vertexCount
}

// SetPose poses the model at t seconds into clip.
func (e *Evaluator) SetPose(clip vat.ClipInfo, t float32) error {
	if clip.Name != e.clip.Name {
		return fmt.Errorf("%w: %q", ErrUnknownClip, clip.Name)
	}
	e.timeMs = t * 1000
	return nil
}

// CurrentVertexPositions returns vertices in node order then vertex order,
// in model space with Y up.
func (e *Evaluator) CurrentVertexPositions() ([]mgl32.Vec3, error) {
	matrices := poseMatrices(e.model, e.index, e.timeMs)

	positions := make([]mgl32.Vec3, 0, e.vertexCount)
	for i := range e.model.Nodes {
		for _, v := range e.model.Nodes[i].Vertices {
			p := mgl32.TransformCoordinate(v, matrices[i])
			p[1] = -p[1]
			positions = append(positions, p)
		}
	}
	return positions, nil
}

// CurrentVertexNormals returns per-vertex normals averaged from the posed
// faces touching each vertex. Vertices no face references get +Y.
func (e *Evaluator) CurrentVertexNormals() ([]mgl32.Vec3, error) {
	positions, err := e.CurrentVertexPositions()
	if err != nil {
		return nil, err
	}

	normals := make([]mgl32.Vec3, len(positions))
	base := 0
	for i := range e.model.Nodes {
		node := &e.model.Nodes[i]
		for _, face := range node.Faces {
			if !faceInRange(face, len(node.Vertices)) {
				continue
			}
			p0 := positions[base+int(face.VertexIDs[0])]
			p1 := positions[base+int(face.VertexIDs[1])]
			p2 := positions[base+int(face.VertexIDs[2])]
			n := p1.Sub(p0).Cross(p2.Sub(p0))
			if n.Len() < 1e-5 {
				continue // degenerate
			}
			n = n.Normalize()
			for _, vid := range face.VertexIDs {
				normals[base+int(vid)] = normals[base+int(vid)].Add(n)
			}
		}
		base += len(node.Vertices)
	}

	for i, n := range normals {
		if n.Len() < 1e-4 {
			normals[i] = mgl32.Vec3{0, 1, 0}
			continue
		}
		normals[i] = n.Normalize()
	}
	return normals, nil
}

func faceInRange(face formats.RSMFace, vertexCount int) bool {
	for _, vid := range face.VertexIDs {
		if int(vid) >= vertexCount {
			return false
		}
	}
	return true
}
