package vat

import "github.com/go-gl/mathgl/mgl32"

// Evaluator poses a bound mesh and reports its vertex positions.
// Implementations hold mutable pose state and are not safe for concurrent use.
type Evaluator interface {
	// VertexCount is the vertex count of the bound mesh. It must not change
	// between poses.
	VertexCount() int
	// SetPose evaluates clip at time t (seconds).
	SetPose(clip ClipInfo, t float32) error
	// CurrentVertexPositions returns positions for the last pose, ordered by
	// mesh vertex index. The returned slice may be reused by the next call.
	CurrentVertexPositions() ([]mgl32.Vec3, error)
}

// RootedEvaluator is an Evaluator whose positions are reported in world
// space relative to a movable mesh root.
type RootedEvaluator interface {
	Evaluator
	// ResetRoot sets the root's local position, rotation and scale to identity.
	ResetRoot()
	// RootTransform returns the root's current world matrix.
	RootTransform() mgl32.Mat4
}

// NormalEvaluator can also report per-vertex normals.
type NormalEvaluator interface {
	Evaluator
	CurrentVertexNormals() ([]mgl32.Vec3, error)
}

// ClipSource lists the clips bound to an animated object.
type ClipSource interface {
	ListClips() ([]ClipInfo, error)
}

// EvaluatorFactory creates an independent evaluator instance. Parallel bakes
// call it once per clip.
type EvaluatorFactory func() (Evaluator, error)

// ClipList is a static ClipSource.
type ClipList []ClipInfo

// ListClips returns the list itself.
func (l ClipList) ListClips() ([]ClipInfo, error) {
	return l, nil
}
