package gltfskin

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// Evaluator poses one Model. It is not safe for concurrent use.
type Evaluator struct {
	m         *Model
	local     []trs
	world     []mgl32.Mat4
	rootReset bool
}

// normalEvaluator adds normals for models that carry them.
type normalEvaluator struct {
	*Evaluator
}

// NewEvaluator returns an evaluator posed at rest. It implements
// vat.RootedEvaluator, and vat.NormalEvaluator when the model has normals.
func (m *Model) NewEvaluator() vat.Evaluator {
	e := &Evaluator{
		m:     m,
		local: make([]trs, len(m.rest)),
		world: make([]mgl32.Mat4, len(m.rest)),
	}
	e.pose(nil, 0)
	if m.HasNormals() {
		return normalEvaluator{e}
	}
	return e
}

// Factory returns a factory of evaluators sharing m.
func (m *Model) Factory() vat.EvaluatorFactory {
	return func() (vat.Evaluator, error) {
		return m.NewEvaluator(), nil
	}
}

// VertexCount returns the vertex count over all target primitives.
func (e *Evaluator) VertexCount() int {
	return e.m.VertexCount()
}

// ResetRoot clears the target node's rest transform so the baked object
// sits at its own origin.
func (e *Evaluator) ResetRoot() {
	e.rootReset = true
	e.pose(nil, 0)
}

// RootTransform returns the target node's current world matrix.
func (e *Evaluator) RootTransform() mgl32.Mat4 {
	return e.world[e.m.target]
}

// SetPose evaluates clip at t seconds.
func (e *Evaluator) SetPose(clip vat.ClipInfo, t float32) error {
	idx, ok := e.m.byName[clip.Name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownClip, clip.Name)
	}
	e.pose(&e.m.clips[idx], t)
	return nil
}

func (e *Evaluator) pose(c *clip, t float32) {
	copy(e.local, e.m.rest)
	if e.rootReset {
		e.local[e.m.target] = identityTRS
	}
	if c != nil {
		for i := range c.channels {
			applyChannel(&e.local[c.channels[i].node], &c.channels[i], t)
		}
	}
	e.updateWorld()
}

func (e *Evaluator) updateWorld() {
	done := make([]bool, len(e.local))
	var build func(i int, depth int) mgl32.Mat4
	build = func(i int, depth int) mgl32.Mat4 {
		if done[i] {
			return e.world[i]
		}
		m := e.local[i].mat4()
		// Parent links come from children lists, so a malformed cycle is
		// cut once it exceeds the node count.
		if p := e.m.parents[i]; p >= 0 && depth < len(e.local) {
			m = build(p, depth+1).Mul4(m)
		}
		e.world[i] = m
		done[i] = true
		return m
	}
	for i := range e.local {
		build(i, 0)
	}
}

// CurrentVertexPositions returns the posed vertices in world space.
// Skinned: p = sum(w * world(joint) * inverseBind) * p_bind.
// Rigid: p = world(target) * p_bind.
func (e *Evaluator) CurrentVertexPositions() ([]mgl32.Vec3, error) {
	out := make([]mgl32.Vec3, len(e.m.positions))
	if !e.m.skinned {
		w := e.world[e.m.target]
		for i, p := range e.m.positions {
			out[i] = mgl32.TransformCoordinate(p, w)
		}
		return out, nil
	}

	jointMats := e.jointMatrices()
	for i, p := range e.m.positions {
		out[i] = mgl32.TransformCoordinate(p, e.skinMatrix(i, jointMats))
	}
	return out, nil
}

// CurrentVertexNormals returns posed unit normals in world space.
func (e normalEvaluator) CurrentVertexNormals() ([]mgl32.Vec3, error) {
	out := make([]mgl32.Vec3, len(e.m.normals))
	if !e.m.skinned {
		nm := e.world[e.m.target].Inv().Transpose()
		for i, n := range e.m.normals {
			out[i] = normalize(mgl32.TransformNormal(n, nm))
		}
		return out, nil
	}

	jointMats := e.jointMatrices()
	for i, n := range e.m.normals {
		nm := e.skinMatrix(i, jointMats).Inv().Transpose()
		out[i] = normalize(mgl32.TransformNormal(n, nm))
	}
	return out, nil
}

func (e *Evaluator) jointMatrices() []mgl32.Mat4 {
	mats := make([]mgl32.Mat4, len(e.m.joints))
	for j, node := range e.m.joints {
		mats[j] = e.world[node].Mul4(e.m.ibm[j])
	}
	return mats
}

// skinMatrix blends the joint matrices of vertex v by its normalized
// weights. A vertex with no weight follows the target node.
func (e *Evaluator) skinMatrix(v int, jointMats []mgl32.Mat4) mgl32.Mat4 {
	weights := e.m.weights[v]
	var sum float32
	for _, w := range weights {
		sum += w
	}
	if sum <= 1e-6 {
		return e.world[e.m.target]
	}

	var m mgl32.Mat4
	for k, j := range e.m.vjoints[v] {
		w := weights[k] / sum
		if w == 0 {
			continue
		}
		m = m.Add(jointMats[j].Mul(w))
	}
	return m
}

func normalize(v mgl32.Vec3) mgl32.Vec3 {
	if v.LenSqr() == 0 {
		return v
	}
	return v.Normalize()
}

// applyChannel overwrites one TRS property of x with the channel's value at t.
func applyChannel(x *trs, ch *channel, t float32) {
	if x.m != nil || len(ch.times) == 0 {
		return
	}
	v := sampleChannel(ch, t)
	switch ch.path {
	case gltf.TRSTranslation:
		x.t = mgl32.Vec3{v[0], v[1], v[2]}
	case gltf.TRSScale:
		x.s = mgl32.Vec3{v[0], v[1], v[2]}
	case gltf.TRSRotation:
		q := mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}
		if q.Len() > 0 {
			x.r = q.Normalize()
		}
	}
}

// sampleChannel evaluates the channel at t, clamping outside its key range.
func sampleChannel(ch *channel, t float32) [4]float32 {
	n := len(ch.times)
	cubic := ch.interp == gltf.InterpolationCubicSpline
	value := func(k int) [4]float32 {
		if cubic {
			return ch.values[3*k+1]
		}
		return ch.values[k]
	}

	if t <= ch.times[0] {
		return value(0)
	}
	if t >= ch.times[n-1] {
		return value(n - 1)
	}

	k := 0
	for k < n-2 && ch.times[k+1] <= t {
		k++
	}
	t0, t1 := ch.times[k], ch.times[k+1]
	dt := t1 - t0
	if dt <= 0 {
		return value(k)
	}
	u := (t - t0) / dt

	switch {
	case ch.interp == gltf.InterpolationStep:
		return value(k)
	case cubic:
		return hermite(value(k), ch.values[3*k+2], value(k+1), ch.values[3*(k+1)], dt, u)
	case ch.path == gltf.TRSRotation:
		return slerp(value(k), value(k+1), u)
	default:
		a, b := value(k), value(k+1)
		var out [4]float32
		for i := range out {
			out[i] = a[i] + (b[i]-a[i])*u
		}
		return out
	}
}

// hermite evaluates the cubic spline segment between p0 (out tangent m0)
// and p1 (in tangent m1).
func hermite(p0, m0, p1, m1 [4]float32, dt, u float32) [4]float32 {
	u2 := u * u
	u3 := u2 * u
	h00 := 2*u3 - 3*u2 + 1
	h10 := u3 - 2*u2 + u
	h01 := -2*u3 + 3*u2
	h11 := u3 - u2

	var out [4]float32
	for i := range out {
		out[i] = h00*p0[i] + h10*dt*m0[i] + h01*p1[i] + h11*dt*m1[i]
	}
	return out
}

func slerp(a, b [4]float32, u float32) [4]float32 {
	q0 := mgl32.Quat{W: a[3], V: mgl32.Vec3{a[0], a[1], a[2]}}.Normalize()
	q1 := mgl32.Quat{W: b[3], V: mgl32.Vec3{b[0], b[1], b[2]}}.Normalize()
	if q0.Dot(q1) < 0 {
		q1 = q1.Scale(-1)
	}
	q := mgl32.QuatSlerp(q0, q1, u)
	return [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}
