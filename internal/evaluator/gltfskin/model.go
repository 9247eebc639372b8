// Package gltfskin evaluates glTF 2.0 skinned (or rigid) meshes for baking.
// Every animation in the document is a clip.
package gltfskin

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// glTF loading errors.
var (
	ErrNoMesh           = errors.New("document has no mesh node")
	ErrUnsupportedData  = errors.New("unsupported accessor data")
	ErrInvalidReference = errors.New("invalid glTF reference")
	ErrUnknownClip      = errors.New("unknown clip")
)

// Options configures model loading.
type Options struct {
	MeshNode  string  // Name of the node to bake; empty picks the first node with a mesh
	FrameRate float32 // glTF stores no frame rate
}

// trs is a node's local transform. A node given by matrix keeps it in m and
// ignores animation.
type trs struct {
	t mgl32.Vec3
	r mgl32.Quat
	s mgl32.Vec3
	m *mgl32.Mat4
}

func (x trs) mat4() mgl32.Mat4 {
	if x.m != nil {
		return *x.m
	}
	return mgl32.Translate3D(x.t[0], x.t[1], x.t[2]).
		Mul4(x.r.Mat4()).
		Mul4(mgl32.Scale3D(x.s[0], x.s[1], x.s[2]))
}

var identityTRS = trs{r: mgl32.QuatIdent(), s: mgl32.Vec3{1, 1, 1}}

type channel struct {
	node   int
	path   gltf.TRSProperty
	interp gltf.Interpolation
	times  []float32
	values [][4]float32 // vec3 outputs leave w at 0
}

type clip struct {
	info     vat.ClipInfo
	channels []channel
}

// Model is a loaded document reduced to what posing needs. It is never
// written after NewModel, so evaluators share it across goroutines.
type Model struct {
	parents []int // -1 for roots
	rest    []trs
	target  int

	positions []mgl32.Vec3
	normals   []mgl32.Vec3 // nil unless every primitive has NORMAL

	skinned bool
	joints  []int // skin joint -> node
	ibm     []mgl32.Mat4
	vjoints [][4]uint16
	weights [][4]float32

	clips  []clip
	byName map[string]int
}

// Open loads a .gltf or .glb file.
func Open(path string, opts Options) (*Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return NewModel(doc, opts)
}

// Decode loads a self-contained document (.glb or .gltf with embedded
// buffers) from r.
func Decode(r io.Reader, opts Options) (*Model, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decoding glTF: %w", err)
	}
	return NewModel(doc, opts)
}

// NewModel extracts the baking target, its skin and every animation.
func NewModel(doc *gltf.Document, opts Options) (*Model, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", vat.ErrInvalidInput)
	}

	m := &Model{
		parents: make([]int, len(doc.Nodes)),
		rest:    make([]trs, len(doc.Nodes)),
		target:  -1,
		byName:  make(map[string]int),
	}

	for i := range m.parents {
		m.parents[i] = -1
	}
	for i, node := range doc.Nodes {
		m.rest[i] = restTRS(node)
		for _, child := range node.Children {
			if int(child) >= len(doc.Nodes) {
				return nil, fmt.Errorf("%w: node %d child %d", ErrInvalidReference, i, child)
			}
			m.parents[child] = i
		}
		if m.target < 0 && node.Mesh != nil && (opts.MeshNode == "" || node.Name == opts.MeshNode) {
			m.target = i
		}
	}
	if m.target < 0 {
		if opts.MeshNode != "" {
			return nil, fmt.Errorf("%w: no mesh node named %q", ErrNoMesh, opts.MeshNode)
		}
		return nil, ErrNoMesh
	}

	if err := m.loadMesh(doc); err != nil {
		return nil, err
	}
	if err := m.loadAnimations(doc, opts.FrameRate); err != nil {
		return nil, err
	}
	return m, nil
}

func restTRS(node *gltf.Node) trs {
	x := trs{
		t: node.Translation,
		r: mgl32.Quat{W: node.Rotation[3], V: mgl32.Vec3{node.Rotation[0], node.Rotation[1], node.Rotation[2]}},
		s: node.Scale,
	}
	// Zero values mean the field was never set.
	if x.r.Len() == 0 {
		x.r = mgl32.QuatIdent()
	} else {
		x.r = x.r.Normalize()
	}
	if x.s == (mgl32.Vec3{}) {
		x.s = mgl32.Vec3{1, 1, 1}
	}

	mat := mgl32.Mat4(node.Matrix)
	if mat != (mgl32.Mat4{}) && mat != mgl32.Ident4() {
		x.m = &mat
	}
	return x
}

func (m *Model) loadMesh(doc *gltf.Document) error {
	node := doc.Nodes[m.target]
	meshIdx, ok := index(node.Mesh)
	if !ok || meshIdx >= len(doc.Meshes) {
		return fmt.Errorf("%w: node %q mesh", ErrInvalidReference, node.Name)
	}
	mesh := doc.Meshes[meshIdx]

	skinIdx, hasSkin := index(node.Skin)
	if hasSkin {
		if skinIdx >= len(doc.Skins) {
			return fmt.Errorf("%w: node %q skin", ErrInvalidReference, node.Name)
		}
		if err := m.loadSkin(doc, doc.Skins[skinIdx]); err != nil {
			return err
		}
	}

	withNormals := true
	for pi, prim := range mesh.Primitives {
		posIdx, ok := prim.Attributes["POSITION"]
		if !ok {
			return fmt.Errorf("%w: primitive %d has no POSITION", ErrUnsupportedData, pi)
		}
		acr, err := accessor(doc, posIdx)
		if err != nil {
			return err
		}
		positions, err := modeler.ReadPosition(doc, acr, nil)
		if err != nil {
			return fmt.Errorf("reading primitive %d positions: %w", pi, err)
		}
		for _, p := range positions {
			m.positions = append(m.positions, p)
		}

		if nrmIdx, ok := prim.Attributes["NORMAL"]; ok && withNormals {
			acr, err := accessor(doc, nrmIdx)
			if err != nil {
				return err
			}
			normals, err := modeler.ReadNormal(doc, acr, nil)
			if err != nil {
				return fmt.Errorf("reading primitive %d normals: %w", pi, err)
			}
			if len(normals) != len(positions) {
				return fmt.Errorf("%w: primitive %d has %d normals for %d positions", ErrUnsupportedData, pi, len(normals), len(positions))
			}
			for _, n := range normals {
				m.normals = append(m.normals, n)
			}
		} else {
			withNormals = false
		}

		if hasSkin {
			if err := m.loadInfluences(doc, prim, pi, len(positions)); err != nil {
				return err
			}
		}
	}
	if !withNormals {
		m.normals = nil
	}
	return nil
}

func (m *Model) loadSkin(doc *gltf.Document, skin *gltf.Skin) error {
	m.skinned = true
	m.joints = make([]int, len(skin.Joints))
	for i, j := range skin.Joints {
		if int(j) >= len(doc.Nodes) {
			return fmt.Errorf("%w: skin joint %d", ErrInvalidReference, j)
		}
		m.joints[i] = int(j)
	}

	m.ibm = make([]mgl32.Mat4, len(skin.Joints))
	ibmIdx, ok := index(skin.InverseBindMatrices)
	if !ok {
		for i := range m.ibm {
			m.ibm[i] = mgl32.Ident4()
		}
		return nil
	}
	mats, err := readMat4(doc, ibmIdx)
	if err != nil {
		return fmt.Errorf("reading inverse bind matrices: %w", err)
	}
	if len(mats) < len(m.ibm) {
		return fmt.Errorf("%w: %d inverse bind matrices for %d joints", ErrUnsupportedData, len(mats), len(m.ibm))
	}
	copy(m.ibm, mats)
	return nil
}

func (m *Model) loadInfluences(doc *gltf.Document, prim *gltf.Primitive, pi, count int) error {
	jIdx, okJ := prim.Attributes["JOINTS_0"]
	wIdx, okW := prim.Attributes["WEIGHTS_0"]
	if !okJ || !okW {
		return fmt.Errorf("%w: skinned primitive %d lacks JOINTS_0/WEIGHTS_0", ErrUnsupportedData, pi)
	}

	jAcr, err := accessor(doc, jIdx)
	if err != nil {
		return err
	}
	joints, err := modeler.ReadJoints(doc, jAcr, nil)
	if err != nil {
		return fmt.Errorf("reading primitive %d joints: %w", pi, err)
	}
	wAcr, err := accessor(doc, wIdx)
	if err != nil {
		return err
	}
	weights, err := modeler.ReadWeights(doc, wAcr, nil)
	if err != nil {
		return fmt.Errorf("reading primitive %d weights: %w", pi, err)
	}
	if len(joints) != count || len(weights) != count {
		return fmt.Errorf("%w: primitive %d has %d joints and %d weights for %d positions", ErrUnsupportedData, pi, len(joints), len(weights), count)
	}

	for v, js := range joints {
		for k, j := range js {
			if weights[v][k] != 0 && int(j) >= len(m.joints) {
				return fmt.Errorf("%w: vertex %d references joint %d of %d", ErrInvalidReference, v, j, len(m.joints))
			}
		}
	}
	m.vjoints = append(m.vjoints, joints...)
	m.weights = append(m.weights, weights...)
	return nil
}

func (m *Model) loadAnimations(doc *gltf.Document, frameRate float32) error {
	for ai, anim := range doc.Animations {
		c := clip{info: vat.ClipInfo{Name: anim.Name, FrameRate: frameRate}}
		if c.info.Name == "" {
			c.info.Name = fmt.Sprintf("anim%d", ai)
		}

		for ci, ch := range anim.Channels {
			nodeIdx, ok := index(ch.Target.Node)
			if !ok || ch.Target.Path == gltf.TRSWeights {
				continue // morph weights are not baked
			}
			if nodeIdx >= len(doc.Nodes) {
				return fmt.Errorf("%w: animation %q channel %d node", ErrInvalidReference, c.info.Name, ci)
			}
			samplerIdx, ok := index(ch.Sampler)
			if !ok || samplerIdx >= len(anim.Samplers) {
				return fmt.Errorf("%w: animation %q channel %d sampler", ErrInvalidReference, c.info.Name, ci)
			}
			sampler := anim.Samplers[samplerIdx]

			parsed, err := readChannel(doc, sampler)
			if err != nil {
				return fmt.Errorf("animation %q channel %d: %w", c.info.Name, ci, err)
			}
			parsed.node = nodeIdx
			parsed.path = ch.Target.Path
			c.channels = append(c.channels, parsed)

			if n := len(parsed.times); n > 0 && parsed.times[n-1] > c.info.Duration {
				c.info.Duration = parsed.times[n-1]
			}
		}

		if _, dup := m.byName[c.info.Name]; !dup {
			m.byName[c.info.Name] = len(m.clips)
		}
		m.clips = append(m.clips, c)
	}
	return nil
}

func readChannel(doc *gltf.Document, sampler *gltf.AnimationSampler) (channel, error) {
	inIdx, okIn := index(sampler.Input)
	outIdx, okOut := index(sampler.Output)
	if !okIn || !okOut {
		return channel{}, fmt.Errorf("%w: sampler input/output", ErrInvalidReference)
	}

	times, err := readFloats(doc, inIdx)
	if err != nil {
		return channel{}, fmt.Errorf("reading input: %w", err)
	}
	values, err := readVectors(doc, outIdx)
	if err != nil {
		return channel{}, fmt.Errorf("reading output: %w", err)
	}

	want := len(times)
	if sampler.Interpolation == gltf.InterpolationCubicSpline {
		want *= 3
	}
	if len(values) != want {
		return channel{}, fmt.Errorf("%w: %d outputs for %d keys", ErrUnsupportedData, len(values), len(times))
	}
	return channel{interp: sampler.Interpolation, times: times, values: values}, nil
}

// ListClips returns one clip per animation, in document order.
func (m *Model) ListClips() ([]vat.ClipInfo, error) {
	clips := make([]vat.ClipInfo, len(m.clips))
	for i, c := range m.clips {
		clips[i] = c.info
	}
	return clips, nil
}

// VertexCount returns the vertex count over all target primitives.
func (m *Model) VertexCount() int {
	return len(m.positions)
}

// Skinned reports whether the target mesh is skinned.
func (m *Model) Skinned() bool {
	return m.skinned
}

// HasNormals reports whether every target primitive carries normals.
func (m *Model) HasNormals() bool {
	return m.normals != nil
}

// index reads an optional glTF index, whether the field is a pointer or a
// plain value.
func index(v any) (int, bool) {
	switch x := v.(type) {
	case *uint32:
		if x == nil {
			return 0, false
		}
		return int(*x), true
	case uint32:
		return int(x), true
	}
	return 0, false
}

func accessor(doc *gltf.Document, idx uint32) (*gltf.Accessor, error) {
	if int(idx) >= len(doc.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d", ErrInvalidReference, idx)
	}
	return doc.Accessors[idx], nil
}

func readFloats(doc *gltf.Document, idx int) ([]float32, error) {
	acr, err := accessor(doc, uint32(idx))
	if err != nil {
		return nil, err
	}
	data, err := modeler.ReadAccessor(doc, acr, nil)
	if err != nil {
		return nil, err
	}
	floats, ok := data.([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: %T, want scalar float", ErrUnsupportedData, data)
	}
	return floats, nil
}

func readVectors(doc *gltf.Document, idx int) ([][4]float32, error) {
	acr, err := accessor(doc, uint32(idx))
	if err != nil {
		return nil, err
	}
	data, err := modeler.ReadAccessor(doc, acr, nil)
	if err != nil {
		return nil, err
	}
	switch v := data.(type) {
	case [][3]float32:
		out := make([][4]float32, len(v))
		for i, x := range v {
			out[i] = [4]float32{x[0], x[1], x[2], 0}
		}
		return out, nil
	case [][4]float32:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %T, want float vec3 or vec4", ErrUnsupportedData, data)
}

func readMat4(doc *gltf.Document, idx int) ([]mgl32.Mat4, error) {
	acr, err := accessor(doc, uint32(idx))
	if err != nil {
		return nil, err
	}
	data, err := modeler.ReadAccessor(doc, acr, nil)
	if err != nil {
		return nil, err
	}
	rows, ok := data.([][4][4]float32)
	if !ok {
		return nil, fmt.Errorf("%w: %T, want float mat4", ErrUnsupportedData, data)
	}
	// The accessor yields [row][col]; mgl32 stores columns.
	mats := make([]mgl32.Mat4, len(rows))
	for i, r := range rows {
		for col := 0; col < 4; col++ {
			for row := 0; row < 4; row++ {
				mats[i][col*4+row] = r[row][col]
			}
		}
	}
	return mats, nil
}
