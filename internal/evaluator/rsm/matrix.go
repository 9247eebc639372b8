package rsm

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-vat/pkg/formats"
)

// poseMatrices computes the vertex matrix of every node at timeMs.
// A node's hierarchy matrix (inherited by children) is
// parent * Position * Rotation * Scale; its vertex matrix adds Offset and
// the 3x3 Matrix, which children do not inherit.
func poseMatrices(model *formats.RSM, index map[string]int, timeMs float32) []mgl32.Mat4 {
	hierarchy := make([]mgl32.Mat4, len(model.Nodes))
	done := make([]bool, len(model.Nodes))
	visiting := make([]bool, len(model.Nodes))

	var build func(i int) mgl32.Mat4
	build = func(i int) mgl32.Mat4 {
		if done[i] {
			return hierarchy[i]
		}
		// A parent cycle is cut at the repeated node.
		if visiting[i] {
			return mgl32.Ident4()
		}
		visiting[i] = true

		node := &model.Nodes[i]
		m := localMatrix(node, timeMs)
		if node.Parent != "" && node.Parent != node.Name {
			if p, ok := index[node.Parent]; ok {
				m = build(p).Mul4(m)
			}
		}

		hierarchy[i] = m
		done[i] = true
		return m
	}

	result := make([]mgl32.Mat4, len(model.Nodes))
	for i := range model.Nodes {
		node := &model.Nodes[i]
		result[i] = build(i).
			Mul4(mgl32.Translate3D(node.Offset[0], node.Offset[1], node.Offset[2])).
			Mul4(mat3ToMat4(node.Matrix))
	}
	return result
}

func localMatrix(node *formats.RSMNode, timeMs float32) mgl32.Mat4 {
	pos := mgl32.Vec3(node.Position)
	if len(node.PosKeys) > 0 {
		pos = interpolatePosKeys(node.PosKeys, timeMs)
	}
	m := mgl32.Translate3D(pos[0], pos[1], pos[2])

	// Rotation keys replace the static axis-angle rotation.
	if len(node.RotKeys) > 0 {
		m = m.Mul4(interpolateRotKeys(node.RotKeys, timeMs).Mat4())
	} else if node.RotAngle != 0 {
		axis := mgl32.Vec3(node.RotAxis)
		if axis.Len() > 1e-6 {
			m = m.Mul4(mgl32.HomogRotate3D(node.RotAngle, axis.Normalize()))
		}
	}

	m = m.Mul4(mgl32.Scale3D(node.Scale[0], node.Scale[1], node.Scale[2]))
	if len(node.ScaleKeys) > 0 {
		s := interpolateScaleKeys(node.ScaleKeys, timeMs)
		m = m.Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
	}
	return m
}

// mat3ToMat4 widens a column-major 3x3 matrix.
func mat3ToMat4(m [9]float32) mgl32.Mat4 {
	return mgl32.Mat4{
		m[0], m[1], m[2], 0,
		m[3], m[4], m[5], 0,
		m[6], m[7], m[8], 0,
		0, 0, 0, 1,
	}
}
