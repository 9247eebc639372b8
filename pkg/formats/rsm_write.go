package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Faultbox/midgard-vat/pkg/encoding"
)

// EncodeRSM serializes rsm in the layout ParseRSM reads. Only 1.x versions
// can be written.
func EncodeRSM(rsm *RSM) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteRSM(&buf, rsm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRSM writes rsm to w.
func WriteRSM(w io.Writer, rsm *RSM) error {
	v := rsm.Version
	if v.Major != 1 || v.Minor < 1 || v.Minor > 5 {
		return fmt.Errorf("%w: %s", ErrUnsupportedRSMVersion, v)
	}

	rw := &rsmWriter{w: w}
	rw.write([]byte(rsmMagic))
	rw.write([]uint8{v.Major, v.Minor})
	rw.write(rsm.AnimLength)
	rw.write(rsm.Shading)
	if v.AtLeast(1, 4) {
		rw.write(uint8(rsm.Alpha*255 + 0.5))
	}
	rw.write(make([]byte, 16))

	rw.write(int32(len(rsm.Textures)))
	for _, tex := range rsm.Textures {
		rw.name(tex)
	}
	rw.name(rsm.RootNode)

	rw.write(int32(len(rsm.Nodes)))
	for i := range rsm.Nodes {
		writeRSMNode(rw, v, &rsm.Nodes[i])
	}

	rw.write(int32(len(rsm.VolumeBoxes)))
	for _, box := range rsm.VolumeBoxes {
		rw.write(box.Size)
		rw.write(box.Position)
		rw.write(box.Rotation)
		if v.AtLeast(1, 3) {
			rw.write(box.Flag)
		}
	}
	return rw.err
}

func writeRSMNode(rw *rsmWriter, v RSMVersion, node *RSMNode) {
	rw.name(node.Name)
	rw.name(node.Parent)

	rw.write(int32(len(node.TextureIDs)))
	rw.write(node.TextureIDs)

	rw.write(node.Matrix)
	rw.write(node.Offset)
	rw.write(node.Position)
	rw.write(node.RotAngle)
	rw.write(node.RotAxis)
	rw.write(node.Scale)

	rw.write(int32(len(node.Vertices)))
	rw.write(node.Vertices)

	rw.write(int32(len(node.TexCoords)))
	for _, tc := range node.TexCoords {
		if v.AtLeast(1, 2) {
			rw.write(tc.Color)
		}
		rw.write(tc.U)
		rw.write(tc.V)
	}

	rw.write(int32(len(node.Faces)))
	for _, face := range node.Faces {
		rw.write(face.VertexIDs)
		rw.write(face.TexCoordIDs)
		rw.write(face.TextureID)
		rw.write(face.Padding)
		rw.write(face.TwoSide)
		if v.AtLeast(1, 2) {
			rw.write(face.SmoothGroup)
		}
	}

	if !v.AtLeast(1, 5) {
		rw.write(int32(len(node.PosKeys)))
		rw.write(node.PosKeys)
	}
	rw.write(int32(len(node.RotKeys)))
	rw.write(node.RotKeys)
	if v.AtLeast(1, 5) {
		rw.write(int32(len(node.ScaleKeys)))
		rw.write(node.ScaleKeys)
	}
}

type rsmWriter struct {
	w   io.Writer
	err error
}

func (rw *rsmWriter) write(v any) {
	if rw.err != nil {
		return
	}
	rw.err = binary.Write(rw.w, binary.LittleEndian, v)
}

func (rw *rsmWriter) name(s string) {
	rw.write(encoding.UTF8ToFixedString(s, rsmNameLength))
}
