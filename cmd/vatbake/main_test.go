package main

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-vat/internal/store"
	"github.com/Faultbox/midgard-vat/pkg/formats"
	"github.com/Faultbox/midgard-vat/pkg/grf"
)

// windmill is a one-node RSM spinning a quarter turn around Y over 1 s.
func windmill(t *testing.T, animated bool) []byte {
	t.Helper()
	node := formats.RSMNode{
		Name:     "blade",
		Matrix:   [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
		RotAxis:  [3]float32{0, 1, 0},
		Vertices: [][3]float32{{1, 0, 0}, {0, 0, 1}, {0, 2, 0}},
		Faces:    []formats.RSMFace{{VertexIDs: [3]uint16{0, 1, 2}}},
	}
	if animated {
		node.RotKeys = []formats.RSMRotKeyframe{
			{Frame: 0, Quaternion: [4]float32{0, 0, 0, 1}},
			{Frame: 1000, Quaternion: [4]float32{0, 0.70710677, 0, 0.70710677}},
		}
	}
	data, err := formats.EncodeRSM(&formats.RSM{
		Version:    formats.RSMVersion{Major: 1, Minor: 4},
		AnimLength: 1000,
		Alpha:      1,
		RootNode:   "blade",
		Nodes:      []formats.RSMNode{node},
	})
	require.NoError(t, err)
	return data
}

// rigidGLTF is one unskinned triangle whose node slides along X for 1 s.
func rigidGLTF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float32{0, 1}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, [][3]float32{{0, 0, 0}, {4, 0, 0}}))

	view := func(offset, length int) map[string]any {
		return map[string]any{"buffer": 0, "byteOffset": offset, "byteLength": length}
	}
	accessor := func(view, count int, typ string) map[string]any {
		return map[string]any{"bufferView": view, "componentType": 5126, "count": count, "type": typ}
	}
	data, err := json.Marshal(map[string]any{
		"asset": map[string]any{"version": "2.0"},
		"buffers": []map[string]any{{
			"byteLength": buf.Len(),
			"uri":        "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		}},
		"bufferViews": []map[string]any{view(0, 36), view(36, 8), view(44, 24)},
		"accessors":   []map[string]any{accessor(0, 3, "VEC3"), accessor(1, 2, "SCALAR"), accessor(2, 2, "VEC3")},
		"nodes":       []map[string]any{{"name": "sign", "mesh": 0}},
		"meshes": []map[string]any{{
			"primitives": []map[string]any{{"attributes": map[string]int{"POSITION": 0}}},
		}},
		"animations": []map[string]any{{
			"name":     "slide",
			"samplers": []map[string]any{{"input": 1, "output": 2}},
			"channels": []map[string]any{{"sampler": 0, "target": map[string]any{"node": 0, "path": "translation"}}},
		}},
	})
	require.NoError(t, err)
	return data
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	// Keep user and working-directory config files out of the run.
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	return dir
}

func TestBakeRSMFile(t *testing.T) {
	dir := isolate(t)
	model := filepath.Join(dir, "Windmill.rsm")
	require.NoError(t, os.WriteFile(model, windmill(t, true), 0644))
	out := filepath.Join(dir, "out")

	code, stdout, stderr := runCmd(t, "bake", "-o", out, "-fps", "10", "-format", "float", "-normals", "-preview", "png", model)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "windmill_anim")

	v, err := formats.ParseVATFile(filepath.Join(out, "windmill_anim.vat"))
	require.NoError(t, err)
	assert.Equal(t, 3, v.Width)
	assert.Equal(t, 11, v.Height)
	assert.FileExists(t, filepath.Join(out, "windmill_anim.png"))
	assert.FileExists(t, filepath.Join(out, "windmill_anim_normals.vat"))

	// Quarter turn around Y: (1,0,0) ends at (0,0,-1).
	end := v.Texture().Position(0, 10)
	assert.InDelta(t, 0, end[0], 1e-4)
	assert.InDelta(t, -1, end[2], 1e-4)

	m, err := store.ReadManifest(filepath.Join(out, store.ManifestName))
	require.NoError(t, err)
	obj := m.Find("windmill")
	require.NotNil(t, obj)
	assert.Len(t, obj.Textures, 2)
	assert.Empty(t, obj.Failures)
}

func TestBakeSerialMatchesParallel(t *testing.T) {
	dir := isolate(t)
	model := filepath.Join(dir, "windmill.rsm")
	require.NoError(t, os.WriteFile(model, windmill(t, true), 0644))

	code, _, stderr := runCmd(t, "bake", "-o", filepath.Join(dir, "p"), "-fps", "24", model)
	require.Equal(t, 0, code, stderr)
	code, _, stderr = runCmd(t, "bake", "-serial", "-o", filepath.Join(dir, "s"), "-fps", "24", model)
	require.Equal(t, 0, code, stderr)

	p, err := os.ReadFile(filepath.Join(dir, "p", "windmill_anim.vat"))
	require.NoError(t, err)
	s, err := os.ReadFile(filepath.Join(dir, "s", "windmill_anim.vat"))
	require.NoError(t, err)
	assert.Equal(t, p, s)
}

func TestBakeFromGRF(t *testing.T) {
	dir := isolate(t)
	archive := filepath.Join(dir, "data.grf")
	require.NoError(t, grf.Create(archive, []grf.File{
		{Name: `data\model\prontera\windmill.rsm`, Data: windmill(t, true)},
	}))
	out := filepath.Join(dir, "out")

	code, _, stderr := runCmd(t, "bake", "-grf", archive, "-o", out, "prontera/windmill", "mill")
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(out, "mill_anim.vat"))

	m, err := store.ReadManifest(filepath.Join(out, store.ManifestName))
	require.NoError(t, err)
	require.NotNil(t, m.Find("mill"))
	assert.Equal(t, "data/model/prontera/windmill.rsm", m.Find("mill").Source)
}

func TestBakeStaticModel(t *testing.T) {
	dir := isolate(t)
	model := filepath.Join(dir, "rock.rsm")
	require.NoError(t, os.WriteFile(model, windmill(t, false), 0644))
	out := filepath.Join(dir, "out")

	code, stdout, stderr := runCmd(t, "bake", "-o", out, model)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "no animation clips")
	assert.NoFileExists(t, filepath.Join(out, store.ManifestName))
}

func TestClips(t *testing.T) {
	dir := isolate(t)
	model := filepath.Join(dir, "windmill.rsm")
	require.NoError(t, os.WriteFile(model, windmill(t, true), 0644))

	code, stdout, stderr := runCmd(t, "clips", "-fps", "30", model)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "RSM 1.4, 1 nodes")
	assert.Contains(t, stdout, "Vertices: 3")
	assert.Contains(t, stdout, "Faces:    1")
	assert.Contains(t, stdout, "Root:     blade (0 children)")
	assert.Contains(t, stdout, "Object:   windmill")
	assert.Contains(t, stdout, "3x31")
}

func TestClipsRigidGLTF(t *testing.T) {
	dir := isolate(t)
	model := filepath.Join(dir, "Sign.gltf")
	require.NoError(t, os.WriteFile(model, rigidGLTF(t), 0644))

	code, stdout, stderr := runCmd(t, "clips", "-fps", "10", model)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "glTF rigid")
	assert.Contains(t, stdout, "clips bake static")
	assert.Contains(t, stdout, "slide")
	assert.Contains(t, stdout, "3x11")

	// The node's own motion cancels out in object space.
	out := filepath.Join(dir, "out")
	code, _, stderr = runCmd(t, "bake", "-o", out, "-fps", "10", "-format", "float", model)
	require.Equal(t, 0, code, stderr)
	v, err := formats.ParseVATFile(filepath.Join(out, "sign_slide.vat"))
	require.NoError(t, err)
	for f := 0; f < v.Height; f++ {
		p := v.Texture().Position(1, f)
		assert.InDelta(t, 1, p[0], 1e-4, "frame %d", f)
	}
}

func TestBakeFromDataDir(t *testing.T) {
	dir := isolate(t)
	data := filepath.Join(dir, "extracted")
	require.NoError(t, os.MkdirAll(filepath.Join(data, "data", "model", "prontera"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "data", "model", "prontera", "windmill.rsm"), windmill(t, true), 0644))
	out := filepath.Join(dir, "out")

	code, _, stderr := runCmd(t, "bake", "-data", data, "-o", out, "prontera/windmill")
	require.Equal(t, 0, code, stderr)

	m, err := store.ReadManifest(filepath.Join(out, store.ManifestName))
	require.NoError(t, err)
	require.NotNil(t, m.Find("windmill"))
	assert.Equal(t, "data/model/prontera/windmill.rsm", m.Find("windmill").Source)
}

func TestBakeLogsToFile(t *testing.T) {
	dir := isolate(t)
	model := filepath.Join(dir, "windmill.rsm")
	require.NoError(t, os.WriteFile(model, windmill(t, true), 0644))
	logFile := filepath.Join(dir, "bake.log")
	cfgPath := filepath.Join(dir, "bake.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("logging:\n  log_file: %q\n", logFile)), 0644))

	code, _, stderr := runCmd(t, "bake", "-config", cfgPath, "-debug", "-o", filepath.Join(dir, "out"), model)
	require.Equal(t, 0, code, stderr)

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "model search path")
	assert.Contains(t, string(logged), "baking "+model)
	assert.Contains(t, string(logged), "bake finished")
}

func TestConfigCommand(t *testing.T) {
	dir := isolate(t)

	code, stdout, stderr := runCmd(t, "config", "-grf", "data.grf", "-data", "extracted")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "grf_paths:")
	assert.Contains(t, stdout, "- data.grf")
	assert.Contains(t, stdout, "- extracted")

	code, stdout, stderr = runCmd(t, "config", "-save", "-fps", "12", "-data", "extracted")
	require.Equal(t, 0, code, stderr)
	saved := filepath.Join(dir, "xdg", "midgard-vat", "config.yaml")
	assert.Contains(t, stdout, saved)
	assert.FileExists(t, saved)

	// Later runs pick the saved file up as the user default.
	code, stdout, stderr = runCmd(t, "config")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "frame_rate: 12")
	assert.Contains(t, stdout, "- extracted")
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "fountain", objectName(`data\model\prontera\Fountain.rsm`))
	assert.Equal(t, "windmill", objectName("windmill.rsm"))
	assert.Equal(t, "hero", objectName("models/Hero.glb"))
}

func TestInfoAndPreview(t *testing.T) {
	dir := isolate(t)
	model := filepath.Join(dir, "windmill.rsm")
	require.NoError(t, os.WriteFile(model, windmill(t, true), 0644))
	out := filepath.Join(dir, "out")

	code, _, stderr := runCmd(t, "bake", "-o", out, "-fps", "10", model)
	require.Equal(t, 0, code, stderr)
	texture := filepath.Join(out, "windmill_anim.vat")

	code, stdout, stderr := runCmd(t, "info", texture)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Size:       3x11")
	assert.Contains(t, stdout, "Format:     half")
	assert.Contains(t, stdout, "Clip:       anim")

	preview := filepath.Join(dir, "windmill.tiff")
	code, stdout, stderr = runCmd(t, "preview", texture, preview)
	require.Equal(t, 0, code, stderr)
	assert.True(t, strings.HasPrefix(stdout, "Wrote "))
	assert.FileExists(t, preview)
}

func TestUsageErrors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 1},
		{"unknown command", []string{"explode"}, 1},
		{"bake without model", []string{"bake"}, 2},
		{"info without file", []string{"info"}, 2},
		{"preview without output", []string{"preview", "a.vat"}, 2},
		{"missing model", []string{"bake", "/nonexistent/model.rsm"}, 1},
		{"bad format flag", []string{"bake", "-format", "rgb8", "x.rsm"}, 1},
		{"help", []string{"help"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCmd(t, tt.args...)
			assert.Equal(t, tt.code, code)
		})
	}
}
