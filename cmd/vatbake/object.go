package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Faultbox/midgard-vat/internal/assets"
	"github.com/Faultbox/midgard-vat/internal/config"
	"github.com/Faultbox/midgard-vat/internal/evaluator/gltfskin"
	"github.com/Faultbox/midgard-vat/internal/evaluator/rsm"
	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// object is a loaded model ready to bake.
type object struct {
	name     string
	source   string
	kind     string
	vertices int
	details  []string // Extra "Label: value" lines for clips
	clips    vat.ClipSource
	factory  vat.EvaluatorFactory
}

// objectName derives an object name from a model path:
// "data/model/Fountain.rsm" becomes "fountain".
func objectName(path string) string {
	base := filepath.Base(strings.ReplaceAll(path, "\\", "/"))
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// openObject loads a model by extension. glTF files are read from disk;
// anything else is resolved as an RSM through am. name overrides the
// object name derived from the path.
func openObject(arg, name, mesh string, cfg *config.Config, am *assets.Manager) (*object, error) {
	if name == "" {
		name = objectName(arg)
	}

	switch strings.ToLower(filepath.Ext(arg)) {
	case ".gltf", ".glb":
		m, err := gltfskin.Open(arg, gltfskin.Options{MeshNode: mesh, FrameRate: cfg.Bake.FrameRate})
		if err != nil {
			return nil, err
		}
		obj := &object{
			name:     name,
			source:   arg,
			kind:     "glTF skinned",
			vertices: m.VertexCount(),
			clips:    m,
			factory:  m.Factory(),
		}
		if !m.Skinned() {
			// Positions are baked relative to the mesh node, so moving that
			// node or its parents leaves nothing to record.
			obj.kind = "glTF rigid"
			obj.details = append(obj.details, "Note:     rigid mesh without a skin, clips bake static")
		}
		return obj, nil

	default:
		model, resolved, err := am.LoadRSM(arg)
		if err != nil {
			return nil, err
		}
		e, err := rsm.New(model, rsm.Options{FrameRate: cfg.Bake.FrameRate})
		if err != nil {
			return nil, err
		}
		obj := &object{
			name:     name,
			source:   resolved,
			kind:     fmt.Sprintf("RSM %s, %d nodes", model.Version, len(model.Nodes)),
			vertices: e.VertexCount(),
			details:  []string{fmt.Sprintf("Faces:    %d", model.GetTotalFaceCount())},
			clips:    e,
			factory:  e.Factory(),
		}
		if root := model.GetRootNode(); root != nil {
			obj.details = append(obj.details, fmt.Sprintf("Root:     %s (%d children)", root.Name, len(model.GetChildNodes(root.Name))))
		}
		return obj, nil
	}
}
