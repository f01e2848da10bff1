// Package backends maps model ids to the constructors of their inference
// backends.
package backends

import (
	"fmt"
	"maps"
	"slices"

	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/inference/backends/grounding"
	"github.com/labelkit/model-server/pkg/inference/backends/remote"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/labelkit/model-server/pkg/logging"
)

// Constructor builds an unloaded model from its configuration.
type Constructor func(cfg *config.ModelConfig, log logging.Logger) (inference.Model, error)

// Factory is a table from model id to constructor. It is populated before
// use and read-only afterwards.
type Factory map[string]Constructor

// builtin is the compiled-in table of known model ids.
var builtin = Factory{
	"yolo11n":            remoteConstructor,
	"yolo11s":            remoteConstructor,
	"yolo11n_seg":        remoteConstructor,
	"yolo11n_pose":       remoteConstructor,
	"yolo11n_obb":        remoteConstructor,
	"yolo11n_track":      remoteConstructor,
	"segment_anything_3": remoteConstructor,

	"qwen3vl_caption_api":    groundingConstructor,
	"qwen3vl_grounding_api":  groundingConstructor,
	"glm_4_6v_grounding_api": groundingConstructor,
}

func remoteConstructor(cfg *config.ModelConfig, log logging.Logger) (inference.Model, error) {
	m, err := remote.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func groundingConstructor(cfg *config.ModelConfig, log logging.Logger) (inference.Model, error) {
	m, err := grounding.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Default returns a copy of the compiled-in factory table.
func Default() Factory {
	return maps.Clone(builtin)
}

// Resolve returns the constructor for id.
func (f Factory) Resolve(id string) (Constructor, error) {
	c, ok := f[id]
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: %q", inference.ErrModelNotRegistered, id)
	}
	return c, nil
}

// IDs returns the registered model ids in sorted order.
func (f Factory) IDs() []string {
	return slices.Sorted(maps.Keys(f))
}
