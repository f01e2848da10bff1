package inference

import (
	"context"
	"strings"

	"github.com/labelkit/model-server/pkg/inference/config"
)

// Model is the capability set every backend implements.
type Model interface {
	// Load acquires whatever resources the model needs. It is called exactly
	// once by the registry before any Predict.
	Load(ctx context.Context) error
	// Predict runs inference on img. params override configured defaults for
	// this call only.
	Predict(ctx context.Context, img *Image, params map[string]any) (*PredictResult, error)
	// Unload releases the resources acquired by Load.
	Unload(ctx context.Context) error
	// Metadata describes the model to clients.
	Metadata() Metadata
}

// ConcurrentPredictor is implemented by backends whose Predict is safe to
// call from multiple goroutines. Other backends have their calls serialized.
type ConcurrentPredictor interface {
	ConcurrentPredict() bool
}

// Metadata is the client-facing description of a model.
type Metadata struct {
	DisplayName         string                `json:"display_name"`
	Widgets             []config.WidgetConfig `json:"widgets"`
	Params              map[string]any        `json:"params"`
	BatchProcessingMode string                `json:"batch_processing_mode"`
}

// PredictResult is the output of one prediction.
type PredictResult struct {
	Shapes      []Shape `json:"shapes"`
	Description string  `json:"description"`
}

// Validate checks every shape and normalizes nil collections.
func (r *PredictResult) Validate() error {
	if r.Shapes == nil {
		r.Shapes = []Shape{}
	}
	for i := range r.Shapes {
		if err := r.Shapes[i].Validate(); err != nil {
			return err
		}
		r.Shapes[i].Normalize()
	}
	return nil
}

const redacted = "******"

var secretParamMarkers = []string{"api_key", "token", "secret", "password"}

// Base holds the configuration shared by all backends. Embed it to get
// Metadata and parameter defaults.
type Base struct {
	cfg *config.ModelConfig
}

// NewBase wraps cfg. The config is not copied; callers must not mutate it
// afterwards.
func NewBase(cfg *config.ModelConfig) Base {
	return Base{cfg: cfg}
}

// Config returns the model configuration.
func (b Base) Config() *config.ModelConfig {
	return b.cfg
}

// ModelID returns the configured model id.
func (b Base) ModelID() string {
	return b.cfg.ModelID
}

// Params returns the configured parameters merged with call overrides.
func (b Base) Params(call map[string]any) Params {
	return MergeParams(b.cfg.Params, call)
}

// Metadata implements Model.Metadata. Parameters whose names look like
// credentials are masked.
func (b Base) Metadata() Metadata {
	params := b.cfg.ParamsCopy()
	for k, v := range params {
		if isSecretParam(k) && v != nil && v != "" {
			params[k] = redacted
		}
	}
	return Metadata{
		DisplayName:         b.cfg.DisplayName,
		Widgets:             b.cfg.WidgetsCopy(),
		Params:              params,
		BatchProcessingMode: b.cfg.Mode(),
	}
}

func isSecretParam(name string) bool {
	name = strings.ToLower(name)
	// api_key_env names a variable, not a secret.
	if strings.HasSuffix(name, "_env") {
		return false
	}
	for _, marker := range secretParamMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
