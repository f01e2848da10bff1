// Package config reads and validates per-model configuration documents.
package config

import (
	"encoding/json"
	"maps"
)

// DefaultBatchProcessingMode is used when a document does not set
// batch_processing_mode.
const DefaultBatchProcessingMode = "default"

// ModelConfig is one parsed auto_labeling/<model_id>.yaml document.
type ModelConfig struct {
	ModelID             string         `yaml:"model_id" json:"model_id"`
	DisplayName         string         `yaml:"display_name" json:"display_name"`
	Params              map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Widgets             []WidgetConfig `yaml:"widgets,omitempty" json:"widgets,omitempty"`
	BatchProcessingMode string         `yaml:"batch_processing_mode,omitempty" json:"batch_processing_mode,omitempty"`

	// Key is the catalog entry that selected this document. It usually equals
	// ModelID but the two are not forced to match.
	Key string `yaml:"-" json:"-"`
	// Path is the file the document was read from, if any.
	Path string `yaml:"-" json:"-"`

	// raw is the untyped document, kept for structural validation.
	raw map[string]any
}

// EntryKey returns the identifier used to attribute errors and warnings to
// this document.
func (c *ModelConfig) EntryKey() string {
	if c.Key != "" {
		return c.Key
	}
	return c.ModelID
}

// Mode returns the batch processing mode, applying the default.
func (c *ModelConfig) Mode() string {
	if c.BatchProcessingMode == "" {
		return DefaultBatchProcessingMode
	}
	return c.BatchProcessingMode
}

// ParamsCopy returns a shallow copy of Params that is never nil.
func (c *ModelConfig) ParamsCopy() map[string]any {
	if c.Params == nil {
		return map[string]any{}
	}
	return maps.Clone(c.Params)
}

// WidgetsCopy returns a copy of the widget list that is never nil.
func (c *ModelConfig) WidgetsCopy() []WidgetConfig {
	out := make([]WidgetConfig, len(c.Widgets))
	copy(out, c.Widgets)
	return out
}

// document returns the configuration as a JSON-shaped value for schema
// validation. Documents built in memory are assembled from their typed fields.
func (c *ModelConfig) document() any {
	if c.raw != nil {
		return jsonValue(c.raw)
	}
	doc := map[string]any{
		"model_id":     c.ModelID,
		"display_name": c.DisplayName,
	}
	if len(c.Params) > 0 {
		doc["params"] = c.Params
	}
	if len(c.Widgets) > 0 {
		widgets := make([]any, len(c.Widgets))
		for i, w := range c.Widgets {
			widgets[i] = w.fields()
		}
		doc["widgets"] = widgets
	}
	if c.BatchProcessingMode != "" {
		doc["batch_processing_mode"] = c.BatchProcessingMode
	}
	return jsonValue(doc)
}

// WidgetConfig describes a UI control exposed by a model together with its
// default value. Keys other than the well-known ones are kept in Extra and
// reproduced in metadata.
type WidgetConfig struct {
	Name  string    `yaml:"name"`
	Type  string    `yaml:"type,omitempty"`
	Value any       `yaml:"value"`
	Range []float64 `yaml:"range,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// HasValue reports whether the widget declares a default value.
func (w WidgetConfig) HasValue() bool {
	return w.Value != nil
}

func (w WidgetConfig) fields() map[string]any {
	m := make(map[string]any, len(w.Extra)+4)
	for k, v := range w.Extra {
		m[k] = v
	}
	m["name"] = w.Name
	if w.Type != "" {
		m["type"] = w.Type
	}
	if w.Value != nil {
		m["value"] = w.Value
	}
	if len(w.Range) > 0 {
		m["range"] = w.Range
	}
	return m
}

// MarshalJSON flattens Extra next to the well-known keys.
func (w WidgetConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.fields())
}
