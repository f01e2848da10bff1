package config

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfig(id, name string, widgets ...WidgetConfig) *ModelConfig {
	return &ModelConfig{Key: id, ModelID: id, DisplayName: name, Widgets: widgets}
}

func widget(name string, value any) WidgetConfig {
	return WidgetConfig{Name: name, Value: value}
}

func TestValidate_ValidBatch(t *testing.T) {
	res := Validate([]*ModelConfig{
		newConfig("yolo11n", "YOLO11n",
			widget(WidgetConfidence, 0.25),
			widget(WidgetIoU, 0.7),
			widget(WidgetMaskFineness, 50),
			widget(WidgetPreserveAnnotations, false),
		),
		newConfig("glm_4_6v_grounding_api", "GLM-4.6V",
			widget(WidgetTextPrompt, ""),
			widget(WidgetSendButton, nil),
		),
	})

	assert.True(t, res.OK())
	assert.NoError(t, res.Err())
	assert.Empty(t, res.Warnings)
}

func TestValidate_DuplicateModelID(t *testing.T) {
	first := newConfig("b", "Model A")
	first.Key = "a"
	second := newConfig("b", "Model B")

	res := Validate([]*ModelConfig{first, second})

	require.False(t, res.OK())
	assert.False(t, res.Failed("b"), "the entry whose key matches the id keeps it")
	assert.True(t, res.Failed("a"))

	errs := res.ErrorsFor("a")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), `duplicate model_id "b"`)
	assert.True(t, errors.Is(res.Err(), ErrConfigInvalid))
	assert.True(t, errdefs.IsInvalidArgument(res.Err()))

	// The id mismatch is reported as a warning as well.
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "a", res.Warnings[0].Key)
}

func TestValidate_DuplicateModelIDLaterEntryFails(t *testing.T) {
	first := newConfig("yolo11n", "YOLO A")
	first.Key = "x"
	second := newConfig("yolo11n", "YOLO B")
	second.Key = "y"

	res := Validate([]*ModelConfig{first, second})

	require.False(t, res.OK())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "y", res.Errors[0].Key)
	assert.Contains(t, res.Errors[0].Error(), "already declared by [x]")
}

func TestValidate_DuplicateDisplayNameWarns(t *testing.T) {
	res := Validate([]*ModelConfig{
		newConfig("yolo11n", "YOLO"),
		newConfig("yolo11s", "YOLO"),
	})

	assert.True(t, res.OK())
	assert.False(t, res.Failed("yolo11n"))
	assert.False(t, res.Failed("yolo11s"))

	want := []Warning{{
		Key:     "yolo11s",
		Message: "Duplicate display_name 'YOLO' found: model_id 'yolo11s' and 'yolo11n'",
	}}
	if diff := cmp.Diff(want, res.Warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_WidgetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		widget  WidgetConfig
		wantErr string
	}{
		{name: "conf in range", widget: widget(WidgetConfidence, 0.5)},
		{name: "conf integer bound", widget: widget(WidgetConfidence, 1)},
		{name: "conf lower bound", widget: widget(WidgetConfidence, 0.0)},
		{name: "conf above range", widget: widget(WidgetConfidence, 1.5), wantErr: "value 1.5 out of range [0, 1]"},
		{name: "conf negative", widget: widget(WidgetConfidence, -0.1), wantErr: "out of range"},
		{name: "conf missing", widget: widget(WidgetConfidence, nil), wantErr: "requires a default value"},
		{name: "conf string", widget: widget(WidgetConfidence, "0.5"), wantErr: "value must be a number"},
		{name: "conf bool", widget: widget(WidgetConfidence, true), wantErr: "value must be a number"},
		{name: "iou above range", widget: widget(WidgetIoU, 2.0), wantErr: "out of range"},
		{name: "fineness in range", widget: widget(WidgetMaskFineness, 100)},
		{name: "fineness zero", widget: widget(WidgetMaskFineness, 0), wantErr: "value 0 out of range [1, 100]"},
		{name: "fineness float", widget: widget(WidgetMaskFineness, 50.0), wantErr: "value must be an integer"},
		{name: "fineness int64", widget: widget(WidgetMaskFineness, int64(10))},
		{name: "preserve bool", widget: widget(WidgetPreserveAnnotations, true)},
		{name: "preserve int", widget: widget(WidgetPreserveAnnotations, 1), wantErr: "value must be a boolean"},
		{name: "preserve missing", widget: widget(WidgetPreserveAnnotations, nil), wantErr: "requires a default value"},
		{name: "unknown widget without value", widget: widget("button_run", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate([]*ModelConfig{newConfig("m", "M", tt.widget)})
			if tt.wantErr == "" {
				assert.True(t, res.OK(), "unexpected errors: %v", res.Err())
				return
			}
			require.True(t, res.Failed("m"))
			errs := res.ErrorsFor("m")
			require.Len(t, errs, 1)
			assert.Equal(t, tt.widget.Name, errs[0].Widget)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
			assert.ErrorIs(t, errs[0], ErrConfigInvalid)
		})
	}
}

func TestValidate_InvalidWidgetIsolated(t *testing.T) {
	res := Validate([]*ModelConfig{
		newConfig("bad", "Bad", widget(WidgetConfidence, 1.5)),
		newConfig("good", "Good", widget(WidgetConfidence, 0.3)),
	})

	assert.False(t, res.OK())
	assert.True(t, res.Failed("bad"))
	assert.False(t, res.Failed("good"))
}

func TestValidate_TextPromptRequiresSendButton(t *testing.T) {
	res := Validate([]*ModelConfig{
		newConfig("no_button", "No button", widget(WidgetTextPrompt, "")),
		newConfig("with_button", "With button", widget(WidgetTextPrompt, ""), widget(WidgetSendButton, nil)),
	})

	assert.True(t, res.Failed("no_button"))
	assert.False(t, res.Failed("with_button"))
	errs := res.ErrorsFor("no_button")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "requires 'button_send'")
}

func TestValidate_CollectsAllErrorsForModel(t *testing.T) {
	res := Validate([]*ModelConfig{
		newConfig("m", "M",
			widget(WidgetConfidence, 3.0),
			widget(WidgetMaskFineness, 0),
			widget(WidgetTextPrompt, ""),
		),
	})

	var widgets []string
	for _, e := range res.ErrorsFor("m") {
		widgets = append(widgets, e.Widget)
	}
	assert.ElementsMatch(t, []string{WidgetConfidence, WidgetMaskFineness, WidgetTextPrompt}, widgets)
}

func TestValidate_WidgetStructure(t *testing.T) {
	res := Validate([]*ModelConfig{
		newConfig("dup", "Dup", widget(WidgetIoU, 0.5), widget(WidgetIoU, 0.6)),
		newConfig("range", "Range", WidgetConfig{Name: "slider", Value: 3, Range: []float64{10, 1}}),
	})

	require.Len(t, res.ErrorsFor("dup"), 1)
	assert.Contains(t, res.ErrorsFor("dup")[0].Error(), "declared more than once")
	require.Len(t, res.ErrorsFor("range"), 1)
	assert.Contains(t, res.ErrorsFor("range")[0].Error(), "min greater than max")
}

func TestValidate_Schema(t *testing.T) {
	parse := func(t *testing.T, doc string) *ModelConfig {
		t.Helper()
		cfg, err := ParseModelConfig([]byte(doc))
		require.NoError(t, err)
		cfg.Key = "m"
		return cfg
	}

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "minimal",
			doc:  "model_id: m\ndisplay_name: M\n",
		},
		{
			name: "empty params and widgets",
			doc:  "model_id: m\ndisplay_name: M\nparams:\nwidgets:\n",
		},
		{
			name: "non-finite param",
			doc:  "model_id: m\ndisplay_name: M\nparams:\n  max_area: .inf\n  min_area: -.inf\n",
		},
		{
			name: "integer mapping keys",
			doc:  "model_id: m\ndisplay_name: M\nparams:\n  class_map: {0: person, 1: car}\n",
		},
		{
			name: "timestamp param",
			doc:  "model_id: m\ndisplay_name: M\nparams:\n  released: 2024-01-02\n",
		},
		{
			name:    "missing display_name",
			doc:     "model_id: m\n",
			wantErr: "display_name",
		},
		{
			name:    "display_name not a string",
			doc:     "model_id: m\ndisplay_name: 42\n",
			wantErr: "/display_name",
		},
		{
			name:    "widget name not a string",
			doc:     "model_id: m\ndisplay_name: M\nwidgets:\n  - name: 5\n",
			wantErr: "/widgets/0/name",
		},
		{
			name:    "widget without name",
			doc:     "model_id: m\ndisplay_name: M\nwidgets:\n  - type: button\n",
			wantErr: "/widgets/0",
		},
		{
			name:    "range with one bound",
			doc:     "model_id: m\ndisplay_name: M\nwidgets:\n  - name: slider\n    range: [1]\n",
			wantErr: "/widgets/0/range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate([]*ModelConfig{parse(t, tt.doc)})
			if tt.wantErr == "" {
				assert.True(t, res.OK(), "unexpected errors: %v", res.Err())
				return
			}
			require.False(t, res.OK())
			var msgs []string
			for _, e := range res.ErrorsFor("m") {
				msgs = append(msgs, e.Error())
			}
			assert.Contains(t, strings.Join(msgs, "\n"), tt.wantErr)
		})
	}
}

func TestParseModelConfig_NormalizesParams(t *testing.T) {
	cfg, err := ParseModelConfig([]byte("model_id: m\ndisplay_name: M\nparams:\n  class_map: {0: person, 1: car}\n  max_area: .inf\n"))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"0": "person", "1": "car"}, cfg.Params["class_map"])
	assert.True(t, math.IsInf(cfg.Params["max_area"].(float64), 1))
}

func TestValidate_InMemoryParams(t *testing.T) {
	cfg := newConfig("m", "M")
	cfg.Params = map[string]any{
		"class_map": map[any]any{0: "person"},
		"max_area":  math.Inf(1),
		"sizes":     []int{320, 640},
	}

	res := Validate([]*ModelConfig{cfg})
	assert.True(t, res.OK(), "unexpected errors: %v", res.Err())
}

func TestValidate_InMemoryConfigMissingID(t *testing.T) {
	res := Validate([]*ModelConfig{{Key: "orphan", DisplayName: "Orphan"}})

	assert.True(t, res.Failed("orphan"))
}
