package config

import (
	"errors"
	"fmt"
	"strconv"
)

// Well-known widget names.
const (
	WidgetConfidence          = "edit_conf"
	WidgetIoU                 = "edit_iou"
	WidgetMaskFineness        = "mask_fineness_slider"
	WidgetPreserveAnnotations = "toggle_preserve_existing_annotations"
	WidgetTextPrompt          = "edit_text"
	WidgetSendButton          = "button_send"
)

type valueKind uint8

const (
	kindNumber valueKind = iota
	kindInteger
	kindBool
)

func (k valueKind) String() string {
	switch k {
	case kindNumber:
		return "a number"
	case kindInteger:
		return "an integer"
	case kindBool:
		return "a boolean"
	default:
		return "unknown"
	}
}

type defaultRule struct {
	widget   string
	kind     valueKind
	bounded  bool
	min, max float64
}

// defaultRules lists the widgets whose default value is checked when the
// widget is present.
var defaultRules = []defaultRule{
	{widget: WidgetConfidence, kind: kindNumber, bounded: true, min: 0, max: 1},
	{widget: WidgetIoU, kind: kindNumber, bounded: true, min: 0, max: 1},
	{widget: WidgetMaskFineness, kind: kindInteger, bounded: true, min: 1, max: 100},
	{widget: WidgetPreserveAnnotations, kind: kindBool},
}

// Warning is a non-fatal validation finding.
type Warning struct {
	Key     string
	Message string
}

func (w Warning) String() string {
	return w.Message
}

// ValidationResult carries every per-model error and warning of a batch.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []Warning
}

// OK reports whether the batch produced no errors.
func (r *ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Failed reports whether the catalog entry has at least one error.
func (r *ValidationResult) Failed(key string) bool {
	for _, e := range r.Errors {
		if e.Key == key {
			return true
		}
	}
	return false
}

// ErrorsFor returns the errors attributed to a catalog entry.
func (r *ValidationResult) ErrorsFor(key string) []*ValidationError {
	var out []*ValidationError
	for _, e := range r.Errors {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

// Err joins all errors, or returns nil when the batch is valid.
func (r *ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (r *ValidationResult) fail(cfg *ModelConfig, widget string, err error) {
	r.Errors = append(r.Errors, &ValidationError{
		Key:     cfg.EntryKey(),
		ModelID: cfg.ModelID,
		Widget:  widget,
		Err:     err,
	})
}

func (r *ValidationResult) warn(cfg *ModelConfig, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{Key: cfg.EntryKey(), Message: fmt.Sprintf(format, args...)})
}

// Validate checks a batch of configurations. When several entries declare
// the same model_id, the entry whose catalog key matches the id (or else the
// first one) owns it and every other declaration fails, failing the batch. A
// duplicate display_name is only a warning. Structural and widget failures
// are attributed to the entry they were found in and never affect other
// entries.
func Validate(configs []*ModelConfig) *ValidationResult {
	res := &ValidationResult{}
	owners := idOwners(configs)
	names := make(map[string]string)

	for _, cfg := range configs {
		if cfg == nil {
			continue
		}

		for _, err := range checkStructure(cfg) {
			res.fail(cfg, "", err)
		}

		if cfg.ModelID != "" {
			if owner := owners[cfg.ModelID]; owner != cfg {
				res.fail(cfg, "", fmt.Errorf("duplicate model_id %q, already declared by [%s]", cfg.ModelID, owner.EntryKey()))
			}
			if cfg.Key != "" && cfg.Key != cfg.ModelID {
				res.warn(cfg, "Catalog entry '%s' declares model_id '%s'", cfg.Key, cfg.ModelID)
			}
		}

		if cfg.DisplayName != "" {
			if other, dup := names[cfg.DisplayName]; dup {
				res.warn(cfg, "Duplicate display_name '%s' found: model_id '%s' and '%s'",
					cfg.DisplayName, cfg.ModelID, other)
			}
			names[cfg.DisplayName] = cfg.ModelID
		}

		checkWidgets(res, cfg)
	}
	return res
}

// idOwners picks, for every declared model_id, the entry that keeps it.
func idOwners(configs []*ModelConfig) map[string]*ModelConfig {
	owners := make(map[string]*ModelConfig)
	for _, cfg := range configs {
		if cfg == nil || cfg.ModelID == "" {
			continue
		}
		cur, ok := owners[cfg.ModelID]
		if !ok || (cur.EntryKey() != cur.ModelID && cfg.EntryKey() == cfg.ModelID) {
			owners[cfg.ModelID] = cfg
		}
	}
	return owners
}

func checkWidgets(res *ValidationResult, cfg *ModelConfig) {
	byName := make(map[string]WidgetConfig, len(cfg.Widgets))
	for _, w := range cfg.Widgets {
		if w.Name == "" {
			continue
		}
		if _, dup := byName[w.Name]; dup {
			res.fail(cfg, w.Name, errors.New("declared more than once"))
		}
		byName[w.Name] = w
		if len(w.Range) == 2 && w.Range[0] > w.Range[1] {
			res.fail(cfg, w.Name, fmt.Errorf("range [%s, %s] has min greater than max",
				formatFloat(w.Range[0]), formatFloat(w.Range[1])))
		}
	}

	if _, ok := byName[WidgetTextPrompt]; ok {
		if _, ok := byName[WidgetSendButton]; !ok {
			res.fail(cfg, WidgetTextPrompt, fmt.Errorf("requires '%s' button, add it to the widgets configuration", WidgetSendButton))
		}
	}

	for _, rule := range defaultRules {
		w, ok := byName[rule.widget]
		if !ok {
			continue
		}
		if err := rule.check(w.Value); err != nil {
			res.fail(cfg, rule.widget, err)
		}
	}
}

func (r defaultRule) check(value any) error {
	if value == nil {
		return errors.New("requires a default value")
	}

	if r.kind == kindBool {
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("value must be %s, got %T", r.kind, value)
		}
		return nil
	}

	v, integral, ok := numeric(value)
	if !ok || (r.kind == kindInteger && !integral) {
		return fmt.Errorf("value must be %s, got %T", r.kind, value)
	}
	if r.bounded && !(r.min <= v && v <= r.max) {
		return fmt.Errorf("value %s out of range [%s, %s]", formatFloat(v), formatFloat(r.min), formatFloat(r.max))
	}
	return nil
}

// numeric converts Go numeric kinds to float64. integral reports whether the
// value had an integer type; booleans are never numeric.
func numeric(value any) (v float64, integral, ok bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true, true
	case int8:
		return float64(n), true, true
	case int16:
		return float64(n), true, true
	case int32:
		return float64(n), true, true
	case int64:
		return float64(n), true, true
	case uint:
		return float64(n), true, true
	case uint8:
		return float64(n), true, true
	case uint16:
		return float64(n), true, true
	case uint32:
		return float64(n), true, true
	case uint64:
		return float64(n), true, true
	case float32:
		return float64(n), false, true
	case float64:
		return n, false, true
	default:
		return 0, false, false
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
