package registry

import "time"

// Stage names the step of the load pipeline at which a model stopped.
type Stage string

const (
	StageRead      Stage = "read"
	StageValidate  Stage = "validate"
	StageResolve   Stage = "resolve"
	StageConstruct Stage = "construct"
	StageLoad      Stage = "load"
)

// LoadResult is the outcome for one enabled model. Err is nil when the model
// was loaded; otherwise Stage tells where it was skipped.
type LoadResult struct {
	ModelID  string
	Stage    Stage
	Err      error
	Duration time.Duration
}

// OK reports whether the model was loaded.
func (r LoadResult) OK() bool {
	return r.Err == nil
}

// LoadSummary reports what LoadAll did, one result per enabled model in
// catalog order.
type LoadSummary struct {
	Enabled int
	Results []LoadResult
}

// Loaded returns the ids of the models that were loaded.
func (s *LoadSummary) Loaded() []string {
	var out []string
	for _, r := range s.Results {
		if r.OK() {
			out = append(out, r.ModelID)
		}
	}
	return out
}

// Skipped returns the results of the models that were not loaded.
func (s *LoadSummary) Skipped() []LoadResult {
	var out []LoadResult
	for _, r := range s.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// UnloadResult is the outcome of unloading one model.
type UnloadResult struct {
	ModelID string
	Err     error
}
