// Package registry loads the enabled models, owns their lifecycle and serves
// metadata and predictions from the loaded set.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/inference/backends"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/labelkit/model-server/pkg/internal/utils"
	"github.com/labelkit/model-server/pkg/logging"
	"github.com/labelkit/model-server/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Catalog supplies the enabled model ids and their configurations.
type Catalog interface {
	ListEnabled() ([]string, error)
	ReadModelConfig(id string) (*config.ModelConfig, error)
}

// Factory resolves a model id to its backend constructor.
type Factory interface {
	Resolve(id string) (backends.Constructor, error)
}

// Registry holds the table of loaded models.
type Registry struct {
	catalog         Catalog
	factory         Factory
	log             logging.Logger
	tracker         *metrics.Tracker
	loadConcurrency int

	// mu guards models. Entries are inserted only after Load succeeds and
	// removed before Unload starts.
	mu     sync.RWMutex
	models map[string]*instance
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// WithTracker sets the metrics tracker.
func WithTracker(t *metrics.Tracker) Option {
	return func(r *Registry) {
		r.tracker = t
	}
}

// WithLoadConcurrency sets how many models LoadAll loads at once. Values
// below 1 mean sequential loading.
func WithLoadConcurrency(n int) Option {
	return func(r *Registry) {
		r.loadConcurrency = max(n, 1)
	}
}

// New creates an empty registry.
func New(catalog Catalog, factory Factory, opts ...Option) *Registry {
	r := &Registry{
		catalog:         catalog,
		factory:         factory,
		log:             logging.Discard(),
		loadConcurrency: 1,
		models:          make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("component", "registry")
	return r
}

// LoadAll reads, validates, constructs and loads every enabled model. Models
// that fail at any stage are logged and skipped. It never fails as a whole.
//
// A repeated call reconciles the table with the catalog: models loaded by an
// earlier pass that are no longer enabled, or that fail this pass, are
// removed and unloaded.
func (r *Registry) LoadAll(ctx context.Context) *LoadSummary {
	ids, err := r.catalog.ListEnabled()
	if err != nil {
		if errors.Is(err, config.ErrNoCatalog) {
			r.log.Warnf("No model catalog found: %v", err)
		} else {
			r.log.Errorf("Failed to read model catalog: %v", err)
		}
	}
	ids = r.dedupe(ids)
	summary := &LoadSummary{Enabled: len(ids), Results: make([]LoadResult, len(ids))}
	if len(ids) == 0 {
		r.log.Warnln("No models enabled")
		r.retain(ctx, nil)
		return summary
	}

	// Read every configuration once.
	configs := make([]*config.ModelConfig, len(ids))
	var readable []*config.ModelConfig
	for i, id := range ids {
		summary.Results[i].ModelID = id
		cfg, err := r.catalog.ReadModelConfig(id)
		if err != nil {
			r.skip(&summary.Results[i], StageRead, err)
			continue
		}
		cfg.Key = id
		configs[i] = cfg
		readable = append(readable, cfg)
	}

	res := config.Validate(readable)
	for _, w := range res.Warnings {
		r.log.WithField("model", utils.SanitizeForLog(w.Key)).Warnln(w.Message)
	}
	if !res.OK() {
		r.log.Errorf("Configuration validation failed for %d model(s)", len(failedKeys(res)))
	}

	var pending []int
	for i, cfg := range configs {
		if cfg == nil {
			continue
		}
		if errs := res.ErrorsFor(ids[i]); len(errs) > 0 {
			joined := make([]error, len(errs))
			for j, e := range errs {
				joined[j] = e
			}
			r.skip(&summary.Results[i], StageValidate, errors.Join(joined...))
			continue
		}
		pending = append(pending, i)
	}

	if r.loadConcurrency > 1 && len(pending) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.loadConcurrency)
		for _, i := range pending {
			g.Go(func() error {
				summary.Results[i] = r.loadOne(gctx, configs[i])
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, i := range pending {
			summary.Results[i] = r.loadOne(ctx, configs[i])
		}
	}

	r.retain(ctx, summary.Loaded())
	loaded := len(summary.Loaded())
	if loaded == 0 {
		r.log.Warnf("No models were loaded successfully (0/%d enabled)", summary.Enabled)
	} else {
		r.log.Infof("Successfully loaded %d/%d model(s)", loaded, summary.Enabled)
	}
	return summary
}

// retain drops and unloads every instance whose id is not in keep.
func (r *Registry) retain(ctx context.Context, keep []string) {
	r.mu.Lock()
	var stale []string
	removed := make(map[string]*instance)
	for id, inst := range r.models {
		if !slices.Contains(keep, id) {
			stale = append(stale, id)
			removed[id] = inst
			delete(r.models, id)
		}
	}
	r.mu.Unlock()
	r.tracker.SetLoaded(r.Len())

	slices.Sort(stale)
	for _, id := range stale {
		log := r.log.WithField("model", utils.SanitizeForLog(id))
		if err := removed[id].unload(ctx); err != nil {
			log.Warnf("Failed to unload model dropped from the catalog: %v", err)
			continue
		}
		log.Infoln("Unloaded model dropped from the catalog")
	}
}

// dedupe drops repeated catalog entries, keeping the first occurrence.
func (r *Registry) dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			r.log.Warnf("Model %s is listed more than once in the catalog", utils.SanitizeForLog(id))
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func failedKeys(res *config.ValidationResult) []string {
	var keys []string
	for _, e := range res.Errors {
		if !slices.Contains(keys, e.Key) {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// loadOne resolves, constructs and loads a single validated model. The
// instance enters the table only if Load succeeds.
func (r *Registry) loadOne(ctx context.Context, cfg *config.ModelConfig) LoadResult {
	id := cfg.Key
	result := LoadResult{ModelID: id}
	log := r.log.WithField("model", utils.SanitizeForLog(id))
	start := time.Now()

	ctor, err := r.factory.Resolve(id)
	if err != nil {
		r.skip(&result, StageResolve, err)
		return result
	}

	model, err := ctor(cfg, log)
	if err != nil {
		r.skip(&result, StageConstruct, err)
		return result
	}
	if model == nil {
		r.skip(&result, StageConstruct, errors.New("constructor returned no model"))
		return result
	}

	inst := newInstance(id, model, r.tracker)
	if err := inst.load(ctx); err != nil {
		result.Duration = time.Since(start)
		r.skip(&result, StageLoad, err)
		return result
	}
	result.Stage = StageLoad
	result.Duration = time.Since(start)

	r.mu.Lock()
	old := r.models[id]
	r.models[id] = inst
	r.mu.Unlock()
	if old != nil {
		// A repeated LoadAll replaces the previous instance.
		if err := old.unload(ctx); err != nil {
			log.Warnf("Failed to unload replaced instance: %v", err)
		}
	}

	r.tracker.ObserveLoad(id, string(StageLoad), nil, result.Duration)
	log.Infof("Loaded model in %s", units.HumanDuration(result.Duration))
	return result
}

func (r *Registry) skip(result *LoadResult, stage Stage, err error) {
	result.Stage = stage
	result.Err = err
	r.tracker.ObserveLoad(result.ModelID, string(stage), err, result.Duration)
	r.log.WithField("model", utils.SanitizeForLog(result.ModelID)).
		WithField("stage", string(stage)).
		Errorf("Skipping model: %v", err)
}

func (r *Registry) lookup(id string) (*instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inference.ErrModelNotLoaded, utils.SanitizeForLog(id))
	}
	return inst, nil
}

// GetModel returns a view of a loaded model. The view predicts and reports
// metadata; its Load and Unload always fail.
func (r *Registry) GetModel(id string) (inference.Model, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return view{inst: inst}, nil
}

// Predict runs a prediction on a loaded model.
func (r *Registry) Predict(ctx context.Context, id string, img *inference.Image, params map[string]any) (*inference.PredictResult, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return inst.predict(ctx, img, params)
}

// InitVideoSession opens a video session on a loaded model.
func (r *Registry) InitVideoSession(ctx context.Context, id string, req *inference.VideoInit) (*inference.VideoSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	var session *inference.VideoSession
	err = inst.video(func(vm inference.VideoSessionModel) error {
		s, err := vm.InitSession(ctx, req)
		if err != nil {
			return err
		}
		if s == nil || s.SessionID == "" {
			return errors.New("backend returned no session id")
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.WithField("model", utils.SanitizeForLog(id)).
		Debugf("Opened video session %s over %d frame(s)", utils.SanitizeForLog(session.SessionID), len(req.Frames))
	return session, nil
}

// PromptVideoSession adds a prompt to one frame of a video session and
// returns the shapes predicted on that frame.
func (r *Registry) PromptVideoSession(ctx context.Context, id string, req *inference.VideoPrompt) (*inference.VideoFrame, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	var frame *inference.VideoFrame
	err = inst.video(func(vm inference.VideoSessionModel) error {
		f, err := vm.PromptSession(ctx, req)
		if err != nil {
			return err
		}
		if f == nil {
			f = &inference.VideoFrame{FrameIndex: req.FrameIndex}
		}
		frame = f
		return frame.Validate()
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// PropagateVideoSession spreads the prompts of a video session over a frame
// range.
func (r *Registry) PropagateVideoSession(ctx context.Context, id string, req *inference.VideoPropagate) (*inference.VideoPropagation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	var out *inference.VideoPropagation
	err = inst.video(func(vm inference.VideoSessionModel) error {
		p, err := vm.PropagateSession(ctx, req)
		if err != nil {
			return err
		}
		if p == nil {
			p = &inference.VideoPropagation{}
		}
		out = p
		return out.Validate()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllMetadata returns the metadata of every loaded model.
func (r *Registry) GetAllMetadata() map[string]inference.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]inference.Metadata, len(r.models))
	for id, inst := range r.models {
		out[id] = inst.model.Metadata()
	}
	return out
}

// Loaded returns the ids of the loaded models in sorted order.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of loaded models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// UnloadAll empties the table, then unloads every model it held. A failing
// Unload is logged and does not stop the sweep; the model is dropped either
// way.
func (r *Registry) UnloadAll(ctx context.Context) []UnloadResult {
	r.mu.Lock()
	models := r.models
	r.models = make(map[string]*instance)
	r.mu.Unlock()
	r.tracker.SetLoaded(0)

	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	results := make([]UnloadResult, 0, len(ids))
	for _, id := range ids {
		err := models[id].unload(ctx)
		if err != nil {
			r.log.WithField("model", utils.SanitizeForLog(id)).Errorf("Failed to unload model: %v", err)
		} else {
			r.log.WithField("model", utils.SanitizeForLog(id)).Infoln("Unloaded model")
		}
		results = append(results, UnloadResult{ModelID: id, Err: err})
	}
	return results
}
