package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/metrics"
)

// State is the lifecycle state of a model instance.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateUnloading
)

// String implements Stringer.String for State.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// errLifecycleOwned is returned by Load and Unload on the view handed out by
// GetModel.
var errLifecycleOwned = errors.New("model lifecycle is managed by the registry")

// instance drives one backend through its lifecycle. Predict calls hold the
// lock for their duration so that Unload waits for in-flight predictions.
type instance struct {
	id         string
	model      inference.Model
	concurrent bool
	tracker    *metrics.Tracker

	// mu guards state and serializes Predict unless concurrent is set.
	mu    sync.RWMutex
	state State
	// loaded records that Load was attempted, so it is never repeated.
	loaded bool
}

func newInstance(id string, model inference.Model, tracker *metrics.Tracker) *instance {
	cp, ok := model.(inference.ConcurrentPredictor)
	return &instance{
		id:         id,
		model:      model,
		concurrent: ok && cp.ConcurrentPredict(),
		tracker:    tracker,
	}
}

func (i *instance) currentState() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// load runs the backend Load once. On failure the instance returns to
// StateUnloaded and must be discarded.
func (i *instance) load(ctx context.Context) error {
	i.mu.Lock()
	if i.loaded {
		i.mu.Unlock()
		return fmt.Errorf("%w: model %s was already loaded once", inference.ErrLoadFailed, i.id)
	}
	i.loaded = true
	i.state = StateLoading
	i.mu.Unlock()

	err := i.model.Load(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.state = StateUnloaded
		return fmt.Errorf("%w: %w", inference.ErrLoadFailed, err)
	}
	i.state = StateLoaded
	return nil
}

// acquire takes the lock a call into the backend needs and returns its
// release.
func (i *instance) acquire() func() {
	if i.concurrent {
		i.mu.RLock()
		return i.mu.RUnlock
	}
	i.mu.Lock()
	return i.mu.Unlock
}

// video runs fn against the backend's video session support under the same
// locking as predict.
func (i *instance) video(fn func(inference.VideoSessionModel) error) error {
	vm, ok := i.model.(inference.VideoSessionModel)
	if !ok {
		return fmt.Errorf("%w: %s", inference.ErrVideoUnsupported, i.id)
	}
	defer i.acquire()()
	if i.state != StateLoaded {
		return fmt.Errorf("%w: %s is %s", inference.ErrModelNotLoaded, i.id, i.state)
	}
	return fn(vm)
}

func (i *instance) predict(ctx context.Context, img *inference.Image, params map[string]any) (*inference.PredictResult, error) {
	defer i.acquire()()
	if i.state != StateLoaded {
		return nil, fmt.Errorf("%w: %s is %s", inference.ErrModelNotLoaded, i.id, i.state)
	}

	start := time.Now()
	res, err := i.model.Predict(ctx, img, params)
	if err == nil {
		if res == nil {
			res = &inference.PredictResult{}
		}
		err = res.Validate()
	}
	i.tracker.ObservePredict(i.id, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// unload waits for in-flight predictions, then releases the backend.
func (i *instance) unload(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateLoaded {
		return nil
	}
	i.state = StateUnloading
	err := i.model.Unload(ctx)
	i.state = StateUnloaded
	i.tracker.ObserveUnload(i.id, err)
	if err != nil {
		return fmt.Errorf("%w: %w", inference.ErrUnloadFailed, err)
	}
	return nil
}

// view is the inference.Model handed to callers of GetModel. It forwards
// predictions and metadata; the lifecycle stays with the registry.
type view struct {
	inst *instance
}

func (v view) Load(context.Context) error {
	return errLifecycleOwned
}

func (v view) Predict(ctx context.Context, img *inference.Image, params map[string]any) (*inference.PredictResult, error) {
	return v.inst.predict(ctx, img, params)
}

func (v view) Unload(context.Context) error {
	return errLifecycleOwned
}

func (v view) Metadata() inference.Metadata {
	return v.inst.model.Metadata()
}
