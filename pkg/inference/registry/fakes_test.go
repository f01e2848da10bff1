package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/inference/backends"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/labelkit/model-server/pkg/logging"
)

// fakeModel records lifecycle calls and can be told to fail at any step.
type fakeModel struct {
	inference.Base

	loadErr    error
	unloadErr  error
	predictErr error
	result     *inference.PredictResult
	concurrent bool
	// gate, when set, blocks Predict until it is closed.
	gate chan struct{}

	loads, unloads, predicts atomic.Int32
	inFlight, maxInFlight    atomic.Int32
}

func (m *fakeModel) Load(context.Context) error {
	m.loads.Add(1)
	return m.loadErr
}

func (m *fakeModel) Predict(ctx context.Context, _ *inference.Image, _ map[string]any) (*inference.PredictResult, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	m.predicts.Add(1)

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.predictErr != nil {
		return nil, m.predictErr
	}
	if m.result != nil {
		return m.result, nil
	}
	s, err := inference.NewShape("obj", inference.ShapePoint, []inference.Point{{1, 2}}, inference.WithScore(0.9))
	if err != nil {
		return nil, err
	}
	return &inference.PredictResult{Shapes: []inference.Shape{s}}, nil
}

func (m *fakeModel) Unload(context.Context) error {
	m.unloads.Add(1)
	return m.unloadErr
}

func (m *fakeModel) ConcurrentPredict() bool {
	return m.concurrent
}

// fakeVideoModel adds in-memory video sessions to fakeModel.
type fakeVideoModel struct {
	*fakeModel

	// frame, when set, is returned by every prompt.
	frame *inference.VideoFrame

	mu       sync.Mutex
	sessions map[string]int
	prompts  []inference.VideoPrompt
}

func newFakeVideoModel() *fakeVideoModel {
	return &fakeVideoModel{fakeModel: &fakeModel{}, sessions: map[string]int{}}
}

func (m *fakeVideoModel) InitSession(_ context.Context, req *inference.VideoInit) (*inference.VideoSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("session-%d", len(m.sessions)+1)
	m.sessions[id] = len(req.Frames)
	return &inference.VideoSession{SessionID: id, FrameCount: len(req.Frames)}, nil
}

func (m *fakeVideoModel) frameCount(id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.sessions[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", inference.ErrSessionNotFound, id)
	}
	return n, nil
}

func (m *fakeVideoModel) PromptSession(_ context.Context, req *inference.VideoPrompt) (*inference.VideoFrame, error) {
	if _, err := m.frameCount(req.SessionID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, *req)
	m.mu.Unlock()
	if m.frame != nil {
		return m.frame, nil
	}
	return &inference.VideoFrame{FrameIndex: req.FrameIndex, Shapes: []inference.Shape{videoShape()}}, nil
}

func (m *fakeVideoModel) PropagateSession(_ context.Context, req *inference.VideoPropagate) (*inference.VideoPropagation, error) {
	n, err := m.frameCount(req.SessionID)
	if err != nil {
		return nil, err
	}
	start, end := 0, n-1
	if req.StartFrame != nil {
		start = *req.StartFrame
	}
	if req.EndFrame != nil {
		end = min(*req.EndFrame, n-1)
	}
	var out inference.VideoPropagation
	for i := start; i <= end; i++ {
		out.Frames = append(out.Frames, inference.VideoFrame{FrameIndex: i, Shapes: []inference.Shape{videoShape()}})
	}
	return &out, nil
}

func videoShape() inference.Shape {
	s, err := inference.NewShape("car", inference.ShapePoint, []inference.Point{{3, 4}})
	if err != nil {
		panic(err)
	}
	return s
}

// memCatalog serves configurations from memory and counts reads.
type memCatalog struct {
	enabled []string
	listErr error
	configs map[string]*config.ModelConfig

	mu    sync.Mutex
	reads map[string]int
}

func newMemCatalog(enabled ...string) *memCatalog {
	return &memCatalog{
		enabled: enabled,
		configs: map[string]*config.ModelConfig{},
		reads:   map[string]int{},
	}
}

func (c *memCatalog) add(cfg *config.ModelConfig) *memCatalog {
	return c.put(cfg.ModelID, cfg)
}

// put stores cfg under a catalog key that may differ from its model_id.
func (c *memCatalog) put(key string, cfg *config.ModelConfig) *memCatalog {
	c.configs[key] = cfg
	return c
}

func (c *memCatalog) ListEnabled() ([]string, error) {
	return append([]string(nil), c.enabled...), c.listErr
}

func (c *memCatalog) ReadModelConfig(id string) (*config.ModelConfig, error) {
	c.mu.Lock()
	c.reads[id]++
	c.mu.Unlock()
	cfg, ok := c.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, id)
	}
	cp := *cfg
	cp.Params = maps.Clone(cfg.Params)
	return &cp, nil
}

func modelConfig(id string, widgets ...config.WidgetConfig) *config.ModelConfig {
	return &config.ModelConfig{ModelID: id, DisplayName: "Model " + id, Widgets: widgets}
}

// fakeFactory builds the prepared fakes by id.
type fakeFactory struct {
	mu      sync.Mutex
	models  map[string]*fakeModel
	ctorErr map[string]error
	built   map[string]int
	videos  map[string]*fakeVideoModel
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		models:  map[string]*fakeModel{},
		ctorErr: map[string]error{},
		built:   map[string]int{},
		videos:  map[string]*fakeVideoModel{},
	}
}

func (f *fakeFactory) with(id string, m *fakeModel) *fakeFactory {
	f.models[id] = m
	return f
}

func (f *fakeFactory) withVideo(id string, v *fakeVideoModel) *fakeFactory {
	f.models[id] = v.fakeModel
	f.videos[id] = v
	return f
}

func (f *fakeFactory) Resolve(id string) (backends.Constructor, error) {
	m, ok := f.models[id]
	ctorErr := f.ctorErr[id]
	if !ok && ctorErr == nil {
		return nil, fmt.Errorf("%w: %q", inference.ErrModelNotRegistered, id)
	}
	return func(cfg *config.ModelConfig, _ logging.Logger) (inference.Model, error) {
		f.mu.Lock()
		f.built[id]++
		f.mu.Unlock()
		if ctorErr != nil {
			return nil, ctorErr
		}
		m.Base = inference.NewBase(cfg)
		if v, ok := f.videos[id]; ok {
			return v, nil
		}
		return m, nil
	}, nil
}

func (f *fakeFactory) builtCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[id]
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
