// Package remote implements models served by an external HTTP inference
// server, such as a YOLO or SAM worker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/labelkit/model-server/pkg/logging"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultHealthPath  = "/health"
	defaultPredictPath = "/predict"
	defaultVideoPath   = "/video"
	// maxResponseSize bounds the prediction payload read from the server.
	maxResponseSize = 64 * 1024 * 1024
)

// ErrNoEndpoint is returned when the endpoint parameter is missing.
var ErrNoEndpoint = errors.New("remote backend requires an 'endpoint' parameter")

// Model forwards predictions to an HTTP inference server.
type Model struct {
	inference.Base
	log logging.Logger

	endpoint    *url.URL
	predictPath string
	healthPath  string
	modelPath   string
	timeout     time.Duration

	// videoPath prefixes the init, prompt and propagate routes. Empty when
	// video sessions are disabled.
	videoPath string

	healthTimeout  time.Duration
	healthInterval time.Duration

	client *http.Client
	health *healthChecker
}

// New builds a remote model. Parameters are checked here; the server is
// contacted in Load.
func New(cfg *config.ModelConfig, log logging.Logger) (*Model, error) {
	if log == nil {
		log = logging.Discard()
	}
	p := inference.Params(cfg.Params)

	raw := p.String("endpoint", "")
	if raw == "" {
		return nil, ErrNoEndpoint
	}
	endpoint, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", raw)
	}

	timeout := seconds(p.Float("timeout", 0), defaultTimeout)
	var videoPath string
	if p.Bool("video_sessions", false) {
		videoPath = p.String("video_path", defaultVideoPath)
	}

	return &Model{
		Base:        inference.NewBase(cfg),
		log:         log.WithField("backend", "remote"),
		endpoint:    endpoint,
		predictPath: p.String("predict_path", defaultPredictPath),
		healthPath:  p.String("health_path", defaultHealthPath),
		modelPath:   p.String("model_path", ""),
		timeout:     timeout,
		videoPath:   videoPath,

		healthTimeout:  seconds(p.Float("health_timeout", 0), DefaultHealthTimeout),
		healthInterval: DefaultHealthInterval,
	}, nil
}

func seconds(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

func (m *Model) resolve(path string) string {
	u := *m.endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return u.String()
}

// Load waits for the inference server to report healthy.
func (m *Model) Load(ctx context.Context) error {
	m.client = &http.Client{Timeout: m.timeout}
	m.health = &healthChecker{
		client:   &http.Client{Timeout: 5 * time.Second},
		url:      m.resolve(m.healthPath),
		timeout:  m.healthTimeout,
		interval: m.healthInterval,
	}

	m.log.Infof("Waiting for inference server at %s", m.endpoint.Redacted())
	if err := m.health.waitForReady(ctx); err != nil {
		return fmt.Errorf("inference server at %s not ready: %w", m.endpoint.Redacted(), err)
	}
	return nil
}

type predictRequest struct {
	Image     string         `json:"image"`
	Params    map[string]any `json:"params"`
	ModelPath string         `json:"model_path,omitempty"`
}

// Predict implements inference.Model.Predict.
func (m *Model) Predict(ctx context.Context, img *inference.Image, params map[string]any) (*inference.PredictResult, error) {
	if m.client == nil {
		return nil, errors.New("remote model used before Load")
	}
	if img == nil {
		return nil, fmt.Errorf("%w: image is required", inference.ErrInvalidRequest)
	}

	body, err := json.Marshal(predictRequest{
		Image:     img.Base64(),
		Params:    m.Params(params),
		ModelPath: m.modelPath,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding predict request: %w", err)
	}

	var result inference.PredictResult
	if err := m.post(ctx, m.predictPath, body, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("inference server returned an invalid shape: %w", err)
	}
	return &result, nil
}

// statusError is a non-200 reply from the inference server.
type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("inference server returned %s: %s", e.status, e.body)
}

// post sends a JSON body to path and decodes the JSON reply into out.
func (m *Model) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.resolve(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling inference server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding inference response: %w", err)
	}
	return nil
}

// Unload drops the HTTP clients. The remote server is not stopped.
func (m *Model) Unload(_ context.Context) error {
	if m.client != nil {
		m.client.CloseIdleConnections()
	}
	m.client = nil
	m.health = nil
	return nil
}

// ConcurrentPredict reports that Predict may be called concurrently.
func (m *Model) ConcurrentPredict() bool {
	return true
}
