package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/internal/utils"
	"github.com/labelkit/model-server/pkg/logging"
	"github.com/labelkit/model-server/pkg/middleware"
)

// maximumPredictRequestSize bounds the request body, which carries a base64
// encoded image.
const maximumPredictRequestSize = 50 * 1024 * 1024

// PredictRequest is the body of a prediction request.
type PredictRequest struct {
	Model  string         `json:"model"`
	Image  string         `json:"image"`
	Params map[string]any `json:"params"`
}

// VideoInitRequest is the body of a video session initialization.
type VideoInitRequest struct {
	Model           string   `json:"model"`
	Frames          []string `json:"frames"`
	StartFrameIndex int      `json:"start_frame_index"`
}

// VideoPromptRequest is the body of a video frame prompt.
type VideoPromptRequest struct {
	SessionID   string         `json:"session_id"`
	Model       string         `json:"model"`
	TextPrompt  *string        `json:"text_prompt"`
	FrameIndex  int            `json:"frame_index"`
	Points      [][]float64    `json:"points"`
	PointLabels []int          `json:"point_labels"`
	ObjID       *int           `json:"obj_id"`
	Params      map[string]any `json:"params"`
}

// VideoPropagateRequest is the body of a video propagation.
type VideoPropagateRequest struct {
	SessionID  string `json:"session_id"`
	Model      string `json:"model"`
	StartFrame *int   `json:"start_frame"`
	EndFrame   *int   `json:"end_frame"`
}

// ModelsResponse is the body of a model listing.
type ModelsResponse struct {
	Models map[string]inference.Metadata `json:"models"`
}

// HealthResponse is the body of a health check.
type HealthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded int    `json:"models_loaded"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HTTPHandler serves the registry over HTTP.
type HTTPHandler struct {
	registry    *Registry
	log         logging.Logger
	router      *http.ServeMux
	httpHandler http.Handler
	lock        sync.RWMutex
}

// NewHTTPHandler creates the handler. allowedOrigins configures CORS; an
// empty list disables it.
func NewHTTPHandler(r *Registry, log logging.Logger, allowedOrigins []string) *HTTPHandler {
	if log == nil {
		log = logging.Discard()
	}
	h := &HTTPHandler{
		registry: r,
		log:      log.WithField("component", "http"),
		router:   http.NewServeMux(),
	}

	h.router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, http.StatusNotFound, "not found")
	})
	for route, handler := range h.routeHandlers() {
		h.router.HandleFunc(route, handler)
	}

	h.RebuildRoutes(allowedOrigins)
	return h
}

func (h *HTTPHandler) routeHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"GET " + inference.ModelsPath:   h.ListModels,
		"POST " + inference.PredictPath: h.Predict,
		"GET " + inference.HealthPath:   h.Health,

		"POST " + inference.VideoInitPath:      h.VideoInit,
		"POST " + inference.VideoPromptPath:    h.VideoPrompt,
		"POST " + inference.VideoPropagatePath: h.VideoPropagate,
	}
}

// Handle registers an additional route, such as the metrics endpoint.
func (h *HTTPHandler) Handle(pattern string, handler http.Handler) {
	h.router.Handle(pattern, handler)
}

// ListModels handles GET /v1/models.
func (h *HTTPHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, ModelsResponse{Models: h.registry.GetAllMetadata()})
}

// Health handles GET /health.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{Status: "healthy", ModelsLoaded: h.registry.Len()})
}

// decodeBody reads a size-limited JSON body into v. On failure it writes the
// error reply and returns false.
func (h *HTTPHandler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maximumPredictRequestSize))
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "request too large")
		} else {
			h.writeError(w, r, http.StatusInternalServerError, "failed to read request body")
		}
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// Predict handles POST /v1/predict.
func (h *HTTPHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var request PredictRequest
	if !h.decodeBody(w, r, &request) {
		return
	}
	if request.Model == "" {
		h.writeError(w, r, http.StatusBadRequest, "model is required")
		return
	}
	if request.Image == "" {
		h.writeError(w, r, http.StatusBadRequest, "image is required")
		return
	}

	img, err := inference.DecodeBase64Image(request.Image)
	if err != nil {
		h.writeFailure(w, r, request.Model, err)
		return
	}

	result, err := h.registry.Predict(r.Context(), request.Model, img, request.Params)
	if err != nil {
		h.writeFailure(w, r, request.Model, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

// VideoInit handles POST /v1/video/init.
func (h *HTTPHandler) VideoInit(w http.ResponseWriter, r *http.Request) {
	var request VideoInitRequest
	if !h.decodeBody(w, r, &request) {
		return
	}
	if request.Model == "" {
		h.writeError(w, r, http.StatusBadRequest, "model is required")
		return
	}

	req := &inference.VideoInit{StartFrameIndex: request.StartFrameIndex}
	for i, frame := range request.Frames {
		img, err := inference.DecodeBase64Image(frame)
		if err != nil {
			h.writeFailure(w, r, request.Model, fmt.Errorf("frame %d: %w", i, err))
			return
		}
		req.Frames = append(req.Frames, img)
	}

	session, err := h.registry.InitVideoSession(r.Context(), request.Model, req)
	if err != nil {
		h.writeFailure(w, r, request.Model, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, session)
}

// VideoPrompt handles POST /v1/video/prompt.
func (h *HTTPHandler) VideoPrompt(w http.ResponseWriter, r *http.Request) {
	var request VideoPromptRequest
	if !h.decodeBody(w, r, &request) {
		return
	}
	if request.Model == "" {
		h.writeError(w, r, http.StatusBadRequest, "model is required")
		return
	}

	req := &inference.VideoPrompt{
		SessionID:   request.SessionID,
		FrameIndex:  request.FrameIndex,
		Points:      request.Points,
		PointLabels: request.PointLabels,
		ObjectID:    request.ObjID,
		Params:      request.Params,
	}
	if request.TextPrompt != nil {
		req.TextPrompt = *request.TextPrompt
	}
	frame, err := h.registry.PromptVideoSession(r.Context(), request.Model, req)
	if err != nil {
		h.writeFailure(w, r, request.Model, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, frame)
}

// VideoPropagate handles POST /v1/video/propagate.
func (h *HTTPHandler) VideoPropagate(w http.ResponseWriter, r *http.Request) {
	var request VideoPropagateRequest
	if !h.decodeBody(w, r, &request) {
		return
	}
	if request.Model == "" {
		h.writeError(w, r, http.StatusBadRequest, "model is required")
		return
	}

	result, err := h.registry.PropagateVideoSession(r.Context(), request.Model, &inference.VideoPropagate{
		SessionID:  request.SessionID,
		StartFrame: request.StartFrame,
		EndFrame:   request.EndFrame,
	})
	if err != nil {
		h.writeFailure(w, r, request.Model, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

// statusFor maps an error class to an HTTP status.
func statusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsNotImplemented(err):
		return http.StatusNotImplemented
	case errdefs.IsCanceled(err):
		return http.StatusServiceUnavailable
	case errdefs.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeFailure(w http.ResponseWriter, r *http.Request, model string, err error) {
	status := statusFor(err)
	log := h.log.WithField("model", utils.SanitizeForLog(model)).
		WithField("request_id", middleware.RequestIDFromContext(r.Context()))
	if status >= http.StatusInternalServerError {
		log.Errorf("Prediction failed: %v", err)
		h.writeError(w, r, status, fmt.Sprintf("prediction failed: %v", err))
		return
	}
	log.Debugf("Prediction rejected: %v", err)
	h.writeError(w, r, status, err.Error())
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, ErrorResponse{Error: msg, RequestID: middleware.RequestIDFromContext(r.Context())})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, _ *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnf("Failed to encode response: %v", err)
	}
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	h.httpHandler.ServeHTTP(w, r)
}

// RebuildRoutes updates the HTTP routes with new allowed origins.
func (h *HTTPHandler) RebuildRoutes(allowedOrigins []string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.httpHandler = middleware.RequestID(inference.RequestIDHeader,
		middleware.CorsMiddleware(allowedOrigins, h.router))
}
