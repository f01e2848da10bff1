package inference

// ModelsPath lists the metadata of every loaded model.
const ModelsPath = "/v1/models"

// PredictPath runs a prediction against one loaded model.
const PredictPath = "/v1/predict"

// HealthPath reports liveness and the loaded model count.
const HealthPath = "/health"

// MetricsPath exposes Prometheus metrics when enabled.
const MetricsPath = "/metrics"

// RequestIDHeader carries the per-request correlation id. A client supplied
// value is echoed back; otherwise the server generates one.
const RequestIDHeader = "X-Request-Id"

// VideoInitPath opens a video session on a model.
const VideoInitPath = "/v1/video/init"

// VideoPromptPath adds a prompt to a frame of a video session.
const VideoPromptPath = "/v1/video/prompt"

// VideoPropagatePath propagates session prompts across frames.
const VideoPropagatePath = "/v1/video/propagate"
