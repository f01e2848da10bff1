// Package metrics records model lifecycle and prediction metrics in a
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "model_server"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Tracker owns a private registry so that several servers can coexist in one
// process, as they do in tests. A nil *Tracker discards everything.
type Tracker struct {
	registry *prometheus.Registry

	loads          *prometheus.CounterVec
	loadDuration   *prometheus.HistogramVec
	modelsLoaded   prometheus.Gauge
	predictions    *prometheus.CounterVec
	predictLatency *prometheus.HistogramVec
	unloads        *prometheus.CounterVec
}

// NewTracker registers the server metrics together with the Go runtime and
// process collectors.
func NewTracker() *Tracker {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Tracker{
		registry: reg,
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by model and outcome stage.",
		}, []string{"model", "stage", "result"}),
		loadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading a model.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"model"}),
		modelsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "models_loaded",
			Help:      "Number of models currently loaded.",
		}),
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions served by model and result.",
		}, []string{"model", "result"}),
		predictLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Prediction latency by model.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		unloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_unloads_total",
			Help:      "Model unloads by model and result.",
		}, []string{"model", "result"}),
	}
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// ObserveLoad records the outcome of one model's load pipeline. stage names
// the step that failed, or "load" on success.
func (t *Tracker) ObserveLoad(model, stage string, err error, d time.Duration) {
	if t == nil {
		return
	}
	t.loads.WithLabelValues(model, stage, result(err)).Inc()
	if err == nil {
		t.loadDuration.WithLabelValues(model).Observe(d.Seconds())
	}
}

// SetLoaded sets the loaded model gauge.
func (t *Tracker) SetLoaded(n int) {
	if t == nil {
		return
	}
	t.modelsLoaded.Set(float64(n))
}

// ObservePredict records one prediction.
func (t *Tracker) ObservePredict(model string, err error, d time.Duration) {
	if t == nil {
		return
	}
	t.predictions.WithLabelValues(model, result(err)).Inc()
	t.predictLatency.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveUnload records one unload.
func (t *Tracker) ObserveUnload(model string, err error) {
	if t == nil {
		return
	}
	t.unloads.WithLabelValues(model, result(err)).Inc()
}

// Registry returns the underlying registry.
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}
