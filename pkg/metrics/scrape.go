package metrics

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// ModelStats summarizes the prediction counters of one model as scraped from
// a running server.
type ModelStats struct {
	Model       string
	Successes   uint64
	Failures    uint64
	MeanLatency float64
}

// Scrape fetches a server's metrics endpoint and returns per-model
// prediction statistics sorted by model id.
func Scrape(ctx context.Context, client *http.Client, url string) ([]ModelStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching metrics: unexpected status %s", resp.Status)
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing metrics: %w", err)
	}
	return summarize(families), nil
}

func summarize(families map[string]*dto.MetricFamily) []ModelStats {
	byModel := map[string]*ModelStats{}
	get := func(m *dto.Metric) *ModelStats {
		id := label(m, "model")
		s, ok := byModel[id]
		if !ok {
			s = &ModelStats{Model: id}
			byModel[id] = s
		}
		return s
	}

	if f, ok := families[namespace+"_predictions_total"]; ok {
		for _, m := range f.GetMetric() {
			s := get(m)
			n := uint64(m.GetCounter().GetValue())
			if label(m, "result") == ResultFailure {
				s.Failures += n
			} else {
				s.Successes += n
			}
		}
	}
	if f, ok := families[namespace+"_prediction_duration_seconds"]; ok {
		for _, m := range f.GetMetric() {
			h := m.GetHistogram()
			if h.GetSampleCount() > 0 {
				get(m).MeanLatency = h.GetSampleSum() / float64(h.GetSampleCount())
			}
		}
	}

	out := make([]ModelStats, 0, len(byModel))
	for _, s := range byModel {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b ModelStats) int {
		return cmp.Compare(a.Model, b.Model)
	})
	return out
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
