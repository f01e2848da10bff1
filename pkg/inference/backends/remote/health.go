package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultHealthTimeout is the maximum time Load waits for the server.
	DefaultHealthTimeout = 2 * time.Minute
	// DefaultHealthInterval is the interval between health checks.
	DefaultHealthInterval = 2 * time.Second
)

// healthChecker polls an inference server until it reports ready.
type healthChecker struct {
	client   *http.Client
	url      string
	timeout  time.Duration
	interval time.Duration
}

// waitForReady returns once the health endpoint answers with a 2xx status,
// the timeout elapses or ctx is done.
func (h *healthChecker) waitForReady(ctx context.Context) error {
	if h.check(ctx) {
		return nil
	}

	deadline := time.Now().Add(h.timeout)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if h.check(ctx) {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("health check timeout after %v", h.timeout)
			}
		}
	}
}

func (h *healthChecker) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
