package node

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Readiness probe defaults.
const (
	DefaultHealthPath           = "/v1/shinkai_health"
	DefaultHealthTimeout        = 5 * time.Second
	DefaultHealthRequestTimeout = 250 * time.Millisecond
	DefaultPollInterval         = 50 * time.Millisecond
)

// waitForReady races the health poller against the readiness deadline.
// It returns how long the node took to answer, or a *ReadinessTimeoutError
// once HealthTimeout has elapsed. The poller is cancelled on return.
func (s *Supervisor) waitForReady(ctx context.Context, baseURL string) (time.Duration, error) {
	start := time.Now()
	url := baseURL + s.cfg.HealthPath

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan struct{})
	go func() {
		if s.pollHealth(pollCtx, url) {
			close(ready)
		}
	}()

	deadline := time.NewTimer(s.cfg.HealthTimeout)
	defer deadline.Stop()

	select {
	case <-ready:
		return time.Since(start), nil
	case <-deadline.C:
		return time.Since(start), &ReadinessTimeoutError{Elapsed: time.Since(start)}
	case <-ctx.Done():
		return time.Since(start), fmt.Errorf("waiting for node readiness: %w", ctx.Err())
	}
}

// pollHealth probes url until it answers 200 or ctx is cancelled.
// There is no retry cap.
func (s *Supervisor) pollHealth(ctx context.Context, url string) bool {
	for {
		if s.probe(ctx, url) {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// probe issues one health request bounded by HealthRequestTimeout.
// Any failure means "not ready yet".
func (s *Supervisor) probe(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		s.logger.Debug("building health request", "url", url, "error", err)
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("health probe failed", "url", url, "error", err)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("health probe not ok", "url", url, "status", resp.StatusCode)
		return false
	}
	return true
}
