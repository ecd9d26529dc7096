package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aistackops/aikit/cmd/aikit/config"
	"github.com/aistackops/aikit/pkg/logging"
)

// HTTPDoer is the request seam; *http.Client satisfies it and tests
// inject fakes.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HealthStatus is the observed state of one service endpoint.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

// ServiceEndpoint is one HTTP health target.
type ServiceEndpoint struct {
	ServiceName string
	URL         string
}

// HealthCheckResult is the outcome of probing one endpoint.
type HealthCheckResult struct {
	ServiceName   string
	URL           string
	Status        HealthStatus
	Attempts      int
	LastError     string
	LastCheckedAt time.Time
}

// HealthChecker probes service endpoints after a deployment. Checks
// are advisory: an unhealthy service is reported, never treated as a
// deployment failure, since slow model pulls routinely outlast any
// reasonable wait.
type HealthChecker struct {
	client HTTPDoer
	logger *logging.Logger

	MaxAttempts    int
	InitialBackoff time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// NewHealthChecker builds a checker with a 10s connect timeout and a
// 15s total request timeout.
func NewHealthChecker(logger *logging.Logger) *HealthChecker {
	client := &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		},
	}
	return &HealthChecker{
		client:         client,
		logger:         logger,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		sleep:          time.Sleep,
		now:            time.Now,
	}
}

// ConfigureFromView applies the health tuning of a resolved
// deployment: attempt count, backoff, and the two timeout knobs.
func (h *HealthChecker) ConfigureFromView(view *config.View) {
	h.MaxAttempts = view.HealthMaxAttempts
	h.InitialBackoff = view.HealthInitialBackoff
	h.client = &http.Client{
		Timeout: view.HealthTotalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: view.HealthConnectTimeout}).DialContext,
		},
	}
}

// Endpoints builds the health targets for every enabled service on
// host from the resolved deployment view.
func Endpoints(view *config.View, host string) []ServiceEndpoint {
	endpoints := make([]ServiceEndpoint, 0, len(view.Services))
	for _, svc := range view.Services {
		endpoints = append(endpoints, ServiceEndpoint{
			ServiceName: svc.Name,
			URL:         fmt.Sprintf("http://%s:%d%s", host, svc.Port, svc.HealthPath),
		})
	}
	return endpoints
}

// CheckService probes one endpoint with increasing backoff between
// attempts. Any 2xx response is healthy; exhausting the attempts
// yields unhealthy with the last error recorded.
func (h *HealthChecker) CheckService(ctx context.Context, endpoint ServiceEndpoint) HealthCheckResult {
	result := HealthCheckResult{
		ServiceName: endpoint.ServiceName,
		URL:         endpoint.URL,
		Status:      StatusUnknown,
	}

	backoff := h.InitialBackoff
	for attempt := 1; attempt <= h.MaxAttempts; attempt++ {
		result.Attempts = attempt
		result.LastCheckedAt = h.now()

		if err := ctx.Err(); err != nil {
			result.Status = StatusUnknown
			result.LastError = err.Error()
			return result
		}

		err := h.probe(ctx, endpoint.URL)
		if err == nil {
			result.Status = StatusHealthy
			result.LastError = ""
			h.logger.Info("service healthy", "service", endpoint.ServiceName, "attempt", attempt)
			return result
		}
		result.Status = StatusUnhealthy
		result.LastError = err.Error()
		h.logger.Debug("health probe failed",
			"service", endpoint.ServiceName,
			"attempt", attempt,
			"error", err,
		)

		if attempt < h.MaxAttempts {
			h.sleep(backoff)
			backoff *= 2
		}
	}

	h.logger.Warn("service unhealthy after all attempts",
		"service", endpoint.ServiceName,
		"attempts", result.Attempts,
		"last_error", result.LastError,
	)
	return result
}

// CheckAll probes every endpoint concurrently and reports whether all
// came back healthy. Unhealthy services never produce an error.
func (h *HealthChecker) CheckAll(ctx context.Context, endpoints []ServiceEndpoint) ([]HealthCheckResult, bool) {
	results := make([]HealthCheckResult, len(endpoints))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			result := h.CheckService(gctx, endpoint)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	allHealthy := len(results) > 0
	for _, r := range results {
		if r.Status != StatusHealthy {
			allHealthy = false
		}
	}
	return results, allHealthy
}

func (h *HealthChecker) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
