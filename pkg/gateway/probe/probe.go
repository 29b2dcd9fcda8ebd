// Package probe waits for a freshly started worker to become reachable.
package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"k8s.io/klog/v2"
)

type Prober interface {
	// WaitHealthy polls the worker's health endpoint until it reports ok or
	// the total timeout elapses. Individual probe failures are expected while
	// the worker boots; only the deadline is terminal.
	WaitHealthy(ctx context.Context, baseURL string) error
}

type HTTPProber struct {
	Interval time.Duration
	Timeout  time.Duration

	client *http.Client
}

func NewHTTPProber(interval, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		Interval: interval,
		Timeout:  timeout,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (p *HTTPProber) WaitHealthy(ctx context.Context, baseURL string) error {
	log := klog.FromContext(ctx)
	deadline, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if p.probeOnce(deadline, baseURL) {
			log.V(4).Info("worker passed health check", "url", baseURL)
			return nil
		}
		select {
		case <-deadline.Done():
			return deadline.Err()
		case <-ticker.C:
		}
	}
}

func (p *HTTPProber) probeOnce(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == "ok"
}
