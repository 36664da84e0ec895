// Package network builds the HTTP clients used to reach ledger nodes.
package network

import (
	"net/http"
	"time"

	"github.com/sharding-experiment/facilitator/config"
)

// NewHTTPClient creates a JSON-RPC HTTP client with optional latency
// simulation. A zero timeout falls back to cfg.Timeout().
func NewHTTPClient(cfg config.NetworkConfig, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport

	if cfg.DelayEnabled {
		transport = NewDelayedRoundTripper(transport, DelayConfig{
			Enabled:  true,
			MinDelay: time.Duration(cfg.MinDelayMs) * time.Millisecond,
			MaxDelay: time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		})
	}
	if timeout == 0 {
		timeout = cfg.Timeout()
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
