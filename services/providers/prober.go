package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/upb/provider-orchestrator/internal/concurrency"
	"github.com/upb/provider-orchestrator/services"
)

var (
	// ErrProberBusy is returned when no HTTP client could be borrowed in time
	ErrProberBusy = errors.New("prober has no free client")

	// ErrProbeThrottled is returned when the per-provider limiter has no token
	// before the probe deadline
	ErrProbeThrottled = errors.New("probe rate limit exceeded")
)

// IsProbeSkipped reports whether a probe error was raised locally before the
// provider was contacted. Such errors say nothing about provider health.
func IsProbeSkipped(err error) bool {
	return errors.Is(err, ErrProbeThrottled) || errors.Is(err, ErrProberBusy)
}

// ProberConfig holds HTTP prober settings
type ProberConfig struct {
	// Timeout bounds a single probe including client acquisition
	Timeout time.Duration

	// MaxClients caps the number of pooled HTTP clients
	MaxClients int

	// RatePerSecond bounds probes per provider; zero disables limiting
	RatePerSecond float64

	// Burst is the limiter bucket size
	Burst int
}

// DefaultProberConfig returns a sensible default configuration
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Timeout:       5 * time.Second,
		MaxClients:    8,
		RatePerSecond: 1,
		Burst:         1,
	}
}

// HTTPProber checks provider liveness with a GET against the capability probe path
type HTTPProber struct {
	config   ProberConfig
	clients  *concurrency.ResourcePool[*http.Client]
	limiters *concurrency.ConcurrentMap[string, *rate.Limiter]
	logger   *zap.Logger
}

// NewHTTPProber creates a prober with a pool of HTTP clients
func NewHTTPProber(config ProberConfig, logger *zap.Logger) *HTTPProber {
	if config.Timeout <= 0 {
		config.Timeout = DefaultProberConfig().Timeout
	}
	if config.MaxClients <= 0 {
		config.MaxClients = DefaultProberConfig().MaxClients
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	timeout := config.Timeout
	factory := func() (*http.Client, error) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		return &http.Client{Timeout: timeout, Transport: transport}, nil
	}
	destroy := func(c *http.Client) {
		c.CloseIdleConnections()
	}

	return &HTTPProber{
		config:   config,
		clients:  concurrency.NewResourcePool(config.MaxClients, factory, destroy),
		limiters: concurrency.NewConcurrentMap[string, *rate.Limiter](),
		logger:   logger,
	}
}

// Probe performs one health probe and returns the observed response time.
// Only a 2xx response counts as success; provider failures are reported as
// ErrProviderProbeFailed wrapping a *ProviderError.
func (p *HTTPProber) Probe(ctx context.Context, provider Provider) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if err := p.limiter(provider.ID).Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrProbeThrottled, provider.ID, err)
	}

	client, ok := p.clients.AcquireBlocking(p.config.Timeout)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProberBusy, provider.ID)
	}
	defer p.clients.Release(client)

	rt, err := p.do(ctx, client, provider)
	if err != nil {
		return rt, services.ErrProviderProbeFailed.Wrap(err).WithDetail("provider_id", provider.ID)
	}
	return rt, nil
}

func (p *HTTPProber) do(ctx context.Context, client *http.Client, provider Provider) (time.Duration, error) {
	capability := CapabilityFor(provider.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, capability.ProbeURL(provider.Endpoint), nil)
	if err != nil {
		return 0, NewProviderError(provider.ID, "REQUEST_ERROR", "failed to create probe request", 0, false, err)
	}
	req.Header.Set("Accept", "application/json")
	capability.Apply(req, provider.Credential)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, NewProviderError(provider.ID, "HTTP_ERROR", "probe request failed", 0, true, err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return elapsed, NewProviderError(provider.ID, "PROBE_STATUS",
			fmt.Sprintf("probe returned status %d", resp.StatusCode), resp.StatusCode, retryable, nil)
	}

	p.logger.Debug("provider probe succeeded",
		zap.String("provider_id", provider.ID),
		zap.Duration("response_time", elapsed),
	)

	return elapsed, nil
}

// Stats returns the client pool occupancy
func (p *HTTPProber) Stats() concurrency.PoolStats {
	return p.clients.Stats()
}

// Close releases every pooled client
func (p *HTTPProber) Close() {
	p.clients.Destroy()
}

func (p *HTTPProber) limiter(providerID string) *rate.Limiter {
	if l, ok := p.limiters.Get(providerID); ok {
		return l
	}

	limit := rate.Inf
	if p.config.RatePerSecond > 0 {
		limit = rate.Limit(p.config.RatePerSecond)
	}
	l, _ := p.limiters.SetIfAbsent(providerID, rate.NewLimiter(limit, p.config.Burst))
	return l
}
