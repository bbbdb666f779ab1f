package pipelines

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// CachedProbe wraps a Runner to cache ffmpeg probe results with a configurable TTL.
// This avoids spawning `ffmpeg -version` on every status request.
type CachedProbe struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedProbe creates a caching wrapper around ffmpeg probes.
func NewCachedProbe(runner Runner, logger *slog.Logger) *CachedProbe {
	return &CachedProbe{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (p *CachedProbe) Get(ctx context.Context) (*Capabilities, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

func (p *CachedProbe) Peek() *Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (p *CachedProbe) Refresh(ctx context.Context) (*Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps, err := p.runner.Probe(ctx)
	if err != nil {
		p.logger.Warn("ffmpeg probe failed", "error", err)
		// Return stale cache if available
		if p.cached != nil && p.cached.Available {
			p.logger.Info("returning stale probe cache")
			return p.cached, nil
		}
		if caps != nil {
			p.cached = caps
		}
		return caps, err
	}

	p.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (p *CachedProbe) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}
