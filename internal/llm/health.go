package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthTracker holds the fallback state of external APIs. An API enters
// fallback when its retry budget is exhausted and leaves it when a probe
// succeeds. Reads are cheap; the dissonance engine consults the tracker
// before every batch.
type HealthTracker struct {
	mu     sync.Mutex
	down   map[string]time.Time
	logger *slog.Logger
	now    func() time.Time
}

// NewHealthTracker creates an all-healthy tracker.
func NewHealthTracker(logger *slog.Logger) *HealthTracker {
	return &HealthTracker{
		down:   make(map[string]time.Time),
		logger: logger,
		now:    time.Now,
	}
}

// MarkDown flips the API into fallback. Idempotent: the original entry time
// is kept across repeated failures.
func (t *HealthTracker) MarkDown(api string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.down[api]; ok {
		return
	}
	t.down[api] = t.now().UTC()
	t.logger.Warn("llm: entering fallback", "api", api)
}

// MarkUp clears fallback for the API.
func (t *HealthTracker) MarkUp(api string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if since, ok := t.down[api]; ok {
		delete(t.down, api)
		t.logger.Info("llm: recovered from fallback", "api", api, "down_for", t.now().UTC().Sub(since))
	}
}

// IsDown reports whether the API is in fallback.
func (t *HealthTracker) IsDown(api string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.down[api]
	return ok
}

// Snapshot returns the fallback map for the status resource.
func (t *HealthTracker) Snapshot() map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Time, len(t.down))
	for api, since := range t.down {
		out[api] = since
	}
	return out
}

// RunProbes probes every downed API on the given interval until ctx is
// cancelled. Each probe gets its own timeout so a hung API cannot stall the
// loop. Healthy APIs are never probed.
func (t *HealthTracker) RunProbes(ctx context.Context, interval, timeout time.Duration, probes map[string]func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for api, probe := range probes {
			if !t.IsDown(api) {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			err := probe(probeCtx)
			cancel()
			if err != nil {
				t.logger.Debug("llm: health probe still failing", "api", api, "error", err)
				continue
			}
			t.MarkUp(api)
		}
	}
}
