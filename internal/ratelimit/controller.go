package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"QuotePull/pkg/logger"
)

// ScopeGlobal gates the aggregate request rate across all proxies. Per-proxy
// scopes use the proxy address. Upstream abuse detection can key on either,
// so a request must clear both gates.
const ScopeGlobal = "global"

// Config holds interval tuning shared by every scope.
type Config struct {
	Baseline   time.Duration // minimum spacing between requests in a scope
	Max        time.Duration // ceiling the interval can grow to under backpressure
	DecayAfter int           // consecutive successes before the interval halves
}

type scopeState struct {
	limiter   *rate.Limiter
	interval  time.Duration
	successes int
}

// Controller enforces minimum inter-request spacing per scope. Admission
// blocking happens inside rate.Limiter.Wait, never while holding the
// controller mutex, so one slow scope does not serialize the others.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	scopes map[string]*scopeState
	logger *logger.Logger
}

func New(cfg Config, lgr *logger.Logger) *Controller {
	if cfg.Baseline <= 0 {
		cfg.Baseline = 2 * time.Second
	}
	if cfg.Max < cfg.Baseline {
		cfg.Max = 30 * cfg.Baseline
	}
	if cfg.DecayAfter <= 0 {
		cfg.DecayAfter = 10
	}
	return &Controller{
		cfg:    cfg,
		scopes: make(map[string]*scopeState),
		logger: lgr,
	}
}

func (c *Controller) scope(name string) *scopeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.scopes[name]
	if !ok {
		s = &scopeState{
			limiter:  rate.NewLimiter(rate.Every(c.cfg.Baseline), 1),
			interval: c.cfg.Baseline,
		}
		c.scopes[name] = s
	}
	return s
}

// Wait blocks until the scope admits one request, then records the admission.
func (c *Controller) Wait(ctx context.Context, scope string) error {
	return c.scope(scope).limiter.Wait(ctx)
}

// WaitBoth clears the global gate and then the per-proxy gate. Both must pass
// before any network call is issued.
func (c *Controller) WaitBoth(ctx context.Context, proxyScope string) error {
	if err := c.Wait(ctx, ScopeGlobal); err != nil {
		return err
	}
	return c.Wait(ctx, proxyScope)
}

// ReportBackpressure doubles the scope's interval up to the ceiling. Called
// when upstream signals rate-limiting or a ban.
func (c *Controller) ReportBackpressure(scope string) {
	s := c.scope(scope)
	c.mu.Lock()
	defer c.mu.Unlock()

	next := s.interval * 2
	if next > c.cfg.Max {
		next = c.cfg.Max
	}
	if next != s.interval {
		s.interval = next
		s.limiter.SetLimit(rate.Every(next))
		c.logger.Warn("rate interval raised",
			logger.String("scope", scope),
			logger.Duration("interval", next))
	}
	s.successes = 0
}

// ReportSuccess counts a clean request. After DecayAfter consecutive
// successes with no backpressure the interval halves toward the baseline.
func (c *Controller) ReportSuccess(scope string) {
	s := c.scope(scope)
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.interval <= c.cfg.Baseline {
		return
	}
	s.successes++
	if s.successes < c.cfg.DecayAfter {
		return
	}
	s.successes = 0
	next := s.interval / 2
	if next < c.cfg.Baseline {
		next = c.cfg.Baseline
	}
	s.interval = next
	s.limiter.SetLimit(rate.Every(next))
	c.logger.Info("rate interval decayed",
		logger.String("scope", scope),
		logger.Duration("interval", next))
}

// Interval reports the current spacing for a scope.
func (c *Controller) Interval(scope string) time.Duration {
	s := c.scope(scope)
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.interval
}
