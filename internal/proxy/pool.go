package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"QuotePull/pkg/logger"
)

// Outcome is the caller's verdict on a checked-out endpoint.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSoftFailure
	OutcomeBanned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSoftFailure:
		return "soft_failure"
	case OutcomeBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// ErrNoProxyAvailable is returned when the whole pool is cooling down or
// saturated and the checkout wait budget ran out.
var ErrNoProxyAvailable = errors.New("no proxy available")

const (
	healthInitial   = 1.0
	healthRecovery  = 0.1
	healthDecay     = 0.7
	healthBanFloor  = 0.05
	checkoutTick    = 100 * time.Millisecond
)

// Endpoint is one outbound proxy. All mutable state is owned by the Pool and
// only ever touched under the pool mutex.
type Endpoint struct {
	Address string
	url     *url.URL

	health        float64
	consecFails   int
	backoffLevel  int
	cooldownUntil time.Time
	lastUsed      time.Time
	inFlight      int
}

// URL returns the proxy URL for transport configuration.
func (e *Endpoint) URL() *url.URL { return e.url }

// Status is a read-only snapshot of one endpoint for reporting.
type Status struct {
	Address       string    `json:"address"`
	Health        float64   `json:"health"`
	ConsecFails   int       `json:"consec_fails"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	InCooldown    bool      `json:"in_cooldown"`
	InFlight      int       `json:"in_flight"`
	LastUsed      time.Time `json:"last_used,omitempty"`
}

// Config holds pool tuning.
type Config struct {
	Endpoints        []string
	MaxInFlight      int           // concurrent uses per endpoint
	CheckoutTimeout  time.Duration // bounded wait before ErrNoProxyAvailable
	FailureThreshold int           // consecutive soft failures before cooldown
	SoftCooldown     time.Duration // base cooldown, doubles per repeat
	SoftCooldownMax  time.Duration
	BanCooldown      time.Duration // fixed, longer than any soft cooldown
}

// Pool hands out proxies by health score and absorbs outcome reports.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	cfg       Config
	logger    *logger.Logger
	released  chan struct{}
	now       func() time.Time
}

// New builds a pool from configured endpoints. An empty endpoint list is a
// fatal misconfiguration, not a degraded state.
func New(cfg Config, lgr *logger.Logger) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("proxy pool: no endpoints configured")
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SoftCooldown <= 0 {
		cfg.SoftCooldown = 30 * time.Second
	}
	if cfg.SoftCooldownMax <= 0 {
		cfg.SoftCooldownMax = 10 * time.Minute
	}
	if cfg.BanCooldown <= 0 {
		cfg.BanCooldown = 30 * time.Minute
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = 30 * time.Second
	}

	eps := make([]*Endpoint, 0, len(cfg.Endpoints))
	for _, addr := range cfg.Endpoints {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("proxy pool: bad endpoint %q: %w", addr, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy pool: endpoint %q needs scheme and host", addr)
		}
		eps = append(eps, &Endpoint{Address: addr, url: u, health: healthInitial})
	}

	return &Pool{
		endpoints: eps,
		cfg:       cfg,
		logger:    lgr,
		released:  make(chan struct{}, 1),
		now:       time.Now,
	}, nil
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int { return len(p.endpoints) }

// MaxInFlight returns the per-endpoint concurrency cap.
func (p *Pool) MaxInFlight() int { return p.cfg.MaxInFlight }

// Checkout returns the healthiest endpoint not in cooldown, waiting up to the
// configured checkout timeout for one to free up. Callers must Release.
func (p *Pool) Checkout(ctx context.Context) (*Endpoint, error) {
	return p.CheckoutExcept(ctx, "")
}

// CheckoutExcept behaves like Checkout but skips the named address when any
// alternative exists, so a retry never lands straight back on the proxy that
// just failed it.
func (p *Pool) CheckoutExcept(ctx context.Context, exclude string) (*Endpoint, error) {
	deadline := p.now().Add(p.cfg.CheckoutTimeout)
	ticker := time.NewTicker(checkoutTick)
	defer ticker.Stop()

	for {
		if ep := p.tryCheckout(exclude); ep != nil {
			return ep, nil
		}
		if p.now().After(deadline) {
			return nil, ErrNoProxyAvailable
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.released:
		case <-ticker.C:
			// cooldowns expire on wall clock, not on release
		}
	}
}

func (p *Pool) tryCheckout(exclude string) *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best *Endpoint
	usable := 0
	for _, ep := range p.endpoints {
		if ep.cooldownUntil.After(now) || ep.inFlight >= p.cfg.MaxInFlight {
			continue
		}
		usable++
		if ep.Address == exclude {
			continue
		}
		if best == nil || betterThan(ep, best) {
			best = ep
		}
	}
	// Excluded endpoint is still usable when it is the only one left.
	if best == nil && usable > 0 && exclude != "" {
		for _, ep := range p.endpoints {
			if ep.Address == exclude && !ep.cooldownUntil.After(now) && ep.inFlight < p.cfg.MaxInFlight {
				best = ep
				break
			}
		}
	}
	if best == nil {
		return nil
	}
	best.inFlight++
	best.lastUsed = now
	return best
}

// betterThan orders by health score, least-recently-used on near ties.
func betterThan(a, b *Endpoint) bool {
	const eps = 1e-9
	if a.health > b.health+eps {
		return true
	}
	if b.health > a.health+eps {
		return false
	}
	return a.lastUsed.Before(b.lastUsed)
}

// Release reports the outcome of one use and frees the in-flight slot.
func (p *Pool) Release(ep *Endpoint, outcome Outcome) {
	p.mu.Lock()

	if ep.inFlight > 0 {
		ep.inFlight--
	}

	now := p.now()
	switch outcome {
	case OutcomeSuccess:
		ep.health += healthRecovery
		if ep.health > healthInitial {
			ep.health = healthInitial
		}
		ep.consecFails = 0
		ep.backoffLevel = 0

	case OutcomeSoftFailure:
		ep.health *= healthDecay
		ep.consecFails++
		if ep.consecFails >= p.cfg.FailureThreshold {
			d := p.cfg.SoftCooldown
			for i := 0; i < ep.backoffLevel && d < p.cfg.SoftCooldownMax; i++ {
				d *= 2
			}
			if d > p.cfg.SoftCooldownMax {
				d = p.cfg.SoftCooldownMax
			}
			ep.cooldownUntil = now.Add(d)
			ep.backoffLevel++
			ep.consecFails = 0
			p.logger.Warn("proxy cooling down",
				logger.String("proxy", ep.Address),
				logger.Duration("cooldown", d),
				logger.Float64("health", ep.health))
		}

	case OutcomeBanned:
		// A ban burns the source IP for far longer than a flaky socket does.
		ep.health = healthBanFloor
		ep.consecFails = 0
		ep.cooldownUntil = now.Add(p.cfg.BanCooldown)
		p.logger.Warn("proxy banned upstream",
			logger.String("proxy", ep.Address),
			logger.Duration("cooldown", p.cfg.BanCooldown))
	}
	p.mu.Unlock()

	select {
	case p.released <- struct{}{}:
	default:
	}
}

// Return frees the in-flight slot without judging the endpoint. Used when the
// caller was cancelled before the proxy carried any traffic.
func (p *Pool) Return(ep *Endpoint) {
	p.mu.Lock()
	if ep.inFlight > 0 {
		ep.inFlight--
	}
	p.mu.Unlock()

	select {
	case p.released <- struct{}{}:
	default:
	}
}

// Snapshot returns the current state of every endpoint.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Status, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, Status{
			Address:       ep.Address,
			Health:        ep.health,
			ConsecFails:   ep.consecFails,
			CooldownUntil: ep.cooldownUntil,
			InCooldown:    ep.cooldownUntil.After(now),
			InFlight:      ep.inFlight,
			LastUsed:      ep.lastUsed,
		})
	}
	return out
}
