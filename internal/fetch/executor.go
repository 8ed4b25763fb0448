package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/domain/repository"
	"QuotePull/internal/proxy"
	"QuotePull/internal/ratelimit"
	"QuotePull/internal/upstream"
	"QuotePull/pkg/logger"
)

// Reason codes recorded on a stock's failure outcome.
const (
	ReasonFetchFailed  = "fetch_failed"
	ReasonNoProxy      = "no_proxy"
	ReasonStorageError = "storage_error"
)

// UpstreamClient is the per-stock daily-bar fetch call, proxy passed as
// connection configuration.
type UpstreamClient interface {
	FetchDaily(ctx context.Context, code string, via *url.URL) (*models.DailyBars, upstream.Verdict, error)
}

// Attempt records one try at fetching a stock code.
type Attempt struct {
	Proxy   string `json:"proxy,omitempty"`
	Verdict string `json:"verdict"`
	Err     string `json:"error,omitempty"`
}

// FetchError reports that every attempt for one stock code failed. It is a
// per-stock result, never a run-aborting condition.
type FetchError struct {
	Code     string
	Reason   string
	Attempts []Attempt
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s after %d attempts", e.Code, e.Reason, len(e.Attempts))
}

// Config holds executor tuning.
type Config struct {
	MaxRetries int
}

// Executor performs one stock's fetch with bounded retries, drawing a fresh
// proxy for every attempt. Spacing between attempts comes entirely from the
// admission gates; the executor adds no sleeps of its own.
type Executor struct {
	pool    *proxy.Pool
	rate    *ratelimit.Controller
	client  UpstreamClient
	cfg     Config
	logger  *logger.Logger
	metrics repository.Metrics
}

func NewExecutor(pool *proxy.Pool, rate *ratelimit.Controller, client UpstreamClient, cfg Config, lgr *logger.Logger, m repository.Metrics) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Executor{pool: pool, rate: rate, client: client, cfg: cfg, logger: lgr, metrics: m}
}

// Fetch retrieves one stock's daily bars, rotating proxies across attempts.
func (ex *Executor) Fetch(ctx context.Context, code string) (*models.DailyBars, error) {
	var attempts []Attempt
	lastFailed := ""

	for i := 0; i < ex.cfg.MaxRetries; i++ {
		ep, err := ex.pool.CheckoutExcept(ctx, lastFailed)
		if err != nil {
			if errors.Is(err, proxy.ErrNoProxyAvailable) {
				// Checkout already waited out its budget; more loop turns
				// would just wait again on an exhausted pool.
				ex.metrics.RecordError("no_proxy")
				attempts = append(attempts, Attempt{Verdict: "no_proxy", Err: err.Error()})
				return nil, &FetchError{Code: code, Reason: ReasonNoProxy, Attempts: attempts}
			}
			return nil, err
		}

		if err := ex.rate.WaitBoth(ctx, ep.Address); err != nil {
			ex.pool.Return(ep)
			return nil, err
		}

		bars, verdict, ferr := ex.client.FetchDaily(ctx, code, ep.URL())
		ex.metrics.RecordFetchAttempt(verdict.String())

		switch verdict {
		case upstream.VerdictOK:
			ex.pool.Release(ep, proxy.OutcomeSuccess)
			ex.rate.ReportSuccess(ratelimit.ScopeGlobal)
			ex.rate.ReportSuccess(ep.Address)
			return bars, nil

		case upstream.VerdictBanned:
			ex.pool.Release(ep, proxy.OutcomeBanned)
			// Bans key on both aggregate and per-IP rate; slow both gates.
			ex.rate.ReportBackpressure(ratelimit.ScopeGlobal)
			ex.rate.ReportBackpressure(ep.Address)

		default:
			// Malformed payloads and network errors are indistinguishable
			// from a flaky proxy, so penalize conservatively.
			ex.pool.Release(ep, proxy.OutcomeSoftFailure)
		}

		lastFailed = ep.Address
		attempts = append(attempts, Attempt{Proxy: ep.Address, Verdict: verdict.String(), Err: errString(ferr)})
		ex.logger.Debug("fetch attempt failed",
			logger.String("code", code),
			logger.String("proxy", ep.Address),
			logger.String("verdict", verdict.String()),
			logger.Int("attempt", i+1))
	}

	return nil, &FetchError{Code: code, Reason: ReasonFetchFailed, Attempts: attempts}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
