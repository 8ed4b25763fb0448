package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/job"
	"QuotePull/internal/universe"
	"QuotePull/pkg/logger"
	"QuotePull/pkg/util"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type nopMetrics struct{}

func (nopMetrics) RecordFetchAttempt(string)   {}
func (nopMetrics) RecordStockOutcome(string)   {}
func (nopMetrics) RecordJobProgress(int, int)  {}
func (nopMetrics) RecordUpsertLatency(float64) {}
func (nopMetrics) RecordError(string)          {}

type okFetcher struct{}

func (okFetcher) Fetch(ctx context.Context, code string) (*models.DailyBars, error) {
	return &models.DailyBars{
		Code: code,
		Bars: []models.DailyBar{{Code: code, TradeDate: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)}},
	}, nil
}

type nopWriter struct{}

func (nopWriter) Upsert(ctx context.Context, bars []models.DailyBar) error { return nil }

// memLedger is an in-process RunLedger for tests.
type memLedger struct {
	mu     sync.Mutex
	claims map[string]string
}

func newMemLedger() *memLedger {
	return &memLedger{claims: make(map[string]string)}
}

func (l *memLedger) Claim(ctx context.Context, date time.Time, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := util.DateKey(date)
	if _, ok := l.claims[key]; ok {
		return false, nil
	}
	l.claims[key] = jobID
	return true, nil
}

func (l *memLedger) Get(ctx context.Context, date time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claims[util.DateKey(date)], nil
}

func (l *memLedger) set(date time.Time, jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claims[util.DateKey(date)] = jobID
}

func (l *memLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}

// fakeClock serves a fixed now and a trigger channel the test fires by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	ch  chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, ch: make(chan time.Time)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time { return c.ch }

func (c *fakeClock) set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func newTestScheduler(t *testing.T, clock Clock, ledger *memLedger, cfg Config) (*Scheduler, *job.Orchestrator) {
	t.Helper()
	orch := job.NewOrchestrator(okFetcher{}, nopWriter{}, nil, nopMetrics{}, testLogger(t), job.Config{Workers: 2})
	if cfg.TriggerAt == "" {
		cfg.TriggerAt = "15:05"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s, err := New(orch, ledger, universe.Static([]string{"600519", "000858"}), clock, cfg, testLogger(t))
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	return s, orch
}

// waitForJob polls until the date's claimed job is known to the orchestrator
// and terminal.
func waitForJob(t *testing.T, orch *job.Orchestrator, ledger *memLedger, date time.Time) *models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		id, _ := ledger.Get(context.Background(), date)
		if id != "" {
			if _, err := orch.Job(id); err == nil {
				if err := orch.Wait(id); err == nil {
					j, _ := orch.Job(id)
					return j
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no job ran for %s", util.DateKey(date))
	return nil
}

func TestEvaluateRunsOncePerDay(t *testing.T) {
	// Friday.
	now := time.Date(2026, 8, 28, 15, 5, 0, 0, time.UTC)
	clock := newFakeClock(now)
	ledger := newMemLedger()
	s, orch := newTestScheduler(t, clock, ledger, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Evaluate(ctx)
	s.Evaluate(ctx)
	s.Evaluate(ctx)

	date := util.Midnight(now)
	j := waitForJob(t, orch, ledger, date)
	if j.Trigger != models.TriggerScheduled {
		t.Fatalf("trigger %s", j.Trigger)
	}
	if !j.Status.Terminal() {
		t.Fatalf("status %s", j.Status)
	}
	if ledger.size() != 1 {
		t.Fatalf("ledger entries %d, want 1", ledger.size())
	}
}

func TestEvaluateSkipsWeekend(t *testing.T) {
	// Saturday.
	now := time.Date(2026, 8, 29, 15, 5, 0, 0, time.UTC)
	clock := newFakeClock(now)
	ledger := newMemLedger()
	s, _ := newTestScheduler(t, clock, ledger, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Evaluate(ctx)
	if ledger.size() != 0 {
		t.Fatalf("weekend evaluation claimed the ledger")
	}
}

func TestTimerLoopFiresEvaluation(t *testing.T) {
	now := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	ledger := newMemLedger()
	s, orch := newTestScheduler(t, clock, ledger, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	clock.set(time.Date(2026, 8, 28, 15, 5, 0, 0, time.UTC))
	clock.ch <- clock.Now()

	j := waitForJob(t, orch, ledger, util.Midnight(clock.Now()))
	if j.Trigger != models.TriggerScheduled {
		t.Fatalf("trigger %s", j.Trigger)
	}
}

func TestNextTrigger(t *testing.T) {
	clock := newFakeClock(time.Time{})
	s, _ := newTestScheduler(t, clock, newMemLedger(), Config{TriggerAt: "15:05"})

	before := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	if got := s.nextTrigger(before); !got.Equal(time.Date(2026, 8, 28, 15, 5, 0, 0, time.UTC)) {
		t.Fatalf("next trigger %v", got)
	}

	after := time.Date(2026, 8, 28, 16, 0, 0, 0, time.UTC)
	if got := s.nextTrigger(after); !got.Equal(time.Date(2026, 8, 29, 15, 5, 0, 0, time.UTC)) {
		t.Fatalf("next trigger %v", got)
	}

	exact := time.Date(2026, 8, 28, 15, 5, 0, 0, time.UTC)
	if got := s.nextTrigger(exact); !got.Equal(time.Date(2026, 8, 29, 15, 5, 0, 0, time.UTC)) {
		t.Fatalf("next trigger at the instant %v", got)
	}
}

func TestManualTriggerBypassesLedger(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC) // Saturday, scheduled would skip
	clock := newFakeClock(now)
	ledger := newMemLedger()
	s, orch := newTestScheduler(t, clock, ledger, Config{})

	j, err := s.TriggerManual(context.Background(), nil)
	if err != nil {
		t.Fatalf("manual trigger: %v", err)
	}
	if j.Trigger != models.TriggerManual {
		t.Fatalf("trigger %s", j.Trigger)
	}
	if err := orch.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ledger.size() != 0 {
		t.Fatalf("manual run touched the ledger")
	}
}

func TestManualTriggerWithOverride(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	s, orch := newTestScheduler(t, clock, newMemLedger(), Config{})

	j, err := s.TriggerManual(context.Background(), []string{"300750"})
	if err != nil {
		t.Fatalf("manual trigger: %v", err)
	}
	if err := orch.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	final, _ := orch.Job(j.ID)
	if len(final.Universe) != 1 || final.Universe[0] != "300750" {
		t.Fatalf("universe %v", final.Universe)
	}
}

func TestBackfillClaimsMissedDays(t *testing.T) {
	// Monday; the grace window covers Friday and Thursday.
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	ledger := newMemLedger()
	// Thursday already ran.
	ledger.set(time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), "job-prev")

	s, orch := newTestScheduler(t, clock, ledger, Config{Backfill: true, BackfillGrace: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Friday 2026-08-28 was missed and gets claimed.
	friday := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	j := waitForJob(t, orch, ledger, friday)
	if !j.Status.Terminal() {
		t.Fatalf("backfill job status %s", j.Status)
	}

	// Thursday keeps its original claim.
	id, _ := ledger.Get(ctx, time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	if id != "job-prev" {
		t.Fatalf("thursday claim %s", id)
	}
}

func TestLatestScheduled(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 5, 0, 0, time.UTC)
	clock := newFakeClock(now)
	ledger := newMemLedger()
	s, orch := newTestScheduler(t, clock, ledger, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	st, err := s.LatestScheduled(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if st.JobID != "" || st.Job != nil {
		t.Fatalf("expected empty status before any run, got %+v", st)
	}

	s.Evaluate(ctx)
	waitForJob(t, orch, ledger, util.Midnight(now))

	st, err = s.LatestScheduled(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if st.JobID == "" || st.Job == nil {
		t.Fatalf("expected a run, got %+v", st)
	}
	if st.Interrupted {
		t.Fatalf("in-process run flagged interrupted")
	}
}

func TestLatestScheduledInterrupted(t *testing.T) {
	now := time.Date(2026, 8, 28, 16, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	ledger := newMemLedger()
	// A previous process claimed today and died.
	ledger.set(util.Midnight(now), "job-from-before-restart")

	s, _ := newTestScheduler(t, clock, ledger, Config{})

	st, err := s.LatestScheduled(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !st.Interrupted {
		t.Fatalf("expected interrupted flag, got %+v", st)
	}
	if st.JobID != "job-from-before-restart" {
		t.Fatalf("job id %s", st.JobID)
	}
}
