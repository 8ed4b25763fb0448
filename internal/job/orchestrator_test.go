package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/fetch"
	"QuotePull/pkg/logger"
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

// stubFetcher maps codes to canned results; unknown codes succeed with one bar.
type stubFetcher struct {
	mu   sync.Mutex
	errs map[string]error

	started chan string   // when set, each Fetch announces itself here
	proceed chan struct{} // and blocks until released
}

func (f *stubFetcher) Fetch(ctx context.Context, code string) (*models.DailyBars, error) {
	if f.started != nil {
		f.started <- code
		<-f.proceed
	}
	f.mu.Lock()
	err := f.errs[code]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.DailyBars{
		Code: code,
		Bars: []models.DailyBar{{Code: code, TradeDate: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)}},
	}, nil
}

// memWriter counts bars per (code, date, adjust) key to check the idempotence
// contract: replaying a batch must not change the observable row set.
type memWriter struct {
	mu   sync.Mutex
	rows map[string]models.DailyBar
	err  error
}

func newMemWriter() *memWriter {
	return &memWriter{rows: make(map[string]models.DailyBar)}
}

func (w *memWriter) Upsert(ctx context.Context, bars []models.DailyBar) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	for _, b := range bars {
		key := fmt.Sprintf("%s|%s|%s", b.Code, b.TradeDate.Format("2006-01-02"), b.Adjust)
		w.rows[key] = b
	}
	return nil
}

func (w *memWriter) rowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

type capturingEvents struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (e *capturingEvents) PublishJobEvent(ctx context.Context, j *models.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, j)
	return nil
}

func (e *capturingEvents) Close() error { return nil }

func newTestOrchestrator(t *testing.T, f Fetcher, w *memWriter, ev *capturingEvents, workers int) *Orchestrator {
	t.Helper()
	if ev != nil {
		return NewOrchestrator(f, w, ev, nopMetrics{}, testLogger(t), Config{Workers: workers})
	}
	return NewOrchestrator(f, w, nil, nopMetrics{}, testLogger(t), Config{Workers: workers})
}

func TestRunCompletes(t *testing.T) {
	w := newMemWriter()
	o := newTestOrchestrator(t, &stubFetcher{}, w, nil, 4)

	j, err := o.Run(context.Background(), []string{"600519", "000858", "601318"}, models.TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := o.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	final, err := o.Job(j.ID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if final.Status != models.JobCompleted {
		t.Fatalf("status %s, want completed", final.Status)
	}
	ok, failed, skipped := final.Counts()
	if ok != 3 || failed != 0 || skipped != 0 {
		t.Fatalf("counts ok=%d failed=%d skipped=%d", ok, failed, skipped)
	}
	if final.CompletedAt == nil {
		t.Fatalf("missing completion time")
	}
	if w.rowCount() != 3 {
		t.Fatalf("rows %d, want 3", w.rowCount())
	}
}

func TestRunCompletedWithErrors(t *testing.T) {
	f := &stubFetcher{errs: map[string]error{
		"000858": &fetch.FetchError{Code: "000858", Reason: fetch.ReasonFetchFailed},
	}}
	o := newTestOrchestrator(t, f, newMemWriter(), nil, 2)

	j, err := o.Run(context.Background(), []string{"600519", "000858"}, models.TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := o.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	final, _ := o.Job(j.ID)
	if final.Status != models.JobCompletedWithErrors {
		t.Fatalf("status %s, want completed_with_errors", final.Status)
	}
	out := final.Outcomes["000858"]
	if out.Kind != models.OutcomeFailed || out.Reason != fetch.ReasonFetchFailed {
		t.Fatalf("outcome %+v", out)
	}
}

func TestRunFailedWhenNothingSucceeds(t *testing.T) {
	f := &stubFetcher{errs: map[string]error{
		"600519": &fetch.FetchError{Code: "600519", Reason: fetch.ReasonNoProxy},
		"000858": &fetch.FetchError{Code: "000858", Reason: fetch.ReasonFetchFailed},
	}}
	o := newTestOrchestrator(t, f, newMemWriter(), nil, 2)

	j, err := o.Run(context.Background(), []string{"600519", "000858"}, models.TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := o.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	final, _ := o.Job(j.ID)
	if final.Status != models.JobFailed {
		t.Fatalf("status %s, want failed", final.Status)
	}
}

func TestRunEmptyUniverse(t *testing.T) {
	o := newTestOrchestrator(t, &stubFetcher{}, newMemWriter(), nil, 2)
	if _, err := o.Run(context.Background(), nil, models.TriggerManual); !errors.Is(err, ErrEmptyUniverse) {
		t.Fatalf("expected ErrEmptyUniverse, got %v", err)
	}
}

func TestStorageErrorOutcome(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("clickhouse down")
	o := newTestOrchestrator(t, &stubFetcher{}, w, nil, 1)

	j, err := o.Run(context.Background(), []string{"600519"}, models.TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := o.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	final, _ := o.Job(j.ID)
	if final.Status != models.JobFailed {
		t.Fatalf("status %s, want failed", final.Status)
	}
	out := final.Outcomes["600519"]
	if out.Kind != models.OutcomeFailed || out.Reason != fetch.ReasonStorageError {
		t.Fatalf("outcome %+v", out)
	}
}

func TestUpsertReplayIsIdempotent(t *testing.T) {
	w := newMemWriter()
	o := newTestOrchestrator(t, &stubFetcher{}, w, nil, 2)

	universe := []string{"600519", "000858"}
	for i := 0; i < 2; i++ {
		j, err := o.Run(context.Background(), universe, models.TriggerManual)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if err := o.Wait(j.ID); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}

	// Same (code, date, adjust) keys both times: replay adds nothing.
	if w.rowCount() != 2 {
		t.Fatalf("rows %d after replay, want 2", w.rowCount())
	}
}

func TestCancelStopsDispatch(t *testing.T) {
	f := &stubFetcher{
		started: make(chan string),
		proceed: make(chan struct{}),
	}
	o := newTestOrchestrator(t, f, newMemWriter(), nil, 1)

	universe := []string{"c1", "c2", "c3", "c4", "c5"}
	j, err := o.Run(context.Background(), universe, models.TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Let two codes finish.
	for i := 0; i < 2; i++ {
		<-f.started
		f.proceed <- struct{}{}
	}

	// Third is in flight when the cancel lands; it must run to completion.
	<-f.started
	if err := o.Cancel(j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.proceed <- struct{}{}

	if err := o.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	final, _ := o.Job(j.ID)
	if final.Status != models.JobCompletedWithErrors {
		t.Fatalf("status %s, want completed_with_errors", final.Status)
	}
	ok, failed, skipped := final.Counts()
	if ok != 3 || failed != 0 || skipped != 2 {
		t.Fatalf("counts ok=%d failed=%d skipped=%d", ok, failed, skipped)
	}
	for _, code := range []string{"c4", "c5"} {
		out := final.Outcomes[code]
		if out.Kind != models.OutcomeSkipped || out.Reason != "cancelled" {
			t.Fatalf("%s outcome %+v", code, out)
		}
	}

	if err := o.Cancel(j.ID); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("second cancel: %v, want ErrJobTerminal", err)
	}
}

func TestJobQueryableWhileRunning(t *testing.T) {
	f := &stubFetcher{
		started: make(chan string),
		proceed: make(chan struct{}),
	}
	o := newTestOrchestrator(t, f, newMemWriter(), nil, 1)

	j, err := o.Run(context.Background(), []string{"c1", "c2"}, models.TriggerManual)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	<-f.started
	mid, err := o.Job(j.ID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if mid.Status != models.JobRunning {
		t.Fatalf("status %s, want running", mid.Status)
	}

	// Snapshot must be detached from live state.
	mid.Outcomes["c1"] = models.Outcome{Kind: models.OutcomeFailed}

	f.proceed <- struct{}{}
	<-f.started
	f.proceed <- struct{}{}
	if err := o.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	final, _ := o.Job(j.ID)
	if final.Outcomes["c1"].Kind != models.OutcomeOK {
		t.Fatalf("snapshot mutation leaked into job state")
	}
}

func TestJobNotFound(t *testing.T) {
	o := newTestOrchestrator(t, &stubFetcher{}, newMemWriter(), nil, 1)
	if _, err := o.Job("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := o.Cancel("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobsNewestFirst(t *testing.T) {
	o := newTestOrchestrator(t, &stubFetcher{}, newMemWriter(), nil, 2)

	base := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id := models.NewJobID(base.Add(time.Duration(i) * time.Second))
		j, err := o.RunWithID(context.Background(), id, []string{"600519"}, models.TriggerManual)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if err := o.Wait(j.ID); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	jobs := o.Jobs()
	if len(jobs) != 3 {
		t.Fatalf("jobs %d, want 3", len(jobs))
	}
	for i, j := range jobs {
		if want := ids[len(ids)-1-i]; j.ID != want {
			t.Fatalf("position %d: %s, want %s", i, j.ID, want)
		}
	}
}

func TestJobEventPublishedOnFinish(t *testing.T) {
	ev := &capturingEvents{}
	o := newTestOrchestrator(t, &stubFetcher{}, newMemWriter(), ev, 2)

	j, err := o.Run(context.Background(), []string{"600519"}, models.TriggerScheduled)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := o.Wait(j.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.jobs) != 1 {
		t.Fatalf("events %d, want 1", len(ev.jobs))
	}
	if got := ev.jobs[0]; got.ID != j.ID || !got.Status.Terminal() {
		t.Fatalf("event job %s status %s", got.ID, got.Status)
	}

	latest, err := o.LatestScheduled()
	if err != nil {
		t.Fatalf("latest scheduled: %v", err)
	}
	if latest.ID != j.ID {
		t.Fatalf("latest scheduled %s, want %s", latest.ID, j.ID)
	}
}
