package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/domain/repository"
	"QuotePull/internal/fetch"
	"QuotePull/pkg/logger"
)

var (
	ErrEmptyUniverse = errors.New("empty stock universe")
	ErrJobNotFound   = errors.New("job not found")
	ErrJobTerminal   = errors.New("job already terminal")
)

// Fetcher is the per-stock fetch operation the orchestrator fans out over.
type Fetcher interface {
	Fetch(ctx context.Context, code string) (*models.DailyBars, error)
}

// Config holds orchestrator tuning.
type Config struct {
	Workers int
}

type jobState struct {
	job    *models.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator fans a run out across a bounded worker pool and tracks
// per-job progress. Job state is mutated only under the orchestrator mutex;
// fetches and upserts run outside it.
type Orchestrator struct {
	fetcher Fetcher
	writer  repository.IngestionWriter
	events  repository.EventPublisher // optional
	metrics repository.Metrics
	logger  *logger.Logger
	cfg     Config

	mu              sync.Mutex
	jobs            map[string]*jobState
	latestScheduled string
	now             func() time.Time
}

func NewOrchestrator(fetcher Fetcher, writer repository.IngestionWriter, events repository.EventPublisher, m repository.Metrics, lgr *logger.Logger, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Orchestrator{
		fetcher: fetcher,
		writer:  writer,
		events:  events,
		metrics: m,
		logger:  lgr,
		cfg:     cfg,
		jobs:    make(map[string]*jobState),
		now:     time.Now,
	}
}

// Run creates a job for the universe and starts it. The returned snapshot is
// taken right after the transition to running; completion is asynchronous.
func (o *Orchestrator) Run(ctx context.Context, universe []string, trigger models.TriggerKind) (*models.Job, error) {
	return o.RunWithID(ctx, models.NewJobID(o.now()), universe, trigger)
}

// RunWithID runs a job under a caller-chosen id, so the scheduler can claim
// its ledger entry before the run starts.
func (o *Orchestrator) RunWithID(ctx context.Context, id string, universe []string, trigger models.TriggerKind) (*models.Job, error) {
	if len(universe) == 0 {
		return nil, ErrEmptyUniverse
	}

	codes := make([]string, len(universe))
	copy(codes, universe)

	runCtx, cancel := context.WithCancel(context.Background())
	j := &models.Job{
		ID:        id,
		Trigger:   trigger,
		Status:    models.JobPending,
		CreatedAt: o.now(),
		Universe:  codes,
		Outcomes:  make(map[string]models.Outcome, len(codes)),
	}
	st := &jobState{job: j, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.jobs[id] = st
	if trigger == models.TriggerScheduled {
		o.latestScheduled = id
	}
	j.Status = models.JobRunning
	o.mu.Unlock()

	o.logger.Info("job started",
		logger.String("job_id", id),
		logger.String("trigger", string(trigger)),
		logger.Int("universe", len(codes)))

	go o.execute(ctx, runCtx, st)

	return o.snapshot(st), nil
}

// execute drives the worker pool. ctx is the process lifetime and flows into
// fetches; runCtx only gates dispatch, so cancelling a job lets in-flight
// fetches finish naturally.
func (o *Orchestrator) execute(ctx, runCtx context.Context, st *jobState) {
	defer st.cancel()

	codes := st.job.Universe
	ch := make(chan string, len(codes))
	for _, c := range codes {
		ch <- c
	}
	close(ch)

	workers := o.cfg.Workers
	if workers > len(codes) {
		workers = len(codes)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case code, ok := <-ch:
					if !ok {
						return
					}
					if runCtx.Err() != nil {
						o.record(st, code, models.Outcome{Kind: models.OutcomeSkipped, Reason: "cancelled"})
						return
					}
					o.processCode(ctx, st, code)
				}
			}
		}()
	}
	wg.Wait()

	// Anything still queued was never dispatched.
	for code := range ch {
		o.record(st, code, models.Outcome{Kind: models.OutcomeSkipped, Reason: "cancelled"})
	}

	o.finish(st)
}

func (o *Orchestrator) processCode(ctx context.Context, st *jobState, code string) {
	bars, err := o.fetcher.Fetch(ctx, code)
	if err != nil {
		var fe *fetch.FetchError
		switch {
		case errors.As(err, &fe):
			o.record(st, code, models.Outcome{Kind: models.OutcomeFailed, Reason: fe.Reason})
		case errors.Is(err, context.Canceled):
			o.record(st, code, models.Outcome{Kind: models.OutcomeSkipped, Reason: "cancelled"})
		default:
			o.record(st, code, models.Outcome{Kind: models.OutcomeFailed, Reason: fetch.ReasonFetchFailed})
		}
		return
	}

	start := o.now()
	if err := o.writer.Upsert(ctx, bars.Bars); err != nil {
		// The fetch itself succeeded; keep the reason distinct so operators
		// can tell a storage incident from an upstream one.
		o.logger.Error("upsert failed", logger.String("code", code), logger.Error(err))
		o.metrics.RecordError("storage")
		o.record(st, code, models.Outcome{Kind: models.OutcomeFailed, Reason: fetch.ReasonStorageError})
		return
	}
	o.metrics.RecordUpsertLatency(o.now().Sub(start).Seconds())
	o.record(st, code, models.Outcome{Kind: models.OutcomeOK, Bars: len(bars.Bars)})
}

func (o *Orchestrator) record(st *jobState, code string, out models.Outcome) {
	o.mu.Lock()
	st.job.Outcomes[code] = out
	done := len(st.job.Outcomes)
	total := len(st.job.Universe)
	o.mu.Unlock()

	o.metrics.RecordStockOutcome(string(out.Kind))
	o.metrics.RecordJobProgress(done, total)
}

func (o *Orchestrator) finish(st *jobState) {
	o.mu.Lock()
	j := st.job
	ok, failed, skipped := j.Counts()
	switch {
	case ok == 0:
		j.Status = models.JobFailed
	case failed > 0 || skipped > 0:
		j.Status = models.JobCompletedWithErrors
	default:
		j.Status = models.JobCompleted
	}
	t := o.now()
	j.CompletedAt = &t
	o.mu.Unlock()

	o.logger.Info("job finished",
		logger.String("job_id", j.ID),
		logger.String("status", string(j.Status)),
		logger.Int("ok", ok),
		logger.Int("failed", failed),
		logger.Int("skipped", skipped))

	if o.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.events.PublishJobEvent(ctx, o.snapshot(st)); err != nil {
			o.logger.Warn("job event publish failed", logger.Error(err))
		}
	}

	close(st.done)
}

// Cancel stops dispatching new codes; in-flight fetches run to completion.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	st, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	if st.job.Status.Terminal() {
		o.mu.Unlock()
		return ErrJobTerminal
	}
	o.mu.Unlock()

	o.logger.Info("job cancel requested", logger.String("job_id", id))
	st.cancel()
	return nil
}

// Job returns a snapshot of one job, queryable while it is still running.
func (o *Orchestrator) Job(id string) (*models.Job, error) {
	o.mu.Lock()
	st, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return o.snapshot(st), nil
}

// Jobs returns snapshots of every known job, newest first. Job ids sort by
// creation time, so ordering needs no timestamp comparison.
func (o *Orchestrator) Jobs() []*models.Job {
	o.mu.Lock()
	states := make([]*jobState, 0, len(o.jobs))
	for _, st := range o.jobs {
		states = append(states, st)
	}
	o.mu.Unlock()

	out := make([]*models.Job, 0, len(states))
	for _, st := range states {
		out = append(out, o.snapshot(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// LatestScheduled returns the most recent scheduled job, if any.
func (o *Orchestrator) LatestScheduled() (*models.Job, error) {
	o.mu.Lock()
	id := o.latestScheduled
	o.mu.Unlock()
	if id == "" {
		return nil, ErrJobNotFound
	}
	return o.Job(id)
}

// Wait blocks until the job reaches a terminal state.
func (o *Orchestrator) Wait(id string) error {
	o.mu.Lock()
	st, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	<-st.done
	return nil
}

func (o *Orchestrator) snapshot(st *jobState) *models.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	j := st.job
	cp := *j
	cp.Universe = append([]string(nil), j.Universe...)
	cp.Outcomes = make(map[string]models.Outcome, len(j.Outcomes))
	for k, v := range j.Outcomes {
		cp.Outcomes[k] = v
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
