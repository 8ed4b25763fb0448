package scheduler

import (
	"context"
	"fmt"
	"time"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/domain/repository"
	"QuotePull/internal/job"
	"QuotePull/internal/universe"
	"QuotePull/pkg/logger"
	"QuotePull/pkg/util"
)

// Clock abstracts wall-clock time so the trigger loop is testable with a
// fake clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock { return realClock{} }

// trigger is the queue handoff between the timer loop and the dispatch loop.
type trigger struct {
	jobID string
	date  time.Time
}

// Config holds scheduling behavior.
type Config struct {
	TriggerAt     string // "HH:MM" wall clock in Location
	Location      *time.Location
	Backfill      bool // explicit opt-in, never assumed
	BackfillGrace int  // business days to look back on startup
}

// Scheduler owns the single timer loop that launches at most one scheduled
// run per calendar day. Manual triggers bypass the ledger entirely.
type Scheduler struct {
	orch     *job.Orchestrator
	ledger   repository.RunLedger
	universe universe.Provider
	clock    Clock
	cfg      Config
	logger   *logger.Logger
	triggers chan trigger
}

func New(orch *job.Orchestrator, ledger repository.RunLedger, uni universe.Provider, clock Clock, cfg Config, lgr *logger.Logger) (*Scheduler, error) {
	if _, err := time.Parse("15:04", cfg.TriggerAt); err != nil {
		return nil, fmt.Errorf("scheduler: trigger_at %q: %w", cfg.TriggerAt, err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{
		orch:     orch,
		ledger:   ledger,
		universe: uni,
		clock:    clock,
		cfg:      cfg,
		logger:   lgr,
		triggers: make(chan trigger, 8),
	}, nil
}

// Start launches the timer and dispatch loops. It returns immediately; both
// loops stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.dispatchLoop(ctx)
	go s.timerLoop(ctx)

	s.detectInterrupted(ctx)
	if s.cfg.Backfill {
		s.backfill(ctx)
	}
}

func (s *Scheduler) timerLoop(ctx context.Context) {
	for {
		now := s.clock.Now().In(s.cfg.Location)
		wait := s.nextTrigger(now).Sub(now)
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
			s.Evaluate(ctx)
		}
	}
}

// nextTrigger returns the next wall-clock trigger instant after now.
func (s *Scheduler) nextTrigger(now time.Time) time.Time {
	at, _ := time.Parse("15:04", s.cfg.TriggerAt)
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, s.cfg.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Evaluate runs one trigger evaluation: claim today's ledger entry and, if
// won, queue the run. Safe to call repeatedly; the ledger suppresses
// duplicates.
func (s *Scheduler) Evaluate(ctx context.Context) {
	now := s.clock.Now().In(s.cfg.Location)
	if !util.IsBusinessDay(now) {
		s.logger.Debug("trigger skipped, not a business day", logger.String("date", util.DateKey(now)))
		return
	}
	s.claimAndQueue(ctx, util.Midnight(now))
}

func (s *Scheduler) claimAndQueue(ctx context.Context, date time.Time) {
	id := models.NewJobID(s.clock.Now())
	won, err := s.ledger.Claim(ctx, date, id)
	if err != nil {
		s.logger.Error("ledger claim failed", logger.Error(err), logger.String("date", util.DateKey(date)))
		return
	}
	if !won {
		s.logger.Info("scheduled run already claimed", logger.String("date", util.DateKey(date)))
		return
	}

	select {
	case s.triggers <- trigger{jobID: id, date: date}:
	case <-ctx.Done():
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.triggers:
			uni, err := s.universe()
			if err != nil {
				// The ledger entry is already claimed for this date; losing
				// the universe here means the date shows an interrupted run.
				s.logger.Error("universe load failed, scheduled run lost",
					logger.Error(err),
					logger.String("job_id", t.jobID),
					logger.String("date", util.DateKey(t.date)))
				continue
			}
			if _, err := s.orch.RunWithID(ctx, t.jobID, uni, models.TriggerScheduled); err != nil {
				s.logger.Error("scheduled run failed to start",
					logger.Error(err), logger.String("job_id", t.jobID))
			}
		}
	}
}

// TriggerManual starts an on-demand run. It never consults or mutates the
// daily ledger.
func (s *Scheduler) TriggerManual(ctx context.Context, universeOverride []string) (*models.Job, error) {
	codes := universeOverride
	if len(codes) == 0 {
		var err error
		codes, err = s.universe()
		if err != nil {
			return nil, fmt.Errorf("manual trigger: %w", err)
		}
	}
	return s.orch.Run(ctx, codes, models.TriggerManual)
}

// ScheduledStatus describes the latest scheduled run from the ledger's point
// of view, including a run interrupted by a restart.
type ScheduledStatus struct {
	Date        string      `json:"date"`
	JobID       string      `json:"job_id,omitempty"`
	Job         *models.Job `json:"job,omitempty"`
	Interrupted bool        `json:"interrupted,omitempty"`
}

// LatestScheduled reports today's scheduled run: the live job when this
// process ran it, or the bare ledger claim when a previous process did.
func (s *Scheduler) LatestScheduled(ctx context.Context) (*ScheduledStatus, error) {
	now := s.clock.Now().In(s.cfg.Location)
	date := util.Midnight(now)

	st := &ScheduledStatus{Date: util.DateKey(date)}
	id, err := s.ledger.Get(ctx, date)
	if err != nil {
		return nil, err
	}
	st.JobID = id
	if id == "" {
		return st, nil
	}
	if j, err := s.orch.Job(id); err == nil {
		st.Job = j
	} else {
		st.Interrupted = true
	}
	return st, nil
}

// detectInterrupted logs a ledger claim for today that has no corresponding
// job in this process, which means a restart cut a scheduled run short.
func (s *Scheduler) detectInterrupted(ctx context.Context) {
	now := s.clock.Now().In(s.cfg.Location)
	id, err := s.ledger.Get(ctx, util.Midnight(now))
	if err != nil {
		s.logger.Warn("ledger read failed on startup", logger.Error(err))
		return
	}
	if id == "" {
		return
	}
	if _, err := s.orch.Job(id); err != nil {
		s.logger.Warn("interrupted scheduled run detected",
			logger.String("job_id", id),
			logger.String("date", util.DateKey(now)))
	}
}

// backfill claims and runs recent missed business days within the grace
// window. Only reached when the backfill toggle is explicitly on.
func (s *Scheduler) backfill(ctx context.Context) {
	now := s.clock.Now().In(s.cfg.Location)
	day := now
	for i := 0; i < s.cfg.BackfillGrace; i++ {
		day = util.PrevBusinessDay(day)
		date := util.Midnight(day)
		id, err := s.ledger.Get(ctx, date)
		if err != nil {
			s.logger.Error("backfill ledger read failed", logger.Error(err))
			return
		}
		if id != "" {
			continue
		}
		s.logger.Info("backfilling missed scheduled run", logger.String("date", util.DateKey(date)))
		s.claimAndQueue(ctx, date)
	}
}
