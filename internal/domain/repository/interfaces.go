package repository

import (
	"context"
	"time"

	"QuotePull/internal/domain/models"
)

// IngestionWriter persists a stock's daily bars. Upsert must be idempotent:
// writing the same (code, trade_date, adjust) bar twice leaves storage in the
// same state as writing it once, and a bar is never partially applied.
type IngestionWriter interface {
	Upsert(ctx context.Context, bars []models.DailyBar) error
}

// RunLedger records which calendar date has already had its scheduled run.
// Implementations must be durable across process restarts.
type RunLedger interface {
	// Claim writes date -> jobID if the date is unclaimed and reports whether
	// this caller won the claim.
	Claim(ctx context.Context, date time.Time, jobID string) (bool, error)
	// Get returns the job id claimed for a date, or "" when unclaimed.
	Get(ctx context.Context, date time.Time) (string, error)
}

// EventPublisher emits job lifecycle events for downstream consumers.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, job *models.Job) error
	Close() error
}

// Metrics records operational measurements.
type Metrics interface {
	RecordFetchAttempt(verdict string)
	RecordStockOutcome(kind string)
	RecordJobProgress(done, total int)
	RecordUpsertLatency(seconds float64)
	RecordError(kind string)
}
