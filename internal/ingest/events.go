package ingest

import (
	"context"
	"time"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/domain/repository"
	pkgkafka "QuotePull/pkg/kafka"
)

// KafkaEvents publishes job lifecycle events so downstream consumers can
// track run history without polling the API.
type KafkaEvents struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEvents(producer *pkgkafka.Producer, topic string) repository.EventPublisher {
	return &KafkaEvents{producer: producer, topic: topic}
}

type jobEvent struct {
	JobID       string     `json:"job_id"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	Universe    int        `json:"universe"`
	OK          int        `json:"ok"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (p *KafkaEvents) PublishJobEvent(ctx context.Context, job *models.Job) error {
	ok, failed, skipped := job.Counts()
	return p.producer.Publish(ctx, p.topic, []byte(job.ID), jobEvent{
		JobID:       job.ID,
		Trigger:     string(job.Trigger),
		Status:      string(job.Status),
		Universe:    len(job.Universe),
		OK:          ok,
		Failed:      failed,
		Skipped:     skipped,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	})
}

func (p *KafkaEvents) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
