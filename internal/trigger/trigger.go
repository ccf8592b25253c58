// Package trigger defines the downstream categorization trigger contract and
// its job-queue-backed implementation.
//
// Record creation and trigger invocation are not transactional with each
// other: a crash between the two, or a trigger retry after a transient
// failure, can invoke the trigger more than once for the same record.
// Downstream consumers must therefore be idempotent (at-least-once
// semantics).
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/models"
	"github.com/OmniRelay/IngestPipe/internal/store"
)

// JobKindCategorizeMessage is the job kind enqueued for each newly created
// message record.
const JobKindCategorizeMessage = "categorize_message"

// Trigger is invoked once per newly created message record to kick off
// downstream categorization. Invocation failures do not roll back the
// already-committed record.
type Trigger interface {
	TriggerCategorization(ctx context.Context, msg models.Message) error
}

// CategorizationPayload is the job payload handed to the categorization
// worker.
type CategorizationPayload struct {
	MessageID     string         `json:"message_id"`
	TenantID      string         `json:"tenant_id"`
	Channel       models.Channel `json:"channel"`
	ContentLength int            `json:"content_length"`
}

// JobQueueTrigger enqueues a durable categorization job per record. The job
// dedupe key is derived from the record ID, so repeated trigger invocations
// for the same record collapse onto one queued job.
type JobQueueTrigger struct {
	jobs store.JobRepo
}

// Compile-time check that JobQueueTrigger implements Trigger.
var _ Trigger = (*JobQueueTrigger)(nil)

// NewJobQueueTrigger creates a trigger backed by the given job repository.
func NewJobQueueTrigger(jobs store.JobRepo) *JobQueueTrigger {
	return &JobQueueTrigger{jobs: jobs}
}

func (t *JobQueueTrigger) TriggerCategorization(ctx context.Context, msg models.Message) error {
	payload := CategorizationPayload{
		MessageID:     msg.ID,
		TenantID:      msg.TenantID,
		Channel:       msg.Channel,
		ContentLength: len(msg.Content),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal categorization payload: %w", err)
	}

	dedupeKey := "categorize:" + msg.ID
	jobID, err := t.jobs.EnqueueJob(ctx, JobKindCategorizeMessage, time.Now(), string(data), dedupeKey)
	if err != nil {
		slog.Error("JobQueueTrigger.TriggerCategorization failed", "error", err, "messageID", msg.ID)
		return fmt.Errorf("enqueue categorization job for %s: %w", msg.ID, err)
	}
	slog.Debug("JobQueueTrigger.TriggerCategorization enqueued", "jobID", jobID, "messageID", msg.ID, "tenantID", msg.TenantID)
	return nil
}

// LogTrigger logs trigger invocations without enqueueing work. Useful for
// development and tests.
type LogTrigger struct{}

// Compile-time check that LogTrigger implements Trigger.
var _ Trigger = (*LogTrigger)(nil)

func (LogTrigger) TriggerCategorization(_ context.Context, msg models.Message) error {
	slog.Info("LogTrigger.TriggerCategorization", "messageID", msg.ID, "tenantID", msg.TenantID, "channel", msg.Channel)
	return nil
}
