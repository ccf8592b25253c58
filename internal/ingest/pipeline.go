package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/models"
	"github.com/OmniRelay/IngestPipe/internal/store"
	"github.com/OmniRelay/IngestPipe/internal/trigger"
	"github.com/OmniRelay/IngestPipe/internal/util"
)

// DefaultExecTimeout bounds a single collapsed storage execution, covering
// all retry attempts and the trigger invocation.
const DefaultExecTimeout = 30 * time.Second

// insertOutcome is the shared result of one collapsed storage execution.
type insertOutcome struct {
	record     models.Message
	created    bool
	triggerErr error
}

// Opts holds configuration options for the Pipeline.
type Opts struct {
	Resolver    KeyResolver
	Policy      RetryPolicy
	ExecTimeout time.Duration
}

// Option defines a configuration option for the Pipeline.
type Option func(*Opts)

// WithKeyResolver sets the idempotency key resolver.
func WithKeyResolver(r KeyResolver) Option {
	return func(o *Opts) { o.Resolver = r }
}

// WithRetryPolicy sets the storage retry policy. The classify predicate is
// always store.IsRetryable regardless of what the supplied policy carries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Opts) { o.Policy = p }
}

// WithExecTimeout bounds each collapsed storage execution.
func WithExecTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ExecTimeout = d }
}

// IngestResult is the outcome of one Ingest call.
type IngestResult struct {
	Message models.Message `json:"message"`
	// WasNewlyCreated is true for exactly one caller per unique key across
	// any set of concurrent Ingest calls: the one whose execution created
	// the record.
	WasNewlyCreated bool `json:"was_newly_created"`
}

// Pipeline orchestrates idempotent ingestion: resolve key, collapse
// concurrent same-key calls, insert with bounded retry, and trigger
// downstream categorization exactly once per newly created record.
//
// The store handle is injected and shared for the process lifetime; the
// Pipeline holds no global state.
type Pipeline struct {
	repo     store.MessageRepo
	trig     trigger.Trigger
	resolver KeyResolver
	policy   RetryPolicy
	group    *InFlightGroup[insertOutcome]
}

// NewPipeline creates a Pipeline over the given message repository and
// downstream trigger.
func NewPipeline(repo store.MessageRepo, trig trigger.Trigger, opts ...Option) *Pipeline {
	cfg := Opts{ExecTimeout: DefaultExecTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.Policy.Classify = store.IsRetryable

	return &Pipeline{
		repo:     repo,
		trig:     trig,
		resolver: cfg.Resolver,
		policy:   cfg.Policy,
		group:    NewInFlightGroup[insertOutcome](cfg.ExecTimeout),
	}
}

// Ingest persists msg exactly once per logical identity and reports whether
// this call created the record. Safe to call concurrently and repeatedly
// with the same logical message.
//
// Error taxonomy: *ValidationError for malformed input, *TimeoutError when
// ctx expires while waiting, *TriggerError when the record was created but
// the downstream trigger failed, and *store.StorageError when retries
// against the store are exhausted.
func (p *Pipeline) Ingest(ctx context.Context, msg models.InboundMessage) (IngestResult, error) {
	key, err := p.resolver.Resolve(msg)
	if err != nil {
		slog.Debug("Pipeline.Ingest: validation failed", "error", err, "tenantID", msg.TenantID)
		return IngestResult{}, &ValidationError{Err: err}
	}

	outcome, shared, err := p.group.Do(ctx, key, func(workCtx context.Context) (insertOutcome, error) {
		return p.insertAndTrigger(workCtx, key, msg)
	})
	if err != nil {
		if ctx.Err() != nil {
			stage := "ingest"
			if shared {
				stage = "inflight-wait"
			}
			return IngestResult{}, &TimeoutError{Stage: stage, Err: err}
		}
		slog.Error("Pipeline.Ingest: storage attempt exhausted", "error", err, "key", key)
		return IngestResult{}, err
	}

	// Only the executor of a creating run observes WasNewlyCreated; waiters
	// that joined the same in-flight unit receive the canonical record as a
	// duplicate.
	created := outcome.created && !shared
	result := IngestResult{Message: outcome.record, WasNewlyCreated: created}

	if created && outcome.triggerErr != nil {
		return result, &TriggerError{Record: outcome.record, Err: outcome.triggerErr}
	}
	slog.Debug("Pipeline.Ingest: resolved", "key", key, "recordID", outcome.record.ID, "created", created, "shared", shared)
	return result, nil
}

// insertAndTrigger is the collapsed work unit: one storage insert (with
// bounded retry) and, on creation, one downstream trigger invocation.
func (p *Pipeline) insertAndTrigger(ctx context.Context, key string, msg models.InboundMessage) (insertOutcome, error) {
	candidate := models.Message{
		ID:             util.GenerateMessageID(),
		TenantID:       msg.TenantID,
		Channel:        msg.Channel,
		IdempotencyKey: key,
		Sender:         msg.Sender,
		Content:        msg.Content,
		CreatedAt:      time.Now().UTC(),
	}

	outcome, err := Retry(ctx, p.policy, func(attemptCtx context.Context) (insertOutcome, error) {
		record, created, err := p.repo.InsertMessageIfAbsent(attemptCtx, candidate)
		if err != nil {
			return insertOutcome{}, err
		}
		return insertOutcome{record: record, created: created}, nil
	})
	if err != nil {
		return insertOutcome{}, err
	}

	if outcome.created {
		// The trigger runs on the detached work context so a departed caller
		// cannot cancel it. Failure is recorded, not rolled back: the record
		// stays committed and the error surfaces as a partial success.
		if terr := p.trig.TriggerCategorization(ctx, outcome.record); terr != nil {
			slog.Error("Pipeline.insertAndTrigger: downstream trigger failed", "error", terr, "recordID", outcome.record.ID)
			outcome.triggerErr = terr
		}
	}
	return outcome, nil
}
