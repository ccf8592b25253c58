package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/models"
	"github.com/OmniRelay/IngestPipe/internal/store"
)

// countingTrigger records categorization trigger invocations.
type countingTrigger struct {
	calls int32
	err   error
}

func (t *countingTrigger) TriggerCategorization(_ context.Context, _ models.Message) error {
	atomic.AddInt32(&t.calls, 1)
	return t.err
}

func (t *countingTrigger) count() int32 { return atomic.LoadInt32(&t.calls) }

// flakyRepo wraps an InMemoryStore and fails the first failTimes inserts
// with a transient storage fault.
type flakyRepo struct {
	inner     *store.InMemoryStore
	mu        sync.Mutex
	failTimes int
	calls     int32
}

func (r *flakyRepo) InsertMessageIfAbsent(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	atomic.AddInt32(&r.calls, 1)
	r.mu.Lock()
	shouldFail := r.failTimes > 0
	if shouldFail {
		r.failTimes--
	}
	r.mu.Unlock()
	if shouldFail {
		return models.Message{}, false, store.NewError(store.KindUnavailable, "insert message", errors.New("connection refused"))
	}
	return r.inner.InsertMessageIfAbsent(ctx, msg)
}

func (r *flakyRepo) GetMessageByKey(ctx context.Context, tenantID string, channel models.Channel, key string) (*models.Message, error) {
	return r.inner.GetMessageByKey(ctx, tenantID, channel, key)
}

// conflictRepo always reports an existing record, simulating a lost
// cross-process race resolved by the store's uniqueness constraint.
type conflictRepo struct {
	existing models.Message
}

func (r *conflictRepo) InsertMessageIfAbsent(_ context.Context, _ models.Message) (models.Message, bool, error) {
	return r.existing, false, nil
}

func (r *conflictRepo) GetMessageByKey(_ context.Context, _ string, _ models.Channel, _ string) (*models.Message, error) {
	return &r.existing, nil
}

// hangingRepo blocks until its context is done.
type hangingRepo struct{}

func (hangingRepo) InsertMessageIfAbsent(ctx context.Context, _ models.Message) (models.Message, bool, error) {
	<-ctx.Done()
	return models.Message{}, false, store.NewError(store.KindTimeout, "insert message", ctx.Err())
}

func (hangingRepo) GetMessageByKey(ctx context.Context, _ string, _ models.Channel, _ string) (*models.Message, error) {
	<-ctx.Done()
	return nil, store.NewError(store.KindTimeout, "get message by key", ctx.Err())
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}
}

func TestPipeline_IngestCreatesOnce(t *testing.T) {
	trig := &countingTrigger{}
	p := NewPipeline(store.NewInMemoryStore(), trig, WithRetryPolicy(fastPolicy()))

	result, err := p.Ingest(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if !result.WasNewlyCreated {
		t.Error("Expected WasNewlyCreated=true for first ingest")
	}
	if result.Message.ID == "" {
		t.Error("Expected a generated record ID")
	}
	if result.Message.IdempotencyKey != "T1:slack:msg-42" {
		t.Errorf("Unexpected idempotency key %q", result.Message.IdempotencyKey)
	}
	if trig.count() != 1 {
		t.Errorf("Expected 1 trigger invocation, got %d", trig.count())
	}
}

func TestPipeline_SequentialDuplicateReturnsExisting(t *testing.T) {
	trig := &countingTrigger{}
	p := NewPipeline(store.NewInMemoryStore(), trig, WithRetryPolicy(fastPolicy()))

	first, err := p.Ingest(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	second, err := p.Ingest(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	if second.WasNewlyCreated {
		t.Error("Expected WasNewlyCreated=false for duplicate ingest")
	}
	if second.Message.ID != first.Message.ID {
		t.Errorf("Duplicate returned a different record: %q vs %q", second.Message.ID, first.Message.ID)
	}
	if trig.count() != 1 {
		t.Errorf("Expected exactly 1 trigger invocation, got %d", trig.count())
	}
}

func TestPipeline_ConcurrentIngestIdempotence(t *testing.T) {
	trig := &countingTrigger{}
	st := store.NewInMemoryStore()
	p := NewPipeline(st, trig, WithRetryPolicy(fastPolicy()))

	const k = 3
	var wg sync.WaitGroup
	var createdCount int32
	ids := make([]string, k)
	start := make(chan struct{})

	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			result, err := p.Ingest(context.Background(), testMessage())
			if err != nil {
				t.Errorf("Ingest %d failed: %v", i, err)
				return
			}
			if result.WasNewlyCreated {
				atomic.AddInt32(&createdCount, 1)
			}
			ids[i] = result.Message.ID
		}(i)
	}
	close(start)
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("Expected exactly 1 caller to observe WasNewlyCreated, got %d", createdCount)
	}
	if st.Len() != 1 {
		t.Errorf("Expected exactly 1 persisted record, got %d", st.Len())
	}
	if trig.count() != 1 {
		t.Errorf("Expected exactly 1 trigger invocation across %d racers, got %d", k, trig.count())
	}
	for i := 1; i < k; i++ {
		if ids[i] != ids[0] {
			t.Errorf("Caller %d got record %q, caller 0 got %q", i, ids[i], ids[0])
		}
	}
}

func TestPipeline_RetryBound(t *testing.T) {
	t.Run("transient failures below the bound succeed", func(t *testing.T) {
		repo := &flakyRepo{inner: store.NewInMemoryStore(), failTimes: 2}
		trig := &countingTrigger{}
		p := NewPipeline(repo, trig, WithRetryPolicy(fastPolicy()))

		result, err := p.Ingest(context.Background(), testMessage())
		if err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
		if !result.WasNewlyCreated {
			t.Error("Expected WasNewlyCreated=true")
		}
		if got := atomic.LoadInt32(&repo.calls); got != 3 {
			t.Errorf("Expected n+1=3 store calls, got %d", got)
		}
		if trig.count() != 1 {
			t.Errorf("Expected 1 trigger invocation, got %d", trig.count())
		}
	})

	t.Run("persistent failures exhaust the bound", func(t *testing.T) {
		repo := &flakyRepo{inner: store.NewInMemoryStore(), failTimes: 100}
		trig := &countingTrigger{}
		p := NewPipeline(repo, trig, WithRetryPolicy(fastPolicy()))

		_, err := p.Ingest(context.Background(), testMessage())
		if err == nil {
			t.Fatal("Expected error after retries exhausted")
		}
		var serr *store.StorageError
		if !errors.As(err, &serr) {
			t.Fatalf("Expected *store.StorageError, got %T: %v", err, err)
		}
		if serr.Kind != store.KindUnavailable {
			t.Errorf("Expected KindUnavailable, got %s", serr.Kind)
		}
		if got := atomic.LoadInt32(&repo.calls); got != 3 {
			t.Errorf("Expected exactly maxAttempts=3 store calls, got %d", got)
		}
		if trig.count() != 0 {
			t.Errorf("Trigger must not fire on storage failure, got %d calls", trig.count())
		}
	})
}

func TestPipeline_BackoffDelayElapsed(t *testing.T) {
	repo := &flakyRepo{inner: store.NewInMemoryStore(), failTimes: 2}
	p := NewPipeline(repo, &countingTrigger{}, WithRetryPolicy(RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      20 * time.Millisecond,
		BackoffMultiplier: 2,
	}))

	start := time.Now()
	if _, err := p.Ingest(context.Background(), testMessage()); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	// Two backoffs: initialDelay + initialDelay*multiplier.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("Expected elapsed >= 60ms, got %v", elapsed)
	}
}

func TestPipeline_ConflictResolvesWithoutError(t *testing.T) {
	existing := models.Message{
		ID:             "msg_existing",
		TenantID:       "T1",
		Channel:        models.ChannelSlack,
		IdempotencyKey: "T1:slack:msg-42",
		Sender:         "U123",
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}
	trig := &countingTrigger{}
	p := NewPipeline(&conflictRepo{existing: existing}, trig, WithRetryPolicy(fastPolicy()))

	result, err := p.Ingest(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Expected conflict to resolve without error, got %v", err)
	}
	if result.WasNewlyCreated {
		t.Error("Expected WasNewlyCreated=false on conflict")
	}
	if result.Message.ID != "msg_existing" {
		t.Errorf("Expected the pre-existing record, got %q", result.Message.ID)
	}
	if trig.count() != 0 {
		t.Errorf("Trigger must not fire for duplicates, got %d calls", trig.count())
	}
}

func TestPipeline_DeadlineProducesTimeoutError(t *testing.T) {
	p := NewPipeline(hangingRepo{}, &countingTrigger{},
		WithRetryPolicy(fastPolicy()), WithExecTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Ingest(ctx, testMessage())
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected *TimeoutError, got %T: %v", err, err)
	}
	var serr *store.StorageError
	if errors.As(err, &serr) {
		t.Error("Deadline expiry must not be reported as a storage fault")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Timeout not bounded near the deadline: elapsed %v", elapsed)
	}
}

func TestPipeline_ValidationRejectedImmediately(t *testing.T) {
	repo := &flakyRepo{inner: store.NewInMemoryStore(), failTimes: 100}
	p := NewPipeline(repo, &countingTrigger{}, WithRetryPolicy(fastPolicy()))

	msg := testMessage()
	msg.TenantID = ""
	_, err := p.Ingest(context.Background(), msg)

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %T: %v", err, err)
	}
	if !errors.Is(err, models.ErrMissingTenant) {
		t.Errorf("Expected wrapped ErrMissingTenant, got %v", err)
	}
	if atomic.LoadInt32(&repo.calls) != 0 {
		t.Error("Validation failures must not reach the store")
	}
}

func TestPipeline_TriggerFailureIsPartialSuccess(t *testing.T) {
	triggerFault := errors.New("job queue unavailable")
	trig := &countingTrigger{err: triggerFault}
	st := store.NewInMemoryStore()
	p := NewPipeline(st, trig, WithRetryPolicy(fastPolicy()))

	result, err := p.Ingest(context.Background(), testMessage())

	var trigErr *TriggerError
	if !errors.As(err, &trigErr) {
		t.Fatalf("Expected *TriggerError, got %T: %v", err, err)
	}
	if !errors.Is(err, triggerFault) {
		t.Errorf("Expected wrapped trigger fault, got %v", err)
	}
	// The record stays committed despite the trigger failure.
	if st.Len() != 1 {
		t.Errorf("Expected the record to remain persisted, got %d records", st.Len())
	}
	if !result.WasNewlyCreated {
		t.Error("Expected WasNewlyCreated=true alongside the partial-success error")
	}
	if trigErr.Record.ID != result.Message.ID {
		t.Errorf("TriggerError carries record %q, result carries %q", trigErr.Record.ID, result.Message.ID)
	}
}
