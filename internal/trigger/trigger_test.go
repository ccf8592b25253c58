package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/models"
	"github.com/OmniRelay/IngestPipe/internal/store"
)

// fakeJobRepo records enqueued jobs and collapses on dedupe key, mirroring
// the persistent repo's contract.
type fakeJobRepo struct {
	enqueued []fakeEnqueue
	byDedupe map[string]string
	nextID   int
	err      error
}

type fakeEnqueue struct {
	kind      string
	payload   string
	dedupeKey string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{byDedupe: make(map[string]string)}
}

func (f *fakeJobRepo) EnqueueJob(_ context.Context, kind string, _ time.Time, payloadJSON string, dedupeKey string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if dedupeKey != "" {
		if id, ok := f.byDedupe[dedupeKey]; ok {
			return id, nil
		}
	}
	f.nextID++
	id := "job_" + string(rune('0'+f.nextID))
	f.enqueued = append(f.enqueued, fakeEnqueue{kind: kind, payload: payloadJSON, dedupeKey: dedupeKey})
	if dedupeKey != "" {
		f.byDedupe[dedupeKey] = id
	}
	return id, nil
}

func (f *fakeJobRepo) ClaimDueJobs(context.Context, time.Time, int) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) CompleteJob(context.Context, string) error        { return nil }
func (f *fakeJobRepo) FailJob(context.Context, string, string, time.Time) error { return nil }
func (f *fakeJobRepo) CancelJob(context.Context, string) error          { return nil }
func (f *fakeJobRepo) RequeueStaleRunningJobs(context.Context, time.Time) (int, error) {
	return 0, nil
}
func (f *fakeJobRepo) GetJob(context.Context, string) (*store.Job, error) { return nil, nil }

func testMessage() models.Message {
	return models.Message{
		ID:             "msg_abc",
		TenantID:       "T1",
		Channel:        models.ChannelSlack,
		IdempotencyKey: "T1:slack:msg-42",
		Sender:         "U123",
		Content:        "hello world",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestJobQueueTrigger_EnqueuesCategorizationJob(t *testing.T) {
	repo := newFakeJobRepo()
	trig := NewJobQueueTrigger(repo)

	if err := trig.TriggerCategorization(context.Background(), testMessage()); err != nil {
		t.Fatalf("TriggerCategorization failed: %v", err)
	}

	if len(repo.enqueued) != 1 {
		t.Fatalf("Expected 1 enqueued job, got %d", len(repo.enqueued))
	}
	job := repo.enqueued[0]
	if job.kind != JobKindCategorizeMessage {
		t.Errorf("Expected kind %q, got %q", JobKindCategorizeMessage, job.kind)
	}
	if job.dedupeKey != "categorize:msg_abc" {
		t.Errorf("Expected dedupe key 'categorize:msg_abc', got %q", job.dedupeKey)
	}

	var payload CategorizationPayload
	if err := json.Unmarshal([]byte(job.payload), &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	if payload.MessageID != "msg_abc" {
		t.Errorf("Expected message_id 'msg_abc', got %q", payload.MessageID)
	}
	if payload.TenantID != "T1" {
		t.Errorf("Expected tenant_id 'T1', got %q", payload.TenantID)
	}
	if payload.Channel != models.ChannelSlack {
		t.Errorf("Expected channel slack, got %q", payload.Channel)
	}
	if payload.ContentLength != len("hello world") {
		t.Errorf("Expected content_length %d, got %d", len("hello world"), payload.ContentLength)
	}
}

func TestJobQueueTrigger_RepeatedInvocationsCollapse(t *testing.T) {
	repo := newFakeJobRepo()
	trig := NewJobQueueTrigger(repo)
	msg := testMessage()

	for i := 0; i < 3; i++ {
		if err := trig.TriggerCategorization(context.Background(), msg); err != nil {
			t.Fatalf("TriggerCategorization %d failed: %v", i, err)
		}
	}

	if len(repo.enqueued) != 1 {
		t.Errorf("Expected repeated triggers for one record to collapse to 1 job, got %d", len(repo.enqueued))
	}
}

func TestJobQueueTrigger_DistinctRecordsEnqueueDistinctJobs(t *testing.T) {
	repo := newFakeJobRepo()
	trig := NewJobQueueTrigger(repo)

	a := testMessage()
	b := testMessage()
	b.ID = "msg_def"

	if err := trig.TriggerCategorization(context.Background(), a); err != nil {
		t.Fatalf("TriggerCategorization failed: %v", err)
	}
	if err := trig.TriggerCategorization(context.Background(), b); err != nil {
		t.Fatalf("TriggerCategorization failed: %v", err)
	}
	if len(repo.enqueued) != 2 {
		t.Errorf("Expected 2 jobs for 2 records, got %d", len(repo.enqueued))
	}
}

func TestJobQueueTrigger_SurfacesEnqueueError(t *testing.T) {
	repo := newFakeJobRepo()
	repo.err = errors.New("queue unavailable")
	trig := NewJobQueueTrigger(repo)

	err := trig.TriggerCategorization(context.Background(), testMessage())
	if err == nil {
		t.Fatal("Expected enqueue failure to surface")
	}
	if !errors.Is(err, repo.err) {
		t.Errorf("Expected wrapped enqueue error, got %v", err)
	}
}

func TestLogTrigger_AlwaysSucceeds(t *testing.T) {
	trig := LogTrigger{}
	if err := trig.TriggerCategorization(context.Background(), testMessage()); err != nil {
		t.Errorf("LogTrigger failed: %v", err)
	}
}
