package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/models"
)

func testMessage() models.InboundMessage {
	return models.InboundMessage{
		TenantID:   "T1",
		Channel:    models.ChannelSlack,
		ExternalID: "msg-42",
		Sender:     "U123",
		Content:    "hello",
		ReceivedAt: time.Date(2026, 8, 1, 10, 30, 15, 0, time.UTC),
	}
}

func TestKeyResolver_ExternalID(t *testing.T) {
	var r KeyResolver
	key, err := r.Resolve(testMessage())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key != "T1:slack:msg-42" {
		t.Errorf("Expected key 'T1:slack:msg-42', got %q", key)
	}
}

func TestKeyResolver_Deterministic(t *testing.T) {
	var r KeyResolver
	msg := testMessage()
	msg.ExternalID = ""

	key1, err := r.Resolve(msg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	key2, err := r.Resolve(msg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key1 != key2 {
		t.Errorf("Resolve is not deterministic: %q vs %q", key1, key2)
	}
	if !strings.HasPrefix(key1, "T1:slack:") {
		t.Errorf("Expected tenant:channel prefix, got %q", key1)
	}
}

func TestKeyResolver_MetadataDoesNotAffectKey(t *testing.T) {
	var r KeyResolver
	msg := testMessage()
	msg.ExternalID = ""

	key1, err := r.Resolve(msg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	msg.Metadata = map[string]string{"delivery_attempt": "2", "trace_id": "abc"}
	key2, err := r.Resolve(msg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if key1 != key2 {
		t.Errorf("Unrelated metadata changed the key: %q vs %q", key1, key2)
	}
}

func TestKeyResolver_FallbackBucketing(t *testing.T) {
	r := KeyResolver{BucketWidth: time.Minute}
	msg := testMessage()
	msg.ExternalID = ""

	// Same bucket: near-simultaneous duplicates collapse.
	dup := msg
	dup.ReceivedAt = msg.ReceivedAt.Add(10 * time.Second)
	key1, _ := r.Resolve(msg)
	key2, _ := r.Resolve(dup)
	if key1 != key2 {
		t.Errorf("Duplicates within one bucket got distinct keys: %q vs %q", key1, key2)
	}

	// Different bucket: legitimately repeated content far apart gets a new key.
	later := msg
	later.ReceivedAt = msg.ReceivedAt.Add(5 * time.Minute)
	key3, _ := r.Resolve(later)
	if key1 == key3 {
		t.Error("Expected distinct keys across buckets")
	}
}

func TestKeyResolver_DistinctSendersDistinctKeys(t *testing.T) {
	var r KeyResolver
	msg := testMessage()
	msg.ExternalID = ""

	other := msg
	other.Sender = "U456"

	key1, _ := r.Resolve(msg)
	key2, _ := r.Resolve(other)
	if key1 == key2 {
		t.Error("Expected distinct keys for distinct senders")
	}
}

func TestKeyResolver_Validation(t *testing.T) {
	var r KeyResolver
	cases := []struct {
		name    string
		mutate  func(*models.InboundMessage)
		wantErr error
	}{
		{"missing tenant", func(m *models.InboundMessage) { m.TenantID = "" }, models.ErrMissingTenant},
		{"invalid channel", func(m *models.InboundMessage) { m.Channel = "carrier-pigeon" }, models.ErrInvalidChannel},
		{"missing sender", func(m *models.InboundMessage) { m.Sender = "" }, models.ErrMissingSender},
		{"empty content", func(m *models.InboundMessage) { m.Content = "" }, models.ErrEmptyContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := testMessage()
			tc.mutate(&msg)
			_, err := r.Resolve(msg)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
