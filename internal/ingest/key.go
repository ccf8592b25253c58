// Package ingest implements the idempotent ingestion pipeline: deterministic
// key resolution, process-local collapsing of concurrent duplicates, bounded
// retry against the store, and exactly-once triggering of downstream
// categorization per newly created record.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/models"
)

// DefaultHashBucketWidth is the default coarse timestamp bucket used by the
// content-hash key fallback.
const DefaultHashBucketWidth = time.Minute

// KeyResolver derives the canonical deduplication key for an inbound message.
//
// When the message carries a stable external identifier the key is
// "tenant:channel:externalID". Otherwise the key falls back to
// "tenant:channel:sha256(content, sender, bucket)", where bucket is the
// receive time truncated to BucketWidth. The bucketing is a documented
// approximation: duplicates whose retries straddle a bucket boundary are not
// collapsed. Callers needing stronger guarantees must supply a stable
// external identifier.
type KeyResolver struct {
	// BucketWidth is the coarse timestamp window for the content-hash
	// fallback. Zero means DefaultHashBucketWidth.
	BucketWidth time.Duration
}

// Resolve computes the deduplication key for msg. It is pure and
// deterministic; the only failure mode is a malformed message.
func (r KeyResolver) Resolve(msg models.InboundMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	if msg.ExternalID != "" {
		return fmt.Sprintf("%s:%s:%s", msg.TenantID, msg.Channel, msg.ExternalID), nil
	}

	width := r.BucketWidth
	if width <= 0 {
		width = DefaultHashBucketWidth
	}
	ts := msg.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	bucket := ts.UTC().Truncate(width).Unix()

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", msg.Content, msg.Sender, bucket)
	digest := hex.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("%s:%s:%s", msg.TenantID, msg.Channel, digest), nil
}
