package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainBatch = "eventq/batch/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes a content hash of a batch: ids plus events in order.
// Two deliveries of the same batch id with the same events share a
// fingerprint; any difference in content changes it.
func Fingerprint(b Batch) (string, error) {
	events := make([]any, len(b.Events))
	for i, ev := range b.Events {
		events[i] = ev.canonicalMap()
	}
	obj := map[string]any{
		"batch_id": b.BatchID,
		"group_id": b.GroupID,
		"events":   events,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainBatch, canonical), nil
}
