package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeDecisionID computes a deterministic decision_id using SHA256.
// Formula: SHA256(source|symbol|bucket_unix_ms)
// Returns hex-encoded hash (64 characters).
//
// One decision exists per (symbol, bucket), so a deterministic ID makes
// repeated decision cycles for the same bucket collide instead of
// double-recording.
func ComputeDecisionID(source, symbol string, bucket time.Time) string {
	data := fmt.Sprintf("%s|%s|%d", source, symbol, bucket.UTC().UnixMilli())

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
