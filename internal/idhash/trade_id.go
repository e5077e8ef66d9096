package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(decision_id|symbol|bucket_unix_ms)
// Returns hex-encoded hash (64 characters).
//
// Keying the hash on the decision keeps trade identity stable across
// retried submissions of the same decision.
func ComputeTradeID(decisionID, symbol string, bucket time.Time) string {
	data := fmt.Sprintf("%s|%s|%d", decisionID, symbol, bucket.UTC().UnixMilli())

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
