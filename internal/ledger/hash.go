package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the PreviousHash of entry 1. It is part of the hashing
// contract and must never change.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CoreFields are the entry fields covered by the chain hash besides the
// previous hash and the sequence number. Severity, actor details other than
// the ID, the request ID and metadata are outside the hash.
type CoreFields struct {
	Timestamp time.Time
	Action    Action
	ActorID   string
	TargetID  string
	Changes   *Changes
}

// HashChain computes the hex SHA-256 of an entry. The digest input is the
// canonical JSON array
//
//	[previousHash, sequenceNumber, timestamp, action, actorID, targetID, changes]
//
// with the timestamp in UTC RFC 3339 (nanosecond precision), a missing target
// as "", and changes as null or {"after":{...},"before":{...}}.
func HashChain(previousHash string, sequenceNumber int64, f CoreFields) (string, error) {
	payload, err := canonicalJSON([]any{
		previousHash,
		sequenceNumber,
		f.Timestamp.UTC().Format(time.RFC3339Nano),
		string(f.Action),
		f.ActorID,
		f.TargetID,
		canonicalChanges(f.Changes),
	})
	if err != nil {
		return "", fmt.Errorf("canonicalise entry %d: %w", sequenceNumber, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalChanges maps a nil snapshot to null and treats a nil or empty
// side as {} so that omitempty storage round trips hash identically.
func canonicalChanges(c *Changes) any {
	if c == nil {
		return nil
	}
	return map[string]any{
		"before": emptyIfNil(c.Before),
		"after":  emptyIfNil(c.After),
	}
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
