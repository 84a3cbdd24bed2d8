package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Actor is who performed the recorded action.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	IP    string `json:"ip"`
}

// Target is what the recorded action affected.
type Target struct {
	Type  string `json:"type,omitempty"`
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Changes is a free-form snapshot of the mutated state.
type Changes struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

// Entry is a single persisted record in the audit ledger.
type Entry struct {
	SequenceNumber int64          `json:"sequence_number"`
	Timestamp      time.Time      `json:"timestamp"`
	Action         Action         `json:"action"`
	Severity       Severity       `json:"severity"`
	Actor          Actor          `json:"actor"`
	Target         *Target        `json:"target,omitempty"`
	RequestID      string         `json:"request_id"`
	Changes        *Changes       `json:"changes,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	PreviousHash   string         `json:"previous_hash"`
	CurrentHash    string         `json:"current_hash"`
	IsImmutable    bool           `json:"is_immutable"`
}

// TargetID returns the target's ID, or "" when the entry has no target.
func (e *Entry) TargetID() string {
	if e.Target == nil {
		return ""
	}
	return e.Target.ID
}

// CoreFields returns the subset of the entry covered by CurrentHash.
func (e *Entry) CoreFields() CoreFields {
	return CoreFields{
		Timestamp: e.Timestamp,
		Action:    e.Action,
		ActorID:   e.Actor.ID,
		TargetID:  e.TargetID(),
		Changes:   e.Changes,
	}
}

// clone returns a deep copy so stored entries never share maps with callers.
func (e *Entry) clone() *Entry {
	cp := *e
	if e.Target != nil {
		t := *e.Target
		cp.Target = &t
	}
	if e.Changes != nil {
		cp.Changes = &Changes{
			Before: cloneMap(e.Changes.Before),
			After:  cloneMap(e.Changes.After),
		}
	}
	cp.Metadata = cloneMap(e.Metadata)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// detachJSON round-trips v through encoding/json, producing a tree of
// map[string]any, []any, string, bool, json.Number and nil that shares no
// memory with the input. Numbers are kept as json.Number so their literal
// survives unchanged.
func detachJSON(v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return decodeJSON(raw, dst)
}

// decodeJSON decodes a JSON document with json.Number preserved.
func decodeJSON(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
