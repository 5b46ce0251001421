package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QueueState is the directory a record currently lives in.
type QueueState string

const (
	StateInput      QueueState = "input"
	StateProcessing QueueState = "processing"
	StateOutput     QueueState = "output"
	StateFailed     QueueState = "failed"
)

// AllStates lists the states in lifecycle order.
var AllStates = []QueueState{StateInput, StateProcessing, StateOutput, StateFailed}

func (s QueueState) Dir() string { return string(s) }

// IsTerminal reports whether the scanner never reads records in this state.
func (s QueueState) IsTerminal() bool {
	return s == StateOutput || s == StateFailed
}

func (s QueueState) Valid() bool {
	switch s {
	case StateInput, StateProcessing, StateOutput, StateFailed:
		return true
	}
	return false
}

func ParseQueueState(s string) (QueueState, error) {
	st := QueueState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown queue state %q", s)
	}
	return st, nil
}

// Record is a single request document as written by the producer.
type Record struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	SessionID string    `json:"sessionId"`
	Timestamp Timestamp `json:"timestamp"`

	// Optional; written by workers that stamp the claim time.
	MovedToProcessingAt *Timestamp `json:"movedToProcessingAt,omitempty"`
}

// Entry is a directory listing item. ModTime is the age signal.
type Entry struct {
	ID      string     `json:"id"`
	State   QueueState `json:"state"`
	ModTime time.Time  `json:"modTime"`
	Size    int64      `json:"size"`
}

// FileName is the on-disk name of the entry.
func (e Entry) FileName() string { return e.ID + ".json" }

// Timestamp accepts RFC3339 strings, zone-less ISO strings (read as UTC),
// JavaScript Date strings and epoch milliseconds. It always marshals as
// RFC3339 with nanoseconds.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t} }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	time.RFC1123Z,
	time.RFC1123,
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := parseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// Date.toString() appends a zone name: "... GMT+0000 (Coordinated Universal Time)".
	if i := strings.Index(s, " ("); i > 0 {
		s = s[:i]
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognized format", s)
}

// recordDoc is the wire shape. Everything except the prompt is decoded
// leniently so producer quirks never change how a record is classified.
type recordDoc struct {
	ID                  json.RawMessage `json:"id"`
	Prompt              json.RawMessage `json:"prompt"`
	SessionID           json.RawMessage `json:"sessionId"`
	Timestamp           json.RawMessage `json:"timestamp"`
	MovedToProcessingAt json.RawMessage `json:"movedToProcessingAt"`
}

// DecodeRecord parses a record document. It fails only when the document is
// not a JSON object or its prompt is not a string. Unparseable timestamps
// decode as zero and non-string ids are dropped. A record without a prompt
// is still returned; classification resolves it to the default category.
func DecodeRecord(data []byte) (*Record, error) {
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	var r Record
	if len(doc.Prompt) > 0 && !bytes.Equal(doc.Prompt, []byte("null")) {
		if err := json.Unmarshal(doc.Prompt, &r.Prompt); err != nil {
			return nil, fmt.Errorf("decode record prompt: %w", err)
		}
	}
	_ = json.Unmarshal(doc.ID, &r.ID)
	_ = json.Unmarshal(doc.SessionID, &r.SessionID)
	if len(doc.Timestamp) > 0 {
		_ = r.Timestamp.UnmarshalJSON(doc.Timestamp)
	}
	if len(doc.MovedToProcessingAt) > 0 {
		var moved Timestamp
		if err := moved.UnmarshalJSON(doc.MovedToProcessingAt); err == nil && !moved.IsZero() {
			r.MovedToProcessingAt = &moved
		}
	}
	return &r, nil
}

func EncodeRecord(r *Record) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
