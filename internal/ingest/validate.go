package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

const (
	// MaxBatchEvents is the hard ceiling on a batch, regardless of plan.
	MaxBatchEvents = 500
	// MaxPayloadBytes bounds one event's serialized data object.
	MaxPayloadBytes = 16 * 1024
	// MaxSessionLength bounds the optional session key, in characters.
	MaxSessionLength = 256
	// MinTimestamp is 2020-01-01T00:00:00Z.
	MinTimestamp = 1577836800
	// MaxClockSkew is how far into the future a producer timestamp may be.
	MaxClockSkew = 24 * time.Hour
)

var kindPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// EventInput is one event as submitted. Optional fields stay raw so that a
// wrongly typed value is reported against its index instead of failing the
// whole body.
type EventInput struct {
	Kind    string          `json:"kind"`
	TS      json.RawMessage `json:"ts,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Batch struct {
	Events []EventInput `json:"events"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// validateEvent turns input into an event for tenantID, or explains why not.
func validateEvent(in EventInput, tenantID string, now time.Time) (*db.Event, error) {
	if !kindPattern.MatchString(in.Kind) {
		return nil, fmt.Errorf("kind must match %s", kindPattern.String())
	}
	if in.Kind == core.KindAlertFired {
		return nil, fmt.Errorf("kind %s is reserved for alert firings", core.KindAlertFired)
	}

	ts := float64(now.UnixNano()) / 1e9
	if present(in.TS) {
		if err := json.Unmarshal(in.TS, &ts); err != nil {
			return nil, fmt.Errorf("ts must be a number of seconds")
		}
		if math.IsNaN(ts) || math.IsInf(ts, 0) {
			return nil, fmt.Errorf("ts must be finite")
		}
		if ts < MinTimestamp {
			return nil, fmt.Errorf("ts is before 2020-01-01")
		}
		if ts > float64(now.Add(MaxClockSkew).Unix()) {
			return nil, fmt.Errorf("ts is more than a day in the future")
		}
	}

	var session *string
	if present(in.Session) {
		var s string
		if err := json.Unmarshal(in.Session, &s); err != nil {
			return nil, fmt.Errorf("session must be a string")
		}
		if utf8.RuneCountInString(s) > MaxSessionLength {
			return nil, fmt.Errorf("session exceeds %d characters", MaxSessionLength)
		}
		if s != "" {
			session = &s
		}
	}

	data := db.Payload{}
	if present(in.Data) {
		trimmed := bytes.TrimSpace(in.Data)
		if trimmed[0] != '{' {
			return nil, fmt.Errorf("data must be a JSON object")
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err != nil {
			return nil, fmt.Errorf("data is not valid JSON")
		}
		if compact.Len() > MaxPayloadBytes {
			return nil, fmt.Errorf("data exceeds %d bytes", MaxPayloadBytes)
		}
		if err := json.Unmarshal(compact.Bytes(), &data); err != nil {
			return nil, fmt.Errorf("data must be a JSON object")
		}
	}

	return &db.Event{
		TenantID:   tenantID,
		Kind:       in.Kind,
		TS:         ts,
		SessionKey: session,
		Data:       data,
		CreatedAt:  now,
	}, nil
}

// Validate checks the whole batch and returns it as events. The first
// invalid event rejects the batch.
func Validate(batch []EventInput, tenantID string, now time.Time) ([]*db.Event, error) {
	if len(batch) == 0 {
		return nil, core.Validation("events must be a non-empty array")
	}
	if len(batch) > MaxBatchEvents {
		return nil, core.Validation("batch exceeds %d events", MaxBatchEvents)
	}

	events := make([]*db.Event, 0, len(batch))
	for i, in := range batch {
		e, err := validateEvent(in, tenantID, now)
		if err != nil {
			return nil, core.Validation("events[%d]: %s", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}
