package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leozw/agentpulse/internal/core"
)

type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	KeyHash   string    `json:"-" db:"key_hash"`
	Email     *string   `json:"email,omitempty" db:"email"`
	Plan      core.Plan `json:"plan" db:"plan"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event is an immutable tenant-scoped fact. TS is the producer's timestamp in
// seconds; CreatedAt is assigned by the server on insert.
type Event struct {
	ID         int64     `json:"id" db:"id"`
	TenantID   string    `json:"-" db:"tenant_id"`
	Kind       string    `json:"kind" db:"kind"`
	TS         float64   `json:"ts" db:"ts"`
	SessionKey *string   `json:"session_key,omitempty" db:"session_key"`
	Data       Payload   `json:"data" db:"data"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CostDaily is the per-tenant, per-UTC-day cost rollup.
type CostDaily struct {
	TenantID    string  `json:"-" db:"tenant_id"`
	Date        string  `json:"date" db:"date"`
	TotalCost   float64 `json:"total_cost" db:"total_cost"`
	TotalTokens int64   `json:"total_tokens" db:"total_tokens"`
	EventCount  int64   `json:"event_count" db:"event_count"`
}

type AlertRule struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"-" db:"tenant_id"`
	Name       string    `json:"name" db:"name"`
	Metric     string    `json:"metric" db:"metric"`
	Operator   string    `json:"operator" db:"operator"`
	Threshold  float64   `json:"threshold" db:"threshold"`
	Channel    string    `json:"channel" db:"channel"`
	WebhookURL *string   `json:"webhook_url,omitempty" db:"webhook_url"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// EventFilter narrows ListEvents. Zero values mean "no filter".
type EventFilter struct {
	TenantID string
	Kind     string
	Session  string
	Since    float64
	Until    float64
	Limit    int
	Offset   int
}

type KindCount struct {
	Kind  string `json:"kind" db:"kind"`
	Count int    `json:"count" db:"count"`
}

type CronHealth struct {
	Job    *string `json:"job" db:"job"`
	Status *string `json:"status" db:"status"`
	Count  int     `json:"count" db:"count"`
}

type CronRun struct {
	Job        *string  `json:"job" db:"job"`
	TS         float64  `json:"ts" db:"ts"`
	Status     *string  `json:"status" db:"status"`
	DurationMs *float64 `json:"duration_ms" db:"duration_ms"`
}

type SessionSummary struct {
	SessionKey string  `json:"session_key" db:"session_key"`
	Started    float64 `json:"started" db:"started"`
	LastActive float64 `json:"last_active" db:"last_active"`
	Events     int     `json:"events" db:"events"`
}

// Payload is the semi-structured body of an event, stored as JSONB.
type Payload map[string]interface{}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Payload) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", value)
	}
	return json.Unmarshal(raw, p)
}

// DateKey formats t as the cost_daily date key (UTC).
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
