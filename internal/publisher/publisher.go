// Package publisher emits capture lifecycle events to downstream
// consumers.
package publisher

import (
	"context"
	"time"
)

// Publisher delivers an event payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CaptureCompleted announces that a capture reached a terminal state.
type CaptureCompleted struct {
	RecordID    string    `json:"record_id,omitempty"`
	TenantID    string    `json:"tenant_id"`
	Fingerprint string    `json:"fingerprint"`
	StorageKey  string    `json:"storage_key,omitempty"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}
