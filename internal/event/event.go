package event

import "time"

type Type string

const (
	TypeAudit Type = "audit"
)

type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Name      string         `json:"name"`
	AccountID string         `json:"account_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Bus interface {
	Publish(e Event) bool
	Subscribe() (<-chan Event, func())
}
