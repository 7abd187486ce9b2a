package models

import (
	"time"

	"github.com/google/uuid"
)

// PrinterEvent is one row of the alert/connection history.
type PrinterEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Type       EventType  `json:"type" db:"type"`
	Level      EventLevel `json:"level" db:"level"`
	Kind       string     `json:"kind,omitempty" db:"kind"`
	Active     bool       `json:"active" db:"active"`
	Message    string     `json:"message" db:"message"`
	AlertCount int64      `json:"alertCount" db:"alert_count"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Alert events
	EventTypeAlertTriggered EventType = "ALERT_TRIGGERED"
	EventTypeAlertCleared   EventType = "ALERT_CLEARED"

	// Session events
	EventTypeConnected    EventType = "CONNECTED"
	EventTypeDisconnected EventType = "DISCONNECTED"
	EventTypeCommand      EventType = "COMMAND"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
