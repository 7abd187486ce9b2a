package models

import "time"

// AlertKind identifies an alert
type AlertKind string

const (
	AlertPrintComplete  AlertKind = "print_complete"
	AlertPrintPaused    AlertKind = "print_paused"
	AlertPrintError     AlertKind = "print_error"
	AlertBedCooled      AlertKind = "bed_cooled"
	AlertConnectionLost AlertKind = "connection_lost"
)

// AlertKinds lists every known kind in a stable order.
var AlertKinds = []AlertKind{
	AlertPrintComplete,
	AlertPrintPaused,
	AlertPrintError,
	AlertBedCooled,
	AlertConnectionLost,
}

// Valid reports whether k is a known kind.
func (k AlertKind) Valid() bool {
	for _, known := range AlertKinds {
		if k == known {
			return true
		}
	}
	return false
}

// AlertRecord is the state of one alert kind.
type AlertRecord struct {
	Kind        AlertKind `json:"kind"`
	Active      bool      `json:"active"`
	LastMessage string    `json:"lastMessage,omitempty"`
	TriggeredAt time.Time `json:"triggeredAt,omitempty"`
	ClearedAt   time.Time `json:"clearedAt,omitempty"`
}
