package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Event history
	CreateEvent(ctx context.Context, event *models.PrinterEvent) error
	GetEvent(ctx context.Context, id string) (*models.PrinterEvent, error)
	ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.PrinterEvent, int64, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)

	// Close the store
	Close() error
}

// EventFilters represents filters for printer events
type EventFilters struct {
	Type      *models.EventType
	Level     *models.EventLevel
	Kind      *models.AlertKind
	Active    *bool
	StartTime *time.Time
	EndTime   *time.Time
}
