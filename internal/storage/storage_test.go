package storage

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
)

func TestBuildEventFilterEmpty(t *testing.T) {
	where, args := buildEventFilter(EventFilters{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildEventFilter(t *testing.T) {
	typ := models.EventTypeAlertTriggered
	kind := models.AlertPrintComplete
	active := true
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	where, args := buildEventFilter(EventFilters{
		Type:      &typ,
		Kind:      &kind,
		Active:    &active,
		StartTime: &start,
	})

	assert.Equal(t, " WHERE type = $1 AND kind = $2 AND active = $3 AND created_at >= $4", where)
	assert.Equal(t, []any{typ, string(kind), true, start}, args)
}

type fakeWriter struct {
	mu      sync.Mutex
	events  []models.PrinterEvent
	block   chan struct{}
	failErr error
}

func (f *fakeWriter) CreateEvent(_ context.Context, event *models.PrinterEvent) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return f.failErr
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestRecorderWritesEvents(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, 8, zerolog.Nop())

	r.Record(models.PrinterEvent{Type: models.EventTypeConnected, Level: models.EventLevelInfo})
	r.Record(models.PrinterEvent{Type: models.EventTypeAlertTriggered, Level: models.EventLevelInfo, Kind: "print_complete"})
	r.Close()

	require.Equal(t, 2, w.count())
	assert.Equal(t, "print_complete", w.events[1].Kind)

	// Record after Close is ignored.
	r.Record(models.PrinterEvent{Type: models.EventTypeConnected})
	r.Close()
	assert.Equal(t, 2, w.count())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	w := &fakeWriter{block: make(chan struct{})}
	r := NewRecorder(w, 1, zerolog.New(&buf))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The worker holds at most one event while blocked, the queue one more.
		for i := 0; i < 5; i++ {
			r.Record(models.PrinterEvent{Type: models.EventTypeCommand, Level: models.EventLevelDebug})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked")
	}

	close(w.block)
	r.Close()

	assert.LessOrEqual(t, w.count(), 2)
	assert.Contains(t, buf.String(), "Event queue full")
}

func TestRecorderLogsStoreErrors(t *testing.T) {
	var buf bytes.Buffer
	w := &fakeWriter{failErr: errors.New("connection refused")}
	r := NewRecorder(w, 4, zerolog.New(&buf))

	r.Record(models.PrinterEvent{Type: models.EventTypeDisconnected, Level: models.EventLevelWarning})
	r.Close()

	assert.Contains(t, buf.String(), "Failed to store event")
	assert.Contains(t, buf.String(), "connection refused")
}
