package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
)

// EventWriter is the part of Store the recorder needs.
type EventWriter interface {
	CreateEvent(ctx context.Context, event *models.PrinterEvent) error
}

// Recorder writes events from a background worker. Record never blocks;
// events are dropped with a warning when the queue is full.
type Recorder struct {
	store   EventWriter
	logger  zerolog.Logger
	timeout time.Duration

	queue chan models.PrinterEvent
	done  chan struct{}
	once  sync.Once
	mu    sync.RWMutex
	stop  bool
}

// NewRecorder starts the worker. size is the queue capacity.
func NewRecorder(store EventWriter, size int, logger zerolog.Logger) *Recorder {
	if size <= 0 {
		size = 128
	}
	r := &Recorder{
		store:   store,
		logger:  logger.With().Str("component", "event-recorder").Logger(),
		timeout: 5 * time.Second,
		queue:   make(chan models.PrinterEvent, size),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues an event for storage
func (r *Recorder) Record(event models.PrinterEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stop {
		return
	}

	select {
	case r.queue <- event:
	default:
		r.logger.Warn().
			Str("type", string(event.Type)).
			Str("kind", event.Kind).
			Msg("Event queue full, dropping event")
	}
}

// Close drains queued events and stops the worker.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.stop = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.CreateEvent(ctx, &event); err != nil {
			r.logger.Error().
				Err(err).
				Str("type", string(event.Type)).
				Msg("Failed to store event")
		}
		cancel()
	}
}
