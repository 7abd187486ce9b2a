// Package alert derives edge-triggered alerts from consecutive status
// snapshots and expires them after a configurable period.
package alert

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/clock"
	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

// Config holds alert thresholds
type Config struct {
	ClearAfter        time.Duration
	CooldownThreshold float64
	TemperatureDelta  float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		ClearAfter:        5 * time.Minute,
		CooldownThreshold: 40,
		TemperatureDelta:  10,
	}
}

// Change describes one trigger or clear.
type Change struct {
	Record    models.AlertRecord
	Count     int64
	LastAlert string
}

// Option configures an Engine
type Option func(*Engine)

// WithObserver registers fn to be called after every trigger and clear.
// fn runs without the engine lock held.
func WithObserver(fn func(Change)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithDispatch routes auto-clear callbacks through run, typically an event
// loop's post function. The default runs them on the timer goroutine.
func WithDispatch(run func(func())) Option {
	return func(e *Engine) { e.dispatch = run }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine owns every alert record, the global counter and the auto-clear
// timers. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	clock    clock.Clock
	timers   *clock.Timers
	observer func(Change)
	dispatch func(func())
	logger   zerolog.Logger

	mu        sync.Mutex
	records   map[models.AlertKind]*record
	count     int64
	lastAlert string
}

type record struct {
	models.AlertRecord
	gen uint64
}

// New creates an Engine
func New(cfg Config, c clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		clock:    c,
		timers:   clock.NewTimers(c),
		dispatch: func(f func()) { f() },
		logger:   log.Logger,
		records:  make(map[models.AlertKind]*record),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate compares cur with the snapshot before it and triggers every
// alert whose condition became true on this transition. prev is nil for
// the first snapshot of a session. It returns the kinds triggered.
func (e *Engine) Evaluate(prev *models.StatusSnapshot, cur models.StatusSnapshot) []models.AlertKind {
	if prev == nil {
		return nil
	}

	var fired []models.AlertKind
	fire := func(kind models.AlertKind, msg string) {
		e.Trigger(kind, msg)
		fired = append(fired, kind)
	}

	was, now := prev.Print.Status, cur.Print.Status
	if was.Valid && now.Valid && was.Value != now.Value {
		switch {
		case sdcp.IsPaused(now.Value) && !sdcp.IsPaused(was.Value):
			fire(models.AlertPrintPaused, "Print paused")
		case sdcp.IsComplete(now.Value) && !sdcp.IsComplete(was.Value):
			msg := "Print completed"
			if cur.Print.Filename.Valid && cur.Print.Filename.Value != "" {
				msg = fmt.Sprintf("Print completed: %s", cur.Print.Filename.Value)
			}
			fire(models.AlertPrintComplete, msg)
		case sdcp.IsFailed(now.Value) && !sdcp.IsFailed(was.Value):
			fire(models.AlertPrintError, fmt.Sprintf("Print stopped: %s", sdcp.StatusText(now.Value)))
		}
	}

	before, after := prev.Temperature.Hotbed, cur.Temperature.Hotbed
	if before.Valid && after.Valid {
		if before.Value > e.cfg.CooldownThreshold && after.Value <= e.cfg.CooldownThreshold {
			fire(models.AlertBedCooled, fmt.Sprintf("Hotbed cooled to %.1f°C", after.Value))
		}

		if delta := after.Value - before.Value; math.Abs(delta) > e.cfg.TemperatureDelta {
			e.logger.Warn().
				Float64("previous", before.Value).
				Float64("current", after.Value).
				Float64("delta", delta).
				Msg("Hotbed temperature jumped between status frames")
		}
	}

	return fired
}

// Baseline returns the snapshot to pass as prev on the next Evaluate. A
// frame that omits the print status or hotbed reading keeps the last known
// value, so a transition split by such a frame still fires.
func Baseline(prev *models.StatusSnapshot, cur models.StatusSnapshot) models.StatusSnapshot {
	if prev == nil {
		return cur
	}
	if !cur.Print.Status.Valid {
		cur.Print.Status = prev.Print.Status
	}
	if !cur.Temperature.Hotbed.Valid {
		cur.Temperature.Hotbed = prev.Temperature.Hotbed
	}
	return cur
}

// Trigger activates kind, bumps the counter and (re)arms its auto-clear
// timer. Triggering an active alert replaces its timer and message and
// still counts.
func (e *Engine) Trigger(kind models.AlertKind, msg string) {
	now := e.clock.Now()

	e.mu.Lock()
	r, ok := e.records[kind]
	if !ok {
		r = &record{AlertRecord: models.AlertRecord{Kind: kind}}
		e.records[kind] = r
	}
	r.gen++
	gen := r.gen
	r.Active = true
	r.LastMessage = msg
	r.TriggeredAt = now
	e.count++
	e.lastAlert = fmt.Sprintf("%s: %s", now.Format(time.DateTime), msg)
	change := Change{Record: r.AlertRecord, Count: e.count, LastAlert: e.lastAlert}
	e.mu.Unlock()

	if e.cfg.ClearAfter > 0 {
		e.timers.Replace(string(kind), e.cfg.ClearAfter, func() {
			e.dispatch(func() { e.expire(kind, gen) })
		})
	}

	e.logger.Info().Str("alert", string(kind)).Int64("count", change.Count).Msg(msg)
	e.notify(change)
}

func (e *Engine) expire(kind models.AlertKind, gen uint64) {
	e.mu.Lock()
	r, ok := e.records[kind]
	stale := !ok || r.gen != gen
	e.mu.Unlock()
	if stale {
		return
	}

	e.logger.Debug().Str("alert", string(kind)).Msg("Alert auto-cleared")
	e.Clear(kind)
}

// Clear deactivates kind and cancels its timer. Clearing an inactive
// alert does nothing.
func (e *Engine) Clear(kind models.AlertKind) {
	e.timers.Stop(string(kind))

	e.mu.Lock()
	r, ok := e.records[kind]
	if !ok || !r.Active {
		e.mu.Unlock()
		return
	}
	r.Active = false
	r.ClearedAt = e.clock.Now()
	change := Change{Record: r.AlertRecord, Count: e.count, LastAlert: e.lastAlert}
	e.mu.Unlock()

	e.notify(change)
}

// ClearAll clears every kind and cancels all pending auto-clear timers.
func (e *Engine) ClearAll() {
	for _, kind := range models.AlertKinds {
		e.Clear(kind)
	}
	e.timers.StopAll()
}

// Active reports whether kind is currently active.
func (e *Engine) Active(kind models.AlertKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[kind]
	return ok && r.Active
}

// Records returns the state of every kind, including ones that never fired.
func (e *Engine) Records() []models.AlertRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.AlertRecord, 0, len(models.AlertKinds))
	for _, kind := range models.AlertKinds {
		if r, ok := e.records[kind]; ok {
			out = append(out, r.AlertRecord)
			continue
		}
		out = append(out, models.AlertRecord{Kind: kind})
	}
	return out
}

// Count returns the number of triggers since the counter was last restored.
func (e *Engine) Count() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// SetCount restores the counter, typically from persisted state at startup.
func (e *Engine) SetCount(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count = n
}

// LastAlert returns the most recent timestamped alert message.
func (e *Engine) LastAlert() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAlert
}

// Close cancels every auto-clear timer without touching alert state.
func (e *Engine) Close() {
	e.timers.StopAll()
}

func (e *Engine) notify(c Change) {
	if e.observer != nil {
		e.observer(c)
	}
}
