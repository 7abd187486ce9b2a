// Package session owns the printer connection: dialing, validation,
// heartbeat and poll timers, reconnects, frame dispatch and command
// correlation. All session state is confined to one event-loop goroutine;
// socket readers and timers hand work to it through post.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/alert"
	"github.com/sdcp-bridge/sdcp-bridge/internal/clock"
	"github.com/sdcp-bridge/sdcp-bridge/internal/metrics"
	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/internal/state"
	"github.com/sdcp-bridge/sdcp-bridge/internal/transport"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

// Errors returned by Send and the loop helpers.
var (
	ErrNotConnected = errors.New("printer not connected")
	ErrClosed       = errors.New("session closed")
)

// Timer names
const (
	timerHeartbeat  = "heartbeat"
	timerPoll       = "poll"
	timerValidation = "validation"
	timerReconnect  = "reconnect"
)

// Config holds session timing and the printer address.
type Config struct {
	Host string
	Port int
	// CameraPort builds camera.stream_url when the printer's camera
	// response carries no StreamUrl. Zero disables the fallback.
	CameraPort int

	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	ValidationTimeout time.Duration
	CommandTimeout    time.Duration
	DialTimeout       time.Duration

	Alerts alert.Config
}

// DefaultConfig returns the stock timings for host.
func DefaultConfig(host string) Config {
	return Config{
		Host:              host,
		Port:              sdcp.DefaultPort,
		CameraPort:        sdcp.DefaultCameraPort,
		PollInterval:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReconnectInterval: 30 * time.Second,
		ValidationTimeout: 5 * time.Second,
		CommandTimeout:    30 * time.Second,
		DialTimeout:       10 * time.Second,
		Alerts:            alert.DefaultConfig(),
	}
}

// Recorder stores session and alert events. Record must not block.
type Recorder interface {
	Record(event models.PrinterEvent)
}

// Deps are the collaborators of a Session. Only Dialer is required.
type Deps struct {
	Dialer   transport.Dialer
	Clock    clock.Clock
	Sink     state.Sink
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *zerolog.Logger
}

type pendingCommand struct {
	cmd      sdcp.Command
	payload  any
	issuedAt time.Time
}

// Session manages a single printer connection.
type Session struct {
	cfg      Config
	dialer   transport.Dialer
	clock    clock.Clock
	sink     state.Sink
	recorder Recorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	alerts *alert.Engine
	timers *clock.Timers

	events    chan func()
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
	state     atomic.Int32

	// Loop-owned fields.
	ctx        context.Context
	cancelDial context.CancelFunc
	conn       transport.Conn
	gen        uint64
	frameSeen  bool
	prev       *models.StatusSnapshot
	pending    map[string]pendingCommand

	mu          sync.RWMutex
	last        *models.StatusSnapshot
	lastFrameAt time.Time
}

// New creates a Session. It does not connect until Run is called.
func New(cfg Config, deps Deps) *Session {
	s := &Session{
		cfg:      cfg,
		dialer:   deps.Dialer,
		clock:    deps.Clock,
		sink:     deps.Sink,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		logger:   log.Logger,
		events:   make(chan func(), 256),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		pending:  make(map[string]pendingCommand),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.sink == nil {
		s.sink = state.NewMemory()
	}
	if deps.Logger != nil {
		s.logger = *deps.Logger
	}
	s.logger = s.logger.With().Str("printer", cfg.Host).Logger()

	s.timers = clock.NewTimers(s.clock)
	s.alerts = alert.New(cfg.Alerts, s.clock,
		alert.WithDispatch(func(f func()) { s.post(f) }),
		alert.WithObserver(s.onAlertChange),
		alert.WithLogger(s.logger),
	)
	return s
}

// State returns the current connection state. Safe for concurrent use.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Alerts returns the alert engine owned by the session.
func (s *Session) Alerts() *alert.Engine {
	return s.alerts
}

// Snapshot returns the last normalized status and whether one exists.
func (s *Session) Snapshot() (models.StatusSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return models.StatusSnapshot{}, false
	}
	return *s.last, true
}

// LastFrameAt returns when the last frame arrived.
func (s *Session) LastFrameAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFrameAt
}

// Sink returns the state sink the session publishes to.
func (s *Session) Sink() state.Sink {
	return s.sink
}

// Run connects to the printer and processes events until ctx is done or
// Close is called. It always returns after a full teardown.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.done)

	s.ctx = ctx
	s.restore()
	s.setState(StateDisconnected)
	s.publish(state.PathConnection, false)
	s.connect()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-s.closing:
			s.shutdown()
			return nil
		case f := <-s.events:
			f()
		}
	}
}

// Close tears the session down from any state and waits for the loop to
// exit. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.running.Load() {
		<-s.done
	}
}

// Send writes a command to the printer and returns its RequestID. It
// fails with ErrNotConnected unless the session is Connected.
func (s *Session) Send(ctx context.Context, cmd sdcp.Command, payload any) (string, error) {
	type result struct {
		id  string
		err error
	}
	ch := make(chan result, 1)

	if !s.post(func() {
		id, err := s.send(cmd, payload)
		ch <- result{id, err}
	}) {
		return "", ErrClosed
	}

	select {
	case r := <-ch:
		return r.id, r.err
	case <-s.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ClearAlerts clears every alert on the loop.
func (s *Session) ClearAlerts(ctx context.Context) error {
	return s.do(ctx, func() { s.alerts.ClearAll() })
}

// post queues f for the loop. It reports false once the loop has exited.
func (s *Session) post(f func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- f:
		return true
	case <-s.done:
		return false
	}
}

// do runs f on the loop and waits for it.
func (s *Session) do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		f()
		close(finished)
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	s.metrics.SetConnectionState(int(st))
	if old != st {
		s.logger.Debug().Str("from", old.String()).Str("to", st.String()).Msg("Session state changed")
	}
	s.publish(state.PathState, st.String())
}

func (s *Session) publish(path string, value any) {
	if err := s.sink.Publish(s.ctx, path, value); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to publish state")
	}
}

func (s *Session) record(event models.PrinterEvent) {
	if s.recorder == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}
	s.recorder.Record(event)
}

// restore reloads the alert counter and publishes the initial alert state.
func (s *Session) restore() {
	if v, err := s.sink.ReadLast(s.ctx, state.PathAlertCount); err == nil {
		if n, ok := state.Int64(v); ok {
			s.alerts.SetCount(n)
			s.logger.Debug().Int64("count", n).Msg("Restored alert counter")
		}
	}

	for _, r := range s.alerts.Records() {
		s.publish(state.AlertPath(r.Kind), r.Active)
	}
	s.publish(state.PathAlertCount, s.alerts.Count())
}

func (s *Session) onAlertChange(c alert.Change) {
	s.publish(state.AlertPath(c.Record.Kind), c.Record.Active)

	if !c.Record.Active {
		s.record(models.PrinterEvent{
			Type:       models.EventTypeAlertCleared,
			Level:      models.EventLevelInfo,
			Kind:       string(c.Record.Kind),
			Message:    c.Record.LastMessage,
			AlertCount: c.Count,
		})
		return
	}

	s.publish(state.PathLastAlert, c.LastAlert)
	s.publish(state.PathAlertCount, c.Count)
	s.metrics.AlertTriggered(string(c.Record.Kind))

	level := models.EventLevelInfo
	if c.Record.Kind == models.AlertPrintError || c.Record.Kind == models.AlertConnectionLost {
		level = models.EventLevelWarning
	}
	s.record(models.PrinterEvent{
		Type:       models.EventTypeAlertTriggered,
		Level:      level,
		Kind:       string(c.Record.Kind),
		Active:     true,
		Message:    c.Record.LastMessage,
		AlertCount: c.Count,
	})
}
