// Package command translates external verbs into SDCP commands.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/internal/session"
	"github.com/sdcp-bridge/sdcp-bridge/internal/state"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

// Errors returned by the dispatcher
var (
	ErrNotConnected  = session.ErrNotConnected
	ErrNoFilename    = errors.New("no print file configured")
	ErrInvalidFan    = errors.New("invalid fan or speed")
	ErrUnknownAction = errors.New("unknown action")
)

const localPrefix = "/local/"

// Session is the part of session.Session the dispatcher needs.
type Session interface {
	State() session.State
	Send(ctx context.Context, cmd sdcp.Command, payload any) (string, error)
	Snapshot() (models.StatusSnapshot, bool)
	ClearAlerts(ctx context.Context) error
}

// Dispatcher exposes the printer verbs. It never queues: commands issued
// while the session is not connected are dropped with a warning.
type Dispatcher struct {
	session Session
	sink    state.Sink
	logger  zerolog.Logger

	mu       sync.Mutex
	cameraOn bool
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher. sink is used to read and store the configured
// print file.
func New(s Session, sink state.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{session: s, sink: sink, logger: log.Logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RequestStatus asks the printer for a status frame.
func (d *Dispatcher) RequestStatus(ctx context.Context) error {
	return d.send(ctx, sdcp.CmdStatus, nil)
}

// RequestAttributes asks the printer for its attributes.
func (d *Dispatcher) RequestAttributes(ctx context.Context) error {
	return d.send(ctx, sdcp.CmdAttributes, nil)
}

func (d *Dispatcher) Pause(ctx context.Context) error {
	return d.send(ctx, sdcp.CmdPause, nil)
}

func (d *Dispatcher) Resume(ctx context.Context) error {
	return d.send(ctx, sdcp.CmdResume, nil)
}

func (d *Dispatcher) Cancel(ctx context.Context) error {
	return d.send(ctx, sdcp.CmdCancel, nil)
}

// StartPrint starts filename, or the stored print file when filename is
// empty. Names without the /local/ prefix get it added.
func (d *Dispatcher) StartPrint(ctx context.Context, filename string) error {
	if filename == "" {
		filename = d.printFile(ctx)
	}
	if filename == "" {
		d.logger.Warn().Msg("No print file configured, not starting print")
		return ErrNoFilename
	}

	return d.send(ctx, sdcp.CmdStartPrint, sdcp.StartPrintPayload{
		Filename: NormalizeFilename(filename),
	})
}

// ToggleLight inverts the last reported light state and keeps the RGB
// values.
func (d *Dispatcher) ToggleLight(ctx context.Context) error {
	on := false
	rgb := []int{0, 0, 0}
	if snap, ok := d.session.Snapshot(); ok {
		on = snap.Lighting.SecondLight.Valid && snap.Lighting.SecondLight.Value
		if len(snap.Lighting.RGB) == 3 {
			rgb = append([]int(nil), snap.Lighting.RGB...)
		}
	}

	return d.send(ctx, sdcp.CmdControl, sdcp.LightPayload{
		LightStatus: sdcp.LightState{SecondLight: !on, RgbLight: rgb},
	})
}

func (d *Dispatcher) EnableCamera(ctx context.Context) error {
	return d.setCamera(ctx, true)
}

func (d *Dispatcher) DisableCamera(ctx context.Context) error {
	return d.setCamera(ctx, false)
}

// ToggleCamera flips the camera stream state last requested through this
// dispatcher.
func (d *Dispatcher) ToggleCamera(ctx context.Context) error {
	d.mu.Lock()
	on := !d.cameraOn
	d.mu.Unlock()
	return d.setCamera(ctx, on)
}

func (d *Dispatcher) setCamera(ctx context.Context, on bool) error {
	enable := 0
	if on {
		enable = 1
	}
	if err := d.send(ctx, sdcp.CmdCamera, sdcp.CameraPayload{Enable: enable}); err != nil {
		return err
	}
	d.mu.Lock()
	d.cameraOn = on
	d.mu.Unlock()
	return nil
}

// SetFan sets one fan ("model", "auxiliary" or "box") to pct percent.
func (d *Dispatcher) SetFan(ctx context.Context, which string, pct int) error {
	name, ok := fanNames[strings.ToLower(which)]
	if !ok || pct < 0 || pct > 100 {
		d.logger.Warn().Str("fan", which).Int("percent", pct).Msg("Rejected fan command")
		return fmt.Errorf("%w: %s=%d", ErrInvalidFan, which, pct)
	}

	return d.send(ctx, sdcp.CmdControl, sdcp.FanPayload{
		TargetFanSpeed: map[string]int{name: pct},
	})
}

var fanNames = map[string]string{
	"model":     sdcp.FanModel,
	"auxiliary": sdcp.FanAuxiliary,
	"box":       sdcp.FanBox,
}

// ClearAlerts clears every active alert. It works while disconnected.
func (d *Dispatcher) ClearAlerts(ctx context.Context) error {
	return d.session.ClearAlerts(ctx)
}

// SetPrintFile stores the file StartPrint uses when called without one.
func (d *Dispatcher) SetPrintFile(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := d.sink.Publish(ctx, state.PathPrintFile, name); err != nil {
		return fmt.Errorf("store print file: %w", err)
	}
	d.logger.Info().Str("file", name).Msg("Print file set")
	return nil
}

func (d *Dispatcher) printFile(ctx context.Context) string {
	v, err := d.sink.ReadLast(ctx, state.PathPrintFile)
	if err != nil {
		return ""
	}
	name, _ := state.String(v)
	return strings.TrimSpace(name)
}

func (d *Dispatcher) send(ctx context.Context, cmd sdcp.Command, payload any) error {
	if st := d.session.State(); st != session.StateConnected {
		d.logger.Warn().Str("cmd", cmd.String()).Str("state", st.String()).Msg("Printer not connected, dropping command")
		return ErrNotConnected
	}

	id, err := d.session.Send(ctx, cmd, payload)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			d.logger.Warn().Str("cmd", cmd.String()).Msg("Printer not connected, dropping command")
		}
		return err
	}

	d.logger.Info().Str("cmd", cmd.String()).Str("request_id", id).Msg("Command sent to printer")
	return nil
}

// NormalizeFilename prefixes name with /local/ unless it already has it.
func NormalizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, localPrefix) {
		return name
	}
	return localPrefix + strings.TrimPrefix(name, "/")
}

// Actions lists the trigger names accepted by Execute.
var Actions = []string{
	"start_print",
	"pause_print",
	"resume_print",
	"cancel_print",
	"toggle_light",
	"toggle_camera",
	"enable_camera",
	"disable_camera",
	"request_status",
	"clear_alerts",
	"print_file",
	"set_fan",
}

// Execute runs an external trigger. arg carries the file name for
// start_print and print_file, and "fan=percent" for set_fan.
func (d *Dispatcher) Execute(ctx context.Context, action, arg string) error {
	switch action {
	case "start_print":
		return d.StartPrint(ctx, arg)
	case "pause_print":
		return d.Pause(ctx)
	case "resume_print":
		return d.Resume(ctx)
	case "cancel_print":
		return d.Cancel(ctx)
	case "toggle_light":
		return d.ToggleLight(ctx)
	case "toggle_camera":
		return d.ToggleCamera(ctx)
	case "enable_camera":
		return d.EnableCamera(ctx)
	case "disable_camera":
		return d.DisableCamera(ctx)
	case "request_status":
		return d.RequestStatus(ctx)
	case "clear_alerts":
		return d.ClearAlerts(ctx)
	case "print_file":
		return d.SetPrintFile(ctx, arg)
	case "set_fan":
		which, pct, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("%w: expected fan=percent, got %q", ErrInvalidFan, arg)
		}
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFan, err)
		}
		return d.SetFan(ctx, strings.TrimSpace(which), n)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}
