package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sdcp-bridge/sdcp-bridge/internal/alert"
	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/internal/state"
	"github.com/sdcp-bridge/sdcp-bridge/internal/status"
	"github.com/sdcp-bridge/sdcp-bridge/internal/transport"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

// Everything in this file runs on the loop goroutine.

func (s *Session) connect() {
	if s.conn != nil || s.State() == StateClosing {
		return
	}

	s.gen++
	gen := s.gen
	s.setState(StateConnecting)
	s.logger.Info().Str("url", transport.URL(s.cfg.Host, s.cfg.Port)).Msg("Connecting to printer")

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	s.cancelDial = cancel

	go func() {
		defer cancel()
		conn, err := s.dialer.Dial(ctx, s.cfg.Host, s.cfg.Port)
		if !s.post(func() { s.onDial(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *Session) onDial(gen uint64, conn transport.Conn, err error) {
	if gen != s.gen || s.State() == StateClosing {
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.cancelDial = nil

	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to connect to printer")
		s.onDisconnect(gen, err)
		return
	}

	s.conn = conn
	s.frameSeen = false
	s.setState(StateValidating)
	s.logger.Info().Msg("Socket open, validating printer")

	if s.alerts.Active(models.AlertConnectionLost) {
		s.alerts.Clear(models.AlertConnectionLost)
	}

	go s.readLoop(gen, conn)

	s.repeat(timerHeartbeat, s.cfg.HeartbeatInterval, gen, s.heartbeat)
	s.repeat(timerPoll, s.cfg.PollInterval, gen, s.poll)
	s.after(timerValidation, s.cfg.ValidationTimeout, gen, func() {
		if !s.frameSeen {
			s.logger.Warn().
				Dur("after", s.cfg.ValidationTimeout).
				Msg("No frame from printer yet; it may not speak SDCP")
		}
	})

	if _, err := s.write(sdcp.CmdStatus, nil); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send validation probe")
	}
}

func (s *Session) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.post(func() { s.onDisconnect(gen, err) })
			return
		}
		if !s.post(func() { s.onFrame(gen, data) }) {
			return
		}
	}
}

func (s *Session) onFrame(gen uint64, data []byte) {
	if gen != s.gen || s.conn == nil {
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.lastFrameAt = now
	s.mu.Unlock()
	s.publish(state.PathLastFrameAt, now.UTC().Format(time.RFC3339Nano))

	frame, err := sdcp.Decode(data)
	if err != nil {
		s.metrics.DecodeError()
		s.logger.Error().Err(err).Int("bytes", len(data)).Msg("Dropping undecodable frame")
		return
	}
	s.metrics.FrameReceived(frame.Kind.String())
	if len(frame.Skipped) > 0 {
		s.logger.Debug().Strs("fields", frame.Skipped).Msg("Ignoring mistyped status fields")
	}

	s.frameSeen = true
	if s.State() == StateValidating {
		s.timers.Stop(timerValidation)
		s.setState(StateConnected)
		s.publish(state.PathConnection, true)
		s.logger.Info().Msg("Connected to printer")
		s.record(models.PrinterEvent{
			Type:    models.EventTypeConnected,
			Level:   models.EventLevelInfo,
			Message: "Connected to " + transport.URL(s.cfg.Host, s.cfg.Port),
		})
	}

	switch frame.Kind {
	case sdcp.KindStatus:
		s.handleStatus(frame.Status, now)
	case sdcp.KindResponse:
		s.handleResponse(frame.Response, now)
	default:
		s.logger.Debug().RawJSON("frame", data).Msg("Ignoring unrecognized frame")
	}
}

func (s *Session) handleStatus(raw *sdcp.RawStatus, now time.Time) {
	snap := status.Normalize(raw, now)

	s.alerts.Evaluate(s.prev, snap)
	base := alert.Baseline(s.prev, snap)
	s.prev = &base

	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	state.PublishSnapshot(s.ctx, s.sink, snap)
}

func (s *Session) handleResponse(resp *sdcp.Response, now time.Time) {
	id, p, ok := s.resolve(resp)
	logger := s.logger.With().Str("cmd", resp.Cmd.String()).Str("request_id", resp.RequestID).Logger()
	if ok {
		logger.Debug().Str("matched", id).Dur("latency", now.Sub(p.issuedAt)).Msg("Command acknowledged")
	} else {
		logger.Debug().Msg("Response without a pending command")
	}

	if resp.Ack != nil && *resp.Ack != 0 {
		logger.Warn().Int("ack", *resp.Ack).Msg("Printer rejected command")
	}

	if resp.Cmd == sdcp.CmdCamera {
		url := resp.StreamURL
		accepted := resp.Ack == nil || *resp.Ack == 0
		if url == "" && ok && accepted && cameraEnabled(p.payload) && s.cfg.CameraPort > 0 {
			url = "http://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.CameraPort)) + "/video"
		}
		if url != "" {
			s.publish(state.PathCameraStreamURL, url)
		}
	}
}

func cameraEnabled(payload any) bool {
	c, ok := payload.(sdcp.CameraPayload)
	return ok && c.Enable == 1
}

// resolve matches a response to a pending command by RequestID, falling
// back to the oldest pending command with the same code.
func (s *Session) resolve(resp *sdcp.Response) (string, pendingCommand, bool) {
	if p, ok := s.pending[resp.RequestID]; ok && resp.RequestID != "" {
		delete(s.pending, resp.RequestID)
		return resp.RequestID, p, true
	}

	var (
		oldestID string
		oldest   pendingCommand
		found    bool
	)
	for id, p := range s.pending {
		if p.cmd != resp.Cmd {
			continue
		}
		if !found || p.issuedAt.Before(oldest.issuedAt) {
			oldestID, oldest, found = id, p, true
		}
	}
	if found {
		delete(s.pending, oldestID)
	}
	return oldestID, oldest, found
}

// onDisconnect handles a failed dial, a read error or a write error on
// connection generation gen.
func (s *Session) onDisconnect(gen uint64, err error) {
	if gen != s.gen || s.State() == StateClosing {
		return
	}

	wasOpen := s.conn != nil
	s.teardown()
	s.setState(StateDisconnected)
	s.publish(state.PathConnection, false)

	if wasOpen {
		s.logger.Warn().Err(err).Msg("Printer connection closed")
		s.record(models.PrinterEvent{
			Type:    models.EventTypeDisconnected,
			Level:   models.EventLevelWarning,
			Message: errString(err),
		})
	}

	if wasOpen || !s.alerts.Active(models.AlertConnectionLost) {
		s.alerts.Trigger(models.AlertConnectionLost, fmt.Sprintf("Connection to printer %s lost", s.cfg.Host))
	}

	s.scheduleReconnect()
}

// teardown stops connection timers and drops the socket. Events still in
// flight for the old generation are ignored afterwards.
func (s *Session) teardown() {
	s.timers.Stop(timerHeartbeat)
	s.timers.Stop(timerPoll)
	s.timers.Stop(timerValidation)

	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Error closing printer socket")
		}
		s.conn = nil
	}
	if n := len(s.pending); n > 0 {
		s.logger.Debug().Int("pending", n).Msg("Dropping pending commands")
		s.pending = make(map[string]pendingCommand)
	}

	s.gen++
	s.frameSeen = false
	s.prev = nil
}

// scheduleReconnect arms the reconnect timer unless one is pending.
func (s *Session) scheduleReconnect() {
	if s.State() == StateClosing {
		return
	}

	d := s.cfg.ReconnectInterval
	scheduled := s.timers.Ensure(timerReconnect, d, func() {
		s.post(func() {
			if s.State() == StateClosing {
				return
			}
			s.metrics.ReconnectAttempt()
			s.logger.Info().Msg("Attempting to reconnect to printer")
			s.connect()
		})
	})
	if scheduled {
		s.logger.Info().Dur("in", d).Msg("Reconnect scheduled")
	}
}

func (s *Session) heartbeat() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Ping(); err != nil {
		s.logger.Warn().Err(err).Msg("Heartbeat failed")
		s.onDisconnect(s.gen, err)
	}
}

func (s *Session) poll() {
	s.sweepPending()
	if s.conn == nil {
		return
	}
	if _, err := s.write(sdcp.CmdStatus, nil); err != nil {
		s.logger.Debug().Err(err).Msg("Status poll failed")
	}
}

func (s *Session) sweepPending() {
	if s.cfg.CommandTimeout <= 0 {
		return
	}
	now := s.clock.Now()
	for id, p := range s.pending {
		if now.Sub(p.issuedAt) < s.cfg.CommandTimeout {
			continue
		}
		delete(s.pending, id)
		s.metrics.CommandTimeout()
		s.logger.Warn().
			Str("cmd", p.cmd.String()).
			Str("request_id", id).
			Dur("age", now.Sub(p.issuedAt)).
			Msg("Command timed out without a response")
	}
}

// repeat runs fn every d while connection generation gen is current.
func (s *Session) repeat(name string, d time.Duration, gen uint64, fn func()) {
	if d <= 0 {
		return
	}
	s.after(name, d, gen, func() {
		fn()
		if gen == s.gen {
			s.repeat(name, d, gen, fn)
		}
	})
}

// after runs fn once on the loop after d unless gen has moved on.
func (s *Session) after(name string, d time.Duration, gen uint64, fn func()) {
	if d <= 0 {
		return
	}
	s.timers.Replace(name, d, func() {
		s.post(func() {
			if gen != s.gen {
				return
			}
			fn()
		})
	})
}

func (s *Session) send(cmd sdcp.Command, payload any) (string, error) {
	if s.State() != StateConnected {
		return "", ErrNotConnected
	}
	return s.write(cmd, payload)
}

// write encodes and sends cmd on the open socket and tracks it as pending.
func (s *Session) write(cmd sdcp.Command, payload any) (string, error) {
	if s.conn == nil {
		return "", ErrNotConnected
	}

	now := s.clock.Now()
	data, id, err := sdcp.Encode(cmd, payload, now)
	if err != nil {
		return "", err
	}

	if err := s.conn.WriteMessage(data); err != nil {
		s.onDisconnect(s.gen, err)
		return "", fmt.Errorf("write %s: %w", cmd, err)
	}

	s.pending[id] = pendingCommand{cmd: cmd, payload: payload, issuedAt: now}
	s.metrics.CommandSent(cmd.String())
	s.logger.Debug().Str("cmd", cmd.String()).Str("request_id", id).Msg("Command sent")
	return id, nil
}

// shutdown releases every resource. It never fails.
func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 2*time.Second)
	defer cancel()
	s.ctx = ctx

	s.setState(StateClosing)
	s.logger.Info().Msg("Closing printer session")

	s.timers.StopAll()
	s.alerts.Close()
	s.teardown()

	s.publish(state.PathConnection, false)
	s.state.Store(int32(StateDisconnected))
	s.metrics.SetConnectionState(int(StateDisconnected))
	s.publish(state.PathState, StateDisconnected.String())
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
