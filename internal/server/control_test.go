package server

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"

	"github.com/sdcp-bridge/sdcp-bridge/internal/command"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

type call struct{ action, arg string }

type recordingExecutor struct {
	calls []call
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, action, arg string) error {
	r.calls = append(r.calls, call{action, arg})
	return r.err
}

func TestHandleControl(t *testing.T) {
	exec := &recordingExecutor{}
	s := NewControlSubscriber(nil, exec, "sdcp.printer")

	s.handleControl(context.Background(), &nats.Msg{Subject: "sdcp.printer.control.pause_print", Data: []byte("true")})
	s.handleControl(context.Background(), &nats.Msg{Subject: "sdcp.printer.control.print_file", Data: []byte(`"cube.ctb"`)})
	s.handleControl(context.Background(), &nats.Msg{Subject: "sdcp.printer.control.toggle_light", Data: []byte("false")})

	assert.Equal(t, []call{{"pause_print", ""}, {"print_file", "cube.ctb"}}, exec.calls)
}

func TestHandleControlErrorWithoutReply(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("printer not connected")}
	s := NewControlSubscriber(nil, exec, "sdcp")

	assert.NotPanics(t, func() {
		s.handleControl(context.Background(), &nats.Msg{Subject: "sdcp.control.cancel_print"})
	})
	assert.Len(t, exec.calls, 1)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "sdcp.temperature.hotbed", Subject("sdcp", "temperature.hotbed"))
	assert.Equal(t, "info.connection", Subject("", "info.connection"))
}

func TestHandleControlOfflineLogsAtDebug(t *testing.T) {
	buf := captureLog(t)
	s := NewControlSubscriber(nil, &recordingExecutor{err: command.ErrNotConnected}, "sdcp")

	s.handleControl(context.Background(), &nats.Msg{Subject: "sdcp.control.pause_print"})

	assert.Contains(t, buf.String(), `"message":"Control action failed"`)
	assert.NotContains(t, buf.String(), `"level":"warn"`)
}

func TestHandleControlFailureLogsAtWarn(t *testing.T) {
	buf := captureLog(t)
	s := NewControlSubscriber(nil, &recordingExecutor{err: command.ErrNoFilename}, "sdcp")

	s.handleControl(context.Background(), &nats.Msg{Subject: "sdcp.control.start_print"})

	assert.Contains(t, buf.String(), `"level":"warn"`)
}
