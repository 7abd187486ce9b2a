package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sdcp-bridge/sdcp-bridge/internal/transport"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeDialer struct {
	mu    sync.Mutex
	fail  error
	dials int
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.fail
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c := &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
		return nil
	}
}

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	pings  atomic.Int32
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.out <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Ping() error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.pings.Add(1)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push delivers a frame from the printer.
func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- data
}

// written returns the next command the session wrote.
func (c *fakeConn) written(t *testing.T) sdcp.Request {
	t.Helper()
	select {
	case data := <-c.out:
		var env struct{ Data sdcp.Request }
		require.NoError(t, json.Unmarshal(data, &env))
		return env.Data
	case <-time.After(2 * time.Second):
		t.Fatal("nothing written")
		return sdcp.Request{}
	}
}

func (c *fakeConn) assertNothingWritten(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected write: %s", data)
	default:
	}
}

func statusFrame(code int, hotbed float64) map[string]any {
	return map[string]any{
		"Status": map[string]any{
			"TempOfHotbed": hotbed,
			"PrintInfo": map[string]any{
				"Status":   code,
				"Filename": "model.ctb",
			},
		},
	}
}

func responseFrame(cmd sdcp.Command, requestID string, data map[string]any) map[string]any {
	return map[string]any{
		"Id": "",
		"Data": map[string]any{
			"Cmd":       cmd,
			"Data":      data,
			"RequestID": requestID,
		},
	}
}
