package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostPort(t *testing.T, server *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestURL(t *testing.T) {
	assert.Equal(t, "ws://192.168.1.20:3030/websocket", URL("192.168.1.20", 3030))
	assert.Equal(t, "ws://[::1]:3030/websocket", URL("::1", 3030))
}

func TestDialEchoAndPing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	pinged := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			select {
			case pinged <- struct{}{}:
			default:
			}
			return nil
		})

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	host, port := hostPort(t, server)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewWebSocketDialer().Dial(ctx, host, port)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping())
	require.NoError(t, conn.WriteMessage([]byte(`{"hello":"printer"}`)))

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"printer"}`, string(data))

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see ping")
	}

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	_, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestDialRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host, port := hostPort(t, server)
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewWebSocketDialer().Dial(ctx, host, port)
	assert.Error(t, err)
}

func TestReadFailsWhenPongsStop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Swallow pings without answering.
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	host, port := hostPort(t, server)
	d := NewWebSocketDialer()
	d.PongWait = 200 * time.Millisecond

	conn, err := d.Dial(context.Background(), host, port)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping())

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage()
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not time out without pongs")
	}
}

func TestPongsKeepConnectionAlive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Default ping handler answers with a pong.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	host, port := hostPort(t, server)
	d := NewWebSocketDialer()
	d.PongWait = 300 * time.Millisecond

	conn, err := d.Dial(context.Background(), host, port)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage()
		done <- err
	}()

	// Ping well inside the wait for longer than the wait itself.
	for i := 0; i < 6; i++ {
		require.NoError(t, conn.Ping())
		select {
		case err := <-done:
			t.Fatalf("read ended early: %v", err)
		case <-time.After(100 * time.Millisecond):
		}
	}

	require.NoError(t, conn.Close())
	assert.Error(t, <-done)
}
