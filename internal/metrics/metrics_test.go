package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.FrameReceived("status")
	m.FrameReceived("status")
	m.CommandSent("pause")
	m.AlertTriggered("bed_cooled")
	m.SetConnectionState(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesReceived.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsSent.WithLabelValues("pause")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsTriggered.WithLabelValues("bed_cooled")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.connectionState))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameReceived("status")
		m.DecodeError()
		m.ReconnectAttempt()
		m.CommandSent("pause")
		m.CommandTimeout()
		m.AlertTriggered("x")
		m.SetConnectionState(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.DecodeError()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sdcp_bridge_session_decode_errors_total 1")
}
