package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	m := New()

	m.ActiveSessions.Inc()
	m.ClientFrames.WithLabelValues("audio").Add(3)
	m.SuppressedChunks.Inc()
	m.ReconnectAttempts.Inc()
	m.ReconnectOutcomes.WithLabelValues("recovered").Inc()
	m.TurnsCommitted.Inc()

	require.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ClientFrames.WithLabelValues("audio")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReconnectOutcomes.WithLabelValues("recovered")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.TurnsCommitted.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "livegw_turns_committed_total 1")
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.TurnsCommitted.Inc()
	require.Equal(t, 0.0, testutil.ToFloat64(b.TurnsCommitted))
}
