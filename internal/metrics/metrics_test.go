package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.Connections.Inc()
	m.Events.WithLabelValues("send_message").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("send_message")))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "roomtalk_ws_events_total")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.DroppedClients.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.DroppedClients))
}
