package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest(http.MethodGet, "/workOrders/:workOrderNumber", http.StatusOK, 5*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/workOrders/:workOrderNumber", http.StatusOK, 5*time.Millisecond)
	m.Operation("create", "ok")
	m.OutboxPublished(3)
	m.OutboxPublished(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/workOrders/:workOrderNumber", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.outboxPublished))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
		m.Operation("get", "ok")
		m.OutboxPublished(1)
	})
}
