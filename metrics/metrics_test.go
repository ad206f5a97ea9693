package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sercos3/cosema/cyclic"
	"github.com/sercos3/cosema/redundancy"
)

func TestObserveCycleIncrementsCounters(t *testing.T) {
	m := New()
	m.ObserveCycle(cyclic.Result{OK: true})
	m.ObserveCycle(cyclic.Result{OK: false, TelErrorOverrun: true, MSTError: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "cosema_cycles_total 2")
	assert.Contains(t, body, "cosema_telegram_error_overruns_total 1")
	assert.Contains(t, body, "cosema_mst_misses_total 1")
}

func TestObserveTopologyChangeLabelsByTarget(t *testing.T) {
	m := New()
	m.ObserveTopologyChange(redundancy.TopologyBrokenRing)
	m.ObserveTopologyChange(redundancy.TopologyBrokenRing)
	m.ObserveTopologyChange(redundancy.TopologyRing)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `to="BrokenRing"} 2`))
	assert.True(t, strings.Contains(body, `to="Ring"} 1`))
}

func TestObserveSVCErrorLabelsBySlave(t *testing.T) {
	m := New()
	m.ObserveSVCError(3)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `slave="3"} 1`)
}

func TestSetGauges(t *testing.T) {
	m := New()
	m.SetSlavesInactive(2)
	m.SetRingDelay(123456)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "cosema_slaves_inactive 2")
	assert.Contains(t, body, "cosema_ring_delay_tsref_nanoseconds 123456")
}
