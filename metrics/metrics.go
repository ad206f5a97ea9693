// Package metrics exposes cyclic-handler and SVC counters as
// Prometheus metrics: cycle counts, telegram-error overruns, SVC
// errors per slave, topology changes, and the measured ring delay.
//
// Grounded on the rdma_exporter collector's plain
// prometheus.NewCounter/NewGauge construction (one Desc per metric,
// registered once at startup) and on the event-callback shape
// sockstats.Conn uses to report state transitions: the core calls one
// Observe* method per event rather than the metrics package reaching
// into core state itself.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sercos3/cosema/cyclic"
	"github.com/sercos3/cosema/redundancy"
)

// Metrics owns a private registry so multiple Instances in the same
// process (spec §9 "re-entrant use requires distinct Instances") don't
// collide on metric names.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal        prometheus.Counter
	telErrorOverruns   prometheus.Counter
	mstMisses          prometheus.Counter
	topologyChanges    *prometheus.CounterVec
	svcErrors          *prometheus.CounterVec
	slavesInactive     prometheus.Gauge
	ringDelayTSrefNs   prometheus.Gauge
}

// New builds a Metrics instance with all series registered and zeroed.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosema",
			Name:      "cycles_total",
			Help:      "Total number of cyclic handler invocations.",
		}),
		telErrorOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosema",
			Name:      "telegram_error_overruns_total",
			Help:      "Cycles where successive telegram errors exceeded usMaxNbrTelErr.",
		}),
		mstMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosema",
			Name:      "mst_misses_total",
			Help:      "Cycles where the Master Sync Telegram was missed on at least one port.",
		}),
		topologyChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosema",
			Name:      "topology_changes_total",
			Help:      "Topology transitions observed by the redundancy monitor, labeled by the state transitioned to.",
		}, []string{"to"}),
		svcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cosema",
			Name:      "svc_errors_total",
			Help:      "SVC macro failures, labeled by slave index.",
		}, []string{"slave"}),
		slavesInactive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosema",
			Name:      "slaves_inactive",
			Help:      "Number of projected slaves currently Inactive.",
		}),
		ringDelayTSrefNs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosema",
			Name:      "ring_delay_tsref_nanoseconds",
			Help:      "Most recently measured TSref ring-delay reference value.",
		}),
	}
	reg.MustRegister(m.cyclesTotal, m.telErrorOverruns, m.mstMisses, m.topologyChanges, m.svcErrors, m.slavesInactive, m.ringDelayTSrefNs)
	return m
}

// Handler exposes the registered series over HTTP in the Prometheus
// text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one cyclic.Result (spec §4.7 step 11).
func (m *Metrics) ObserveCycle(res cyclic.Result) {
	m.cyclesTotal.Inc()
	if res.TelErrorOverrun {
		m.telErrorOverruns.Inc()
	}
	if res.MSTError {
		m.mstMisses.Inc()
	}
}

// ObserveTopologyChange records a redundancy.Monitor transition.
func (m *Metrics) ObserveTopologyChange(to redundancy.Topology) {
	m.topologyChanges.WithLabelValues(to.String()).Inc()
}

// ObserveSVCError records a failed macro operation for slaveIndex.
func (m *Metrics) ObserveSVCError(slaveIndex int) {
	m.svcErrors.WithLabelValues(strconv.Itoa(slaveIndex)).Inc()
}

// SetSlavesInactive updates the current count of Inactive slaves.
func (m *Metrics) SetSlavesInactive(n int) {
	m.slavesInactive.Set(float64(n))
}

// SetRingDelay records a freshly completed ring-delay measurement.
func (m *Metrics) SetRingDelay(tsrefNs uint64) {
	m.ringDelayTSrefNs.Set(float64(tsrefNs))
}
