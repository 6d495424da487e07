package dashboard

import "github.com/prometheus/client_golang/prometheus"

// metricsSet holds the Prometheus collectors shared by every dashboard in a
// Registry, so each host's series differ only by label rather than by a
// fresh collector per host.
type metricsSet struct {
	queries   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latencyUs *prometheus.HistogramVec
	connectMs *prometheus.HistogramVec
	errorsRow *prometheus.GaugeVec
}

func newMetricsSet() *metricsSet {
	ms := &metricsSet{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchd",
			Subsystem: "host",
			Name:      "queries_total",
			Help:      "Total successfully completed remote-agent queries per host.",
		}, []string{"host"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchd",
			Subsystem: "host",
			Name:      "failures_total",
			Help:      "Total failed remote-agent queries per host, by failure kind.",
		}, []string{"host", "kind"}),
		latencyUs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchd",
			Subsystem: "host",
			Name:      "query_latency_microseconds",
			Help:      "Remote-agent query latency per host.",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 16),
		}, []string{"host"}),
		connectMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchd",
			Subsystem: "host",
			Name:      "connect_milliseconds",
			Help:      "TCP connect latency per host.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"host"}),
		errorsRow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "searchd",
			Subsystem: "host",
			Name:      "errors_in_a_row",
			Help:      "Current consecutive-failure count per host.",
		}, []string{"host"}),
	}
	return ms
}

// Register adds every collector in ms to reg. Call once per process.
func (ms *metricsSet) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ms.queries, ms.failures, ms.latencyUs, ms.connectMs, ms.errorsRow} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Register exposes the Registry's Prometheus collectors for the caller to
// register against a prometheus.Registerer. The daemon does not call it:
// the admin /metrics endpoint serves the process-wide default registry, which
// carries these host series only once Register has been called with it. A
// Registry created with metricsEnabled=false has nothing to register.
func (r *Registry) Register(reg prometheus.Registerer) error {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.Register(reg)
}

// hostMetrics is a per-host view over the shared CounterVec/HistogramVec
// collectors, pre-bound with the host label so Dashboard.Record doesn't
// re-derive it on every call.
type hostMetrics struct {
	host      string
	set       *metricsSet
}

func (ms *metricsSet) forHost(host string) *hostMetrics {
	return &hostMetrics{host: host, set: ms}
}

func (hm *hostMetrics) observe(delta Counters, latencyUs int64, connectAttempts int, connectMs int64, errorsInARow int) {
	hm.set.errorsRow.WithLabelValues(hm.host).Set(float64(errorsInARow))
	if delta.CleanSuccesses > 0 {
		hm.set.queries.WithLabelValues(hm.host).Add(float64(delta.CleanSuccesses))
		hm.set.latencyUs.WithLabelValues(hm.host).Observe(float64(latencyUs))
	}
	observeFailure := func(kind string, n int) {
		if n > 0 {
			hm.set.failures.WithLabelValues(hm.host, kind).Add(float64(n))
		}
	}
	observeFailure("timeout_query", delta.TimeoutsQuery)
	observeFailure("timeout_connect", delta.TimeoutsConnect)
	observeFailure("connect_failure", delta.ConnectFailures)
	observeFailure("network_error", delta.NetworkErrors)
	observeFailure("wrong_reply", delta.WrongReplies)
	observeFailure("unexpected_close", delta.UnexpectedClose)
	observeFailure("critical_warning", delta.CriticalWarnings)
	for i := 0; i < connectAttempts; i++ {
		hm.set.connectMs.WithLabelValues(hm.host).Observe(float64(connectMs))
	}
}
