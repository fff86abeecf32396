package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus collectors on an isolated registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	SnapshotsObservedTotal  *prometheus.CounterVec
	StateChangesTotal       *prometheus.CounterVec
	NotificationsSuppressed prometheus.Counter
	ListenerPanicsTotal     prometheus.Counter
	Listeners               prometheus.Gauge
	ObserverRegistered      *prometheus.GaugeVec
	ProbeTotal              *prometheus.CounterVec
	ProbeLatencySeconds     *prometheus.HistogramVec
	GatewayLookupsTotal     *prometheus.CounterVec
	InternetReachable       prometheus.Gauge
	BuildInfo               *prometheus.GaugeVec
}

// NewMetrics creates all collectors and registers them.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		SnapshotsObservedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netinfo_snapshots_observed_total",
				Help: "Snapshots computed by the observer.",
			},
			[]string{"observer"},
		),
		StateChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netinfo_state_changes_total",
				Help: "Snapshots dispatched to listeners, by connection type.",
			},
			[]string{"type"},
		),
		NotificationsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netinfo_notifications_suppressed_total",
			Help: "Snapshots dropped because they equalled the previous one.",
		}),
		ListenerPanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netinfo_listener_panics_total",
			Help: "Listener callbacks that panicked during dispatch.",
		}),
		Listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netinfo_listeners",
			Help: "Registered change listeners.",
		}),
		ObserverRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netinfo_observer_registered",
				Help: "1 while the OS observer is registered.",
			},
			[]string{"observer"},
		),
		ProbeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netinfo_probe_total",
				Help: "Reachability probes by method and result.",
			},
			[]string{"method", "result"},
		),
		ProbeLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netinfo_probe_latency_seconds",
				Help:    "Latency of successful reachability probes.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		GatewayLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netinfo_gateway_lookups_total",
				Help: "Gateway lookups by result.",
			},
			[]string{"result"},
		),
		InternetReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netinfo_internet_reachable",
			Help: "1 reachable, 0 unreachable, -1 unknown.",
		}),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netinfo_info",
				Help: "Build information.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.SnapshotsObservedTotal,
		m.StateChangesTotal,
		m.NotificationsSuppressed,
		m.ListenerPanicsTotal,
		m.Listeners,
		m.ObserverRegistered,
		m.ProbeTotal,
		m.ProbeLatencySeconds,
		m.GatewayLookupsTotal,
		m.InternetReachable,
		m.BuildInfo,
	)
	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	m.InternetReachable.Set(-1)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveSnapshot counts a snapshot produced by the named observer.
func (m *Metrics) ObserveSnapshot(observer string) {
	if m == nil {
		return
	}
	m.SnapshotsObservedTotal.WithLabelValues(observer).Inc()
}

// ObserveDispatch records a publish outcome.
func (m *Metrics) ObserveDispatch(connType string, delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.StateChangesTotal.WithLabelValues(connType).Inc()
		return
	}
	m.NotificationsSuppressed.Inc()
}

// ObserveListenerPanic counts a recovered listener panic.
func (m *Metrics) ObserveListenerPanic() {
	if m == nil {
		return
	}
	m.ListenerPanicsTotal.Inc()
}

// SetListeners records the current listener count.
func (m *Metrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.Listeners.Set(float64(n))
}

// SetObserverRegistered flips the registration gauge for an observer kind.
func (m *Metrics) SetObserverRegistered(observer string, registered bool) {
	if m == nil {
		return
	}
	v := 0.0
	if registered {
		v = 1
	}
	m.ObserverRegistered.WithLabelValues(observer).Set(v)
}

// ObserveProbe records one reachability probe.
func (m *Metrics) ObserveProbe(method string, ok bool, latency time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
		m.ProbeLatencySeconds.WithLabelValues(method).Observe(latency.Seconds())
	}
	m.ProbeTotal.WithLabelValues(method, result).Inc()
}

// ObserveGatewayLookup records one gateway lookup.
func (m *Metrics) ObserveGatewayLookup(ok bool) {
	if m == nil {
		return
	}
	result := "empty"
	if ok {
		result = "resolved"
	}
	m.GatewayLookupsTotal.WithLabelValues(result).Inc()
}

// SetInternetReachable mirrors the effective reachability.
func (m *Metrics) SetInternetReachable(v float64) {
	if m == nil {
		return
	}
	m.InternetReachable.Set(v)
}
