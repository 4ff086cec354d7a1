package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics owns a private registry so several servers can coexist in one
// process (tests).
type Metrics struct {
	Registry *prometheus.Registry

	Frames         *prometheus.CounterVec
	Connections    prometheus.Gauge
	SendDropped    prometheus.Counter
	Uploads        *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	HousekeepRuns  prometheus.Counter
	ReapedSessions prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "frames_total",
			Help:      "Inbound duplex frames by type.",
		}, []string{"type"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "connections",
			Help:      "Open duplex connections.",
		}),
		SendDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "send_dropped_total",
			Help:      "Outbound frames dropped because a peer buffer was full.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "uploads_total",
			Help:      "Upload requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "store_errors_total",
			Help:      "Failed store operations by operation.",
		}, []string{"op"}),
		HousekeepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "housekeeping_runs_total",
			Help:      "Completed housekeeping runs.",
		}),
		ReapedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "upload_sessions_reaped_total",
			Help:      "Stale upload scratch entries removed.",
		}),
	}
	m.Registry.MustRegister(
		m.Frames, m.Connections, m.SendDropped, m.Uploads, m.StoreErrors,
		m.HousekeepRuns, m.ReapedSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus text format on fasthttp.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}
