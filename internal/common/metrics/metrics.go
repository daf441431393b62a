package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the service metrics on a private registry.
type Collector struct {
	reg *prometheus.Registry

	ScansTotal       prometheus.Counter
	ScanErrors       prometheus.Counter
	ActiveCandidates prometheus.Gauge

	TravelsStarted  prometheus.Counter
	TravelsFinished prometheus.Counter

	StopsCreated  prometheus.Counter
	StopsResolved prometheus.Counter

	SyncPasses    prometheus.Counter
	SyncSkipped   prometheus.Counter
	SyncErrors    *prometheus.CounterVec // stage label: pull|merge|push|upload
	SyncDuration  prometheus.Histogram
	PushedPending prometheus.Gauge

	EventsPublished  prometheus.Counter
	EventPublishErrs prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_scans_total",
			Help: "Total radio scans processed by the detection loop.",
		}),
		ScanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_scan_errors_total",
			Help: "Total scans that failed or returned no usable data.",
		}),
		ActiveCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commutetracker_active_candidates",
			Help: "Networks currently tracked as boarding candidates.",
		}),
		TravelsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_travels_started_total",
			Help: "Total travels opened by candidate promotion.",
		}),
		TravelsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_travels_finished_total",
			Help: "Total travels closed after departure detection.",
		}),
		StopsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_stops_created_total",
			Help: "Total stops created locally because no stop was within tolerance.",
		}),
		StopsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_stops_resolved_total",
			Help: "Total stop resolutions that matched an existing stop.",
		}),
		SyncPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_sync_passes_total",
			Help: "Total reconciliation passes executed.",
		}),
		SyncSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_sync_skipped_total",
			Help: "Sync requests dropped because a pass was already running.",
		}),
		SyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commutetracker_sync_errors_total",
			Help: "Reconciliation errors by stage.",
		}, []string{"stage"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "commutetracker_sync_duration_seconds",
			Help:    "Duration of full reconciliation passes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PushedPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commutetracker_unsynced_entities",
			Help: "Locally created entities still awaiting remote acknowledgment.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_events_published_total",
			Help: "Total outbound events published.",
		}),
		EventPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commutetracker_event_publish_errors_total",
			Help: "Total outbound event publish failures.",
		}),
	}

	reg.MustRegister(
		c.ScansTotal, c.ScanErrors, c.ActiveCandidates,
		c.TravelsStarted, c.TravelsFinished,
		c.StopsCreated, c.StopsResolved,
		c.SyncPasses, c.SyncSkipped, c.SyncErrors, c.SyncDuration, c.PushedPending,
		c.EventsPublished, c.EventPublishErrs,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
