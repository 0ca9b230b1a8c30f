package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evv"

// Metricer ... metrics surface used across the EVV core
type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	// RecordRPCServerRequest times an HTTP request; the returned callback is
	// invoked with the response status when the request completes.
	RecordRPCServerRequest(method string) func(status string)

	RecordGeofenceCheck(stateCode, level string)
	RecordSubmission(aggregator, outcome string)
	RecordSubmissionRetry(aggregator string)
	RecordSyncPush(applied, failed int)
	RecordVMUR(event string)
	RecordTamperDetected()
}

// Metrics ... prometheus implementation
type Metrics struct {
	info *prometheus.GaugeVec
	up   prometheus.Gauge

	httpServerRequestsTotal   *prometheus.CounterVec
	httpServerRequestDuration *prometheus.HistogramVec

	geofenceChecksTotal *prometheus.CounterVec
	submissionsTotal    *prometheus.CounterVec
	submissionRetries   *prometheus.CounterVec
	syncPushApplied     prometheus.Counter
	syncPushFailed      prometheus.Counter
	vmurEventsTotal     *prometheus.CounterVec
	tamperDetectedTotal prometheus.Counter

	registry *prometheus.Registry
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics(subsystem string) *Metrics {
	if subsystem == "" {
		subsystem = "default"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto(registry)

	return &Metrics{
		registry: registry,
		info: factory.gaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, "version"),
		up: factory.gauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "up",
			Help:      "1 if the evv server has finished starting up",
		}),
		httpServerRequestsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_server_requests_total",
			Help:      "Total requests served, by method and status",
		}, "method", "status"),
		httpServerRequestDuration: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_server_request_duration_seconds",
			Help:      "Request serving latency",
			Buckets:   prometheus.DefBuckets,
		}, "method"),
		geofenceChecksTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "geofence_checks_total",
			Help:      "Geofence evaluations by state and compliance level",
		}, "state", "level"),
		submissionsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aggregator_submissions_total",
			Help:      "Aggregator submission attempts by aggregator and outcome",
		}, "aggregator", "outcome"),
		submissionRetries: factory.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aggregator_submission_retries_total",
			Help:      "Retries scheduled for aggregator submissions",
		}, "aggregator"),
		syncPushApplied: factory.counter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_push_entries_applied_total",
			Help:      "Offline sync entries applied",
		}),
		syncPushFailed: factory.counter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_push_entries_failed_total",
			Help:      "Offline sync entries rejected",
		}),
		vmurEventsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "vmur_events_total",
			Help:      "VMUR lifecycle events (created, approved, denied, expired)",
		}, "event"),
		tamperDetectedTotal: factory.counter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tamper_detected_total",
			Help:      "Records quarantined for integrity hash mismatch",
		}),
	}
}

func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordRPCServerRequest(method string) func(status string) {
	start := time.Now()
	return func(status string) {
		m.httpServerRequestsTotal.WithLabelValues(method, status).Inc()
		m.httpServerRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RecordGeofenceCheck(stateCode, level string) {
	m.geofenceChecksTotal.WithLabelValues(stateCode, level).Inc()
}

func (m *Metrics) RecordSubmission(aggregator, outcome string) {
	m.submissionsTotal.WithLabelValues(aggregator, outcome).Inc()
}

func (m *Metrics) RecordSubmissionRetry(aggregator string) {
	m.submissionRetries.WithLabelValues(aggregator).Inc()
}

func (m *Metrics) RecordSyncPush(applied, failed int) {
	m.syncPushApplied.Add(float64(applied))
	m.syncPushFailed.Add(float64(failed))
}

func (m *Metrics) RecordVMUR(event string) {
	m.vmurEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordTamperDetected() {
	m.tamperDetectedTotal.Inc()
}

// MetricsServer ... standalone prometheus scrape endpoint
type MetricsServer struct {
	srv      *http.Server
	listener net.Listener
}

func (ms *MetricsServer) Addr() string {
	return ms.listener.Addr().String()
}

func (ms *MetricsServer) Stop(ctx context.Context) error {
	return ms.srv.Shutdown(ctx)
}

// StartServer exposes the registry on its own listener.
func (m *Metrics) StartServer(host string, port int) (*MetricsServer, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics server listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		_ = srv.Serve(listener)
	}()

	return &MetricsServer{srv: srv, listener: listener}, nil
}

// small helper so constructor reads as a table
type factory struct{ reg *prometheus.Registry }

func promauto(reg *prometheus.Registry) factory { return factory{reg: reg} }

func (f factory) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	f.reg.MustRegister(g)
	return g
}

func (f factory) gaugeVec(opts prometheus.GaugeOpts, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labels)
	f.reg.MustRegister(g)
	return g
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(h)
	return h
}
