// Package metrics exposes lockbox counters and gauges in Prometheus format.
//
// Every method is safe on a nil *Metrics so components can run without a
// registry in tests and one-shot CLI commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lockbox"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	mountsActive     *prometheus.GaugeVec
	mountOps         *prometheus.CounterVec
	mountDuration    *prometheus.HistogramVec
	evictDeferred    prometheus.Counter
	uploadChunks     prometheus.Counter
	uploadBytes      prometheus.Counter
	uploadsFinished  *prometheus.CounterVec
	transcodeJobs    *prometheus.CounterVec
	transcodeSeconds *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
}

// New creates a registry with process and Go runtime collectors plus the
// lockbox collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		mountsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mounts_active",
			Help:      "Encrypted volume mounts currently attached, by purpose",
		}, []string{"purpose"}),
		mountOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mount_operations_total",
			Help:      "Mount and unmount attempts by purpose, operation and result",
		}, []string{"purpose", "op", "result"}),
		mountDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mount_duration_seconds",
			Help:      "Time spent in gocryptfs mount and fusermount unmount",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"op"}),
		evictDeferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_deferred_total",
			Help:      "Logouts whose unmount was deferred by running uploads or transcodes",
		}),
		uploadChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_chunks_total",
			Help:      "Upload chunks stored",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Upload chunk bytes stored",
		}),
		uploadsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_finished_total",
			Help:      "Upload sessions leaving the registry, by outcome",
		}, []string{"outcome"}),
		transcodeJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_jobs_total",
			Help:      "Finished transcode jobs by media type and final status",
		}, []string{"type", "status"}),
		transcodeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Wall-clock duration of transcode jobs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"type"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Background tasks waiting for a worker",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MountAttached records a successful mount.
func (m *Metrics) MountAttached(purpose string, took time.Duration) {
	if m == nil {
		return
	}
	m.mountsActive.WithLabelValues(purpose).Inc()
	m.mountOps.WithLabelValues(purpose, "mount", "ok").Inc()
	m.mountDuration.WithLabelValues("mount").Observe(took.Seconds())
}

// MountFailed records a failed mount attempt.
func (m *Metrics) MountFailed(purpose string) {
	if m == nil {
		return
	}
	m.mountOps.WithLabelValues(purpose, "mount", "error").Inc()
}

// MountDetached records a successful unmount.
func (m *Metrics) MountDetached(purpose string, took time.Duration) {
	if m == nil {
		return
	}
	m.mountsActive.WithLabelValues(purpose).Dec()
	m.mountOps.WithLabelValues(purpose, "unmount", "ok").Inc()
	m.mountDuration.WithLabelValues("unmount").Observe(took.Seconds())
}

// UnmountFailed records an unmount that left the volume attached.
func (m *Metrics) UnmountFailed(purpose string) {
	if m == nil {
		return
	}
	m.mountOps.WithLabelValues(purpose, "unmount", "error").Inc()
}

// EvictionDeferred counts a logout that left mounts in place.
func (m *Metrics) EvictionDeferred() {
	if m == nil {
		return
	}
	m.evictDeferred.Inc()
}

// ChunkStored records one stored upload chunk of n bytes.
func (m *Metrics) ChunkStored(n int64) {
	if m == nil {
		return
	}
	m.uploadChunks.Inc()
	m.uploadBytes.Add(float64(n))
}

// UploadFinished counts an upload session ending as completed, aborted or reaped.
func (m *Metrics) UploadFinished(outcome string) {
	if m == nil {
		return
	}
	m.uploadsFinished.WithLabelValues(outcome).Inc()
}

// TranscodeFinished records a finished transcode job.
func (m *Metrics) TranscodeFinished(mediaType, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.transcodeJobs.WithLabelValues(mediaType, status).Inc()
	m.transcodeSeconds.WithLabelValues(mediaType).Observe(took.Seconds())
}

// SetQueueDepth reports the number of queued background tasks.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
