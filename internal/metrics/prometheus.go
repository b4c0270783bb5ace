package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	Registry *prometheus.Registry

	// Run metrics
	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
	RunDuration   prometheus.Histogram
	AudioDuration prometheus.Histogram

	// Chunk metrics
	ChunksPlanned   prometheus.Counter
	ChunksProcessed prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram

	// Transcoder metrics
	TranscodeDuration *prometheus.HistogramVec
	TranscodeFailures *prometheus.CounterVec

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Store and staging metrics
	StoreWrites      *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	StagingTransfers *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg)
}

// NewMetricsWith creates and registers all metrics on reg.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		// Run metrics
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_runs_started_total",
			Help: "Total number of transcription runs started",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_runs_completed_total",
			Help: "Total number of transcription runs completed",
		}, []string{"mode"}),
		RunsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_runs_failed_total",
			Help: "Total number of transcription runs failed, by the state they failed in",
		}, []string{"state"}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_active_runs",
			Help: "Current number of runs in progress",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_run_duration_seconds",
			Help:    "Wall-clock duration of transcription runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_audio_duration_seconds",
			Help:    "Duration of decoded uploads",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10), // 15s to ~2 hours
		}),

		// Chunk metrics
		ChunksPlanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_chunks_planned_total",
			Help: "Total number of chunk windows planned",
		}),
		ChunksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_chunks_processed_total",
			Help: "Total number of chunks transcribed and stored",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_chunk_duration_seconds",
			Help:    "Audio length of processed chunks",
			Buckets: prometheus.LinearBuckets(10, 10, 12), // 10s to 2 minutes
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_chunk_size_bytes",
			Help:    "Size of WAV segments sent for transcription",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10), // 64KB to ~32MB
		}),

		// Transcoder metrics
		TranscodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcribe_transcode_duration_seconds",
			Help:    "Duration of transcoder invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"op"}),
		TranscodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_transcode_failures_total",
			Help: "Total number of failed transcoder steps",
		}, []string{"op"}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Store and staging metrics
		StoreWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_store_writes_total",
			Help: "Total number of transcript store writes",
		}, []string{"op"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_store_errors_total",
			Help: "Total number of transcript store errors",
		}, []string{"op"}),
		StagingTransfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_staging_transfers_total",
			Help: "Total number of chunk staging round trips",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordRunStarted increments the started counter and the active gauge
func (m *Metrics) RecordRunStarted() {
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// RecordRunCompleted records a successful run
func (m *Metrics) RecordRunCompleted(mode string, durationSeconds, audioSeconds float64) {
	m.ActiveRuns.Dec()
	m.RunsCompleted.WithLabelValues(mode).Inc()
	m.RunDuration.Observe(durationSeconds)
	m.AudioDuration.Observe(audioSeconds)
}

// RecordRunFailed records a run that failed in state
func (m *Metrics) RecordRunFailed(state string, durationSeconds float64) {
	m.ActiveRuns.Dec()
	m.RunsFailed.WithLabelValues(state).Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordChunksPlanned adds planned windows
func (m *Metrics) RecordChunksPlanned(count int) {
	m.ChunksPlanned.Add(float64(count))
}

// RecordChunkProcessed records a processed chunk
func (m *Metrics) RecordChunkProcessed(durationSeconds float64, sizeBytes int) {
	m.ChunksProcessed.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTranscode records one transcoder step
func (m *Metrics) RecordTranscode(op string, durationSeconds float64, failed bool) {
	m.TranscodeDuration.WithLabelValues(op).Observe(durationSeconds)
	if failed {
		m.TranscodeFailures.WithLabelValues(op).Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordStoreWrite records a store write and whether it failed
func (m *Metrics) RecordStoreWrite(op string, failed bool) {
	if failed {
		m.StoreErrors.WithLabelValues(op).Inc()
		return
	}
	m.StoreWrites.WithLabelValues(op).Inc()
}

// RecordStaging records a staging round trip
func (m *Metrics) RecordStaging(failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.StagingTransfers.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
