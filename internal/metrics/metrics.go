// Package metrics provides Prometheus metrics for the medallion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Run metrics
	RunsStarted   *prometheus.CounterVec
	RunsSucceeded *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec

	// Stage metrics
	StagesSucceeded *prometheus.CounterVec
	StagesFailed    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	LastSuccess     *prometheus.GaugeVec

	// Source metrics
	FetchBytes   *prometheus.CounterVec
	FetchRecords *prometheus.GaugeVec

	// Table metrics
	RowsWritten     *prometheus.GaugeVec
	BytesWritten    *prometheus.CounterVec
	FilesWritten    *prometheus.CounterVec
	TableVersion    *prometheus.GaugeVec
	RowsDropped     *prometheus.CounterVec
	RowsDefaulted   *prometheus.CounterVec
	PartitionsCount *prometheus.GaugeVec

	// Error metrics
	StorageErrors *prometheus.CounterVec
	CatalogErrors *prometheus.CounterVec
	LineageErrors *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init registers the pipeline metrics with the default registry.
// Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(namespace, prometheus.DefaultRegisterer)
	defaultMetrics = m
	return m
}

// New creates metrics registered with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "medallion"
	}
	f := promauto.With(reg)

	return &Metrics{
		RunsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
			[]string{"context"},
		),
		RunsSucceeded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_succeeded_total",
				Help:      "Total number of pipeline runs that completed every stage",
			},
			[]string{"context"},
		),
		RunsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_failed_total",
				Help:      "Total number of pipeline runs that stopped on a failed stage",
			},
			[]string{"context"},
		),
		StagesSucceeded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_succeeded_total",
				Help:      "Total number of successful stage executions",
			},
			[]string{"context", "stage"},
		),
		StagesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_failed_total",
				Help:      "Total number of failed stage attempts",
			},
			[]string{"context", "stage"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time to execute one stage attempt",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"context", "stage"},
		),
		LastSuccess: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful stage execution",
			},
			[]string{"context", "stage"},
		),
		FetchBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_bytes_total",
				Help:      "Decoded bytes received from the source endpoint",
			},
			[]string{"context"},
		),
		FetchRecords: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fetch_records",
				Help:      "Number of records in the last fetched snapshot",
			},
			[]string{"context"},
		),
		RowsWritten: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rows_written",
				Help:      "Rows written by the last successful stage execution",
			},
			[]string{"context", "stage"},
		),
		BytesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_written_total",
				Help:      "Total bytes written to layer storage",
			},
			[]string{"context", "stage"},
		),
		FilesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_written_total",
				Help:      "Total data files written to layer storage",
			},
			[]string{"context", "stage"},
		),
		TableVersion: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_version",
				Help:      "Last committed table version",
			},
			[]string{"context", "stage"},
		),
		RowsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dropped_total",
				Help:      "Rows excluded by the missing key policy",
			},
			[]string{"context"},
		),
		RowsDefaulted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_defaulted_total",
				Help:      "Rows whose missing keys were filled with the default value",
			},
			[]string{"context"},
		),
		PartitionsCount: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "partitions",
				Help:      "Number of partitions in the last committed table version",
			},
			[]string{"context", "stage"},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage read/write errors",
			},
			[]string{"context", "stage"},
		),
		CatalogErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of catalog errors",
			},
			[]string{"context"},
		),
		LineageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lineage_errors_total",
				Help:      "Total number of lineage emission errors",
			},
			[]string{"context"},
		),
		RetryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of stage retry attempts",
			},
			[]string{"context", "stage"},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler serves /metrics and /health for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler(prometheus.DefaultGatherer))
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Context string
	Stage   string
}

// IncRunsStarted increments the runs started counter.
func (m *Metrics) IncRunsStarted(l Labels) {
	m.RunsStarted.WithLabelValues(l.Context).Inc()
}

// IncRunsSucceeded increments the runs succeeded counter.
func (m *Metrics) IncRunsSucceeded(l Labels) {
	m.RunsSucceeded.WithLabelValues(l.Context).Inc()
}

// IncRunsFailed increments the runs failed counter.
func (m *Metrics) IncRunsFailed(l Labels) {
	m.RunsFailed.WithLabelValues(l.Context).Inc()
}

// IncStagesSucceeded increments the stage success counter and stamps the
// last success time.
func (m *Metrics) IncStagesSucceeded(l Labels, unixSeconds float64) {
	m.StagesSucceeded.WithLabelValues(l.Context, l.Stage).Inc()
	m.LastSuccess.WithLabelValues(l.Context, l.Stage).Set(unixSeconds)
}

// IncStagesFailed increments the stage failure counter.
func (m *Metrics) IncStagesFailed(l Labels) {
	m.StagesFailed.WithLabelValues(l.Context, l.Stage).Inc()
}

// ObserveStageDuration records one stage attempt's duration.
func (m *Metrics) ObserveStageDuration(l Labels, seconds float64) {
	m.StageDuration.WithLabelValues(l.Context, l.Stage).Observe(seconds)
}

// AddFetchBytes adds to the fetched bytes counter.
func (m *Metrics) AddFetchBytes(l Labels, n float64) {
	m.FetchBytes.WithLabelValues(l.Context).Add(n)
}

// SetFetchRecords sets the record count of the last fetch.
func (m *Metrics) SetFetchRecords(l Labels, n float64) {
	m.FetchRecords.WithLabelValues(l.Context).Set(n)
}

// ObserveWrite records the output of a stage write.
func (m *Metrics) ObserveWrite(l Labels, rows, bytes, files float64) {
	m.RowsWritten.WithLabelValues(l.Context, l.Stage).Set(rows)
	m.BytesWritten.WithLabelValues(l.Context, l.Stage).Add(bytes)
	m.FilesWritten.WithLabelValues(l.Context, l.Stage).Add(files)
}

// SetTableVersion sets the last committed version of a stage's table.
func (m *Metrics) SetTableVersion(l Labels, version float64) {
	m.TableVersion.WithLabelValues(l.Context, l.Stage).Set(version)
}

// SetPartitions sets the partition count of a stage's table.
func (m *Metrics) SetPartitions(l Labels, n float64) {
	m.PartitionsCount.WithLabelValues(l.Context, l.Stage).Set(n)
}

// AddRowsDropped adds to the dropped rows counter.
func (m *Metrics) AddRowsDropped(l Labels, n float64) {
	m.RowsDropped.WithLabelValues(l.Context).Add(n)
}

// AddRowsDefaulted adds to the defaulted rows counter.
func (m *Metrics) AddRowsDefaulted(l Labels, n float64) {
	m.RowsDefaulted.WithLabelValues(l.Context).Add(n)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	m.StorageErrors.WithLabelValues(l.Context, l.Stage).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors(l Labels) {
	m.CatalogErrors.WithLabelValues(l.Context).Inc()
}

// IncLineageErrors increments the lineage errors counter.
func (m *Metrics) IncLineageErrors(l Labels) {
	m.LineageErrors.WithLabelValues(l.Context).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Context, l.Stage).Inc()
}
