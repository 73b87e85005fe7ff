// Package metrics provides Prometheus metrics for one ETL run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Stage outcome labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Transfer direction labels.
const (
	DirectionDownload = "download"
	DirectionUpload   = "upload"
	DirectionDelete   = "delete"
)

// Metrics holds all run metrics on a private registry.
type Metrics struct {
	StageDuration      *prometheus.GaugeVec
	StageRuns          *prometheus.CounterVec
	TableRows          *prometheus.GaugeVec
	TableFiles         *prometheus.GaugeVec
	ObjectsTransferred *prometheus.CounterVec
	BytesTransferred   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers the run metrics.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.StageDuration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sparkify_etl",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last run of each stage",
		},
		[]string{"stage"},
	)

	m.StageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sparkify_etl",
			Name:      "stage_runs_total",
			Help:      "Stage executions by outcome",
		},
		[]string{"stage", "status"},
	)

	m.TableRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sparkify_etl",
			Name:      "table_rows",
			Help:      "Rows written to each output table",
		},
		[]string{"table"},
	)

	m.TableFiles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sparkify_etl",
			Name:      "table_files",
			Help:      "Parquet files written to each output table",
		},
		[]string{"table"},
	)

	m.ObjectsTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sparkify_etl",
			Name:      "objects_transferred_total",
			Help:      "Objects downloaded, uploaded or deleted",
		},
		[]string{"direction"},
	)

	m.BytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sparkify_etl",
			Name:      "bytes_transferred_total",
			Help:      "Bytes downloaded or uploaded",
		},
		[]string{"direction"},
	)

	m.registry.MustRegister(
		m.StageDuration,
		m.StageRuns,
		m.TableRows,
		m.TableFiles,
		m.ObjectsTransferred,
		m.BytesTransferred,
	)
	return m
}

// Registry returns the registry holding the run metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
	m.StageRuns.WithLabelValues(stage, status).Inc()
}

// RecordTable records the size of a written table.
func (m *Metrics) RecordTable(table string, rows int64, files int) {
	m.TableRows.WithLabelValues(table).Set(float64(rows))
	m.TableFiles.WithLabelValues(table).Set(float64(files))
}

// AddTransferred counts objects and bytes moved in one direction.
func (m *Metrics) AddTransferred(direction string, objects int, bytes int64) {
	m.ObjectsTransferred.WithLabelValues(direction).Add(float64(objects))
	if bytes > 0 {
		m.BytesTransferred.WithLabelValues(direction).Add(float64(bytes))
	}
}

// Push sends the registry to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
