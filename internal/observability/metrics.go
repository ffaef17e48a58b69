// Package observability holds the Prometheus collectors shared by the detector and its HTTP server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amount_detector_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amount_detector_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// StageFallbacks counts enhanced stage calls that degraded to the rule-based variant
	StageFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amount_detector_stage_fallbacks_total",
			Help: "Enhanced stage calls that fell back to the rule-based variant",
		},
		[]string{"stage"},
	)

	// PipelineOutcomes counts full pipeline runs by terminal status
	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amount_detector_pipeline_outcomes_total",
			Help: "Full pipeline runs by terminal status and mode",
		},
		[]string{"status", "mode"},
	)
)
