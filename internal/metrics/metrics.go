// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package metrics defines the Prometheus instruments exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts HTTP requests by method, path, and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration observes request latency by method and path.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tilevault_api_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIActiveRequests gauges in-flight requests.
	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tilevault_api_active_requests",
			Help: "In-flight HTTP requests",
		},
	)

	// RateLimitRejections counts requests refused by the sliding-window limiter.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilevault_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// TilesDiscovered counts tiles returned by discovery queries, per dataset.
	TilesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_tiles_discovered_total",
			Help: "Tiles returned by discovery queries",
		},
		[]string{"dataset"},
	)

	// TilesServed counts tile files streamed to clients, per dataset.
	TilesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_tiles_served_total",
			Help: "Tile files streamed to clients",
		},
		[]string{"dataset"},
	)

	// BatchArchives counts batch archives assembled, per dataset.
	BatchArchives = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilevault_batch_archives_total",
			Help: "Batch archives assembled",
		},
		[]string{"dataset"},
	)

	// AccessRequestsAccepted counts persisted access requests.
	AccessRequestsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilevault_access_requests_accepted_total",
			Help: "Access requests persisted to the intake log",
		},
	)
)

// RecordAPIRequest records one completed request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
