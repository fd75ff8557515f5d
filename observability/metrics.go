// Package observability declares the Prometheus collectors of the relay.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// Ingress metrics
	MessagesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_messages_accepted_total",
			Help: "Messages accepted by the ingress service",
		},
		[]string{"kind"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_messages_rejected_total",
			Help: "Send requests rejected by the ingress service",
		},
		[]string{"reason"},
	)

	AudioStorage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_audio_storage_total",
			Help: "Audio payloads stored, by strategy",
		},
		[]string{"strategy"}, // "upload" or "data_uri"
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_relay_upload_duration_seconds",
			Help:    "Media host upload latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Hub metrics
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_events_delivered_total",
			Help: "Events enqueued to a subscriber",
		},
	)

	SubscribersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_subscribers_dropped_total",
			Help: "Subscribers removed during a publish",
		},
		[]string{"reason"}, // "full" or "closed"
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_active_rooms",
			Help: "Rooms with at least one subscriber",
		},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_active_subscribers",
			Help: "Connections subscribed to a room",
		},
	)

	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_open_connections",
			Help: "Persistent connections currently open",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"route"},
	)

	// Process metrics
	ProcessCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_process_cpu_percent",
			Help: "CPU usage of the relay process",
		},
	)

	ProcessRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_process_rss_bytes",
			Help: "Resident memory of the relay process",
		},
	)
)
