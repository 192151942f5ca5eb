package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagestudio_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagestudio_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagestudio_quota_checks_total",
			Help: "Quota check decisions by outcome (allowed, denied, error).",
		},
		[]string{"outcome"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagestudio_quota_denials_total",
			Help: "Quota denials by exhausted window.",
		},
		[]string{"window"},
	)

	ImagesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagestudio_images_generated_total",
			Help: "Images recorded by the usage tracker, per model.",
		},
		[]string{"model"},
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagestudio_generation_requests_total",
			Help: "Generation requests by final status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaChecksTotal,
		QuotaDenialsTotal,
		ImagesGeneratedTotal,
		GenerationRequestsTotal,
	)
}
