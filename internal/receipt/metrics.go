package receipt

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_http_requests_total",
			Help: "Total HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fintrack_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_extractions_total",
			Help: "Receipt image analyses by result",
		},
		[]string{"result"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_submissions_total",
			Help: "Receipt submissions by result",
		},
		[]string{"result"},
	)

	compensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintrack_image_compensations_total",
			Help: "Uploaded images removed after a failed insert, by result",
		},
		[]string{"result"},
	)
)

// routePaths are the fixed request paths that keep their own metric label
var routePaths = map[string]bool{
	"/":                    true,
	"/static/app.css":      true,
	"/healthz":             true,
	"/metrics":             true,
	"/login":               true,
	"/signup":              true,
	"/logout":              true,
	"/dashboard":           true,
	"/receipts/new":        true,
	"/receipts/new/upload": true,
	"/receipts/new/edit":   true,
	"/receipts/new/submit": true,
	"/receipts/new/reset":  true,
	"/api/receipts":        true,
	"/api/receipts/scan":   true,
	"/api/dashboard":       true,
}

// normalizePath maps a request path onto a bounded set of metric labels.
// /receipts/3f1c.../image becomes /receipts/{id}/image and anything the
// server does not route becomes "other".
func normalizePath(path string) string {
	if routePaths[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/receipts/"); ok {
		if id, ok := strings.CutSuffix(rest, "/image"); ok && id != "" && !strings.Contains(id, "/") {
			return "/receipts/{id}/image"
		}
	}
	return "other"
}
