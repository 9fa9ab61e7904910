// Copyright 2025 Trustcompute Protocol
//
// Ambient HTTP middleware: request correlation IDs and Prometheus request
// metrics, wrapping every handler the same way regardless of which
// component it belongs to.

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestIDFromContext returns the correlation ID WithRequestID attached
// to ctx, or "" if none was attached.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestID assigns each inbound request a UUID correlation ID,
// echoed back on the X-Request-Id response header, so a client and this
// node's logs can be joined on one value.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var (
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trustcompute",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status_class"})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustcompute",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served, by route and status class.",
	}, []string{"route", "status_class"})
)

func init() {
	prometheus.MustRegister(requestDuration, requestsTotal)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// WithMetrics records request count and latency for route, the registered
// mux pattern rather than the raw (high-cardinality) URL path.
func WithMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		class := statusClass(rec.status)
		requestDuration.WithLabelValues(route, class).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(route, class).Inc()
	}
}
