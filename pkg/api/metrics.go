package api

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments the HTTP surface following the RED pattern
// (rate, errors, duration).
type Metrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics registers the API instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("datakeep.api")

	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	errCounter, err := meter.Int64Counter("http.server.errors",
		metric.WithDescription("HTTP requests answered with 5xx"),
	)
	if err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}
	duration, err := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("Request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Metrics{requests: requests, errors: errCounter, duration: duration}, nil
}

// Middleware records one observation per request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.Int("http.status_code", rec.status),
		)
		m.requests.Add(r.Context(), 1, attrs)
		if rec.status >= 500 {
			m.errors.Add(r.Context(), 1, attrs)
		}
		m.duration.Record(r.Context(), float64(time.Since(start).Milliseconds()), attrs)
	})
}
