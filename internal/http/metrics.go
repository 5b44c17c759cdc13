package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/triaged/internal/http"

// durationBuckets cover fast status reads up to slow audit listings.
var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// requestMetrics counts status API traffic by method, route and status.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// newRequestMetrics registers the instruments on meter, or on the global
// meter provider when meter is nil.
func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	var m requestMetrics
	var err1, err2, err3 error
	m.requests, err1 = meter.Int64Counter("triaged.http.requests_total",
		metric.WithDescription("Status API requests."),
		metric.WithUnit("{request}"))
	m.duration, err2 = meter.Float64Histogram("triaged.http.request_duration_seconds",
		metric.WithDescription("Status API request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	m.inflight, err3 = meter.Int64UpDownCounter("triaged.http.active_requests",
		metric.WithDescription("Status API requests in progress."),
		metric.WithUnit("{request}"))
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			m.inflight.Add(ctx, 1)
			defer m.inflight.Add(ctx, -1)

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			return err
		}
	}
}

// routeLabel returns the matched route template. Unmatched requests share
// one label so arbitrary URLs cannot grow the series count.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
