package middleware

import (
	"strconv"
	"sync"
	"time"

	"VolSurface/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	size     *prometheus.HistogramVec
}

var (
	httpOnce sync.Once
	httpM    *httpMetrics
)

func metricsSet() *httpMetrics {
	httpOnce.Do(func() {
		httpM = &httpMetrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "volsurface_http_requests_total",
				Help: "HTTP requests by route, method and status",
			}, []string{"route", "method", "status"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "volsurface_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}, []string{"route", "method", "class"}),
			inFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "volsurface_http_in_flight_requests",
				Help: "Requests being served",
			}, []string{"route", "method"}),
			size: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "volsurface_http_response_size_bytes",
				Help:    "Response body size; full surfaces with a grid run to a few hundred KB",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			}, []string{"route", "method", "class"}),
		}
	})
	return httpM
}

// Metrics records request metrics labelled by the echo route template, which keeps
// cardinality bounded. Requests to skipPath are not recorded. Errors are rendered here
// so the recorded status is the one the client sees; 5xx answers are logged as errors
// and answers slower than slow as warnings.
func Metrics(l *logger.Logger, slow time.Duration, skipPath string) echo.MiddlewareFunc {
	m := metricsSet()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if route == skipPath {
				return next(c)
			}
			method := c.Request().Method

			gauge := m.inFlight.WithLabelValues(route, method)
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			took := time.Since(start)

			res := c.Response()
			status := strconv.Itoa(res.Status)
			class := statusClass(res.Status)
			m.requests.WithLabelValues(route, method, status).Inc()
			m.latency.WithLabelValues(route, method, class).Observe(took.Seconds())
			m.size.WithLabelValues(route, method, class).Observe(float64(res.Size))

			if l == nil || (res.Status < 500 && (slow <= 0 || took < slow)) {
				return nil
			}
			fields := []logger.Field{
				logger.String("request_id", requestID(c)),
				logger.String("route", route),
				logger.String("method", method),
				logger.Int("status", res.Status),
				logger.Duration("duration_ms", took),
				logger.Int64("bytes", res.Size),
			}
			if res.Status >= 500 {
				l.Error("http request failed", fields...)
			} else {
				l.Warn("http request slow", fields...)
			}
			return nil
		}
	}
}

// statusClass maps 404 to "4xx". Codes outside 100-599 count as 5xx.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
