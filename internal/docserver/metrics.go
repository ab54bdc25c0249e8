package docserver

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	writeOps        prometheus.Histogram
	quotaRejections prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docserver_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docserver_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),

		writeOps: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docserver_transaction_operations",
			Help:    "Operations per applied transaction",
			Buckets: []float64{1, 5, 25, 100, 450, 1000, 5000},
		}),

		quotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "docserver_quota_rejections_total",
			Help: "Transactions rejected by the daily write quota",
		}),
	}
}

func (m *metrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)
		if err != nil {
			ctx.Error(err)
		}

		route := ctx.Path()
		method := ctx.Request().Method
		status := strconv.Itoa(ctx.Response().Status)
		m.requests.WithLabelValues(method, route, status).Inc()
		m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return nil
	}
}
