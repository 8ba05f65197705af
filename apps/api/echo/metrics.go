package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Login outcomes
const (
	loginSucceeded = "succeeded"
	loginFailed    = "failed"
	loginThrottled = "throttled"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradebook",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gradebook",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latencies by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	loginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradebook",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, loginAttempts)
}

// metricsMiddleware counts requests by matched route; unmatched paths are grouped under "unknown".
// Errors are handled here so that the status written by the error handler is the one recorded.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		if err := next(ctx); err != nil {
			ctx.Error(err)
		}

		route := ctx.Path()
		if route == "" {
			route = "unknown"
		}
		method := ctx.Request().Method
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Response().Status)).Inc()
		return nil
	}
}
