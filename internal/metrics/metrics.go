// Package metrics exposes prometheus collectors for port and session activity.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uart_mcp"

var (
	registerOnce sync.Once

	portOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_opens_total",
			Help:      "Port open attempts by result kind.",
		},
		[]string{"result"},
	)
	reconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reopen attempts after device loss.",
		},
		[]string{"result"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Port handle state transitions by target state.",
		},
		[]string{"to"},
	)
	bytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes moved through open ports.",
		},
		[]string{"direction"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Terminal sessions currently open.",
		},
	)
	bufferTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_truncations_total",
			Help:      "Session buffer overflows that dropped data.",
		},
	)
	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and result kind.",
		},
		[]string{"tool", "result"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)

// Register adds every collector to the default registry. It is safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(portOpens, reconnectAttempts, stateTransitions, bytesTransferred,
			sessionsActive, bufferTruncations, toolCalls, toolDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func RecordPortOpen(result string) {
	portOpens.WithLabelValues(result).Inc()
}

func RecordReconnectAttempt(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	reconnectAttempts.WithLabelValues(result).Inc()
}

func RecordTransition(to string) {
	stateTransitions.WithLabelValues(to).Inc()
}

func RecordBytesWritten(n int) {
	if n > 0 {
		bytesTransferred.WithLabelValues("tx").Add(float64(n))
	}
}

func RecordBytesRead(n int) {
	if n > 0 {
		bytesTransferred.WithLabelValues("rx").Add(float64(n))
	}
}

func SessionOpened() {
	sessionsActive.Inc()
}

func SessionClosed() {
	sessionsActive.Dec()
}

func RecordTruncation() {
	bufferTruncations.Inc()
}

func RecordToolCall(tool, result string, duration time.Duration) {
	toolCalls.WithLabelValues(tool, result).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
