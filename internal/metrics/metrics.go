// Package metrics defines the Prometheus collectors for the objstore client
// and its reference service.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// Client operation metrics.
var (
	// OperationsTotal counts façade calls by operation, protocol, and outcome
	// ("success" or the error kind).
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objstore_client_operations_total",
			Help: "Client operations by outcome",
		},
		[]string{"operation", "protocol", "outcome"},
	)

	// OperationDuration observes end-to-end call latency including retries.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objstore_client_operation_duration_seconds",
			Help:    "Client operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "protocol"},
	)

	// RetriesTotal counts retry attempts beyond the first.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objstore_client_retries_total",
			Help: "Retried client operation attempts",
		},
		[]string{"operation", "protocol"},
	)

	// StreamBytesTotal counts bytes delivered through streaming downloads.
	StreamBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objstore_client_stream_bytes_total",
			Help: "Bytes delivered by streaming downloads",
		},
		[]string{"protocol"},
	)

	// TransportFallbacksTotal counts HTTP/3 to HTTP/2 fallbacks.
	TransportFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objstore_client_transport_fallbacks_total",
			Help: "QUIC transport fallbacks from HTTP/3 to HTTP/2",
		},
	)
)

// Reference service HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objstore_refserver_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objstore_refserver_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objstore_refserver_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	// RPCRequestsTotal counts gRPC calls by method and status code.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objstore_refserver_rpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "code"},
	)

	// ObjectsTotal tracks the number of objects held by the reference store.
	ObjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "objstore_refserver_objects_total",
			Help: "Objects held by the reference store",
		},
	)
)

// Register registers all collectors with the default registry. Collectors
// work unregistered too, so libraries never need to call this; binaries do.
// It is safe to call multiple times.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OperationsTotal,
			OperationDuration,
			RetriesTotal,
			StreamBytesTotal,
			TransportFallbacksTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			RPCRequestsTotal,
			ObjectsTotal,
		)
	})
}

// ObserveOperation records one completed façade call.
func ObserveOperation(op, protocol, outcome string, started time.Time) {
	OperationsTotal.WithLabelValues(op, protocol, outcome).Inc()
	OperationDuration.WithLabelValues(op, protocol).Observe(time.Since(started).Seconds())
}

// NormalizePath maps request paths to low-cardinality templates.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/openapi", "/openapi.json", "/":
		return path
	case "":
		return "/"
	}
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 4)
	// Versioned API: /api/{version}/{resource}/...
	if len(parts) >= 3 && parts[0] == "api" {
		resource := parts[2]
		rest := ""
		if len(parts) == 4 {
			rest = parts[3]
		}
		switch resource {
		case "objects", "metadata":
			if rest == "" {
				return "/api/{version}/" + resource
			}
			return "/api/{version}/" + resource + "/{key}"
		case "policies":
			if rest == "" || rest == "apply" {
				return "/api/{version}/policies" + suffix(rest)
			}
			return "/api/{version}/policies/{id}"
		case "replication":
			return "/api/{version}/replication/" + replicationTemplate(rest)
		default:
			return "/api/{version}/" + resource
		}
	}
	return "/{other}"
}

func suffix(s string) string {
	if s == "" {
		return ""
	}
	return "/" + s
}

func replicationTemplate(rest string) string {
	head, tail, _ := strings.Cut(rest, "/")
	if tail == "" {
		return head
	}
	return head + "/{id}"
}
