package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/docs", "/docs"},
		{"/docs/assets/app.js", "/docs"},
		{"/", "/"},
		{"", "/"},
		{"/api/v1/objects", "/api/{version}/objects"},
		{"/api/v1/objects/a/b/c.txt", "/api/{version}/objects/{key}"},
		{"/api/v2/metadata/photo.jpg", "/api/{version}/metadata/{key}"},
		{"/api/v1/policies", "/api/{version}/policies"},
		{"/api/v1/policies/apply", "/api/{version}/policies/apply"},
		{"/api/v1/policies/expire-logs", "/api/{version}/policies/{id}"},
		{"/api/v1/replication/policies", "/api/{version}/replication/policies"},
		{"/api/v1/replication/policies/r1", "/api/{version}/replication/policies/{id}"},
		{"/api/v1/replication/status/r1", "/api/{version}/replication/status/{id}"},
		{"/api/v1/replication/trigger", "/api/{version}/replication/trigger"},
		{"/api/v1/archive", "/api/{version}/archive"},
		{"/favicon.ico", "/{other}"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsRegistered(t *testing.T) {
	Register()
	Register()

	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.001)
	HTTPResponseSize.WithLabelValues("GET", "/api/{version}/objects/{key}").Observe(2048)
	RPCRequestsTotal.WithLabelValues("Get", "OK").Inc()
	ObjectsTotal.Set(42)
	TransportFallbacksTotal.Inc()
	StreamBytesTotal.WithLabelValues("rest").Add(8192)
}

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("get", "grpc", "success"))
	ObserveOperation("get", "grpc", "success", time.Now().Add(-10*time.Millisecond))
	after := testutil.ToFloat64(OperationsTotal.WithLabelValues("get", "grpc", "success"))
	if after-before != 1 {
		t.Errorf("counter delta = %v, want 1", after-before)
	}
}
