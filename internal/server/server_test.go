package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/autograder/internal/metrics"
)

func dialHealth(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.ServeGRPC(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func runStatus(t *testing.T, c healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: RunService})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestStatusNotifierDrivesRunHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(Config{Gatherer: reg}, nil)
	client := dialHealth(t, s)
	n := NewStatusNotifier(s, metrics.MustNewMetrics(reg))

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, runStatus(t, client))

	n.Started()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, runStatus(t, client))

	n.ManualIntervention("需人工介入", "")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, runStatus(t, client))

	n.Progress(1, 3)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, runStatus(t, client))

	n.Error("网络错误")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, runStatus(t, client))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	m.ObserveSwitch("A", "B")

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autograder_failover_switches_total{from="A",to="B"} 1`)
}
