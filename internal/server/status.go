package server

import (
	"log/slog"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/autograder/internal/metrics"
)

// StatusNotifier mirrors run notifications into the health service and the
// progress gauges. The run service is SERVING while grading proceeds normally
// and NOT_SERVING once a run stops on anything but completion.
type StatusNotifier struct {
	server  *Server
	metrics *metrics.Metrics
}

func NewStatusNotifier(s *Server, m *metrics.Metrics) *StatusNotifier {
	return &StatusNotifier{server: s, metrics: m}
}

func (n *StatusNotifier) set(status healthpb.HealthCheckResponse_ServingStatus) {
	if n.server == nil {
		return
	}
	n.server.health.SetServingStatus(RunService, status)
}

func (n *StatusNotifier) Log(slog.Level, string) {}

func (n *StatusNotifier) Progress(done, total int) {
	n.metrics.SetProgress(done, total)
	n.set(healthpb.HealthCheckResponse_SERVING)
}

func (n *StatusNotifier) Completed() {
	n.set(healthpb.HealthCheckResponse_SERVING)
}

func (n *StatusNotifier) Error(string) {
	n.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (n *StatusNotifier) ThresholdExceeded(string) {
	n.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (n *StatusNotifier) ManualIntervention(string, string) {
	n.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Started marks the run service as serving.
func (n *StatusNotifier) Started() {
	n.set(healthpb.HealthCheckResponse_SERVING)
}
