package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// RunService is the health service name that reflects the grading run.
const RunService = "autograder.GradingRun"

type Config struct {
	GRPCAddr    string
	MetricsAddr string
	Gatherer    prometheus.Gatherer
}

// Server exposes gRPC health (process and run status) and an HTTP /metrics
// endpoint. Either listener is skipped when its address is empty.
type Server struct {
	cfg    Config
	logger *slog.Logger

	grpc   *grpc.Server
	health *health.Server
	http   *http.Server
}

func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(RunService, healthpb.HealthCheckResponse_NOT_SERVING)
	// Reflection for grpcurl
	reflection.Register(gs)

	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(cfg.Gatherer))

	return &Server{
		cfg:    cfg,
		logger: logger,
		grpc:   gs,
		health: hs,
		http:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// MetricsHandler serves the collectors registered with g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Health returns the health server so callers can update statuses.
func (s *Server) Health() *health.Server { return s.health }

// Serve listens on the configured addresses until ctx is cancelled, then stops
// both servers gracefully.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return err
		}
		s.logger.Info("server.grpc.listening", "addr", lis.Addr().String())
		g.Go(func() error { return s.ServeGRPC(lis) })
	}
	if s.cfg.MetricsAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			return err
		}
		s.logger.Info("server.metrics.listening", "addr", lis.Addr().String())
		g.Go(func() error {
			if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.Stop()
		return nil
	})
	return g.Wait()
}

// ServeGRPC serves gRPC on lis until Stop.
func (s *Server) ServeGRPC(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

func (s *Server) Stop() {
	s.logger.Info("server.shutting_down")
	s.health.Shutdown()
	s.grpc.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("server.metrics.shutdown_failed", "error", err)
	}
}
