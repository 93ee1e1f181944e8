package web

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/elys-network/assetmanager/internal/logger"
)

// ServiceName is the name reported by the gRPC health service next to the overall "" entry.
const ServiceName = "assetmanager.AssetManager"

// HealthServer serves grpc.health.v1 for orchestrator liveness checks.
type HealthServer struct {
	port   string
	server *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// NewHealthServer starts out NOT_SERVING until SetServing(true) is called.
func NewHealthServer(port string) *HealthServer {
	if port == "" {
		port = "9090"
	}
	hs := &HealthServer{
		port:   port,
		server: grpc.NewServer(),
		health: health.NewServer(),
		log:    logger.GetForComponent("grpc_health"),
	}
	healthpb.RegisterHealthServer(hs.server, hs.health)
	hs.SetServing(false)
	return hs
}

// SetServing flips both the overall and the named service status.
func (hs *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(ServiceName, status)
	hs.log.Debug().Str("status", status.String()).Msg("Health status changed")
}

// Start listens on the configured port and blocks until Stop.
func (hs *HealthServer) Start() error {
	lis, err := net.Listen("tcp", ":"+hs.port)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %s: %w", hs.port, err)
	}
	return hs.Serve(lis)
}

// Serve blocks serving on lis.
func (hs *HealthServer) Serve(lis net.Listener) error {
	hs.log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
	if err := hs.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING to watchers and drains open streams.
func (hs *HealthServer) Stop() {
	hs.health.Shutdown()
	hs.server.GracefulStop()
}
