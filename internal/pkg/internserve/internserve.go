package internserve

import (
	"net"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// InternAPIServer is the gRPC endpoint a peer exposes to the rest of its
// groups. Each group is a health service that is SERVING while subscribed.
type InternAPIServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

func New() *InternAPIServer {
	s := &InternAPIServer{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	return s
}

// SetServing marks group as serving or not serving.
func (s *InternAPIServer) SetServing(group string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(group, status)
}

func (s *InternAPIServer) Serve(listener net.Listener) error {
	log.Infof("internserve: starting at %v", listener.Addr())
	return s.grpcServer.Serve(listener)
}

// Stop reports every group as not serving and drains in-flight calls.
func (s *InternAPIServer) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Start listens on addr and serves until Stop.
func Start(addr string, s *InternAPIServer) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}
