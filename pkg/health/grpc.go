package health

import (
	"context"
	"errors"
	"net"

	"persona-chat/backend/pkg/logger"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves the gRPC health protocol on its own listener.
type GRPCServer struct {
	server *grpc.Server
	lis    net.Listener
	log    *logger.Logger
}

// ListenGRPC binds addr and registers the checker's health service.
func ListenGRPC(addr string, checker *Checker, log *logger.Logger) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, checker.HealthServer())
	return &GRPCServer{server: s, lis: lis, log: log.WithComponent("grpc-health")}, nil
}

// Addr is the bound address.
func (g *GRPCServer) Addr() string {
	return g.lis.Addr().String()
}

// Serve blocks until Stop.
func (g *GRPCServer) Serve() error {
	g.log.Info("gRPC health server listening", "addr", g.Addr())
	if err := g.server.Serve(g.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop drains in-flight calls, giving up when ctx ends.
func (g *GRPCServer) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.server.Stop()
	}
}
