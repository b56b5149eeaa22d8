// Package grpc exposes the replica services over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"google.golang.org/grpc"
)

type GRPCServer struct {
	address  string
	replicas *services.ReplicaService
	auth     *services.AuthService
	logger   logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, rs *services.ReplicaService, as *services.AuthService) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		replicas: rs,
		auth:     as,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)
	rpc.RegisterReplicaServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	return srv.Serve(listen)
}
