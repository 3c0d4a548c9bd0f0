package main

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/lifecycle"
)

// healthServicePrefix is the method prefix of the standard gRPC health
// service, which probes call without credentials.
const healthServicePrefix = "/grpc.health.v1.Health/"

// grpcService registers an application service on the gateway's gRPC
// server.
type grpcService func(grpc.ServiceRegistrar)

// newGRPCServer returns a server whose methods sit behind the gate and,
// when set, the required role. Unary and streaming calls get the same
// policy. The health service is always registered and left open; every
// service in extra is registered behind the interceptors. The gateway
// binary itself ships none, so on its own the listener serves health
// checks for the process lifecycle.
func newGRPCServer(gate *auth.Gate, requiredRole string, hs *health.Server, extra ...grpcService) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{gate.UnaryServerInterceptor()}
	stream := []grpc.StreamServerInterceptor{gate.StreamServerInterceptor()}
	if requiredRole != "" {
		unary = append(unary, auth.RequireRoleUnary(requiredRole))
		stream = append(stream, auth.RequireRoleStream(requiredRole))
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(skipUnary(healthServicePrefix, unary...)),
		grpc.ChainStreamInterceptor(skipStream(healthServicePrefix, stream...)),
	)
	healthpb.RegisterHealthServer(srv, hs)
	for _, register := range extra {
		register(srv)
	}
	return srv
}

// skipUnary runs the chain for every method outside prefix.
func skipUnary(prefix string, chain ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		return runUnary(ctx, req, info, handler, chain)
	}
}

func runUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler, chain []grpc.UnaryServerInterceptor) (any, error) {
	if len(chain) == 0 {
		return handler(ctx, req)
	}
	return chain[0](ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return runUnary(ctx, req, info, handler, chain[1:])
	})
}

// skipStream is the streaming form of [skipUnary].
func skipStream(prefix string, chain ...grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, prefix) {
			return handler(srv, ss)
		}
		return runStream(srv, ss, info, handler, chain)
	}
}

func runStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler, chain []grpc.StreamServerInterceptor) error {
	if len(chain) == 0 {
		return handler(srv, ss)
	}
	return chain[0](srv, ss, info, func(srv any, ss grpc.ServerStream) error {
		return runStream(srv, ss, info, handler, chain[1:])
	})
}

// servingStatus mirrors the service lifecycle into the gRPC health
// service.
func servingStatus(hs *health.Server) lifecycle.StateChangeHandler {
	return func(_, new lifecycle.State) {
		if new == lifecycle.StateReady {
			hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			return
		}
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}
