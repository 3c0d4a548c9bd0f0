package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor is the gRPC form of [Gate.Require]. It reads the
// bearer token from the "authorization" metadata key, validates it and
// stores the [VerifiedIdentity] in the handler context. Failures return
// codes.Unauthenticated with the client error code as the message.
func (g *Gate) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := g.authenticateGRPC(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [Gate.UnaryServerInterceptor].
func (g *Gate) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.authenticateGRPC(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (g *Gate) authenticateGRPC(ctx context.Context) (context.Context, error) {
	if g.validator == nil {
		g.logger.ErrorContext(ctx, "auth: gate misconfigured", "error", errGateNoValidator)
		return ctx, status.Error(codes.Internal, ErrCodeConfiguration)
	}

	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if values := md.Get(strings.ToLower(HeaderAuthorization)); len(values) > 0 {
		token = ExtractBearerToken(values[0])
	}
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, ErrCodeNoToken)
	}

	identity, err := g.validator.Validate(ctx, token)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, ClientCode(err))
	}
	return ContextWithIdentity(ctx, identity), nil
}

// wrappedServerStream overrides Context so stream handlers see the
// identity added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
