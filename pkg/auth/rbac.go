package auth

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequireRole returns middleware that admits only callers whose verified
// identity carries role. It must run behind [Gate.Require] or
// [Gate.RequireWithRefresh]: a request without an identity is answered
// with 401 AUTHENTICATION_REQUIRED, one lacking the role with 403
// FORBIDDEN.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrCodeAuthRequired, "Authentication required")
				return
			}
			if !identity.HasRole(role) {
				writeError(w, http.StatusForbidden, ErrCodeForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoleUnary is the gRPC form of [RequireRole]. Chain it after
// [Gate.UnaryServerInterceptor].
func RequireRoleUnary(role string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkRole(ctx, role); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// RequireRoleStream is the streaming form of [RequireRoleUnary]. Chain it
// after [Gate.StreamServerInterceptor].
func RequireRoleStream(role string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkRole(ss.Context(), role); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkRole(ctx context.Context, role string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, ErrCodeAuthRequired)
	}
	if !identity.HasRole(role) {
		return status.Error(codes.PermissionDenied, ErrCodeForbidden)
	}
	return nil
}
