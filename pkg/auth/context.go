package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	identityKey contextKey = iota
	refreshedPairKey
)

// ContextWithIdentity returns a copy of ctx carrying identity. The gate
// calls it after a token is verified.
func ContextWithIdentity(ctx context.Context, identity *VerifiedIdentity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the verified identity attached by the gate.
// It never returns a nil identity together with true.
//
//	identity, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    return errors.Unauthorized("no identity in context")
//	}
func IdentityFromContext(ctx context.Context) (*VerifiedIdentity, bool) {
	identity, ok := ctx.Value(identityKey).(*VerifiedIdentity)
	if identity == nil {
		return nil, false
	}
	return identity, ok
}

// MustIdentityFromContext is like [IdentityFromContext] but panics when no
// identity is present. Use it only behind the gate.
func MustIdentityFromContext(ctx context.Context) *VerifiedIdentity {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; ensure the auth gate is configured")
	}
	return identity
}

// ContextWithRefreshedPair returns a copy of ctx carrying the pair issued
// by a silent refresh during this request.
func ContextWithRefreshedPair(ctx context.Context, pair *TokenPair) context.Context {
	return context.WithValue(ctx, refreshedPairKey, pair)
}

// RefreshedPairFromContext returns the pair issued by a silent refresh, if
// the gate performed one for this request.
func RefreshedPairFromContext(ctx context.Context) (*TokenPair, bool) {
	pair, ok := ctx.Value(refreshedPairKey).(*TokenPair)
	if pair == nil {
		return nil, false
	}
	return pair, ok
}

// TraceIDFromContext returns the active OpenTelemetry trace ID as hex.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// SpanIDFromContext returns the active OpenTelemetry span ID as hex.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasSpanID() {
		return "", false
	}
	return spanCtx.SpanID().String(), true
}
