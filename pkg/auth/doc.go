// Package auth turns bearer credentials issued by Azure AD (Microsoft
// identity platform) into trusted identities and keeps the credential
// lifecycle current.
//
// The package is built from five collaborating parts, leaf to root:
//
//   - [KeyCache] fetches and time-bounds the provider's signing keys,
//     one [KeySet] per token [SchemaVersion]. A failed refetch serves the
//     previous set instead of failing.
//   - [KeyMatcher] resolves the key named by a token's "kid" header,
//     forcing at most one refetch on a miss.
//   - [Validator] detects the schema version from the issuer, verifies the
//     signature and the registered claims, and builds a [VerifiedIdentity].
//     Every rejection is a [*TokenRejected] carrying a [RejectReason].
//   - [RefreshManager] reads the access token's expiry and exchanges a
//     refresh token at the provider's token endpoint when the remaining
//     lifetime drops below the threshold.
//   - [Gate] is the request-facing middleware (HTTP and gRPC) that drives
//     the above and attaches the identity to the request context.
//
// # Usage
//
//	cfg := config.MustLoad[auth.Config](config.New().WithEnvPrefix("AUTH"))
//	keys := auth.NewKeyCache(cfg)
//	validator, err := auth.NewValidator(cfg, auth.NewKeyMatcher(keys))
//	if err != nil { ... }
//	refresher, err := auth.NewRefreshManager(cfg)
//	if err != nil { ... }
//	gate := auth.NewGate(validator, refresher)
//
//	mux.Handle("/api/chats", gate.RequireWithRefresh(chatsHandler))
//
// Client-facing rejections never carry validation internals. The reason a
// token was rejected, the provider HTTP status and key fetch failures are
// only written to the log.
package auth
