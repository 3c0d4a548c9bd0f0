package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// ---------------------------------------------------------------------------
// Rejections
// ---------------------------------------------------------------------------

// defaultAlgorithm applies when a token header carries no "alg".
const defaultAlgorithm = "RS256"

// RejectReason says why the [Validator] rejected a token. Reasons are
// logged and recorded in metrics, never returned to clients.
type RejectReason string

const (
	ReasonMalformed          RejectReason = "malformed"
	ReasonBadIssuer          RejectReason = "bad_issuer"
	ReasonUnknownKey         RejectReason = "unknown_key"
	ReasonBadSignature       RejectReason = "bad_signature"
	ReasonExpired            RejectReason = "expired"
	ReasonNotYetValid        RejectReason = "not_yet_valid"
	ReasonInvalidClaims      RejectReason = "invalid_claims"
	ReasonAudienceMismatch   RejectReason = "audience_mismatch"
	ReasonWrongClient        RejectReason = "wrong_client"
	ReasonIncompleteIdentity RejectReason = "incomplete_identity"
)

// TokenRejected is the cause carried by every validation failure. The
// error returned by [Validator.Validate] is an [*sserr.Error] with code
// [sserr.CodeAuthenticationInvalid] wrapping a *TokenRejected; use
// [RejectionReason] or errors.As to read it.
type TokenRejected struct {
	Reason RejectReason
	Cause  error
}

func (e *TokenRejected) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth: token rejected (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("auth: token rejected (%s)", e.Reason)
}

func (e *TokenRejected) Unwrap() error { return e.Cause }

// RejectionReason extracts the reason from a validation error.
func RejectionReason(err error) (RejectReason, bool) {
	var rej *TokenRejected
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// TokenValidator turns a raw bearer credential into a [VerifiedIdentity].
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*VerifiedIdentity, error)
}

// KeyResolver finds the verification key for a token header.
type KeyResolver interface {
	Resolve(ctx context.Context, header map[string]any, version SchemaVersion) (*SigningKey, error)
}

var (
	_ TokenValidator = (*Validator)(nil)
	_ KeyResolver    = (*KeyMatcher)(nil)
)

// ---------------------------------------------------------------------------
// Validator
// ---------------------------------------------------------------------------

// Validator validates Azure AD access tokens of both schema versions and
// produces the [VerifiedIdentity] the rest of the request sees. It is the
// only place an identity is built from token claims.
//
// Validation is a fixed sequence and the first failing step rejects:
//
//  1. parse the compact JWS (malformed)
//  2. detect the schema version from the issuer host and require the
//     issuer to equal that version's expected issuer (bad_issuer)
//  3. resolve the signing key by kid (unknown_key)
//  4. verify the signature with the header algorithm, RS256 when absent
//     (bad_signature)
//  5. check exp, nbf, iat and iss (expired, not_yet_valid, invalid_claims)
//     and the audience (audience_mismatch, wrong_client)
//  6. require oid and one of upn or email (incomplete_identity)
//
// Any failure after a good signature is a hard rejection; claims are
// never trusted on a partial pass.
//
// Audience rules:
//   - aud equal to the Microsoft Graph resource ID marks a token issued for
//     the user-info API. Audience matching is skipped and appid, or azp
//     when appid is absent, must equal [Config.ClientID].
//   - Otherwise, when [Config.AllowedAudiences] is set, aud must name one
//     of its entries.
//   - With no allow-list the audience is not matched; a warning is logged
//     when the Validator is built.
//
// Every rejection is logged with its reason and counted in
// authgate_token_validations_total. Clients only ever see INVALID_TOKEN.
//
// Validator is safe for concurrent use.
type Validator struct {
	cfg       Config
	keys      KeyResolver
	algs      map[string]bool
	audiences map[string]bool
	issuers   map[SchemaVersion]string

	clock   Clock
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewValidator returns a Validator for cfg resolving keys through keys.
// It honors [WithClock], [WithLogger] and [WithMetrics].
func NewValidator(cfg Config, keys KeyResolver, opts ...Option) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, sserr.Configuration("auth: validator requires a key resolver")
	}

	o := buildOptions(opts)
	v := &Validator{
		cfg:       cfg,
		keys:      keys,
		algs:      make(map[string]bool, len(cfg.AllowedAlgorithms)),
		audiences: make(map[string]bool, len(cfg.AllowedAudiences)),
		issuers: map[SchemaVersion]string{
			SchemaV1: cfg.Issuer(SchemaV1),
			SchemaV2: cfg.Issuer(SchemaV2),
		},
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  otel.Tracer(tracerName),
	}
	for _, alg := range cfg.AllowedAlgorithms {
		v.algs[alg] = true
	}
	for _, aud := range cfg.AllowedAudiences {
		v.audiences[aud] = true
	}
	if len(v.audiences) == 0 {
		v.logger.Warn("auth: no allowed audiences configured, non-Graph tokens are only checked for audience consistency")
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate verifies raw and returns the caller's identity.
func (v *Validator) Validate(ctx context.Context, raw string) (*VerifiedIdentity, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Validate")
	defer span.End()

	identity, rej := v.validate(ctx, raw)
	if rej != nil {
		span.SetAttributes(attribute.String("auth.reject_reason", string(rej.Reason)))
		v.metrics.validation("rejected", rej.Reason)

		if errors.Is(rej, ErrKeyFetch) {
			v.logger.ErrorContext(ctx, "auth: token rejected, signing keys unavailable",
				"reason", rej.Reason, "error", rej.Cause)
		} else {
			v.logger.WarnContext(ctx, "auth: token rejected",
				"reason", rej.Reason, "error", rej.Cause)
		}

		err := sserr.Wrap(rej, sserr.CodeAuthenticationInvalid, "auth: token rejected").
			WithDetail("reason", string(rej.Reason))
		finishSpan(span, err)
		return nil, err
	}

	v.metrics.validation("accepted", "")
	span.SetAttributes(
		attribute.String("auth.subject", identity.Subject()),
		attribute.String("auth.schema_version", string(identity.Version())),
	)
	return identity, nil
}

func (v *Validator) validate(ctx context.Context, raw string) (*VerifiedIdentity, *TokenRejected) {
	tok, err := ParseUnverified(raw)
	if err != nil {
		return nil, &TokenRejected{Reason: ReasonMalformed, Cause: err}
	}

	issuer := tok.Issuer()
	version := v.cfg.DetectVersion(issuer)
	if issuer != v.issuers[version] {
		return nil, &TokenRejected{Reason: ReasonBadIssuer,
			Cause: fmt.Errorf("issuer %q is not the expected %s issuer", issuer, version)}
	}

	key, err := v.keys.Resolve(ctx, tok.Header, version)
	if err != nil {
		return nil, &TokenRejected{Reason: ReasonUnknownKey, Cause: err}
	}
	if key == nil {
		return nil, &TokenRejected{Reason: ReasonUnknownKey,
			Cause: fmt.Errorf("kid %q not found in %s key set", tok.KeyID(), version)}
	}

	if err := v.verifySignature(tok, key); err != nil {
		return nil, &TokenRejected{Reason: ReasonBadSignature, Cause: err}
	}

	var claims azureClaims
	if err := json.Unmarshal(tok.payload, &claims); err != nil {
		return nil, &TokenRejected{Reason: ReasonInvalidClaims, Cause: err}
	}

	cv := jwt.NewValidator(
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithLeeway(v.cfg.ClockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.issuers[version]),
	)
	if err := cv.Validate(claims); err != nil {
		return nil, &TokenRejected{Reason: claimsReason(err), Cause: err}
	}

	if rej := v.checkAudience(&claims); rej != nil {
		return nil, rej
	}

	if claims.ObjectID == "" || claims.principal() == "" {
		return nil, &TokenRejected{Reason: ReasonIncompleteIdentity,
			Cause: errors.New("token must carry oid and one of upn or email")}
	}

	return newVerifiedIdentity(&claims, version), nil
}

func (v *Validator) verifySignature(tok *UnverifiedToken, key *SigningKey) error {
	alg := tok.Algorithm()
	if alg == "" {
		alg = defaultAlgorithm
	}
	if !v.algs[alg] {
		return fmt.Errorf("algorithm %q is not allowed", alg)
	}
	if key.Alg != "" && key.Alg != alg {
		return fmt.Errorf("key %q is pinned to %s, token uses %s", key.KID, key.Alg, alg)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return fmt.Errorf("algorithm %q is unavailable", alg)
	}
	return method.Verify(tok.SigningInput, tok.Signature, key.Key)
}

// checkAudience applies the audience rule. Graph tokens skip audience
// matching and must have been issued to this client instead. Other tokens
// must name an allowed audience; with no allow-list configured a
// non-empty audience is accepted as is.
func (v *Validator) checkAudience(c *azureClaims) *TokenRejected {
	if len(c.Audience) == 0 {
		return &TokenRejected{Reason: ReasonAudienceMismatch, Cause: errors.New("token has no audience")}
	}

	if slices.Contains(c.Audience, GraphAudience) {
		if c.clientID() != v.cfg.ClientID {
			return &TokenRejected{Reason: ReasonWrongClient,
				Cause: fmt.Errorf("graph token issued to client %q", c.clientID())}
		}
		return nil
	}

	if len(v.audiences) == 0 {
		return nil
	}
	for _, aud := range c.Audience {
		if v.audiences[aud] {
			return nil
		}
	}
	return &TokenRejected{Reason: ReasonAudienceMismatch,
		Cause: fmt.Errorf("audience %v is not allowed", []string(c.Audience))}
}

func claimsReason(err error) RejectReason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ReasonNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonBadIssuer
	default:
		return ReasonInvalidClaims
	}
}
