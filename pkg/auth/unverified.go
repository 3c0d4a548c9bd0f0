package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxTokenSize caps the accepted credential length (16 KB). Azure AD
// tokens with large group claims stay well below it.
const maxTokenSize = 16 << 10

// errMalformed is returned by [ParseUnverified] for anything that is not a
// decodable three-segment compact JWS.
var errMalformed = errors.New("auth: token is malformed")

// UnverifiedToken is a credential split into its parts before any trust
// decision. It is only used to route validation (kid, issuer) and to read
// the expiry for refresh decisions, never to authorize.
type UnverifiedToken struct {
	Raw          string
	Header       map[string]any
	Claims       jwt.MapClaims
	Signature    []byte
	SigningInput string

	payload []byte
}

// ParseUnverified decodes raw without checking its signature. A missing
// "alg" header is accepted here; the validator applies the default.
func ParseUnverified(raw string) (*UnverifiedToken, error) {
	if raw == "" || len(raw) > maxTokenSize || strings.Count(raw, ".") != 2 {
		return nil, errMalformed
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	tok, parts, err := parser.ParseUnverified(raw, claims)
	if err != nil && !(errors.Is(err, jwt.ErrTokenUnverifiable) && tok != nil) {
		return nil, errors.Join(errMalformed, err)
	}

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil || len(sig) == 0 {
		return nil, errMalformed
	}
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, errMalformed
	}

	return &UnverifiedToken{
		Raw:          raw,
		Header:       tok.Header,
		Claims:       claims,
		Signature:    sig,
		SigningInput: parts[0] + "." + parts[1],
		payload:      payload,
	}, nil
}

// KeyID returns the "kid" header, or "".
func (t *UnverifiedToken) KeyID() string {
	kid, _ := t.Header["kid"].(string)
	return kid
}

// Algorithm returns the "alg" header, or "".
func (t *UnverifiedToken) Algorithm() string {
	alg, _ := t.Header["alg"].(string)
	return alg
}

// Issuer returns the "iss" claim, or "".
func (t *UnverifiedToken) Issuer() string {
	iss, _ := t.Claims.GetIssuer()
	return iss
}

// ExpiresAt returns the "exp" claim. ok is false when the claim is
// missing or not a number.
func (t *UnverifiedToken) ExpiresAt() (exp time.Time, ok bool) {
	nd, err := t.Claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

// StringClaim returns a string claim, or "".
func (t *UnverifiedToken) StringClaim(name string) string {
	s, _ := t.Claims[name].(string)
	return s
}
