package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// SigningKey is one public verification key from a provider key set.
type SigningKey struct {
	// KID is the key identifier matched against the token's "kid" header.
	KID string

	// Alg is the algorithm the provider pinned to this key, or "".
	Alg string

	// Key is an *rsa.PublicKey or *ecdsa.PublicKey.
	Key any
}

// decodeKeySet parses a JWKS document. Each key is decoded on its own so
// one malformed or unsupported entry does not discard the rest; keys
// without a kid, private keys, encryption keys and key types other than
// RSA and EC are skipped. A document that yields no usable key is an
// error.
func decodeKeySet(body []byte) ([]SigningKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	keys := make([]SigningKey, 0, len(doc.Keys))
	for _, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			continue
		}
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		switch jwk.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
		default:
			continue
		}
		keys = append(keys, SigningKey{KID: jwk.KeyID, Alg: jwk.Algorithm, Key: jwk.Key})
	}

	if len(keys) == 0 {
		return nil, errors.New("auth: JWKS contains no usable signing keys")
	}
	return keys, nil
}
