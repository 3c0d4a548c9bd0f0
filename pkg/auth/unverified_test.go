package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authgate/internal/testutil"
)

func TestParseUnverified(t *testing.T) {
	t.Parallel()
	idp := testutil.NewFakeIdP(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := idp.Sign(t, testutil.DefaultKID, idp.UserClaims(exp))

	tok, err := ParseUnverified(raw)
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultKID, tok.KeyID())
	assert.Equal(t, "RS256", tok.Algorithm())
	assert.Equal(t, idp.V2Issuer(), tok.Issuer())
	assert.Equal(t, testutil.UserOID, tok.StringClaim("oid"))
	assert.Empty(t, tok.StringClaim("roles"), "non-string claims read as empty")
	assert.NotEmpty(t, tok.Signature)

	got, ok := tok.ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	parts := strings.Split(raw, ".")
	assert.Equal(t, parts[0]+"."+parts[1], tok.SigningInput)
}

func TestParseUnverified_MissingAlgIsAccepted(t *testing.T) {
	t.Parallel()
	idp := testutil.NewFakeIdP(t)
	parts := strings.Split(idp.Sign(t, testutil.DefaultKID, jwt.MapClaims{"oid": "x"}), ".")
	parts[0] = base64.RawURLEncoding.EncodeToString([]byte(`{"kid":"key-1"}`))

	tok, err := ParseUnverified(strings.Join(parts, "."))
	require.NoError(t, err)
	assert.Empty(t, tok.Algorithm())
	_, ok := tok.ExpiresAt()
	assert.False(t, ok)
}

func TestParseUnverified_Malformed(t *testing.T) {
	t.Parallel()
	for name, raw := range map[string]string{
		"empty":           "",
		"no dots":         "abc",
		"empty signature": "eyJhbGciOiJSUzI1NiJ9.e30.",
		"bad header":      "e30x.e30.c2ln",
		"oversized":       strings.Repeat("x", maxTokenSize+1),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseUnverified(raw)
			assert.ErrorIs(t, err, errMalformed)
		})
	}
}
