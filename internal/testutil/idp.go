package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Identity values used by [FakeIdP] tokens.
const (
	TenantID   = "11111111-2222-3333-4444-555555555555"
	ClientID   = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	UserOID    = "0f0e0d0c-0b0a-0908-0706-050403020100"
	UserUPN    = "ada@contoso.test"
	UserName   = "Ada Lovelace"
	DefaultKID = "key-1"
)

// LegacyIssuer is the v1 issuer for [TenantID].
const LegacyIssuer = "https://sts.windows.net/" + TenantID + "/"

// FakeIdP is an httptest identity provider. It publishes RSA signing keys
// on the v1 and v2 discovery endpoints and answers the refresh grant on
// the token endpoint, counting every request.
type FakeIdP struct {
	Server *httptest.Server

	V1KeyFetches  atomic.Int64
	V2KeyFetches  atomic.Int64
	TokenRequests atomic.Int64

	mu          sync.Mutex
	keys        map[string]*rsa.PrivateKey
	published   map[string]bool
	keysDown    bool
	tokenStatus int
	tokenBody   any
	tokenDelay  time.Duration
	lastForm    url.Values
}

// NewFakeIdP starts a provider publishing one key, [DefaultKID]. The
// token endpoint answers 200 with a fresh access token for [UserOID]
// until [FakeIdP.SetTokenResponse] is called.
func NewFakeIdP(t testing.TB) *FakeIdP {
	t.Helper()
	idp := &FakeIdP{
		keys:      map[string]*rsa.PrivateKey{},
		published: map[string]bool{},
	}
	idp.AddKey(t, DefaultKID, true)

	mux := http.NewServeMux()
	mux.HandleFunc("/"+TenantID+"/discovery/keys", idp.serveKeys(&idp.V1KeyFetches))
	mux.HandleFunc("/"+TenantID+"/discovery/v2.0/keys", idp.serveKeys(&idp.V2KeyFetches))
	mux.HandleFunc("/"+TenantID+"/oauth2/v2.0/token", idp.serveToken)
	idp.Server = httptest.NewServer(mux)
	t.Cleanup(idp.Server.Close)
	return idp
}

// URL is the provider authority.
func (p *FakeIdP) URL() string { return p.Server.URL }

// V2Issuer is the v2 issuer for [TenantID] on this provider.
func (p *FakeIdP) V2Issuer() string { return p.Server.URL + "/" + TenantID + "/v2.0" }

// AddKey generates an RSA key under kid. Unpublished keys can sign tokens
// but are absent from the key sets until [FakeIdP.Publish].
func (p *FakeIdP) AddKey(t testing.TB, kid string, publish bool) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generate RSA key")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[kid] = key
	p.published[kid] = publish
}

// Publish adds kid to the served key sets.
func (p *FakeIdP) Publish(kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[kid] = true
}

// SetKeysDown makes the key endpoints answer 503.
func (p *FakeIdP) SetKeysDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keysDown = down
}

// SetTokenResponse fixes the token endpoint status and JSON body. A nil
// body restores the default fresh-token response.
func (p *FakeIdP) SetTokenResponse(status int, body any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
	p.tokenBody = body
}

// SetTokenDelay delays every token endpoint response.
func (p *FakeIdP) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// LastTokenForm returns the form of the most recent token request.
func (p *FakeIdP) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

// Sign signs claims with the RS256 key kid.
func (p *FakeIdP) Sign(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	return p.SignWith(t, jwt.SigningMethodRS256, kid, claims)
}

// SignWith signs claims with the key kid using method.
func (p *FakeIdP) SignWith(t testing.TB, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	p.mu.Lock()
	key, ok := p.keys[kid]
	p.mu.Unlock()
	require.True(t, ok, "unknown kid %q", kid)

	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	require.NoError(t, err, "sign token")
	return signed
}

// UserClaims returns v2 claims for [UserOID] issued by this provider and
// expiring at exp.
func (p *FakeIdP) UserClaims(exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   p.V2Issuer(),
		"aud":   ClientID,
		"sub":   "subject-" + UserOID,
		"oid":   UserOID,
		"upn":   UserUPN,
		"name":  UserName,
		"tid":   TenantID,
		"roles": []string{"Reader"},
		"iat":   exp.Add(-time.Hour).Unix(),
		"nbf":   exp.Add(-time.Hour).Unix(),
		"exp":   exp.Unix(),
	}
}

func (p *FakeIdP) serveKeys(counter *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		counter.Add(1)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.keysDown {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		set := jose.JSONWebKeySet{}
		for kid, key := range p.keys {
			if !p.published[kid] {
				continue
			}
			set.Keys = append(set.Keys, jose.JSONWebKey{
				Key:       &key.PublicKey,
				KeyID:     kid,
				Algorithm: "RS256",
				Use:       "sig",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}
}

func (p *FakeIdP) serveToken(w http.ResponseWriter, r *http.Request) {
	p.TokenRequests.Add(1)
	_ = r.ParseForm()

	p.mu.Lock()
	p.lastForm = r.PostForm
	status, body, delay := p.tokenStatus, p.tokenBody, p.tokenDelay
	key := p.keys[DefaultKID]
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if body == nil {
		now := time.Now()
		claims := p.UserClaims(now.Add(time.Hour))
		claims["iat"] = now.Add(-time.Minute).Unix()
		claims["nbf"] = now.Add(-time.Minute).Unix()
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = DefaultKID
		access, _ := tok.SignedString(key)
		status = http.StatusOK
		body = map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-" + r.PostForm.Get("refresh_token"),
			"expires_in":    3600,
			"token_type":    "Bearer",
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
