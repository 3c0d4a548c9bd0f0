package auth

import (
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// SchemaVersion identifies one of the two token shapes Azure AD issues.
// Each version has its own issuer template and signing key endpoint.
type SchemaVersion string

const (
	// SchemaV1 tokens are issued by the legacy sts.windows.net endpoint.
	SchemaV1 SchemaVersion = "v1"

	// SchemaV2 tokens are issued by the login.microsoftonline.com v2.0
	// endpoint.
	SchemaV2 SchemaVersion = "v2"
)

// GraphAudience is the audience of tokens issued for Microsoft Graph
// rather than for this application. Such tokens skip audience matching
// and must instead carry this application's client ID in appid/azp.
const GraphAudience = "00000003-0000-0000-c000-000000000000"

// Config holds the identity provider settings shared by every component
// in this package. Load it with the config package, or start from
// [DefaultConfig] and fill in TenantID and ClientID.
//
// URL templates may contain {tenant} and {authority}, expanded from
// TenantID and Authority.
type Config struct {
	// TenantID is the Azure AD directory (tenant) ID.
	TenantID string `json:"tenant_id" yaml:"tenant_id" env:"AZURE_AD_TENANT_ID" required:"true"`

	// ClientID is this application's registered client ID.
	ClientID string `json:"client_id" yaml:"client_id" env:"AZURE_AD_CLIENT_ID" required:"true"`

	// ClientSecret authenticates the refresh grant for confidential
	// clients. Optional for public clients.
	ClientSecret Secret `json:"client_secret" yaml:"client_secret" env:"AZURE_AD_CLIENT_SECRET"`

	Authority string `json:"authority" yaml:"authority" env:"AUTHORITY" envDefault:"https://login.microsoftonline.com"`

	V1IssuerTemplate  string `json:"v1_issuer_template" yaml:"v1_issuer_template" env:"V1_ISSUER_TEMPLATE" envDefault:"https://sts.windows.net/{tenant}/"`
	V2IssuerTemplate  string `json:"v2_issuer_template" yaml:"v2_issuer_template" env:"V2_ISSUER_TEMPLATE" envDefault:"{authority}/{tenant}/v2.0"`
	V1KeysURLTemplate string `json:"v1_keys_url_template" yaml:"v1_keys_url_template" env:"V1_KEYS_URL_TEMPLATE" envDefault:"{authority}/{tenant}/discovery/keys"`
	V2KeysURLTemplate string `json:"v2_keys_url_template" yaml:"v2_keys_url_template" env:"V2_KEYS_URL_TEMPLATE" envDefault:"{authority}/{tenant}/discovery/v2.0/keys"`
	TokenURLTemplate  string `json:"token_url_template" yaml:"token_url_template" env:"TOKEN_URL_TEMPLATE" envDefault:"{authority}/{tenant}/oauth2/v2.0/token"`

	// LegacyIssuerHost is the issuer host that marks a token as v1.
	LegacyIssuerHost string `json:"legacy_issuer_host" yaml:"legacy_issuer_host" env:"LEGACY_ISSUER_HOST" envDefault:"sts.windows.net"`

	// KeyCacheTTL is how long a fetched key set is served without refetching.
	KeyCacheTTL time.Duration `json:"key_cache_ttl" yaml:"key_cache_ttl" env:"KEY_CACHE_TTL" envDefault:"1h"`

	// KeyMinRefreshInterval is the minimum time between two fetch attempts
	// for one version once a set is cached. It bounds forced refetches on
	// unknown kids and retries while the provider is failing.
	KeyMinRefreshInterval time.Duration `json:"key_min_refresh_interval" yaml:"key_min_refresh_interval" env:"KEY_MIN_REFRESH_INTERVAL" envDefault:"30s"`

	// HTTPTimeout bounds every call to the identity provider.
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout" env:"HTTP_TIMEOUT" envDefault:"10s"`

	// ClockSkew is the leeway applied to exp, nbf and iat.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW"`

	// RefreshThreshold is the remaining access token lifetime below which
	// a refresh is attempted.
	RefreshThreshold time.Duration `json:"refresh_threshold" yaml:"refresh_threshold" env:"REFRESH_THRESHOLD" envDefault:"5m"`

	// RefreshScopes is the space-separated scope list sent with the
	// refresh grant.
	RefreshScopes string `json:"refresh_scopes" yaml:"refresh_scopes" env:"REFRESH_SCOPES" envDefault:"openid profile email https://graph.microsoft.com/User.Read"`

	// RefreshRecordTTL bounds how long a stored refresh record lives.
	// Zero keeps records until they are overwritten.
	RefreshRecordTTL time.Duration `json:"refresh_record_ttl" yaml:"refresh_record_ttl" env:"REFRESH_RECORD_TTL"`

	// AllowedAudiences lists the audiences accepted for non-Graph tokens,
	// typically this application's client ID and its api:// URI. When
	// empty, only the token's internal audience consistency is checked.
	AllowedAudiences []string `json:"allowed_audiences" yaml:"allowed_audiences" env:"ALLOWED_AUDIENCES"`

	// AllowedAlgorithms lists the accepted JWS algorithms.
	AllowedAlgorithms []string `json:"allowed_algorithms" yaml:"allowed_algorithms" env:"ALLOWED_ALGORITHMS" envDefault:"RS256,RS384,RS512,PS256,ES256"`
}

// DefaultConfig returns a Config carrying every default. TenantID and
// ClientID still have to be set.
func DefaultConfig() Config {
	return Config{
		Authority:             "https://login.microsoftonline.com",
		V1IssuerTemplate:      "https://sts.windows.net/{tenant}/",
		V2IssuerTemplate:      "{authority}/{tenant}/v2.0",
		V1KeysURLTemplate:     "{authority}/{tenant}/discovery/keys",
		V2KeysURLTemplate:     "{authority}/{tenant}/discovery/v2.0/keys",
		TokenURLTemplate:      "{authority}/{tenant}/oauth2/v2.0/token",
		LegacyIssuerHost:      "sts.windows.net",
		KeyCacheTTL:           time.Hour,
		KeyMinRefreshInterval: 30 * time.Second,
		HTTPTimeout:           10 * time.Second,
		RefreshThreshold:      5 * time.Minute,
		RefreshScopes:         "openid profile email https://graph.microsoft.com/User.Read",
		AllowedAlgorithms:     []string{"RS256", "RS384", "RS512", "PS256", "ES256"},
	}
}

// Validate reports the first missing or inconsistent setting as a
// [sserr.CodeInternalConfiguration] error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return sserr.Configuration("auth: tenant ID must be set")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return sserr.Configuration("auth: client ID must be set")
	}
	if u, err := url.Parse(c.Authority); err != nil || u.Scheme == "" || u.Host == "" {
		return sserr.Newf(sserr.CodeInternalConfiguration, "auth: authority %q is not an absolute URL", c.Authority)
	}
	for name, tmpl := range map[string]string{
		"v1 issuer template":   c.V1IssuerTemplate,
		"v2 issuer template":   c.V2IssuerTemplate,
		"v1 keys URL template": c.V1KeysURLTemplate,
		"v2 keys URL template": c.V2KeysURLTemplate,
		"token URL template":   c.TokenURLTemplate,
	} {
		if tmpl == "" {
			return sserr.Newf(sserr.CodeInternalConfiguration, "auth: %s must be set", name)
		}
	}
	if c.LegacyIssuerHost == "" {
		return sserr.Configuration("auth: legacy issuer host must be set")
	}
	if c.KeyCacheTTL <= 0 {
		return sserr.Configuration("auth: key cache TTL must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return sserr.Configuration("auth: HTTP timeout must be positive")
	}
	if c.KeyMinRefreshInterval < 0 || c.ClockSkew < 0 || c.RefreshThreshold < 0 || c.RefreshRecordTTL < 0 {
		return sserr.Configuration("auth: durations must be non-negative")
	}
	if c.KeyCacheTTL < c.KeyMinRefreshInterval {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: key cache TTL %s is shorter than the minimum refresh interval %s", c.KeyCacheTTL, c.KeyMinRefreshInterval)
	}
	if len(c.AllowedAlgorithms) == 0 {
		return sserr.Configuration("auth: at least one signing algorithm must be allowed")
	}
	for _, alg := range c.AllowedAlgorithms {
		if !isAsymmetric(alg) {
			return sserr.Newf(sserr.CodeInternalConfiguration, "auth: algorithm %q is not a supported asymmetric JWS algorithm", alg)
		}
	}
	return nil
}

func isAsymmetric(alg string) bool {
	switch jwt.GetSigningMethod(alg).(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS, *jwt.SigningMethodECDSA:
		return true
	default:
		return false
	}
}

// DetectVersion picks the schema version from an issuer string: v1 when
// the issuer host is the legacy issuer host, v2 otherwise.
func (c *Config) DetectVersion(issuer string) SchemaVersion {
	if u, err := url.Parse(issuer); err == nil && strings.EqualFold(u.Hostname(), c.LegacyIssuerHost) {
		return SchemaV1
	}
	return SchemaV2
}

// Issuer returns the expected issuer for a schema version.
func (c *Config) Issuer(v SchemaVersion) string {
	if v == SchemaV1 {
		return c.expand(c.V1IssuerTemplate)
	}
	return c.expand(c.V2IssuerTemplate)
}

// KeysURL returns the signing key endpoint for a schema version.
func (c *Config) KeysURL(v SchemaVersion) string {
	if v == SchemaV1 {
		return c.expand(c.V1KeysURLTemplate)
	}
	return c.expand(c.V2KeysURLTemplate)
}

// TokenURL returns the OAuth2 token endpoint used for the refresh grant.
func (c *Config) TokenURL() string {
	return c.expand(c.TokenURLTemplate)
}

func (c *Config) expand(tmpl string) string {
	return strings.NewReplacer(
		"{authority}", strings.TrimRight(c.Authority, "/"),
		"{tenant}", c.TenantID,
	).Replace(tmpl)
}
