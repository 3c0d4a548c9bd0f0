package auth

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// azureClaims are the Azure AD claims this package reads. Both schema
// versions share these names; v1 tokens carry appid, v2 tokens azp.
type azureClaims struct {
	jwt.RegisteredClaims

	ObjectID       string   `json:"oid"`
	Email          string   `json:"email"`
	UPN            string   `json:"upn"`
	Name           string   `json:"name"`
	Roles          []string `json:"roles"`
	TenantID       string   `json:"tid"`
	AppID          string   `json:"appid"`
	AuthorizedApp  string   `json:"azp"`
	AppDisplayName string   `json:"app_displayname"`
}

// clientID returns the application the token was issued to.
func (c *azureClaims) clientID() string {
	if c.AppID != "" {
		return c.AppID
	}
	return c.AuthorizedApp
}

// principal prefers the UPN over the email claim.
func (c *azureClaims) principal() string {
	if c.UPN != "" {
		return c.UPN
	}
	return c.Email
}

// VerifiedIdentity is the trusted caller built from a token whose
// signature and claims passed validation. It is immutable; accessors
// return copies of slice fields.
type VerifiedIdentity struct {
	subject        string
	principal      string
	name           string
	roles          []string
	tenantID       string
	appDisplayName string
	version        SchemaVersion
	expiresAt      time.Time
}

func newVerifiedIdentity(c *azureClaims, version SchemaVersion) *VerifiedIdentity {
	id := &VerifiedIdentity{
		subject:        c.ObjectID,
		principal:      c.principal(),
		name:           c.Name,
		roles:          slices.Clone(c.Roles),
		tenantID:       c.TenantID,
		appDisplayName: c.AppDisplayName,
		version:        version,
	}
	if c.ExpiresAt != nil {
		id.expiresAt = c.ExpiresAt.Time
	}
	return id
}

// Subject returns the directory object ID (oid).
func (v *VerifiedIdentity) Subject() string { return v.subject }

// Principal returns the UPN, or the email when no UPN is present.
func (v *VerifiedIdentity) Principal() string { return v.principal }

// Name returns the display name.
func (v *VerifiedIdentity) Name() string { return v.name }

// Roles returns a copy of the app roles granted to the caller.
func (v *VerifiedIdentity) Roles() []string { return slices.Clone(v.roles) }

// HasRole reports whether role is among the caller's roles.
func (v *VerifiedIdentity) HasRole(role string) bool { return slices.Contains(v.roles, role) }

// TenantID returns the tenant the token was issued in (tid).
func (v *VerifiedIdentity) TenantID() string { return v.tenantID }

// AppDisplayName returns the display name of the calling application.
func (v *VerifiedIdentity) AppDisplayName() string { return v.appDisplayName }

// Version returns the schema version the token was validated as.
func (v *VerifiedIdentity) Version() SchemaVersion { return v.version }

// ExpiresAt returns the token expiry.
func (v *VerifiedIdentity) ExpiresAt() time.Time { return v.expiresAt }
