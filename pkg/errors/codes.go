package errors

// Code represents a machine-readable error code. Codes are stable once
// assigned and follow the CATEGORY_NNN pattern.
type Code string

const (
	// Validation errors (VAL_xxx) - HTTP 400

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// Authentication errors (AUTH_xxx) - HTTP 401

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the access token has expired and
	// no refresh credential is available.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the token was rejected by the
	// validator (malformed, bad issuer, unknown key, bad signature, ...).
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationMissing indicates no credential was presented.
	CodeAuthenticationMissing Code = "AUTH_004"

	// CodeAuthenticationRefreshFailed indicates a refresh exchange was
	// attempted and rejected by the identity provider or the network.
	CodeAuthenticationRefreshFailed Code = "AUTH_005"

	// Authorization errors (AUTHZ_xxx) - HTTP 403

	// CodeAuthorization indicates the authenticated identity lacks a
	// required role.
	CodeAuthorization Code = "AUTHZ_001"

	// Not found errors (NF_xxx) - HTTP 404

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// Conflict errors (CONFLICT_xxx) - HTTP 409

	// CodeConflict indicates an operation is not allowed in the current
	// state, such as an illegal lifecycle transition.
	CodeConflict Code = "CONFLICT_001"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a storage backend operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates required settings are absent or
	// invalid. Not recoverable per request.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates the identity provider or a
	// storage backend could not be reached.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDependency indicates a call to a dependency timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
