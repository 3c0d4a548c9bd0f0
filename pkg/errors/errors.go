// Package errors provides the structured error type shared by the token gate
// packages. Every error carries a machine-readable [Code] that maps onto an
// HTTP status, an optional cause, and optional structured details for logs.
//
// # Error Codes
//
// Codes follow the pattern CATEGORY_NNN (e.g., "AUTH_003"). The category
// decides the HTTP status returned by [Error.HTTPStatus]:
//
//   - VAL     400 Bad Request
//   - AUTH    401 Unauthorized
//   - AUTHZ   403 Forbidden
//   - NF      404 Not Found
//   - INT     500 Internal Server Error
//   - UNAVAIL 503 Service Unavailable
//   - TIMEOUT 504 Gateway Timeout
//
// # Usage
//
//	err := errors.New(errors.CodeAuthenticationMissing, "authorization header is missing")
//
//	if errors.IsAuthentication(err) {
//	    // respond 401
//	}
//
// Messages may be shown to clients and must never contain token material or
// raw cryptographic errors; keep root-cause detail in the Cause and in logs.
package errors
