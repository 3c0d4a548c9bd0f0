package auth

import (
	"net/http"
	"time"
)

// Secret is a string that redacts itself in String(), GoString() and
// MarshalText(). Use [Secret.Value] where the raw value is required.
type Secret string

const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the underlying secret.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler] with the redacted
// placeholder so secrets never leak into JSON or YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// HTTPClient is the subset of [http.Client] used to reach the identity
// provider. The standard [http.Client] satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Clock supplies the current time. Expiry, key TTLs and refresh decisions
// all read time through a Clock so tests can control it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to [Clock].
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
