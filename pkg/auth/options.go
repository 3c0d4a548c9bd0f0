package auth

import (
	"log/slog"
	"net/http"
)

// Option configures the collaborators of a [KeyCache], [Validator],
// [RefreshManager] or [Gate]. Options that do not apply to a component
// are ignored by it.
type Option func(*options)

type options struct {
	httpClient HTTPClient
	clock      Clock
	logger     *slog.Logger
	metrics    *Metrics
	store      RefreshStore
}

// WithHTTPClient sets the client used for key and token endpoint calls.
// Per-call timeouts are applied through the request context, so the client
// needs no timeout of its own.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the Prometheus counters to record into. A nil
// *Metrics disables recording.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRefreshStore sets where the [RefreshManager] keeps refresh records.
// Defaults to an in-process [MemoryRefreshStore].
func WithRefreshStore(s RefreshStore) Option {
	return func(o *options) { o.store = s }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	if o.clock == nil {
		o.clock = systemClock{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
