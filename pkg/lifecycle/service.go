package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authgate/pkg/lifecycle"

// StateChangeHandler is called synchronously, under the service's state
// mutex, on every transition. It must not call lifecycle methods on the
// same service. A panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Info is a point-in-time snapshot of a service, suitable for a health
// endpoint.
type Info struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	State      State             `json:"state"`
	Components []ComponentStatus `json:"components"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Service owns an ordered list of components and the state machine that
// governs them. Build one with [ServiceBuilder]. A Service is safe for
// concurrent use.
type Service struct {
	id      string
	name    string
	version string

	components []Component

	mu        sync.RWMutex
	state     State
	started   int // components whose Start hook succeeded
	startedAt *time.Time

	tracer        trace.Tracer
	logger        *slog.Logger
	stateHandlers []StateChangeHandler
}

// ID returns the instance ID.
func (s *Service) ID() string { return s.id }

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Version returns the service version.
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// setState validates and applies a transition, then notifies handlers.
func (s *Service) setState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}
	s.state = new

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service_id", s.id,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

func (s *Service) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.id", s.id),
			attribute.String("service.name", s.name),
		),
	)
}

// Start runs every component's Start hook in order and moves the service
// to [StateReady]. If a hook fails, the components already started are
// stopped in reverse order and the service moves to [StateFailed].
//
// Start is allowed from [StateUnknown], [StateStopped] and [StateFailed].
// A context that is already done yields a [sserr.CodeTimeout] error
// without changing state.
func (s *Service) Start(ctx context.Context) (err error) {
	ctx, span := s.span(ctx, "lifecycle.Start")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution")
	}
	if err := s.setState(StateStarting); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service_id", s.id,
		"service_name", s.name,
		"service_version", s.version,
		"components", len(s.components),
	)

	for i, c := range s.components {
		if c.Start != nil {
			if err := c.Start(ctx); err != nil {
				s.logger.ErrorContext(ctx, "lifecycle: component failed to start",
					"service_id", s.id,
					"component", c.Name,
					"error", err,
				)
				s.unwind(ctx, i)
				_ = s.setState(StateFailed)
				return sserr.Wrapf(err, sserr.CodeInternal,
					"lifecycle: component %q failed to start", c.Name)
			}
		}
		s.mu.Lock()
		s.started = i + 1
		s.mu.Unlock()
	}

	if err := s.setState(StateReady); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service ready", "service_id", s.id)
	return nil
}

// unwind stops the first n components in reverse order, logging failures.
func (s *Service) unwind(ctx context.Context, n int) {
	for i := n - 1; i >= 0; i-- {
		c := s.components[i]
		if c.Stop == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			s.logger.WarnContext(ctx, "lifecycle: component failed to stop during unwind",
				"service_id", s.id,
				"component", c.Name,
				"error", err,
			)
		}
	}
	s.mu.Lock()
	s.started = 0
	s.mu.Unlock()
}

// Stop runs the Stop hook of every started component in reverse order and
// moves the service to [StateStopped]. Every hook runs even when an
// earlier one fails; the failures are joined and the service moves to
// [StateFailed].
//
// Stop on a terminal or never-started service is a no-op.
func (s *Service) Stop(ctx context.Context) (err error) {
	ctx, span := s.span(ctx, "lifecycle.Stop")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if st := s.State(); st.IsTerminal() || st == StateUnknown {
		return nil
	}
	if err := s.setState(StateStopping); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service_id", s.id)

	s.mu.RLock()
	n := s.started
	s.mu.RUnlock()

	var errs []error
	for i := n - 1; i >= 0; i-- {
		c := s.components[i]
		if c.Stop == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: component failed to stop",
				"service_id", s.id,
				"component", c.Name,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.started = 0
	s.startedAt = nil
	s.mu.Unlock()

	if len(errs) > 0 {
		_ = s.setState(StateFailed)
		return sserr.Wrap(errors.Join(errs...), sserr.CodeInternal,
			"lifecycle: service stopped with errors")
	}
	if err := s.setState(StateStopped); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service_id", s.id)
	return nil
}

// Health returns nil when the service is ready and every component Check
// passes. Otherwise it returns a [sserr.CodeUnavailable] error naming the
// state or the first failing component.
func (s *Service) Health(ctx context.Context) error {
	if st := s.State(); st != StateReady {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not ready, current state is %q", st)
	}
	for _, c := range s.components {
		if c.Check == nil {
			continue
		}
		if err := c.Check(ctx); err != nil {
			return sserr.Wrapf(err, sserr.CodeUnavailable,
				"lifecycle: component %q is unhealthy", c.Name)
		}
	}
	return nil
}

// Info returns a snapshot of the service and the health of each
// component. Components are only checked while the service is ready.
func (s *Service) Info(ctx context.Context) Info {
	s.mu.RLock()
	info := Info{
		ID:      s.id,
		Name:    s.name,
		Version: s.version,
		State:   s.state,
	}
	if s.startedAt != nil && s.state == StateReady {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t).Round(time.Second).String()
	}
	s.mu.RUnlock()

	info.Components = make([]ComponentStatus, 0, len(s.components))
	for _, c := range s.components {
		st := ComponentStatus{Name: c.Name, Healthy: info.State == StateReady}
		if st.Healthy && c.Check != nil {
			if err := c.Check(ctx); err != nil {
				st.Healthy = false
				st.Error = sserr.FromError(err).Code.String()
			}
		}
		info.Components = append(info.Components, st)
	}
	return info
}
