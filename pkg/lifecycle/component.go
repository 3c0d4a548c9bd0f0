package lifecycle

import (
	"context"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// Hook runs during a lifecycle transition or a health check. A non-nil
// error aborts the transition.
type Hook func(ctx context.Context) error

// Component is one unit the service starts, stops and health checks.
// Every hook is optional.
type Component struct {
	// Name identifies the component in logs, spans and [Info]. Names are
	// unique within a service.
	Name string

	// Start runs while the service is starting.
	Start Hook

	// Stop runs while the service is stopping, and when a later
	// component fails to start.
	Stop Hook

	// Check runs on every [Service.Health] call while the service is
	// ready.
	Check Hook
}

// ComponentStatus is the health of one component at the time of an
// [Service.Info] call.
type ComponentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func validateComponent(c Component, seen map[string]bool) error {
	if c.Name == "" {
		return sserr.New(sserr.CodeValidation,
			"lifecycle: component name must not be empty")
	}
	if seen[c.Name] {
		return sserr.Newf(sserr.CodeValidation,
			"lifecycle: duplicate component %q", c.Name)
	}
	seen[c.Name] = true
	return nil
}
