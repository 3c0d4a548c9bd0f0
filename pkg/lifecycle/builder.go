package lifecycle

import (
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// ServiceBuilder constructs a [Service]. Use [NewServiceBuilder].
//
//	svc, err := lifecycle.NewServiceBuilder("authgate", version).
//	    WithLogger(logger).
//	    WithComponent(lifecycle.Component{
//	        Name:  "postgres",
//	        Start: func(ctx context.Context) error { return store.EnsureSchema(ctx) },
//	        Stop:  func(context.Context) error { db.Close(); return nil },
//	        Check: db.Health,
//	    }).
//	    Build()
type ServiceBuilder struct {
	id            string
	name          string
	version       string
	components    []Component
	logger        *slog.Logger
	stateHandlers []StateChangeHandler
}

// NewServiceBuilder starts a builder for a service with the given name and
// version. The instance ID defaults to "<name>-<uuid>".
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{name: name, version: version}
}

// WithID overrides the generated instance ID.
func (b *ServiceBuilder) WithID(id string) *ServiceBuilder {
	b.id = id
	return b
}

// WithComponent appends a component. Components start in the order they
// are added.
func (b *ServiceBuilder) WithComponent(c Component) *ServiceBuilder {
	b.components = append(b.components, c)
	return b
}

// WithLogger sets the logger. Defaults to [slog.Default].
func (b *ServiceBuilder) WithLogger(logger *slog.Logger) *ServiceBuilder {
	b.logger = logger
	return b
}

// OnStateChange registers a handler called on every transition, in
// registration order.
func (b *ServiceBuilder) OnStateChange(handler StateChangeHandler) *ServiceBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the builder and returns a service in [StateUnknown].
// Empty names or versions and duplicate component names are
// [sserr.CodeValidation] errors.
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service version must not be empty")
	}

	seen := make(map[string]bool, len(b.components))
	for _, c := range b.components {
		if err := validateComponent(c, seen); err != nil {
			return nil, err
		}
	}

	id := b.id
	if id == "" {
		id = b.name + "-" + uuid.NewString()
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		id:            id,
		name:          b.name,
		version:       b.version,
		components:    append([]Component(nil), b.components...),
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
