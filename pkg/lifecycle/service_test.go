package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// recorder collects component hook calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) component(name string, startErr, stopErr error) Component {
	return Component{
		Name: name,
		Start: func(context.Context) error {
			r.add("start:" + name)
			return startErr
		},
		Stop: func(context.Context) error {
			r.add("stop:" + name)
			return stopErr
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, comps ...Component) *Service {
	t.Helper()
	b := NewServiceBuilder("authgate", "1.0.0").WithLogger(quietLogger())
	for _, c := range comps {
		b.WithComponent(c)
	}
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

func TestService_StartStopOrder(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc := build(t,
		rec.component("store", nil, nil),
		rec.component("keys", nil, nil),
		rec.component("http", nil, nil),
	)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StateReady, svc.State())
	require.NoError(t, svc.Health(ctx))

	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, StateStopped, svc.State())
	assert.Equal(t, []string{
		"start:store", "start:keys", "start:http",
		"stop:http", "stop:keys", "stop:store",
	}, rec.get())
}

func TestService_StartFailureUnwinds(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	boom := errors.New("redis unreachable")
	svc := build(t,
		rec.component("store", nil, nil),
		rec.component("keys", boom, nil),
		rec.component("http", nil, nil),
	)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternal))
	assert.Contains(t, err.Error(), `"keys"`)
	assert.Equal(t, StateFailed, svc.State())
	assert.Equal(t, []string{"start:store", "start:keys", "stop:store"}, rec.get())

	// A failed service stops as a no-op and may be restarted.
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_RestartAfterStop(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc := build(t, rec.component("store", nil, nil))
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StateReady, svc.State())
}

func TestService_StartTwiceConflicts(t *testing.T) {
	t.Parallel()
	svc := build(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	err := svc.Start(ctx)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeConflict))
	assert.Equal(t, StateReady, svc.State())
}

func TestService_StartCanceledContext(t *testing.T) {
	t.Parallel()
	svc := build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Start(ctx)
	require.Error(t, err)
	assert.True(t, sserr.IsTimeout(err))
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_StopJoinsErrors(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	e1 := errors.New("flush failed")
	e2 := errors.New("close failed")
	svc := build(t,
		rec.component("a", nil, e1),
		rec.component("b", nil, nil),
		rec.component("c", nil, e2),
	)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	err := svc.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Equal(t, StateFailed, svc.State())
	assert.Equal(t, []string{"stop:c", "stop:b", "stop:a"}, rec.get()[3:])
}

func TestService_StopBeforeStartIsNoop(t *testing.T) {
	t.Parallel()
	svc := build(t)
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_HealthAndInfo(t *testing.T) {
	t.Parallel()
	var healthy = true
	var mu sync.Mutex
	check := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return sserr.New(sserr.CodeUnavailableDependency, "redis: ping failed")
		}
		return nil
	}
	svc := build(t,
		Component{Name: "redis", Check: check},
		Component{Name: "keys"},
	)
	ctx := context.Background()

	err := svc.Health(ctx)
	require.Error(t, err)
	assert.True(t, sserr.IsUnavailable(err))
	info := svc.Info(ctx)
	assert.Equal(t, StateUnknown, info.State)
	assert.Nil(t, info.StartedAt)
	require.Len(t, info.Components, 2)
	assert.False(t, info.Components[0].Healthy)

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Health(ctx))
	info = svc.Info(ctx)
	assert.Equal(t, StateReady, info.State)
	assert.NotNil(t, info.StartedAt)
	assert.True(t, info.Components[0].Healthy)
	assert.True(t, strings.HasPrefix(info.ID, "authgate-"))

	mu.Lock()
	healthy = false
	mu.Unlock()

	err = svc.Health(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"redis"`)
	info = svc.Info(ctx)
	assert.False(t, info.Components[0].Healthy)
	assert.Equal(t, string(sserr.CodeUnavailableDependency), info.Components[0].Error)
	assert.True(t, info.Components[1].Healthy)
}

func TestService_StateHandlers(t *testing.T) {
	t.Parallel()
	var transitions []string
	svc, err := NewServiceBuilder("authgate", "1.0.0").
		WithLogger(quietLogger()).
		OnStateChange(func(old, new State) { panic("handler bug") }).
		OnStateChange(func(old, new State) {
			transitions = append(transitions, old.String()+"->"+new.String())
		}).
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, []string{
		"unknown->starting", "starting->ready", "ready->stopping", "stopping->stopped",
	}, transitions)
}

func TestService_Spans(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := build(t, Component{Name: "bad", Start: func(context.Context) error { return errors.New("nope") }})
	svc.tracer = tp.Tracer(tracerName)

	require.Error(t, svc.Start(context.Background()))
	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "lifecycle.Start", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestServiceBuilder_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		b    *ServiceBuilder
	}{
		{"empty name", NewServiceBuilder("", "1.0.0")},
		{"empty version", NewServiceBuilder("authgate", "")},
		{"unnamed component", NewServiceBuilder("authgate", "1.0.0").WithComponent(Component{})},
		{"duplicate component", NewServiceBuilder("authgate", "1.0.0").
			WithComponent(Component{Name: "redis"}).
			WithComponent(Component{Name: "redis"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			require.Error(t, err)
			assert.True(t, sserr.IsValidation(err))
		})
	}

	svc, err := NewServiceBuilder("authgate", "1.0.0").WithID("authgate-0").Build()
	require.NoError(t, err)
	assert.Equal(t, "authgate-0", svc.ID())
	assert.Equal(t, "authgate", svc.Name())
	assert.Equal(t, "1.0.0", svc.Version())
}
