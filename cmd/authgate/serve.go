package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/lifecycle"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.OutOrStdout(), cfg)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, prometheus.DefaultRegisterer, promhttp.Handler())
		},
	}
}

// serve builds the gateway, runs it until ctx is done or a listener
// fails, then shuts it down within the configured timeout.
func serve(ctx context.Context, cfg *serverConfig, logger *slog.Logger, reg prometheus.Registerer, metricsHandler http.Handler) error {
	metrics, err := auth.NewMetrics(reg)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "authgate: failed to register metrics")
	}

	store, storeComp, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
		auth.WithRefreshStore(store),
	}
	keys := auth.NewKeyCache(cfg.Auth, opts...)
	validator, err := auth.NewValidator(cfg.Auth, auth.NewKeyMatcher(keys, opts...), opts...)
	if err != nil {
		return err
	}
	refresher, err := auth.NewRefreshManager(cfg.Auth, opts...)
	if err != nil {
		return err
	}
	gate := auth.NewGate(validator, refresher, opts...)

	fatal := make(chan error, 2)
	var httpSrv *http.Server

	builder := lifecycle.NewServiceBuilder("authgate", version).
		WithLogger(logger).
		OnStateChange(func(old, new lifecycle.State) {
			logger.Info("authgate: state transition", "from", old.String(), "to", new.String())
		}).
		WithComponent(storeComp).
		WithComponent(keyWarmup(keys, logger)).
		WithComponent(lifecycle.Component{
			Name:  "http",
			Start: func(context.Context) error { return listen(httpSrv, fatal, logger) },
			Stop:  func(ctx context.Context) error { return httpSrv.Shutdown(ctx) },
		})

	if cfg.GRPCAddr != "" {
		hs := health.NewServer()
		grpcSrv := newGRPCServer(gate, cfg.RequiredRole, hs)
		builder = builder.
			OnStateChange(servingStatus(hs)).
			WithComponent(lifecycle.Component{
				Name:  "grpc",
				Start: func(context.Context) error { return listenGRPC(grpcSrv, cfg.GRPCAddr, fatal, logger) },
				Stop:  func(ctx context.Context) error { return stopGRPC(ctx, grpcSrv, hs) },
			})
	}

	svc, err := builder.Build()
	if err != nil {
		return err
	}
	httpSrv = newHTTPServer(cfg.HTTPAddr, newRouter(routerDeps{
		gate:         gate,
		health:       svc,
		metrics:      metricsHandler,
		requiredRole: cfg.RequiredRole,
	}))

	if err := svc.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("authgate: shutdown requested")
	case runErr = <-fatal:
		logger.Error("authgate: listener failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, svc.Stop(shutdownCtx))
}

// listen binds synchronously so a busy port fails Start, then serves in
// the background.
func listen(srv *http.Server, fatal chan<- error, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailable, "authgate: failed to listen on %s", srv.Addr)
	}
	logger.Info("authgate: http listening", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal <- err
		}
	}()
	return nil
}

func listenGRPC(srv *grpc.Server, addr string, fatal chan<- error, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailable, "authgate: failed to listen on %s", addr)
	}
	logger.Info("authgate: grpc listening", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			fatal <- err
		}
	}()
	return nil
}

// stopGRPC drains in-flight calls until ctx is done, then forces the
// remaining connections closed.
func stopGRPC(ctx context.Context, srv *grpc.Server, hs *health.Server) error {
	hs.Shutdown()
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		srv.Stop()
		return sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "authgate: grpc drain timed out")
	}
}

// keyWarmup fetches the v2 key set at startup so the first request does
// not pay for it. A failed warm-up is logged; the cache fetches again on
// demand.
func keyWarmup(keys *auth.KeyCache, logger *slog.Logger) lifecycle.Component {
	return lifecycle.Component{
		Name: "signing-keys",
		Start: func(ctx context.Context) error {
			set, err := keys.Keys(ctx, auth.SchemaV2)
			if err != nil {
				logger.WarnContext(ctx, "authgate: signing key warm-up failed", "error", err)
				return nil
			}
			logger.InfoContext(ctx, "authgate: signing keys loaded", "count", len(set.Keys))
			return nil
		},
	}
}

// openStore connects the selected refresh store backend and returns the
// lifecycle component that owns it.
func openStore(ctx context.Context, cfg *serverConfig, logger *slog.Logger) (auth.RefreshStore, lifecycle.Component, error) {
	switch cfg.RefreshStore {
	case storeRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, lifecycle.Component{}, err
		}
		return auth.NewRedisRefreshStore(client), lifecycle.Component{
			Name:  "redis",
			Start: client.Health,
			Stop:  func(context.Context) error { return client.Close() },
			Check: client.Health,
		}, nil

	case storePostgres:
		client, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, lifecycle.Component{}, err
		}
		store := auth.NewPostgresRefreshStore(client, auth.WithLogger(logger))
		purger := newPurger(store, cfg.PurgeInterval, logger)
		return store, lifecycle.Component{
			Name: "postgres",
			Start: func(ctx context.Context) error {
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
				purger.start()
				return nil
			},
			Stop: func(context.Context) error {
				purger.stop()
				client.Close()
				return nil
			},
			Check: client.Health,
		}, nil

	default:
		return auth.NewMemoryRefreshStore(), lifecycle.Component{Name: "memory-store"}, nil
	}
}

// purger deletes expired postgres refresh records on an interval. A zero
// interval disables it.
type purger struct {
	store    *auth.PostgresRefreshStore
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPurger(store *auth.PostgresRefreshStore, interval time.Duration, logger *slog.Logger) *purger {
	return &purger{store: store, interval: interval, logger: logger}
}

func (p *purger) start() {
	if p.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := p.store.PurgeExpired(ctx)
				if err != nil {
					p.logger.Warn("authgate: refresh record purge failed", "error", err)
					continue
				}
				if n > 0 {
					p.logger.Info("authgate: purged expired refresh records", "count", n)
				}
			}
		}
	}()
}

func (p *purger) stop() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
}
