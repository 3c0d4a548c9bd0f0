package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/lifecycle"
)

// healthReporter is the part of [lifecycle.Service] the probes need.
type healthReporter interface {
	Health(ctx context.Context) error
	Info(ctx context.Context) lifecycle.Info
}

type routerDeps struct {
	gate         *auth.Gate
	health       healthReporter
	metrics      http.Handler
	requiredRole string
}

// newRouter mounts the gateway routes:
//
//	GET  /healthz            liveness
//	GET  /readyz             readiness with per-component status
//	GET  /metrics            Prometheus exposition
//	POST /api/auth/refresh   refresh grant exchange
//	GET  /api/auth/validate  token status for clients
//	GET  /api/me             the caller's verified identity
func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		if err := d.health.Health(req.Context()); err != nil {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, d.health.Info(req.Context()))
	})
	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/refresh", d.gate.RefreshHandler())
		r.Get("/auth/validate", d.gate.ValidateHandler())

		r.Group(func(r chi.Router) {
			r.Use(d.gate.RequireWithRefresh)
			if d.requiredRole != "" {
				r.Use(auth.RequireRole(d.requiredRole))
			}
			r.Get("/me", meHandler)
		})
	})
	return r
}

type meResponse struct {
	Subject        string   `json:"subject"`
	Principal      string   `json:"principal"`
	Name           string   `json:"name,omitempty"`
	Roles          []string `json:"roles"`
	TenantID       string   `json:"tenant_id,omitempty"`
	AppDisplayName string   `json:"app_display_name,omitempty"`
	Version        string   `json:"token_version"`
	ExpiresAt      int64    `json:"expires_at"`
	Refreshed      bool     `json:"refreshed"`
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	_, refreshed := auth.RefreshedPairFromContext(r.Context())
	roles := id.Roles()
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		Subject:        id.Subject(),
		Principal:      id.Principal(),
		Name:           id.Name(),
		Roles:          roles,
		TenantID:       id.TenantID(),
		AppDisplayName: id.AppDisplayName(),
		Version:        string(id.Version()),
		ExpiresAt:      id.ExpiresAt().Unix(),
		Refreshed:      refreshed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newHTTPServer applies the timeouts every listener uses.
func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
