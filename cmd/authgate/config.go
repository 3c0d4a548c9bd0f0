package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// Refresh store backends.
const (
	storeMemory   = "memory"
	storeRedis    = "redis"
	storePostgres = "postgres"
)

// serverConfig is the full settings tree of the gateway process. Auth
// settings sit at the top level of the environment (AZURE_AD_TENANT_ID);
// backend settings are grouped (REDIS_HOST, POSTGRES_URI).
type serverConfig struct {
	HTTPAddr        string        `json:"http_addr" yaml:"http_addr" env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `json:"grpc_addr" yaml:"grpc_addr" env:"GRPC_ADDR"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// RequiredRole, when set, is demanded of every caller of the protected
	// routes and gRPC methods.
	RequiredRole string `json:"required_role" yaml:"required_role" env:"REQUIRED_ROLE"`

	RefreshStore  string        `json:"refresh_store" yaml:"refresh_store" env:"REFRESH_STORE" envDefault:"memory"`
	PurgeInterval time.Duration `json:"purge_interval" yaml:"purge_interval" env:"PURGE_INTERVAL" envDefault:"10m"`

	LogLevel  string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `json:"log_format" yaml:"log_format" env:"LOG_FORMAT" envDefault:"json"`

	Auth     auth.Config     `json:"auth" yaml:"auth"`
	Redis    redis.Config    `json:"redis" yaml:"redis" env:"REDIS"`
	Postgres postgres.Config `json:"postgres" yaml:"postgres" env:"POSTGRES"`
}

// Validate checks the auth settings and the selected store backend.
func (c *serverConfig) Validate() error {
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.HTTPAddr == "" {
		return sserr.Configuration("authgate: HTTP address must be set")
	}
	if c.ShutdownTimeout <= 0 {
		return sserr.Configuration("authgate: shutdown timeout must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration, "authgate: unknown log format %q", c.LogFormat)
	}

	switch c.RefreshStore {
	case storeMemory:
		return nil
	case storeRedis:
		if err := c.Redis.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalConfiguration, "authgate: invalid redis settings")
		}
		return nil
	case storePostgres:
		if c.PurgeInterval < 0 {
			return sserr.Configuration("authgate: purge interval must not be negative")
		}
		if err := c.Postgres.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalConfiguration, "authgate: invalid postgres settings")
		}
		return nil
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"authgate: unknown refresh store %q (use memory, redis or postgres)", c.RefreshStore)
	}
}

func loadConfig(g *globalFlags) (*serverConfig, error) {
	cfg := &serverConfig{}
	loader := config.New().WithEnvPrefix(g.envPrefix)
	if g.configFile != "" {
		loader = loader.WithFile(g.configFile)
	}
	if g.envFile != "" {
		loader = loader.WithDotEnv(g.envFile)
	}
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "authgate: invalid log level %q", s)
	}
	return level, nil
}

// newLogger builds the process logger. cfg must already be validated.
func newLogger(w io.Writer, cfg *serverConfig) *slog.Logger {
	level, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "authgate", "version", version)
}
