package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	authrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/auth/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/events"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const serviceName = "pitchfork-auth"

// app holds the wired components and everything that must be closed.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	sugar   *zap.SugaredLogger
	db      *sqlx.DB
	rdb     *redis.Client
	pub     *events.NATSPublisher
	issuer  *auth.TokenIssuer
	hasher  user.BcryptHasher
	users   *userrepo.UserRepo
	auth    *auth.Service
	metrics *metrics.Metrics
}

// newApp loads configuration and the logger only. Stores are opened by connect.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return withLogger(cfg)
}

// newSchemaApp loads only the database and log settings, for migrate.
func newSchemaApp() (*app, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, err
	}
	return withLogger(cfg)
}

func withLogger(cfg *config.Config) (*app, error) {
	lg, err := utilities.Init(cfg.Log())
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return &app{cfg: cfg, logger: lg, sugar: lg.Sugar()}, nil
}

// connect opens Postgres, the session store and optional NATS, then builds
// the auth service.
func (a *app) connect(ctx context.Context, reg prometheus.Registerer) error {
	db, err := database.Open(a.cfg.Database())
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	a.db = db

	a.issuer = auth.NewTokenIssuer(a.cfg.JWTSecret,
		a.expiry("JWT_ACCESS_EXPIRES_IN", a.cfg.JWTAccessExpiresIn, auth.DefaultAccessTTL),
		a.expiry("JWT_REFRESH_EXPIRES_IN", a.cfg.JWTRefreshExpiresIn, auth.DefaultRefreshTTL),
	)
	a.hasher = user.BcryptHasher{Cost: a.cfg.BcryptCost}
	a.users = userrepo.NewUserRepo(db)

	var sessions auth.SessionStore
	switch a.cfg.SessionStore {
	case config.StoreRedis:
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		sessions = authrepo.NewRedisSessionRepo(a.rdb, authrepo.DefaultRedisPrefix)
	default:
		sessions = authrepo.NewSessionRepo(db)
	}
	a.sugar.Infow("session store ready", "backend", a.cfg.SessionStore)

	opts := []auth.Option{}
	if reg != nil {
		a.metrics = metrics.New(reg)
		opts = append(opts, auth.WithMetrics(a.metrics))
	}
	if a.cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(a.cfg.NATSURL, a.cfg.EventsSubject, a.cfg.SnowflakeNode,
			nats.Name(serviceName),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			// events are best-effort; run without them
			a.sugar.Warnw("nats connect failed, events disabled", "err", err)
		} else {
			a.pub = pub
			opts = append(opts, auth.WithPublisher(pub))
		}
	}

	a.auth = auth.NewService(a.users, sessions, a.issuer, a.hasher, a.sugar.Named("auth"), opts...)
	return nil
}

// expiry parses a <n>[dhm] specifier and falls back with a warning.
func (a *app) expiry(key, value string, fallback time.Duration) time.Duration {
	d, ok := auth.ParseExpiry(value)
	if !ok || d <= 0 {
		a.sugar.Warnw("invalid token lifetime, using default", "key", key, "value", value, "default", fallback.String())
		return fallback
	}
	return d
}

func (a *app) ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return err
	}
	if a.rdb != nil {
		return a.rdb.Ping(ctx).Err()
	}
	return nil
}

func (a *app) close() {
	if a.pub != nil {
		a.pub.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.sugar.Warnw("redis close failed", "err", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.sugar.Warnw("db close failed", "err", err)
		}
	}
	_ = a.logger.Sync()
}
