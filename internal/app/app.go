package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/accessreq"
	"github.com/aliuyar1234/bizdesk/internal/audit"
	"github.com/aliuyar1234/bizdesk/internal/businesses"
	"github.com/aliuyar1234/bizdesk/internal/config"
	"github.com/aliuyar1234/bizdesk/internal/db"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/membership"
	"github.com/aliuyar1234/bizdesk/internal/notify"
	"github.com/aliuyar1234/bizdesk/internal/orgs"
	"github.com/aliuyar1234/bizdesk/internal/retention"
	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/aliuyar1234/bizdesk/internal/store/memory"
	"github.com/aliuyar1234/bizdesk/internal/store/postgres"
	"github.com/aliuyar1234/bizdesk/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "bizdesk"

// Version is stamped at build time.
var Version = "dev"

// Services groups the domain services behind the HTTP surface.
type Services struct {
	Resolver   *membership.Resolver
	Orgs       *orgs.Service
	Businesses *businesses.Service
	Access     *accessreq.Service
	Auditor    *audit.Writer
	Verifier   *identity.Verifier
}

// App holds the application state
type App struct {
	Config   *config.Config
	Port     store.Port
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Services *Services
	Sweeper  *retention.Sweeper
	Router   http.Handler

	server            *http.Server
	telemetryShutdown func(context.Context) error
}

// New creates and initializes a new application instance
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	setupLogger(cfg.LogLevel, cfg.IsDev())

	log.Info().Msg("Initializing bizdesk application")
	log.Info().Interface("config", cfg.RedactedValues()).Msg("Configuration loaded")

	a := &App{Config: cfg}

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTelemetry(ctx, serviceName, Version)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		a.telemetryShutdown = shutdown
	}

	var (
		directory  identity.Directory
		auditStore audit.Store
	)
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("Using in-memory store: data is lost on restart")
		mem := memory.New()
		memAudit := audit.NewMemoryStore()
		memAudit.OrgOf = mem.BusinessOrganization
		a.Port = mem
		directory = identity.NewMemoryDirectory()
		auditStore = memAudit

	default:
		log.Info().Msg("Connecting to database...")
		pool, err := postgres.NewPool(ctx, &postgres.PoolConfig{ConnString: cfg.DBDSN})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = pool
		log.Info().Msg("Database connection established")

		if cfg.IsDev() {
			log.Info().Msg("Development mode: running migrations automatically")
			if _, err := db.RunMigrations(ctx, pool); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		} else {
			log.Info().Msg("Production mode: migrations must be run with `bizdesk migrate`")
		}

		a.Port = postgres.New(pool, postgres.WithQueryTimeout(cfg.StoreTimeout))
		directory = identity.NewPGDirectory(pool)
		auditStore = audit.NewPGStore(pool)
	}

	cache, err := a.membershipCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	auditor := audit.NewWriter(auditStore)
	resolver := membership.NewResolver(a.Port,
		membership.WithCache(cache),
		membership.WithDirectory(directory),
		membership.WithAuditor(auditor),
	)
	orgService := orgs.NewService(a.Port, resolver, auditor)

	a.Services = &Services{
		Resolver:   resolver,
		Orgs:       orgService,
		Businesses: businesses.NewService(a.Port, orgService, resolver, auditor),
		Access: accessreq.NewService(a.Port, resolver, auditor,
			accessreq.WithDirectory(directory),
			accessreq.WithNotifier(notify.NewClient(cfg.NotifyWebhookURL, cfg.NotifyTimeoutMS), cfg.BaseURL),
		),
		Auditor:  auditor,
		Verifier: identity.NewVerifier(cfg.IdentitySecret, cfg.IdentityIssuer),
	}
	a.Sweeper = retention.NewSweeper(a.Port.Maintenance(), cfg.RetentionInviteDays, cfg.RetentionRequestDays)
	a.Router = NewRouter(cfg, a.Port, a.Services)

	log.Info().Str("store", cfg.Store).Msg("Application initialized successfully")
	return a, nil
}

// membershipCache picks Redis when configured so every replica shares invalidations.
func (a *App) membershipCache(ctx context.Context) (membership.Cache, error) {
	if a.Config.RedisAddr == "" {
		return membership.NewMemoryCache(a.Config.CacheTTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Redis = client
	log.Info().Str("addr", a.Config.RedisAddr).Msg("Membership cache backed by Redis")

	return membership.NewRedisCache(client, a.Config.CacheTTL), nil
}

// Start starts the HTTP server and blocks until it stops.
func (a *App) Start() error {
	addr := a.Config.HTTPAddr
	log.Info().Str("addr", addr).Msg("Starting HTTP server")

	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a.server.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		log.Info().Msg("Stopping HTTP server")
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	a.Close()
	return errors.Join(errs...)
}

// Close releases the store and cache connections.
func (a *App) Close() {
	log.Info().Msg("Shutting down application")
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
		a.Redis = nil
	}
	if a.DB != nil {
		log.Info().Msg("Closing database connection")
		a.DB.Close()
		a.DB = nil
	}
}

// setupLogger configures the global logger: console output in dev, JSON otherwise.
func setupLogger(level string, dev bool) {
	if dev {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Debug().Str("level", level).Msg("Logger configured")
}
