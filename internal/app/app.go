package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"authlabs/labserver/internal/audit"
	"authlabs/labserver/internal/auth"
	"authlabs/labserver/internal/config"
	"authlabs/labserver/internal/httpserver"
	"authlabs/labserver/internal/migrations"
	"authlabs/labserver/internal/observability"
	"authlabs/labserver/internal/providers"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	demoEmail    = "test@example.com"
	demoName     = "J Smith"
	demoPassword = "password"
)

type App struct {
	cfg    config.Config
	log    *logrus.Logger
	db     *sql.DB
	audit  *audit.Logger
	server *httpserver.Server
}

func New(cfg config.Config) (*App, error) {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	var err error
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}
	ok := false
	defer func() {
		if !ok && db != nil {
			_ = db.Close()
		}
	}()

	var migrationService *migrations.Service
	var userStore auth.UserStore
	var sessionStore auth.SessionStore
	if db != nil {
		migrationService, err = migrations.NewServiceWithPostgres(migrations.Embedded(), db)
		if err != nil {
			return nil, fmt.Errorf("create migration service: %w", err)
		}
		applied, err := migrationService.Apply(context.Background())
		if err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		for _, name := range applied {
			logger.WithField("migration", name).Info("migration applied")
		}

		userStore, err = auth.NewPostgresUserStore(db)
		if err != nil {
			return nil, fmt.Errorf("create postgres user store: %w", err)
		}
		sessionStore, err = auth.NewPostgresSessionStore(db)
		if err != nil {
			return nil, fmt.Errorf("create postgres session store: %w", err)
		}
	} else {
		migrationService = migrations.NewService(migrations.Embedded())
		userStore, err = auth.NewFileUserStore(cfg.Auth.UserStateFile)
		if err != nil {
			return nil, fmt.Errorf("create user store: %w", err)
		}
	}

	authService, err := auth.NewService(userStore, auth.ServiceConfig{
		Secret:           cfg.Auth.Secret,
		SessionTTL:       cfg.Auth.SessionTTL,
		AdminEmail:       cfg.Auth.AdminEmail,
		BcryptCost:       cfg.Auth.BcryptCost,
		SessionStateFile: cfg.Auth.SessionStateFile,
		SessionStore:     sessionStore,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}
	if err := authService.LoadSessionState(); err != nil {
		return nil, fmt.Errorf("load auth session state: %w", err)
	}

	if cfg.Auth.DemoUser {
		u, err := authService.EnsureCredentialsUser(demoEmail, demoName, demoPassword)
		if err != nil {
			return nil, fmt.Errorf("seed demo user: %w", err)
		}
		logger.WithFields(logrus.Fields{"email": u.Email, "role": u.Role}).Info("demo user ready")
	}

	registry, err := providers.FromConfig(cfg.OAuth, cfg.Auth.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("configure oauth providers: %w", err)
	}
	for _, p := range registry.List() {
		logger.WithField("provider", p.ID()).Info("oauth provider enabled")
	}

	auditLogger := audit.NewLogger(cfg.AuditLogFile)

	deps := httpserver.Deps{
		Auth:              authService,
		Providers:         registry,
		Migrations:        migrationService,
		Audit:             auditLogger,
		Log:               logger,
		Secret:            cfg.Auth.Secret,
		BaseURL:           cfg.Auth.BaseURL,
		SignInPage:        cfg.Auth.SignInPage,
		ProtectedPrefixes: cfg.Auth.ProtectedPrefixes,
		CookieSecure:      cfg.Auth.CookieSecure,
	}
	if db != nil {
		deps.Ready = db.PingContext
	}

	ok = true
	return &App{
		cfg:    cfg,
		log:    logger,
		db:     db,
		audit:  auditLogger,
		server: httpserver.New(cfg.HTTP, deps),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.audit.Close(); err != nil {
			a.log.WithError(err).Warn("close audit log")
		}
		if a.db != nil {
			_ = a.db.Close()
		}
	}()

	errCh := make(chan error, 1)

	go func() {
		a.log.WithField("addr", a.cfg.HTTP.Addr).Info("http server starting")
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
