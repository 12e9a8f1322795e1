package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go-photoshare/internal/config"
	"go-photoshare/internal/database"
	"go-photoshare/internal/event"
	"go-photoshare/internal/guard"
	"go-photoshare/internal/handler"
	"go-photoshare/internal/mailer"
	"go-photoshare/internal/middleware"
	"go-photoshare/internal/password"
	"go-photoshare/internal/repository"
	"go-photoshare/internal/router"
	"go-photoshare/internal/service"
	"go-photoshare/internal/session"
	"go-photoshare/internal/token"
)

const auditMemoryCapacity = 10000

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

// stores groups the backing stores selected by STORE_DRIVER.
type stores struct {
	users   service.UserStore
	audit   service.AuditStore
	health  handler.Pinger
	cleanup []func()
}

func New(cfg *config.Config) (*App, error) {
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	closeAll := func() {
		for i := len(st.cleanup) - 1; i >= 0; i-- {
			st.cleanup[i]()
		}
	}

	params := password.DefaultParams()
	// Validate bounds these, so the narrowing cannot wrap.
	params.Memory = uint32(cfg.PasswordHashMemoryKB)
	params.Iterations = uint32(cfg.PasswordHashIterations)
	params.Parallelism = uint8(cfg.PasswordHashParallelism)
	hasher, err := password.NewHasher(params)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	issuer, err := token.NewIssuer(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Algorithm:  cfg.JWTAlgorithm,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
		EmailTTL:   cfg.EmailTokenTTL,
		ClockSkew:  cfg.JWTClockSkew,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	mail, err := newMailer(cfg)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	bus := event.NewBus()
	sessions := session.NewTracker(st.users)
	authGuard := guard.New(guard.NewPolicy(guard.PolicyOptions{
		ModeratorCanEdit: cfg.ModeratorCanEdit,
		ModeratorCanBan:  cfg.ModeratorCanBan,
	}))

	authService, err := service.NewAuthService(st.users, hasher, issuer, sessions, mail, bus, service.AuthOptions{
		ActivationEnabled: cfg.EmailActivationEnabled,
		ReusePolicy:       service.ReusePolicy(cfg.RefreshReusePolicy),
		PublicBaseURL:     cfg.PublicBaseURL,
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	userService := service.NewUserService(st.users, authGuard, sessions, bus, cfg.EmailActivationEnabled)
	auditService := service.NewAuditService(st.audit, authGuard)

	if cfg.BootstrapAdminUsername != "" {
		if err := authService.EnsureAdmin(context.Background(), cfg.BootstrapAdminUsername, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
		}
	}

	auditCtx, auditCancel := context.WithCancel(context.Background())
	events, unsubscribe := bus.Subscribe()
	go auditService.Run(auditCtx, events)

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		User:      handler.NewUserHandler(authService, userService),
		Audit:     handler.NewAuditHandler(auditService),
		Authorize: handler.NewAuthorizeHandler(authGuard),
		Health:    handler.NewHealthHandler(st.health, bus),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		cleanupFuncs: []func(){
			func() {
				unsubscribe()
				auditCancel()
			},
			closeAll,
		},
	}, nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns), int32(cfg.DBMinConns))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return &stores{
			users:   repository.NewUserRepository(db.Pool),
			audit:   repository.NewAuditRepository(db.Pool),
			health:  db,
			cleanup: []func(){db.Close},
		}, nil

	case config.StoreDriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create bolt directory: %w", err)
		}
		repo, err := repository.OpenBoltUserRepository(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		slog.Info("bolt store ready", "path", cfg.BoltPath)
		return &stores{
			users: repo,
			audit: repository.NewMemoryAuditRepository(auditMemoryCapacity),
			cleanup: []func(){func() {
				if err := repo.Close(); err != nil {
					slog.Warn("bolt close failed", "error", err)
				}
			}},
		}, nil

	default:
		slog.Warn("using in-memory store; accounts are lost on restart")
		return &stores{
			users: repository.NewMemoryUserRepository(),
			audit: repository.NewMemoryAuditRepository(auditMemoryCapacity),
		}, nil
	}
}

func newMailer(cfg *config.Config) (mailer.Mailer, error) {
	if cfg.SMTPHost == "" {
		slog.Info("SMTP_HOST not set; outgoing mail is logged")
		return mailer.LogMailer{}, nil
	}
	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

// Handler returns the fully wired router.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Close stops the audit consumer and releases the stores. It does not stop the listener.
func (a *App) Close() {
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Drain in-flight requests before the stores go away.
	shutdownErr := a.server.Shutdown(ctx)
	a.Close()

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
