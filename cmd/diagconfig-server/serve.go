package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/diagconfig/internal/config"
	"github.com/ehr/diagconfig/internal/domain/catalog"
	"github.com/ehr/diagconfig/internal/domain/pack"
	"github.com/ehr/diagconfig/internal/domain/readiness"
	"github.com/ehr/diagconfig/internal/platform/auth"
	"github.com/ehr/diagconfig/internal/platform/db"
	"github.com/ehr/diagconfig/internal/platform/metrics"
	"github.com/ehr/diagconfig/internal/platform/middleware"
)

const (
	apiPrefix      = "/api/v1"
	applyRoute     = apiPrefix + "/diagnostic-packs/apply"
	versionsRoute  = apiPrefix + "/diagnostic-packs/:id/versions"
	versionRoute   = apiPrefix + "/diagnostic-pack-versions/:id"
	readinessRoute = apiPrefix + "/branches/:branchId/diagnostics/readiness"
	workbookRoute  = apiPrefix + "/branches/:branchId/diagnostics/readiness.xlsx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the diagnostics configuration API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// routeTimeouts gives apply and readiness their configured deadlines.
func routeTimeouts(cfg *config.Config) map[string]time.Duration {
	return map[string]time.Duration{
		applyRoute:     cfg.ApplyTimeout,
		readinessRoute: cfg.ReadinessTimeout,
		workbookRoute:  cfg.ReadinessTimeout,
	}
}

// rateLimit gives every caller its own bucket, keyed by identity and address.
// A zero RATE_LIMIT_RPS turns limiting off.
func rateLimit(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.RateLimitRPS <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		KeyFunc: func(c echo.Context) string {
			return auth.UserIDFromContext(c.Request().Context()) + ":" + c.RealIP()
		},
	})
}

type services struct {
	store    catalog.Store
	packs    *pack.Service
	analyzer *readiness.Analyzer
}

func newServices(pool *pgxpool.Pool, m *metrics.Collectors, logger zerolog.Logger) *services {
	store := catalog.NewPGStore(pool)
	applier := pack.NewApplier(store, logger)
	return &services{
		store: store,
		packs: pack.NewService(
			pack.NewPackRepoPG(pool), pack.NewVersionRepoPG(pool), pack.NewApplicationRepoPG(pool),
			applier, m, logger,
		),
		analyzer: readiness.NewAnalyzer(store, m, logger),
	}
}

// newServer builds the echo instance. pinger backs /health/db and gatherer
// backs /metrics; a nil gatherer leaves /metrics unrouted.
func newServer(cfg *config.Config, svc *services, pinger db.Pinger, gatherer prometheus.Gatherer, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{echo.HeaderLocation, "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.PackBodyLimit, versionsRoute, versionRoute))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, routeTimeouts(cfg)))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	if gatherer != nil {
		e.GET("/metrics", metrics.Handler(gatherer))
	}

	api := e.Group(apiPrefix, rateLimit(cfg))
	catalog.NewHandler(catalog.NewStatusService(svc.store)).RegisterRoutes(api)
	catalog.NewAllowListHandler(catalog.NewAllowListService(svc.store)).RegisterRoutes(api)
	pack.NewHandler(svc.packs).RegisterRoutes(api)
	readiness.NewHandler(svc.analyzer).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: unauthenticated requests are served as diagnostics_admin")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var (
		m        *metrics.Collectors
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		gatherer = reg
	}

	e := newServer(cfg, newServices(pool, m, logger), pool, gatherer, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
