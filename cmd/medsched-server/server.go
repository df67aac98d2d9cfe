package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medsched/medsched/internal/config"
	"github.com/medsched/medsched/internal/domain/analytics"
	"github.com/medsched/medsched/internal/domain/appointment"
	"github.com/medsched/medsched/internal/domain/scheduling"
	"github.com/medsched/medsched/internal/platform/auth"
	"github.com/medsched/medsched/internal/platform/cache"
	"github.com/medsched/medsched/internal/platform/db"
	"github.com/medsched/medsched/internal/platform/middleware"
	"github.com/medsched/medsched/internal/platform/telemetry"
)

const version = "0.1.0"

// stores is the persistence selected by STORE_DRIVER.
type stores struct {
	schedules    scheduling.Repository
	appointments appointment.Repository
	fees         appointment.FeeDirectory
	tx           db.TxRunner
	health       db.Checker
	close        func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return &stores{
			schedules:    scheduling.NewMemoryStore(),
			appointments: appointment.NewMemoryStore(),
			fees:         appointment.StaticFees{},
			tx:           db.MemoryTx{},
			health:       db.MemoryChecker{},
			close:        func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")
	return &stores{
		schedules:    scheduling.NewRepoPG(pool),
		appointments: appointment.NewRepoPG(pool),
		fees:         appointment.NewFeeDirectoryPG(pool),
		tx:           db.NewPoolTx(pool),
		health:       db.PoolChecker{Pool: pool},
		close:        pool.Close,
	}, nil
}

func openCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Backend, error) {
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("availability cache backed by redis")
		return rs, nil
	}
	ms := cache.NewMemoryStore()
	ms.StartCleanup(ctx, time.Minute)
	return ms, nil
}

type server struct {
	echo    *echo.Echo
	closers []func()
}

func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer wires stores, cache, domain services and routes. ctx bounds
// background work such as cache cleanup.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	defaultFee, err := cfg.ConsultationFee()
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	srv := &server{closers: []func(){st.close}}

	backend, err := openCache(ctx, cfg, logger)
	if err != nil {
		srv.Close()
		return nil, err
	}
	srv.closers = append(srv.closers, func() {
		if err := backend.Close(); err != nil {
			logger.Warn().Err(err).Msg("close cache")
		}
	})

	// Domain
	clock := scheduling.NewClock(loc)
	availCache := scheduling.NewAvailabilityCache(backend, cfg.AvailabilityCacheTTL, cfg.AvailabilityStaleTTL, logger)
	schedSvc := scheduling.NewService(st.schedules, availCache, clock, logger)
	resolver := scheduling.NewResolver(st.schedules, availCache, clock, scheduling.ResolverConfig{
		Concurrency:  cfg.FanOutConcurrency,
		MaxRangeDays: cfg.MaxRangeDays,
	}, logger)
	guard := scheduling.NewGuard(st.schedules, availCache, logger)
	apptSvc := appointment.NewService(st.appointments, guard, st.tx, st.fees, defaultFee, clock, logger)
	analyticsSvc := analytics.NewService(schedSvc, apptSvc, clock, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	metrics := telemetry.NewMetrics()
	registerPoolGauges(metrics, st.health)
	if err := watchInvalidations(ctx, availCache, metrics, logger); err != nil {
		srv.Close()
		return nil, err
	}

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.health))
	e.GET("/metrics", metrics.Handler())

	// API group: authenticate, then rate limit per user
	jwtAuth := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtAuth))
	} else {
		apiV1.Use(jwtAuth)
	}
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Domain routes
	analytics.NewHandler(analyticsSvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedSvc, resolver).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)

	logger.Info().
		Str("store", st.health.Driver()).
		Str("timezone", loc.String()).
		Msg("routes registered")

	srv.echo = e
	return srv, nil
}

func registerPoolGauges(m *telemetry.Metrics, chk db.Checker) {
	if chk.Stats() == nil {
		return
	}
	read := func(f func(*db.PoolStats) int32) func() float64 {
		return func() float64 {
			if s := chk.Stats(); s != nil {
				return float64(f(s))
			}
			return 0
		}
	}
	m.RegisterGauge(telemetry.GaugeFunc{
		Name: "db_pool_acquired_connections",
		Help: "Connections currently checked out of the pool.",
		Read: read(func(s *db.PoolStats) int32 { return s.AcquiredConns }),
	})
	m.RegisterGauge(telemetry.GaugeFunc{
		Name: "db_pool_idle_connections",
		Help: "Idle connections in the pool.",
		Read: read(func(s *db.PoolStats) int32 { return s.IdleConns }),
	})
}

// watchInvalidations counts availability invalidations seen on the cache
// backend. With Redis that includes those published by other instances.
func watchInvalidations(ctx context.Context, ac *scheduling.AvailabilityCache, m *telemetry.Metrics, logger zerolog.Logger) error {
	seen := m.NewCounter("availability_invalidations_total", "Availability invalidations observed on the cache backend.")
	err := ac.Watch(ctx, func(msg scheduling.Invalidation) {
		seen.Inc()
		logger.Debug().
			Str("doctor_id", msg.DoctorID.String()).
			Str("date", msg.Date.String()).
			Msg("availability invalidated")
	})
	if err != nil {
		return fmt.Errorf("watch availability invalidations: %w", err)
	}
	return nil
}
