package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iliyamo/rental-ledger/internal/config"
	"github.com/iliyamo/rental-ledger/internal/database"
	"github.com/iliyamo/rental-ledger/internal/handler"
	"github.com/iliyamo/rental-ledger/internal/ledger"
	"github.com/iliyamo/rental-ledger/internal/metrics"
	"github.com/iliyamo/rental-ledger/internal/middleware"
	"github.com/iliyamo/rental-ledger/internal/queue"
	"github.com/iliyamo/rental-ledger/internal/repository"
	"github.com/iliyamo/rental-ledger/internal/router"
	"github.com/iliyamo/rental-ledger/internal/service"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		store ledger.Store
		db    *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			logger.Fatal("migrate database", zap.Error(err))
		}
		store = repository.NewLedgerStore(db)
	default:
		store = ledger.NewMemStore()
	}

	opts := []ledger.Option{ledger.WithObserver(m), ledger.WithLogger(logger.Named("ledger"))}
	if cfg.Events.Enabled {
		opts = append(opts, ledger.WithNotifier(
			service.NewPublisher(cfg.Events.URL, cfg.Events.Queue, logger.Named("publisher"), m),
		))
		consumer := queue.NewConsumer(cfg.Events, logger.Named("indexer"), m)
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer stopped", zap.Error(err))
			}
		}()
	}
	svc := ledger.NewService(store, clockwork.NewRealClock(), opts...)

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and caching disabled")
	} else {
		defer rdb.Close()
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, logger.Named("cache"))
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger.Named("ratelimit"))

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(logger.Named("http")))

	var pinger handler.Pinger
	if db != nil {
		pinger = db
	}
	router.RegisterRoutes(e, pinger)
	routes := router.Options{JWTSecret: cfg.JWTSecret, RateLimit: limiter, ListingCache: cache.Middleware()}
	if db != nil {
		auth := handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db), logger.Named("auth"))
		router.RegisterAuth(e, auth, routes)
	}
	router.RegisterLedger(e, handler.NewLedgerHandler(svc, cache, logger.Named("handler")), routes)

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func requestLogger(l *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if id := middleware.CallerID(c); id != "" {
				fields = append(fields, zap.String("actor", id))
			}
			if v.Error != nil {
				l.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			l.Info("request", fields...)
			return nil
		},
	})
}
