package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/opdqueue/token-engine/internal/api"
	"github.com/opdqueue/token-engine/internal/booking"
	"github.com/opdqueue/token-engine/internal/clock"
	"github.com/opdqueue/token-engine/internal/config"
	"github.com/opdqueue/token-engine/internal/db"
	redisclient "github.com/opdqueue/token-engine/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := newLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize, cfg.RedisTimeout)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	clk := clock.System()
	repo := booking.NewPgRepository(pgPool, cfg.HoldTTL)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	alloc := booking.NewAllocator(repo, locker, clk, booking.AllocatorOptions{
		WalkInOpenBefore:  cfg.WalkInOpenBefore,
		WalkInCloseBefore: cfg.WalkInCloseBefore,
		MaxOverflowSlots:  cfg.MaxOverflowSlots,
	})
	svc := booking.NewService(repo, alloc, clk, booking.ServiceOptions{
		ArriveByLead:      cfg.ArriveByLead,
		CutoffGrace:       cfg.CutoffGrace,
		NoShowRejoinDelay: cfg.NoShowRejoinDelay,
		SkipRejoinGrace:   cfg.SkipRejoinGrace,
		BufferSize:        cfg.BufferSize,
		PriorityCap:       cfg.PriorityCap,
	}, log)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Repo:    repo,
		Clock:   clk,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  log,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	if env == "prod" {
		log, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return log
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return log
}
