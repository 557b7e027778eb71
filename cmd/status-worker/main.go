package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/opdqueue/token-engine/internal/booking"
	"github.com/opdqueue/token-engine/internal/clock"
	"github.com/opdqueue/token-engine/internal/config"
	"github.com/opdqueue/token-engine/internal/db"
	redisclient "github.com/opdqueue/token-engine/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("status-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval))

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

	// Run once at startup
	runOnce(rootCtx, pgPool, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping status worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, pgPool, svc, log)
		}
	}
}

// runOnce sweeps every clinic for appointments past their cutoff.
func runOnce(ctx context.Context, pool *pgxpool.Pool, svc *booking.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	rows, err := pool.Query(runCtx, `SELECT id FROM clinics`)
	if err != nil {
		log.Error("list clinics failed", zap.Error(err))
		return
	}
	defer rows.Close()

	var clinicIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Error("scan clinic id failed", zap.Error(err))
			return
		}
		clinicIDs = append(clinicIDs, id)
	}
	if err := rows.Err(); err != nil {
		log.Error("list clinics failed", zap.Error(err))
		return
	}

	for _, clinicID := range clinicIDs {
		if err := svc.RefreshStatuses(runCtx, clinicID); err != nil {
			log.Error("status refresh failed",
				zap.String("clinic_id", clinicID.String()),
				zap.Error(err))
		}
	}

	log.Info("status refresh complete",
		zap.Int("clinics", len(clinicIDs)),
		zap.Duration("took", time.Since(start)))
}
