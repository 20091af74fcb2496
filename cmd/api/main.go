package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blood-broadcast/internal/audit"
	"blood-broadcast/internal/auth"
	"blood-broadcast/internal/broadcast"
	"blood-broadcast/internal/config"
	"blood-broadcast/internal/donors"
	"blood-broadcast/internal/httpapi"
	"blood-broadcast/internal/reporting"
	"blood-broadcast/pkg/logger"
	"blood-broadcast/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

const serviceName = "blood-broadcast"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, serviceName)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return err
	}
	defer rdb.Close()

	directory := donors.NewPostgresDirectory(db)
	var locator donors.Locator = directory
	if cfg.Broadcast.LocatorBackend == "redis" {
		locator = donors.NewRedisGeoIndex(rdb, "donors")
	}

	calls := broadcast.NewPostgresRepo(db)
	bc := cfg.Broadcast
	svc := broadcast.NewService(calls, directory, locator, broadcast.Options{
		Kinds: map[broadcast.Kind]broadcast.KindProfile{
			broadcast.KindCall:  {RadiusKm: bc.CallRadiusKm, MaxDonors: bc.CallMaxDonors},
			broadcast.KindAlert: {RadiusKm: bc.AlertRadiusKm, MaxDonors: bc.AlertMaxDonors},
		},
		RingTimeout: bc.RingTimeout,
		Throttle:    broadcast.NewRedisThrottle(rdb, "broadcast", bc.CreateLimit, bc.CreateWindow),
		Events:      audit.NewService(audit.NewPostgresRepo(db)),
	})

	instanceID := uuid.NewString()
	sweeper := broadcast.NewSweeper(svc, bc.SweepSchedule,
		broadcast.WithLogger(log),
		broadcast.WithLease(func(ctx context.Context, ttl time.Duration) (bool, error) {
			return utils.TryLease(ctx, rdb, "broadcast:sweep-lease", instanceID, ttl)
		}, 0),
	)

	h := httpapi.Handlers{
		Auth:       authManager,
		Broadcasts: svc,
		Reports:    reporting.NewService(calls),
		Ping: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, routeDeps{
		Handlers:      h,
		AuthMW:        auth.RequireAccessToken(authManager),
		Polls:         httpapi.NewPollLimiter(bc.PollInterval, bc.PollRatePerSec, bc.PollBurst),
		AllowDevLogin: !cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "locator", bc.LocatorBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})
	return g.Wait()
}
