// Package api implements app.Runner for the stake ledger API server process.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainsafe/stake-ledger/pkg/accrual"
	apphttp "github.com/chainsafe/stake-ledger/pkg/app/http"
	"github.com/chainsafe/stake-ledger/pkg/clock"
	"github.com/chainsafe/stake-ledger/pkg/config"
	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
	"github.com/chainsafe/stake-ledger/pkg/ledgerstore/memory"
	"github.com/chainsafe/stake-ledger/pkg/pgutil"
	"github.com/chainsafe/stake-ledger/pkg/report"
	"github.com/chainsafe/stake-ledger/pkg/scheduler"
	"github.com/chainsafe/stake-ledger/pkg/stake/service"
	"github.com/chainsafe/stake-ledger/pkg/sweeplock"
)

// Store is everything the server components need from the ledger store.
type Store interface {
	service.Store
	report.Store
}

// Server holds cfg to init the api server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes new api server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("api server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting stake ledger API server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
	)

	store, closeStore, err := s.openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	clk := clock.New()
	calc := accrual.Calculator{
		Rate:      cfg.Staking.Rate(),
		Period:    cfg.Staking.AccrualPeriod,
		Precision: cfg.Staking.Precision,
	}
	stakeService := service.NewLog(
		service.NewService(store, clk, service.Config{Calculator: calc, MinStake: cfg.Staking.Minimum()}, logger),
		logger,
	)

	opts, closeLock, err := s.lockOptions(ctx, logger)
	if err != nil {
		return err
	}
	defer closeLock()

	sweeper := scheduler.New(store, stakeService, clk, scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		Period:       cfg.Staking.AccrualPeriod,
		SweepTimeout: cfg.Scheduler.SweepTimeout,
		LockTTL:      cfg.Scheduler.LockTTL,
	}, logger, opts...)

	s.runInitialSweep(ctx, sweeper, logger)
	stopSweeps := s.startPeriodicSweeps(ctx, sweeper, logger)
	// stopSweeps is called explicitly after ServeAndWait so the sweep loop
	// ends before the store closes.
	defer stopSweeps()

	projector := report.NewProjector(store, clk, calc)
	router := s.setupRouter(stakeService, sweeper, projector, logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	stopSweeps()

	return err
}

func (s *Server) openStore(ctx context.Context, logger *zap.Logger) (Store, func(), error) {
	if s.cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("Using in-memory ledger store; balances are lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := pgutil.ConnectDB(ctx, &s.cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	return ledgerstore.NewStore(db), func() { _ = db.Close() }, nil
}

func (s *Server) lockOptions(ctx context.Context, logger *zap.Logger) ([]scheduler.Option, func(), error) {
	if !s.cfg.Redis.Enabled {
		return nil, func() {}, nil
	}

	client, err := sweeplock.Connect(ctx, &s.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Sweep lease enabled",
		zap.String("redis_addr", s.cfg.Redis.Addr),
		zap.String("lock_key", s.cfg.Scheduler.LockKey),
	)

	locker := sweeplock.NewRedisLocker(client, s.cfg.Scheduler.LockKey, "")
	return []scheduler.Option{scheduler.WithLocker(locker)}, func() { _ = client.Close() }, nil
}

func (s *Server) runInitialSweep(ctx context.Context, sweeper *scheduler.Scheduler, logger *zap.Logger) {
	if !s.cfg.Scheduler.Enabled || s.cfg.Scheduler.InitialTimeout <= 0 {
		return
	}

	logger.Info("Running initial accrual sweep",
		zap.Duration("timeout", s.cfg.Scheduler.InitialTimeout),
	)

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.Scheduler.InitialTimeout)
	defer cancel()

	if _, err := sweeper.Sweep(startupCtx); err != nil {
		logger.Warn("Initial accrual sweep failed (will retry periodically)", zap.Error(err))
	}
}

func (s *Server) startPeriodicSweeps(ctx context.Context, sweeper *scheduler.Scheduler, logger *zap.Logger) func() {
	if !s.cfg.Scheduler.Enabled {
		logger.Info("Accrual scheduler disabled")
		return func() {}
	}

	logger.Info("Starting periodic accrual sweeps", zap.Duration("interval", s.cfg.Scheduler.Interval))
	sweeper.Start(ctx)

	return sweeper.Stop
}

func (s *Server) setupRouter(
	stakeService service.Service,
	sweeper *scheduler.Scheduler,
	projector *report.Projector,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	service.RegisterRoutes(r, stakeService, logger)
	scheduler.RegisterRoutes(r, sweeper, logger)
	report.RegisterRoutes(r, projector)

	return r
}
