// Package scheduler runs the recurring accrual sweep over open stakes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/stake-ledger/internal/metrics"
	"github.com/chainsafe/stake-ledger/pkg/clock"
	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
	"github.com/chainsafe/stake-ledger/pkg/stake"
)

// ErrLeaseHeld is returned by Sweep when another instance holds the sweep lease.
var ErrLeaseHeld = errors.New("sweep lease held by another instance")

// ErrFutureAsOf is returned by SweepAt for an as-of time after the clock's now.
var ErrFutureAsOf = errors.New("sweep as-of time is in the future")

// State is the scheduler's position in its Idle/Sweeping cycle.
type State int32

const (
	StateIdle State = iota
	StateSweeping
)

func (s State) String() string {
	if s == StateSweeping {
		return "sweeping"
	}
	return "idle"
}

// StakeLister enumerates stakes.
type StakeLister interface {
	ListStakes(ctx context.Context, opts ...ledgerstore.QueryOption) ([]*ledger.Stake, error)
}

// Accruer applies one period accrual to a stake.
type Accruer interface {
	ApplyPeriodAccrual(ctx context.Context, stakeID string, asOf time.Time) (*stake.AccrualResult, error)
}

// Locker is a cross-process lease that keeps concurrent instances from
// sweeping at the same time.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Config holds the sweep cadence.
type Config struct {
	// Interval between sweeps
	Interval time.Duration
	// Period is the accrual period a stake must have waited before it is due
	Period time.Duration
	// SweepTimeout bounds a single scheduled sweep
	SweepTimeout time.Duration
	// LockTTL is the lease duration requested from the Locker
	LockTTL time.Duration
}

// StakeFailure records a stake the sweep could not accrue.
type StakeFailure struct {
	StakeID string `json:"stake_id"`
	Error   string `json:"error"`
}

// SweepResult summarizes one pass over the open stakes.
type SweepResult struct {
	AsOf     time.Time      `json:"as_of"`
	Accrued  int            `json:"accrued"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Failures []StakeFailure `json:"failures,omitempty"`
	Aborted  bool           `json:"aborted"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker makes every scheduled sweep conditional on acquiring l.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		s.locker = l
	}
}

// Scheduler periodically accrues rewards on every open stake that is due.
type Scheduler struct {
	stakes  StakeLister
	accruer Accruer
	clock   clock.Clock
	cfg     Config
	locker  Locker
	logger  *zap.Logger

	state   atomic.Int32
	sweepMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Scheduler
func New(stakes StakeLister, accruer Accruer, clk clock.Clock, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		stakes:  stakes,
		accruer: accruer,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports whether a sweep is in progress.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// RunSweep accrues every open stake whose last accrual is at least one period
// before asOf. Per-stake failures are collected into the result and never stop
// the pass. Cancelling ctx stops the sweep between stakes and marks it aborted.
func (s *Scheduler) RunSweep(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	s.state.Store(int32(StateSweeping))
	defer s.state.Store(int32(StateIdle))

	start := time.Now()
	res := &SweepResult{AsOf: asOf.UTC()}

	open, err := s.stakes.ListStakes(ctx, ledgerstore.WithActiveOnly())
	if err != nil {
		metrics.Sweeps.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to list open stakes: %w", err)
	}

	for _, st := range open {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		if res.AsOf.Sub(st.LastAccruedAt) < s.cfg.Period {
			res.Skipped++
			continue
		}

		_, err = s.accruer.ApplyPeriodAccrual(ctx, st.ID, res.AsOf)
		switch {
		case err == nil:
			res.Accrued++
		case errors.Is(err, ledgerstore.ErrStakeClosed), errors.Is(err, ledgerstore.ErrNotDue):
			res.Skipped++
		case ctx.Err() != nil:
			res.Aborted = true
		default:
			res.Failed++
			res.Failures = append(res.Failures, StakeFailure{StakeID: st.ID, Error: err.Error()})
			s.logger.Warn("Failed to accrue stake, will retry next sweep",
				zap.String("stake_id", st.ID),
				zap.String("user_id", st.UserID),
				zap.Error(err))
		}
		if res.Aborted {
			break
		}
	}

	s.record(res, time.Since(start))
	return res, nil
}

func (s *Scheduler) record(res *SweepResult, elapsed time.Duration) {
	outcome := "completed"
	if res.Aborted {
		outcome = "aborted"
	}
	metrics.Sweeps.WithLabelValues(outcome).Inc()
	metrics.SweepDuration.Observe(elapsed.Seconds())
	metrics.SweepStakes.WithLabelValues("accrued").Add(float64(res.Accrued))
	metrics.SweepStakes.WithLabelValues("skipped").Add(float64(res.Skipped))
	metrics.SweepStakes.WithLabelValues("failed").Add(float64(res.Failed))

	s.logger.Info("Accrual sweep "+outcome,
		zap.Time("as_of", res.AsOf),
		zap.Int("accrued", res.Accrued),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", elapsed))
}

// Sweep runs a sweep at the current clock time.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	return s.SweepAt(ctx, s.clock.Now())
}

// SweepAt runs RunSweep at asOf, holding the lease when a Locker is
// configured. asOf must not be later than the clock's now.
func (s *Scheduler) SweepAt(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	if asOf.After(s.clock.Now()) {
		return nil, ErrFutureAsOf
	}
	if s.locker != nil {
		ok, err := s.locker.Acquire(ctx, s.cfg.LockTTL)
		if err != nil {
			metrics.Sweeps.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("failed to acquire sweep lease: %w", err)
		}
		if !ok {
			metrics.Sweeps.WithLabelValues("lease_held").Inc()
			return nil, ErrLeaseHeld
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.locker.Release(releaseCtx); err != nil {
				s.logger.Warn("Failed to release sweep lease", zap.Error(err))
			}
		}()
	}
	return s.RunSweep(ctx, asOf)
}

// Start launches the sweep loop. It runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		s.logger.Info("Started accrual scheduler",
			zap.Duration("interval", s.cfg.Interval),
			zap.Duration("period", s.cfg.Period))

		for {
			select {
			case <-ticker.C():
				s.tick(ctx)
			case <-ctx.Done():
				s.logger.Info("Stopping accrual scheduler", zap.Error(ctx.Err()))
				return
			case <-s.stopCh:
				s.logger.Info("Stopping accrual scheduler")
				return
			}
		}
	}()
}

func (s *Scheduler) tick(parent context.Context) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.SweepTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.cfg.SweepTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	// Stop abandons an in-flight sweep; unapplied stakes are picked up next time.
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	_, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, ErrLeaseHeld):
		s.logger.Info("Skipping sweep, lease held by another instance")
	case err != nil:
		s.logger.Error("Scheduled sweep failed", zap.Error(err))
	}
}

// Stop stops the sweep loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
