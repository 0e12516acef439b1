package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/stake-ledger/internal/metrics"
	"github.com/chainsafe/stake-ledger/pkg/accrual"
	apperrors "github.com/chainsafe/stake-ledger/pkg/app/errors"
	"github.com/chainsafe/stake-ledger/pkg/clock"
	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
	"github.com/chainsafe/stake-ledger/pkg/stake"
)

// casAttempts bounds how many times a compare-and-swap write is attempted
// with a fresh read before the conflict is surfaced.
const casAttempts = 2

var (
	ErrUserNotFound        = ledgerstore.ErrUserNotFound
	ErrUserExists          = ledgerstore.ErrUserExists
	ErrStakeNotFound       = ledgerstore.ErrStakeNotFound
	ErrStakeAlreadyClosed  = ledgerstore.ErrStakeClosed
	ErrInsufficientBalance = ledgerstore.ErrInsufficientBalance
	ErrNotDue              = ledgerstore.ErrNotDue
	ErrConcurrentUpdate    = ledgerstore.ErrConcurrentUpdate
	ErrDuplicateDeposit    = ledgerstore.ErrDuplicateDeposit
	ErrDepositCompleted    = ledgerstore.ErrDepositCompleted
	ErrDepositNotFound     = ledgerstore.ErrTransactionNotFound

	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrAmountPrecision  = errors.New("amount has more decimal places than the ledger unit")
	ErrBelowMinimum     = errors.New("amount is below the minimum stake")
	ErrMissingReference = errors.New("payment reference is required")
)

// Store is the narrow data-access interface for the stake service.
type Store interface {
	CreateUser(ctx context.Context, usr *ledger.User) error
	GetUser(ctx context.Context, id string) (*ledger.User, error)
	GetUserByEmail(ctx context.Context, email string) (*ledger.User, error)
	GetStake(ctx context.Context, id string) (*ledger.Stake, error)
	GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error)
	ListStakes(ctx context.Context, opts ...ledgerstore.QueryOption) ([]*ledger.Stake, error)
	ListTransactions(ctx context.Context, opts ...ledgerstore.QueryOption) ([]*ledger.Transaction, error)
	OpenStake(ctx context.Context, s *ledger.Stake, txn *ledger.Transaction) error
	ApplyAccrual(ctx context.Context, upd ledgerstore.AccrualUpdate) error
	CloseStake(ctx context.Context, upd ledgerstore.CloseUpdate) error
	CreditDeposit(ctx context.Context, txn *ledger.Transaction) error
	CreatePendingDeposit(ctx context.Context, txn *ledger.Transaction) error
	CompleteDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error)
}

// Service defines the stake lifecycle operations.
type Service interface {
	RegisterUser(ctx context.Context, email, name string) (*ledger.User, error)
	GetUser(ctx context.Context, userID string) (*ledger.User, error)
	ListUserStakes(ctx context.Context, userID string) ([]*ledger.Stake, error)
	ListUserTransactions(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error)
	GetTransaction(ctx context.Context, txnID string) (*ledger.Transaction, error)

	OpenStake(ctx context.Context, userID string, amount decimal.Decimal) (*ledger.Stake, error)
	CloseStake(ctx context.Context, stakeID string) (*stake.CloseResult, error)
	ApplyPeriodAccrual(ctx context.Context, stakeID string, asOf time.Time) (*stake.AccrualResult, error)

	CreditDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*ledger.Transaction, error)
	CreatePendingDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*ledger.Transaction, error)
	ConfirmDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error)
}

// Config holds the reward parameters applied by the service.
type Config struct {
	Calculator accrual.Calculator
	MinStake   decimal.Decimal
}

// DefaultConfig returns the 30% per 24h configuration with no minimum stake.
func DefaultConfig() Config {
	return Config{Calculator: accrual.NewCalculator(), MinStake: decimal.Zero}
}

type stakeService struct {
	store  Store
	clock  clock.Clock
	cfg    Config
	logger *zap.Logger
}

// NewService creates a new stake service
func NewService(store Store, clk clock.Clock, cfg Config, logger *zap.Logger) Service {
	return &stakeService{
		store:  store,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *stakeService) now() time.Time {
	return normalize(s.clock.Now())
}

// normalize drops sub-microsecond precision so stored timestamps compare equal
// after a database round trip.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (s *stakeService) RegisterUser(ctx context.Context, email, name string) (*ledger.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.BadRequestError(nil, "email is required")
	}

	// the unique index still guards the insert against a concurrent registration
	_, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, mapStoreError(ErrUserExists)
	case !errors.Is(err, ledgerstore.ErrUserNotFound):
		return nil, mapStoreError(err)
	}

	usr := ledger.NewUser(email, strings.TrimSpace(name), s.now())
	if err = s.store.CreateUser(ctx, usr); err != nil {
		return nil, mapStoreError(err)
	}
	return usr, nil
}

func (s *stakeService) GetUser(ctx context.Context, userID string) (*ledger.User, error) {
	usr, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return usr, nil
}

func (s *stakeService) ListUserStakes(ctx context.Context, userID string) ([]*ledger.Stake, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	stakes, err := s.store.ListStakes(ctx, ledgerstore.WithUserID(userID))
	if err != nil {
		return nil, mapStoreError(err)
	}
	return stakes, nil
}

func (s *stakeService) ListUserTransactions(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactions(ctx, ledgerstore.WithUserID(userID), ledgerstore.WithLimit(limit))
	if err != nil {
		return nil, mapStoreError(err)
	}
	return txns, nil
}

func (s *stakeService) GetTransaction(ctx context.Context, txnID string) (*ledger.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if errors.Is(err, ledgerstore.ErrTransactionNotFound) {
		return nil, apperrors.ResourceNotFoundError(err, "transaction not found")
	}
	if err != nil {
		return nil, mapStoreError(err)
	}
	return txn, nil
}

// OpenStake locks amount from the user's available balance into a new stake
// earning the configured rate.
func (s *stakeService) OpenStake(ctx context.Context, userID string, amount decimal.Decimal) (*ledger.Stake, error) {
	if err := s.validateAmount(amount); err != nil {
		return nil, err
	}
	if amount.LessThan(s.cfg.MinStake) {
		return nil, apperrors.BadRequestError(ErrBelowMinimum, "amount is below the minimum stake")
	}

	now := s.now()
	st := ledger.NewStake(userID, amount, s.cfg.Calculator.Rate, now)
	txn := ledger.NewTransaction(userID, ledger.KindStakeOpen, amount.Neg(), now).ForStake(st.ID)

	if err := s.store.OpenStake(ctx, st, txn); err != nil {
		return nil, mapStoreError(err)
	}

	metrics.StakesOpened.Inc()
	return st, nil
}

// CloseStake pays out the principal plus the reward accrued since the last
// sweep and closes the stake.
func (s *stakeService) CloseStake(ctx context.Context, stakeID string) (*stake.CloseResult, error) {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		res, err := s.tryClose(ctx, stakeID)
		if err == nil {
			metrics.StakesClosed.Inc()
			metrics.AddReward("close", res.RewardPaid)
			return res, nil
		}
		if !errors.Is(err, ledgerstore.ErrConcurrentUpdate) {
			return nil, mapStoreError(err)
		}
		metrics.CASConflicts.WithLabelValues("close").Inc()
		s.logger.Debug("close lost compare-and-swap, re-reading stake",
			zap.String("stake_id", stakeID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, apperrors.RecoveringError(ErrConcurrentUpdate, "stake was updated concurrently, retry")
}

func (s *stakeService) tryClose(ctx context.Context, stakeID string) (*stake.CloseResult, error) {
	st, err := s.store.GetStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, ledgerstore.ErrStakeClosed
	}

	now := s.now()
	partial := s.cfg.Calculator.Reward(st.Amount, st.RewardRate, st.LastAccruedAt, now)
	total := st.Amount.Add(partial)

	upd := ledgerstore.CloseUpdate{
		StakeID:               st.ID,
		UserID:                st.UserID,
		Principal:             st.Amount,
		ExpectedLastAccruedAt: st.LastAccruedAt,
		ClosedAt:              now,
		PartialReward:         partial,
		CloseTxn:              ledger.NewTransaction(st.UserID, ledger.KindStakeClose, total, now).ForStake(st.ID),
	}
	if partial.IsPositive() {
		upd.RewardTxn = ledger.NewTransaction(st.UserID, ledger.KindReward, partial, now).ForStake(st.ID)
	}

	if err = s.store.CloseStake(ctx, upd); err != nil {
		return nil, err
	}
	return &stake.CloseResult{
		StakeID:       st.ID,
		Principal:     st.Amount,
		RewardPaid:    partial,
		TotalReturned: total,
		ClosedAt:      now,
	}, nil
}

// ApplyPeriodAccrual credits the reward for the time elapsed since the last
// accrual, provided at least one full period has elapsed at asOf.
func (s *stakeService) ApplyPeriodAccrual(ctx context.Context, stakeID string, asOf time.Time) (*stake.AccrualResult, error) {
	asOf = normalize(asOf)
	for attempt := 1; attempt <= casAttempts; attempt++ {
		res, err := s.tryAccrue(ctx, stakeID, asOf)
		if err == nil {
			metrics.AddReward("sweep", res.Reward)
			return res, nil
		}
		if !errors.Is(err, ledgerstore.ErrConcurrentUpdate) {
			return nil, mapStoreError(err)
		}
		metrics.CASConflicts.WithLabelValues("accrual").Inc()
	}
	return nil, apperrors.RecoveringError(ErrConcurrentUpdate, "stake was updated concurrently, retry")
}

func (s *stakeService) tryAccrue(ctx context.Context, stakeID string, asOf time.Time) (*stake.AccrualResult, error) {
	st, err := s.store.GetStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, ledgerstore.ErrStakeClosed
	}
	if !s.cfg.Calculator.Due(st.LastAccruedAt, asOf) {
		return nil, ledgerstore.ErrNotDue
	}

	reward := s.cfg.Calculator.Reward(st.Amount, st.RewardRate, st.LastAccruedAt, asOf)
	upd := ledgerstore.AccrualUpdate{
		StakeID:               st.ID,
		UserID:                st.UserID,
		ExpectedLastAccruedAt: st.LastAccruedAt,
		AsOf:                  asOf,
		Period:                s.cfg.Calculator.Period,
		Reward:                reward,
	}
	if reward.IsPositive() {
		upd.Txn = ledger.NewTransaction(st.UserID, ledger.KindReward, reward, asOf).ForStake(st.ID)
	}

	if err = s.store.ApplyAccrual(ctx, upd); err != nil {
		return nil, err
	}
	return &stake.AccrualResult{
		StakeID: st.ID,
		UserID:  st.UserID,
		Reward:  reward,
		From:    st.LastAccruedAt,
		AsOf:    asOf,
	}, nil
}

// CreditDeposit credits a confirmed deposit to the user's available balance.
func (s *stakeService) CreditDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*ledger.Transaction, error) {
	if err := s.validateAmount(amount); err != nil {
		return nil, err
	}

	txn := ledger.NewTransaction(userID, ledger.KindDeposit, amount, s.now()).WithExternalRef(externalRef)
	if err := s.store.CreditDeposit(ctx, txn); err != nil {
		return nil, mapStoreError(err)
	}

	metrics.DepositsCredited.WithLabelValues("direct").Inc()
	return txn, nil
}

// CreatePendingDeposit records a deposit awaiting the payment provider's confirmation.
func (s *stakeService) CreatePendingDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*ledger.Transaction, error) {
	if err := s.validateAmount(amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(externalRef) == "" {
		return nil, apperrors.BadRequestError(ErrMissingReference, "payment reference is required")
	}

	txn := ledger.NewTransaction(userID, ledger.KindDeposit, amount, s.now()).WithExternalRef(externalRef).Pending()
	if err := s.store.CreatePendingDeposit(ctx, txn); err != nil {
		return nil, mapStoreError(err)
	}
	return txn, nil
}

// ConfirmDeposit settles a pending deposit exactly once.
func (s *stakeService) ConfirmDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	txn, err := s.store.CompleteDeposit(ctx, externalRef)
	if err != nil {
		return nil, mapStoreError(err)
	}

	metrics.DepositsCredited.WithLabelValues("callback").Inc()
	return txn, nil
}

func (s *stakeService) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.BadRequestError(ErrInvalidAmount, "amount must be positive")
	}
	if !amount.Equal(amount.Truncate(s.cfg.Calculator.Precision)) {
		return apperrors.BadRequestError(ErrAmountPrecision, "amount has too many decimal places")
	}
	return nil
}

// mapStoreError converts ledger store errors into service errors.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, ledgerstore.ErrUserNotFound):
		return apperrors.ResourceNotFoundError(err, "user not found")
	case errors.Is(err, ledgerstore.ErrStakeNotFound):
		return apperrors.ResourceNotFoundError(err, "stake not found")
	case errors.Is(err, ledgerstore.ErrTransactionNotFound):
		return apperrors.ResourceNotFoundError(err, "deposit not found")
	case errors.Is(err, ledgerstore.ErrInsufficientBalance):
		return apperrors.BadRequestError(err, "insufficient balance")
	case errors.Is(err, ledgerstore.ErrStakeClosed):
		return apperrors.ConflictError(err, "stake already closed")
	case errors.Is(err, ledgerstore.ErrNotDue):
		return apperrors.ConflictError(err, "stake accrual not due")
	case errors.Is(err, ledgerstore.ErrUserExists):
		return apperrors.ConflictError(err, "user already registered")
	case errors.Is(err, ledgerstore.ErrDuplicateDeposit):
		return apperrors.ConflictError(err, "payment reference already used")
	case errors.Is(err, ledgerstore.ErrDepositCompleted):
		return apperrors.ConflictError(err, "deposit already completed")
	case errors.Is(err, ledgerstore.ErrConcurrentUpdate):
		return apperrors.RecoveringError(err, "stake was updated concurrently, retry")
	default:
		return apperrors.DependencyFailureError(err, "ledger storage unavailable")
	}
}
