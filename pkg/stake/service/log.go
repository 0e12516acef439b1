package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/stake-ledger/pkg/app/errors"
	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/stake"
)

const serviceName = "StakeService"

// logService wraps Service with logging of every mutating call
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the stake Service.
// Read-only calls pass through; mutations log their outcome and duration.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger.With(zap.String("service", serviceName)),
	}
}

// done logs the outcome of method. Client errors log at Warn, internal ones at Error.
func (ls *logService) done(method string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	)
	switch {
	case err == nil:
		ls.logger.Info(method+" completed", fields...)
	case apperrors.IsInternalError(err):
		ls.logger.Error(method+" failed", append(fields, zap.Error(err))...)
	default:
		ls.logger.Warn(method+" rejected", append(fields, zap.Error(err))...)
	}
}

func (ls *logService) RegisterUser(ctx context.Context, email, name string) (usr *ledger.User, err error) {
	start := time.Now()
	defer func() {
		fields := []zap.Field{}
		if usr != nil {
			fields = append(fields, zap.String("user_id", usr.ID))
		}
		ls.done("RegisterUser", start, err, fields...)
	}()
	return ls.svc.RegisterUser(ctx, email, name)
}

func (ls *logService) GetUser(ctx context.Context, userID string) (*ledger.User, error) {
	return ls.svc.GetUser(ctx, userID)
}

func (ls *logService) ListUserStakes(ctx context.Context, userID string) ([]*ledger.Stake, error) {
	return ls.svc.ListUserStakes(ctx, userID)
}

func (ls *logService) ListUserTransactions(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	return ls.svc.ListUserTransactions(ctx, userID, limit)
}

func (ls *logService) GetTransaction(ctx context.Context, txnID string) (*ledger.Transaction, error) {
	return ls.svc.GetTransaction(ctx, txnID)
}

func (ls *logService) OpenStake(ctx context.Context, userID string, amount decimal.Decimal) (st *ledger.Stake, err error) {
	start := time.Now()
	defer func() {
		fields := []zap.Field{
			zap.String("user_id", userID),
			zap.Stringer("amount", amount),
		}
		if st != nil {
			fields = append(fields, zap.String("stake_id", st.ID))
		}
		ls.done("OpenStake", start, err, fields...)
	}()
	return ls.svc.OpenStake(ctx, userID, amount)
}

func (ls *logService) CloseStake(ctx context.Context, stakeID string) (res *stake.CloseResult, err error) {
	start := time.Now()
	defer func() {
		fields := []zap.Field{zap.String("stake_id", stakeID)}
		if res != nil {
			fields = append(fields,
				zap.Stringer("principal", res.Principal),
				zap.Stringer("reward_paid", res.RewardPaid),
			)
		}
		ls.done("CloseStake", start, err, fields...)
	}()
	return ls.svc.CloseStake(ctx, stakeID)
}

// ApplyPeriodAccrual is logged at Debug; the scheduler reports per-sweep totals.
func (ls *logService) ApplyPeriodAccrual(ctx context.Context, stakeID string, asOf time.Time) (*stake.AccrualResult, error) {
	res, err := ls.svc.ApplyPeriodAccrual(ctx, stakeID, asOf)
	if err == nil {
		ls.logger.Debug("ApplyPeriodAccrual completed",
			zap.String("stake_id", stakeID),
			zap.Time("as_of", asOf),
			zap.Stringer("reward", res.Reward),
		)
	}
	return res, err
}

func (ls *logService) CreditDeposit(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	externalRef string,
) (txn *ledger.Transaction, err error) {
	start := time.Now()
	defer func() {
		ls.done("CreditDeposit", start, err,
			zap.String("user_id", userID),
			zap.Stringer("amount", amount),
			zap.String("payment_id", externalRef),
		)
	}()
	return ls.svc.CreditDeposit(ctx, userID, amount, externalRef)
}

func (ls *logService) CreatePendingDeposit(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	externalRef string,
) (txn *ledger.Transaction, err error) {
	start := time.Now()
	defer func() {
		ls.done("CreatePendingDeposit", start, err,
			zap.String("user_id", userID),
			zap.Stringer("amount", amount),
			zap.String("payment_id", externalRef),
		)
	}()
	return ls.svc.CreatePendingDeposit(ctx, userID, amount, externalRef)
}

func (ls *logService) ConfirmDeposit(ctx context.Context, externalRef string) (txn *ledger.Transaction, err error) {
	start := time.Now()
	defer func() {
		ls.done("ConfirmDeposit", start, err, zap.String("payment_id", externalRef))
	}()
	return ls.svc.ConfirmDeposit(ctx, externalRef)
}
