package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/stake"
)

// Service is a mock type for the stake Service interface
type Service struct {
	mock.Mock
}

// NewService creates a new instance of Service. It also registers a cleanup
// function to assert the mocks expectations.
func NewService(t interface {
	mock.TestingT
	Cleanup(func())
}) *Service {
	m := &Service{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func userResult(args mock.Arguments) (*ledger.User, error) {
	usr, _ := args.Get(0).(*ledger.User)
	return usr, args.Error(1)
}

func txnResult(args mock.Arguments) (*ledger.Transaction, error) {
	txn, _ := args.Get(0).(*ledger.Transaction)
	return txn, args.Error(1)
}

func (m *Service) RegisterUser(ctx context.Context, email, name string) (*ledger.User, error) {
	return userResult(m.Called(ctx, email, name))
}

func (m *Service) GetUser(ctx context.Context, userID string) (*ledger.User, error) {
	return userResult(m.Called(ctx, userID))
}

func (m *Service) ListUserStakes(ctx context.Context, userID string) ([]*ledger.Stake, error) {
	args := m.Called(ctx, userID)
	stakes, _ := args.Get(0).([]*ledger.Stake)
	return stakes, args.Error(1)
}

func (m *Service) ListUserTransactions(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	args := m.Called(ctx, userID, limit)
	txns, _ := args.Get(0).([]*ledger.Transaction)
	return txns, args.Error(1)
}

func (m *Service) GetTransaction(ctx context.Context, txnID string) (*ledger.Transaction, error) {
	return txnResult(m.Called(ctx, txnID))
}

func (m *Service) OpenStake(ctx context.Context, userID string, amount decimal.Decimal) (*ledger.Stake, error) {
	args := m.Called(ctx, userID, amount)
	st, _ := args.Get(0).(*ledger.Stake)
	return st, args.Error(1)
}

func (m *Service) CloseStake(ctx context.Context, stakeID string) (*stake.CloseResult, error) {
	args := m.Called(ctx, stakeID)
	res, _ := args.Get(0).(*stake.CloseResult)
	return res, args.Error(1)
}

func (m *Service) ApplyPeriodAccrual(ctx context.Context, stakeID string, asOf time.Time) (*stake.AccrualResult, error) {
	args := m.Called(ctx, stakeID, asOf)
	res, _ := args.Get(0).(*stake.AccrualResult)
	return res, args.Error(1)
}

func (m *Service) CreditDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*ledger.Transaction, error) {
	return txnResult(m.Called(ctx, userID, amount, externalRef))
}

func (m *Service) CreatePendingDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef string) (*ledger.Transaction, error) {
	return txnResult(m.Called(ctx, userID, amount, externalRef))
}

func (m *Service) ConfirmDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	return txnResult(m.Called(ctx, externalRef))
}
