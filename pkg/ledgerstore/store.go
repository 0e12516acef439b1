package ledgerstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainsafe/stake-ledger/pkg/ledger"
)

var (
	// ErrUserNotFound is returned when a user lookup finds no matching record.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when a user with the same email is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrStakeNotFound is returned when a stake lookup finds no matching record.
	ErrStakeNotFound = errors.New("stake not found")
	// ErrTransactionNotFound is returned when a transaction lookup finds no matching record.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInsufficientBalance is returned when a debit would drive a balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStakeClosed is returned when a mutation targets a stake that is no longer open.
	ErrStakeClosed = errors.New("stake is closed")
	// ErrNotDue is returned when an accrual is attempted before a full period has elapsed.
	ErrNotDue = errors.New("stake accrual not due")
	// ErrConcurrentUpdate is returned when the stored last-accrual time no longer matches
	// the value the caller read.
	ErrConcurrentUpdate = errors.New("concurrent stake update")
	// ErrDuplicateDeposit is returned when an external payment reference was already recorded.
	ErrDuplicateDeposit = errors.New("duplicate deposit reference")
	// ErrDepositCompleted is returned when completing a deposit that is no longer pending.
	ErrDepositCompleted = errors.New("deposit already completed")
)

// AccrualUpdate describes one compare-and-swap period accrual.
type AccrualUpdate struct {
	StakeID string
	UserID  string
	// ExpectedLastAccruedAt is the last-accrual time the caller computed Reward from.
	ExpectedLastAccruedAt time.Time
	AsOf                  time.Time
	Period                time.Duration
	Reward                decimal.Decimal
	// Txn is the reward transaction to append. Nil when Reward is zero.
	Txn *ledger.Transaction
}

// CloseUpdate describes closing a stake with its final partial-period reward.
type CloseUpdate struct {
	StakeID               string
	UserID                string
	Principal             decimal.Decimal
	ExpectedLastAccruedAt time.Time
	ClosedAt              time.Time
	PartialReward         decimal.Decimal
	CloseTxn              *ledger.Transaction
	// RewardTxn is nil when PartialReward is zero.
	RewardTxn *ledger.Transaction
}

// UserStore covers user registration and lookups.
type UserStore interface {
	CreateUser(ctx context.Context, usr *ledger.User) error
	GetUser(ctx context.Context, id string) (*ledger.User, error)
	GetUserByEmail(ctx context.Context, email string) (*ledger.User, error)
	ListUsers(ctx context.Context) ([]*ledger.User, error)
}

// StakeStore covers stake lookups and the atomic stake mutations.
type StakeStore interface {
	GetStake(ctx context.Context, id string) (*ledger.Stake, error)
	ListStakes(ctx context.Context, opts ...QueryOption) ([]*ledger.Stake, error)
	// OpenStake moves the principal from balance to staked, inserts the stake and its
	// stake_open transaction as one unit.
	OpenStake(ctx context.Context, stake *ledger.Stake, txn *ledger.Transaction) error
	// ApplyAccrual credits a period reward only if the stake is open, its last-accrual time
	// still equals ExpectedLastAccruedAt, and a full period separates it from AsOf.
	ApplyAccrual(ctx context.Context, upd AccrualUpdate) error
	// CloseStake closes the stake only if it is open and its last-accrual time still
	// equals ExpectedLastAccruedAt.
	CloseStake(ctx context.Context, upd CloseUpdate) error
}

// TransactionStore covers the transaction log and deposit settlement.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error)
	ListTransactions(ctx context.Context, opts ...QueryOption) ([]*ledger.Transaction, error)
	// CreditDeposit credits the balance and appends a completed deposit.
	CreditDeposit(ctx context.Context, txn *ledger.Transaction) error
	// CreatePendingDeposit appends a pending deposit without touching the balance.
	CreatePendingDeposit(ctx context.Context, txn *ledger.Transaction) error
	// CompleteDeposit flips a pending deposit to completed and credits the balance.
	CompleteDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error)
}

// Store defines the ledger persistence used by the stake service, scheduler and reports.
type Store interface {
	UserStore
	StakeStore
	TransactionStore
}

// QueryOptions defines filters for stake and transaction listings.
type QueryOptions struct {
	UserID       *string
	ActiveOnly   bool
	Kind         *ledger.TransactionKind
	CreatedSince *time.Time
	Limit        int
}

// QueryOption is a functional option for listings
type QueryOption func(*QueryOptions)

// WithUserID restricts results to one owner.
func WithUserID(userID string) QueryOption {
	return func(opts *QueryOptions) {
		opts.UserID = &userID
	}
}

// WithActiveOnly restricts stake listings to open stakes.
func WithActiveOnly() QueryOption {
	return func(opts *QueryOptions) {
		opts.ActiveOnly = true
	}
}

// WithKind restricts transaction listings to one kind.
func WithKind(kind ledger.TransactionKind) QueryOption {
	return func(opts *QueryOptions) {
		opts.Kind = &kind
	}
}

// WithCreatedSince restricts transaction listings to entries created at or after t.
func WithCreatedSince(t time.Time) QueryOption {
	return func(opts *QueryOptions) {
		opts.CreatedSince = &t
	}
}

// WithLimit caps the number of returned rows.
func WithLimit(n int) QueryOption {
	return func(opts *QueryOptions) {
		opts.Limit = n
	}
}

// ApplyOptions folds opts into a QueryOptions value.
func ApplyOptions(opts ...QueryOption) *QueryOptions {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
