// Package ledger defines the domain model shared by the stake engine:
// users with their balances, time-locked stakes, and the append-only
// transaction log.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind identifies the balance-affecting event a transaction records.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindStakeOpen  TransactionKind = "stake_open"
	KindStakeClose TransactionKind = "stake_close"
	KindReward     TransactionKind = "reward"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
)

// User holds a depositor's balances.
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	StakedAmount decimal.Decimal `json:"staked_amount"`
	TotalRewards decimal.Decimal `json:"total_rewards"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewUser creates a user with zero balances.
func NewUser(email, name string, now time.Time) *User {
	return &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Balance:      decimal.Zero,
		StakedAmount: decimal.Zero,
		TotalRewards: decimal.Zero,
		CreatedAt:    now,
	}
}

// Stake is a time-locked position earning RewardRate of Amount per accrual period.
// Amount is fixed at creation. LastAccruedAt starts at StartedAt and only moves forward.
type Stake struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	RewardRate    decimal.Decimal `json:"reward_rate"`
	StartedAt     time.Time       `json:"started_at"`
	LastAccruedAt time.Time       `json:"last_accrued_at"`
	IsActive      bool            `json:"is_active"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
}

// NewStake opens a stake at now.
func NewStake(userID string, amount, rate decimal.Decimal, now time.Time) *Stake {
	return &Stake{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		RewardRate:    rate,
		StartedAt:     now,
		LastAccruedAt: now,
		IsActive:      true,
		TotalEarned:   decimal.Zero,
	}
}

// Transaction is an append-only ledger entry. Amount is the signed effect
// on the owner's available balance.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	StakeID     *string           `json:"stake_id,omitempty"`
	Kind        TransactionKind   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ExternalRef *string           `json:"payment_id,omitempty"`
}

// NewTransaction builds a completed transaction.
func NewTransaction(userID string, kind TransactionKind, amount decimal.Decimal, now time.Time) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Status:    StatusCompleted,
		CreatedAt: now,
	}
}

// ForStake links the transaction to a stake.
func (t *Transaction) ForStake(stakeID string) *Transaction {
	t.StakeID = &stakeID
	return t
}

// WithExternalRef attaches a payment-provider reference.
func (t *Transaction) WithExternalRef(ref string) *Transaction {
	if ref != "" {
		t.ExternalRef = &ref
	}
	return t
}

// Pending marks the transaction as awaiting settlement.
func (t *Transaction) Pending() *Transaction {
	t.Status = StatusPending
	return t
}
