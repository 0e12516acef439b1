// Package stake holds the request and result types of the stake lifecycle
// service.
package stake

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegisterUserRequest is the body of POST /users.
type RegisterUserRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
	Name  string `json:"name" validate:"required,max=255"`
}

// OpenStakeRequest is the body of POST /stakes.
type OpenStakeRequest struct {
	UserID string          `json:"user_id" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// DepositRequest is the body of POST /deposits and POST /deposits/pending.
type DepositRequest struct {
	UserID      string          `json:"user_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	ExternalRef string          `json:"payment_id" validate:"max=255"`
}

// PaymentCallback is the payment provider notification for a pending deposit.
type PaymentCallback struct {
	PaymentID     string `json:"payment_id" validate:"required,max=255"`
	PaymentStatus string `json:"payment_status" validate:"required"`
}

// PaymentFinished is the provider status that settles a deposit.
const PaymentFinished = "finished"

// CloseResult reports the value returned to the owner when a stake closes.
type CloseResult struct {
	StakeID       string          `json:"stake_id"`
	Principal     decimal.Decimal `json:"principal"`
	RewardPaid    decimal.Decimal `json:"reward_paid"`
	TotalReturned decimal.Decimal `json:"total_returned"`
	ClosedAt      time.Time       `json:"closed_at"`
}

// AccrualResult reports one applied period accrual.
type AccrualResult struct {
	StakeID string          `json:"stake_id"`
	UserID  string          `json:"user_id"`
	Reward  decimal.Decimal `json:"reward"`
	From    time.Time       `json:"from"`
	AsOf    time.Time       `json:"as_of"`
}
