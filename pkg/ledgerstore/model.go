package ledgerstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/chainsafe/stake-ledger/pkg/ledger"
)

// UserDao is a data access object that maps directly to the 'users' table in PostgreSQL.
type UserDao struct {
	bun.BaseModel `bun:"table:users,alias:u"`
	ID            string          `bun:"id,pk,type:uuid"`
	Email         string          `bun:"email,unique,notnull,type:varchar(320)"`
	Name          string          `bun:"name,notnull,type:varchar(255)"`
	Balance       decimal.Decimal `bun:"balance,notnull,type:numeric(38,18),default:0"`
	StakedAmount  decimal.Decimal `bun:"staked_amount,notnull,type:numeric(38,18),default:0"`
	TotalRewards  decimal.Decimal `bun:"total_rewards,notnull,type:numeric(38,18),default:0"`
	CreatedAt     time.Time       `bun:"created_at,notnull,type:timestamptz"`
}

// StakeDao maps to the 'stakes' table.
type StakeDao struct {
	bun.BaseModel `bun:"table:stakes,alias:s"`
	ID            string          `bun:"id,pk,type:uuid"`
	UserID        string          `bun:"user_id,notnull,type:uuid"`
	Amount        decimal.Decimal `bun:"amount,notnull,type:numeric(38,18)"`
	RewardRate    decimal.Decimal `bun:"reward_rate,notnull,type:numeric(38,18)"`
	StartedAt     time.Time       `bun:"started_at,notnull,type:timestamptz"`
	LastAccruedAt time.Time       `bun:"last_accrued_at,notnull,type:timestamptz"`
	IsActive      bool            `bun:"is_active,notnull"`
	ClosedAt      *time.Time      `bun:"closed_at,type:timestamptz"`
	TotalEarned   decimal.Decimal `bun:"total_earned,notnull,type:numeric(38,18),default:0"`
}

// TransactionDao maps to the 'transactions' table.
type TransactionDao struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`
	ID            string          `bun:"id,pk,type:uuid"`
	UserID        string          `bun:"user_id,notnull,type:uuid"`
	StakeID       *string         `bun:"stake_id,type:uuid"`
	Kind          string          `bun:"kind,notnull,type:varchar(20)"`
	Amount        decimal.Decimal `bun:"amount,notnull,type:numeric(38,18)"`
	Status        string          `bun:"status,notnull,type:varchar(20)"`
	ExternalRef   *string         `bun:"external_ref,unique,type:varchar(255)"`
	CreatedAt     time.Time       `bun:"created_at,notnull,type:timestamptz"`
}

func toUserDao(usr *ledger.User) *UserDao {
	return &UserDao{
		ID:           usr.ID,
		Email:        usr.Email,
		Name:         usr.Name,
		Balance:      usr.Balance,
		StakedAmount: usr.StakedAmount,
		TotalRewards: usr.TotalRewards,
		CreatedAt:    usr.CreatedAt,
	}
}

func toUser(dao *UserDao) *ledger.User {
	return &ledger.User{
		ID:           dao.ID,
		Email:        dao.Email,
		Name:         dao.Name,
		Balance:      dao.Balance,
		StakedAmount: dao.StakedAmount,
		TotalRewards: dao.TotalRewards,
		CreatedAt:    dao.CreatedAt.UTC(),
	}
}

func toStakeDao(s *ledger.Stake) *StakeDao {
	return &StakeDao{
		ID:            s.ID,
		UserID:        s.UserID,
		Amount:        s.Amount,
		RewardRate:    s.RewardRate,
		StartedAt:     s.StartedAt,
		LastAccruedAt: s.LastAccruedAt,
		IsActive:      s.IsActive,
		ClosedAt:      s.ClosedAt,
		TotalEarned:   s.TotalEarned,
	}
}

func toStake(dao *StakeDao) *ledger.Stake {
	s := &ledger.Stake{
		ID:            dao.ID,
		UserID:        dao.UserID,
		Amount:        dao.Amount,
		RewardRate:    dao.RewardRate,
		StartedAt:     dao.StartedAt.UTC(),
		LastAccruedAt: dao.LastAccruedAt.UTC(),
		IsActive:      dao.IsActive,
		TotalEarned:   dao.TotalEarned,
	}
	if dao.ClosedAt != nil {
		closed := dao.ClosedAt.UTC()
		s.ClosedAt = &closed
	}
	return s
}

func toTransactionDao(txn *ledger.Transaction) *TransactionDao {
	return &TransactionDao{
		ID:          txn.ID,
		UserID:      txn.UserID,
		StakeID:     txn.StakeID,
		Kind:        string(txn.Kind),
		Amount:      txn.Amount,
		Status:      string(txn.Status),
		ExternalRef: txn.ExternalRef,
		CreatedAt:   txn.CreatedAt,
	}
}

func toTransaction(dao *TransactionDao) *ledger.Transaction {
	return &ledger.Transaction{
		ID:          dao.ID,
		UserID:      dao.UserID,
		StakeID:     dao.StakeID,
		Kind:        ledger.TransactionKind(dao.Kind),
		Amount:      dao.Amount,
		Status:      ledger.TransactionStatus(dao.Status),
		ExternalRef: dao.ExternalRef,
		CreatedAt:   dao.CreatedAt.UTC(),
	}
}
