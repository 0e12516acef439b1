package ledgerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/stake-ledger/pkg/ledger"
)

const uniqueViolation = "23505"

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the ledger store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}

// validID reports whether id can be compared against a uuid column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// pgTime truncates to the precision Postgres stores so equality guards hold
// after a round trip.
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (s *pgStore) CreateUser(ctx context.Context, usr *ledger.User) error {
	dao := toUserDao(usr)
	dao.CreatedAt = pgTime(dao.CreatedAt)

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *pgStore) GetUser(ctx context.Context, id string) (*ledger.User, error) {
	if !validID(id) {
		return nil, ErrUserNotFound
	}
	return getUser(ctx, s.db, "id = ?", id)
}

func (s *pgStore) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	return getUser(ctx, s.db, "email = ?", email)
}

func getUser(ctx context.Context, db bun.IDB, where string, arg any) (*ledger.User, error) {
	dao := new(UserDao)
	err := db.NewSelect().Model(dao).Where(where, arg).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return toUser(dao), nil
}

func (s *pgStore) ListUsers(ctx context.Context) ([]*ledger.User, error) {
	var daos []UserDao
	err := s.db.NewSelect().Model(&daos).Order("created_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]*ledger.User, len(daos))
	for i := range daos {
		users[i] = toUser(&daos[i])
	}
	return users, nil
}

func (s *pgStore) GetStake(ctx context.Context, id string) (*ledger.Stake, error) {
	if !validID(id) {
		return nil, ErrStakeNotFound
	}
	return getStake(ctx, s.db, id)
}

func getStake(ctx context.Context, db bun.IDB, id string) (*ledger.Stake, error) {
	dao := new(StakeDao)
	err := db.NewSelect().Model(dao).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStakeNotFound
		}
		return nil, fmt.Errorf("failed to get stake: %w", err)
	}
	return toStake(dao), nil
}

func (s *pgStore) ListStakes(ctx context.Context, opts ...QueryOption) ([]*ledger.Stake, error) {
	options := ApplyOptions(opts...)

	var daos []StakeDao
	query := s.db.NewSelect().Model(&daos)
	if options.UserID != nil {
		if !validID(*options.UserID) {
			return []*ledger.Stake{}, nil
		}
		query = query.Where("user_id = ?", *options.UserID)
	}
	if options.ActiveOnly {
		query = query.Where("is_active")
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}

	if err := query.Order("started_at ASC", "id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list stakes: %w", err)
	}
	stakes := make([]*ledger.Stake, len(daos))
	for i := range daos {
		stakes[i] = toStake(&daos[i])
	}
	return stakes, nil
}

func (s *pgStore) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	if !validID(id) {
		return nil, ErrTransactionNotFound
	}
	dao := new(TransactionDao)
	err := s.db.NewSelect().Model(dao).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return toTransaction(dao), nil
}

func (s *pgStore) ListTransactions(ctx context.Context, opts ...QueryOption) ([]*ledger.Transaction, error) {
	options := ApplyOptions(opts...)

	var daos []TransactionDao
	query := s.db.NewSelect().Model(&daos)
	if options.UserID != nil {
		if !validID(*options.UserID) {
			return []*ledger.Transaction{}, nil
		}
		query = query.Where("user_id = ?", *options.UserID)
	}
	if options.Kind != nil {
		query = query.Where("kind = ?", string(*options.Kind))
	}
	if options.CreatedSince != nil {
		query = query.Where("created_at >= ?", *options.CreatedSince)
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}

	if err := query.Order("created_at DESC", "id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	txns := make([]*ledger.Transaction, len(daos))
	for i := range daos {
		txns[i] = toTransaction(&daos[i])
	}
	return txns, nil
}

func (s *pgStore) OpenStake(ctx context.Context, stake *ledger.Stake, txn *ledger.Transaction) error {
	if !validID(stake.UserID) {
		return ErrUserNotFound
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*UserDao)(nil)).
			Set("balance = balance - ?", stake.Amount).
			Set("staked_amount = staked_amount + ?", stake.Amount).
			Where("id = ?", stake.UserID).
			Where("balance >= ?", stake.Amount).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to debit balance: %w", err)
		}
		if err = requireRow(ctx, tx, res, stake.UserID, ErrInsufficientBalance); err != nil {
			return err
		}

		dao := toStakeDao(stake)
		dao.StartedAt = pgTime(dao.StartedAt)
		dao.LastAccruedAt = pgTime(dao.LastAccruedAt)
		if _, err = tx.NewInsert().Model(dao).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert stake: %w", err)
		}
		return insertTransactions(ctx, tx, txn)
	})
}

func (s *pgStore) ApplyAccrual(ctx context.Context, upd AccrualUpdate) error {
	expected := pgTime(upd.ExpectedLastAccruedAt)
	asOf := pgTime(upd.AsOf)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*StakeDao)(nil)).
			Set("last_accrued_at = ?", asOf).
			Set("total_earned = total_earned + ?", upd.Reward).
			Where("id = ?", upd.StakeID).
			Where("is_active").
			Where("last_accrued_at = ?", expected).
			Where("last_accrued_at <= ?", asOf.Add(-upd.Period)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to advance stake: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return classifyStakeMiss(ctx, tx, upd.StakeID, expected, ErrNotDue)
		}

		if err = creditUser(ctx, tx, upd.UserID, upd.Reward, upd.Reward); err != nil {
			return err
		}
		return insertTransactions(ctx, tx, upd.Txn)
	})
}

func (s *pgStore) CloseStake(ctx context.Context, upd CloseUpdate) error {
	expected := pgTime(upd.ExpectedLastAccruedAt)
	closedAt := pgTime(upd.ClosedAt)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*StakeDao)(nil)).
			Set("is_active = FALSE").
			Set("closed_at = ?", closedAt).
			Set("last_accrued_at = GREATEST(last_accrued_at, ?)", closedAt).
			Set("total_earned = total_earned + ?", upd.PartialReward).
			Where("id = ?", upd.StakeID).
			Where("is_active").
			Where("last_accrued_at = ?", expected).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to close stake: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return classifyStakeMiss(ctx, tx, upd.StakeID, expected, ErrConcurrentUpdate)
		}

		res, err = tx.NewUpdate().
			Model((*UserDao)(nil)).
			Set("balance = balance + ?", upd.Principal.Add(upd.PartialReward)).
			Set("staked_amount = staked_amount - ?", upd.Principal).
			Set("total_rewards = total_rewards + ?", upd.PartialReward).
			Where("id = ?", upd.UserID).
			Where("staked_amount >= ?", upd.Principal).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to return principal: %w", err)
		}
		if err = requireRow(ctx, tx, res, upd.UserID, ErrInsufficientBalance); err != nil {
			return err
		}
		return insertTransactions(ctx, tx, upd.CloseTxn, upd.RewardTxn)
	})
}

func (s *pgStore) CreditDeposit(ctx context.Context, txn *ledger.Transaction) error {
	if !validID(txn.UserID) {
		return ErrUserNotFound
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := creditUser(ctx, tx, txn.UserID, txn.Amount, decimal.Zero); err != nil {
			return err
		}
		return insertTransactions(ctx, tx, txn)
	})
}

func (s *pgStore) CreatePendingDeposit(ctx context.Context, txn *ledger.Transaction) error {
	if !validID(txn.UserID) {
		return ErrUserNotFound
	}
	exists, err := s.db.NewSelect().
		Model((*UserDao)(nil)).
		Where("id = ?", txn.UserID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check user exists: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return insertTransactions(ctx, s.db, txn)
}

func (s *pgStore) CompleteDeposit(ctx context.Context, externalRef string) (*ledger.Transaction, error) {
	var completed *ledger.Transaction
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		dao := new(TransactionDao)
		err := tx.NewSelect().
			Model(dao).
			Where("external_ref = ?", externalRef).
			Where("kind = ?", string(ledger.KindDeposit)).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("failed to get deposit: %w", err)
		}

		res, err := tx.NewUpdate().
			Model((*TransactionDao)(nil)).
			Set("status = ?", string(ledger.StatusCompleted)).
			Where("id = ?", dao.ID).
			Where("status = ?", string(ledger.StatusPending)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to complete deposit: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return ErrDepositCompleted
		}

		if err = creditUser(ctx, tx, dao.UserID, dao.Amount, decimal.Zero); err != nil {
			return err
		}
		dao.Status = string(ledger.StatusCompleted)
		completed = toTransaction(dao)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// creditUser adds amount to the balance and reward to lifetime rewards.
func creditUser(ctx context.Context, tx bun.Tx, userID string, amount, reward decimal.Decimal) error {
	res, err := tx.NewUpdate().
		Model((*UserDao)(nil)).
		Set("balance = balance + ?", amount).
		Set("total_rewards = total_rewards + ?", reward).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// requireRow turns a guarded user update that matched nothing into either
// ErrUserNotFound or guardErr.
func requireRow(ctx context.Context, tx bun.Tx, res sql.Result, userID string, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	exists, err := tx.NewSelect().
		Model((*UserDao)(nil)).
		Where("id = ?", userID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check user exists: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return guardErr
}

// classifyStakeMiss explains why a guarded stake update matched no row.
// fallback is returned when the stake is open and unchanged.
func classifyStakeMiss(ctx context.Context, tx bun.Tx, stakeID string, expected time.Time, fallback error) error {
	current, err := getStake(ctx, tx, stakeID)
	if err != nil {
		return err
	}
	switch {
	case !current.IsActive:
		return ErrStakeClosed
	case !current.LastAccruedAt.Equal(expected):
		return ErrConcurrentUpdate
	default:
		return fallback
	}
}

func insertTransactions(ctx context.Context, db bun.IDB, txns ...*ledger.Transaction) error {
	for _, txn := range txns {
		if txn == nil {
			continue
		}
		dao := toTransactionDao(txn)
		dao.CreatedAt = pgTime(dao.CreatedAt)
		if _, err := db.NewInsert().Model(dao).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateDeposit
			}
			return fmt.Errorf("failed to insert %s transaction: %w", txn.Kind, err)
		}
	}
	return nil
}
