// Package memory provides an in-process ledger store. Every mutation holds a
// single write lock, which gives the same all-or-nothing guarantees as the
// postgres transactions within one process.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
)

// Store is a mutex-guarded map implementation of ledgerstore.Store.
type Store struct {
	mu           sync.RWMutex
	users        map[string]*ledger.User
	emails       map[string]string
	stakes       map[string]*ledger.Stake
	transactions map[string]*ledger.Transaction
	refs         map[string]string
}

var _ ledgerstore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]*ledger.User),
		emails:       make(map[string]string),
		stakes:       make(map[string]*ledger.Stake),
		transactions: make(map[string]*ledger.Transaction),
		refs:         make(map[string]string),
	}
}

func cloneUser(u *ledger.User) *ledger.User {
	c := *u
	return &c
}

func cloneStake(s *ledger.Stake) *ledger.Stake {
	c := *s
	if s.ClosedAt != nil {
		closed := *s.ClosedAt
		c.ClosedAt = &closed
	}
	return &c
}

func cloneTransaction(t *ledger.Transaction) *ledger.Transaction {
	c := *t
	if t.StakeID != nil {
		id := *t.StakeID
		c.StakeID = &id
	}
	if t.ExternalRef != nil {
		ref := *t.ExternalRef
		c.ExternalRef = &ref
	}
	return &c
}

func (s *Store) CreateUser(_ context.Context, usr *ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[usr.Email]; ok {
		return ledgerstore.ErrUserExists
	}
	if _, ok := s.users[usr.ID]; ok {
		return ledgerstore.ErrUserExists
	}
	s.users[usr.ID] = cloneUser(usr)
	s.emails[usr.Email] = usr.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ledgerstore.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, ledgerstore.ErrUserNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) ListUsers(_ context.Context) ([]*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetStake(_ context.Context, id string) (*ledger.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stakes[id]
	if !ok {
		return nil, ledgerstore.ErrStakeNotFound
	}
	return cloneStake(st), nil
}

func (s *Store) ListStakes(_ context.Context, opts ...ledgerstore.QueryOption) ([]*ledger.Stake, error) {
	options := ledgerstore.ApplyOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Stake, 0)
	for _, st := range s.stakes {
		if options.UserID != nil && st.UserID != *options.UserID {
			continue
		}
		if options.ActiveOnly && !st.IsActive {
			continue
		}
		out = append(out, cloneStake(st))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	if options.Limit > 0 && len(out) > options.Limit {
		out = out[:options.Limit]
	}
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, ledgerstore.ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

func (s *Store) ListTransactions(_ context.Context, opts ...ledgerstore.QueryOption) ([]*ledger.Transaction, error) {
	options := ledgerstore.ApplyOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Transaction, 0)
	for _, t := range s.transactions {
		if options.UserID != nil && t.UserID != *options.UserID {
			continue
		}
		if options.Kind != nil && t.Kind != *options.Kind {
			continue
		}
		if options.CreatedSince != nil && t.CreatedAt.Before(*options.CreatedSince) {
			continue
		}
		out = append(out, cloneTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if options.Limit > 0 && len(out) > options.Limit {
		out = out[:options.Limit]
	}
	return out, nil
}

func (s *Store) OpenStake(_ context.Context, stake *ledger.Stake, txn *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[stake.UserID]
	if !ok {
		return ledgerstore.ErrUserNotFound
	}
	if u.Balance.LessThan(stake.Amount) {
		return ledgerstore.ErrInsufficientBalance
	}
	if err := s.checkRefsLocked(txn); err != nil {
		return err
	}

	u.Balance = u.Balance.Sub(stake.Amount)
	u.StakedAmount = u.StakedAmount.Add(stake.Amount)
	s.stakes[stake.ID] = cloneStake(stake)
	s.appendLocked(txn)
	return nil
}

func (s *Store) ApplyAccrual(_ context.Context, upd ledgerstore.AccrualUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.guardStakeLocked(upd.StakeID, upd.ExpectedLastAccruedAt)
	if err != nil {
		return err
	}
	if st.LastAccruedAt.After(upd.AsOf.Add(-upd.Period)) {
		return ledgerstore.ErrNotDue
	}
	u, ok := s.users[upd.UserID]
	if !ok {
		return ledgerstore.ErrUserNotFound
	}
	if err = s.checkRefsLocked(upd.Txn); err != nil {
		return err
	}

	st.LastAccruedAt = upd.AsOf
	st.TotalEarned = st.TotalEarned.Add(upd.Reward)
	u.Balance = u.Balance.Add(upd.Reward)
	u.TotalRewards = u.TotalRewards.Add(upd.Reward)
	s.appendLocked(upd.Txn)
	return nil
}

func (s *Store) CloseStake(_ context.Context, upd ledgerstore.CloseUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.guardStakeLocked(upd.StakeID, upd.ExpectedLastAccruedAt)
	if err != nil {
		return err
	}
	u, ok := s.users[upd.UserID]
	if !ok {
		return ledgerstore.ErrUserNotFound
	}
	if u.StakedAmount.LessThan(upd.Principal) {
		return ledgerstore.ErrInsufficientBalance
	}
	if err = s.checkRefsLocked(upd.CloseTxn, upd.RewardTxn); err != nil {
		return err
	}

	closedAt := upd.ClosedAt
	st.IsActive = false
	st.ClosedAt = &closedAt
	if closedAt.After(st.LastAccruedAt) {
		st.LastAccruedAt = closedAt
	}
	st.TotalEarned = st.TotalEarned.Add(upd.PartialReward)

	u.Balance = u.Balance.Add(upd.Principal.Add(upd.PartialReward))
	u.StakedAmount = u.StakedAmount.Sub(upd.Principal)
	u.TotalRewards = u.TotalRewards.Add(upd.PartialReward)
	s.appendLocked(upd.CloseTxn, upd.RewardTxn)
	return nil
}

func (s *Store) CreditDeposit(_ context.Context, txn *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[txn.UserID]
	if !ok {
		return ledgerstore.ErrUserNotFound
	}
	if err := s.checkRefsLocked(txn); err != nil {
		return err
	}
	u.Balance = u.Balance.Add(txn.Amount)
	s.appendLocked(txn)
	return nil
}

func (s *Store) CreatePendingDeposit(_ context.Context, txn *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[txn.UserID]; !ok {
		return ledgerstore.ErrUserNotFound
	}
	if err := s.checkRefsLocked(txn); err != nil {
		return err
	}
	s.appendLocked(txn)
	return nil
}

func (s *Store) CompleteDeposit(_ context.Context, externalRef string) (*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.refs[externalRef]
	if !ok {
		return nil, ledgerstore.ErrTransactionNotFound
	}
	t := s.transactions[id]
	if t.Kind != ledger.KindDeposit {
		return nil, ledgerstore.ErrTransactionNotFound
	}
	if t.Status != ledger.StatusPending {
		return nil, ledgerstore.ErrDepositCompleted
	}
	u, ok := s.users[t.UserID]
	if !ok {
		return nil, ledgerstore.ErrUserNotFound
	}

	t.Status = ledger.StatusCompleted
	u.Balance = u.Balance.Add(t.Amount)
	return cloneTransaction(t), nil
}

// guardStakeLocked applies the open and last-accrual guards shared by accrual and close.
func (s *Store) guardStakeLocked(id string, expected time.Time) (*ledger.Stake, error) {
	st, ok := s.stakes[id]
	if !ok {
		return nil, ledgerstore.ErrStakeNotFound
	}
	if !st.IsActive {
		return nil, ledgerstore.ErrStakeClosed
	}
	if !st.LastAccruedAt.Equal(expected) {
		return nil, ledgerstore.ErrConcurrentUpdate
	}
	return st, nil
}

func (s *Store) checkRefsLocked(txns ...*ledger.Transaction) error {
	for _, t := range txns {
		if t == nil || t.ExternalRef == nil {
			continue
		}
		if _, ok := s.refs[*t.ExternalRef]; ok {
			return ledgerstore.ErrDuplicateDeposit
		}
	}
	return nil
}

func (s *Store) appendLocked(txns ...*ledger.Transaction) {
	for _, t := range txns {
		if t == nil {
			continue
		}
		c := cloneTransaction(t)
		s.transactions[c.ID] = c
		if c.ExternalRef != nil {
			s.refs[*c.ExternalRef] = c.ID
		}
	}
}

// Snapshot returns the total available balance and staked amount across all users.
func (s *Store) Snapshot() (balance, staked decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, staked = decimal.Zero, decimal.Zero
	for _, u := range s.users {
		balance = balance.Add(u.Balance)
		staked = staked.Add(u.StakedAmount)
	}
	return balance, staked
}
