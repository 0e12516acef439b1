package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedUser(t *testing.T, s *Store, balance string) *ledger.User {
	t.Helper()
	u := ledger.NewUser("alice@example.com", "Alice", t0)
	require.NoError(t, s.CreateUser(context.Background(), u))
	if balance != "0" {
		require.NoError(t, s.CreditDeposit(context.Background(),
			ledger.NewTransaction(u.ID, ledger.KindDeposit, dec(balance), t0)))
	}
	return u
}

func openStake(t *testing.T, s *Store, u *ledger.User, amount string) *ledger.Stake {
	t.Helper()
	st := ledger.NewStake(u.ID, dec(amount), dec("0.30"), t0)
	txn := ledger.NewTransaction(u.ID, ledger.KindStakeOpen, dec(amount).Neg(), t0).ForStake(st.ID)
	require.NoError(t, s.OpenStake(context.Background(), st, txn))
	return st
}

func TestStore_CreateUserRejectsDuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, ledger.NewUser("a@example.com", "A", t0)))
	err := s.CreateUser(ctx, ledger.NewUser("a@example.com", "B", t0))
	assert.ErrorIs(t, err, ledgerstore.ErrUserExists)

	got, err := s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}

func TestStore_OpenStakeMovesPrincipal(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "100")

	st := openStake(t, s, u, "40")

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("60")))
	assert.True(t, got.StakedAmount.Equal(dec("40")))

	stored, err := s.GetStake(ctx, st.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, t0, stored.LastAccruedAt)
}

func TestStore_OpenStakeInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "10")

	st := ledger.NewStake(u.ID, dec("11"), dec("0.30"), t0)
	err := s.OpenStake(ctx, st, ledger.NewTransaction(u.ID, ledger.KindStakeOpen, dec("-11"), t0))
	require.ErrorIs(t, err, ledgerstore.ErrInsufficientBalance)

	got, _ := s.GetUser(ctx, u.ID)
	assert.True(t, got.Balance.Equal(dec("10")))
	assert.True(t, got.StakedAmount.IsZero())
	_, err = s.GetStake(ctx, st.ID)
	assert.ErrorIs(t, err, ledgerstore.ErrStakeNotFound)

	txns, _ := s.ListTransactions(ctx, ledgerstore.WithUserID(u.ID))
	assert.Len(t, txns, 1)
}

func TestStore_ApplyAccrualGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "100")
	st := openStake(t, s, u, "50")

	upd := ledgerstore.AccrualUpdate{
		StakeID:               st.ID,
		UserID:                u.ID,
		ExpectedLastAccruedAt: t0,
		AsOf:                  t0.Add(23 * time.Hour),
		Period:                24 * time.Hour,
		Reward:                dec("1"),
	}
	require.ErrorIs(t, s.ApplyAccrual(ctx, upd), ledgerstore.ErrNotDue)

	upd.AsOf = t0.Add(24 * time.Hour)
	upd.Reward = dec("15")
	upd.Txn = ledger.NewTransaction(u.ID, ledger.KindReward, dec("15"), upd.AsOf).ForStake(st.ID)
	require.NoError(t, s.ApplyAccrual(ctx, upd))

	// replaying the same update must not credit twice
	upd.Txn = ledger.NewTransaction(u.ID, ledger.KindReward, dec("15"), upd.AsOf).ForStake(st.ID)
	require.ErrorIs(t, s.ApplyAccrual(ctx, upd), ledgerstore.ErrConcurrentUpdate)

	got, _ := s.GetUser(ctx, u.ID)
	assert.True(t, got.Balance.Equal(dec("65")), "balance=%s", got.Balance)
	assert.True(t, got.TotalRewards.Equal(dec("15")))

	stored, _ := s.GetStake(ctx, st.ID)
	assert.Equal(t, t0.Add(24*time.Hour), stored.LastAccruedAt)
	assert.True(t, stored.TotalEarned.Equal(dec("15")))
}

func TestStore_CloseStake(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "100")
	st := openStake(t, s, u, "50")

	closedAt := t0.Add(6 * time.Hour)
	upd := ledgerstore.CloseUpdate{
		StakeID:               st.ID,
		UserID:                u.ID,
		Principal:             st.Amount,
		ExpectedLastAccruedAt: t0,
		ClosedAt:              closedAt,
		PartialReward:         dec("3.75"),
		CloseTxn:              ledger.NewTransaction(u.ID, ledger.KindStakeClose, dec("53.75"), closedAt).ForStake(st.ID),
		RewardTxn:             ledger.NewTransaction(u.ID, ledger.KindReward, dec("3.75"), closedAt).ForStake(st.ID),
	}
	require.NoError(t, s.CloseStake(ctx, upd))
	require.ErrorIs(t, s.CloseStake(ctx, upd), ledgerstore.ErrStakeClosed)

	got, _ := s.GetUser(ctx, u.ID)
	assert.True(t, got.Balance.Equal(dec("103.75")))
	assert.True(t, got.StakedAmount.IsZero())
	assert.True(t, got.TotalRewards.Equal(dec("3.75")))

	stored, _ := s.GetStake(ctx, st.ID)
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.ClosedAt)
	assert.Equal(t, closedAt, *stored.ClosedAt)

	rewards, _ := s.ListTransactions(ctx, ledgerstore.WithKind(ledger.KindReward))
	assert.Len(t, rewards, 1)
}

func TestStore_PendingDepositCompletesOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "0")

	pending := ledger.NewTransaction(u.ID, ledger.KindDeposit, dec("25"), t0).WithExternalRef("pay-1").Pending()
	require.NoError(t, s.CreatePendingDeposit(ctx, pending))

	dup := ledger.NewTransaction(u.ID, ledger.KindDeposit, dec("25"), t0).WithExternalRef("pay-1")
	require.ErrorIs(t, s.CreditDeposit(ctx, dup), ledgerstore.ErrDuplicateDeposit)

	got, _ := s.GetUser(ctx, u.ID)
	assert.True(t, got.Balance.IsZero())

	done, err := s.CompleteDeposit(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, done.Status)

	_, err = s.CompleteDeposit(ctx, "pay-1")
	require.ErrorIs(t, err, ledgerstore.ErrDepositCompleted)
	_, err = s.CompleteDeposit(ctx, "pay-unknown")
	require.ErrorIs(t, err, ledgerstore.ErrTransactionNotFound)

	got, _ = s.GetUser(ctx, u.ID)
	assert.True(t, got.Balance.Equal(dec("25")))
}

func TestStore_ListTransactionsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "0")

	for i := 1; i <= 3; i++ {
		txn := ledger.NewTransaction(u.ID, ledger.KindDeposit, dec("1"), t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.CreditDeposit(ctx, txn))
	}

	txns, err := s.ListTransactions(ctx, ledgerstore.WithUserID(u.ID), ledgerstore.WithCreatedSince(t0.Add(2*time.Hour)))
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, t0.Add(3*time.Hour), txns[0].CreatedAt)

	limited, err := s.ListTransactions(ctx, ledgerstore.WithLimit(1))
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// Racing accruals and a close over one stake must apply at most one of the
// accruals and keep value conserved.
func TestStore_ConcurrentAccrualAndClose(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "100")
	st := openStake(t, s, u, "50")

	asOf := t0.Add(24 * time.Hour)
	var wg sync.WaitGroup
	errs := make(chan error, 11)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.ApplyAccrual(ctx, ledgerstore.AccrualUpdate{
				StakeID: st.ID, UserID: u.ID, ExpectedLastAccruedAt: t0, AsOf: asOf,
				Period: 24 * time.Hour, Reward: dec("15"),
				Txn: ledger.NewTransaction(u.ID, ledger.KindReward, dec("15"), asOf).ForStake(st.ID),
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- s.CloseStake(ctx, ledgerstore.CloseUpdate{
			StakeID: st.ID, UserID: u.ID, Principal: st.Amount, ExpectedLastAccruedAt: t0,
			ClosedAt: asOf, PartialReward: dec("15"),
			CloseTxn:  ledger.NewTransaction(u.ID, ledger.KindStakeClose, dec("65"), asOf).ForStake(st.ID),
			RewardTxn: ledger.NewTransaction(u.ID, ledger.KindReward, dec("15"), asOf).ForStake(st.ID),
		})
	}()
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, ledgerstore.ErrConcurrentUpdate) && !errors.Is(err, ledgerstore.ErrStakeClosed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	got, _ := s.GetUser(ctx, u.ID)
	assert.True(t, got.TotalRewards.Equal(dec("15")))

	balance, staked := s.Snapshot()
	assert.True(t, balance.Add(staked).Equal(dec("100").Add(got.TotalRewards)))
}
