package report

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainsafe/stake-ledger/pkg/accrual"
	apperrors "github.com/chainsafe/stake-ledger/pkg/app/errors"
	"github.com/chainsafe/stake-ledger/pkg/clock"
	"github.com/chainsafe/stake-ledger/pkg/ledger"
	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
)

const (
	historyDays   = 30
	recentDays    = 7
	day           = 24 * time.Hour
	dateLayout    = "2006-01-02"
	percentPlaces = 2
)

var hundred = decimal.NewFromInt(100)

// Store is the read-only slice of the ledger store used for reporting.
type Store interface {
	GetUser(ctx context.Context, id string) (*ledger.User, error)
	ListUsers(ctx context.Context) ([]*ledger.User, error)
	ListStakes(ctx context.Context, opts ...ledgerstore.QueryOption) ([]*ledger.Stake, error)
	ListTransactions(ctx context.Context, opts ...ledgerstore.QueryOption) ([]*ledger.Transaction, error)
}

// Projector builds analytics views from ledger listings.
type Projector struct {
	store Store
	clock clock.Clock
	calc  accrual.Calculator
}

// NewProjector creates a Projector that projects rewards with calc.
func NewProjector(store Store, clk clock.Clock, calc accrual.Calculator) *Projector {
	return &Projector{
		store: store,
		clock: clk,
		calc:  calc,
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// percent returns part/whole as a percentage, or zero when whole is not positive.
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, percentPlaces)
}

func (p *Projector) average(total decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(int64(n)), p.calc.Precision)
}

// openDuring reports whether st was open at any point in [start, end).
func openDuring(st *ledger.Stake, start, end time.Time) bool {
	if !st.StartedAt.Before(end) {
		return false
	}
	return st.ClosedAt == nil || !st.ClosedAt.Before(start)
}

// UserAnalytics returns the overview, 30 day reward history, portfolio,
// projections and milestones of one user.
func (p *Projector) UserAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	usr, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	stakes, err := p.store.ListStakes(ctx, ledgerstore.WithUserID(userID))
	if err != nil {
		return nil, mapStoreError(err)
	}
	txns, err := p.store.ListTransactions(ctx, ledgerstore.WithUserID(userID))
	if err != nil {
		return nil, mapStoreError(err)
	}

	now := p.clock.Now().UTC()
	out := &UserAnalytics{}

	invested, biggest, projected := decimal.Zero, decimal.Zero, decimal.Zero
	active := 0
	for _, st := range stakes {
		invested = invested.Add(st.Amount)
		if st.Amount.GreaterThan(biggest) {
			biggest = st.Amount
		}
		if st.IsActive {
			active++
			// each stake keeps the rate it was opened at
			projected = projected.Add(accrual.RewardOwed(st.Amount, st.RewardRate, day, p.calc.Period))
		}
		if first := out.Milestones.FirstStakeDate; first == nil || st.StartedAt.Before(*first) {
			started := st.StartedAt
			out.Milestones.FirstStakeDate = &started
		}
	}

	rewardsByDay := make(map[string]decimal.Decimal)
	rewardTxns := 0
	for _, txn := range txns {
		if txn.Kind != ledger.KindReward {
			continue
		}
		rewardTxns++
		key := dayKey(txn.CreatedAt)
		rewardsByDay[key] = rewardsByDay[key].Add(txn.Amount)
	}

	out.Overview = UserOverview{
		TotalInvested:  invested,
		TotalEarned:    usr.TotalRewards,
		CurrentStaked:  usr.StakedAmount,
		CurrentBalance: usr.Balance,
		ROIPercentage:  percent(usr.TotalRewards, invested),
		DaysActive:     int(now.Sub(usr.CreatedAt) / day),
	}

	firstDay := startOfDay(now).AddDate(0, 0, -(historyDays - 1))
	cumulative, best, sum := decimal.Zero, decimal.Zero, decimal.Zero
	out.Performance.DailyData = make([]DailyPerformance, 0, historyDays)
	for i := 0; i < historyDays; i++ {
		dayStart := firstDay.AddDate(0, 0, i)
		dayEnd := dayStart.Add(day)
		key := dayKey(dayStart)

		rewards, ok := rewardsByDay[key]
		if !ok {
			rewards = decimal.Zero
		}
		cumulative = cumulative.Add(rewards)
		sum = sum.Add(rewards)
		if rewards.GreaterThan(best) {
			best = rewards
		}

		open := 0
		for _, st := range stakes {
			if openDuring(st, dayStart, dayEnd) {
				open++
			}
		}
		out.Performance.DailyData = append(out.Performance.DailyData, DailyPerformance{
			Date:               key,
			DailyRewards:       rewards,
			CumulativeEarnings: cumulative,
			ActiveStakes:       open,
		})
	}
	out.Performance.BestDay = best
	out.Performance.AverageDaily = p.average(sum, historyDays)

	out.Portfolio = Portfolio{
		ActiveStakes:       active,
		CompletedStakes:    len(stakes) - active,
		TotalStakes:        len(stakes),
		AverageStakeAmount: p.average(invested, len(stakes)),
	}

	daily := accrual.Round(projected, p.calc.Precision)
	out.Projections = Projections{
		Daily:   daily,
		Weekly:  daily.Mul(decimal.NewFromInt(7)),
		Monthly: daily.Mul(decimal.NewFromInt(30)),
		Yearly:  daily.Mul(decimal.NewFromInt(365)),
	}

	out.Milestones.BiggestStake = biggest
	out.Milestones.TotalTransactions = len(txns)
	out.Milestones.RewardTransactions = rewardTxns
	return out, nil
}

// PlatformAnalytics returns platform totals, the last 7 days of activity and
// 30 daily activity buckets.
func (p *Projector) PlatformAnalytics(ctx context.Context) (*PlatformAnalytics, error) {
	now := p.clock.Now().UTC()
	firstDay := startOfDay(now).AddDate(0, 0, -(historyDays - 1))
	recentSince := now.Add(-recentDays * day)

	users, err := p.store.ListUsers(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	stakes, err := p.store.ListStakes(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	txns, err := p.store.ListTransactions(ctx, ledgerstore.WithCreatedSince(firstDay))
	if err != nil {
		return nil, mapStoreError(err)
	}

	out := &PlatformAnalytics{}
	buckets := make(map[string]*DailyStat, historyDays)
	out.DailyStats = make([]DailyStat, historyDays)
	for i := range out.DailyStats {
		key := dayKey(firstDay.AddDate(0, 0, i))
		out.DailyStats[i] = DailyStat{Date: key, RewardsDistributed: decimal.Zero}
		buckets[key] = &out.DailyStats[i]
	}

	staked, rewards, balances := decimal.Zero, decimal.Zero, decimal.Zero
	for _, usr := range users {
		staked = staked.Add(usr.StakedAmount)
		rewards = rewards.Add(usr.TotalRewards)
		balances = balances.Add(usr.Balance)
		if !usr.CreatedAt.Before(recentSince) {
			out.RecentActivity.NewUsers++
		}
		if b, ok := buckets[dayKey(usr.CreatedAt)]; ok {
			b.NewUsers++
		}
	}

	active := 0
	for _, st := range stakes {
		if st.IsActive {
			active++
		}
		if !st.StartedAt.Before(recentSince) {
			out.RecentActivity.NewStakes++
		}
		if b, ok := buckets[dayKey(st.StartedAt)]; ok {
			b.NewStakes++
		}
	}

	for _, txn := range txns {
		if !txn.CreatedAt.Before(recentSince) {
			out.RecentActivity.Transactions++
		}
		b, ok := buckets[dayKey(txn.CreatedAt)]
		if !ok {
			continue
		}
		b.TransactionCount++
		if txn.Kind == ledger.KindReward {
			b.RewardsDistributed = b.RewardsDistributed.Add(txn.Amount)
		}
	}

	out.Overview = PlatformOverview{
		TotalUsers:              len(users),
		TotalStaked:             staked,
		TotalRewardsDistributed: rewards,
		TotalPlatformValue:      staked.Add(balances),
		ActiveStakes:            active,
		CompletionRate:          percent(decimal.NewFromInt(int64(len(stakes)-active)), decimal.NewFromInt(int64(len(stakes)))),
	}
	out.Performance = PlatformPerformance{
		AvgStakeAmount:   p.average(staked, active),
		AvgUserBalance:   p.average(balances, len(users)),
		DailyRatePercent: accrual.RewardOwed(hundred, p.calc.Rate, day, p.calc.Period),
	}
	return out, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, ledgerstore.ErrUserNotFound) {
		return apperrors.ResourceNotFoundError(err, "user not found")
	}
	return apperrors.DependencyFailureError(err, "ledger storage unavailable")
}
