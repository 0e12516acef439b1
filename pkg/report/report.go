// Package report projects the ledger into per-user and platform analytics.
// All figures are derived from the ledger store listings; nothing here writes.
package report

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserAnalytics is the dashboard view of a single user.
type UserAnalytics struct {
	Overview    UserOverview `json:"overview"`
	Performance Performance  `json:"performance"`
	Portfolio   Portfolio    `json:"portfolio"`
	Projections Projections  `json:"projections"`
	Milestones  Milestones   `json:"milestones"`
}

type UserOverview struct {
	TotalInvested  decimal.Decimal `json:"total_invested"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	CurrentStaked  decimal.Decimal `json:"current_staked"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	ROIPercentage  decimal.Decimal `json:"roi_percentage"`
	DaysActive     int             `json:"days_active"`
}

// DailyPerformance is one UTC day of a user's reward history.
type DailyPerformance struct {
	Date               string          `json:"date"`
	DailyRewards       decimal.Decimal `json:"daily_rewards"`
	CumulativeEarnings decimal.Decimal `json:"cumulative_earnings"`
	ActiveStakes       int             `json:"active_stakes"`
}

type Performance struct {
	DailyData    []DailyPerformance `json:"daily_data"`
	BestDay      decimal.Decimal    `json:"best_day"`
	AverageDaily decimal.Decimal    `json:"average_daily"`
}

type Portfolio struct {
	ActiveStakes       int             `json:"active_stakes"`
	CompletedStakes    int             `json:"completed_stakes"`
	TotalStakes        int             `json:"total_stakes"`
	AverageStakeAmount decimal.Decimal `json:"average_stake_amount"`
}

// Projections extrapolate the current staked amount at the configured rate.
type Projections struct {
	Daily   decimal.Decimal `json:"daily_projected"`
	Weekly  decimal.Decimal `json:"weekly_projected"`
	Monthly decimal.Decimal `json:"monthly_projected"`
	Yearly  decimal.Decimal `json:"yearly_projected"`
}

type Milestones struct {
	FirstStakeDate     *time.Time      `json:"first_stake_date"`
	BiggestStake       decimal.Decimal `json:"biggest_stake"`
	TotalTransactions  int             `json:"total_transactions"`
	RewardTransactions int             `json:"reward_transactions"`
}

// PlatformAnalytics is the dashboard view across all users.
type PlatformAnalytics struct {
	Overview       PlatformOverview    `json:"overview"`
	RecentActivity RecentActivity      `json:"recent_activity"`
	DailyStats     []DailyStat         `json:"daily_stats"`
	Performance    PlatformPerformance `json:"performance"`
}

type PlatformOverview struct {
	TotalUsers              int             `json:"total_users"`
	TotalStaked             decimal.Decimal `json:"total_staked"`
	TotalRewardsDistributed decimal.Decimal `json:"total_rewards_distributed"`
	TotalPlatformValue      decimal.Decimal `json:"total_platform_value"`
	ActiveStakes            int             `json:"active_stakes"`
	CompletionRate          decimal.Decimal `json:"completion_rate"`
}

type RecentActivity struct {
	NewUsers     int `json:"new_users_7d"`
	NewStakes    int `json:"new_stakes_7d"`
	Transactions int `json:"transactions_7d"`
}

// DailyStat is one UTC day of platform activity.
type DailyStat struct {
	Date               string          `json:"date"`
	NewUsers           int             `json:"new_users"`
	NewStakes          int             `json:"new_stakes"`
	RewardsDistributed decimal.Decimal `json:"rewards_distributed"`
	TransactionCount   int             `json:"transaction_count"`
}

type PlatformPerformance struct {
	AvgStakeAmount   decimal.Decimal `json:"avg_stake_amount"`
	AvgUserBalance   decimal.Decimal `json:"avg_user_balance"`
	DailyRatePercent decimal.Decimal `json:"daily_rate_percent"`
}
