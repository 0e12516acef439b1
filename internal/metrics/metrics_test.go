package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestAddReward(t *testing.T) {
	counter := RewardsAccrued.WithLabelValues("test")
	before := testutil.ToFloat64(counter)

	AddReward("test", decimal.RequireFromString("15.5"))
	AddReward("test", decimal.Zero)
	AddReward("test", decimal.RequireFromString("-1"))

	if got := testutil.ToFloat64(counter) - before; got != 15.5 {
		t.Fatalf("expected 15.5 added, got %v", got)
	}
}
