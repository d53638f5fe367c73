package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

type stubPnL struct {
	realized   decimal.Decimal
	unrealized decimal.Decimal
	hasOpen    bool
}

func (s *stubPnL) RealizedToday(string) decimal.Decimal { return s.realized }
func (s *stubPnL) Unrealized(string, string) (decimal.Decimal, bool) {
	return s.unrealized, s.hasOpen
}

type stubSessions struct{ open bool }

func (s *stubSessions) InSession(time.Time) bool { return s.open }

func realizedFill(amount string) *events.Event {
	pnl := decimal.RequireFromString(amount)
	return events.NewFill("acct-1", "ESZ6", time.Now(), events.Fill{
		OrderID:     "o-1",
		Side:        "sell",
		Quantity:    decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(5000),
		RealizedPnL: &pnl,
	})
}

func unreportedFill() *events.Event {
	return events.NewFill("acct-1", "ESZ6", time.Now(), events.Fill{
		OrderID:  "o-2",
		Side:     "buy",
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(5000),
	})
}

func TestBreachedBoundary(t *testing.T) {
	limit := decimal.RequireFromString("500")

	assert.False(t, Breached(decimal.RequireFromString("-500.00"), limit), "exactly at the limit is legal")
	assert.True(t, Breached(decimal.RequireFromString("-500.01"), limit), "one cent past breaches")
	assert.False(t, Breached(decimal.RequireFromString("-499.99"), limit))
	assert.False(t, Breached(decimal.RequireFromString("250"), limit))
}

func TestDailyRealizedLossRule(t *testing.T) {
	pnl := &stubPnL{}
	rule := NewDailyRealizedLossRule("daily-loss", decimal.RequireFromString("1000"), pnl)

	assert.Equal(t, CategoryHardLockout, rule.Category())

	pnl.realized = decimal.RequireFromString("-1000")
	v, err := rule.Evaluate(realizedFill("-25"))
	require.NoError(t, err)
	assert.Nil(t, v, "exactly at the limit")

	pnl.realized = decimal.RequireFromString("-1005")
	v, err = rule.Evaluate(realizedFill("-25"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "daily-loss", v.RuleID)
	assert.Equal(t, CategoryHardLockout, v.Category)

	// A fill with no realized amount never trips the rule, whatever
	// the running total says.
	v, err = rule.Evaluate(unreportedFill())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPositionLossRule(t *testing.T) {
	pnl := &stubPnL{}
	rule := NewPositionLossRule("position-loss", decimal.RequireFromString("200"), pnl)

	assert.Equal(t, CategoryTradeByTrade, rule.Category())

	quote := events.NewQuote("acct-1", "ESZ6", time.Now(), events.Quote{Last: decimal.NewFromInt(4990)})

	v, err := rule.Evaluate(quote)
	require.NoError(t, err)
	assert.Nil(t, v, "no open position")

	pnl.hasOpen = true
	pnl.unrealized = decimal.RequireFromString("-200")
	v, err = rule.Evaluate(quote)
	require.NoError(t, err)
	assert.Nil(t, v, "exactly at the limit")

	pnl.unrealized = decimal.RequireFromString("-200.50")
	v, err = rule.Evaluate(quote)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "ESZ6", v.Symbol, "violation names the implicated position")
	assert.Equal(t, CategoryTradeByTrade, v.Category)
}

func TestLossStreakRule(t *testing.T) {
	rule := NewLossStreakRule("loss-streak", 3, 30*time.Minute)
	assert.Equal(t, CategoryCooldown, rule.Category())

	for i := 0; i < 2; i++ {
		v, err := rule.Evaluate(realizedFill("-10"))
		require.NoError(t, err)
		assert.Nil(t, v)
	}

	// A fill without a realized amount leaves the streak untouched.
	v, err := rule.Evaluate(unreportedFill())
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = rule.Evaluate(realizedFill("-10"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 30*time.Minute, v.Cooldown)

	// The trip consumed the streak.
	v, err = rule.Evaluate(realizedFill("-10"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLossStreakBrokenByWin(t *testing.T) {
	rule := NewLossStreakRule("loss-streak", 3, 30*time.Minute)

	for i := 0; i < 2; i++ {
		v, err := rule.Evaluate(realizedFill("-10"))
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	v, err := rule.Evaluate(realizedFill("5"))
	require.NoError(t, err)
	assert.Nil(t, v)

	// Two more losses stay under the restarted count.
	for i := 0; i < 2; i++ {
		v, err = rule.Evaluate(realizedFill("-10"))
		require.NoError(t, err)
		assert.Nil(t, v)
	}
}

func TestLossStreakResetAccount(t *testing.T) {
	rule := NewLossStreakRule("loss-streak", 2, 30*time.Minute)

	v, err := rule.Evaluate(realizedFill("-10"))
	require.NoError(t, err)
	assert.Nil(t, v)

	rule.ResetAccount("acct-1")

	v, err = rule.Evaluate(realizedFill("-10"))
	require.NoError(t, err)
	assert.Nil(t, v, "reset cleared the running streak")
}

func TestOrderRateRule(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sessions := &stubSessions{open: true}
	rule := NewOrderRateRule("order-rate", 3, time.Minute, 10*time.Minute, sessions, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		v, err := rule.Evaluate(realizedFill("-1"))
		require.NoError(t, err)
		assert.Nil(t, v)
		now = now.Add(10 * time.Second)
	}

	v, err := rule.Evaluate(realizedFill("-1"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, CategoryCooldown, v.Category)
	assert.Equal(t, 10*time.Minute, v.Cooldown)
}

func TestOrderRateWindowSlides(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rule := NewOrderRateRule("order-rate", 2, time.Minute, 10*time.Minute, &stubSessions{open: true}, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		v, err := rule.Evaluate(realizedFill("-1"))
		require.NoError(t, err)
		assert.Nil(t, v)
	}

	// The earlier fills age out of the window before the next one.
	now = now.Add(2 * time.Minute)
	v, err := rule.Evaluate(realizedFill("-1"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOrderRateIgnoresOutOfSessionFills(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sessions := &stubSessions{open: false}
	rule := NewOrderRateRule("order-rate", 1, time.Minute, 10*time.Minute, sessions, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		v, err := rule.Evaluate(realizedFill("-1"))
		require.NoError(t, err)
		assert.Nil(t, v, "holiday fills never accumulate")
	}
}

func TestBuildRejectsMalformedDefinitions(t *testing.T) {
	deps := Deps{PnL: &stubPnL{}, Sessions: &stubSessions{open: true}, Now: time.Now}
	defs := []Definition{
		{ID: "daily-loss", Type: TypeDailyRealizedLoss, Enabled: true, Limit: "1000"},
		{ID: "bad-limit", Type: TypeDailyRealizedLoss, Enabled: true, Limit: "-5"},
		{ID: "no-limit", Type: TypePositionLoss, Enabled: true},
		{ID: "off", Type: TypeLossStreak, Enabled: false, Streak: 3, Cooldown: time.Minute},
		{ID: "streak", Type: TypeLossStreak, Enabled: true, Streak: 3, Cooldown: 30 * time.Minute},
		{ID: "rate", Type: TypeOrderRate, Enabled: true, MaxOrders: 5, Window: time.Minute, Cooldown: 10 * time.Minute},
		{ID: "mystery", Type: "candle_pattern", Enabled: true},
	}

	built, faults := Build(defs, deps, zaptest.NewLogger(t))

	ids := make([]string, 0, len(built))
	for _, r := range built {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"daily-loss", "streak", "rate"}, ids)
	assert.Len(t, faults, 3, "bad-limit, no-limit and mystery are rejected")
}
