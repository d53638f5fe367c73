package pnl

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/clock"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/session"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/store"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

func newTestTracker(t *testing.T, st store.Store) (*Tracker, *clock.Manual, *session.Calendar) {
	t.Helper()
	cal, err := session.NewCalendar("America/Chicago", "17:00", nil, false)
	require.NoError(t, err)
	// 09:00 local, inside the trading day that opened yesterday 17:00.
	clk := clock.NewManual(time.Date(2026, 3, 10, 9, 0, 0, 0, cal.Location()))
	return NewTracker(cal, clk, st, zaptest.NewLogger(t)), clk, cal
}

func fillWithPnL(account, symbol string, pnl string) *events.Event {
	amount := decimal.RequireFromString(pnl)
	return events.NewFill(account, symbol, time.Now(), events.Fill{
		OrderID:     "o-1",
		Side:        "sell",
		Quantity:    decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(5000),
		RealizedPnL: &amount,
	})
}

func TestFillWithoutRealizedPnLIsIgnored(t *testing.T) {
	tr, _, _ := newTestTracker(t, nil)

	tr.ApplyFill(events.NewFill("acct-1", "ESZ6", time.Now(), events.Fill{
		OrderID:  "o-1",
		Side:     "buy",
		Quantity: decimal.NewFromInt(2),
		Price:    decimal.NewFromInt(5000),
	}))

	assert.True(t, tr.RealizedToday("acct-1").IsZero())
}

func TestRealizedAccumulatesAcrossSymbols(t *testing.T) {
	tr, _, _ := newTestTracker(t, nil)

	tr.ApplyFill(fillWithPnL("acct-1", "ESZ6", "-150.50"))
	tr.ApplyFill(fillWithPnL("acct-1", "ESZ6", "-100"))
	tr.ApplyFill(fillWithPnL("acct-1", "NQZ6", "75.25"))
	tr.ApplyFill(fillWithPnL("acct-2", "ESZ6", "-999"))

	assert.True(t, tr.RealizedToday("acct-1").Equal(decimal.RequireFromString("-175.25")))
	assert.True(t, tr.RealizedToday("acct-2").Equal(decimal.RequireFromString("-999")))
	assert.True(t, tr.RealizedToday("acct-3").IsZero())
}

func TestUnrealized(t *testing.T) {
	tr, _, _ := newTestTracker(t, nil)

	// No position and no quote yet.
	_, ok := tr.Unrealized("acct-1", "ESZ6")
	assert.False(t, ok)

	tr.ApplyPosition(events.NewPosition("acct-1", "ESZ6", time.Now(), events.Position{
		Size:     decimal.NewFromInt(2),
		AvgPrice: decimal.NewFromInt(5000),
	}))
	_, ok = tr.Unrealized("acct-1", "ESZ6")
	assert.False(t, ok, "no quote yet")

	tr.ApplyQuote(events.NewQuote("acct-1", "ESZ6", time.Now(), events.Quote{
		Last: decimal.RequireFromString("4990.50"),
	}))
	upl, ok := tr.Unrealized("acct-1", "ESZ6")
	require.True(t, ok)
	assert.True(t, upl.Equal(decimal.RequireFromString("-19")), "long 2 from 5000 at 4990.50")

	// Short position gains when price falls.
	tr.ApplyPosition(events.NewPosition("acct-1", "NQZ6", time.Now(), events.Position{
		Size:     decimal.NewFromInt(-1),
		AvgPrice: decimal.NewFromInt(18000),
	}))
	tr.ApplyQuote(events.NewQuote("acct-1", "NQZ6", time.Now(), events.Quote{
		Last: decimal.NewFromInt(17900),
	}))
	upl, ok = tr.Unrealized("acct-1", "NQZ6")
	require.True(t, ok)
	assert.True(t, upl.Equal(decimal.NewFromInt(100)))

	// Flat removes the position.
	tr.ApplyPosition(events.NewPosition("acct-1", "ESZ6", time.Now(), events.Position{
		Size: decimal.Zero,
	}))
	_, ok = tr.Unrealized("acct-1", "ESZ6")
	assert.False(t, ok)
	assert.True(t, tr.HasOpenPosition("acct-1"), "short NQZ6 still open")
}

func TestResetDayZeroesRealizedKeepsPositions(t *testing.T) {
	st := store.NewMemoryStore()
	tr, _, _ := newTestTracker(t, st)

	tr.ApplyFill(fillWithPnL("acct-1", "ESZ6", "-400"))
	tr.ApplyPosition(events.NewPosition("acct-1", "ESZ6", time.Now(), events.Position{
		Size:     decimal.NewFromInt(1),
		AvgPrice: decimal.NewFromInt(5000),
	}))

	total := tr.ResetDay(context.Background(), "acct-1", "2026-03-10")
	assert.True(t, total.Equal(decimal.NewFromInt(-400)))
	assert.True(t, tr.RealizedToday("acct-1").IsZero())
	assert.True(t, tr.HasOpenPosition("acct-1"))

	snaps, err := st.LoadDailyPnL(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Empty(t, snaps[0].RealizedBySymbol)
}

func TestRestoreKeepsCurrentTradingDayOnly(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.SaveDailyPnL(ctx, &models.DailyPnLSnapshot{
		AccountID:  "acct-1",
		TradingDay: "2026-03-09",
		RealizedBySymbol: map[string]decimal.Decimal{
			"ESZ6": decimal.RequireFromString("-250"),
		},
	}))
	require.NoError(t, st.SaveDailyPnL(ctx, &models.DailyPnLSnapshot{
		AccountID:  "acct-2",
		TradingDay: "2026-03-08",
		RealizedBySymbol: map[string]decimal.Decimal{
			"ESZ6": decimal.RequireFromString("-999"),
		},
	}))

	tr, _, cal := newTestTracker(t, st)
	// 09:00 on Mar 10 belongs to the trading day keyed 2026-03-09.
	require.Equal(t, "2026-03-09", cal.TradingDay(time.Date(2026, 3, 10, 9, 0, 0, 0, cal.Location())))

	require.NoError(t, tr.Restore(ctx))
	assert.True(t, tr.RealizedToday("acct-1").Equal(decimal.RequireFromString("-250")))
	assert.True(t, tr.RealizedToday("acct-2").IsZero(), "stale snapshot discarded")
}

func TestFlushPersistsDirtyState(t *testing.T) {
	st := store.NewMemoryStore()
	tr, _, _ := newTestTracker(t, st)

	tr.ApplyFill(fillWithPnL("acct-1", "ESZ6", "-125.75"))
	tr.flush()

	snaps, err := st.LoadDailyPnL(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "acct-1", snaps[0].AccountID)
	assert.True(t, snaps[0].RealizedBySymbol["ESZ6"].Equal(decimal.RequireFromString("-125.75")))
	assert.Equal(t, "2026-03-09", snaps[0].TradingDay)
}
