package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

func testLockout(account string, expires time.Time) *models.LockoutRecord {
	return &models.LockoutRecord{
		ID:        uuid.New(),
		AccountID: account,
		Kind:      models.LockoutKindHard,
		RuleID:    "daily-loss",
		Reason:    "daily realized loss limit breached",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expires,
	}
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("lockout roundtrip and upsert", func(t *testing.T) {
		expires := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Millisecond)
		require.NoError(t, s.SaveLockout(ctx, testLockout("acct-1", expires)))

		recs, err := s.LoadLockouts(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "acct-1", recs[0].AccountID)
		assert.Equal(t, models.LockoutKindHard, recs[0].Kind)
		assert.WithinDuration(t, expires, recs[0].ExpiresAt, time.Second)

		// A second save for the same account replaces, never duplicates.
		longer := expires.Add(3 * time.Hour)
		replacement := testLockout("acct-1", longer)
		replacement.Kind = models.LockoutKindCooldown
		require.NoError(t, s.SaveLockout(ctx, replacement))

		recs, err = s.LoadLockouts(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, models.LockoutKindCooldown, recs[0].Kind)
		assert.WithinDuration(t, longer, recs[0].ExpiresAt, time.Second)
	})

	t.Run("delete lockout", func(t *testing.T) {
		require.NoError(t, s.SaveLockout(ctx, testLockout("acct-2", time.Now().Add(time.Hour))))
		require.NoError(t, s.DeleteLockout(ctx, "acct-2"))
		// Deleting an absent record is not an error.
		require.NoError(t, s.DeleteLockout(ctx, "acct-2"))

		recs, err := s.LoadLockouts(ctx)
		require.NoError(t, err)
		for _, rec := range recs {
			assert.NotEqual(t, "acct-2", rec.AccountID)
		}
	})

	t.Run("last reset dates", func(t *testing.T) {
		require.NoError(t, s.SaveLastReset(ctx, "acct-1", "2026-03-09"))
		require.NoError(t, s.SaveLastReset(ctx, "acct-1", "2026-03-10"))
		require.NoError(t, s.SaveLastReset(ctx, "acct-3", "2026-03-10"))

		dates, err := s.LoadLastResets(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-10", dates["acct-1"])
		assert.Equal(t, "2026-03-10", dates["acct-3"])
	})

	t.Run("reset log append", func(t *testing.T) {
		entry := &models.ResetLogEntry{
			ID:                 uuid.New(),
			AccountID:          "acct-1",
			ResetDate:          "2026-03-10",
			FiredAt:            time.Now().UTC(),
			LockoutCleared:     true,
			RealizedPnLAtReset: decimal.NewFromFloat(-612.50),
		}
		require.NoError(t, s.AppendResetLog(ctx, entry))
	})

	t.Run("actions ordered per account", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Second)
		for i, action := range []string{models.ActionCloseAll, models.ActionCancelAllOrders, models.ActionLockout} {
			require.NoError(t, s.AppendAction(ctx, &models.EnforcementActionRecord{
				ID:         uuid.New(),
				AccountID:  "acct-4",
				ActionType: action,
				RuleID:     "daily-loss",
				Reason:     "daily realized loss limit breached",
				CreatedAt:  base.Add(time.Duration(i) * time.Second),
			}))
		}
		require.NoError(t, s.AppendAction(ctx, &models.EnforcementActionRecord{
			ID:         uuid.New(),
			AccountID:  "acct-5",
			ActionType: models.ActionClosePosition,
			Reason:     "per-position loss limit breached",
			CreatedAt:  base,
		}))

		got, err := s.LoadActions(ctx, "acct-4", 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, models.ActionCloseAll, got[0].ActionType)
		assert.Equal(t, models.ActionCancelAllOrders, got[1].ActionType)
		assert.Equal(t, models.ActionLockout, got[2].ActionType)

		limited, err := s.LoadActions(ctx, "acct-4", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("pnl snapshot roundtrip", func(t *testing.T) {
		snap := &models.DailyPnLSnapshot{
			AccountID:  "acct-1",
			TradingDay: "2026-03-10",
			RealizedBySymbol: map[string]decimal.Decimal{
				"ESZ6": decimal.NewFromFloat(-350.25),
				"NQZ6": decimal.NewFromFloat(120),
			},
			UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.SaveDailyPnL(ctx, snap))

		snaps, err := s.LoadDailyPnL(ctx)
		require.NoError(t, err)
		var found *models.DailyPnLSnapshot
		for _, got := range snaps {
			if got.AccountID == "acct-1" {
				found = got
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, "2026-03-10", found.TradingDay)
		assert.True(t, found.RealizedBySymbol["ESZ6"].Equal(decimal.NewFromFloat(-350.25)))
		assert.True(t, found.RealizedTotal().Equal(decimal.NewFromFloat(-230.25)))
	})
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	runStoreSuite(t, s)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	runStoreSuite(t, s)
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "risk.db")
	s, err := NewSQLStore("sqlite", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	runStoreSuite(t, s)
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.FailNextSaves = 1

	err := s.SaveLockout(ctx, testLockout("acct-1", time.Now().Add(time.Hour)))
	require.Error(t, err)

	// The next attempt succeeds.
	require.NoError(t, s.SaveLockout(ctx, testLockout("acct-1", time.Now().Add(time.Hour))))
}

func TestOpenFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	s, err := Open("memory", "", "", logger)
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	s, err = Open("badger", t.TempDir(), "", logger)
	require.NoError(t, err)
	_, ok = s.(*BadgerStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	_, err = Open("cassandra", "", "", logger)
	assert.Error(t, err)
}
