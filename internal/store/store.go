// Package store persists lockout state, reset bookkeeping, audit
// records and P&L snapshots behind a small contract with pluggable
// backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// OpTimeout bounds every store call made from the hot path.
const OpTimeout = 2 * time.Second

// Store is the durability contract. Writes are atomic per record.
// Lockout writes carry the hard durability guarantee; P&L snapshots and
// audit appends are best effort for the callers that use them.
type Store interface {
	// SaveLockout upserts the single lockout record for an account.
	SaveLockout(ctx context.Context, rec *models.LockoutRecord) error
	// DeleteLockout removes an account's lockout record. Deleting a
	// missing record is not an error.
	DeleteLockout(ctx context.Context, accountID string) error
	// LoadLockouts returns every persisted lockout record, expired or
	// not. Expiry policy belongs to the caller.
	LoadLockouts(ctx context.Context) ([]*models.LockoutRecord, error)

	// SaveLastReset records the last trading date a reset ran for an
	// account.
	SaveLastReset(ctx context.Context, accountID, date string) error
	// LoadLastResets returns account -> last reset date.
	LoadLastResets(ctx context.Context) (map[string]string, error)
	// AppendResetLog appends one reset execution record.
	AppendResetLog(ctx context.Context, entry *models.ResetLogEntry) error

	// AppendAction appends one enforcement action record.
	AppendAction(ctx context.Context, rec *models.EnforcementActionRecord) error
	// LoadActions returns enforcement actions for an account, oldest
	// first, capped at limit (0 means no cap).
	LoadActions(ctx context.Context, accountID string, limit int) ([]*models.EnforcementActionRecord, error)

	// SaveDailyPnL upserts an account's intraday P&L snapshot.
	SaveDailyPnL(ctx context.Context, snap *models.DailyPnLSnapshot) error
	// LoadDailyPnL returns all persisted snapshots.
	LoadDailyPnL(ctx context.Context) ([]*models.DailyPnLSnapshot, error)

	Close() error
}
