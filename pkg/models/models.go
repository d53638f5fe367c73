package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lockout kinds. The kind records why an account is locked and how the
// expiry was resolved; enforcement behavior is driven by the rule
// category at violation time, not by the kind.
const (
	LockoutKindHard     = "hard"
	LockoutKindCooldown = "cooldown"
	LockoutKindManual   = "manual"
)

// LockoutRecord represents the persisted lockout state of one account.
// At most one active record exists per account; ExpiresAt is always an
// absolute instant resolved when the lockout was created or extended.
type LockoutRecord struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	AccountID string    `json:"account_id" gorm:"uniqueIndex" validate:"required,max=64"`
	Kind      string    `json:"kind" validate:"required,oneof=hard cooldown manual"`
	RuleID    string    `json:"rule_id" validate:"omitempty,max=64"`
	Reason    string    `json:"reason" validate:"required,max=500"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

// Active reports whether the record still binds at the given instant.
func (r *LockoutRecord) Active(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// Enforcement action types.
const (
	ActionClosePosition   = "close_position"
	ActionCloseAll        = "close_all"
	ActionCancelAllOrders = "cancel_all_orders"
	ActionLockout         = "lockout"
	ActionManualUnlock    = "manual_unlock"
	ActionFlattenLocked   = "flatten_locked"
)

// EnforcementActionRecord represents one corrective action taken against
// an account. Records are write-once.
type EnforcementActionRecord struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	AccountID  string    `json:"account_id" gorm:"index" validate:"required,max=64"`
	ActionType string    `json:"action_type" validate:"required,oneof=close_position close_all cancel_all_orders lockout manual_unlock flatten_locked"`
	RuleID     string    `json:"rule_id" validate:"omitempty,max=64"`
	Symbol     string    `json:"symbol" validate:"omitempty,max=32"`
	Reason     string    `json:"reason" validate:"required,max=500"`
	Escalated  bool      `json:"escalated"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResetLogEntry represents one daily-reset execution for one account.
type ResetLogEntry struct {
	ID                 uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	AccountID          string          `json:"account_id" gorm:"index" validate:"required,max=64"`
	ResetDate          string          `json:"reset_date" validate:"required,len=10"` // YYYY-MM-DD in the reset zone
	FiredAt            time.Time       `json:"fired_at"`
	LockoutCleared     bool            `json:"lockout_cleared"`
	RealizedPnLAtReset decimal.Decimal `json:"realized_pnl_at_reset" gorm:"type:numeric"`
}

// DailyPnLSnapshot represents the best-effort persisted view of one
// account's intraday P&L. Losing a snapshot costs accuracy until the
// next reset, never correctness of lockout state.
type DailyPnLSnapshot struct {
	AccountID        string                     `json:"account_id" gorm:"primaryKey" validate:"required,max=64"`
	TradingDay       string                     `json:"trading_day" validate:"required,len=10"` // YYYY-MM-DD in the reset zone
	RealizedBySymbol map[string]decimal.Decimal `json:"realized_by_symbol" gorm:"serializer:json"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// RealizedTotal sums realized P&L across symbols.
func (s *DailyPnLSnapshot) RealizedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s.RealizedBySymbol {
		total = total.Add(v)
	}
	return total
}
