// Package rules defines the rule taxonomy and the concrete limit rules.
// A rule's category is fixed at load time and is the only thing that
// selects its enforcement path.
package rules

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

// Category is the closed set of enforcement behaviors.
type Category string

const (
	// CategoryTradeByTrade closes only the offending position. No
	// lockout.
	CategoryTradeByTrade Category = "trade_by_trade"
	// CategoryHardLockout flattens the account, cancels working orders
	// and locks until the next daily reset.
	CategoryHardLockout Category = "hard_lockout"
	// CategoryCooldown locks for a fixed duration without touching
	// positions.
	CategoryCooldown Category = "cooldown"
)

// Violation is one detected breach. Symbol names the implicated
// position for trade-by-trade rules; Cooldown carries the lock duration
// for cooldown rules.
type Violation struct {
	RuleID   string
	Category Category
	Reason   string
	Symbol   string
	Cooldown time.Duration
}

// Rule evaluates events for one account at a time. Implementations own
// their mutable per-account state and must guard it; evaluation for a
// single account is serialized by the engine, but ResetAccount can
// arrive concurrently from the reset scheduler.
type Rule interface {
	ID() string
	Category() Category
	// EventTypes lists the event types this rule wants to see.
	EventTypes() []events.Type
	// Evaluate returns a non-nil Violation on breach. Errors and panics
	// are contained by the engine and never affect other rules.
	Evaluate(evt *events.Event) (*Violation, error)
	// ResetAccount clears the rule's mutable state for one account at
	// the daily boundary.
	ResetAccount(account string)
}

// Rule types accepted in configuration.
const (
	TypeDailyRealizedLoss = "daily_realized_loss"
	TypePositionLoss      = "position_loss"
	TypeLossStreak        = "loss_streak"
	TypeOrderRate         = "order_rate"
)

// Definition is the serialized form of one rule in configuration.
type Definition struct {
	ID      string `mapstructure:"id" yaml:"id" validate:"required,max=64"`
	Type    string `mapstructure:"type" yaml:"type" validate:"required,oneof=daily_realized_loss position_loss loss_streak order_rate"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`

	// Limit is the positive loss threshold for loss rules. Breaching
	// means being strictly worse than -Limit.
	Limit string `mapstructure:"limit" yaml:"limit" validate:"omitempty"`
	// Streak is the consecutive-loss count for loss_streak.
	Streak int `mapstructure:"streak" yaml:"streak" validate:"omitempty,min=2"`
	// Cooldown is the lock duration for cooldown-category rules.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown" validate:"omitempty,min=1s"`
	// MaxOrders and Window configure order_rate.
	MaxOrders int           `mapstructure:"max_orders" yaml:"max_orders" validate:"omitempty,min=1"`
	Window    time.Duration `mapstructure:"window" yaml:"window" validate:"omitempty,min=1s"`
}

// Deps carries the read surfaces rules evaluate against.
type Deps struct {
	PnL      PnLReader
	Sessions SessionGate
	Now      func() time.Time
}

// PnLReader is the slice of the P&L tracker rules read.
type PnLReader interface {
	RealizedToday(account string) (total decimal.Decimal)
	Unrealized(account, symbol string) (decimal.Decimal, bool)
}

// SessionGate reports whether an instant is inside a tradable session.
type SessionGate interface {
	InSession(t time.Time) bool
}

// Build constructs rules from definitions. A malformed definition
// disables that rule and is reported in the returned list of load
// errors; valid rules still run. Running a rule with an undefined
// category is never possible past this point.
func Build(defs []Definition, deps Deps, logger *zap.Logger) ([]Rule, []error) {
	validate := validator.New()
	var built []Rule
	var faults []error

	for _, def := range defs {
		if !def.Enabled {
			logger.Info("Rule disabled by configuration", zap.String("rule", def.ID))
			continue
		}
		rule, err := buildOne(def, deps, validate)
		if err != nil {
			err = fmt.Errorf("rule %q disabled: %w", def.ID, err)
			logger.Error("Rejected rule definition", zap.Error(err))
			faults = append(faults, err)
			continue
		}
		built = append(built, rule)
		logger.Info("Loaded rule",
			zap.String("rule", rule.ID()),
			zap.String("category", string(rule.Category())))
	}
	return built, faults
}

func buildOne(def Definition, deps Deps, validate *validator.Validate) (Rule, error) {
	if err := validate.Struct(def); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	switch def.Type {
	case TypeDailyRealizedLoss:
		limit, err := parseLimit(def.Limit)
		if err != nil {
			return nil, err
		}
		return NewDailyRealizedLossRule(def.ID, limit, deps.PnL), nil
	case TypePositionLoss:
		limit, err := parseLimit(def.Limit)
		if err != nil {
			return nil, err
		}
		return NewPositionLossRule(def.ID, limit, deps.PnL), nil
	case TypeLossStreak:
		if def.Streak < 2 {
			return nil, fmt.Errorf("streak must be at least 2")
		}
		if def.Cooldown <= 0 {
			return nil, fmt.Errorf("cooldown required")
		}
		return NewLossStreakRule(def.ID, def.Streak, def.Cooldown), nil
	case TypeOrderRate:
		if def.MaxOrders < 1 || def.Window <= 0 {
			return nil, fmt.Errorf("max_orders and window required")
		}
		if def.Cooldown <= 0 {
			return nil, fmt.Errorf("cooldown required")
		}
		return NewOrderRateRule(def.ID, def.MaxOrders, def.Window, def.Cooldown, deps.Sessions, deps.Now), nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", def.Type)
	}
}

func parseLimit(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("limit required")
	}
	limit, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("limit %q: %w", s, err)
	}
	if limit.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("limit %q: must be positive", s)
	}
	return limit, nil
}

// Breached applies the shared boundary policy: a total breaches a
// positive limit only strictly past it. Exactly at the limit is legal.
func Breached(total, limit decimal.Decimal) bool {
	return total.LessThan(limit.Neg())
}
