package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

// LossStreakRule imposes a cooldown after a run of consecutive losing
// fills. Any winning or flat fill breaks the run; fills that report no
// realized amount leave it untouched.
type LossStreakRule struct {
	id       string
	length   int
	cooldown time.Duration

	mu      sync.Mutex
	streaks map[string]int
}

// NewLossStreakRule builds the rule. length is the streak that trips
// it; cooldown is the resulting lock duration.
func NewLossStreakRule(id string, length int, cooldown time.Duration) *LossStreakRule {
	return &LossStreakRule{
		id:       id,
		length:   length,
		cooldown: cooldown,
		streaks:  make(map[string]int),
	}
}

func (r *LossStreakRule) ID() string         { return r.id }
func (r *LossStreakRule) Category() Category { return CategoryCooldown }

func (r *LossStreakRule) EventTypes() []events.Type {
	return []events.Type{events.TypeFill}
}

func (r *LossStreakRule) Evaluate(evt *events.Event) (*Violation, error) {
	if evt.Fill == nil || evt.Fill.RealizedPnL == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if evt.Fill.RealizedPnL.Sign() >= 0 {
		r.streaks[evt.AccountID] = 0
		return nil, nil
	}

	r.streaks[evt.AccountID]++
	streak := r.streaks[evt.AccountID]
	if streak < r.length {
		return nil, nil
	}
	// Tripping the rule consumes the streak; the next loss starts a
	// fresh count after the cooldown.
	r.streaks[evt.AccountID] = 0
	return &Violation{
		RuleID:   r.id,
		Category: CategoryCooldown,
		Cooldown: r.cooldown,
		Reason:   fmt.Sprintf("%d consecutive losing trades", streak),
	}, nil
}

func (r *LossStreakRule) ResetAccount(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streaks, account)
}
