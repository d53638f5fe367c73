package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

// OrderRateRule imposes a cooldown when an account executes more than
// maxOrders fills inside a sliding window. It is session scoped: fills
// outside a tradable session do not accumulate.
type OrderRateRule struct {
	id        string
	maxOrders int
	window    time.Duration
	cooldown  time.Duration
	sessions  SessionGate
	now       func() time.Time

	mu    sync.Mutex
	fills map[string][]time.Time
}

// NewOrderRateRule builds the rule. now supplies the clock so the
// window slides deterministically in tests.
func NewOrderRateRule(id string, maxOrders int, window, cooldown time.Duration, sessions SessionGate, now func() time.Time) *OrderRateRule {
	return &OrderRateRule{
		id:        id,
		maxOrders: maxOrders,
		window:    window,
		cooldown:  cooldown,
		sessions:  sessions,
		now:       now,
		fills:     make(map[string][]time.Time),
	}
}

func (r *OrderRateRule) ID() string         { return r.id }
func (r *OrderRateRule) Category() Category { return CategoryCooldown }

func (r *OrderRateRule) EventTypes() []events.Type {
	return []events.Type{events.TypeFill}
}

func (r *OrderRateRule) Evaluate(evt *events.Event) (*Violation, error) {
	if evt.Fill == nil {
		return nil, nil
	}
	now := r.now()
	if r.sessions != nil && !r.sessions.InSession(now) {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	recent := r.fills[evt.AccountID][:0]
	for _, ts := range r.fills[evt.AccountID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	r.fills[evt.AccountID] = recent

	if len(recent) <= r.maxOrders {
		return nil, nil
	}
	r.fills[evt.AccountID] = nil
	return &Violation{
		RuleID:   r.id,
		Category: CategoryCooldown,
		Cooldown: r.cooldown,
		Reason:   fmt.Sprintf("%d fills inside %s exceeds limit of %d", len(recent), r.window, r.maxOrders),
	}, nil
}

func (r *OrderRateRule) ResetAccount(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fills, account)
}
