package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

// DailyRealizedLossRule locks an account for the rest of the trading
// day once its realized losses go strictly past the configured limit.
type DailyRealizedLossRule struct {
	id    string
	limit decimal.Decimal
	pnl   PnLReader
}

// NewDailyRealizedLossRule builds the rule with a positive limit.
func NewDailyRealizedLossRule(id string, limit decimal.Decimal, pnl PnLReader) *DailyRealizedLossRule {
	return &DailyRealizedLossRule{id: id, limit: limit, pnl: pnl}
}

func (r *DailyRealizedLossRule) ID() string         { return r.id }
func (r *DailyRealizedLossRule) Category() Category { return CategoryHardLockout }

func (r *DailyRealizedLossRule) EventTypes() []events.Type {
	return []events.Type{events.TypeFill}
}

// Evaluate runs after the fill has been folded into the day's realized
// total. Fills that report no realized amount never trigger it.
func (r *DailyRealizedLossRule) Evaluate(evt *events.Event) (*Violation, error) {
	if evt.Fill == nil || evt.Fill.RealizedPnL == nil {
		return nil, nil
	}
	total := r.pnl.RealizedToday(evt.AccountID)
	if !Breached(total, r.limit) {
		return nil, nil
	}
	return &Violation{
		RuleID:   r.id,
		Category: CategoryHardLockout,
		Reason:   fmt.Sprintf("daily realized loss %s past limit -%s", total, r.limit),
	}, nil
}

func (r *DailyRealizedLossRule) ResetAccount(string) {}
