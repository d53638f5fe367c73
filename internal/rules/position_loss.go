package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

// PositionLossRule closes a single position whose open loss goes
// strictly past the limit. It never locks the account.
type PositionLossRule struct {
	id    string
	limit decimal.Decimal
	pnl   PnLReader
}

// NewPositionLossRule builds the rule with a positive limit.
func NewPositionLossRule(id string, limit decimal.Decimal, pnl PnLReader) *PositionLossRule {
	return &PositionLossRule{id: id, limit: limit, pnl: pnl}
}

func (r *PositionLossRule) ID() string         { return r.id }
func (r *PositionLossRule) Category() Category { return CategoryTradeByTrade }

func (r *PositionLossRule) EventTypes() []events.Type {
	return []events.Type{events.TypeQuote, events.TypePosition}
}

// Evaluate marks the event's symbol as the implicated position. Without
// both an open position and a quote there is nothing to measure.
func (r *PositionLossRule) Evaluate(evt *events.Event) (*Violation, error) {
	upl, ok := r.pnl.Unrealized(evt.AccountID, evt.Symbol)
	if !ok {
		return nil, nil
	}
	if !Breached(upl, r.limit) {
		return nil, nil
	}
	return &Violation{
		RuleID:   r.id,
		Category: CategoryTradeByTrade,
		Symbol:   evt.Symbol,
		Reason:   fmt.Sprintf("open loss %s on %s past limit -%s", upl, evt.Symbol, r.limit),
	}, nil
}

func (r *PositionLossRule) ResetAccount(string) {}
