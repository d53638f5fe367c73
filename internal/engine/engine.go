// Package engine drives event evaluation: lockout gate, isolated rule
// runs and category-driven enforcement dispatch.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/audit"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/clock"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/enforce"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/lockout"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/pnl"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/rules"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/session"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/metrics"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

// Engine evaluates every event against the active rule set. Per-account
// work is serialized by an account mutex; different accounts proceed in
// parallel.
type Engine struct {
	logger   *zap.Logger
	clock    clock.Clock
	cal      *session.Calendar
	tracker  *pnl.Tracker
	lockouts *lockout.Manager
	gateway  *enforce.Retrier
	audit    *audit.Recorder

	rulesMu sync.RWMutex
	byType  map[events.Type][]rules.Rule
	all     []rules.Rule

	accountMu sync.Mutex
	accounts  map[string]*sync.Mutex
}

// New wires the engine. Rules are installed with Reload.
func New(clk clock.Clock, cal *session.Calendar, tracker *pnl.Tracker, lockouts *lockout.Manager, gateway *enforce.Retrier, rec *audit.Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		logger:   logger.With(zap.String("component", "engine")),
		clock:    clk,
		cal:      cal,
		tracker:  tracker,
		lockouts: lockouts,
		gateway:  gateway,
		audit:    rec,
		byType:   make(map[events.Type][]rules.Rule),
		accounts: make(map[string]*sync.Mutex),
	}
}

// Reload atomically swaps the rule set. Evaluations already running
// finish against the set they started with.
func (e *Engine) Reload(ruleSet []rules.Rule) {
	byType := make(map[events.Type][]rules.Rule)
	for _, r := range ruleSet {
		for _, t := range r.EventTypes() {
			byType[t] = append(byType[t], r)
		}
	}
	e.rulesMu.Lock()
	e.all = ruleSet
	e.byType = byType
	e.rulesMu.Unlock()
	e.logger.Info("Rule set installed", zap.Int("rules", len(ruleSet)))
}

// ResetAccount clears every rule's mutable state for one account.
func (e *Engine) ResetAccount(account string) {
	e.rulesMu.RLock()
	ruleSet := e.all
	e.rulesMu.RUnlock()
	for _, r := range ruleSet {
		r.ResetAccount(account)
	}
}

// AttachBus subscribes the engine to the three event streams.
func (e *Engine) AttachBus(bus *events.Bus) {
	for _, t := range []events.Type{events.TypeFill, events.TypePosition, events.TypeQuote} {
		bus.Subscribe(t, "engine", e.Evaluate)
	}
}

func (e *Engine) accountLock(account string) *sync.Mutex {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	mu, ok := e.accounts[account]
	if !ok {
		mu = &sync.Mutex{}
		e.accounts[account] = mu
	}
	return mu
}

// Evaluate processes one event end to end: fold it into account state,
// gate on lockout, run the subscribed rules and dispatch violations.
func (e *Engine) Evaluate(evt *events.Event) {
	start := time.Now()
	defer func() {
		metrics.EvaluationLatency.Observe(time.Since(start).Seconds())
	}()

	if err := evt.Validate(); err != nil {
		e.logger.Warn("Dropping malformed event", zap.Error(err))
		return
	}

	lock := e.accountLock(evt.AccountID)
	lock.Lock()
	defer lock.Unlock()

	growing := e.applyToState(evt)

	if e.lockouts.IsLockedOut(evt.AccountID) {
		if growing {
			e.flattenLocked(evt)
		}
		return
	}

	violations := e.runRules(evt)
	for _, v := range violations {
		e.dispatch(evt, v)
	}
}

// applyToState folds the event into the P&L arena. For position events
// it reports whether the position is new or grew, judged against the
// size tracked before this event.
func (e *Engine) applyToState(evt *events.Event) bool {
	switch evt.Type {
	case events.TypeFill:
		e.tracker.ApplyFill(evt)
		return false
	case events.TypeQuote:
		e.tracker.ApplyQuote(evt)
		return false
	case events.TypePosition:
		prev := decimal.Zero
		for _, pos := range e.tracker.Positions(evt.AccountID) {
			if pos.Symbol == evt.Symbol {
				prev = pos.Size.Abs()
			}
		}
		e.tracker.ApplyPosition(evt)
		return evt.Position.Size.Abs().GreaterThan(prev)
	}
	return false
}

// flattenLocked closes a position opened or grown under lockout. No
// rule runs for the event.
func (e *Engine) flattenLocked(evt *events.Event) {
	e.logger.Warn("Position change on locked account, flattening",
		zap.String("account_id", evt.AccountID),
		zap.String("symbol", evt.Symbol))

	ctx := context.Background()
	err := e.gateway.ClosePosition(ctx, evt.AccountID, evt.Symbol)
	e.record(ctx, &models.EnforcementActionRecord{
		ID:         uuid.New(),
		AccountID:  evt.AccountID,
		ActionType: models.ActionFlattenLocked,
		Symbol:     evt.Symbol,
		Reason:     "position opened or grown while locked out",
		Escalated:  err != nil,
		CreatedAt:  e.clock.Now(),
	})
}

// runRules evaluates every rule subscribed to the event type inside an
// isolating boundary. A faulting rule is logged and skipped; the rest
// still run.
func (e *Engine) runRules(evt *events.Event) []*rules.Violation {
	e.rulesMu.RLock()
	ruleSet := e.byType[evt.Type]
	e.rulesMu.RUnlock()

	var violations []*rules.Violation
	for _, r := range ruleSet {
		if v := e.evaluateOne(r, evt); v != nil {
			metrics.Violations.WithLabelValues(v.RuleID).Inc()
			violations = append(violations, v)
		}
	}
	return violations
}

func (e *Engine) evaluateOne(r rules.Rule, evt *events.Event) (violation *rules.Violation) {
	defer func() {
		if rec := recover(); rec != nil {
			violation = nil
			metrics.RuleFaults.WithLabelValues(r.ID()).Inc()
			e.logger.Error("Rule panicked",
				zap.String("rule", r.ID()),
				zap.String("account_id", evt.AccountID),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	v, err := r.Evaluate(evt)
	if err != nil {
		metrics.RuleFaults.WithLabelValues(r.ID()).Inc()
		e.logger.Error("Rule evaluation failed",
			zap.String("rule", r.ID()),
			zap.String("account_id", evt.AccountID),
			zap.Error(err))
		return nil
	}
	return v
}

// dispatch executes the enforcement path selected by the violation's
// category.
func (e *Engine) dispatch(evt *events.Event, v *rules.Violation) {
	ctx := context.Background()
	e.logger.Warn("Rule violated",
		zap.String("rule", v.RuleID),
		zap.String("category", string(v.Category)),
		zap.String("account_id", evt.AccountID),
		zap.String("reason", v.Reason))

	switch v.Category {
	case rules.CategoryTradeByTrade:
		e.closeOne(ctx, evt.AccountID, v)
	case rules.CategoryHardLockout:
		e.hardLockout(ctx, evt.AccountID, v)
	case rules.CategoryCooldown:
		e.cooldown(ctx, evt.AccountID, v)
	default:
		// Build validation makes this unreachable for loaded rules.
		e.logger.Error("Violation with unknown category dropped",
			zap.String("rule", v.RuleID),
			zap.String("category", string(v.Category)))
	}
}

// closeOne flattens only the implicated position. The account is not
// locked.
func (e *Engine) closeOne(ctx context.Context, account string, v *rules.Violation) {
	err := e.gateway.ClosePosition(ctx, account, v.Symbol)
	e.record(ctx, &models.EnforcementActionRecord{
		ID:         uuid.New(),
		AccountID:  account,
		ActionType: models.ActionClosePosition,
		RuleID:     v.RuleID,
		Symbol:     v.Symbol,
		Reason:     v.Reason,
		Escalated:  err != nil,
		CreatedAt:  e.clock.Now(),
	})
}

// hardLockout flattens the account, cancels working orders and locks
// until the next daily reset. Closes run before the lock is recorded.
func (e *Engine) hardLockout(ctx context.Context, account string, v *rules.Violation) {
	now := e.clock.Now()

	closeErr := e.gateway.CloseAll(ctx, account)
	e.record(ctx, &models.EnforcementActionRecord{
		ID:         uuid.New(),
		AccountID:  account,
		ActionType: models.ActionCloseAll,
		RuleID:     v.RuleID,
		Reason:     v.Reason,
		Escalated:  closeErr != nil,
		CreatedAt:  now,
	})

	cancelErr := e.gateway.CancelAllOrders(ctx, account)
	e.record(ctx, &models.EnforcementActionRecord{
		ID:         uuid.New(),
		AccountID:  account,
		ActionType: models.ActionCancelAllOrders,
		RuleID:     v.RuleID,
		Reason:     v.Reason,
		Escalated:  cancelErr != nil,
		CreatedAt:  now,
	})

	expiry := e.cal.NextReset(now)
	_, lockErr := e.lockouts.SetLockout(ctx, account, models.LockoutKindHard, v.RuleID, v.Reason, expiry)
	e.record(ctx, &models.EnforcementActionRecord{
		ID:         uuid.New(),
		AccountID:  account,
		ActionType: models.ActionLockout,
		RuleID:     v.RuleID,
		Reason:     fmt.Sprintf("%s; locked until %s", v.Reason, expiry.Format(time.RFC3339)),
		Escalated:  lockErr != nil,
		CreatedAt:  now,
	})
}

// cooldown locks for the violation's duration. Positions are left
// alone.
func (e *Engine) cooldown(ctx context.Context, account string, v *rules.Violation) {
	now := e.clock.Now()
	expiry := now.Add(v.Cooldown)
	_, lockErr := e.lockouts.SetLockout(ctx, account, models.LockoutKindCooldown, v.RuleID, v.Reason, expiry)
	e.record(ctx, &models.EnforcementActionRecord{
		ID:         uuid.New(),
		AccountID:  account,
		ActionType: models.ActionLockout,
		RuleID:     v.RuleID,
		Reason:     fmt.Sprintf("%s; cooldown until %s", v.Reason, expiry.Format(time.RFC3339)),
		Escalated:  lockErr != nil,
		CreatedAt:  now,
	})
}

func (e *Engine) record(ctx context.Context, rec *models.EnforcementActionRecord) {
	e.audit.Record(ctx, rec)
}
