// Package pnl tracks per-account intraday state: realized P&L by
// symbol, open positions and last quotes. Snapshots are persisted best
// effort; losing one costs accuracy until the next reset, never lockout
// correctness.
package pnl

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/clock"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/session"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/store"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

const flushInterval = 5 * time.Second

// PositionView is a read-only snapshot of one open position.
type PositionView struct {
	Symbol   string
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
}

type accountState struct {
	realized  map[string]decimal.Decimal
	positions map[string]events.Position
	quotes    map[string]decimal.Decimal
	dirty     bool
}

// Tracker is the in-memory P&L arena.
type Tracker struct {
	logger *zap.Logger
	cal    *session.Calendar
	clock  clock.Clock
	store  store.Store

	mu       sync.RWMutex
	accounts map[string]*accountState

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewTracker creates an empty tracker. store may be nil to disable
// snapshots.
func NewTracker(cal *session.Calendar, clk clock.Clock, st store.Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:   logger.With(zap.String("component", "pnl")),
		cal:      cal,
		clock:    clk,
		store:    st,
		accounts: make(map[string]*accountState),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Restore loads persisted snapshots, keeping only those from the
// current trading day. Stale snapshots are discarded.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	snaps, err := t.store.LoadDailyPnL(ctx)
	if err != nil {
		return err
	}
	today := t.cal.TradingDay(t.clock.Now())

	t.mu.Lock()
	defer t.mu.Unlock()
	restored, discarded := 0, 0
	for _, snap := range snaps {
		if snap.TradingDay != today {
			discarded++
			continue
		}
		state := t.stateLocked(snap.AccountID)
		for sym, amount := range snap.RealizedBySymbol {
			state.realized[sym] = amount
		}
		restored++
	}
	t.logger.Info("Restored pnl snapshots",
		zap.Int("restored", restored),
		zap.Int("discarded_stale", discarded))
	return nil
}

// Start launches the periodic snapshot flusher.
func (t *Tracker) Start() {
	go t.flushLoop()
}

// Stop flushes once more and halts the flusher.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		<-t.doneCh
	})
}

func (t *Tracker) flushLoop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.flush()
		case <-t.stopCh:
			t.flush()
			return
		}
	}
}

// flush persists dirty snapshots. Failures are logged and retried on
// the next pass; snapshot durability is best effort.
func (t *Tracker) flush() {
	if t.store == nil {
		return
	}
	now := t.clock.Now()
	day := t.cal.TradingDay(now)

	t.mu.RLock()
	var pending []*models.DailyPnLSnapshot
	var dirtyAccounts []string
	for account, state := range t.accounts {
		if !state.dirty {
			continue
		}
		realized := make(map[string]decimal.Decimal, len(state.realized))
		for sym, amount := range state.realized {
			realized[sym] = amount
		}
		pending = append(pending, &models.DailyPnLSnapshot{
			AccountID:        account,
			TradingDay:       day,
			RealizedBySymbol: realized,
			UpdatedAt:        now,
		})
		dirtyAccounts = append(dirtyAccounts, account)
	}
	t.mu.RUnlock()

	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), store.OpTimeout)
	defer cancel()
	saved := make(map[string]bool, len(pending))
	for _, snap := range pending {
		if err := t.store.SaveDailyPnL(ctx, snap); err != nil {
			t.logger.Warn("Snapshot save failed",
				zap.String("account_id", snap.AccountID),
				zap.Error(err))
			continue
		}
		saved[snap.AccountID] = true
	}

	t.mu.Lock()
	for _, account := range dirtyAccounts {
		if state, ok := t.accounts[account]; ok && saved[account] {
			state.dirty = false
		}
	}
	t.mu.Unlock()
}

func (t *Tracker) stateLocked(account string) *accountState {
	state, ok := t.accounts[account]
	if !ok {
		state = &accountState{
			realized:  make(map[string]decimal.Decimal),
			positions: make(map[string]events.Position),
			quotes:    make(map[string]decimal.Decimal),
		}
		t.accounts[account] = state
	}
	return state
}

// ApplyFill folds a fill into the account's realized P&L. Fills without
// a reported realized amount leave the total untouched.
func (t *Tracker) ApplyFill(evt *events.Event) {
	if evt.Fill == nil || evt.Fill.RealizedPnL == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.stateLocked(evt.AccountID)
	state.realized[evt.Symbol] = state.realized[evt.Symbol].Add(*evt.Fill.RealizedPnL)
	state.dirty = true
}

// ApplyPosition records a position snapshot. A zero size removes the
// open position.
func (t *Tracker) ApplyPosition(evt *events.Event) {
	if evt.Position == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.stateLocked(evt.AccountID)
	if evt.Position.Size.IsZero() {
		delete(state.positions, evt.Symbol)
		return
	}
	state.positions[evt.Symbol] = *evt.Position
}

// ApplyQuote records the last traded price for a symbol. Quotes update
// every account holding the symbol is evaluated against, so they are
// stored per account.
func (t *Tracker) ApplyQuote(evt *events.Event) {
	if evt.Quote == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.stateLocked(evt.AccountID)
	state.quotes[evt.Symbol] = evt.Quote.Last
}

// RealizedToday returns the account's realized P&L summed over symbols.
func (t *Tracker) RealizedToday(account string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.accounts[account]
	if !ok {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, amount := range state.realized {
		total = total.Add(amount)
	}
	return total
}

// Unrealized returns the open P&L for one position, computed from the
// last quote. ok is false when there is no position or no quote yet.
func (t *Tracker) Unrealized(account, symbol string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.accounts[account]
	if !ok {
		return decimal.Zero, false
	}
	pos, ok := state.positions[symbol]
	if !ok {
		return decimal.Zero, false
	}
	last, ok := state.quotes[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return last.Sub(pos.AvgPrice).Mul(pos.Size), true
}

// Positions lists the account's open positions.
func (t *Tracker) Positions(account string) []PositionView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.accounts[account]
	if !ok {
		return nil
	}
	out := make([]PositionView, 0, len(state.positions))
	for sym, pos := range state.positions {
		out = append(out, PositionView{Symbol: sym, Size: pos.Size, AvgPrice: pos.AvgPrice})
	}
	return out
}

// HasOpenPosition reports whether the account holds any nonzero
// position.
func (t *Tracker) HasOpenPosition(account string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.accounts[account]
	return ok && len(state.positions) > 0
}

// Accounts lists every account the tracker has seen.
func (t *Tracker) Accounts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.accounts))
	for account := range t.accounts {
		out = append(out, account)
	}
	return out
}

// ResetDay zeroes the account's realized P&L for a new trading day and
// persists the empty snapshot best effort. Open positions and quotes
// carry across the boundary. The realized total at reset is returned
// for the reset log.
func (t *Tracker) ResetDay(ctx context.Context, account, tradingDay string) decimal.Decimal {
	t.mu.Lock()
	state := t.stateLocked(account)
	total := decimal.Zero
	for _, amount := range state.realized {
		total = total.Add(amount)
	}
	state.realized = make(map[string]decimal.Decimal)
	state.dirty = false
	t.mu.Unlock()

	if t.store != nil {
		snap := &models.DailyPnLSnapshot{
			AccountID:        account,
			TradingDay:       tradingDay,
			RealizedBySymbol: map[string]decimal.Decimal{},
			UpdatedAt:        t.clock.Now(),
		}
		if err := t.store.SaveDailyPnL(ctx, snap); err != nil {
			t.logger.Warn("Reset snapshot save failed",
				zap.String("account_id", account),
				zap.Error(err))
		}
	}
	return total
}
