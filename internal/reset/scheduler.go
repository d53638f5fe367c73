// Package reset runs the daily boundary: once per trading day and
// account it zeroes intraday P&L, clears rule state and lockouts, and
// records the execution.
package reset

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/clock"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/lockout"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/pnl"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/session"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/store"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/metrics"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

// DefaultCheckInterval is how often the scheduler compares the clock
// against the reset boundary. Precision requirements are loose; a reset
// lands within one tick of its boundary.
const DefaultCheckInterval = time.Minute

// RuleResetter clears per-account rule state at the boundary. The rule
// engine satisfies this.
type RuleResetter interface {
	ResetAccount(account string)
}

// Scheduler fires at most one reset per account and trading date. The
// guard is the persisted last-reset date, compared before acting, so a
// restart mid-day does not repeat a reset that already ran.
type Scheduler struct {
	logger   *zap.Logger
	clock    clock.Clock
	cal      *session.Calendar
	store    store.Store
	tracker  *pnl.Tracker
	lockouts *lockout.Manager
	resetter RuleResetter

	interval   time.Duration
	configured []string

	mu        sync.Mutex
	lastReset map[string]string

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler wires the boundary job. accounts lists the statically
// configured account ids; accounts discovered at runtime through the
// tracker or an active lockout are covered as well.
func NewScheduler(
	cal *session.Calendar,
	clk clock.Clock,
	st store.Store,
	tracker *pnl.Tracker,
	lockouts *lockout.Manager,
	resetter RuleResetter,
	accounts []string,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Scheduler{
		logger:     logger.With(zap.String("component", "reset")),
		clock:      clk,
		cal:        cal,
		store:      st,
		tracker:    tracker,
		lockouts:   lockouts,
		resetter:   resetter,
		interval:   interval,
		configured: accounts,
		lastReset:  make(map[string]string),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// InitAtStartup loads the persisted last-reset dates and runs one check
// pass. Accounts never seen before adopt the current boundary date
// without firing; accounts whose persisted date predates the current
// boundary get the reset they missed while the daemon was down.
func (s *Scheduler) InitAtStartup(ctx context.Context) error {
	persisted, err := s.store.LoadLastResets(ctx)
	if err != nil {
		return fmt.Errorf("load last resets: %w", err)
	}
	s.mu.Lock()
	for account, date := range persisted {
		s.lastReset[account] = date
	}
	s.mu.Unlock()

	s.Check(ctx)
	return nil
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.safeCheck(context.Background())
		}
	}
}

func (s *Scheduler) safeCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Reset check panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	s.Check(ctx)
}

// Check is one idempotent pass: for every known account it compares the
// recorded last-reset date against the date of the most recent boundary
// and fires the reset when the record is older. Running Check twice
// inside the same trading day fires at most once per account.
func (s *Scheduler) Check(ctx context.Context) {
	now := s.clock.Now()
	date := s.cal.Date(s.cal.LastReset(now))

	for _, account := range s.universe() {
		s.mu.Lock()
		last, known := s.lastReset[account]
		s.mu.Unlock()

		switch {
		case !known:
			// First sighting. The account's day started under the
			// current boundary; there is nothing to reset yet.
			s.adopt(ctx, account, date)
		case last >= date:
			// Already reset for this boundary.
		default:
			s.fire(ctx, account, date, now)
		}
	}
}

// universe is the union of configured accounts, accounts with tracked
// P&L state, accounts holding an active lockout and accounts with a
// recorded last-reset date.
func (s *Scheduler) universe() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(account string) {
		if account == "" {
			return
		}
		if _, ok := seen[account]; ok {
			return
		}
		seen[account] = struct{}{}
		out = append(out, account)
	}
	for _, a := range s.configured {
		add(a)
	}
	for _, a := range s.tracker.Accounts() {
		add(a)
	}
	for _, rec := range s.lockouts.Active() {
		add(rec.AccountID)
	}
	s.mu.Lock()
	for a := range s.lastReset {
		add(a)
	}
	s.mu.Unlock()
	return out
}

func (s *Scheduler) adopt(ctx context.Context, account, date string) {
	s.setLast(account, date)
	if err := s.store.SaveLastReset(ctx, account, date); err != nil {
		metrics.Escalations.WithLabelValues("store").Inc()
		s.logger.Error("Persisting adopted reset date failed",
			zap.String("account_id", account),
			zap.String("reset_date", date),
			zap.Error(err))
		return
	}
	s.logger.Info("Adopted reset date for new account",
		zap.String("account_id", account),
		zap.String("reset_date", date))
}

// fire runs one reset. The in-memory date is advanced even when the
// persist fails, so a store outage costs at most one duplicate reset
// after a restart rather than one per tick.
func (s *Scheduler) fire(ctx context.Context, account, date string, now time.Time) {
	prior := s.tracker.ResetDay(ctx, account, date)
	s.resetter.ResetAccount(account)

	cleared, err := s.lockouts.ClearForReset(ctx, account)
	if err != nil {
		s.logger.Warn("Lockout clear during reset reported an error",
			zap.String("account_id", account),
			zap.Error(err))
	}

	entry := &models.ResetLogEntry{
		ID:                 uuid.New(),
		AccountID:          account,
		ResetDate:          date,
		FiredAt:            now,
		LockoutCleared:     cleared,
		RealizedPnLAtReset: prior,
	}
	if err := s.store.AppendResetLog(ctx, entry); err != nil {
		s.logger.Warn("Reset log append failed",
			zap.String("account_id", account),
			zap.Error(err))
	}

	s.setLast(account, date)
	if err := s.store.SaveLastReset(ctx, account, date); err != nil {
		metrics.Escalations.WithLabelValues("store").Inc()
		s.logger.Error("Persisting reset date failed",
			zap.String("account_id", account),
			zap.String("reset_date", date),
			zap.Error(err))
	}

	metrics.ResetsFired.Inc()
	s.logger.Info("Daily reset fired",
		zap.String("account_id", account),
		zap.String("reset_date", date),
		zap.Bool("lockout_cleared", cleared),
		zap.String("realized_pnl", prior.String()))
}

func (s *Scheduler) setLast(account, date string) {
	s.mu.Lock()
	s.lastReset[account] = date
	s.mu.Unlock()
}
