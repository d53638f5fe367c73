// Package lockout owns the per-account lockout state machine: UNLOCKED
// and LOCKED, with absolute expiries, crash-safe persistence and
// timer-driven release.
package lockout

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/clock"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/store"
	"github.com/Jakers471/risk-manager-v34-sub006/internal/timer"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/metrics"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

const timerPrefix = "lockout:"

// Manager coordinates lockout state across the store, the in-memory
// index and the timer registry. Reads are O(1) against the index;
// transitions persist before they index, so a crash between the two
// leaves the restrictive record behind, never a permissive gap.
type Manager struct {
	logger *zap.Logger
	store  store.Store
	clock  clock.Clock
	timers *timer.Registry

	mu    sync.RWMutex
	index map[string]*models.LockoutRecord

	accountMu sync.Mutex
	accounts  map[string]*sync.Mutex

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager builds a manager that owns the registry's lifecycle.
func NewManager(st store.Store, clk clock.Clock, timers *timer.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.With(zap.String("component", "lockout")),
		store:    st,
		clock:    clk,
		timers:   timers,
		index:    make(map[string]*models.LockoutRecord),
		accounts: make(map[string]*sync.Mutex),
	}
}

// accountLock returns the transition mutex for one account. Different
// accounts transition in parallel.
func (m *Manager) accountLock(account string) *sync.Mutex {
	m.accountMu.Lock()
	defer m.accountMu.Unlock()
	mu, ok := m.accounts[account]
	if !ok {
		mu = &sync.Mutex{}
		m.accounts[account] = mu
	}
	return mu
}

// Recover loads persisted lockouts, rebuilds the index and re-arms
// timers with the remaining duration. Records already past their expiry
// are cleared immediately; recovering late is not an error.
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.store.LoadLockouts(ctx)
	if err != nil {
		return err
	}
	now := m.clock.Now()

	restored, expired := 0, 0
	for _, rec := range records {
		if !rec.Active(now) {
			expired++
			m.logger.Info("Clearing lockout that expired while down",
				zap.String("account_id", rec.AccountID),
				zap.Time("expired_at", rec.ExpiresAt))
			if err := m.store.DeleteLockout(ctx, rec.AccountID); err != nil {
				m.logger.Warn("Expired lockout cleanup failed",
					zap.String("account_id", rec.AccountID),
					zap.Error(err))
			}
			continue
		}
		m.mu.Lock()
		m.index[rec.AccountID] = rec
		m.mu.Unlock()
		m.timers.RegisterAt(timerPrefix+rec.AccountID, rec.ExpiresAt, rec.AccountID)
		restored++
		m.logger.Info("Restored lockout",
			zap.String("account_id", rec.AccountID),
			zap.String("kind", rec.Kind),
			zap.Duration("remaining", rec.ExpiresAt.Sub(now)))
	}

	m.setGauge()
	m.logger.Info("Lockout recovery complete",
		zap.Int("restored", restored),
		zap.Int("expired_cleared", expired))
	return nil
}

// Start launches the timer registry and the expiry consumer.
func (m *Manager) Start() {
	m.timers.Start()
	m.wg.Add(1)
	go m.expiryLoop()
}

// Stop halts the registry and waits for the consumer to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.timers.Stop()
		m.wg.Wait()
	})
}

func (m *Manager) expiryLoop() {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Expiry loop panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	for exp := range m.timers.Expirations() {
		m.expire(exp.Token)
	}
}

// SetLockout applies the replace-if-longer merge: a new lockout wins
// only if its expiry is strictly later than the active one's. The
// record is persisted before the index and timer are touched. A
// persistence failure after retry is escalated and returned, but the
// in-memory state is applied anyway; a failed store call must never
// leave the account more permissive.
func (m *Manager) SetLockout(ctx context.Context, account, kind, ruleID, reason string, expiresAt time.Time) (bool, error) {
	lock := m.accountLock(account)
	lock.Lock()
	defer lock.Unlock()

	now := m.clock.Now()
	if !expiresAt.After(now) {
		m.logger.Warn("Ignoring lockout with non-future expiry",
			zap.String("account_id", account),
			zap.Time("expires_at", expiresAt))
		return false, nil
	}

	m.mu.RLock()
	existing := m.index[account]
	m.mu.RUnlock()
	if existing != nil && existing.Active(now) && !expiresAt.After(existing.ExpiresAt) {
		m.logger.Info("Keeping longer lockout",
			zap.String("account_id", account),
			zap.Time("kept_expiry", existing.ExpiresAt),
			zap.Time("discarded_expiry", expiresAt))
		return false, nil
	}

	rec := &models.LockoutRecord{
		ID:        uuid.New(),
		AccountID: account,
		Kind:      kind,
		RuleID:    ruleID,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	persistErr := m.persist(ctx, func(c context.Context) error {
		return m.store.SaveLockout(c, rec)
	})

	m.mu.Lock()
	m.index[account] = rec
	m.mu.Unlock()
	m.timers.RegisterAt(timerPrefix+account, expiresAt, account)
	m.setGauge()

	m.logger.Warn("Account locked out",
		zap.String("account_id", account),
		zap.String("kind", kind),
		zap.String("rule", ruleID),
		zap.String("reason", reason),
		zap.Time("expires_at", expiresAt))
	return true, persistErr
}

// IsLockedOut answers from the index alone: locked iff an active record
// with a future expiry exists. It never blocks on storage or timers.
func (m *Manager) IsLockedOut(account string) bool {
	m.mu.RLock()
	rec := m.index[account]
	m.mu.RUnlock()
	return rec != nil && rec.Active(m.clock.Now())
}

// Status returns a copy of the account's active record.
func (m *Manager) Status(account string) (models.LockoutRecord, bool) {
	m.mu.RLock()
	rec := m.index[account]
	m.mu.RUnlock()
	if rec == nil || !rec.Active(m.clock.Now()) {
		return models.LockoutRecord{}, false
	}
	return *rec, true
}

// Active lists every account with an active lockout.
func (m *Manager) Active() []models.LockoutRecord {
	now := m.clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LockoutRecord, 0, len(m.index))
	for _, rec := range m.index {
		if rec.Active(now) {
			out = append(out, *rec)
		}
	}
	return out
}

// Clear removes a lockout on operator request and appends a
// manual-unlock audit record. It reports whether a lockout was present.
func (m *Manager) Clear(ctx context.Context, account, reason string) (bool, error) {
	cleared, err := m.release(ctx, account, "manual clear: "+reason)
	if !cleared {
		return false, err
	}
	audit := &models.EnforcementActionRecord{
		ID:         uuid.New(),
		AccountID:  account,
		ActionType: models.ActionManualUnlock,
		Reason:     reason,
		CreatedAt:  m.clock.Now(),
	}
	if auditErr := m.store.AppendAction(ctx, audit); auditErr != nil {
		m.logger.Warn("Manual unlock audit append failed",
			zap.String("account_id", account),
			zap.Error(auditErr))
	}
	return true, err
}

// ClearForReset removes a lockout at the daily boundary irrespective of
// kind. It reports whether a lockout was present.
func (m *Manager) ClearForReset(ctx context.Context, account string) (bool, error) {
	return m.release(ctx, account, "daily reset")
}

// expire handles a fired countdown. A stale fire for a lockout that was
// extended while the expiration was in flight is ignored; the
// replacement timer is already armed.
func (m *Manager) expire(account string) {
	lock := m.accountLock(account)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	rec := m.index[account]
	m.mu.RUnlock()
	if rec == nil {
		return
	}
	if rec.Active(m.clock.Now()) {
		m.logger.Debug("Ignoring stale expiry",
			zap.String("account_id", account),
			zap.Time("expires_at", rec.ExpiresAt))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), store.OpTimeout)
	defer cancel()
	m.removeLocked(ctx, account)
	m.logger.Info("Lockout expired",
		zap.String("account_id", account),
		zap.String("kind", rec.Kind))
}

func (m *Manager) release(ctx context.Context, account, cause string) (bool, error) {
	lock := m.accountLock(account)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	rec := m.index[account]
	m.mu.RUnlock()
	if rec == nil {
		return false, nil
	}

	err := m.removeLocked(ctx, account)
	m.timers.Cancel(timerPrefix + account)
	m.logger.Info("Lockout cleared",
		zap.String("account_id", account),
		zap.String("kind", rec.Kind),
		zap.String("cause", cause))
	return true, err
}

// removeLocked deletes the persisted record and drops the index entry.
// The index entry is dropped even when the delete fails: the record's
// expiry is absolute, so a resurrected stale record is treated as
// expired by every read path and swept at the next recovery.
func (m *Manager) removeLocked(ctx context.Context, account string) error {
	err := m.persist(ctx, func(c context.Context) error {
		return m.store.DeleteLockout(c, account)
	})
	m.mu.Lock()
	delete(m.index, account)
	m.mu.Unlock()
	m.setGauge()
	return err
}

// persist runs one store write with a single immediate retry, counting
// an escalation when both attempts fail.
func (m *Manager) persist(ctx context.Context, fn func(context.Context) error) error {
	attempt := func() error {
		c, cancel := context.WithTimeout(ctx, store.OpTimeout)
		defer cancel()
		return fn(c)
	}
	err := attempt()
	if err == nil {
		return nil
	}
	m.logger.Warn("Store write failed, retrying", zap.Error(err))
	if err = attempt(); err == nil {
		return nil
	}
	metrics.Escalations.WithLabelValues("store").Inc()
	m.logger.Error("Store write failed after retry, escalating", zap.Error(err))
	return err
}

func (m *Manager) setGauge() {
	m.mu.RLock()
	n := len(m.index)
	m.mu.RUnlock()
	metrics.ActiveLockouts.Set(float64(n))
}
