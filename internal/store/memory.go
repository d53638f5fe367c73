package store

import (
	"context"
	"errors"
	"sync"

	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

var errInjected = errors.New("store: injected failure")

// MemoryStore keeps everything in process memory. It backs tests and
// ephemeral runs; FailNext* let tests inject transient write failures.
type MemoryStore struct {
	mu         sync.Mutex
	lockouts   map[string]models.LockoutRecord
	lastResets map[string]string
	resetLog   []models.ResetLogEntry
	actions    []models.EnforcementActionRecord
	pnl        map[string]models.DailyPnLSnapshot

	// Remaining failure counts for write paths, set by tests before
	// the calls under test. Each failed call decrements its counter.
	FailNextSaves   int
	FailNextDeletes int
	FailErr         error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lockouts:   make(map[string]models.LockoutRecord),
		lastResets: make(map[string]string),
		pnl:        make(map[string]models.DailyPnLSnapshot),
	}
}

func (s *MemoryStore) failSave() error {
	if s.FailNextSaves > 0 {
		s.FailNextSaves--
		if s.FailErr != nil {
			return s.FailErr
		}
		return errInjected
	}
	return nil
}

func (s *MemoryStore) SaveLockout(ctx context.Context, rec *models.LockoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSave(); err != nil {
		return err
	}
	s.lockouts[rec.AccountID] = *rec
	return nil
}

func (s *MemoryStore) DeleteLockout(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextDeletes > 0 {
		s.FailNextDeletes--
		if s.FailErr != nil {
			return s.FailErr
		}
		return errInjected
	}
	delete(s.lockouts, accountID)
	return nil
}

func (s *MemoryStore) LoadLockouts(ctx context.Context) ([]*models.LockoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LockoutRecord, 0, len(s.lockouts))
	for _, rec := range s.lockouts {
		cp := rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveLastReset(ctx context.Context, accountID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSave(); err != nil {
		return err
	}
	s.lastResets[accountID] = date
	return nil
}

func (s *MemoryStore) LoadLastResets(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.lastResets))
	for k, v := range s.lastResets {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) AppendResetLog(ctx context.Context, entry *models.ResetLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLog = append(s.resetLog, *entry)
	return nil
}

// ResetLog returns a copy of all reset log entries, for tests.
func (s *MemoryStore) ResetLog() []models.ResetLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ResetLogEntry, len(s.resetLog))
	copy(out, s.resetLog)
	return out
}

func (s *MemoryStore) AppendAction(ctx context.Context, rec *models.EnforcementActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSave(); err != nil {
		return err
	}
	s.actions = append(s.actions, *rec)
	return nil
}

func (s *MemoryStore) LoadActions(ctx context.Context, accountID string, limit int) ([]*models.EnforcementActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.EnforcementActionRecord
	for i := range s.actions {
		if s.actions[i].AccountID != accountID {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := s.actions[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveDailyPnL(ctx context.Context, snap *models.DailyPnLSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSave(); err != nil {
		return err
	}
	s.pnl[snap.AccountID] = *snap
	return nil
}

func (s *MemoryStore) LoadDailyPnL(ctx context.Context) ([]*models.DailyPnLSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.DailyPnLSnapshot, 0, len(s.pnl))
	for _, snap := range s.pnl {
		cp := snap
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
