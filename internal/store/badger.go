package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

// Key prefixes. Append-only streams embed a nanosecond timestamp so
// iteration order matches write order.
const (
	prefixLockout   = "lockout:"
	prefixLastReset = "lastreset:"
	prefixResetLog  = "resetlog:"
	prefixAction    = "action:"
	prefixPnL       = "pnl:"
)

// BadgerStore is the default disk-backed store.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// NewBadgerStore opens or creates the database at path.
func NewBadgerStore(path string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerStore{db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

func lockoutKey(accountID string) []byte {
	return []byte(prefixLockout + accountID)
}

func lastResetKey(accountID string) []byte {
	return []byte(prefixLastReset + accountID)
}

func actionKey(rec *models.EnforcementActionRecord) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixAction, rec.AccountID, rec.CreatedAt.UnixNano(), rec.ID))
}

func resetLogKey(entry *models.ResetLogEntry) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixResetLog, entry.FiredAt.UnixNano(), entry.AccountID))
}

func pnlKey(accountID string) []byte {
	return []byte(prefixPnL + accountID)
}

func (s *BadgerStore) setJSON(key []byte, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// SaveLockout upserts the account's lockout record.
func (s *BadgerStore) SaveLockout(ctx context.Context, rec *models.LockoutRecord) error {
	if err := s.setJSON(lockoutKey(rec.AccountID), rec); err != nil {
		return fmt.Errorf("save lockout %s: %w", rec.AccountID, err)
	}
	return nil
}

// DeleteLockout removes the account's lockout record if present.
func (s *BadgerStore) DeleteLockout(ctx context.Context, accountID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(lockoutKey(accountID))
	})
	if err != nil {
		return fmt.Errorf("delete lockout %s: %w", accountID, err)
	}
	return nil
}

// LoadLockouts returns every persisted lockout record.
func (s *BadgerStore) LoadLockouts(ctx context.Context) ([]*models.LockoutRecord, error) {
	var records []*models.LockoutRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixLockout)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.LockoutRecord
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load lockouts: %w", err)
	}
	return records, nil
}

// SaveLastReset records the last reset date for an account.
func (s *BadgerStore) SaveLastReset(ctx context.Context, accountID, date string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lastResetKey(accountID), []byte(date))
	})
	if err != nil {
		return fmt.Errorf("save last reset %s: %w", accountID, err)
	}
	return nil
}

// LoadLastResets returns account -> last reset date.
func (s *BadgerStore) LoadLastResets(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixLastReset)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			account := string(item.Key()[len(prefixLastReset):])
			err := item.Value(func(v []byte) error {
				out[account] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load last resets: %w", err)
	}
	return out, nil
}

// AppendResetLog appends one reset execution record.
func (s *BadgerStore) AppendResetLog(ctx context.Context, entry *models.ResetLogEntry) error {
	if entry.FiredAt.IsZero() {
		entry.FiredAt = time.Now()
	}
	if err := s.setJSON(resetLogKey(entry), entry); err != nil {
		return fmt.Errorf("append reset log %s: %w", entry.AccountID, err)
	}
	return nil
}

// AppendAction appends one enforcement action record.
func (s *BadgerStore) AppendAction(ctx context.Context, rec *models.EnforcementActionRecord) error {
	if err := s.setJSON(actionKey(rec), rec); err != nil {
		return fmt.Errorf("append action %s: %w", rec.AccountID, err)
	}
	return nil
}

// LoadActions returns an account's enforcement actions oldest first.
func (s *BadgerStore) LoadActions(ctx context.Context, accountID string, limit int) ([]*models.EnforcementActionRecord, error) {
	var records []*models.EnforcementActionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAction + accountID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(records) >= limit {
				return nil
			}
			var rec models.EnforcementActionRecord
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load actions %s: %w", accountID, err)
	}
	return records, nil
}

// SaveDailyPnL upserts an account's P&L snapshot.
func (s *BadgerStore) SaveDailyPnL(ctx context.Context, snap *models.DailyPnLSnapshot) error {
	if err := s.setJSON(pnlKey(snap.AccountID), snap); err != nil {
		return fmt.Errorf("save pnl snapshot %s: %w", snap.AccountID, err)
	}
	return nil
}

// LoadDailyPnL returns all persisted snapshots.
func (s *BadgerStore) LoadDailyPnL(ctx context.Context) ([]*models.DailyPnLSnapshot, error) {
	var snaps []*models.DailyPnLSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPnL)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var snap models.DailyPnLSnapshot
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &snap)
			})
			if err != nil {
				return err
			}
			snaps = append(snaps, &snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pnl snapshots: %w", err)
	}
	return snaps, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
