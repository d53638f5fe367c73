package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

// lastResetRow keeps reset idempotence state in SQL backends.
type lastResetRow struct {
	AccountID string    `gorm:"primaryKey"`
	ResetDate string    `gorm:"size:10"`
	UpdatedAt time.Time
}

func (lastResetRow) TableName() string { return "last_resets" }

// SQLStore is the gorm-backed store for postgres and sqlite.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLStore connects to the given driver ("postgres" or "sqlite") and
// migrates the schema.
func NewSQLStore(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.LockoutRecord{},
		&lastResetRow{},
		&models.ResetLogEntry{},
		&models.EnforcementActionRecord{},
		&models.DailyPnLSnapshot{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLStore{db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

// SaveLockout upserts the account's lockout record.
func (s *SQLStore) SaveLockout(ctx context.Context, rec *models.LockoutRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("save lockout %s: %w", rec.AccountID, err)
	}
	return nil
}

// DeleteLockout removes the account's lockout record if present.
func (s *SQLStore) DeleteLockout(ctx context.Context, accountID string) error {
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.LockoutRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete lockout %s: %w", accountID, err)
	}
	return nil
}

// LoadLockouts returns every persisted lockout record.
func (s *SQLStore) LoadLockouts(ctx context.Context) ([]*models.LockoutRecord, error) {
	var records []*models.LockoutRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load lockouts: %w", err)
	}
	return records, nil
}

// SaveLastReset records the last reset date for an account.
func (s *SQLStore) SaveLastReset(ctx context.Context, accountID, date string) error {
	row := &lastResetRow{AccountID: accountID, ResetDate: date, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("save last reset %s: %w", accountID, err)
	}
	return nil
}

// LoadLastResets returns account -> last reset date.
func (s *SQLStore) LoadLastResets(ctx context.Context) (map[string]string, error) {
	var rows []lastResetRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load last resets: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.AccountID] = r.ResetDate
	}
	return out, nil
}

// AppendResetLog appends one reset execution record.
func (s *SQLStore) AppendResetLog(ctx context.Context, entry *models.ResetLogEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append reset log %s: %w", entry.AccountID, err)
	}
	return nil
}

// AppendAction appends one enforcement action record.
func (s *SQLStore) AppendAction(ctx context.Context, rec *models.EnforcementActionRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append action %s: %w", rec.AccountID, err)
	}
	return nil
}

// LoadActions returns an account's enforcement actions oldest first.
func (s *SQLStore) LoadActions(ctx context.Context, accountID string, limit int) ([]*models.EnforcementActionRecord, error) {
	q := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var records []*models.EnforcementActionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load actions %s: %w", accountID, err)
	}
	return records, nil
}

// SaveDailyPnL upserts an account's P&L snapshot.
func (s *SQLStore) SaveDailyPnL(ctx context.Context, snap *models.DailyPnLSnapshot) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(snap).Error
	if err != nil {
		return fmt.Errorf("save pnl snapshot %s: %w", snap.AccountID, err)
	}
	return nil
}

// LoadDailyPnL returns all persisted snapshots.
func (s *SQLStore) LoadDailyPnL(ctx context.Context) ([]*models.DailyPnLSnapshot, error) {
	var snaps []*models.DailyPnLSnapshot
	if err := s.db.WithContext(ctx).Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("load pnl snapshots: %w", err)
	}
	return snaps, nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
