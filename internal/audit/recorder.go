// Package audit fans enforcement actions out to the observability
// surfaces: structured log, store append and an optional redis channel.
package audit

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/store"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/models"
)

// Recorder is the write-side of the audit trail. Every sink is best
// effort; enforcement never waits on or fails with the audit path.
type Recorder struct {
	logger  *zap.Logger
	store   store.Store
	rdb     *redis.Client
	channel string
}

// NewRecorder builds a recorder. rdb may be nil to disable publishing.
func NewRecorder(st store.Store, rdb *redis.Client, channel string, logger *zap.Logger) *Recorder {
	return &Recorder{
		logger:  logger.With(zap.String("component", "audit")),
		store:   st,
		rdb:     rdb,
		channel: channel,
	}
}

// Record logs, persists and publishes one enforcement action.
func (r *Recorder) Record(ctx context.Context, rec *models.EnforcementActionRecord) {
	r.logger.Warn("Enforcement action",
		zap.String("action", rec.ActionType),
		zap.String("account_id", rec.AccountID),
		zap.String("rule", rec.RuleID),
		zap.String("symbol", rec.Symbol),
		zap.String("reason", rec.Reason),
		zap.Bool("escalated", rec.Escalated))

	if err := r.store.AppendAction(ctx, rec); err != nil {
		r.logger.Warn("Audit append failed",
			zap.String("account_id", rec.AccountID),
			zap.Error(err))
	}

	if r.rdb == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		r.logger.Warn("Audit marshal failed", zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("Audit publish failed",
			zap.String("channel", r.channel),
			zap.Error(err))
	}
}

// History returns an account's recorded actions, oldest first.
func (r *Recorder) History(ctx context.Context, accountID string, limit int) ([]*models.EnforcementActionRecord, error) {
	return r.store.LoadActions(ctx, accountID, limit)
}
