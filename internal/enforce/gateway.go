// Package enforce is the boundary to the trading platform: closing
// positions, flattening accounts and cancelling working orders.
package enforce

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/pkg/metrics"
)

// CallTimeout bounds each gateway attempt.
const CallTimeout = 3 * time.Second

// Gateway executes corrective actions against the trading platform.
// Implementations must be safe for concurrent use and must treat
// repeated requests for an already-flat account as success.
type Gateway interface {
	// ClosePosition flattens one position.
	ClosePosition(ctx context.Context, accountID, symbol string) error
	// CloseAll flattens every open position on the account.
	CloseAll(ctx context.Context, accountID string) error
	// CancelAllOrders cancels every working order on the account.
	CancelAllOrders(ctx context.Context, accountID string) error
}

// Retrier wraps a Gateway with the transient-failure policy: one
// immediate retry, then escalate. An escalated error is returned to the
// caller, which still applies its restrictive state; an account never
// becomes more permissive because a platform call failed.
type Retrier struct {
	gw     Gateway
	logger *zap.Logger
}

// NewRetrier wraps gw.
func NewRetrier(gw Gateway, logger *zap.Logger) *Retrier {
	return &Retrier{gw: gw, logger: logger.With(zap.String("component", "enforce"))}
}

func (r *Retrier) call(ctx context.Context, op, accountID string, fn func(context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
		defer cancel()
		return fn(callCtx)
	}

	err := attempt()
	if err == nil {
		metrics.EnforcementActions.WithLabelValues(op, "ok").Inc()
		return nil
	}
	r.logger.Warn("Gateway call failed, retrying",
		zap.String("op", op),
		zap.String("account_id", accountID),
		zap.Error(err))

	if err = attempt(); err == nil {
		metrics.EnforcementActions.WithLabelValues(op, "ok").Inc()
		return nil
	}

	metrics.EnforcementActions.WithLabelValues(op, "failed").Inc()
	metrics.Escalations.WithLabelValues("gateway").Inc()
	r.logger.Error("Gateway call failed after retry, escalating",
		zap.String("op", op),
		zap.String("account_id", accountID),
		zap.Error(err))
	return fmt.Errorf("%s %s failed after retry: %w", op, accountID, err)
}

// ClosePosition flattens one position with retry.
func (r *Retrier) ClosePosition(ctx context.Context, accountID, symbol string) error {
	return r.call(ctx, "close_position", accountID, func(c context.Context) error {
		return r.gw.ClosePosition(c, accountID, symbol)
	})
}

// CloseAll flattens the account with retry.
func (r *Retrier) CloseAll(ctx context.Context, accountID string) error {
	return r.call(ctx, "close_all", accountID, func(c context.Context) error {
		return r.gw.CloseAll(c, accountID)
	})
}

// CancelAllOrders cancels working orders with retry.
func (r *Retrier) CancelAllOrders(ctx context.Context, accountID string) error {
	return r.call(ctx, "cancel_all_orders", accountID, func(c context.Context) error {
		return r.gw.CancelAllOrders(c, accountID)
	})
}
