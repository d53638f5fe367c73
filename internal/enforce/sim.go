package enforce

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Call records one gateway invocation on the sim.
type Call struct {
	Op        string
	AccountID string
	Symbol    string
}

// SimGateway is a deterministic in-process gateway. It records every
// call and can be told to fail the next n calls, which makes it the
// default wiring for dry runs and the fixture for failure-path tests.
type SimGateway struct {
	logger *zap.Logger

	mu       sync.Mutex
	calls    []Call
	failNext int
	failErr  error
}

// NewSimGateway creates an empty sim.
func NewSimGateway(logger *zap.Logger) *SimGateway {
	return &SimGateway{logger: logger.With(zap.String("component", "sim-gateway"))}
}

// FailNext makes the next n calls return err.
func (g *SimGateway) FailNext(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
	g.failErr = err
}

// Calls returns a copy of the recorded calls.
func (g *SimGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

func (g *SimGateway) record(call Call) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext > 0 {
		g.failNext--
		return g.failErr
	}
	g.calls = append(g.calls, call)
	g.logger.Info("Simulated enforcement",
		zap.String("op", call.Op),
		zap.String("account_id", call.AccountID),
		zap.String("symbol", call.Symbol))
	return nil
}

func (g *SimGateway) ClosePosition(ctx context.Context, accountID, symbol string) error {
	return g.record(Call{Op: "close_position", AccountID: accountID, Symbol: symbol})
}

func (g *SimGateway) CloseAll(ctx context.Context, accountID string) error {
	return g.record(Call{Op: "close_all", AccountID: accountID})
}

func (g *SimGateway) CancelAllOrders(ctx context.Context, accountID string) error {
	return g.record(Call{Op: "cancel_all_orders", AccountID: accountID})
}
