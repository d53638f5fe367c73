// Package ingest adapts external event feeds onto the bus. Adapters
// normalize wire payloads into events, preserve per-source arrival
// order and drop anything that fails to decode; a malformed message
// never stalls the feed.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/metrics"
)

// wireVersion is the highest envelope version this build understands.
const wireVersion = 1

// Envelope is the wire form of one event. Payload is decoded per Type.
type Envelope struct {
	Type      string          `json:"type"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	TsUTC     string          `json:"ts_utc"`
	Payload   json.RawMessage `json:"payload"`
	V         int             `json:"v"`
}

// Decode parses one wire message into a validated event.
func Decode(raw []byte) (*events.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V > wireVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.V)
	}
	if env.TsUTC == "" {
		return nil, fmt.Errorf("envelope missing ts_utc")
	}
	ts, err := time.Parse(time.RFC3339Nano, env.TsUTC)
	if err != nil {
		return nil, fmt.Errorf("parse ts_utc %q: %w", env.TsUTC, err)
	}

	var evt *events.Event
	switch events.Type(env.Type) {
	case events.TypeFill:
		var fill events.Fill
		if err := json.Unmarshal(env.Payload, &fill); err != nil {
			return nil, fmt.Errorf("decode fill payload: %w", err)
		}
		evt = events.NewFill(env.AccountID, env.Symbol, ts, fill)
	case events.TypePosition:
		var pos events.Position
		if err := json.Unmarshal(env.Payload, &pos); err != nil {
			return nil, fmt.Errorf("decode position payload: %w", err)
		}
		evt = events.NewPosition(env.AccountID, env.Symbol, ts, pos)
	case events.TypeQuote:
		var quote events.Quote
		if err := json.Unmarshal(env.Payload, &quote); err != nil {
			return nil, fmt.Errorf("decode quote payload: %w", err)
		}
		evt = events.NewQuote(env.AccountID, env.Symbol, ts, quote)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

// publish forwards one decoded message to the bus, counting drops per
// source.
func publish(bus *events.Bus, logger *zap.Logger, source string, raw []byte) {
	evt, err := Decode(raw)
	if err != nil {
		metrics.IngestDropped.WithLabelValues(source).Inc()
		logger.Warn("Dropped inbound payload",
			zap.String("source", source),
			zap.Error(err))
		return
	}
	bus.Publish(evt)
}
