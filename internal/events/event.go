// Package events defines the normalized trading event model and the
// in-process bus that fans events out to subscribers.
package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies the payload an Event carries.
type Type string

const (
	TypeFill     Type = "fill"
	TypePosition Type = "position"
	TypeQuote    Type = "quote"
)

// Fill is an order execution. RealizedPnL is nil when the venue did not
// report a realized amount for this fill; that is not the same as a
// reported zero.
type Fill struct {
	OrderID     string           `json:"order_id"`
	Side        string           `json:"side"` // buy or sell
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
}

// Position is a position snapshot. Size is signed: positive long,
// negative short, zero flat.
type Position struct {
	Size     decimal.Decimal `json:"size"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Quote is a market data tick.
type Quote struct {
	Last decimal.Decimal `json:"last"`
	Bid  decimal.Decimal `json:"bid"`
	Ask  decimal.Decimal `json:"ask"`
}

// Event is the bus unit. Exactly one payload pointer is set, matching
// Type. Events are immutable once published; subscribers must not
// mutate them.
type Event struct {
	Type      Type      `json:"type"`
	AccountID string    `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	Fill     *Fill     `json:"fill,omitempty"`
	Position *Position `json:"position,omitempty"`
	Quote    *Quote    `json:"quote,omitempty"`
}

// Validate checks the type/payload pairing and required identifiers.
func (e *Event) Validate() error {
	if e.AccountID == "" {
		return fmt.Errorf("event missing account id")
	}
	if e.Symbol == "" {
		return fmt.Errorf("event missing symbol")
	}
	switch e.Type {
	case TypeFill:
		if e.Fill == nil || e.Position != nil || e.Quote != nil {
			return fmt.Errorf("fill event with wrong payload")
		}
	case TypePosition:
		if e.Position == nil || e.Fill != nil || e.Quote != nil {
			return fmt.Errorf("position event with wrong payload")
		}
	case TypeQuote:
		if e.Quote == nil || e.Fill != nil || e.Position != nil {
			return fmt.Errorf("quote event with wrong payload")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// NewFill builds a fill event.
func NewFill(account, symbol string, ts time.Time, fill Fill) *Event {
	return &Event{Type: TypeFill, AccountID: account, Symbol: symbol, Timestamp: ts, Fill: &fill}
}

// NewPosition builds a position event.
func NewPosition(account, symbol string, ts time.Time, pos Position) *Event {
	return &Event{Type: TypePosition, AccountID: account, Symbol: symbol, Timestamp: ts, Position: &pos}
}

// NewQuote builds a quote event.
func NewQuote(account, symbol string, ts time.Time, quote Quote) *Event {
	return &Event{Type: TypeQuote, AccountID: account, Symbol: symbol, Timestamp: ts, Quote: &quote}
}
