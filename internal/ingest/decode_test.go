package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

func TestDecodeFill(t *testing.T) {
	raw := []byte(`{
		"type": "fill",
		"account_id": "acct-1",
		"symbol": "ESZ6",
		"ts_utc": "2026-03-10T14:30:00.250Z",
		"v": 1,
		"payload": {
			"order_id": "ord-77",
			"side": "sell",
			"quantity": "2",
			"price": "5001.25",
			"realized_pnl": "-37.50"
		}
	}`)

	evt, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, events.TypeFill, evt.Type)
	assert.Equal(t, "acct-1", evt.AccountID)
	assert.Equal(t, "ESZ6", evt.Symbol)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 30, 0, 250_000_000, time.UTC), evt.Timestamp.UTC())
	require.NotNil(t, evt.Fill)
	assert.Equal(t, "ord-77", evt.Fill.OrderID)
	assert.True(t, evt.Fill.Quantity.Equal(decimal.NewFromInt(2)))
	require.NotNil(t, evt.Fill.RealizedPnL)
	assert.True(t, evt.Fill.RealizedPnL.Equal(decimal.RequireFromString("-37.50")))
}

func TestDecodeFillWithoutRealizedPnL(t *testing.T) {
	raw := []byte(`{
		"type": "fill",
		"account_id": "acct-1",
		"symbol": "ESZ6",
		"ts_utc": "2026-03-10T14:30:00Z",
		"payload": {"order_id": "ord-1", "side": "buy", "quantity": "1", "price": "5000"}
	}`)

	evt, err := Decode(raw)
	require.NoError(t, err)
	assert.Nil(t, evt.Fill.RealizedPnL, "absent pnl stays nil, not zero")
}

func TestDecodePosition(t *testing.T) {
	raw := []byte(`{
		"type": "position",
		"account_id": "acct-1",
		"symbol": "NQZ6",
		"ts_utc": "2026-03-10T14:31:00Z",
		"payload": {"size": "-3", "avg_price": "18100.25"}
	}`)

	evt, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, evt.Position)
	assert.True(t, evt.Position.Size.Equal(decimal.NewFromInt(-3)))
	assert.True(t, evt.Position.AvgPrice.Equal(decimal.RequireFromString("18100.25")))
}

func TestDecodeQuote(t *testing.T) {
	raw := []byte(`{
		"type": "quote",
		"account_id": "acct-1",
		"symbol": "ESZ6",
		"ts_utc": "2026-03-10T14:31:05Z",
		"payload": {"last": "4999.75", "bid": "4999.50", "ask": "5000.00"}
	}`)

	evt, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, evt.Quote)
	assert.True(t, evt.Quote.Last.Equal(decimal.RequireFromString("4999.75")))
}

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"garbage", `{"type": `},
		{"unknown type", `{"type":"order","account_id":"a","symbol":"s","ts_utc":"2026-03-10T00:00:00Z","payload":{}}`},
		{"future version", `{"type":"quote","account_id":"a","symbol":"s","ts_utc":"2026-03-10T00:00:00Z","v":2,"payload":{}}`},
		{"missing timestamp", `{"type":"quote","account_id":"a","symbol":"s","payload":{}}`},
		{"bad timestamp", `{"type":"quote","account_id":"a","symbol":"s","ts_utc":"yesterday","payload":{}}`},
		{"missing account", `{"type":"quote","symbol":"s","ts_utc":"2026-03-10T00:00:00Z","payload":{}}`},
		{"missing symbol", `{"type":"quote","account_id":"a","ts_utc":"2026-03-10T00:00:00Z","payload":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestWSSourceDeliversEnvelopes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	defer bus.Close()

	recv := make(chan *events.Event, 4)
	bus.Subscribe(events.TypeQuote, "test", func(evt *events.Event) { recv <- evt })

	frames := [][]byte{
		[]byte(`{"type":"quote","account_id":"acct-1","symbol":"ESZ6","ts_utc":"2026-03-10T14:00:00Z","payload":{"last":"5000"}}`),
		[]byte(`not even json`),
		[]byte(`{"type":"quote","account_id":"acct-1","symbol":"ESZ6","ts_utc":"2026-03-10T14:00:01Z","payload":{"last":"5001"}}`),
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, raw := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	src := NewWSSource(wsURL, bus, logger)
	src.Start()
	defer src.Stop()

	// The garbage frame is dropped; the two quotes arrive in order.
	for _, want := range []string{"5000", "5001"} {
		select {
		case evt := <-recv:
			assert.True(t, evt.Quote.Last.Equal(decimal.RequireFromString(want)))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for quote %s", want)
		}
	}
}
