package ingest

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadLimit        = 512 * 1024
	wsReadDeadline     = 60 * time.Second
	wsPingInterval     = 30 * time.Second
	wsWriteDeadline    = 10 * time.Second

	wsBackoffMin = time.Second
	wsBackoffMax = 30 * time.Second
)

// WSSource consumes envelopes pushed over a websocket. The connection
// is re-dialed with capped exponential backoff for as long as the
// source is running; message order within one connection is preserved.
type WSSource struct {
	url    string
	bus    *events.Bus
	logger *zap.Logger
	dialer websocket.Dialer

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWSSource builds a websocket source for the given endpoint.
func NewWSSource(url string, bus *events.Bus, logger *zap.Logger) *WSSource {
	return &WSSource{
		url:    url,
		bus:    bus,
		logger: logger.With(zap.String("component", "ingest-ws"), zap.String("url", url)),
		dialer: websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the connect/read loop.
func (s *WSSource) Start() {
	go s.run()
}

// Stop tears the connection down and waits for the loop to exit.
func (s *WSSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	<-s.doneCh
}

func (s *WSSource) run() {
	defer close(s.doneCh)
	backoff := wsBackoffMin

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn, _, err := s.dialer.Dial(s.url, nil)
		if err != nil {
			s.logger.Warn("Websocket dial failed",
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > wsBackoffMax {
				backoff = wsBackoffMax
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.logger.Info("Websocket connected")
		backoff = wsBackoffMin

		pingDone := make(chan struct{})
		go s.pingLoop(conn, pingDone)
		s.readLoop(conn)
		close(pingDone)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}
}

// readLoop drains one connection until it breaks.
func (s *WSSource) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("Websocket read failed, reconnecting", zap.Error(err))
				} else {
					s.logger.Info("Websocket closed, reconnecting")
				}
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		publish(s.bus, s.logger, "websocket", raw)
	}
}

func (s *WSSource) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("Websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}
