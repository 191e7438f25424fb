package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ZWatch/internal/domain/models"
	domsvc "ZWatch/internal/domain/service"

	"github.com/gorilla/websocket"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
)

// Stream implements a TickStream backed by the exchange WebSocket feed.
type Stream struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
}

// NewStream creates a new tick stream.
func NewStream(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration) domsvc.TickStream {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Stream{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection, replacing any previous one.
func (s *Stream) Connect(ctx context.Context) error {
	u := s.websocketURL
	if s.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", s.websocketURL, s.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	log.Printf("tick stream: connected")
	return nil
}

type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Subscribe subscribes to the configured symbols. Must complete before Read
// starts the ping writer; the connection allows one writer at a time.
func (s *Stream) Subscribe(ctx context.Context) error {
	conn := s.current()
	if conn == nil {
		return errors.New("stream not connected")
	}
	for _, sym := range s.symbols {
		if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", Symbol: sym}); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
		log.Printf("tick stream: subscribed %s", sym)
	}
	return nil
}

type wsTick struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type wsFrame struct {
	Type string   `json:"type"`
	Data []wsTick `json:"data"`
}

// Read streams ticks from the connection current at call time. Both channels
// close when the connection dies; the caller reconnects and calls Read again.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)
	conn := s.current()

	done := make(chan struct{})
	go s.pingLoop(ctx, conn, done)

	go func() {
		defer close(done)
		defer close(errs)
		defer close(ticks)
		if conn == nil {
			errs <- errors.New("stream not connected")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			// Close unblocks this read on shutdown and reconnect.
			_, b, err := conn.ReadMessage()
			if err != nil {
				log.Printf("tick stream: read error: %v", err)
				errs <- fmt.Errorf("stream read: %w", err)
				return
			}
			var m wsFrame
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				continue
			}
			for _, d := range m.Data {
				tick := &models.Tick{Symbol: d.S, Timestamp: d.T / 1000, Price: d.P, Volume: d.V}
				select {
				case ticks <- tick:
				default:
					// Drop on backpressure, ticks only carry the latest price.
				}
			}
		}
	}()

	return ticks, errs
}

// pingLoop keeps the given connection alive until the read loop exits.
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	if conn == nil {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

// Reconnect closes the current connection, waits out the delay, and
// re-establishes connection and subscriptions.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

// Close closes the connection. Safe to call when never connected.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Stream) current() *websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}
