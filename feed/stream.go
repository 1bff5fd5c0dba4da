// Package feed implements a streaming QuoteProvider on top of a
// websocket price feed (Birdeye-style: one JSON message per token
// price update). The engine's monitors read the cached last quote, so
// a slow feed degrades to stale-quote errors instead of blocking the
// poll loop.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sandroneterpone/ye-meme-trader/broker"
	"github.com/sandroneterpone/ye-meme-trader/market"
)

const (
	readTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
	pingInterval   = 20 * time.Second
	reconnectDelay = 5 * time.Second
)

// priceMsg is the wire format of one price update.
type priceMsg struct {
	Token string  `json:"token"`
	Price float64 `json:"price"`
	TS    int64   `json:"ts"` // unix millis
}

type subscribeMsg struct {
	Op     string   `json:"op"`
	Tokens []string `json:"tokens"`
}

// Stream is a websocket-backed QuoteProvider. It caches the latest
// quote per subscribed token and reconnects with a fixed delay when
// the connection drops.
type Stream struct {
	url      string
	maxStale time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	quotes map[string]market.Quote
	subs   map[string]bool

	// writeMu serializes data writes on the connection; gorilla
	// supports at most one concurrent writer. WriteControl in the ping
	// loop is exempt and may run alongside.
	writeMu sync.Mutex
}

func NewStream(url string, maxStale time.Duration) *Stream {
	return &Stream{
		url:      url,
		maxStale: maxStale,
		quotes:   make(map[string]market.Quote),
		subs:     make(map[string]bool),
	}
}

// Run dials the feed and pumps messages until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.connectAndPump(ctx); err != nil {
			log.Printf("feed: connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Stream) connectAndPump(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	tokens := make([]string, 0, len(s.subs))
	for t := range s.subs {
		tokens = append(tokens, t)
	}
	s.mu.Unlock()

	if len(tokens) > 0 {
		if err := s.writeJSON(subscribeMsg{Op: "subscribe", Tokens: tokens}); err != nil {
			return err
		}
	}

	go s.pingLoop(ctx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg priceMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Token == "" {
			continue // not a price update
		}

		s.mu.Lock()
		s.quotes[msg.Token] = market.Quote{
			Token: msg.Token,
			Price: msg.Price,
			Time:  time.UnixMilli(msg.TS).UTC(),
		}
		s.mu.Unlock()
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// Subscribe registers interest in a token's price updates. Safe to
// call before or after Run.
func (s *Stream) Subscribe(token string) error {
	s.mu.Lock()
	already := s.subs[token]
	s.subs[token] = true
	connected := s.conn != nil
	s.mu.Unlock()

	if already || !connected {
		return nil
	}
	return s.writeJSON(subscribeMsg{Op: "subscribe", Tokens: []string{token}})
}

// GetQuote returns the cached quote for token, or ErrQuoteUnavailable
// when none has arrived yet or the last one is older than maxStale.
func (s *Stream) GetQuote(ctx context.Context, token string) (market.Quote, error) {
	s.mu.Lock()
	q, ok := s.quotes[token]
	s.mu.Unlock()

	if !ok {
		return market.Quote{}, fmt.Errorf("%w: no feed data for %s", broker.ErrQuoteUnavailable, token)
	}
	if s.maxStale > 0 && time.Since(q.Time) > s.maxStale {
		return market.Quote{}, fmt.Errorf("%w: quote for %s is %s old",
			broker.ErrQuoteUnavailable, token, time.Since(q.Time).Round(time.Second))
	}
	return q, nil
}
