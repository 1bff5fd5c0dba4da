package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/sandroneterpone/ye-meme-trader/broker"
)

// fakeFeed serves a fixed set of price messages to each connection.
func fakeFeed(t *testing.T, msgs []priceMsg) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, m := range msgs {
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForQuote(t *testing.T, s *Stream, token string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.GetQuote(context.Background(), token); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no quote for %s before deadline", token)
}

func TestStreamCachesLatestQuote(t *testing.T) {
	t.Parallel()

	now := time.Now().UnixMilli()
	srv := fakeFeed(t, []priceMsg{
		{Token: "YE1", Price: 0.5, TS: now},
		{Token: "YE1", Price: 0.75, TS: now + 1},
		{Token: "YE2", Price: 1.25, TS: now + 2},
	})
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewStream(wsURL(srv), time.Minute)
	assert.NoError(t, s.Subscribe("YE1"))
	assert.NoError(t, s.Subscribe("YE2"))
	go s.Run(ctx)

	waitForQuote(t, s, "YE2")

	q, err := s.GetQuote(ctx, "YE1")
	assert.NoError(t, err)
	assert.Equal(t, 0.75, q.Price)

	q, err = s.GetQuote(ctx, "YE2")
	assert.NoError(t, err)
	assert.Equal(t, 1.25, q.Price)
}

// Subscribing from several goroutines at once must serialize the
// subscribe writes on the shared connection.
func TestStreamConcurrentSubscribes(t *testing.T) {
	t.Parallel()

	now := time.Now().UnixMilli()
	srv := fakeFeed(t, []priceMsg{{Token: "YE1", Price: 0.5, TS: now}})
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewStream(wsURL(srv), time.Minute)
	assert.NoError(t, s.Subscribe("YE1"))
	go s.Run(ctx)

	waitForQuote(t, s, "YE1")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Subscribe(fmt.Sprintf("TOK%d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestStreamUnknownTokenUnavailable(t *testing.T) {
	t.Parallel()

	s := NewStream("ws://127.0.0.1:0", time.Minute)
	_, err := s.GetQuote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, broker.ErrQuoteUnavailable)
}

func TestStreamStaleQuoteUnavailable(t *testing.T) {
	t.Parallel()

	stale := time.Now().Add(-time.Hour).UnixMilli()
	srv := fakeFeed(t, []priceMsg{{Token: "YE1", Price: 0.5, TS: stale}})
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewStream(wsURL(srv), time.Minute)
	assert.NoError(t, s.Subscribe("YE1"))
	go s.Run(ctx)

	// The quote arrives but is older than maxStale.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		_, ok := s.quotes["YE1"]
		s.mu.Unlock()
		if ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err := s.GetQuote(ctx, "YE1")
	assert.ErrorIs(t, err, broker.ErrQuoteUnavailable)
}
