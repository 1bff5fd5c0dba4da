package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandroneterpone/ye-meme-trader/market"
)

// Paper simulates quotes and fills from an in-memory price table. It
// is used for dry runs and as the test double for the engine. Every
// method is safe for concurrent use.
type Paper struct {
	mu     sync.Mutex
	prices map[string]float64
	safe   map[string]bool

	failOpens  int
	failCloses int
}

func NewPaper() *Paper {
	return &Paper{
		prices: make(map[string]float64),
		safe:   make(map[string]bool),
	}
}

// SetPrice sets the simulated price for a token and marks it safe.
func (p *Paper) SetPrice(token string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[token] = price
	if _, ok := p.safe[token]; !ok {
		p.safe[token] = true
	}
}

// FailNextOpens makes the next n Open calls fail, for exercising
// retry and breaker paths.
func (p *Paper) FailNextOpens(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOpens = n
}

// FailNextCloses makes the next n Close calls fail.
func (p *Paper) FailNextCloses(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCloses = n
}

// SetSafe overrides the safety-screen verdict for a token.
func (p *Paper) SetSafe(token string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.safe[token] = ok
}

func (p *Paper) GetQuote(ctx context.Context, token string) (market.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[token]
	if !ok {
		return market.Quote{}, fmt.Errorf("%w: no price for %s", ErrQuoteUnavailable, token)
	}
	return market.Quote{Token: token, Price: price, Time: time.Now().UTC()}, nil
}

func (p *Paper) Open(ctx context.Context, token string, side market.Side, amount float64) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOpens > 0 {
		p.failOpens--
		return Fill{}, fmt.Errorf("%w: injected open failure", ErrExecutionFailed)
	}
	price, ok := p.prices[token]
	if !ok {
		return Fill{}, fmt.Errorf("%w: no pool for %s", ErrExecutionFailed, token)
	}
	return Fill{TxID: uuid.New().String(), Token: token, Price: price}, nil
}

func (p *Paper) Close(ctx context.Context, token string, amount float64) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCloses > 0 {
		p.failCloses--
		return Fill{}, fmt.Errorf("%w: injected close failure", ErrExecutionFailed)
	}
	price, ok := p.prices[token]
	if !ok {
		return Fill{}, fmt.Errorf("%w: no pool for %s", ErrExecutionFailed, token)
	}
	return Fill{TxID: uuid.New().String(), Token: token, Price: price}, nil
}

func (p *Paper) Validate(ctx context.Context, token string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safe[token], nil
}
