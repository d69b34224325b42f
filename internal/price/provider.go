// Package price unifies the daemon's two price sources behind one read
// contract: a pushed WebSocket ticker stream feeding a cache, and a REST
// fallback for pairs the stream has not delivered yet. A stale-but-
// current cache entry is normal: the last-trade price only moves when a
// trade executes on the exchange.
package price

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

const (
	// freshnessWindow is the maximum age of a push-cache entry that a
	// reader will accept without falling back to REST.
	freshnessWindow = 60 * time.Second

	// subscribeGrace is how long a reader waits for the stream to deliver
	// a first value after lazily subscribing to a previously-unseen pair.
	subscribeGrace = 2 * time.Second
)

// RESTSource is the subset of the exchange REST client the Price Provider
// needs for its fallback path.
type RESTSource interface {
	CurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	CurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error)
}

// PushSource is the subset of the exchange ticker feed the Price Provider
// consumes for its push path.
type PushSource interface {
	Subscribe(pairs []string) error
	Prices() <-chan types.PriceQuote
}

// entry is one cached pair's last observed price.
type entry struct {
	price      decimal.Decimal
	receivedAt time.Time
}

// Provider is the thread-safe, dual-sourced price cache. Any number of
// readers call GetPrice concurrently; the stream-consuming goroutine
// (Run) is the sole writer of pushed updates.
type Provider struct {
	mu    sync.RWMutex
	cache map[string]entry

	subscribedMu sync.Mutex
	subscribed   map[string]bool
	// waiters lets GetPrice block briefly for a fresh push after a lazy
	// subscribe, without polling the cache.
	waiters map[string][]chan struct{}

	rest RESTSource
	push PushSource

	logger *slog.Logger
}

// NewProvider builds a Provider backed by rest (REST fallback/batch warm)
// and push (streamed ticker updates).
func NewProvider(rest RESTSource, push PushSource, logger *slog.Logger) *Provider {
	return &Provider{
		cache:      make(map[string]entry),
		subscribed: make(map[string]bool),
		waiters:    make(map[string][]chan struct{}),
		rest:       rest,
		push:       push,
		logger:     logger.With("component", "price_provider"),
	}
}

// Run consumes pushed price quotes until ctx is cancelled. It must run in
// its own goroutine alongside the ticker feed's own Run loop.
func (p *Provider) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case quote, ok := <-p.push.Prices():
			if !ok {
				return
			}
			p.store(quote.Pair, quote.Price, quote.ReceivedAt)
		}
	}
}

func (p *Provider) store(pair string, px decimal.Decimal, at time.Time) {
	p.mu.Lock()
	p.cache[pair] = entry{price: px, receivedAt: at}
	p.mu.Unlock()

	p.subscribedMu.Lock()
	waiters := p.waiters[pair]
	delete(p.waiters, pair)
	p.subscribedMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (p *Provider) lookup(pair string) (entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.cache[pair]
	return e, ok
}

// GetPrice implements the unified read contract: push cache if fresh,
// else up to subscribeGrace for a first push after lazy subscription,
// else a single REST fallback call. It returns the price and the age of
// the observation at the time it was read.
func (p *Provider) GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Duration, error) {
	if e, ok := p.lookup(pair); ok {
		age := time.Since(e.receivedAt)
		if age < freshnessWindow {
			return e.price, age, nil
		}
	}

	p.subscribedMu.Lock()
	alreadySubscribed := p.subscribed[pair]
	p.subscribedMu.Unlock()

	if err := p.ensureSubscribed(pair); err != nil {
		p.logger.Warn("subscribe failed, falling back to REST", "pair", pair, "error", err)
	} else if !alreadySubscribed && p.awaitPush(ctx, pair) {
		if e, ok := p.lookup(pair); ok {
			return e.price, time.Since(e.receivedAt), nil
		}
	}

	px, err := p.rest.CurrentPrice(ctx, pair)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("price provider: rest fallback for %s: %w", pair, err)
	}
	now := time.Now().UTC()
	p.store(pair, px, now)
	return px, 0, nil
}

// ensureSubscribed lazily subscribes to pair on first request.
func (p *Provider) ensureSubscribed(pair string) error {
	p.subscribedMu.Lock()
	if p.subscribed[pair] {
		p.subscribedMu.Unlock()
		return nil
	}
	p.subscribed[pair] = true
	p.subscribedMu.Unlock()

	return p.push.Subscribe([]string{pair})
}

// awaitPush blocks up to subscribeGrace for the next pushed value for
// pair, returning true if one arrived. A value that was stored between
// the caller's cache miss and the waiter registering here also counts —
// without that re-check a quote delivered during subscription would be
// missed and the reader would needlessly fall through to REST.
func (p *Provider) awaitPush(ctx context.Context, pair string) bool {
	ch := make(chan struct{})
	p.subscribedMu.Lock()
	p.waiters[pair] = append(p.waiters[pair], ch)
	p.subscribedMu.Unlock()

	if e, ok := p.lookup(pair); ok && time.Since(e.receivedAt) < freshnessWindow {
		return true
	}

	timer := time.NewTimer(subscribeGrace)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// WarmCache batch-fetches pairs via REST and stores every result,
// independent of their current cache state. The rule engine calls this
// once per tick to warm the cache for all tracked pairs.
func (p *Provider) WarmCache(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		return nil
	}
	prices, err := p.rest.CurrentPrices(ctx, pairs)
	if err != nil {
		return fmt.Errorf("price provider: warm cache: %w", err)
	}
	now := time.Now().UTC()
	for pair, px := range prices {
		p.store(pair, px, now)
	}
	return nil
}
