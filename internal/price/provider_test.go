package price

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeREST struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  int
	err    error
}

func (f *fakeREST) CurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	px, ok := f.prices[pair]
	if !ok {
		return decimal.Zero, errors.New("unknown pair")
	}
	return px, nil
}

func (f *fakeREST) CurrentPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		if px, ok := f.prices[p]; ok {
			out[p] = px
		}
	}
	return out, nil
}

type fakePush struct {
	mu          sync.Mutex
	subscribed  []string
	ch          chan types.PriceQuote
	deliverNext bool
}

func newFakePush() *fakePush {
	return &fakePush{ch: make(chan types.PriceQuote, 16)}
}

func (f *fakePush) Subscribe(pairs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, pairs...)
	if f.deliverNext {
		for _, p := range pairs {
			f.ch <- types.PriceQuote{Pair: p, Price: decimal.NewFromInt(100), ReceivedAt: time.Now().UTC()}
		}
	}
	return nil
}

func (f *fakePush) Prices() <-chan types.PriceQuote { return f.ch }

func TestGetPriceUsesFreshCache(t *testing.T) {
	t.Parallel()
	rest := &fakeREST{prices: map[string]decimal.Decimal{"XXBTZUSD": decimal.NewFromInt(99999)}}
	push := newFakePush()
	p := NewProvider(rest, push, testLogger())

	p.store("XXBTZUSD", decimal.NewFromInt(65000), time.Now())

	px, age, err := p.GetPrice(context.Background(), "XXBTZUSD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !px.Equal(decimal.NewFromInt(65000)) {
		t.Errorf("price = %s, want 65000 (cache, not REST)", px)
	}
	if age < 0 {
		t.Errorf("age should be non-negative, got %v", age)
	}
	if rest.calls != 0 {
		t.Errorf("REST should not be called when cache is fresh, calls=%d", rest.calls)
	}
}

func TestGetPriceFallsBackToRESTWhenStale(t *testing.T) {
	t.Parallel()
	rest := &fakeREST{prices: map[string]decimal.Decimal{"XXBTZUSD": decimal.NewFromInt(70000)}}
	push := newFakePush() // never delivers
	p := NewProvider(rest, push, testLogger())

	p.store("XXBTZUSD", decimal.NewFromInt(1), time.Now().Add(-2*time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	px, _, err := p.GetPrice(ctx, "XXBTZUSD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !px.Equal(decimal.NewFromInt(70000)) {
		t.Errorf("price = %s, want 70000 (REST fallback)", px)
	}
}

func TestGetPriceLazySubscribeThenPush(t *testing.T) {
	t.Parallel()
	rest := &fakeREST{err: errors.New("rest unavailable")}
	push := newFakePush()
	push.deliverNext = true
	p := NewProvider(rest, push, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	px, _, err := p.GetPrice(context.Background(), "XXBTZUSD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !px.Equal(decimal.NewFromInt(100)) {
		t.Errorf("price = %s, want 100 (from push after subscribe)", px)
	}
	if rest.calls != 0 {
		t.Error("REST should not be needed when push delivers within grace window")
	}
}

func TestGetPriceUnknownPairErrorsWhenRESTFails(t *testing.T) {
	t.Parallel()
	rest := &fakeREST{err: errors.New("rest down")}
	push := newFakePush()
	p := NewProvider(rest, push, testLogger())

	_, _, err := p.GetPrice(context.Background(), "UNKNOWNPAIR")
	if err == nil {
		t.Fatal("expected error when both push grace and REST fail")
	}
}

func TestWarmCacheStoresAllPairs(t *testing.T) {
	t.Parallel()
	rest := &fakeREST{prices: map[string]decimal.Decimal{
		"XXBTZUSD": decimal.NewFromInt(65000),
		"XETHZUSD": decimal.NewFromInt(3500),
	}}
	push := newFakePush()
	p := NewProvider(rest, push, testLogger())

	if err := p.WarmCache(context.Background(), []string{"XXBTZUSD", "XETHZUSD"}); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}

	for pair, want := range rest.prices {
		e, ok := p.lookup(pair)
		if !ok {
			t.Fatalf("pair %s not cached after warm", pair)
		}
		if !e.price.Equal(want) {
			t.Errorf("pair %s = %s, want %s", pair, e.price, want)
		}
	}
}

func TestRunConsumesPushedQuotes(t *testing.T) {
	t.Parallel()
	rest := &fakeREST{}
	push := newFakePush()
	p := NewProvider(rest, push, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	push.ch <- types.PriceQuote{Pair: "XXBTZUSD", Price: decimal.NewFromInt(50000), ReceivedAt: time.Now().UTC()}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := p.lookup("XXBTZUSD"); ok && e.price.Equal(decimal.NewFromInt(50000)) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Run did not consume pushed quote in time")
}
