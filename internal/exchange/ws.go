// ws.go implements the public ticker WebSocket feed for Kraken Spot.
//
// A single feed subscribes to the "ticker" channel for every pair the
// rule engine is tracking and pushes last-trade prices into a typed
// channel for the price provider's cache. The feed auto-reconnects with
// exponential backoff (1s -> 30s max) and re-subscribes to all tracked
// pairs on reconnection. Kraken's public ticker channel needs no
// authentication, so one feed kind suffices.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

const (
	wsPingInterval     = 50 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	tickerBufferSize   = 256
)

// TickerFeed manages the Kraken public ticker WebSocket connection. It
// handles connection lifecycle, subscription tracking, and automatic
// reconnection with exponential backoff.
type TickerFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // Kraken pair symbols, e.g. "XXBTZUSD"

	tickerCh chan types.PriceQuote

	logger *slog.Logger
}

// NewTickerFeed creates a ticker feed for the given Kraken websocket URL
// (e.g. "wss://ws.kraken.com/v2").
func NewTickerFeed(wsURL string, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		tickerCh:   make(chan types.PriceQuote, tickerBufferSize),
		logger:     logger.With("component", "ws_ticker"),
	}
}

// Prices returns a read-only channel of pushed price quotes.
func (f *TickerFeed) Prices() <-chan types.PriceQuote { return f.tickerCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("ticker websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// Subscribe adds pairs to the tracked set and, if connected, sends a
// subscribe message immediately.
func (f *TickerFeed) Subscribe(pairs []string) error {
	f.subscribedMu.Lock()
	for _, p := range pairs {
		f.subscribed[p] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(subscribeMsg(pairs))
}

func subscribeMsg(pairs []string) krakenSubscribeRequest {
	return krakenSubscribeRequest{
		Method: "subscribe",
		Params: krakenSubscribeParams{
			Channel: "ticker",
			Symbol:  pairs,
		},
	}
}

type krakenSubscribeRequest struct {
	Method string                `json:"method"`
	Params krakenSubscribeParams `json:"params"`
}

type krakenSubscribeParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

// krakenTickerMessage is Kraken's v2 ticker channel push: {"channel":
// "ticker", "type": "snapshot"|"update", "data": [{...}]}.
type krakenTickerMessage struct {
	Channel string            `json:"channel"`
	Type    string            `json:"type"`
	Data    []krakenTickerRow `json:"data"`
}

type krakenTickerRow struct {
	Symbol string `json:"symbol"`
	Last   string `json:"last"`
}

// Close gracefully closes the connection.
func (f *TickerFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *TickerFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("ticker websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *TickerFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	pairs := make([]string, 0, len(f.subscribed))
	for p := range f.subscribed {
		pairs = append(pairs, p)
	}
	f.subscribedMu.RUnlock()

	if len(pairs) == 0 {
		return nil
	}
	return f.writeJSON(subscribeMsg(pairs))
}

func (f *TickerFeed) dispatchMessage(data []byte) {
	var msg krakenTickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("ignoring non-ticker ws message", "data", string(data))
		return
	}
	if msg.Channel != "ticker" {
		return
	}

	for _, row := range msg.Data {
		price, err := decimal.NewFromString(row.Last)
		if err != nil {
			f.logger.Warn("malformed ticker price", "symbol", row.Symbol, "raw", row.Last)
			continue
		}
		quote := types.PriceQuote{Pair: row.Symbol, Price: price, ReceivedAt: time.Now().UTC()}
		select {
		case f.tickerCh <- quote:
		default:
			f.logger.Warn("ticker channel full, dropping quote", "pair", row.Symbol)
		}
	}
}

func (f *TickerFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]string{"method": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *TickerFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}
