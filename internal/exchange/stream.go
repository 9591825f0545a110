package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"futures-sentinel/internal/logger"
)

const (
	streamBaseURL  = "wss://fstream.binance.com/stream?streams=%s"
	reconnectDelay = 5 * time.Second
)

type liquidationEvent struct {
	long      bool
	amount    float64
	timestamp time.Time
}

// ForceOrderFeed aggregates liquidation volume per symbol from the combined
// force-order websocket stream over a sliding window.
type ForceOrderFeed struct {
	url    string
	window time.Duration

	mu     sync.RWMutex
	events map[string][]liquidationEvent

	now func() time.Time
}

// NewForceOrderFeed builds a feed subscribed to the symbols' force-order
// streams, aggregating over the given window.
func NewForceOrderFeed(symbols []string, window time.Duration) *ForceOrderFeed {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@forceOrder")
	}
	return &ForceOrderFeed{
		url:    fmt.Sprintf(streamBaseURL, strings.Join(streams, "/")),
		window: window,
		events: make(map[string][]liquidationEvent),
		now:    time.Now,
	}
}

// Run connects and consumes the stream until the context is canceled,
// reconnecting after connection loss.
func (f *ForceOrderFeed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			logger.Warn("force-order stream connect failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}
		logger.Info("force-order stream connected")

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				if ctx.Err() == nil {
					logger.Warn("force-order stream read failed, reconnecting: %v", err)
				}
				break
			}
			f.handleMessage(message)
		}
		close(done)
	}
}

// Volumes returns the long and short liquidation volume (quote units) for the
// symbol within the window. ok is false when no events were seen.
func (f *ForceOrderFeed) Volumes(symbol string) (longVol, shortVol float64, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cutoff := f.now().Add(-f.window)
	for _, ev := range f.events[symbol] {
		if !ev.timestamp.After(cutoff) {
			continue
		}
		ok = true
		if ev.long {
			longVol += ev.amount
		} else {
			shortVol += ev.amount
		}
	}
	return longVol, shortVol, ok
}

type forceOrderMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		Order struct {
			Symbol   string `json:"s"`
			Side     string `json:"S"`
			Quantity string `json:"q"`
			AvgPrice string `json:"ap"`
		} `json:"o"`
	} `json:"data"`
}

func (f *ForceOrderFeed) handleMessage(message []byte) {
	var msg forceOrderMsg
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	order := msg.Data.Order
	if order.Symbol == "" {
		return
	}

	qty, err1 := strconv.ParseFloat(order.Quantity, 64)
	price, err2 := strconv.ParseFloat(order.AvgPrice, 64)
	if err1 != nil || err2 != nil || qty <= 0 || price <= 0 {
		return
	}

	// A forced SELL closes a long position, a forced BUY closes a short.
	f.record(order.Symbol, order.Side == "SELL", qty*price)
}

func (f *ForceOrderFeed) record(symbol string, long bool, amount float64) {
	now := f.now()
	cutoff := now.Add(-f.window)

	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.events[symbol][:0]
	for _, ev := range f.events[symbol] {
		if ev.timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	f.events[symbol] = append(kept, liquidationEvent{long: long, amount: amount, timestamp: now})
}
