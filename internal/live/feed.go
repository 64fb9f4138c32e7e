// Package live contains the background I/O tasks: the websocket
// market feed, the user-data listen-key keepalive, and the periodic
// reconcile loop. Tasks communicate with the main loop through shared
// stores and a stop context; no futures bubble up.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

const defaultFeedURL = "wss://fstream.binance.com/stream"

// FeedConfig tunes the market feed.
type FeedConfig struct {
	URL           string
	Symbols       []string
	ReconnectWait time.Duration
	BufferSize    int
}

// Feed streams L1 bookTicker snapshots over a websocket into a
// channel consumed by the main loop.
type Feed struct {
	config FeedConfig
	clock  core.Clock
	logger core.ILogger
	out    chan core.Snapshot
}

// NewFeed creates a feed.
func NewFeed(config FeedConfig, clock core.Clock, logger core.ILogger) *Feed {
	if config.URL == "" {
		config.URL = defaultFeedURL
	}
	if config.ReconnectWait <= 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	return &Feed{
		config: config,
		clock:  clock,
		logger: logger.WithField("component", "market_feed"),
		out:    make(chan core.Snapshot, config.BufferSize),
	}
}

// Snapshots returns the channel the main loop consumes.
func (f *Feed) Snapshots() <-chan core.Snapshot { return f.out }

func (f *Feed) streamURL() string {
	streams := make([]string, 0, len(f.config.Symbols))
	for _, s := range f.config.Symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	return fmt.Sprintf("%s?streams=%s", f.config.URL, strings.Join(streams, "/"))
}

// Run connects and pumps snapshots until the context is cancelled,
// reconnecting on errors.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.out)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.pump(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("feed disconnected, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.config.ReconnectWait):
			}
		}
	}
}

type bookTickerEvent struct {
	Data struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		BidPrice  string `json:"b"`
		BidQty    string `json:"B"`
		AskPrice  string `json:"a"`
		AskQty    string `json:"A"`
	} `json:"data"`
}

func (f *Feed) pump(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()
	f.logger.Info("feed connected", "symbols", f.config.Symbols)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		snap, ok := f.parse(raw)
		if !ok {
			continue
		}
		select {
		case f.out <- snap:
		default:
			// Main loop is behind; drop the oldest by draining one.
			select {
			case <-f.out:
			default:
			}
			f.out <- snap
		}
	}
}

func (f *Feed) parse(raw []byte) (core.Snapshot, bool) {
	var event bookTickerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		f.logger.Debug("unparseable feed message", "error", err)
		return core.Snapshot{}, false
	}
	if event.Data.EventType != "bookTicker" {
		return core.Snapshot{}, false
	}
	bid, err := decimal.NewFromString(event.Data.BidPrice)
	if err != nil {
		return core.Snapshot{}, false
	}
	ask, err := decimal.NewFromString(event.Data.AskPrice)
	if err != nil {
		return core.Snapshot{}, false
	}
	bidQty, err := decimal.NewFromString(event.Data.BidQty)
	if err != nil {
		return core.Snapshot{}, false
	}
	askQty, err := decimal.NewFromString(event.Data.AskQty)
	if err != nil {
		return core.Snapshot{}, false
	}
	ts := event.Data.EventTime
	if ts == 0 {
		ts = f.clock.NowMs()
	}
	return core.Snapshot{
		TS:       ts,
		Symbol:   event.Data.Symbol,
		BidPrice: bid,
		AskPrice: ask,
		BidQty:   bidQty,
		AskQty:   askQty,
	}, true
}
