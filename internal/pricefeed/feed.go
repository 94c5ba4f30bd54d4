// Package pricefeed streams trade prices from an exchange websocket and
// fans them out to subscribers.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"DefiFlow/pkg/logger"
)

// DefaultURL is the Binance ETH/USDC trade stream.
const DefaultURL = "wss://stream.binance.com:9443/ws/ethusdc@trade"

// Tick is one observed trade price.
type Tick struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	At         time.Time       `json:"at"`
}

type tradeMessage struct {
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	TradeTime int64           `json:"T"`
}

// ParseTrade decodes a Binance trade payload.
func ParseTrade(data []byte) (Tick, error) {
	var msg tradeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Tick{}, err
	}
	if msg.Symbol == "" || !msg.Price.IsPositive() {
		return Tick{}, fmt.Errorf("not a trade message: %s", strings.TrimSpace(string(data)))
	}
	at := time.Now()
	if msg.TradeTime > 0 {
		at = time.UnixMilli(msg.TradeTime)
	}
	return Tick{Instrument: msg.Symbol, Price: msg.Price, At: at}, nil
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff bounds the reconnect delay.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client keeps a websocket subscription alive for as long as its context
// lives, reconnecting with capped exponential backoff.
type Client struct {
	url        string
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	latest Tick
	seen   bool
}

// NewClient creates a feed client for url.
func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		logger:     logger.Named("pricefeed"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Latest returns the most recent tick.
func (c *Client) Latest() (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.seen
}

// Run delivers ticks to sink until ctx is cancelled. Connection loss is
// never fatal.
func (c *Client) Run(ctx context.Context, sink func(Tick)) error {
	backoff := c.minBackoff
	for {
		delivered, err := c.session(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = c.minBackoff
		}
		c.logger.Warn("价格流连接中断，稍后重连", slog.String("url", c.url), slog.Duration("backoff", backoff), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) session(ctx context.Context, sink func(Tick)) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	delivered := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return delivered, errors.New("server closed the stream")
			}
			return delivered, err
		}
		tick, err := ParseTrade(data)
		if err != nil {
			c.logger.Debug("忽略无法解析的消息", slog.Any("error", err))
			continue
		}
		c.mu.Lock()
		c.latest, c.seen = tick, true
		c.mu.Unlock()
		delivered = true
		if sink != nil {
			sink(tick)
		}
	}
}
