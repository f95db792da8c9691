package dse

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kelsoko1/terminal1-sub005/pkg/metrics"
)

// Feed message types, matching the gateway's {type, data} frames.
const (
	MsgPriceUpdate       = "PRICE_UPDATE"
	MsgOrderUpdate       = "ORDER_UPDATE"
	MsgMarketIndexUpdate = "MARKET_INDEX_UPDATE"
	MsgNewsUpdate        = "NEWS_UPDATE"
)

// Message is a single inbound frame from the real-time feed.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscribeFrame struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Token  string `json:"token,omitempty"`
}

// Feed connection states.
const (
	StateDisconnected int32 = iota
	StateConnecting
	StateConnected
)

// ReconnectPolicy controls the feed client's reconnect behaviour.
// Factor 1.0 with zero jitter gives fixed spacing; a larger factor
// gives exponential backoff.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       float64 // fraction of the delay, 0..1
	MaxAttempts  int     // consecutive failures before giving up
}

// DefaultReconnectPolicy matches the venue's documented client
// behaviour: five attempts, five seconds apart.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 5 * time.Second,
		Factor:       1.0,
		MaxDelay:     5 * time.Second,
		Jitter:       0,
		MaxAttempts:  5,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

// FeedClient maintains a reconnecting websocket to the exchange's
// real-time endpoint. Subscription intent lives in a SubscriptionStore
// and is replayed after every reconnect. When the reconnect budget is
// exhausted the Failed channel is closed; the client never retries
// silently past that point.
type FeedClient struct {
	url    string
	token  string
	policy ReconnectPolicy
	subs   SubscriptionStore
	logger *zap.Logger
	dialer *websocket.Dialer

	state    atomic.Int32
	writeMu  sync.Mutex
	conn     *websocket.Conn
	msgCh    chan Message
	failedCh chan struct{}
	quitCh   chan struct{}
	quitOnce sync.Once
	failOnce sync.Once
}

// NewFeedClient creates a feed client for the given websocket URL.
func NewFeedClient(url, token string, policy ReconnectPolicy, subs SubscriptionStore, logger *zap.Logger) *FeedClient {
	if policy.MaxAttempts <= 0 {
		policy = DefaultReconnectPolicy()
	}
	if subs == nil {
		subs = NewMemorySubscriptionStore()
	}
	return &FeedClient{
		url:      url,
		token:    token,
		policy:   policy,
		subs:     subs,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		msgCh:    make(chan Message, 1000),
		failedCh: make(chan struct{}),
		quitCh:   make(chan struct{}),
	}
}

// Start launches the connection manager.
func (c *FeedClient) Start(ctx context.Context) {
	go c.run(ctx)
}

// Messages returns the inbound message stream.
func (c *FeedClient) Messages() <-chan Message { return c.msgCh }

// Failed is closed when the reconnect budget is exhausted.
func (c *FeedClient) Failed() <-chan struct{} { return c.failedCh }

// State returns the current connection state.
func (c *FeedClient) State() int32 { return c.state.Load() }

// Close shuts the client down.
func (c *FeedClient) Close() {
	c.quitOnce.Do(func() { close(c.quitCh) })
	c.writeMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.writeMu.Unlock()
}

// Subscribe records subscription intent and, if connected, sends the
// subscribe frame immediately.
func (c *FeedClient) Subscribe(ctx context.Context, symbol string) error {
	if err := c.subs.Add(ctx, symbol); err != nil {
		return err
	}
	if c.state.Load() == StateConnected {
		return c.writeFrame(subscribeFrame{Action: "subscribe", Symbol: symbol, Token: c.token})
	}
	return nil
}

// Unsubscribe removes subscription intent and, if connected, tells the
// venue to stop streaming the symbol.
func (c *FeedClient) Unsubscribe(ctx context.Context, symbol string) error {
	if err := c.subs.Remove(ctx, symbol); err != nil {
		return err
	}
	if c.state.Load() == StateConnected {
		return c.writeFrame(subscribeFrame{Action: "unsubscribe", Symbol: symbol, Token: c.token})
	}
	return nil
}

func (c *FeedClient) writeFrame(frame subscribeFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteJSON(frame)
}

func (c *FeedClient) run(ctx context.Context) {
	failures := 0
	dropped := false
	for {
		if failures > 0 || dropped {
			attempt := failures
			if attempt == 0 {
				attempt = 1
			}
			select {
			case <-time.After(c.policy.Delay(attempt)):
			case <-c.quitCh:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-c.quitCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.state.Store(StateConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.state.Store(StateDisconnected)
			failures++
			metrics.FeedReconnects.Inc()
			c.logger.Warn("feed dial failed",
				zap.String("url", c.url),
				zap.Int("failures", failures),
				zap.Error(err))
			if failures >= c.policy.MaxAttempts {
				c.giveUp()
				return
			}
			continue
		}

		failures = 0
		dropped = false
		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()
		c.state.Store(StateConnected)
		metrics.FeedConnected.Set(1)
		c.logger.Info("feed connected", zap.String("url", c.url))

		c.resubscribe(ctx)
		c.readLoop(conn)

		c.state.Store(StateDisconnected)
		metrics.FeedConnected.Set(0)
		dropped = true

		select {
		case <-c.quitCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		c.logger.Warn("feed disconnected, reconnecting")
	}
}

func (c *FeedClient) resubscribe(ctx context.Context) {
	symbols, err := c.subs.List(ctx)
	if err != nil {
		c.logger.Error("failed to load subscription set", zap.Error(err))
		return
	}
	for _, sym := range symbols {
		if err := c.writeFrame(subscribeFrame{Action: "subscribe", Symbol: sym, Token: c.token}); err != nil {
			c.logger.Error("resubscribe failed", zap.String("symbol", sym), zap.Error(err))
			return
		}
	}
}

func (c *FeedClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		metrics.FeedMessages.WithLabelValues(msg.Type).Inc()
		select {
		case c.msgCh <- msg:
		default:
			c.logger.Warn("feed message dropped, consumer too slow", zap.String("type", msg.Type))
		}
	}
}

func (c *FeedClient) giveUp() {
	c.failOnce.Do(func() {
		c.logger.Error("feed reconnect budget exhausted, giving up",
			zap.Int("attempts", c.policy.MaxAttempts))
		close(c.failedCh)
	})
}
