package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ephemeral-vault/internal/observability"
)

// ErrClientClosed is returned by calls on a closed WSClientImpl.
var ErrClientClosed = errors.New("client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	ReconnectDelay    time.Duration // initial delay before reconnect
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	SubscribeTimeout  time.Duration
	BufferSize        int // notification channel capacity
	Logger            *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        1024,
	}
}

// withDefaults fills zero fields from def.
func (c WSClientConfig) withDefaults(def WSClientConfig) WSClientConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = def.SubscribeTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	return c
}

// subscription is one logsSubscribe stream. id changes across reconnects.
type subscription struct {
	id         int64
	filter     LogsFilter
	ch         chan LogNotification
	registered bool
}

// pendingSub awaits a subscription confirmation. readLoop assigns the id
// before dispatching the next message so no notification is missed.
type pendingSub struct {
	sub     *subscription
	confirm chan struct{}
}

// WSClientImpl implements WSClient using gorilla/websocket.
// It reconnects with exponential backoff and replays every subscription.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	requestID atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	subs    []*subscription
	pending map[uint64]*pendingSub // keyed by request id
}

// NewWSClient connects to endpoint and starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = config.withDefaults(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		done:     make(chan struct{}),
		pending:  make(map[uint64]*pendingSub),
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

func (c *WSClientImpl) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// SubscribeLogs implements WSClient.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	sub := &subscription{
		filter: filter,
		ch:     make(chan LogNotification, c.config.BufferSize),
	}
	if err := c.subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

// subscribe sends logsSubscribe for sub and waits until readLoop has
// recorded the confirmed subscription id.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *subscription) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	var target any = "all"
	if len(sub.filter.Mentions) > 0 {
		target = map[string][]string{"mentions": sub.filter.Mentions}
	}
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params:  []any{target, map[string]string{"commitment": DefaultCommitment}},
	}

	confirm := make(chan struct{})
	c.mu.Lock()
	c.pending[reqID] = &pendingSub{sub: sub, confirm: confirm}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()
	select {
	case <-confirm:
		return nil
	case <-timer.C:
		return fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout)
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSClientImpl) write(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// Close implements WSClient.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	for _, sub := range c.subs {
		close(sub.ch)
	}
	c.subs = nil
	c.mu.Unlock()
	return nil
}

// readLoop dispatches incoming messages and reconnects on read errors.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	delay := c.config.ReconnectDelay
	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn != nil {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
			_, message, err := conn.ReadMessage()
			if err == nil {
				delay = c.config.ReconnectDelay
				c.handleMessage(message)
				continue
			}
			if c.closed.Load() {
				return
			}
			c.logger.Printf("read error: %v; reconnecting in %v", err, delay)
		}

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, c.config.MaxReconnectDelay)
		c.reconnect()
	}
}

// reconnect replaces the connection and replays all subscriptions.
// Resubscription runs in its own goroutine since confirmations arrive
// through readLoop.
func (c *WSClientImpl) reconnect() {
	observability.RecordWSReconnect()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.dial(ctx); err != nil {
		c.logger.Printf("reconnect failed: %v", err)
		return
	}

	c.mu.Lock()
	subs := append([]*subscription(nil), c.subs...)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for _, sub := range subs {
			ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
			err := c.subscribe(ctx, sub)
			cancel()
			if err != nil {
				c.logger.Printf("resubscribe failed: %v", err)
			}
		}
	}()
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Printf("malformed message: %v", err)
		return
	}

	switch {
	case msg.Method == "logsNotification" && msg.Params != nil:
		c.dispatch(msg.Params)
	case msg.Error != nil:
		c.logger.Printf("error response id=%d: %s", msg.ID, msg.Error.Error())
	case msg.ID != 0 && len(msg.Result) > 0:
		var subID int64
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return
		}
		c.mu.Lock()
		if p, ok := c.pending[msg.ID]; ok {
			delete(c.pending, msg.ID)
			p.sub.id = subID
			if !p.sub.registered && !c.closed.Load() {
				p.sub.registered = true
				c.subs = append(c.subs, p.sub)
			}
			close(p.confirm)
		}
		c.mu.Unlock()
	}
}

// dispatch delivers a notification, blocking until the subscriber reads it
// or the client closes.
func (c *WSClientImpl) dispatch(p *wsNotificationParams) {
	var target chan LogNotification
	c.mu.Lock()
	for _, sub := range c.subs {
		if sub.id == p.Subscription {
			target = sub.ch
			break
		}
	}
	c.mu.Unlock()
	if target == nil {
		return
	}

	observability.RecordWSNotification()
	n := LogNotification{
		Signature: p.Result.Value.Signature,
		Logs:      p.Result.Value.Logs,
		Err:       p.Result.Value.Err,
		Slot:      p.Result.Context.Slot,
	}
	select {
	case target <- n:
	case <-c.done:
	}
}

func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error in readLoop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// wsMessage covers subscription confirmations, errors and notifications.
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *RPCError             `json:"error,omitempty"`
	Method  string                `json:"method,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string   `json:"signature"`
			Logs      []string `json:"logs"`
			Err       any      `json:"err"`
		} `json:"value"`
	} `json:"result"`
}

var _ WSClient = (*WSClientImpl)(nil)
