package stub

import (
	"context"
	"sync"

	"ephemeral-vault/internal/solana"
)

// WSClient implements solana.WSClient with channels fed by Publish.
type WSClient struct {
	mu     sync.Mutex
	subs   []chan solana.LogNotification
	closed bool
}

// NewWSClient creates a new stub WebSocket client.
func NewWSClient() *WSClient {
	return &WSClient{}
}

// SubscribeLogs returns a buffered channel that receives every published notification.
func (c *WSClient) SubscribeLogs(_ context.Context, _ solana.LogsFilter) (<-chan solana.LogNotification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, solana.ErrClientClosed
	}
	ch := make(chan solana.LogNotification, 64)
	c.subs = append(c.subs, ch)
	return ch, nil
}

// Publish delivers n to every subscriber.
func (c *WSClient) Publish(n solana.LogNotification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		ch <- n
	}
}

// Close closes all subscription channels.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	return nil
}

var _ solana.WSClient = (*WSClient)(nil)
