// Package natsclient manages the NATS connection the ingest listener rides
// on: connect with timeout, status tracking, and subscription lifecycle.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
)

// ConnectionStatus represents the current state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes one inbound message. The subject is passed through
// because device ids ride in subject tokens, not payloads.
type Handler func(ctx context.Context, subject string, data []byte)

// Client wraps a NATS connection with reconnect bookkeeping
type Client struct {
	url           string
	clientName    string
	timeout       time.Duration
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	drainTimeout  time.Duration

	mu     sync.RWMutex
	conn   *nats.Conn
	status ConnectionStatus
	subs   []*nats.Subscription

	metrics *metric.Metrics
	logger  *slog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithClientName sets the connection name advertised to the server
func WithClientName(name string) ClientOption {
	return func(c *Client) { c.clientName = name }
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxReconnects sets the reconnect attempt cap; -1 means unlimited
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) { c.maxReconnects = n }
}

// NewClient creates an unconnected client for the given server URL
func NewClient(url string, metrics *metric.Metrics, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "NATS URL is required")
	}

	c := &Client{
		url:           url,
		timeout:       5 * time.Second,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  20 * time.Second,
		drainTimeout:  10 * time.Second,
		status:        StatusDisconnected,
		metrics:       metrics,
		logger:        logger.With("component", "natsclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the configured server URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsConnected reports whether the connection is currently usable
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	if status == StatusConnected {
		c.metrics.NATSConnected.Set(1)
	} else {
		c.metrics.NATSConnected.Set(0)
	}
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS connection lost", "error", err)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.metrics.NATSReconnects.Inc()
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusClosed)
	c.logger.Info("NATS connection closed")
}

// Connect establishes the connection, bounded by ctx
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			connectDone <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("connected to NATS", "url", c.url)
	return nil
}

// Subscribe registers a handler for the subject. The subscription lives
// until Close.
func (c *Client) Subscribe(ctx context.Context, subject string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Subscribe", "subscribe "+subject)
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Subject, msg.Data)
	})
	if err != nil {
		return errors.Wrap(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// Close drains subscriptions and closes the connection
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	drained := make(chan error, 1)
	go func() {
		drained <- conn.Drain()
	}()

	select {
	case err := <-drained:
		if err != nil {
			conn.Close()
			return errors.Wrap(err, "Client", "Close", "drain")
		}
	case <-ctx.Done():
		conn.Close()
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "drain cancelled")
	}

	c.setStatus(StatusClosed)
	return nil
}
