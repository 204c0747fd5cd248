package realtime

import (
	"context"
	"sync"
	"time"

	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/logger"

	"github.com/gorilla/websocket"
)

// Client is the consumer side of the transport: it keeps a connection to
// the hub alive across drops with exponential-backoff reconnects, sends
// heartbeat pings to detect silently-dead connections, and resubscribes
// to the channels it held before a disconnect. Nothing delivered over the
// channel is durable; OnReconnect is the owner's cue to re-fetch state.
type Client struct {
	url    string
	log    *logger.Logger
	dialer *websocket.Dialer

	heartbeat   time.Duration
	backoffBase time.Duration
	backoffCeil time.Duration
	maxAttempts int

	// OnMessage receives every non-control message. Called from the read
	// goroutine; implementations must not block.
	OnMessage func(Message)

	// OnReconnect fires after a dropped connection is re-established and
	// subscriptions are restored.
	OnReconnect func()

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	channels map[string]struct{}
}

// NewClient creates a realtime client for the given ws:// URL.
func NewClient(url string, cfg config.RealtimeConfig, log *logger.Logger) *Client {
	return &Client{
		url:         url,
		log:         log,
		dialer:      websocket.DefaultDialer,
		heartbeat:   cfg.GetRealtimeHeartbeatInterval(),
		backoffBase: cfg.GetRealtimeReconnectBase(),
		backoffCeil: cfg.GetRealtimeReconnectCeiling(),
		maxAttempts: cfg.GetRealtimeReconnectMaxAttempts(),
		channels:    make(map[string]struct{}),
	}
}

// Subscribe registers interest in a channel. The subscription survives
// reconnects; it is replayed to the server on every new connection.
func (c *Client) Subscribe(channel string) error {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
	return c.sendSubscription(KindSubscribe, channel)
}

// Unsubscribe drops interest in a channel.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
	return c.sendSubscription(KindUnsubscribe, channel)
}

// Run connects and serves the connection until ctx is cancelled. Dropped
// connections are re-established with exponential backoff starting at the
// base interval and doubling to the ceiling; when the bounded attempt
// budget is exhausted Run returns TransportUnavailable and the caller
// degrades to polling.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.backoffBase
	if backoff <= 0 {
		backoff = time.Second
	}
	maxAttempts := c.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := 0
	reconnecting := false
	for {
		err := c.connect()
		if err != nil {
			attempt++
			if attempt >= maxAttempts {
				return apperr.TransportUnavailable("realtime channel unreachable after bounded reconnect attempts", err)
			}
			if c.log != nil {
				c.log.Warn("realtime connect failed", "attempt", attempt, "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if c.backoffCeil > 0 && backoff > c.backoffCeil {
				backoff = c.backoffCeil
			}
			continue
		}

		// Connected: the attempt budget and backoff reset per outage.
		attempt = 0
		backoff = c.backoffBase
		if backoff <= 0 {
			backoff = time.Second
		}
		if reconnecting && c.OnReconnect != nil {
			c.OnReconnect()
		}

		_ = c.serve(ctx)
		c.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reconnecting = true

		// Reconnect attempts resume at the base interval after a drop.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// connect dials and replays the held subscriptions.
func (c *Client) connect() error {
	conn, resp, err := c.dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.mu.Lock()
	channels := make([]string, 0, len(c.channels))
	for channel := range c.channels {
		channels = append(channels, channel)
	}
	c.mu.Unlock()

	for _, channel := range channels {
		if err := c.sendSubscription(KindSubscribe, channel); err != nil {
			c.closeConn()
			return err
		}
	}
	return nil
}

// serve pumps messages until the connection dies or ctx is cancelled.
func (c *Client) serve(ctx context.Context) error {
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return apperr.TransportUnavailable("realtime connection closed before serving", nil)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeatLoop(serveCtx)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == KindPong {
			continue
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
}

// heartbeatLoop sends application-level pings so a half-open connection is
// detected within one interval instead of lingering silently.
func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := c.heartbeat
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping, err := NewMessage(KindPing, nil)
			if err != nil {
				continue
			}
			if err := c.write(ping); err != nil {
				// The read loop will observe the broken connection.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) sendSubscription(kind, channel string) error {
	msg, err := NewMessage(kind, SubscriptionPayload{Channel: channel})
	if err != nil {
		return err
	}
	return c.write(msg)
}

func (c *Client) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		// Not connected yet; the subscription is replayed on connect.
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *Client) closeConn() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
