package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"estatecrm_backend/internal/events"
	"estatecrm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// pongWait must exceed the heartbeat interval so a healthy peer always
	// answers in time.
	pongWaitFactor = 2
)

// Hub is the server side of the realtime transport. Connections subscribe
// to lead channels and the funnel-wide channel; stage changes arriving on
// the event bus are fanned out to subscribers.
type Hub struct {
	log       *logger.Logger
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[*connection]struct{}
}

type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]struct{}
}

// NewHub creates the hub and wires it to the event bus.
func NewHub(bus events.Bus, heartbeat time.Duration, log *logger.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	h := &Hub{
		log:       log,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origin enforcement is handled by CORS on the rest of
			// the API; the ws endpoint accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*connection]struct{}),
	}
	h.subscribeBus(bus)
	return h
}

func (h *Hub) subscribeBus(bus events.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.ConversionEventLogged{}.EventName(), events.HandlerFunc(func(_ context.Context, event events.Event) error {
		e, ok := event.(events.ConversionEventLogged)
		if !ok {
			return nil
		}
		h.publish(KindConversionEvent, e, LeadChannel(e.LeadID.String()))
		return nil
	}))
	bus.Subscribe(events.LeadStageChanged{}.EventName(), events.HandlerFunc(func(_ context.Context, event events.Event) error {
		e, ok := event.(events.LeadStageChanged)
		if !ok {
			return nil
		}
		h.publish(KindFunnelUpdate, e, ChannelFunnel, LeadChannel(e.LeadID.String()))
		return nil
	}))
	bus.Subscribe(events.LeadStageOverridden{}.EventName(), events.HandlerFunc(func(_ context.Context, event events.Event) error {
		e, ok := event.(events.LeadStageOverridden)
		if !ok {
			return nil
		}
		h.publish(KindStatusUpdate, e, ChannelFunnel, LeadChannel(e.LeadID.String()))
		return nil
	}))
}

func (h *Hub) publish(kind string, payload interface{}, channels ...string) {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		if h.log != nil {
			h.log.Error("realtime message marshal failed", "error", err, "kind", kind)
		}
		return
	}
	for _, channel := range channels {
		h.Broadcast(channel, msg)
	}
}

// Broadcast delivers a message to every connection subscribed to channel.
// Slow or broken connections are dropped, never waited on.
func (h *Hub) Broadcast(channel string, msg Message) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if !conn.subscribed(channel) {
			continue
		}
		if err := conn.write(msg); err != nil {
			h.drop(conn)
		}
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// HandleWS upgrades the request and serves the connection until it closes.
func (h *Hub) HandleWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	conn := &connection{ws: ws, channels: make(map[string]struct{})}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go h.pingLoop(conn)
	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *connection) {
	defer h.drop(conn)

	pongWait := h.heartbeat * pongWaitFactor
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case KindSubscribe:
			if channel, ok := subscriptionChannel(msg); ok {
				conn.subscribe(channel)
			}
		case KindUnsubscribe:
			if channel, ok := subscriptionChannel(msg); ok {
				conn.unsubscribe(channel)
			}
		case KindPing:
			pong, err := NewMessage(KindPong, nil)
			if err == nil {
				if err := conn.write(pong); err != nil {
					return
				}
			}
		}
	}
}

func (h *Hub) pingLoop(conn *connection) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for range ticker.C {
		if !h.alive(conn) {
			return
		}
		conn.writeMu.Lock()
		err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		conn.writeMu.Unlock()
		if err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) alive(conn *connection) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[conn]
	return ok
}

func (h *Hub) drop(conn *connection) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if ok {
		_ = conn.ws.Close()
	}
}

// Close terminates every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*connection]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.ws.Close()
	}
}

func subscriptionChannel(msg Message) (string, bool) {
	var payload SubscriptionPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Channel == "" {
		return "", false
	}
	return payload.Channel, true
}

func (c *connection) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = struct{}{}
}

func (c *connection) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

func (c *connection) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *connection) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}
