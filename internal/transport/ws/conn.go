package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drafttable/internal/domain"
	"drafttable/internal/netutil"
	"drafttable/internal/observability/metrics"
	"drafttable/internal/secure"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64

	rateWindow = time.Second
)

// outbound is one queued server->client event. Plain frames (handshake
// replies and pre-handshake notices) bypass the channel cipher.
type outbound struct {
	event   string
	payload any
	plain   bool
}

// client is one live websocket connection: a reader goroutine feeding the
// hub's dispatch loop and a writer goroutine draining the send queue.
type client struct {
	id      string
	hub     *Hub
	ws      *websocket.Conn
	session *domain.ConnectionSession

	channel atomic.Pointer[secure.Channel]

	// send is never closed: shutdown is signalled through done, so the
	// reader and the dispatch goroutine can race enqueue against close
	// without a send-on-closed-channel panic.
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once

	// Fixed-window event rate limiting, touched only by the reader.
	windowStart time.Time
	windowCount int
}

// newClient builds the connection record. The source address is normalized
// here, before any goroutine starts, so caps, lockouts and log lines all
// read the same immutable value.
func newClient(hub *Hub, ws *websocket.Conn, sourceAddr string) *client {
	id := uuid.NewString()
	addr, _ := netutil.NormalizeIP(sourceAddr)
	return &client{
		id:  id,
		hub: hub,
		ws:  ws,
		session: &domain.ConnectionSession{
			ConnID:     id,
			SourceAddr: addr,
			Role:       domain.RoleUnassigned,
		},
		send: make(chan outbound, sendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues an event for delivery. A full queue drops the connection:
// a client that cannot keep up would otherwise stall the dispatch loop.
func (c *client) enqueue(event string, payload any, plain bool) {
	select {
	case c.send <- outbound{event: event, payload: payload, plain: plain}:
	case <-c.done:
	default:
		slog.Warn("send queue overflow, dropping connection", "conn", c.id)
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readLoop decrypts and validates inbound frames, applies the per-connection
// rate ceiling, and feeds surviving events to the hub.
func (c *client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if c.overRateLimit() {
			metrics.RateLimitDropsTotal.WithLabelValues().Inc()
			slog.Warn("rate ceiling exceeded", "conn", c.id, "addr", c.session.SourceAddr)
			c.enqueue(EvRateLimited, nil, true)
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			continue // protocol error: silent drop
		}

		if env.Event == EvKeyExchange {
			c.handleKeyExchange(env.Payload)
			continue
		}

		ch := c.channel.Load()
		if ch == nil {
			continue // events before the handshake are dropped
		}
		var frame string
		if err := json.Unmarshal(env.Payload, &frame); err != nil {
			continue
		}
		plaintext, ok := ch.Open(frame)
		if !ok {
			continue // failed authentication: silent drop, no oracle
		}
		c.hub.events <- inbound{c: c, event: env.Event, data: plaintext}
	}
}

// overRateLimit counts this frame against the fixed one-second window.
func (c *client) overRateLimit() bool {
	now := time.Now()
	if now.Sub(c.windowStart) >= rateWindow {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount > c.hub.maxEventsPerSecond
}

// handleKeyExchange terminates the secure channel setup. It runs on the
// reader so the channel exists before any encrypted frame can arrive.
func (c *client) handleKeyExchange(payload json.RawMessage) {
	var p keyExchangePayload
	if !decode(payload, &p) {
		c.enqueue(EvKeyExchangeFailed, nil, true)
		return
	}
	serverPub, channel, err := secure.Handshake(p.ClientPublicKey)
	if err != nil {
		slog.Debug("handshake failed", "conn", c.id, "error", err)
		c.enqueue(EvKeyExchangeFailed, nil, true)
		return
	}
	// Reply first so the writer cannot encrypt the handshake response.
	c.enqueue(EvKeyExchange, map[string]any{"serverPublicKey": serverPub}, true)
	c.channel.Store(channel)
}

// writeLoop serializes, encrypts and sends queued events, and keeps the
// connection alive with pings.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case out := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.write(out) {
				return
			}
		case <-c.done:
			c.flush()
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush delivers whatever was queued before the close signal, then says
// goodbye. Rejection notices (SETUP_REQUIRED, RATE_LIMITED) ride this path.
func (c *client) flush() {
	for {
		select {
		case out := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.write(out) {
				return
			}
		default:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *client) write(out outbound) bool {
	data, err := c.wrap(out)
	if err != nil {
		slog.Error("outbound frame", "conn", c.id, "event", out.event, "error", err)
		return true
	}
	return c.ws.WriteMessage(websocket.TextMessage, data) == nil
}

// wrap builds the outer envelope, sealing the payload when the channel key
// is established and the frame is not explicitly plain.
func (c *client) wrap(out outbound) ([]byte, error) {
	var payload json.RawMessage
	if out.payload != nil {
		body, err := json.Marshal(out.payload)
		if err != nil {
			return nil, err
		}
		payload = body
	}
	if ch := c.channel.Load(); ch != nil && !out.plain {
		if payload == nil {
			payload = []byte("{}")
		}
		frame, err := ch.Seal(payload)
		if err != nil {
			return nil, err
		}
		payload, err = json.Marshal(frame)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(envelope{Event: out.event, Payload: payload})
}
