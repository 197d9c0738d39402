// Package stream is the venue's outbound fan-out, spec.md §6.2: ordered
// per-channel pull delivery over websocket, covering orderbook/trades/
// risk/events channels. Grounded on the teacher's pkg/api/{websocket.go,
// server.go} Hub/Client registration and per-channel subscription model,
// generalized from a single broadcast channel namespace to the spec's
// symbol-scoped, trader-scoped, and global_risk channels.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub maintains active websocket connections and fans out channel
// publishes to their subscribers, per-channel delivery order preserved by
// each client's own buffered send queue.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[*Client]struct{}), logger: logger}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish sends data to every client subscribed to channel. A client whose
// send buffer is full is dropped rather than blocking the publisher — spec.md
// §6.2 channels are best-effort snapshots/deltas, not a guaranteed-delivery
// log; a lagging client should resubscribe for a fresh snapshot.
func (h *Hub) Publish(channel string, data interface{}) {
	payload, err := json.Marshal(envelope{Channel: channel, Data: data, At: time.Now().UnixMilli()})
	if err != nil {
		h.logger.Warn("stream publish marshal failed", zap.String("channel", channel), zap.Error(err))
		return
	}

	var lagging []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("stream client buffer full, dropping client", zap.String("channel", channel))
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range lagging {
		h.unregister(c)
	}
}

type envelope struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
	At      int64       `json:"ts_ms"`
}

// subscribeRequest is the client->server control message for (un)subscribing
// to channels, spec.md §6.2's channel names used verbatim as values.
type subscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// Client is one websocket connection and its channel subscriptions.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subsMu sync.RWMutex
	subs   map[string]struct{}
}

func (c *Client) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *Client) subscribe(channel string) {
	c.subsMu.Lock()
	c.subs[channel] = struct{}{}
	c.subsMu.Unlock()
}

func (c *Client) unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subs, channel)
	c.subsMu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		switch req.Op {
		case "subscribe":
			for _, ch := range req.Channels {
				c.subscribe(ch)
			}
		case "unsubscribe":
			for _, ch := range req.Channels {
				c.unsubscribe(ch)
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
