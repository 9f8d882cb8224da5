// Package progress implements the C7 realtime progress bus: a WebSocket hub
// where each client subscribes to specific job ids and receives only the
// events for those jobs, generalizing the broadcast-to-everyone model into
// a per-subscription one.
package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is an inbound subscribe/unsubscribe control message.
type clientMessage struct {
	Action string `json:"action"` // "subscribe-to-job" | "unsubscribe-from-job" (short forms "subscribe" | "unsubscribe" also accepted)
	JobID  string `json:"jobId"`
}

// Hub manages WebSocket clients and routes published events only to
// clients subscribed to the event's job id.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	subscribers map[string]map[*Client]bool // jobID -> subscribed clients

	broadcast  chan models.ProgressEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *common.Logger
}

// Client represents a single connected WebSocket subscriber.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.Mutex
	jobIDs  map[string]bool
}

// NewHub creates a new progress Hub.
func NewHub(logger *common.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		subscribers: make(map[string]map[*Client]bool),
		broadcast:   make(chan models.ProgressEvent, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run starts the hub's main event loop. Call as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for jobID := range client.jobIDs {
					h.removeSubscriptionLocked(jobID, client)
				}
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event models.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal progress event")
		return
	}

	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.subscribers[event.JobID]))
	for c := range h.subscribers[event.JobID] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range recipients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			delete(h.clients, c)
			for jobID := range c.jobIDs {
				h.removeSubscriptionLocked(jobID, c)
			}
			close(c.send)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) addSubscription(jobID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[jobID] == nil {
		h.subscribers[jobID] = make(map[*Client]bool)
	}
	h.subscribers[jobID][c] = true
	c.mu.Lock()
	c.jobIDs[jobID] = true
	c.mu.Unlock()
}

func (h *Hub) removeSubscription(jobID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubscriptionLocked(jobID, c)
}

// removeSubscriptionLocked requires h.mu held for writing.
func (h *Hub) removeSubscriptionLocked(jobID string, c *Client) {
	if set, ok := h.subscribers[jobID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subscribers, jobID)
		}
	}
	c.mu.Lock()
	delete(c.jobIDs, jobID)
	c.mu.Unlock()
}

// Stop signals the hub's event loop to exit.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Publish implements interfaces.ProgressSink, queuing event for delivery to
// every client subscribed to its job id.
func (h *Hub) Publish(ctx context.Context, event models.ProgressEvent) error {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("jobId", event.JobID).Msg("progress broadcast channel full, dropping event")
	}
	return nil
}

// ServeWS upgrades an HTTP connection to WebSocket and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		jobIDs: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
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

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe-to-job", "subscribe":
			c.hub.addSubscription(msg.JobID, c)
		case "unsubscribe-from-job", "unsubscribe":
			c.hub.removeSubscription(msg.JobID, c)
		}
	}
}
