// Package websocket streams reconstructed book state, trades and
// cancels to subscribed clients.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/bookd/pkg/feed"
	"github.com/luxfi/bookd/pkg/lob"
	"github.com/luxfi/log"
)

// Subscription channels.
const (
	ChannelBook    = "book"
	ChannelTrades  = "trades"
	ChannelCancels = "cancels"
	ChannelFills   = "fills"
)

// Server fans book updates out to WebSocket clients.
type Server struct {
	runner *feed.Runner
	logger log.Logger

	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	subscriptions map[string]map[*Client]bool
	subMu         sync.RWMutex

	messagesOut uint64
	clientCount int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Client represents a WebSocket client connection
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	send     chan []byte
	channels map[string]bool
	mu       sync.RWMutex
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Sequence  uint64      `json:"sequence,omitempty"`
}

// BookSnapshot is the depth snapshot sent when a client subscribes to
// the book channel, and on subsequent broadcasts.
type BookSnapshot struct {
	Type      string      `json:"type"` // "snapshot" or "update"
	Event     uint64      `json:"event"`
	Bids      []lob.Level `json:"bids"`
	Asks      []lob.Level `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

const snapshotDepth = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewServer creates a WebSocket server over a book runner.
func NewServer(runner *feed.Runner, logger log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		runner:        runner,
		logger:        logger,
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 100),
		unregister:    make(chan *Client, 100),
		broadcast:     make(chan Message, 1000),
		subscriptions: make(map[string]map[*Client]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the hub goroutine. Mount Handler on an HTTP mux to
// accept connections.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.runHub()
}

// Stop shuts down the hub and disconnects all clients.
func (s *Server) Stop() {
	s.logger.Info("stopping websocket server")
	s.cancel()
	s.wg.Wait()
}

// Handler returns the WebSocket upgrade endpoint.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleWebSocket
}

// runHub manages client connections and message routing
func (s *Server) runHub() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.clientsMu.Lock()
			for client := range s.clients {
				close(client.send)
			}
			s.clientsMu.Unlock()
			return

		case client := <-s.register:
			s.clientsMu.Lock()
			s.clients[client] = true
			atomic.AddInt32(&s.clientCount, 1)
			s.clientsMu.Unlock()
			s.logger.Debug("client connected", "id", client.id, "total", atomic.LoadInt32(&s.clientCount))

		case client := <-s.unregister:
			s.clientsMu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				atomic.AddInt32(&s.clientCount, -1)
				s.unsubscribeAll(client)
			}
			s.clientsMu.Unlock()
			s.logger.Debug("client disconnected", "id", client.id, "total", atomic.LoadInt32(&s.clientCount))

		case message := <-s.broadcast:
			s.broadcastMessage(message)

		case <-ticker.C:
			s.logger.Debug("websocket stats",
				"clients", atomic.LoadInt32(&s.clientCount),
				"messages", atomic.LoadUint64(&s.messagesOut))
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client connection
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:       generateClientID(),
		conn:     conn,
		server:   s,
		send:     make(chan []byte, 256),
		channels: make(map[string]bool),
	}

	s.register <- client

	go client.writePump()
	go client.readPump()

	welcome := Message{
		Type:      "welcome",
		Data:      map[string]interface{}{"id": client.id},
		Timestamp: time.Now().Unix(),
	}
	client.sendMessage(welcome)
}

// readPump handles incoming messages from client
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg json.RawMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("websocket read error", "error", err)
			}
			break
		}

		c.handleMessage(msg)
	}
}

// writePump handles outgoing messages to client
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

			c.conn.WriteMessage(websocket.TextMessage, message)
			atomic.AddUint64(&c.server.messagesOut, 1)

			// Drain queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.WriteMessage(websocket.TextMessage, <-c.send)
				atomic.AddUint64(&c.server.messagesOut, 1)
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming client messages
func (c *Client) handleMessage(raw json.RawMessage) {
	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("Invalid message format")
		return
	}

	msgType, ok := msg["type"].(string)
	if !ok {
		c.sendError("Missing message type")
		return
	}

	switch msgType {
	case "subscribe":
		c.handleSubscribe(msg)
	case "unsubscribe":
		c.handleUnsubscribe(msg)
	case "ping":
		c.sendMessage(Message{Type: "pong", Timestamp: time.Now().Unix()})
	default:
		c.sendError(fmt.Sprintf("Unknown message type: %s", msgType))
	}
}

// handleSubscribe handles subscription requests
func (c *Client) handleSubscribe(msg map[string]interface{}) {
	channels, ok := msg["channels"].([]interface{})
	if !ok {
		c.sendError("Invalid channels format")
		return
	}

	for _, ch := range channels {
		channel, ok := ch.(string)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.channels[channel] = true
		c.mu.Unlock()

		c.server.subscribe(channel, c)

		if channel == ChannelBook {
			c.sendBookSnapshot()
		}
	}

	c.sendMessage(Message{
		Type:      "subscribed",
		Data:      map[string]interface{}{"channels": channels},
		Timestamp: time.Now().Unix(),
	})
}

// handleUnsubscribe handles unsubscription requests
func (c *Client) handleUnsubscribe(msg map[string]interface{}) {
	channels, ok := msg["channels"].([]interface{})
	if !ok {
		c.sendError("Invalid channels format")
		return
	}

	for _, ch := range channels {
		channel, ok := ch.(string)
		if !ok {
			continue
		}

		c.mu.Lock()
		delete(c.channels, channel)
		c.mu.Unlock()

		c.server.unsubscribe(channel, c)
	}

	c.sendMessage(Message{
		Type:      "unsubscribed",
		Data:      map[string]interface{}{"channels": channels},
		Timestamp: time.Now().Unix(),
	})
}

// sendBookSnapshot sends the current depth-of-book to one client.
func (c *Client) sendBookSnapshot() {
	st := c.server.runner.State()
	snap := BookSnapshot{
		Type:      "snapshot",
		Event:     st.Event,
		Bids:      c.server.runner.Depth(lob.Buy, snapshotDepth),
		Asks:      c.server.runner.Depth(lob.Sell, snapshotDepth),
		Timestamp: time.Now().Unix(),
	}

	c.sendMessage(Message{
		Type:      "book",
		Channel:   ChannelBook,
		Data:      snap,
		Timestamp: time.Now().Unix(),
		Sequence:  st.Event,
	})
}

// sendMessage sends a message to the client
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.Error("failed to marshal message", "error", err)
		return
	}

	select {
	case c.send <- data:
	default:
		// Client send channel is full, close connection
		c.server.unregister <- c
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(message string) {
	c.sendMessage(Message{
		Type:      "error",
		Data:      map[string]interface{}{"message": message},
		Timestamp: time.Now().Unix(),
	})
}

// subscribe adds a client to a channel
func (s *Server) subscribe(channel string, client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.subscriptions[channel] == nil {
		s.subscriptions[channel] = make(map[*Client]bool)
	}
	s.subscriptions[channel][client] = true
}

// unsubscribe removes a client from a channel
func (s *Server) unsubscribe(channel string, client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if clients, ok := s.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.subscriptions, channel)
		}
	}
}

// unsubscribeAll removes a client from all channels
func (s *Server) unsubscribeAll(client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for channel, clients := range s.subscriptions {
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.subscriptions, channel)
		}
	}
}

// broadcastMessage sends a message to all subscribed clients
func (s *Server) broadcastMessage(msg Message) {
	s.subMu.RLock()
	clients := make([]*Client, 0, len(s.subscriptions[msg.Channel]))
	for client := range s.subscriptions[msg.Channel] {
		clients = append(clients, client)
	}
	s.subMu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
			atomic.AddUint64(&s.messagesOut, 1)
		default:
			s.unregister <- client
		}
	}
}

// BroadcastBook broadcasts the current depth-of-book to the book channel.
func (s *Server) BroadcastBook() {
	st := s.runner.State()
	snap := BookSnapshot{
		Type:      "update",
		Event:     st.Event,
		Bids:      s.runner.Depth(lob.Buy, snapshotDepth),
		Asks:      s.runner.Depth(lob.Sell, snapshotDepth),
		Timestamp: time.Now().Unix(),
	}

	s.enqueue(Message{
		Type:      "book",
		Channel:   ChannelBook,
		Data:      snap,
		Timestamp: time.Now().Unix(),
		Sequence:  st.Event,
	})
}

// BroadcastTrade broadcasts a synthesized trade.
func (s *Server) BroadcastTrade(trade lob.Sale) {
	s.enqueue(Message{
		Type:      "trade",
		Channel:   ChannelTrades,
		Data:      trade,
		Timestamp: time.Now().Unix(),
	})
}

// BroadcastCancel broadcasts an observed cancel.
func (s *Server) BroadcastCancel(cancel lob.Cancel) {
	s.enqueue(Message{
		Type:      "cancel",
		Channel:   ChannelCancels,
		Data:      cancel,
		Timestamp: time.Now().Unix(),
	})
}

// BroadcastFill broadcasts a finalized marketable order.
func (s *Server) BroadcastFill(fill lob.FilledOrder) {
	s.enqueue(Message{
		Type:      "fill",
		Channel:   ChannelFills,
		Data:      fill,
		Timestamp: time.Now().Unix(),
	})
}

func (s *Server) enqueue(msg Message) {
	select {
	case s.broadcast <- msg:
	default:
		s.logger.Warn("broadcast queue full, dropping message", "channel", msg.Channel)
	}
}

// GetStats returns server statistics
func (s *Server) GetStats() map[string]interface{} {
	s.subMu.RLock()
	numChannels := len(s.subscriptions)
	s.subMu.RUnlock()

	return map[string]interface{}{
		"clients":       atomic.LoadInt32(&s.clientCount),
		"messages_sent": atomic.LoadUint64(&s.messagesOut),
		"channels":      numChannels,
	}
}

// generateClientID generates a unique client ID
func generateClientID() string {
	return fmt.Sprintf("client-%d-%d", time.Now().Unix(), time.Now().Nanosecond())
}
