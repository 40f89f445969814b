package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"crt-trading-engine/internal/auth"
	"crt-trading-engine/internal/events"
	"crt-trading-engine/internal/logging"
	"crt-trading-engine/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS layer for browsers
		return true
	},
}

// Message types sent to websocket clients besides snapshots
const (
	MsgCommandResult = "COMMAND_RESULT"
	MsgEvent         = "EVENT"
	MsgError         = "ERROR"
)

// inbound is a client message. Only commands are accepted.
type inbound struct {
	Type    string          `json:"type"`
	Session string          `json:"session"`
	Command session.Command `json:"command"`
}

type outbound struct {
	Type      string      `json:"type"`
	Session   string      `json:"session,omitempty"`
	Event     string      `json:"event,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WSClient represents a WebSocket client
type WSClient struct {
	conn       *websocket.Conn
	send       chan []byte
	hub        *WSHub
	session    string // empty receives every session
	canCommand bool
	closeChan  chan struct{}
}

type broadcast struct {
	session string
	data    []byte
}

// WSHub fans session snapshots and events out to websocket clients
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan broadcast
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex

	sessions       Sessions
	commandTimeout time.Duration
	logger         *logging.Logger
}

// NewWSHub creates a hub fed by bus
func NewWSHub(sessions Sessions, bus *events.EventBus, commandTimeout time.Duration) *WSHub {
	h := &WSHub{
		clients:        make(map[*WSClient]bool),
		broadcast:      make(chan broadcast, 4096),
		register:       make(chan *WSClient),
		unregister:     make(chan *WSClient),
		done:           make(chan struct{}),
		sessions:       sessions,
		commandTimeout: commandTimeout,
		logger:         logging.WithComponent("websocket"),
	}
	if bus != nil {
		bus.SubscribeAll(h.BroadcastEvent)
	}
	return h
}

// Run starts the WebSocket hub
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.session != "" && message.session != "" && client.session != message.session {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					// slow client, drop it
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastEvent forwards a bus event. Snapshots are sent as-is; other
// events are wrapped in an EVENT envelope.
func (h *WSHub) BroadcastEvent(event events.Event) {
	var payload interface{}
	if event.Type == events.EventSnapshot {
		payload = event.Data
	} else {
		payload = outbound{
			Type:      MsgEvent,
			Session:   event.Session,
			Event:     string(event.Type),
			Data:      event.Data,
			Timestamp: event.Timestamp,
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("Failed to marshal event", "type", string(event.Type), "error", err.Error())
		return
	}

	select {
	case h.broadcast <- broadcast{session: event.Session, data: data}:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", "type", string(event.Type))
	}
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
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
				c.hub.logger.Debug("WebSocket write error", "error", err.Error())
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// readPump reads command messages until the connection drops
func (c *WSClient) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", "error", err.Error())
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.handleMessage(ctx, data)
	}
}

func (c *WSClient) handleMessage(ctx context.Context, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "COMMAND" {
		c.reply(outbound{Type: MsgError, Message: "expected {\"type\":\"COMMAND\",\"session\":...,\"command\":{...}}"})
		return
	}
	if !c.canCommand {
		c.reply(outbound{Type: MsgError, Session: msg.Session, Message: auth.ErrForbidden.Message})
		return
	}
	key := msg.Session
	if key == "" {
		key = c.session
	}
	sess, err := c.hub.sessions.Get(key)
	if err != nil {
		c.reply(outbound{Type: MsgError, Session: key, Message: err.Error()})
		return
	}

	cctx, cancel := context.WithTimeout(ctx, c.hub.commandTimeout)
	defer cancel()
	res, err := sess.Execute(cctx, msg.Command)
	if err != nil {
		c.reply(outbound{Type: MsgCommandResult, Session: sess.ID(), Data: res, Message: err.Error()})
		return
	}
	c.reply(outbound{Type: MsgCommandResult, Session: sess.ID(), Data: res})
}

// reply queues a message for this client only
func (c *WSClient) reply(msg outbound) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleWebSocket upgrades the connection and sends INIT snapshots
func (s *Server) handleWebSocket(c *gin.Context) {
	filter := c.Query("session")
	var initial []session.Snapshot
	if filter != "" {
		sess, err := s.sessions.Get(filter)
		if err != nil {
			errorResponse(c, http.StatusNotFound, err.Error())
			return
		}
		filter = sess.ID()
		initial = append(initial, sess.Snapshot())
	} else {
		initial = s.sessions.Snapshots()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "error", err.Error())
		return
	}

	canCommand := !s.tokens.Enabled()
	if v, ok := c.Get(auth.ContextKeyClaims); ok {
		if claims, ok := v.(*auth.Claims); ok {
			canCommand = claims.Commands
		}
	}

	client := &WSClient{
		conn:       conn,
		send:       make(chan []byte, 256),
		hub:        s.hub,
		session:    filter,
		canCommand: canCommand,
		closeChan:  make(chan struct{}),
	}

	// INIT messages are queued before the hub can broadcast to the client
	for _, snap := range initial {
		if len(client.send) == cap(client.send) {
			break
		}
		if data, err := json.Marshal(snap.AsInit()); err == nil {
			client.send <- data
		}
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(context.WithoutCancel(c.Request.Context()))
}
