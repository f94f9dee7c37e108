package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"gwi.com/botai-chat/internal/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
	eventBuffer    = 16
)

// Client is one websocket connection in the room.
type Client struct {
	hub      *Hub
	chat     ChatService
	conn     *websocket.Conn
	send     chan []byte
	events   chan Envelope
	userID   int64
	username string
}

type typingPayload struct {
	Username string `json:"username"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (h *APIHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading websocket from %s: %v", r.RemoteAddr, err)
		return
	}

	c := &Client{
		hub:    h.hub,
		chat:   h.chatService,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		events: make(chan Envelope, eventBuffer),
	}
	if !c.hub.connect(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.processEvents(r.Context())
	c.readPump()
}

// readPump keeps reading while events are processed elsewhere, so control
// frames are answered even during a long AI call.
func (c *Client) readPump() {
	defer func() {
		close(c.events)
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Websocket read error for %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
		c.events <- env
	}
}

// processEvents handles one event at a time, so a sender's messages are
// processed in the order they arrive.
func (c *Client) processEvents(ctx context.Context) {
	for env := range c.events {
		c.handle(ctx, env)
	}
}

func (c *Client) handle(ctx context.Context, env Envelope) {
	switch env.Event {
	case EventJoin:
		c.handleJoin(ctx, env.Data)
	case EventMessage:
		c.handleMessage(ctx, env.Data)
	case EventTyping:
		if c.username == "" {
			return
		}
		if err := c.hub.Broadcast(EventTyping, typingPayload{Username: c.username}, c); err != nil {
			log.Printf("Error broadcasting typing for %s: %v", c.username, err)
		}
	default:
		c.sendError("unknown event " + env.Event)
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	var req core.JoinRequest
	if err := decodeJoin(data, &req); err != nil {
		c.sendError("invalid join payload")
		return
	}
	if err := core.ValidateJoin(req); err != nil {
		c.sendError(err.Error())
		return
	}

	res, err := c.chat.Join(ctx, req.Username)
	if err != nil {
		log.Printf("Error joining user %s: %v", req.Username, err)
		c.sendError("failed to join chat")
		return
	}
	c.userID = res.UserID
	c.username = req.Username
	c.hub.markJoined(c)
	c.sendEvent(EventHistory, res)
}

// decodeJoin accepts either {"username": "..."} or a bare JSON string.
func decodeJoin(data json.RawMessage, req *core.JoinRequest) error {
	if err := json.Unmarshal(data, req); err == nil {
		return nil
	}
	return json.Unmarshal(data, &req.Username)
}

func (c *Client) handleMessage(ctx context.Context, data json.RawMessage) {
	if c.username == "" {
		c.sendError("join the chat before sending messages")
		return
	}

	var msg core.OutgoingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message payload")
		return
	}
	if err := core.ValidateMessage(msg); err != nil {
		if errors.Is(err, core.ErrEmptyMessage) {
			c.sendError(err.Error())
		} else {
			c.sendError("invalid message")
		}
		return
	}

	res, err := c.chat.HandleMessage(ctx, c.userID, msg)
	if err != nil {
		log.Printf("Error handling message from user %d: %v", c.userID, err)
		c.sendError("failed to send message")
		return
	}
	broadcastResult(c.hub, res)
}

func (c *Client) sendEvent(event string, payload any) {
	if err := c.hub.SendTo(c, event, payload); err != nil {
		log.Printf("Error sending %s to %s: %v", event, c.conn.RemoteAddr(), err)
	}
}

func (c *Client) sendError(message string) {
	c.sendEvent(EventError, errorPayload{Message: message})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcastResult emits the user message and then the bot reply as two events.
func broadcastResult(hub *Hub, res *core.MessageResult) {
	if err := hub.Broadcast(EventMessage, res.UserMessage, nil); err != nil {
		log.Printf("Error broadcasting message %s: %v", res.UserMessage.ID, err)
		return
	}
	if res.BotMessage == nil {
		return
	}
	if err := hub.Broadcast(EventMessage, res.BotMessage, nil); err != nil {
		log.Printf("Error broadcasting bot message %s: %v", res.BotMessage.ID, err)
	}
}
