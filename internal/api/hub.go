package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

var ErrHubStopped = errors.New("hub stopped")

// Socket event names shared with the web client.
const (
	EventJoin    = "join"
	EventHistory = "chat history"
	EventMessage = "chat message"
	EventTyping  = "typing"
	EventError   = "error"
)

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

type outbound struct {
	frame  []byte
	except *Client
	only   *Client
}

// Hub owns the set of connected clients for the room. All membership changes
// and fan-out happen on the goroutine running Run, so frames reach every
// client in the order they were broadcast.
type Hub struct {
	register   chan *Client
	joined     chan *Client
	unregister chan *Client
	broadcast  chan outbound
	clients    map[*Client]bool // value reports whether the client has joined the room
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		joined:     make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 64),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = false
		case c := <-h.joined:
			if _, ok := h.clients[c]; ok {
				h.clients[c] = true
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case out := <-h.broadcast:
			if out.only != nil {
				if _, ok := h.clients[out.only]; ok {
					h.deliver(out.only, out.frame)
				}
				continue
			}
			for c, joined := range h.clients {
				if joined && c != out.except {
					h.deliver(c, out.frame)
				}
			}
		}
	}
}

func (h *Hub) deliver(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		log.Printf("Warning: dropping slow client %s", c.conn.RemoteAddr())
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends an event to every joined client except the given one (which may be nil).
func (h *Hub) Broadcast(event string, payload any, except *Client) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	return h.enqueue(outbound{frame: frame, except: except})
}

// SendTo queues an event for a single client.
func (h *Hub) SendTo(c *Client, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	return h.enqueue(outbound{frame: frame, only: c})
}

func (h *Hub) enqueue(out outbound) error {
	select {
	case h.broadcast <- out:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) connect(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// markJoined opts a connected client into room broadcasts.
func (h *Hub) markJoined(c *Client) {
	select {
	case h.joined <- c:
	case <-h.done:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
