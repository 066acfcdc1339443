package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/epw80/muc-history/pkg/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Buffer size for the send channel
	sendBufferSize = 256
)

// Hub is the room side of a connection
type Hub interface {
	Register(any)
	Unregister(any)
	Broadcast(*message.Message)
}

// Client is one room occupant connected over a websocket
type Client struct {
	hub  Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	// Join-time history, written before any frame from send
	mu      sync.Mutex
	backlog [][]byte
	wake    chan struct{}

	id   string
	room string
	nick string

	logger *slog.Logger
}

// New creates a new Client for an occupant of room (a bare room address)
// using nick as its room nickname
func New(hub Hub, conn *websocket.Conn, room, nick string, logger *slog.Logger) *Client {
	id := generateID()
	logger = logger.With(
		slog.String("clientID", id),
		slog.String("room", room),
		slog.String("nick", nick))

	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		wake:   make(chan struct{}, 1),
		id:     id,
		room:   room,
		nick:   nick,
		logger: logger,
	}
}

// Occupant returns the occupant address messages from this client are sent as
func (c *Client) Occupant() string {
	return c.room + "/" + c.nick
}

// Nick returns the occupant's room nickname
func (c *Client) Nick() string {
	return c.nick
}

// readPump feeds frames from the connection into the room until the peer
// goes away. It is the only reader of the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		if err := c.handle(data, time.Now()); err != nil {
			c.logger.Warn("message rejected", slog.String("error", err.Error()))
		}
	}
}

// handle decodes one inbound frame, addresses and stamps it, and hands it
// to the room
func (c *Client) handle(data []byte, now time.Time) error {
	msg, err := message.FromJSON(data)
	if err != nil {
		return err
	}
	if err := c.prepare(msg, now); err != nil {
		return err
	}
	c.hub.Broadcast(msg)
	return nil
}

// writePump delivers queued frames and keepalive pings. It is the only
// writer of the connection; frames queued while writing are batched into
// one websocket message separated by newlines.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.wake:
			if !c.writeBacklog() {
				return
			}

		case frame, ok := <-c.send:
			if !c.writeBacklog() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBacklog writes queued history one frame per websocket message
func (c *Client) writeBacklog() bool {
	c.mu.Lock()
	frames := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	for _, frame := range frames {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return false
		}
	}
	return true
}

// Start begins the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send queues a frame for delivery. A slow occupant whose buffer is full
// misses the frame rather than stalling the room.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping message")
	}
}

// Replay queues history frames. Unlike Send nothing is dropped, and the
// frames are written before anything sent afterwards.
func (c *Client) Replay(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	c.mu.Lock()
	c.backlog = append(c.backlog, frames...)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close closes the send channel; the write pump then closes the connection
func (c *Client) Close() {
	close(c.send)
}

// ID returns the connection identifier, distinct from the occupant address
func (c *Client) ID() string {
	return c.id
}

// prepare overrides the sender, assigns an ID when missing and stamps the
// message with its arrival time, then validates it. Only groupchat
// messages are accepted.
func (c *Client) prepare(msg *message.Message, now time.Time) error {
	if msg.Type == "" {
		msg.Type = message.TypeGroupChat
	}
	if msg.Type != message.TypeGroupChat {
		return message.ErrInvalidType
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.From = c.Occupant()
	msg.To = c.room
	msg.Stamp(c.room, now)

	return msg.Validate()
}

// generateID generates a unique client ID
func generateID() string {
	return "client-" + uuid.New().String()
}
