package hub

import (
	"log/slog"
	"sync"

	"github.com/epw80/muc-history/pkg/message"
)

// Client represents a connected WebSocket occupant
// This is an interface to avoid circular dependencies between hub and client packages
type Client interface {
	// Send delivers a live frame and may drop it for a slow client.
	Send([]byte)
	// Replay queues the join-time history; every frame is delivered,
	// in order, before any later Send.
	Replay([][]byte)
	Close()
	ID() string
}

// History records room traffic and replays it to joining occupants
type History interface {
	Add(msg *message.Message)
	Replay() ([]*message.Message, error)
	PinnedSubject() *message.Message
}

// Hub maintains the occupants of one room, records every broadcast in
// the room history and replays that history to each occupant that joins
type Hub struct {
	room    string
	history History

	// Registered clients
	clients map[Client]bool

	// Inbound messages from clients
	broadcast chan *message.Message

	// Register requests from clients
	register chan Client

	// Unregister requests from clients
	unregister chan Client

	// Mutex for thread-safe client map access
	mu sync.RWMutex

	logger *slog.Logger

	// Shutdown signal
	done     chan struct{}
	shutdown sync.Once
}

// New creates a new Hub for room
func New(room string, history History, logger *slog.Logger) *Hub {
	return &Hub{
		room:       room,
		history:    history,
		broadcast:  make(chan *message.Message, 256),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
		logger:     logger.With(slog.String("room", room)),
		done:       make(chan struct{}),
	}
}

// Run serves joins, leaves and room traffic until Shutdown. Call it in
// its own goroutine; room traffic reaches the history only through it.
func (h *Hub) Run() {
	h.logger.Info("hub started")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			replayed := h.replay(client)

			h.logger.Info("client registered",
				slog.String("clientID", client.ID()),
				slog.Int("replayed", replayed),
				slog.Int("totalClients", h.ClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()

			h.logger.Info("client unregistered",
				slog.String("clientID", client.ID()),
				slog.Int("totalClients", h.ClientCount()))

		case msg := <-h.broadcast:
			h.history.Add(msg)

			data, err := msg.ToJSON()
			if err != nil {
				h.logger.Error("failed to marshal message",
					slog.String("messageID", msg.ID),
					slog.String("error", err.Error()))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				client.Send(data)
			}
			h.mu.RUnlock()

		case <-h.done:
			h.logger.Info("hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// replay sends the retained history, oldest first, followed by the
// current subject. It returns the number of messages sent.
func (h *Hub) replay(client Client) int {
	messages, err := h.history.Replay()
	if err != nil {
		h.logger.Warn("history replay failed, joining without history",
			slog.String("clientID", client.ID()),
			slog.String("error", err.Error()))
		messages = nil
	}
	if subject := h.history.PinnedSubject(); subject != nil {
		messages = append(messages, subject)
	}

	frames := make([][]byte, 0, len(messages))
	for _, msg := range messages {
		data, err := msg.ToJSON()
		if err != nil {
			h.logger.Error("failed to marshal history message",
				slog.String("messageID", msg.ID),
				slog.String("error", err.Error()))
			continue
		}
		frames = append(frames, data)
	}
	client.Replay(frames)
	return len(frames)
}

// Register adds a client to the hub. A client registering with a hub
// that has shut down is closed immediately.
func (h *Hub) Register(client any) {
	c, ok := client.(Client)
	if !ok {
		return
	}
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client any) {
	c, ok := client.(Client)
	if !ok {
		return
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast records a message in the room history and sends it to all
// clients. Messages sent after shutdown are dropped.
func (h *Hub) Broadcast(msg *message.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Room returns the name of the room this hub serves
func (h *Hub) Room() string {
	return h.room
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown gracefully shuts down the hub. It is safe to call more than once.
func (h *Hub) Shutdown() {
	h.shutdown.Do(func() {
		close(h.done)
	})
}
