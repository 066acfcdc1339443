package muc

import (
	"sync/atomic"

	"github.com/epw80/muc-history/pkg/history"
	"github.com/epw80/muc-history/pkg/hub"
	"github.com/epw80/muc-history/pkg/message"
)

// Room is a chat room on the service. Its history strategy can be
// replaced wholesale when state is imported from another node; callers
// always see either the old or the new strategy, never a partial one.
type Room struct {
	name     string
	strategy atomic.Pointer[history.Strategy]
	hub      *hub.Hub
}

var _ hub.History = (*Room)(nil)

// Name returns the room's local name
func (r *Room) Name() string {
	return r.name
}

// History returns the room's current history strategy
func (r *Room) History() *history.Strategy {
	return r.strategy.Load()
}

// Hub returns the occupant hub of the room
func (r *Room) Hub() *hub.Hub {
	return r.hub
}

// Add records a message in the room history
func (r *Room) Add(msg *message.Message) {
	r.strategy.Load().Add(msg)
}

// Replay returns the retained history in delivery order
func (r *Room) Replay() ([]*message.Message, error) {
	return r.strategy.Load().Replay()
}

// PinnedSubject returns the room's current subject message, or nil
func (r *Room) PinnedSubject() *message.Message {
	return r.strategy.Load().PinnedSubject()
}
