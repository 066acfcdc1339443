package history

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/epw80/muc-history/pkg/message"
)

// ErrMissingDelay is returned by Replay when a retained message carries no
// delay stamp. Producers must stamp every message before it is added.
var ErrMissingDelay = errors.New("history: retained message has no delay stamp")

// Replay returns the retained messages sorted by delay stamp, oldest first.
//
// Messages appended on different cluster nodes may arrive out of order,
// so the order is restored on every read from a point-in-time copy.
func (s *Strategy) Replay() ([]*message.Message, error) {
	start := time.Now()

	messages := s.history.snapshot()
	if err := sortByDelay(messages); err != nil {
		replayFailures.Inc()
		return nil, err
	}

	replayDuration.Observe(time.Since(start).Seconds())
	return messages, nil
}

// ReplayReversed returns the sorted history as a Cursor positioned after
// the newest message, for callers that walk backwards.
func (s *Strategy) ReplayReversed() (*Cursor, error) {
	messages, err := s.Replay()
	if err != nil {
		return nil, err
	}
	return &Cursor{items: messages, pos: len(messages)}, nil
}

func sortByDelay(messages []*message.Message) error {
	for _, msg := range messages {
		if _, ok := msg.DelayStamp(); !ok {
			return fmt.Errorf("%w: message %q", ErrMissingDelay, msg.ID)
		}
	}
	slices.SortStableFunc(messages, func(a, b *message.Message) int {
		return strings.Compare(a.Delay.Stamp, b.Delay.Stamp)
	})
	return nil
}

// Cursor walks a replayed history in either direction.
type Cursor struct {
	items []*message.Message
	pos   int
}

// Len returns the number of messages under the cursor.
func (c *Cursor) Len() int { return len(c.items) }

// HasPrevious reports whether Previous will return a message.
func (c *Cursor) HasPrevious() bool { return c.pos > 0 }

// Previous moves back one message and returns it.
func (c *Cursor) Previous() *message.Message {
	if c.pos == 0 {
		return nil
	}
	c.pos--
	return c.items[c.pos]
}

// HasNext reports whether Next will return a message.
func (c *Cursor) HasNext() bool { return c.pos < len(c.items) }

// Next returns the message at the cursor and moves forward.
func (c *Cursor) Next() *message.Message {
	if c.pos >= len(c.items) {
		return nil
	}
	msg := c.items[c.pos]
	c.pos++
	return msg
}
