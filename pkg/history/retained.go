package history

import (
	"slices"
	"sync"

	"github.com/epw80/muc-history/pkg/message"
)

// retained holds the messages kept for a room in insertion order.
// Every operation takes the lock for a short, allocation-light section,
// so concurrent senders never observe a torn size or lose an element.
type retained struct {
	mu    sync.Mutex
	items []*message.Message
}

func (r *retained) push(msg *message.Message) {
	r.mu.Lock()
	r.items = append(r.items, msg)
	r.mu.Unlock()
}

// pushBounded evicts the oldest elements that are not pinned until there
// is room for one more message under bound, then appends msg. It returns
// the number of evicted messages and whether msg was kept. A bound of zero
// or less keeps nothing.
func (r *retained) pushBounded(msg *message.Message, bound int, pinned *message.Message) (evicted int, kept bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.items) >= bound {
		i := slices.IndexFunc(r.items, func(m *message.Message) bool {
			return m != pinned
		})
		if i < 0 {
			break
		}
		r.items = slices.Delete(r.items, i, i+1)
		evicted++
	}

	if bound <= 0 {
		return evicted, false
	}
	r.items = append(r.items, msg)
	return evicted, true
}

// snapshot returns a point-in-time copy in insertion order.
func (r *retained) snapshot() []*message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

func (r *retained) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *retained) replace(items []*message.Message) {
	r.mu.Lock()
	r.items = items
	r.mu.Unlock()
}
