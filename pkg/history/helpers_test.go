package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/epw80/muc-history/pkg/message"
)

const roomJID = "lobby@conference.example.org"

var baseTime = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// groupchat returns a stamped groupchat message whose delay stamp is
// offset seconds after baseTime.
func groupchat(id string, offset int) *message.Message {
	msg := &message.Message{
		ID:   id,
		Type: message.TypeGroupChat,
		From: roomJID + "/alice",
		Body: message.String("message " + id),
	}
	msg.Stamp(roomJID, baseTime.Add(time.Duration(offset)*time.Second))
	return msg
}

func subjectChange(id, subject string, offset int) *message.Message {
	msg := &message.Message{
		ID:      id,
		Type:    message.TypeGroupChat,
		From:    roomJID + "/alice",
		Subject: message.String(subject),
	}
	msg.Stamp(roomJID, baseTime.Add(time.Duration(offset)*time.Second))
	return msg
}

func ids(messages []*message.Message) []string {
	out := make([]string, len(messages))
	for i, msg := range messages {
		out[i] = msg.ID
	}
	return out
}

// mockProperties is a call-counting property store.
type mockProperties struct {
	mu       sync.Mutex
	values   map[string]string
	sets     int
	failGet  error
	failSet  error
	lastKeys []string
	// setDelay stalls every write before it lands
	setDelay time.Duration
}

func newMockProperties() *mockProperties {
	return &mockProperties{values: make(map[string]string)}
}

func propertyKey(namespace, key string) string {
	return fmt.Sprintf("%s|%s", namespace, key)
}

func (m *mockProperties) Property(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return "", false, m.failGet
	}
	value, ok := m.values[propertyKey(namespace, key)]
	return value, ok, nil
}

func (m *mockProperties) SetProperty(_ context.Context, namespace, key, value string) error {
	if m.setDelay > 0 {
		time.Sleep(m.setDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.lastKeys = append(m.lastKeys, key)
	if m.failSet != nil {
		return m.failSet
	}
	m.values[propertyKey(namespace, key)] = value
	return nil
}

func (m *mockProperties) put(namespace, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[propertyKey(namespace, key)] = value
}

func (m *mockProperties) get(namespace, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[propertyKey(namespace, key)]
}

func (m *mockProperties) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// staticFlags returns fixed flag values and counts lookups.
type staticFlags struct {
	mu      sync.Mutex
	values  map[string]bool
	lookups int
}

func (f *staticFlags) Bool(name string, defaultValue bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if value, ok := f.values[name]; ok {
		return value
	}
	return defaultValue
}

func (f *staticFlags) set(name string, value bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]bool)
	}
	f.values[name] = value
}

var errStoreDown = errors.New("property store unavailable")
