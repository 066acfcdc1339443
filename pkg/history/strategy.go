package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/epw80/muc-history/pkg/message"
)

// maxInheritDepth bounds parent chain walks. Chains are two levels deep
// in practice; the limit only stops a corrupt, cyclic chain.
const maxInheritDepth = 32

var (
	ErrInheritWithoutParent = errors.New("history: inherit policy requires a parent strategy")
	ErrNegativeBound        = errors.New("history: retention bound must not be negative")
	ErrNoPropertyStore      = errors.New("history: no property store configured")
)

// Properties is the external configuration store a strategy can be bound to.
type Properties interface {
	// Property returns the value stored under key in namespace and
	// whether it exists.
	Property(ctx context.Context, namespace, key string) (string, bool, error)

	// SetProperty stores value under key in namespace.
	SetProperty(ctx context.Context, namespace, key, value string) error
}

// Flags reads global boolean feature flags.
type Flags interface {
	Bool(name string, defaultValue bool) bool
}

// Deps are the collaborators shared by a strategy and its parent chain.
// All fields are optional.
type Deps struct {
	Properties Properties
	Flags      Flags
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Binding names the property namespace and key prefix a strategy is bound to.
type Binding struct {
	Namespace string
	Prefix    string
}

func (b Binding) typeKey() string      { return b.Prefix + ".type" }
func (b Binding) maxNumberKey() string { return b.Prefix + ".maxNumber" }

// Strategy is the history retention state of a room, or of a service
// default when it has no parent. It is safe for concurrent use.
type Strategy struct {
	deps Deps

	mu      sync.RWMutex
	policy  Policy
	bound   int
	parent  *Strategy
	binding *Binding

	// serializes setters with their write-back so the store ends with
	// the value held in memory
	writeMu sync.Mutex

	history retained
	subject atomic.Pointer[message.Message]
}

// New creates a strategy. With a nil parent it keeps DefaultBound messages;
// with a parent it inherits the parent's policy and starts from the
// parent's current bound.
//
// The parent is not owned: the service that created it controls its
// lifetime.
func New(parent *Strategy, deps Deps) *Strategy {
	s := &Strategy{
		deps:   deps,
		policy: PolicyNumber,
		bound:  DefaultBound,
		parent: parent,
	}
	if parent != nil {
		s.policy = PolicyInheritDefault
		s.bound = parent.Bound()
	}
	return s
}

// Policy returns the strategy's own policy, which may be PolicyInheritDefault.
func (s *Strategy) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Bound returns the strategy's own retention count.
func (s *Strategy) Bound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// Parent returns the parent strategy, or nil.
func (s *Strategy) Parent() *Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

// Reparent replaces the parent link. It is meant for rehydrated state,
// where the decoded parent is a copy and the live service default should
// be used instead; call it before the strategy is shared.
func (s *Strategy) Reparent(parent *Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = parent
	if parent == nil && s.policy == PolicyInheritDefault {
		s.policy = PolicyNumber
	}
}

// Binding returns the configuration binding, if any.
func (s *Strategy) Binding() (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.binding == nil {
		return Binding{}, false
	}
	return *s.binding, true
}

// EffectivePolicy resolves the policy and bound in force, following
// parents while the policy is PolicyInheritDefault.
func (s *Strategy) EffectivePolicy() (Policy, int) {
	current := s
	for depth := 0; current != nil && depth < maxInheritDepth; depth++ {
		current.mu.RLock()
		policy, bound, parent := current.policy, current.bound, current.parent
		current.mu.RUnlock()

		if policy != PolicyInheritDefault {
			return policy, bound
		}
		current = parent
	}
	return PolicyNumber, DefaultBound
}

// IsEnabled reports whether the effective policy retains anything.
func (s *Strategy) IsEnabled() bool {
	policy, _ := s.EffectivePolicy()
	return policy != PolicyNone
}

// SetPolicy changes the strategy's own policy. Setting the current value
// is a no-op; otherwise a bound strategy writes the new name to the
// property store and returns any store error.
func (s *Strategy) SetPolicy(ctx context.Context, policy Policy) error {
	if _, ok := LookupPolicy(policy.String()); !ok {
		return fmt.Errorf("history: unknown policy %d", uint8(policy))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.policy == policy {
		s.mu.Unlock()
		return nil
	}
	if policy == PolicyInheritDefault && s.parent == nil {
		s.mu.Unlock()
		return ErrInheritWithoutParent
	}
	s.policy = policy
	binding := s.binding
	s.mu.Unlock()

	if binding == nil {
		return nil
	}
	return s.push(ctx, *binding, binding.typeKey(), policy.String())
}

// SetBound changes the strategy's own retention count, with the same
// no-op and write-back rules as SetPolicy.
func (s *Strategy) SetBound(ctx context.Context, bound int) error {
	if bound < 0 {
		return ErrNegativeBound
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.bound == bound {
		s.mu.Unlock()
		return nil
	}
	s.bound = bound
	binding := s.binding
	s.mu.Unlock()

	if binding == nil {
		return nil
	}
	return s.push(ctx, *binding, binding.maxNumberKey(), strconv.Itoa(bound))
}

func (s *Strategy) push(ctx context.Context, binding Binding, key, value string) error {
	if s.deps.Properties == nil {
		return ErrNoPropertyStore
	}
	if err := s.deps.Properties.SetProperty(ctx, binding.Namespace, key, value); err != nil {
		return fmt.Errorf("history: store %s: %w", key, err)
	}
	return nil
}

// Add records a message sent into the room.
//
// Subject changes replace the pinned subject and never enter the
// retained history. Other messages are dropped, appended, or appended
// after evicting the oldest unpinned messages, according to the
// effective policy.
func (s *Strategy) Add(msg *message.Message) {
	if IsSubjectChange(msg, s.strictSubjects()) {
		s.subject.Store(msg)
		messagesAdded.WithLabelValues(outcomeSubject).Inc()
		return
	}

	policy, bound := s.EffectivePolicy()
	switch policy {
	case PolicyAll:
		s.history.push(msg)
		messagesAdded.WithLabelValues(outcomeRetained).Inc()
	case PolicyNumber:
		evicted, kept := s.history.pushBounded(msg, bound, s.subject.Load())
		messagesEvicted.Add(float64(evicted))
		if kept {
			messagesAdded.WithLabelValues(outcomeRetained).Inc()
		} else {
			messagesAdded.WithLabelValues(outcomeDropped).Inc()
		}
	default:
		messagesAdded.WithLabelValues(outcomeDropped).Inc()
	}
}

func (s *Strategy) strictSubjects() bool {
	if s.deps.Flags == nil {
		return true
	}
	return s.deps.Flags.Bool(StrictSubjectProperty, true)
}

// Len returns the number of retained messages.
func (s *Strategy) Len() int {
	return s.history.len()
}

// Retained returns a copy of the retained messages in insertion order.
func (s *Strategy) Retained() []*message.Message {
	return s.history.snapshot()
}

// HasPinnedSubject reports whether a subject change has been recorded.
func (s *Strategy) HasPinnedSubject() bool {
	return s.subject.Load() != nil
}

// PinnedSubject returns the latest subject change, or nil.
func (s *Strategy) PinnedSubject() *message.Message {
	return s.subject.Load()
}

// Equal reports whether two strategies hold the same state. Messages are
// compared by their canonical stanza encoding and parents recursively.
func (s *Strategy) Equal(other *Strategy) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}

	s.mu.RLock()
	policy, bound, parent, binding := s.policy, s.bound, s.parent, s.binding
	s.mu.RUnlock()
	other.mu.RLock()
	otherPolicy, otherBound, otherParent, otherBinding := other.policy, other.bound, other.parent, other.binding
	other.mu.RUnlock()

	if policy != otherPolicy || bound != otherBound {
		return false
	}
	if (binding == nil) != (otherBinding == nil) || (binding != nil && *binding != *otherBinding) {
		return false
	}
	if !sameStanza(s.subject.Load(), other.subject.Load()) {
		return false
	}

	mine, theirs := s.history.snapshot(), other.history.snapshot()
	if len(mine) != len(theirs) {
		return false
	}
	for i := range mine {
		if !sameStanza(mine[i], theirs[i]) {
			return false
		}
	}

	return parent.Equal(otherParent)
}

func sameStanza(a, b *message.Message) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	encodedA, errA := a.MarshalStanza()
	encodedB, errB := b.MarshalStanza()
	return errA == nil && errB == nil && bytes.Equal(encodedA, encodedB)
}
