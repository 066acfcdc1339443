package history

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/epw80/muc-history/pkg/codec"
	"github.com/epw80/muc-history/pkg/message"
)

// ErrCorruptState is returned by Unmarshal for truncated or malformed input.
var ErrCorruptState = errors.New("history: corrupt state transfer")

// The state transfer format is a CBOR sequence. Field order is fixed and
// every optional field is a boolean presence flag followed by the value
// only when the flag is true:
//
//	policy name          text
//	retained messages    array of stanza text, insertion order
//	bound                int
//	has parent           bool, then the parent's own sequence inline
//	has pinned subject   bool, then stanza text
//	has binding prefix   bool, then text
//	has binding ns       bool, then text
//
// Parents are written recursively, so a chain carries its full ancestry.

// MarshalBinary encodes the full state of the strategy, parent chain included.
func (s *Strategy) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.encodeState(codec.NewEncoder(&buf), 0); err != nil {
		stateTransfers.WithLabelValues("encode", "error").Inc()
		return nil, err
	}
	stateTransfers.WithLabelValues("encode", "ok").Inc()
	return buf.Bytes(), nil
}

func (s *Strategy) encodeState(enc *codec.Encoder, depth int) error {
	if depth >= maxInheritDepth {
		return fmt.Errorf("history: parent chain deeper than %d", maxInheritDepth)
	}

	s.mu.RLock()
	policy, bound, parent, binding := s.policy, s.bound, s.parent, s.binding
	s.mu.RUnlock()

	retained := s.history.snapshot()
	stanzas := make([]string, len(retained))
	for i, msg := range retained {
		encoded, err := msg.MarshalStanza()
		if err != nil {
			return fmt.Errorf("history: encode retained message %d: %w", i, err)
		}
		stanzas[i] = string(encoded)
	}

	if err := encodeAll(enc, policy.String(), stanzas, bound); err != nil {
		return err
	}

	if err := enc.Encode(parent != nil); err != nil {
		return fmt.Errorf("history: encode state: %w", err)
	}
	if parent != nil {
		if err := parent.encodeState(enc, depth+1); err != nil {
			return err
		}
	}

	subject := s.subject.Load()
	if err := enc.Encode(subject != nil); err != nil {
		return fmt.Errorf("history: encode state: %w", err)
	}
	if subject != nil {
		encoded, err := subject.MarshalStanza()
		if err != nil {
			return fmt.Errorf("history: encode pinned subject: %w", err)
		}
		if err := enc.Encode(string(encoded)); err != nil {
			return fmt.Errorf("history: encode state: %w", err)
		}
	}

	var prefix, namespace *string
	if binding != nil {
		prefix, namespace = &binding.Prefix, &binding.Namespace
	}
	if err := encodeOptional(enc, prefix); err != nil {
		return err
	}
	return encodeOptional(enc, namespace)
}

func encodeAll(enc *codec.Encoder, values ...any) error {
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("history: encode state: %w", err)
		}
	}
	return nil
}

func encodeOptional(enc *codec.Encoder, value *string) error {
	if value == nil {
		return encodeAll(enc, false)
	}
	return encodeAll(enc, true, *value)
}

// Unmarshal rebuilds a strategy, parent chain included, from MarshalBinary
// output. Decoded strategies share deps. Nothing is written to the
// property store. On error no strategy is returned.
func Unmarshal(data []byte, deps Deps) (*Strategy, error) {
	dec := codec.NewDecoder(bytes.NewReader(data))

	s, err := decodeState(dec, deps, 0)
	if err != nil {
		stateTransfers.WithLabelValues("decode", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		stateTransfers.WithLabelValues("decode", "error").Inc()
		return nil, fmt.Errorf("%w: trailing data after state", ErrCorruptState)
	}

	stateTransfers.WithLabelValues("decode", "ok").Inc()
	return s, nil
}

func decodeState(dec *codec.Decoder, deps Deps, depth int) (*Strategy, error) {
	if depth >= maxInheritDepth {
		return nil, fmt.Errorf("parent chain deeper than %d", maxInheritDepth)
	}

	var name string
	if err := dec.Decode(&name); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	policy, ok := LookupPolicy(name)
	if !ok {
		return nil, fmt.Errorf("unknown policy %q", name)
	}

	var stanzas []string
	if err := dec.Decode(&stanzas); err != nil {
		return nil, fmt.Errorf("retained messages: %w", err)
	}
	retained := make([]*message.Message, 0, len(stanzas))
	for i, stanza := range stanzas {
		msg, err := message.ParseStanza([]byte(stanza))
		if err != nil {
			return nil, fmt.Errorf("retained message %d: %w", i, err)
		}
		retained = append(retained, msg)
	}

	var bound int
	if err := dec.Decode(&bound); err != nil {
		return nil, fmt.Errorf("bound: %w", err)
	}
	if bound < 0 {
		return nil, fmt.Errorf("negative bound %d", bound)
	}

	s := &Strategy{deps: deps, policy: policy, bound: bound}

	hasParent, err := decodeFlag(dec)
	if err != nil {
		return nil, fmt.Errorf("parent flag: %w", err)
	}
	if hasParent {
		parent, err := decodeState(dec, deps, depth+1)
		if err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
		s.parent = parent
	}
	if policy == PolicyInheritDefault && s.parent == nil {
		return nil, errors.New("inherit policy without parent")
	}

	var subjectStanza string
	hasSubject, err := decodeOptional(dec, &subjectStanza)
	if err != nil {
		return nil, fmt.Errorf("pinned subject: %w", err)
	}
	if hasSubject {
		subject, err := message.ParseStanza([]byte(subjectStanza))
		if err != nil {
			return nil, fmt.Errorf("pinned subject: %w", err)
		}
		s.subject.Store(subject)
	}

	var prefix, namespace string
	hasPrefix, err := decodeOptional(dec, &prefix)
	if err != nil {
		return nil, fmt.Errorf("binding prefix: %w", err)
	}
	if _, err := decodeOptional(dec, &namespace); err != nil {
		return nil, fmt.Errorf("binding namespace: %w", err)
	}
	if hasPrefix {
		s.binding = &Binding{Namespace: namespace, Prefix: prefix}
	}

	s.history.replace(retained)
	return s, nil
}

func decodeFlag(dec *codec.Decoder) (bool, error) {
	var present bool
	err := dec.Decode(&present)
	return present, err
}

func decodeOptional(dec *codec.Decoder, value *string) (bool, error) {
	present, err := decodeFlag(dec)
	if err != nil || !present {
		return false, err
	}
	return true, dec.Decode(value)
}
