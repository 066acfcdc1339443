package message

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the XMPP delivery type of a message stanza
type Type string

const (
	TypeNormal    Type = "normal"
	TypeChat      Type = "chat"
	TypeGroupChat Type = "groupchat"
	TypeHeadline  Type = "headline"
	TypeError     Type = "error"
)

// DelayNamespace is the XML namespace of the delayed-delivery element (XEP-0203)
const DelayNamespace = "urn:xmpp:delay"

// StampLayout is the fixed-width UTC layout used for delay stamps.
// Fixed width keeps stamps lexically comparable.
const StampLayout = "2006-01-02T15:04:05.000Z"

// Delay is the delayed-delivery element stamped on a message when it is queued
type Delay struct {
	From  string `xml:"from,attr,omitempty" json:"from,omitempty"`
	Stamp string `xml:"stamp,attr" json:"stamp"`
}

// Message represents a message stanza sent into a chat room.
//
// Subject, Body and Thread are pointers because an empty element is
// meaningful: an empty subject clears the room subject, while a missing
// subject means the message does not touch it at all.
type Message struct {
	XMLName xml.Name `xml:"message" json:"-"`
	ID      string   `xml:"id,attr,omitempty" json:"id,omitempty"`
	Type    Type     `xml:"type,attr,omitempty" json:"type"`
	From    string   `xml:"from,attr,omitempty" json:"from,omitempty"`
	To      string   `xml:"to,attr,omitempty" json:"to,omitempty"`
	Subject *string  `xml:"subject" json:"subject,omitempty"`
	Body    *string  `xml:"body" json:"body,omitempty"`
	Thread  *string  `xml:"thread" json:"thread,omitempty"`
	Delay   *Delay   `xml:"urn:xmpp:delay delay" json:"delay,omitempty"`
}

// Validation constants
const (
	MaxBodyLength    = 1000
	MaxSubjectLength = 250
)

var (
	ErrEmptyMessage    = errors.New("message carries neither body nor subject")
	ErrBodyTooLong     = errors.New("message body exceeds maximum length")
	ErrSubjectTooLong  = errors.New("message subject exceeds maximum length")
	ErrInvalidType     = errors.New("invalid message type")
	ErrInvalidStanza   = errors.New("invalid message stanza")
	ErrMissingIdentity = errors.New("message has no sender")
)

// Validate checks if the message meets all requirements
func (m *Message) Validate() error {
	switch m.Type {
	case TypeNormal, TypeChat, TypeGroupChat, TypeHeadline, TypeError:
	default:
		return ErrInvalidType
	}

	if m.From == "" {
		return ErrMissingIdentity
	}

	if m.Body == nil && m.Subject == nil {
		return ErrEmptyMessage
	}
	if m.Body != nil && len(*m.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	if m.Subject != nil && len(*m.Subject) > MaxSubjectLength {
		return ErrSubjectTooLong
	}

	return nil
}

// NewGroupChat creates a new groupchat message with a body
func NewGroupChat(from, body string) *Message {
	return &Message{
		ID:   uuid.New().String(),
		Type: TypeGroupChat,
		From: from,
		Body: &body,
	}
}

// NewSubjectChange creates a groupchat message that only carries a subject.
// An empty subject removes the room subject.
func NewSubjectChange(from, subject string) *Message {
	return &Message{
		ID:      uuid.New().String(),
		Type:    TypeGroupChat,
		From:    from,
		Subject: &subject,
	}
}

// Stamp attaches a delay element with the given time, formatted with StampLayout
func (m *Message) Stamp(from string, t time.Time) {
	m.Delay = &Delay{
		From:  from,
		Stamp: t.UTC().Format(StampLayout),
	}
}

// DelayStamp returns the delay stamp and whether the message carries one
func (m *Message) DelayStamp() (string, bool) {
	if m.Delay == nil || m.Delay.Stamp == "" {
		return "", false
	}
	return m.Delay.Stamp, true
}

// MarshalStanza returns the canonical XML stanza encoding of the message
func (m *Message) MarshalStanza() ([]byte, error) {
	data, err := xml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal stanza: %w", err)
	}
	return data, nil
}

// ParseStanza decodes a canonical XML stanza encoding
func ParseStanza(data []byte) (*Message, error) {
	var msg Message
	if err := xml.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStanza, err)
	}
	if msg.XMLName.Local != "message" {
		return nil, fmt.Errorf("%w: unexpected element %q", ErrInvalidStanza, msg.XMLName.Local)
	}
	return &msg, nil
}

// ToJSON converts message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses JSON bytes into a message
func FromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// String returns a pointer to s, for populating optional stanza fields
func String(s string) *string {
	return &s
}
