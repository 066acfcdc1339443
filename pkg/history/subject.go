package history

import "github.com/epw80/muc-history/pkg/message"

// StrictSubjectProperty is the global flag controlling strict subject
// change detection. It defaults to true.
const StrictSubjectProperty = "xmpp.muc.subject.change.strict"

// IsSubjectChange reports whether msg changes the room subject (XEP-0045 §8.1).
//
// The message must be of type groupchat and carry a subject element. An
// empty subject is a valid change that clears the subject. In strict mode
// the message must also carry neither a body nor a thread; many clients
// add a body, so lenient mode accepts those too.
func IsSubjectChange(msg *message.Message, strict bool) bool {
	if msg == nil || msg.Type != message.TypeGroupChat || msg.Subject == nil {
		return false
	}
	if !strict {
		return true
	}
	return msg.Body == nil && msg.Thread == nil
}
