package history

import "fmt"

// DefaultBound is the retention count used when nothing else is configured.
const DefaultBound = 25

// Policy is the retention rule applied to messages sent into a room.
type Policy uint8

const (
	// PolicyInheritDefault defers to the parent strategy's effective policy.
	PolicyInheritDefault Policy = iota
	// PolicyNone keeps no history.
	PolicyNone
	// PolicyAll keeps every message.
	PolicyAll
	// PolicyNumber keeps at most the bound number of messages.
	PolicyNumber
)

// legacyInheritName is the spelling older servers wrote to the property
// store for PolicyInheritDefault.
const legacyInheritName = "defaulType"

// String returns the name stored in configuration for the policy.
func (p Policy) String() string {
	switch p {
	case PolicyInheritDefault:
		return "default"
	case PolicyNone:
		return "none"
	case PolicyAll:
		return "all"
	case PolicyNumber:
		return "number"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// LookupPolicy returns the policy with the given configuration name,
// without any fallback.
func LookupPolicy(name string) (Policy, bool) {
	switch name {
	case "default", legacyInheritName:
		return PolicyInheritDefault, true
	case "none":
		return PolicyNone, true
	case "all":
		return PolicyAll, true
	case "number":
		return PolicyNumber, true
	default:
		return 0, false
	}
}

// ParsePolicy maps a configured policy name to a Policy.
//
// Unrecognized names fall back to PolicyInheritDefault when the strategy
// has a parent and to PolicyNumber otherwise. A strategy without a parent
// never inherits, so an inherit name also resolves to PolicyNumber there.
func ParsePolicy(name string, hasParent bool) Policy {
	p, ok := LookupPolicy(name)
	if !ok || (p == PolicyInheritDefault && !hasParent) {
		return fallbackPolicy(hasParent)
	}
	return p
}

func fallbackPolicy(hasParent bool) Policy {
	if hasParent {
		return PolicyInheritDefault
	}
	return PolicyNumber
}
