// Package filter decides which message senders the bot ignores.
package filter

import "strings"

// Policy is an immutable snapshot of the sender filtering rules.
type Policy struct {
	IgnoreSelf    bool
	IgnoreBotLike bool
	IgnoredUsers  map[string]struct{}
}

// NewPolicy builds a Policy from config values.
func NewPolicy(ignoreSelf, ignoreBotLike bool, ignoredUsers []string) Policy {
	set := make(map[string]struct{}, len(ignoredUsers))
	for _, u := range ignoredUsers {
		set[u] = struct{}{}
	}
	return Policy{
		IgnoreSelf:    ignoreSelf,
		IgnoreBotLike: ignoreBotLike,
		IgnoredUsers:  set,
	}
}

// ShouldIgnore reports whether a message from sender must be dropped.
// self is the bot's own user id.
func ShouldIgnore(sender, self string, p Policy) bool {
	if p.IgnoreSelf && sender == self {
		return true
	}
	if _, ok := p.IgnoredUsers[sender]; ok {
		return true
	}
	return p.IgnoreBotLike && strings.Contains(strings.ToLower(sender), "bot")
}

// ShouldIgnore is the method form of the package-level ShouldIgnore.
func (p Policy) ShouldIgnore(sender, self string) bool {
	return ShouldIgnore(sender, self, p)
}
