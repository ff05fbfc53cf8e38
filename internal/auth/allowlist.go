// Package auth decides whether an inbound event's sender may trigger agent runs.
package auth

// AllowList is an immutable set of sender ids loaded once at startup.
type AllowList struct {
	ids map[string]struct{}
}

// NewAllowList builds an allow-list from a slice of sender ids.
func NewAllowList(ids []string) *AllowList {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &AllowList{ids: set}
}

// Allowed reports whether the sender may trigger execution. Pure lookup, no side effects.
func (a *AllowList) Allowed(senderID string) bool {
	_, ok := a.ids[senderID]
	return ok
}

// Len returns the number of authorized senders.
func (a *AllowList) Len() int {
	return len(a.ids)
}
