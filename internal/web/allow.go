// ABOUTME: Client admission for the web channel
// ABOUTME: Allower interface and a static allow-list implementation

package web

import "strings"

// Allower decides whether a client id may open a connection.
type Allower interface {
	Allowed(clientID string) bool
}

// AllowList admits the listed client ids. An empty list admits everyone.
// Composite ids of the form "a|b" are admitted when any part is listed.
type AllowList struct {
	ids map[string]struct{}
}

// NewAllowList builds an AllowList, ignoring blank entries.
func NewAllowList(ids []string) *AllowList {
	al := &AllowList{ids: make(map[string]struct{})}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			al.ids[id] = struct{}{}
		}
	}
	return al
}

func (a *AllowList) Allowed(clientID string) bool {
	if len(a.ids) == 0 {
		return true
	}
	if _, ok := a.ids[clientID]; ok {
		return true
	}
	if strings.Contains(clientID, "|") {
		for _, part := range strings.Split(clientID, "|") {
			if _, ok := a.ids[part]; ok && part != "" {
				return true
			}
		}
	}
	return false
}
