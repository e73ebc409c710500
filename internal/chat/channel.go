package chat

import "strings"

// Channel is a conversation owned by the backend. The engine references
// channels, it never owns them.
type Channel struct {
	URL                string   `json:"url"`
	Name               string   `json:"name,omitempty"`
	CoverURL           string   `json:"cover_url,omitempty"`
	Members            []Member `json:"members,omitempty"`
	LastMessage        *Message `json:"last_message,omitempty"`
	UnreadMessageCount int      `json:"unread_message_count"`
}

// MemberCount returns the number of members in the channel.
func (c *Channel) MemberCount() int {
	if c == nil {
		return 0
	}
	return len(c.Members)
}

// HasMember reports whether userID is a member of the channel.
func (c *Channel) HasMember(userID string) bool {
	if c == nil {
		return false
	}
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Ref identifies a channel either by handle or by URL. Build it with
// RefChannel or RefURL at the API boundary; lookups never re-inspect the
// caller's input.
type Ref struct {
	channel *Channel
	url     string
}

// RefChannel refers to a channel by handle. A handle ref can materialize
// new engine state.
func RefChannel(ch *Channel) Ref {
	if ch == nil {
		return Ref{}
	}
	return Ref{channel: ch, url: ch.URL}
}

// RefURL refers to a channel by URL only. A URL ref never creates state.
func RefURL(url string) Ref {
	return Ref{url: strings.TrimSpace(url)}
}

// Channel returns the handle, if the ref carries one.
func (r Ref) Channel() (*Channel, bool) {
	return r.channel, r.channel != nil
}

// URL returns the channel URL the ref resolves to.
func (r Ref) URL() string { return r.url }

// IsZero reports whether the ref identifies nothing.
func (r Ref) IsZero() bool { return r.channel == nil && r.url == "" }

func (r Ref) String() string { return r.url }
