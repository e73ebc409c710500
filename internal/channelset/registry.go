// Package channelset holds the registry of active channel sets: one cached
// timeline and pagination cursor per opened channel.
package channelset

import (
	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/chat"
)

// Placement controls where a newly created set is inserted.
type Placement int

const (
	// PlaceFront inserts at the front (opened in the foreground).
	PlaceFront Placement = iota
	// PlaceBack appends (opened in the background).
	PlaceBack
)

// Display tracks the day keys at the edges of the rendered timeline so the
// merge engine can continue it without re-reading the view.
type Display struct {
	// TopDay is the day key heading the oldest displayed message.
	TopDay string
	// TailDay is the day key of the newest displayed item.
	TailDay string
	// TailSeparator is set when the newest displayed item is a separator.
	TailSeparator bool
}

// ChannelSet is the local cache for one open channel.
type ChannelSet struct {
	Channel  *chat.Channel
	Cursor   backend.Cursor
	Messages []chat.Message
	Display  Display
}

// URL returns the channel URL of the set.
func (s *ChannelSet) URL() string {
	if s == nil || s.Channel == nil {
		return ""
	}
	return s.Channel.URL
}

// Last returns the newest cached message.
func (s *ChannelSet) Last() (chat.Message, bool) {
	if s == nil || len(s.Messages) == 0 {
		return chat.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// First returns the oldest cached message.
func (s *ChannelSet) First() (chat.Message, bool) {
	if s == nil || len(s.Messages) == 0 {
		return chat.Message{}, false
	}
	return s.Messages[0], true
}

// Registry is the ordered collection of active channel sets. It is not safe
// for concurrent use; the engine loop owns it.
type Registry struct {
	sets    []*ChannelSet
	cursors backend.CursorFactory
}

// NewRegistry creates an empty registry. cursors supplies the pagination
// cursor of each new set.
func NewRegistry(cursors backend.CursorFactory) *Registry {
	return &Registry{cursors: cursors}
}

// GetOrCreate returns the set for ref, creating it when ref carries a
// channel handle and no set exists yet. A URL-only ref never creates. The
// second result reports whether a set was found or created.
func (r *Registry) GetOrCreate(ref chat.Ref, placement Placement) (*ChannelSet, bool) {
	if set, ok := r.Lookup(ref); ok {
		return set, true
	}
	ch, ok := ref.Channel()
	if !ok {
		return nil, false
	}

	set := &ChannelSet{
		Channel:  ch,
		Messages: []chat.Message{},
	}
	if r.cursors != nil {
		set.Cursor = r.cursors.NewCursor(ch)
	}
	if placement == PlaceBack {
		r.sets = append(r.sets, set)
	} else {
		r.sets = append([]*ChannelSet{set}, r.sets...)
	}
	return set, true
}

// Lookup finds the set for ref without creating one. Handle refs match by
// identity first and fall back to the channel URL.
func (r *Registry) Lookup(ref chat.Ref) (*ChannelSet, bool) {
	idx := r.indexOf(ref)
	if idx < 0 {
		return nil, false
	}
	return r.sets[idx], true
}

// Remove drops the set for ref. Removing an absent channel is a no-op.
func (r *Registry) Remove(ref chat.Ref) bool {
	idx := r.indexOf(ref)
	if idx < 0 {
		return false
	}
	r.sets = append(r.sets[:idx], r.sets[idx+1:]...)
	return true
}

// Reset clears the registry.
func (r *Registry) Reset() {
	r.sets = nil
}

// Len returns the number of active sets.
func (r *Registry) Len() int { return len(r.sets) }

// All returns the active sets in registry order. The slice is a copy; the
// sets are not.
func (r *Registry) All() []*ChannelSet {
	out := make([]*ChannelSet, len(r.sets))
	copy(out, r.sets)
	return out
}

func (r *Registry) indexOf(ref chat.Ref) int {
	if ref.IsZero() {
		return -1
	}
	if ch, ok := ref.Channel(); ok {
		for i, set := range r.sets {
			if set.Channel == ch {
				return i
			}
		}
	}
	url := ref.URL()
	if url == "" {
		return -1
	}
	for i, set := range r.sets {
		if set.URL() == url {
			return i
		}
	}
	return -1
}
