// Package timeline merges fetched pages and live messages into a channel's
// cached timeline and produces display-ready items: day separators,
// continuity grouping and read receipt counts.
package timeline

import "github.com/poloBBQ/chatsync/internal/chat"

// Direction tells the merger where a batch lands.
type Direction int

const (
	// Initial is the first page of an opened channel.
	Initial Direction = iota
	// Older is a backward pagination page, prepended to the timeline.
	Older
	// Live is one or more real-time messages appended at the tail.
	Live
)

func (d Direction) String() string {
	switch d {
	case Initial:
		return "initial"
	case Older:
		return "older"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// ItemKind distinguishes real messages from synthetic separators.
type ItemKind int

const (
	ItemMessage ItemKind = iota
	ItemSeparator
)

// Item is one render-ready entry of a timeline.
type Item struct {
	Kind ItemKind
	// Message is set for ItemMessage.
	Message chat.Message
	// DayKey is the calendar day of the message, or the day a separator
	// introduces.
	DayKey string
	// Continuous marks a message rendered in the same block as its
	// predecessor.
	Continuous bool
	// Mine marks messages sent by the local user.
	Mine bool
	// Unread is the number of members who have not read the message.
	Unread int
}

// Separator builds a day separator item.
func Separator(dayKey string) Item {
	return Item{Kind: ItemSeparator, DayKey: dayKey}
}

// IsSeparator reports whether the item is a day separator.
func (i Item) IsSeparator() bool { return i.Kind == ItemSeparator }

// Batch is a set of messages to merge, ordered oldest first.
type Batch struct {
	Messages  []chat.Message
	Direction Direction
	// Boundary is the cached message adjacent to the batch: the newest one
	// for live batches, the oldest one for older pages. Nil when the
	// timeline is empty.
	Boundary *chat.Message
	// AtBottom reports whether the viewport sat at the newest message before
	// a live batch arrived.
	AtBottom bool
}

// Result is the display output of a merge.
type Result struct {
	Direction Direction
	Items     []Item
	// ScrollToBottom asks the view to reveal the newest message.
	ScrollToBottom bool
	// AddedHeight is the accumulated height of items prepended by an older
	// page, used to keep the scroll position steady.
	AddedHeight int
	// StaleHeader is set when an older page ends on the day that already
	// heads the displayed timeline; the view drops that separator.
	StaleHeader bool
	// Boundary is the re-annotated former top message when StaleHeader is
	// set, since it may now continue the page's last message.
	Boundary *Item
}

// Messages returns the real messages of the result in display order.
func (r Result) Messages() []chat.Message {
	out := make([]chat.Message, 0, len(r.Items))
	for _, item := range r.Items {
		if !item.IsSeparator() {
			out = append(out, item.Message)
		}
	}
	return out
}

// Separators returns the day keys of the separators in display order.
func (r Result) Separators() []string {
	var out []string
	for _, item := range r.Items {
		if item.IsSeparator() {
			out = append(out, item.DayKey)
		}
	}
	return out
}
