// Package events carries view signals out of the sync engine. The engine
// never touches the view directly: it publishes what changed and the view
// decides how to render it.
package events

import (
	"time"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/projection"
	"github.com/poloBBQ/chatsync/internal/timeline"
)

// Kind categorizes a signal.
type Kind string

const (
	// Channel list signals.
	KindChannelListed      Kind = "list.channel_listed"
	KindMovedToFront       Kind = "list.moved_to_front"
	KindPreviewChanged     Kind = "list.preview_changed"
	KindUnreadChanged      Kind = "list.unread_changed"
	KindTitleChanged       Kind = "list.title_changed"
	KindChannelRemoved     Kind = "list.channel_removed"
	KindTotalUnreadChanged Kind = "launcher.unread_changed"

	// Chat board signals.
	KindBoardOpened     Kind = "board.opened"
	KindBoardClosed     Kind = "board.closed"
	KindHeaderChanged   Kind = "board.header_changed"
	KindTimelineMerged  Kind = "board.timeline_merged"
	KindMessageReplaced Kind = "board.message_replaced"
	KindMessageRemoved  Kind = "board.message_removed"
	KindTyping          Kind = "board.typing"
	KindReceiptsChanged Kind = "board.receipts_changed"

	// Session signals.
	KindNotify Kind = "session.notify"
	KindReset  Kind = "session.reset"
)

// Signal describes one view-level effect. Only the fields relevant to Kind
// are set.
type Signal struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	ChannelURL string    `json:"channel_url,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	Entry     *projection.Entry   `json:"entry,omitempty"`
	Preview   *projection.Preview `json:"preview,omitempty"`
	Unread    int                 `json:"unread,omitempty"`
	Title     string              `json:"title,omitempty"`
	Members   int                 `json:"members,omitempty"`
	Timeline  *timeline.Result    `json:"timeline,omitempty"`
	Message   *chat.Message       `json:"message,omitempty"`
	MessageID int64               `json:"message_id,omitempty"`
	Typing    []chat.Member       `json:"typing,omitempty"`
	Receipts  map[int64]int       `json:"receipts,omitempty"`
}
