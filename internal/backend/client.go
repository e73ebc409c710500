// Package backend defines the contract the sync engine needs from the chat
// backend client. Implementations own all network and storage I/O.
package backend

import (
	"context"
	"errors"

	"github.com/poloBBQ/chatsync/internal/chat"
)

// Backend errors.
var (
	ErrNotConnected    = errors.New("backend not connected")
	ErrChannelNotFound = errors.New("channel not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMember       = errors.New("user is not a channel member")
	ErrEmptyMessage    = errors.New("message body required")
)

// Credentials identify the local user when connecting.
type Credentials struct {
	UserID      string
	Nickname    string
	AccessToken string
}

// Cursor is a backward pagination position over a channel's history.
// Fetching a page advances it.
type Cursor interface {
	// HasMore reports whether older messages may remain.
	HasMore() bool
}

// CursorFactory creates a fresh cursor positioned at the newest message.
type CursorFactory interface {
	NewCursor(ch *chat.Channel) Cursor
}

// ReceiptCounter reports, for a message, how many members have not read it.
type ReceiptCounter interface {
	ReadReceipt(ch *chat.Channel, msg chat.Message) int
}

// FileUpload is the payload of a file message to send.
type FileUpload struct {
	Name string
	Type string
	Data []byte
}

// Client is the backend client collaborator.
type Client interface {
	CursorFactory
	ReceiptCounter

	// Connect authenticates and subscribes to real-time events. The returned
	// channel is closed on Disconnect.
	Connect(ctx context.Context, creds Credentials) (<-chan chat.Event, error)
	Disconnect(ctx context.Context) error
	// CurrentUser returns the connected user, or nil when disconnected.
	CurrentUser() *chat.Member

	ChannelInfo(ctx context.Context, url string) (*chat.Channel, error)
	Channels(ctx context.Context) ([]*chat.Channel, error)
	Users(ctx context.Context) ([]chat.Member, error)
	CreateChannel(ctx context.Context, userIDs []string) (*chat.Channel, error)
	Leave(ctx context.Context, ch *chat.Channel) error

	// FetchMessagePage returns the next page of older messages, ordered
	// oldest first, and advances cursor.
	FetchMessagePage(ctx context.Context, ch *chat.Channel, cursor Cursor) ([]chat.Message, error)
	// SendText and SendFile return the stored message. Sends made by the
	// local user are not echoed on the event stream.
	SendText(ctx context.Context, ch *chat.Channel, text string) (chat.Message, error)
	SendFile(ctx context.Context, ch *chat.Channel, file FileUpload) (chat.Message, error)

	MarkAsRead(ctx context.Context, ch *chat.Channel) error
	// UnreadCount returns the unread count of ch, or the aggregate over all
	// channels when ch is nil.
	UnreadCount(ctx context.Context, ch *chat.Channel) (int, error)

	StartTyping(ctx context.Context, ch *chat.Channel) error
	EndTyping(ctx context.Context, ch *chat.Channel) error
}
