// Package chat defines the message, channel and event model shared by the
// sync engine and its backend and view collaborators.
package chat

import (
	"strings"
	"time"
)

// Kind identifies the variant of a message.
type Kind int

const (
	KindUser Kind = iota
	KindFile
	KindAdmin
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindFile:
		return "file"
	case KindAdmin:
		return "admin"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}

// ParseKind maps a wire name back to a Kind. Unknown names decode as user
// messages.
func ParseKind(name string) Kind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "file":
		return KindFile
	case "admin":
		return KindAdmin
	case "system":
		return KindSystem
	default:
		return KindUser
	}
}

// Member is a channel participant or message sender.
type Member struct {
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// FileInfo describes the payload of a file message.
type FileInfo struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is a real message as delivered by the backend. Admin and system
// messages have no sender.
type Message struct {
	ID         int64     `json:"id"`
	Kind       Kind      `json:"kind"`
	Sender     *Member   `json:"sender,omitempty"`
	Body       string    `json:"body,omitempty"`
	File       *FileInfo `json:"file,omitempty"`
	CustomType string    `json:"custom_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

func (m Message) IsUser() bool   { return m.Kind == KindUser }
func (m Message) IsFile() bool   { return m.Kind == KindFile }
func (m Message) IsAdmin() bool  { return m.Kind == KindAdmin }
func (m Message) IsSystem() bool { return m.Kind == KindSystem }

// HasSender reports whether the message carries an identifiable sender.
func (m Message) HasSender() bool {
	return m.Sender != nil && strings.TrimSpace(m.Sender.UserID) != ""
}

// SenderID returns the sender user id, or "" for sender-less messages.
func (m Message) SenderID() string {
	if !m.HasSender() {
		return ""
	}
	return m.Sender.UserID
}

// Text returns the one-line content of the message: the file name for file
// messages and the body otherwise.
func (m Message) Text() string {
	if m.IsFile() {
		if m.File == nil {
			return ""
		}
		return m.File.Name
	}
	return m.Body
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Sender != nil {
		sender := *m.Sender
		out.Sender = &sender
	}
	if m.File != nil {
		file := *m.File
		out.File = &file
	}
	return out
}

// IndexOf returns the position of the message with id in messages, or -1.
func IndexOf(messages []Message, id int64) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}
