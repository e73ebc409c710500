package projection

import (
	"html"
	"strings"

	"github.com/poloBBQ/chatsync/internal/chat"
)

// Preview is the one-line summary of a channel's last message.
type Preview struct {
	MessageID int64
	Text      string
	Time      string
	// Empty marks a channel with no message to summarize.
	Empty bool
}

// PreviewOf summarizes msg. A nil message yields an empty preview.
func (f Formatter) PreviewOf(msg *chat.Message) Preview {
	if msg == nil {
		return Preview{Empty: true}
	}
	return Preview{
		MessageID: msg.ID,
		Text:      html.EscapeString(msg.Text()),
		Time:      f.MessageTime(msg.CreatedAt),
	}
}

// Title is the channel name shown in lists: the nicknames of the other
// members, or the channel name when nobody else is present.
func Title(ch *chat.Channel, selfID string) string {
	if ch == nil {
		return ""
	}
	names := make([]string, 0, len(ch.Members))
	for _, m := range ch.Members {
		if m.UserID == selfID {
			continue
		}
		name := strings.TrimSpace(m.Nickname)
		if name == "" {
			name = m.UserID
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		if name := strings.TrimSpace(ch.Name); name != "" {
			return name
		}
		return ch.URL
	}
	return strings.Join(names, ", ")
}
