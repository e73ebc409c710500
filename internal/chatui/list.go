package chatui

import (
	"fmt"
	"html"
	"strings"

	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/projection"
)

// channelList is the view-side channel list. The engine reports values;
// ordering lives here.
type channelList struct {
	rows     []projection.Entry
	selected int
	total    int
}

func (l *channelList) index(url string) int {
	for i := range l.rows {
		if l.rows[i].URL == url {
			return i
		}
	}
	return -1
}

// apply folds a list signal into the list. It reports whether the signal
// was a list signal.
func (l *channelList) apply(sig *events.Signal) bool {
	switch sig.Kind {
	case events.KindChannelListed:
		if sig.Entry == nil {
			return true
		}
		if i := l.index(sig.ChannelURL); i >= 0 {
			l.rows[i] = *sig.Entry
		} else {
			l.rows = append(l.rows, *sig.Entry)
		}
	case events.KindMovedToFront:
		l.moveToFront(sig.ChannelURL)
	case events.KindPreviewChanged:
		if i := l.index(sig.ChannelURL); i >= 0 && sig.Preview != nil {
			l.rows[i].Preview = *sig.Preview
		}
	case events.KindUnreadChanged:
		if i := l.index(sig.ChannelURL); i >= 0 {
			l.rows[i].Unread = sig.Unread
		}
	case events.KindTitleChanged:
		if i := l.index(sig.ChannelURL); i >= 0 {
			l.rows[i].Title = sig.Title
			l.rows[i].Members = sig.Members
		}
	case events.KindChannelRemoved:
		if i := l.index(sig.ChannelURL); i >= 0 {
			l.rows = append(l.rows[:i], l.rows[i+1:]...)
			l.clamp()
		}
	case events.KindTotalUnreadChanged:
		l.total = sig.Unread
	default:
		return false
	}
	return true
}

// moveToFront keeps the selection on the same channel.
func (l *channelList) moveToFront(url string) {
	i := l.index(url)
	if i <= 0 {
		return
	}
	var selectedURL string
	if l.selected < len(l.rows) {
		selectedURL = l.rows[l.selected].URL
	}
	row := l.rows[i]
	copy(l.rows[1:i+1], l.rows[:i])
	l.rows[0] = row
	if j := l.index(selectedURL); j >= 0 {
		l.selected = j
	}
}

func (l *channelList) move(delta int) {
	l.selected += delta
	l.clamp()
}

func (l *channelList) clamp() {
	if l.selected >= len(l.rows) {
		l.selected = len(l.rows) - 1
	}
	if l.selected < 0 {
		l.selected = 0
	}
}

func (l *channelList) current() (projection.Entry, bool) {
	if l.selected < 0 || l.selected >= len(l.rows) {
		return projection.Entry{}, false
	}
	return l.rows[l.selected], true
}

func (l *channelList) reset() {
	l.rows = nil
	l.selected = 0
	l.total = 0
}

func (l *channelList) render(theme Theme, width, height int, focused bool) string {
	var b strings.Builder
	title := "Channels"
	if l.total > 0 {
		title += " " + theme.Badge.Render(fmt.Sprintf("(%d)", l.total))
	}
	b.WriteString(theme.Header.Render(title))
	b.WriteString("\n")

	if len(l.rows) == 0 {
		b.WriteString(theme.Muted.Render("no channels, press n to start a chat"))
		return b.String()
	}

	// Two lines per row; keep the selection visible.
	visible := (height - 1) / 2
	if visible < 1 {
		visible = 1
	}
	start := 0
	if l.selected >= visible {
		start = l.selected - visible + 1
	}
	for i := start; i < len(l.rows) && i < start+visible; i++ {
		row := l.rows[i]
		name := row.Title
		if name == "" {
			name = row.URL
		}
		line := truncate(name, width-8)
		if row.Unread > 0 {
			line += " " + theme.Badge.Render(fmt.Sprintf("[%d]", row.Unread))
		}
		if i == l.selected && focused {
			line = theme.Selected.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")

		// Previews are HTML-escaped for web views.
		preview := html.UnescapeString(row.Preview.Text)
		if row.Preview.Empty {
			preview = "no messages yet"
		}
		meta := truncate(preview, width-10)
		if row.Preview.Time != "" {
			meta += " · " + row.Preview.Time
		}
		b.WriteString("  " + theme.Muted.Render(meta))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	if max <= 1 {
		max = 1
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
