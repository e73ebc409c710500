package chatui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/dustin/go-humanize"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/projection"
	"github.com/poloBBQ/chatsync/internal/timeline"
)

// board is the view of one open channel.
type board struct {
	url     string
	title   string
	members int
	items   []timeline.Item
	typing  []chat.Member

	// loading suppresses duplicate older-page requests while one is in
	// flight. exhausted is set once an older page comes back empty.
	loading   bool
	exhausted bool
	minimized bool
	atBottom  bool

	vp viewport.Model
}

func newBoard(url, title string, members int) *board {
	return &board{
		url:      url,
		title:    title,
		members:  members,
		atBottom: true,
		vp:       viewport.New(0, 0),
	}
}

// ItemHeight is the number of terminal lines an item renders to. The
// engine uses it to report the height of prepended pages.
func ItemHeight(item timeline.Item) int {
	if item.IsSeparator() {
		return 1
	}
	lines := bodyLines(item.Message)
	if item.Continuous || !item.Message.HasSender() {
		return lines
	}
	return lines + 1
}

func bodyLines(msg chat.Message) int {
	if msg.IsFile() {
		return 1
	}
	return strings.Count(msg.Body, "\n") + 1
}

// merge applies a timeline result. It returns the scroll adjustment the
// viewport needs.
func (b *board) merge(res timeline.Result) (shift int, toBottom bool) {
	switch res.Direction {
	case timeline.Initial:
		b.items = append([]timeline.Item(nil), res.Items...)
		return 0, true
	case timeline.Older:
		if len(res.Items) == 0 {
			b.exhausted = true
			return 0, false
		}
		rest := b.items
		if res.StaleHeader && len(rest) > 0 && rest[0].IsSeparator() {
			shift -= ItemHeight(rest[0])
			rest = rest[1:]
			if res.Boundary != nil && len(rest) > 0 && !rest[0].IsSeparator() {
				shift += ItemHeight(*res.Boundary) - ItemHeight(rest[0])
				rest = append([]timeline.Item{*res.Boundary}, rest[1:]...)
			}
		}
		items := make([]timeline.Item, 0, len(res.Items)+len(rest))
		items = append(items, res.Items...)
		b.items = append(items, rest...)
		return shift + res.AddedHeight, false
	default:
		b.items = append(b.items, res.Items...)
		return 0, res.ScrollToBottom
	}
}

func (b *board) indexOf(id int64) int {
	for i := range b.items {
		if !b.items[i].IsSeparator() && b.items[i].Message.ID == id {
			return i
		}
	}
	return -1
}

func (b *board) replace(msg chat.Message) {
	if i := b.indexOf(msg.ID); i >= 0 {
		b.items[i].Message = msg
	}
}

// remove drops the message and a separator left without messages.
func (b *board) remove(id int64) {
	i := b.indexOf(id)
	if i < 0 {
		return
	}
	b.items = append(b.items[:i], b.items[i+1:]...)
	if i > 0 && b.items[i-1].IsSeparator() && (i == len(b.items) || b.items[i].IsSeparator()) {
		// Keep the trailing today marker of a fresh timeline.
		if !(i == len(b.items) && b.items[i-1].DayKey == projection.Today) {
			b.items = append(b.items[:i-1], b.items[i:]...)
		}
	}
	if i < len(b.items) && i > 0 && !b.items[i].IsSeparator() && b.items[i].Continuous {
		prev := b.items[i-1]
		if prev.IsSeparator() || prev.Message.SenderID() != b.items[i].Message.SenderID() {
			b.items[i].Continuous = false
		}
	}
}

func (b *board) setReceipts(receipts map[int64]int) {
	for i := range b.items {
		if b.items[i].IsSeparator() {
			continue
		}
		if n, ok := receipts[b.items[i].Message.ID]; ok {
			b.items[i].Unread = n
		}
	}
}

// apply folds a board signal into the board. The bool result asks for a
// scroll to the newest message.
func (b *board) apply(sig *events.Signal) (shift int, toBottom bool) {
	switch sig.Kind {
	case events.KindTimelineMerged:
		if sig.Timeline != nil {
			return b.merge(*sig.Timeline)
		}
	case events.KindMessageReplaced:
		if sig.Message != nil {
			b.replace(*sig.Message)
		}
	case events.KindMessageRemoved:
		b.remove(sig.MessageID)
	case events.KindTyping:
		b.typing = sig.Typing
	case events.KindReceiptsChanged:
		b.setReceipts(sig.Receipts)
	case events.KindHeaderChanged:
		b.title = sig.Title
		b.members = sig.Members
	}
	return 0, false
}

// lastActive returns the time of the newest message.
func (b *board) lastActive() (time.Time, bool) {
	for i := len(b.items) - 1; i >= 0; i-- {
		if !b.items[i].IsSeparator() {
			return b.items[i].Message.CreatedAt, true
		}
	}
	return time.Time{}, false
}

// refresh re-renders the content into the viewport and applies a scroll
// adjustment.
func (b *board) refresh(theme Theme, format projection.Formatter, shift int, toBottom bool) {
	b.vp.SetContent(renderItems(theme, format, b.items))
	switch {
	case toBottom:
		b.vp.GotoBottom()
	case shift != 0:
		b.vp.SetYOffset(b.vp.YOffset + shift)
	}
}

func (b *board) resize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	b.vp.Width = width
	b.vp.Height = height
}

func (b *board) header(theme Theme, now time.Time) string {
	title := b.title
	if title == "" {
		title = b.url
	}
	meta := fmt.Sprintf("%d members", b.members)
	if t, ok := b.lastActive(); ok {
		meta += " · active " + humanize.RelTime(t, now, "ago", "from now")
	}
	return theme.Header.Render(title) + " " + theme.Muted.Render(meta)
}

func (b *board) footer(theme Theme) string {
	switch {
	case b.loading:
		return theme.Muted.Render("loading earlier messages…")
	case len(b.typing) == 1:
		return theme.Muted.Render(displayName(b.typing[0]) + " is typing…")
	case len(b.typing) > 1:
		return theme.Muted.Render("several people are typing…")
	}
	return ""
}

func renderItems(theme Theme, format projection.Formatter, items []timeline.Item) string {
	lines := make([]string, 0, len(items)*2)
	for _, item := range items {
		lines = append(lines, renderItem(theme, format, item))
	}
	return strings.Join(lines, "\n")
}

func renderItem(theme Theme, format projection.Formatter, item timeline.Item) string {
	if item.IsSeparator() {
		label := item.DayKey
		if label == projection.Today {
			label = "Today"
		}
		return theme.Muted.Render("── " + label + " ──")
	}

	msg := item.Message
	body := msg.Body
	if msg.IsFile() && msg.File != nil {
		body = fmt.Sprintf("[file] %s (%s)", msg.File.Name, humanize.Bytes(uint64(msg.File.Size)))
	}
	if !msg.HasSender() {
		return theme.System.Render(body)
	}
	if item.Mine && item.Unread > 0 {
		body += " " + theme.Badge.Render(fmt.Sprintf("%d", item.Unread))
	}
	if item.Continuous {
		return theme.Text.Render(body)
	}

	name := theme.Other.Render(displayName(*msg.Sender))
	if item.Mine {
		name = theme.Own.Render("you")
	}
	stamp := theme.Muted.Render(format.MessageTime(msg.CreatedAt))
	return name + " " + stamp + "\n" + theme.Text.Render(body)
}

func displayName(m chat.Member) string {
	if m.Nickname != "" {
		return m.Nickname
	}
	return m.UserID
}
