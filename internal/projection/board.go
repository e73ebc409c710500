package projection

import "github.com/poloBBQ/chatsync/internal/chat"

// Entry is the channel-list projection of one channel.
type Entry struct {
	URL      string
	Title    string
	CoverURL string
	Members  int
	Preview  Preview
	Unread   int
}

// Board caches the last backend-reported unread counts and previews. It
// stores values only; list ordering belongs to the view.
type Board struct {
	entries map[string]*Entry
	total   int
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{entries: make(map[string]*Entry)}
}

// Upsert records channel metadata and returns the entry and whether it was
// newly created.
func (b *Board) Upsert(ch *chat.Channel, selfID string, f Formatter) (Entry, bool) {
	if ch == nil || ch.URL == "" {
		return Entry{}, false
	}
	entry, ok := b.entries[ch.URL]
	if !ok {
		entry = &Entry{URL: ch.URL, Preview: f.PreviewOf(ch.LastMessage)}
		b.entries[ch.URL] = entry
	}
	entry.Title = Title(ch, selfID)
	entry.CoverURL = ch.CoverURL
	entry.Members = ch.MemberCount()
	entry.Unread = ch.UnreadMessageCount
	return *entry, !ok
}

// Entry returns the projection for url.
func (b *Board) Entry(url string) (Entry, bool) {
	entry, ok := b.entries[url]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// SetPreview replaces the preview of url.
func (b *Board) SetPreview(url string, p Preview) {
	if entry, ok := b.entries[url]; ok {
		entry.Preview = p
	}
}

// SetTitle replaces the title and member count of url.
func (b *Board) SetTitle(url, title string, members int) {
	if entry, ok := b.entries[url]; ok {
		entry.Title = title
		entry.Members = members
	}
}

// SetUnread records the unread count of url.
func (b *Board) SetUnread(url string, n int) {
	if entry, ok := b.entries[url]; ok {
		entry.Unread = n
	}
}

// SetTotal records the aggregate unread count.
func (b *Board) SetTotal(n int) { b.total = n }

// Total returns the last known aggregate unread count.
func (b *Board) Total() int { return b.total }

// Remove drops url from the board.
func (b *Board) Remove(url string) { delete(b.entries, url) }

// Reset clears the board.
func (b *Board) Reset() {
	b.entries = make(map[string]*Entry)
	b.total = 0
}

// Len returns the number of tracked channels.
func (b *Board) Len() int { return len(b.entries) }
