package channelset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/chat"
)

type testCursor struct{ url string }

func (c *testCursor) HasMore() bool { return true }

type testCursors struct{ created int }

func (f *testCursors) NewCursor(ch *chat.Channel) backend.Cursor {
	f.created++
	return &testCursor{url: ch.URL}
}

func TestRegistry_GetOrCreateReturnsSameInstance(t *testing.T) {
	cursors := &testCursors{}
	reg := NewRegistry(cursors)
	ch := &chat.Channel{URL: "ch-1"}

	first, ok := reg.GetOrCreate(chat.RefChannel(ch), PlaceFront)
	require.True(t, ok)
	first.Messages = append(first.Messages, chat.Message{ID: 1})

	for i := 0; i < 3; i++ {
		again, ok := reg.GetOrCreate(chat.RefChannel(ch), PlaceFront)
		require.True(t, ok)
		require.Same(t, first, again)
	}
	require.Equal(t, 1, reg.Len())
	require.Equal(t, 1, cursors.created)
	require.Len(t, first.Messages, 1)
	require.NotNil(t, first.Cursor)
}

func TestRegistry_URLRefNeverCreates(t *testing.T) {
	reg := NewRegistry(&testCursors{})

	set, ok := reg.GetOrCreate(chat.RefURL("ch-1"), PlaceFront)
	require.False(t, ok)
	require.Nil(t, set)
	require.Zero(t, reg.Len())

	ch := &chat.Channel{URL: "ch-1"}
	created, ok := reg.GetOrCreate(chat.RefChannel(ch), PlaceFront)
	require.True(t, ok)

	byURL, ok := reg.GetOrCreate(chat.RefURL("ch-1"), PlaceFront)
	require.True(t, ok)
	require.Same(t, created, byURL)
}

func TestRegistry_RefreshedHandleResolvesByURL(t *testing.T) {
	reg := NewRegistry(&testCursors{})
	original := &chat.Channel{URL: "ch-1"}
	created, _ := reg.GetOrCreate(chat.RefChannel(original), PlaceFront)

	refreshed := &chat.Channel{URL: "ch-1", UnreadMessageCount: 3}
	found, ok := reg.GetOrCreate(chat.RefChannel(refreshed), PlaceFront)
	require.True(t, ok)
	require.Same(t, created, found)
	require.Equal(t, 1, reg.Len())
}

func TestRegistry_Placement(t *testing.T) {
	reg := NewRegistry(&testCursors{})
	a := &chat.Channel{URL: "a"}
	b := &chat.Channel{URL: "b"}
	c := &chat.Channel{URL: "c"}

	reg.GetOrCreate(chat.RefChannel(a), PlaceFront)
	reg.GetOrCreate(chat.RefChannel(b), PlaceFront)
	reg.GetOrCreate(chat.RefChannel(c), PlaceBack)

	urls := make([]string, 0, 3)
	for _, set := range reg.All() {
		urls = append(urls, set.URL())
	}
	require.Equal(t, []string{"b", "a", "c"}, urls)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry(&testCursors{})
	ch := &chat.Channel{URL: "ch-1"}
	reg.GetOrCreate(chat.RefChannel(ch), PlaceFront)

	require.True(t, reg.Remove(chat.RefURL("ch-1")))
	require.False(t, reg.Remove(chat.RefURL("ch-1")))
	require.False(t, reg.Remove(chat.RefChannel(ch)))
	require.Zero(t, reg.Len())

	_, ok := reg.Lookup(chat.RefChannel(ch))
	require.False(t, ok)
}

func TestRegistry_Reset(t *testing.T) {
	reg := NewRegistry(nil)
	reg.GetOrCreate(chat.RefChannel(&chat.Channel{URL: "a"}), PlaceFront)
	reg.GetOrCreate(chat.RefChannel(&chat.Channel{URL: "b"}), PlaceBack)
	require.Equal(t, 2, reg.Len())

	reg.Reset()
	require.Zero(t, reg.Len())
	require.Empty(t, reg.All())
}

func TestChannelSet_FirstAndLast(t *testing.T) {
	var empty *ChannelSet
	_, ok := empty.Last()
	require.False(t, ok)

	set := &ChannelSet{Messages: []chat.Message{{ID: 1}, {ID: 2}}}
	first, ok := set.First()
	require.True(t, ok)
	require.EqualValues(t, 1, first.ID)
	last, ok := set.Last()
	require.True(t, ok)
	require.EqualValues(t, 2, last.ID)
}
