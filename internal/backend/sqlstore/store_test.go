package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/chat"
)

func setupTestStore(t *testing.T, hub *Hub, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithHub(hub), WithPageSize(2)}, opts...)
	store, err := Open(filepath.Join(t.TempDir(), "chat.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// sharedStores opens two stores on one database file and one hub, connected
// as alice and bob.
func sharedStores(t *testing.T) (alice, bob *Store, aliceEvents, bobEvents <-chan chat.Event) {
	t.Helper()
	hub := NewHub()
	path := filepath.Join(t.TempDir(), "chat.db")

	var err error
	alice, err = Open(path, WithHub(hub), WithPageSize(2))
	require.NoError(t, err)
	bob, err = Open(path, WithHub(hub), WithPageSize(2))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = alice.Close()
		_ = bob.Close()
	})

	ctx := context.Background()
	aliceEvents, err = alice.Connect(ctx, backend.Credentials{UserID: "alice", Nickname: "Alice"})
	require.NoError(t, err)
	bobEvents, err = bob.Connect(ctx, backend.Credentials{UserID: "bob", Nickname: "Bob"})
	require.NoError(t, err)
	return alice, bob, aliceEvents, bobEvents
}

func nextEvent(t *testing.T, events <-chan chat.Event) chat.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func requireNoEvent(t *testing.T, events <-chan chat.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", chat.EventName(ev))
	default:
	}
}

func TestStore_RequiresConnection(t *testing.T) {
	store := setupTestStore(t, NewHub())
	ctx := context.Background()

	_, err := store.Channels(ctx)
	require.ErrorIs(t, err, backend.ErrNotConnected)
	require.Nil(t, store.CurrentUser())

	_, err = store.Connect(ctx, backend.Credentials{})
	require.Error(t, err)
}

func TestStore_ConnectTracksCurrentUser(t *testing.T) {
	store := setupTestStore(t, NewHub())
	ctx := context.Background()

	_, err := store.Connect(ctx, backend.Credentials{UserID: "alice", Nickname: "Alice"})
	require.NoError(t, err)
	me := store.CurrentUser()
	require.NotNil(t, me)
	require.Equal(t, "alice", me.UserID)
	require.Equal(t, "Alice", me.Nickname)

	// Reconnecting without a nickname keeps the stored profile.
	_, err = store.Connect(ctx, backend.Credentials{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, "Alice", store.CurrentUser().Nickname)

	err = store.LeaveAs(ctx, "missing", "nobody")
	require.ErrorIs(t, err, backend.ErrChannelNotFound)

	require.NoError(t, store.Disconnect(ctx))
	require.Nil(t, store.CurrentUser())
}

func TestStore_CreateChannelAndList(t *testing.T) {
	alice, _, _, bobEvents := sharedStores(t)
	ctx := context.Background()

	ch, err := alice.CreateChannel(ctx, []string{"bob"})
	require.NoError(t, err)
	require.Len(t, ch.Members, 2)
	require.Nil(t, ch.LastMessage)

	ev := nextEvent(t, bobEvents)
	changed, ok := ev.(chat.ChannelChanged)
	require.True(t, ok)
	require.Equal(t, ch.URL, changed.Channel.URL)

	channels, err := alice.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, ch.URL, channels[0].URL)

	users, err := alice.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
}

func TestStore_MessagesAreNotEchoedToSender(t *testing.T) {
	alice, bob, aliceEvents, bobEvents := sharedStores(t)
	ctx := context.Background()

	ch, err := alice.CreateChannel(ctx, []string{"bob"})
	require.NoError(t, err)
	nextEvent(t, bobEvents)

	msg, err := alice.SendText(ctx, ch, "hi bob")
	require.NoError(t, err)
	require.Equal(t, "alice", msg.SenderID())
	require.Equal(t, "Alice", msg.Sender.Nickname)
	requireNoEvent(t, aliceEvents)

	received, ok := nextEvent(t, bobEvents).(chat.MessageReceived)
	require.True(t, ok)
	require.Equal(t, msg.ID, received.Message.ID)
	require.Equal(t, 1, received.Channel.UnreadMessageCount)

	n, err := bob.UnreadCount(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = alice.UnreadCount(ctx, ch)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = alice.SendText(ctx, ch, "  ")
	require.ErrorIs(t, err, backend.ErrEmptyMessage)
}

func TestStore_ReadReceiptsAndMarkAsRead(t *testing.T) {
	alice, bob, aliceEvents, bobEvents := sharedStores(t)
	ctx := context.Background()

	ch, err := alice.CreateChannel(ctx, []string{"bob"})
	require.NoError(t, err)
	nextEvent(t, bobEvents)
	msg, err := alice.SendText(ctx, ch, "read me")
	require.NoError(t, err)
	nextEvent(t, bobEvents)

	require.Equal(t, 1, alice.ReadReceipt(ch, msg))

	bobCh, err := bob.ChannelInfo(ctx, ch.URL)
	require.NoError(t, err)
	require.NoError(t, bob.MarkAsRead(ctx, bobCh))
	_, ok := nextEvent(t, aliceEvents).(chat.ReadReceiptUpdated)
	require.True(t, ok)
	require.Zero(t, alice.ReadReceipt(ch, msg))

	// Marking again changes nothing and stays quiet.
	require.NoError(t, bob.MarkAsRead(ctx, bobCh))
	requireNoEvent(t, aliceEvents)
}

func TestStore_FetchMessagePagePagesBackward(t *testing.T) {
	store := setupTestStore(t, NewHub())
	ctx := context.Background()
	_, err := store.Connect(ctx, backend.Credentials{UserID: "alice"})
	require.NoError(t, err)
	ch, err := store.CreateChannel(ctx, []string{"bob"})
	require.NoError(t, err)

	var ids []int64
	for _, body := range []string{"one", "two", "three", "four", "five"} {
		msg, err := store.SendText(ctx, ch, body)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	cursor := store.NewCursor(ch)
	var pages [][]int64
	for cursor.HasMore() {
		page, err := store.FetchMessagePage(ctx, ch, cursor)
		require.NoError(t, err)
		var pageIDs []int64
		for _, m := range page {
			pageIDs = append(pageIDs, m.ID)
		}
		pages = append(pages, pageIDs)
	}
	require.Equal(t, [][]int64{
		{ids[3], ids[4]},
		{ids[1], ids[2]},
		{ids[0]},
	}, pages)

	page, err := store.FetchMessagePage(ctx, ch, cursor)
	require.NoError(t, err)
	require.Empty(t, page)

	other := store.NewCursor(&chat.Channel{URL: "elsewhere"})
	_, err = store.FetchMessagePage(ctx, ch, other)
	require.Error(t, err)
}

func TestStore_EditDeleteAndFiles(t *testing.T) {
	alice, _, _, bobEvents := sharedStores(t)
	ctx := context.Background()

	ch, err := alice.CreateChannel(ctx, []string{"bob"})
	require.NoError(t, err)
	nextEvent(t, bobEvents)

	file, err := alice.SendFile(ctx, ch, backend.FileUpload{Name: "plan.pdf", Type: "application/pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	require.Equal(t, chat.KindFile, file.Kind)
	require.Equal(t, int64(4), file.File.Size)
	require.NotEmpty(t, file.File.URL)
	nextEvent(t, bobEvents)

	msg, err := alice.SendText(ctx, ch, "draft")
	require.NoError(t, err)
	nextEvent(t, bobEvents)

	edited, err := alice.Edit(ctx, ch.URL, msg.ID, "final")
	require.NoError(t, err)
	require.Equal(t, "final", edited.Body)
	require.False(t, edited.UpdatedAt.IsZero())
	updated, ok := nextEvent(t, bobEvents).(chat.MessageUpdated)
	require.True(t, ok)
	require.Equal(t, "final", updated.Message.Body)

	require.NoError(t, alice.Delete(ctx, ch.URL, msg.ID))
	deleted, ok := nextEvent(t, bobEvents).(chat.MessageDeleted)
	require.True(t, ok)
	require.Equal(t, msg.ID, deleted.MessageID)
	require.Equal(t, file.ID, deleted.Channel.LastMessage.ID)

	err = alice.Delete(ctx, ch.URL, msg.ID)
	require.True(t, errors.Is(err, backend.ErrMessageNotFound))
}

func TestStore_TypingAndMembership(t *testing.T) {
	alice, bob, aliceEvents, bobEvents := sharedStores(t)
	ctx := context.Background()

	ch, err := alice.CreateChannel(ctx, []string{"bob"})
	require.NoError(t, err)
	nextEvent(t, bobEvents)

	require.NoError(t, alice.StartTyping(ctx, ch))
	typing, ok := nextEvent(t, bobEvents).(chat.TypingChanged)
	require.True(t, ok)
	require.Equal(t, []chat.Member{{UserID: "alice", Nickname: "Alice"}}, typing.Typing)
	require.NoError(t, alice.EndTyping(ctx, ch))
	typing = nextEvent(t, bobEvents).(chat.TypingChanged)
	require.Empty(t, typing.Typing)

	require.NoError(t, alice.JoinAs(ctx, ch.URL, "carol"))
	joined, ok := nextEvent(t, aliceEvents).(chat.MemberJoined)
	require.True(t, ok)
	require.Equal(t, "carol", joined.User.UserID)
	require.Len(t, joined.Channel.Members, 3)
	nextEvent(t, bobEvents)

	bobCh, err := bob.ChannelInfo(ctx, ch.URL)
	require.NoError(t, err)
	require.NoError(t, bob.Leave(ctx, bobCh))
	left, ok := nextEvent(t, aliceEvents).(chat.MemberLeft)
	require.True(t, ok)
	require.Equal(t, "bob", left.User.UserID)
	require.Len(t, left.Channel.Members, 2)
	requireNoEvent(t, bobEvents)

	_, err = bob.ChannelInfo(ctx, ch.URL)
	require.ErrorIs(t, err, backend.ErrNotMember)
	_, err = bob.ChannelInfo(ctx, "missing")
	require.ErrorIs(t, err, backend.ErrChannelNotFound)
}

func TestStore_DisconnectClosesStream(t *testing.T) {
	store := setupTestStore(t, NewHub())
	ctx := context.Background()
	events, err := store.Connect(ctx, backend.Credentials{UserID: "alice"})
	require.NoError(t, err)
	require.True(t, store.Hub().Connected("alice"))

	require.NoError(t, store.Disconnect(ctx))
	_, open := <-events
	require.False(t, open)
	require.False(t, store.Hub().Connected("alice"))
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := withRetry(ctx, 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	attempts = 0
	err = withRetry(ctx, 3, time.Millisecond, func() error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
