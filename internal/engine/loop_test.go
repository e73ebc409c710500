package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poloBBQ/chatsync/internal/channelset"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/timeline"
)

type pageOutcome struct {
	res timeline.Result
	ok  bool
	err error
}

func startLoop(t *testing.T, s *Session, stream <-chan chat.Event) *Loop {
	t.Helper()
	loop := NewLoop(s)
	require.NoError(t, loop.Start(context.Background(), stream))
	t.Cleanup(func() {
		if loop.IsRunning() {
			require.NoError(t, loop.Stop())
		}
	})
	return loop
}

func TestLoopLifecycle(t *testing.T) {
	client := newFakeClient()
	s, _ := newTestSession(t, client)
	loop := NewLoop(s)

	require.ErrorIs(t, loop.Stop(), ErrLoopNotRunning)
	require.ErrorIs(t, loop.Post(func(context.Context, *Session) {}), ErrLoopNotRunning)

	require.NoError(t, loop.Start(context.Background(), nil))
	require.True(t, loop.IsRunning())
	require.ErrorIs(t, loop.Start(context.Background(), nil), ErrLoopAlreadyRunning)
	require.NoError(t, loop.Stop())
	require.False(t, loop.IsRunning())
}

func TestLoopDrainsEventsInOrder(t *testing.T) {
	client := newFakeClient()
	s, _ := newTestSession(t, client)
	openWith(t, s, client, "c1")
	ch := client.channels["c1"]

	stream := make(chan chat.Event, 3)
	loop := startLoop(t, s, stream)
	for i := int64(1); i <= 3; i++ {
		stream <- chat.MessageReceived{Channel: ch, Message: msgFrom(i, "bob", testNow)}
	}
	close(stream)

	require.Eventually(t, func() bool {
		var n int
		_ = loop.Do(context.Background(), func(_ context.Context, s *Session) error {
			set, _ := s.Lookup(chat.RefURL("c1"))
			n = len(set.Messages)
			return nil
		})
		return n == 3
	}, time.Second, 10*time.Millisecond)

	var got []int64
	err := loop.Do(context.Background(), func(_ context.Context, s *Session) error {
		set, _ := s.Lookup(chat.RefURL("c1"))
		got = ids(set.Messages)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestLoadOlderAsyncMergesOnLoop(t *testing.T) {
	client := newFakeClient()
	client.addChannel("c1", "bob")
	for i := int64(1); i <= 4; i++ {
		client.history["c1"] = append(client.history["c1"], msgFrom(i, "bob", testNow.Add(time.Duration(i-10)*time.Minute)))
	}
	client.pageSize = 2
	s, _ := newTestSession(t, client)
	ctx := context.Background()
	_, err := s.OpenChannel(ctx, chat.RefURL("c1"), channelset.PlaceFront)
	require.NoError(t, err)
	_, _, err = s.LoadInitial(ctx, chat.RefURL("c1"))
	require.NoError(t, err)

	loop := startLoop(t, s, nil)
	done := make(chan pageOutcome, 1)
	require.NoError(t, loop.LoadOlderAsync(chat.RefURL("c1"), func(res timeline.Result, ok bool, err error) {
		done <- pageOutcome{res, ok, err}
	}))

	select {
	case out := <-done:
		require.NoError(t, out.err)
		require.True(t, out.ok)
		require.Equal(t, []int64{1, 2}, ids(out.res.Messages()))
	case <-time.After(time.Second):
		t.Fatal("page never merged")
	}
}

func TestLoadOlderAsyncAfterCloseDegradesToNoop(t *testing.T) {
	client := newFakeClient()
	client.addChannel("c1", "bob")
	for i := int64(1); i <= 4; i++ {
		client.history["c1"] = append(client.history["c1"], msgFrom(i, "bob", testNow))
	}
	client.pageSize = 2
	s, _ := newTestSession(t, client)
	ctx := context.Background()
	_, err := s.OpenChannel(ctx, chat.RefURL("c1"), channelset.PlaceFront)
	require.NoError(t, err)
	_, _, err = s.LoadInitial(ctx, chat.RefURL("c1"))
	require.NoError(t, err)

	client.gate = make(chan struct{})
	loop := startLoop(t, s, nil)
	done := make(chan pageOutcome, 1)
	require.NoError(t, loop.LoadOlderAsync(chat.RefURL("c1"), func(res timeline.Result, ok bool, err error) {
		done <- pageOutcome{res, ok, err}
	}))

	// The channel closes while the fetch is blocked in the backend.
	var closed bool
	require.NoError(t, loop.Do(ctx, func(ctx context.Context, s *Session) error {
		closed = s.CloseChannel(ctx, chat.RefURL("c1"))
		return nil
	}))
	require.True(t, closed)
	close(client.gate)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		require.False(t, out.ok)
	case <-time.After(time.Second):
		t.Fatal("page outcome never delivered")
	}
}
