package wsfeed

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/testutil"
)

var testChannel = &chat.Channel{URL: "c1", Name: "general", UnreadMessageCount: 2}

func sampleEvents() []chat.Event {
	bob := chat.Member{UserID: "bob", Nickname: "Bob"}
	msg := chat.Message{ID: 7, Kind: chat.KindUser, Sender: &bob, Body: "<b>hi</b>", CreatedAt: time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)}
	return []chat.Event{
		chat.MessageReceived{Channel: testChannel, Message: msg},
		chat.MessageUpdated{Channel: testChannel, Message: msg},
		chat.MessageDeleted{Channel: testChannel, MessageID: 7},
		chat.TypingChanged{Channel: testChannel, Typing: []chat.Member{bob}},
		chat.ReadReceiptUpdated{Channel: testChannel},
		chat.MemberJoined{Channel: testChannel, User: bob},
		chat.MemberLeft{Channel: testChannel, User: bob},
		chat.ChannelChanged{Channel: testChannel},
	}
}

func TestCodecCoversEveryEvent(t *testing.T) {
	for _, ev := range sampleEvents() {
		t.Run(chat.EventName(ev), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, ev))
			if _, ok := ev.(chat.MessageReceived); ok {
				require.Contains(t, buf.String(), "<b>hi</b>")
			}

			got, err := Decode(buf.Bytes())
			require.NoError(t, err)
			require.Equal(t, chat.EventName(ev), chat.EventName(got))
			require.Equal(t, "c1", got.EventChannel().URL)
		})
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{`},
		{"unknown type", `{"type":"poke","channel":{"url":"c1"}}`},
		{"no channel", `{"type":"channel_changed"}`},
		{"received without message", `{"type":"message_received","channel":{"url":"c1"}}`},
		{"joined without user", `{"type":"member_joined","channel":{"url":"c1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			require.Error(t, err)
		})
	}

	_, err := Wrap(nil)
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestScriptSkipsCommentsAndReportsLine(t *testing.T) {
	in := strings.Join([]string{
		"# warm up",
		`{"type":"channel_changed","channel":{"url":"c1"}}`,
		"",
		`{"type":"message_deleted","to":"alice","channel":{"url":"c1"},"message_id":3}`,
	}, "\n")
	script, err := Script(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, script, 2)
	require.Equal(t, "alice", script[1].To)

	_, err = Script(strings.NewReader("\n" + `{"type":"nope","channel":{"url":"c1"}}`))
	require.ErrorContains(t, err, "line 2")
}

func TestEndpoint(t *testing.T) {
	got, err := Endpoint("ws://localhost:8080/feed?x=1", "alice")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/feed?user_id=alice&x=1", got)

	_, err = Endpoint("http://localhost/feed", "alice")
	require.Error(t, err)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServerStreamsEventsToClient(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	events := sampleEvents()
	srv := httptest.NewServer(NewServer(func(context.Context, string) (<-chan chat.Event, error) {
		ch := make(chan chat.Event, len(events))
		for _, ev := range events {
			ch <- ev
		}
		return ch, nil
	}))
	defer srv.Close()

	feed, err := Dial(context.Background(), wsURL(srv), "alice", time.Second)
	require.NoError(t, err)
	defer feed.Close()

	for _, want := range events {
		select {
		case got := <-feed.Events():
			require.Equal(t, chat.EventName(want), chat.EventName(got))
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s", chat.EventName(want))
		}
	}
}

func TestServerRequiresUser(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := httptest.NewServer(NewServer(func(context.Context, string) (<-chan chat.Event, error) {
		return nil, nil
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerEndsFeedWhenSourceCloses(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := httptest.NewServer(NewServer(func(context.Context, string) (<-chan chat.Event, error) {
		ch := make(chan chat.Event)
		close(ch)
		return ch, nil
	}))
	defer srv.Close()

	feed, err := Dial(context.Background(), wsURL(srv), "alice", time.Second)
	require.NoError(t, err)
	defer feed.Close()

	select {
	case _, ok := <-feed.Events():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed never ended")
	}
	require.NoError(t, feed.Err())
}

func TestScriptSourceFiltersByRecipient(t *testing.T) {
	script := []Envelope{
		{Type: "channel_changed", Channel: &chat.Channel{URL: "everyone"}},
		{Type: "channel_changed", To: "bob", Channel: &chat.Channel{URL: "bob-only"}},
		{Type: "channel_changed", To: "alice", Channel: &chat.Channel{URL: "alice-only"}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := ScriptSource(script, 0)(ctx, "alice")
	require.NoError(t, err)

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-stream:
			got = append(got, ev.EventChannel().URL)
		case <-time.After(time.Second):
			t.Fatal("script stalled")
		}
	}
	require.Equal(t, []string{"everyone", "alice-only"}, got)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-stream
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStreamReconnectsAndStopsOnCancel(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := httptest.NewServer(NewServer(ScriptSource([]Envelope{
		{Type: "channel_changed", Channel: &chat.Channel{URL: "c1"}},
	}, 0)))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream := Stream(ctx, wsURL(srv), "alice", time.Second, 10*time.Millisecond)

	select {
	case ev := <-stream:
		require.Equal(t, "c1", ev.EventChannel().URL)
	case <-time.After(2 * time.Second):
		t.Fatal("no event streamed")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-stream:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJoinMergesStreams(t *testing.T) {
	a := make(chan chat.Event, 1)
	b := make(chan chat.Event, 1)
	a <- chat.ChannelChanged{Channel: &chat.Channel{URL: "a"}}
	b <- chat.ChannelChanged{Channel: &chat.Channel{URL: "b"}}
	close(a)
	close(b)

	seen := map[string]bool{}
	for ev := range Join(context.Background(), a, nil, b) {
		seen[ev.EventChannel().URL] = true
	}
	require.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}
