package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/events"
)

var testNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fakeCursor struct {
	url    string
	offset int
	more   bool
}

func (c *fakeCursor) HasMore() bool { return c.more }

// fakeClient serves history from memory, newest pages first.
type fakeClient struct {
	mu       sync.Mutex
	self     chat.Member
	channels map[string]*chat.Channel
	history  map[string][]chat.Message
	pageSize int
	unread   map[string]int
	receipts map[int64]int

	fetchErr error
	marked   []string
	sent     int64
	gate     chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		self:     chat.Member{UserID: "me", Nickname: "Me"},
		channels: make(map[string]*chat.Channel),
		history:  make(map[string][]chat.Message),
		unread:   make(map[string]int),
		receipts: make(map[int64]int),
		pageSize: 3,
		sent:     1000,
	}
}

func (f *fakeClient) addChannel(url string, members ...string) *chat.Channel {
	ch := &chat.Channel{URL: url, Members: []chat.Member{f.self}}
	for _, m := range members {
		ch.Members = append(ch.Members, chat.Member{UserID: m, Nickname: m})
	}
	f.channels[url] = ch
	return ch
}

func (f *fakeClient) NewCursor(ch *chat.Channel) backend.Cursor {
	return &fakeCursor{url: ch.URL, more: true}
}

func (f *fakeClient) ReadReceipt(_ *chat.Channel, msg chat.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[msg.ID]
}

func (f *fakeClient) Connect(context.Context, backend.Credentials) (<-chan chat.Event, error) {
	return make(chan chat.Event), nil
}

func (f *fakeClient) Disconnect(context.Context) error { return nil }

func (f *fakeClient) CurrentUser() *chat.Member {
	self := f.self
	return &self
}

func (f *fakeClient) ChannelInfo(_ context.Context, url string) (*chat.Channel, error) {
	ch, ok := f.channels[url]
	if !ok {
		return nil, backend.ErrChannelNotFound
	}
	return ch, nil
}

func (f *fakeClient) Channels(context.Context) ([]*chat.Channel, error) {
	out := make([]*chat.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *fakeClient) Users(context.Context) ([]chat.Member, error) {
	return []chat.Member{f.self, {UserID: "bob"}, {UserID: "carol"}}, nil
}

func (f *fakeClient) CreateChannel(_ context.Context, userIDs []string) (*chat.Channel, error) {
	return f.addChannel("new-"+userIDs[0], userIDs...), nil
}

func (f *fakeClient) Leave(context.Context, *chat.Channel) error { return nil }

func (f *fakeClient) FetchMessagePage(_ context.Context, _ *chat.Channel, cursor backend.Cursor) ([]chat.Message, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	c := cursor.(*fakeCursor)
	all := f.history[c.url]
	end := len(all) - c.offset
	start := end - f.pageSize
	if start <= 0 {
		start = 0
		c.more = false
	}
	c.offset += end - start
	page := make([]chat.Message, end-start)
	copy(page, all[start:end])
	return page, nil
}

func (f *fakeClient) SendText(_ context.Context, _ *chat.Channel, text string) (chat.Message, error) {
	f.sent++
	self := f.self
	return chat.Message{ID: f.sent, Kind: chat.KindUser, Sender: &self, Body: text, CreatedAt: testNow}, nil
}

func (f *fakeClient) SendFile(_ context.Context, _ *chat.Channel, file backend.FileUpload) (chat.Message, error) {
	f.sent++
	self := f.self
	return chat.Message{ID: f.sent, Kind: chat.KindFile, Sender: &self, File: &chat.FileInfo{Name: file.Name}, CreatedAt: testNow}, nil
}

func (f *fakeClient) MarkAsRead(_ context.Context, ch *chat.Channel) error {
	f.marked = append(f.marked, ch.URL)
	f.unread[ch.URL] = 0
	return nil
}

func (f *fakeClient) UnreadCount(_ context.Context, ch *chat.Channel) (int, error) {
	if ch != nil {
		return f.unread[ch.URL], nil
	}
	total := 0
	for _, n := range f.unread {
		total += n
	}
	return total, nil
}

func (f *fakeClient) StartTyping(context.Context, *chat.Channel) error { return nil }
func (f *fakeClient) EndTyping(context.Context, *chat.Channel) error   { return nil }

// signalLog captures published signals.
type signalLog struct {
	mu      sync.Mutex
	signals []*events.Signal
}

func (l *signalLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, 0, len(l.signals))
	for _, s := range l.signals {
		out = append(out, s.Kind)
	}
	return out
}

func (l *signalLog) last(kind events.Kind) *events.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.signals) - 1; i >= 0; i-- {
		if l.signals[i].Kind == kind {
			return l.signals[i]
		}
	}
	return nil
}

func (l *signalLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = nil
}

func newTestSession(t *testing.T, client *fakeClient, opts ...Option) (*Session, *signalLog) {
	t.Helper()
	pub := events.NewInMemoryPublisher()
	log := &signalLog{}
	require.NoError(t, pub.Subscribe("test", events.Filter{}, func(s *events.Signal) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.signals = append(log.signals, s)
	}))

	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithLocation(time.UTC)}, opts...)
	s := NewSession(client, pub, opts...)
	_, err := s.Connect(context.Background(), backend.Credentials{UserID: "me"})
	require.NoError(t, err)
	return s, log
}

func msgFrom(id int64, sender string, at time.Time) chat.Message {
	return chat.Message{ID: id, Kind: chat.KindUser, Sender: &chat.Member{UserID: sender, Nickname: sender}, Body: "body", CreatedAt: at}
}

func ids(messages []chat.Message) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
