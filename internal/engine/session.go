// Package engine is the synchronization core of a chat client session. It
// owns the channel-set registry, applies fetched pages and real-time events
// to the cached timelines, and signals the resulting view changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/channelset"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/logging"
	"github.com/poloBBQ/chatsync/internal/projection"
	"github.com/poloBBQ/chatsync/internal/timeline"
)

// ErrInconsistentState is reported when an event references a message that
// is missing from the cached timeline of an open channel.
var ErrInconsistentState = errors.New("inconsistent channel state")

// Option configures a Session.
type Option func(*Session)

// WithLocation sets the zone used for day separators and time labels.
func WithLocation(loc *time.Location) Option {
	return func(s *Session) {
		s.format.Location = loc
	}
}

// WithClock overrides the wall clock used for day keys.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.format.Now = now
	}
}

// WithMeasure sets the item height function used for older pages.
func WithMeasure(measure timeline.Measure) Option {
	return func(s *Session) {
		s.measure = measure
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithDiagnostics registers a callback receiving dropped-event errors. They
// wrap ErrInconsistentState.
func WithDiagnostics(fn func(error)) Option {
	return func(s *Session) {
		s.diagnose = fn
	}
}

// Session is the context object of one connected user. It is not safe for
// concurrent use: a Loop (or a single goroutine) must own it.
type Session struct {
	client    backend.Client
	publisher events.Publisher
	registry  *channelset.Registry
	board     *projection.Board
	merger    *timeline.Merger
	format    projection.Formatter
	measure   timeline.Measure
	logger    zerolog.Logger
	diagnose  func(error)

	self       *chat.Member
	scrolledUp map[string]bool
}

// NewSession creates a session bound to client. Signals go to publisher.
func NewSession(client backend.Client, publisher events.Publisher, opts ...Option) *Session {
	s := &Session{
		client:     client,
		publisher:  publisher,
		registry:   channelset.NewRegistry(client),
		board:      projection.NewBoard(),
		format:     projection.NewFormatter(nil),
		logger:     logging.Component("engine"),
		scrolledUp: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.merger = &timeline.Merger{
		Format:   s.format,
		Receipts: client,
		Self:     s.SelfID,
		Measure:  s.measure,
	}
	return s
}

// Connect authenticates the user and returns the real-time event stream.
func (s *Session) Connect(ctx context.Context, creds backend.Credentials) (<-chan chat.Event, error) {
	stream, err := s.client.Connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	s.self = s.client.CurrentUser()
	s.logger = logging.WithUser(s.logger, s.SelfID())
	s.logger.Info().Msg("session connected")
	return stream, nil
}

// SelfID returns the connected user id, or "" before Connect.
func (s *Session) SelfID() string {
	if s.self == nil {
		return ""
	}
	return s.self.UserID
}

// Formatter returns the time formatter of the session.
func (s *Session) Formatter() projection.Formatter { return s.format }

// Lookup returns the open set of ref without creating one.
func (s *Session) Lookup(ref chat.Ref) (*channelset.ChannelSet, bool) {
	return s.registry.Lookup(ref)
}

// OpenSets returns the open channel sets in registry order.
func (s *Session) OpenSets() []*channelset.ChannelSet {
	return s.registry.All()
}

// OpenChannel materializes the set of ref. Opening an open channel returns
// the existing set untouched. A URL-only ref of a channel that is not open
// is resolved through the backend first.
func (s *Session) OpenChannel(ctx context.Context, ref chat.Ref, placement channelset.Placement) (*channelset.ChannelSet, error) {
	if set, ok := s.registry.Lookup(ref); ok {
		return set, nil
	}
	if _, ok := ref.Channel(); !ok {
		ch, err := s.client.ChannelInfo(ctx, ref.URL())
		if err != nil {
			return nil, err
		}
		ref = chat.RefChannel(ch)
	}

	set, ok := s.registry.GetOrCreate(ref, placement)
	if !ok {
		return nil, fmt.Errorf("open %s: %w", ref, backend.ErrChannelNotFound)
	}
	s.ensureListed(ctx, set.Channel)

	logger := logging.WithChannel(s.logger, set.URL())
	logger.Debug().
		Int("open_channels", s.registry.Len()).
		Msg("channel opened")
	s.publish(ctx, &events.Signal{
		Kind:       events.KindBoardOpened,
		ChannelURL: set.URL(),
		Title:      projection.Title(set.Channel, s.SelfID()),
		Members:    set.Channel.MemberCount(),
	})
	return set, nil
}

// CloseChannel drops the set of ref. Closing a channel that is not open is a
// no-op and returns false.
func (s *Session) CloseChannel(ctx context.Context, ref chat.Ref) bool {
	set, ok := s.registry.Lookup(ref)
	if !ok {
		return false
	}
	s.registry.Remove(ref)
	delete(s.scrolledUp, set.URL())
	s.publish(ctx, &events.Signal{Kind: events.KindBoardClosed, ChannelURL: set.URL()})
	return true
}

// ReportScroll records whether the view of ref sits at the newest message.
// Live messages only request a scroll when it does.
func (s *Session) ReportScroll(ref chat.Ref, atBottom bool) {
	set, ok := s.registry.Lookup(ref)
	if !ok {
		return
	}
	if atBottom {
		delete(s.scrolledUp, set.URL())
		return
	}
	s.scrolledUp[set.URL()] = true
}

// LoadInitial fetches the first page of an open channel and marks it read.
// A set that already caches messages is replayed without a fetch.
func (s *Session) LoadInitial(ctx context.Context, ref chat.Ref) (timeline.Result, bool, error) {
	set, ok := s.registry.Lookup(ref)
	if !ok {
		return timeline.Result{}, false, nil
	}
	if len(set.Messages) > 0 {
		res, _ := s.Snapshot(ref)
		return res, true, nil
	}

	page, err := s.FetchPage(ctx, set.Channel, set.Cursor)
	if err != nil {
		return timeline.Result{}, false, err
	}
	res, ok := s.ApplyPage(ctx, ref, timeline.Initial, page)
	if !ok {
		return res, false, nil
	}
	if err := s.markRead(ctx, set.Channel); err != nil {
		return res, true, err
	}
	if _, err := s.refreshUnread(ctx, set.Channel); err != nil {
		return res, true, err
	}
	_, err = s.refreshTotal(ctx)
	return res, true, err
}

// LoadOlder fetches the next page of older history and prepends it. It
// returns false when the channel is not open.
func (s *Session) LoadOlder(ctx context.Context, ref chat.Ref) (timeline.Result, bool, error) {
	set, ok := s.registry.Lookup(ref)
	if !ok {
		return timeline.Result{}, false, nil
	}
	if !HasMore(set) {
		return timeline.Result{Direction: timeline.Older, Items: []timeline.Item{}}, true, nil
	}
	page, err := s.FetchPage(ctx, set.Channel, set.Cursor)
	if err != nil {
		return timeline.Result{}, false, err
	}
	res, ok := s.ApplyPage(ctx, ref, timeline.Older, page)
	return res, ok, nil
}

// HasMore reports whether older history may remain for set.
func HasMore(set *channelset.ChannelSet) bool {
	return set != nil && set.Cursor != nil && set.Cursor.HasMore()
}

// FetchPage reads one page through cursor. It touches no session state and
// may run off the owning goroutine.
func (s *Session) FetchPage(ctx context.Context, ch *chat.Channel, cursor backend.Cursor) ([]chat.Message, error) {
	page, err := s.client.FetchMessagePage(ctx, ch, cursor)
	if err != nil {
		logger := logging.WithChannel(s.logger, ch.URL)
		logger.Warn().Err(err).Msg("fetch message page failed")
		return nil, err
	}
	return page, nil
}

// ApplyPage merges a fetched page into the set of ref. The channel may have
// been closed while the page was in flight; then nothing is merged and the
// result is false.
func (s *Session) ApplyPage(ctx context.Context, ref chat.Ref, dir timeline.Direction, page []chat.Message) (timeline.Result, bool) {
	set, ok := s.registry.Lookup(ref)
	if !ok {
		s.logger.Debug().Str("channel_url", ref.URL()).Msg("page for closed channel discarded")
		return timeline.Result{}, false
	}

	batch := timeline.Batch{Direction: dir, Messages: page}
	if dir == timeline.Older {
		if first, ok := set.First(); ok {
			batch.Boundary = &first
		}
	}
	res := s.merger.Merge(set, batch)

	logger := logging.WithChannel(s.logger, set.URL())
	logger.Debug().
		Str("direction", dir.String()).
		Int("fetched", len(page)).
		Int("cached", len(set.Messages)).
		Msg("page merged")
	s.publishTimeline(ctx, set, res)
	return res, true
}

// Snapshot rebuilds the display items of the whole cached timeline of ref,
// as an initial load would present them.
func (s *Session) Snapshot(ref chat.Ref) (timeline.Result, bool) {
	set, ok := s.registry.Lookup(ref)
	if !ok {
		return timeline.Result{}, false
	}
	scratch := &channelset.ChannelSet{Channel: set.Channel}
	return s.merger.Merge(scratch, timeline.Batch{Direction: timeline.Initial, Messages: set.Messages}), true
}

// Preview returns the list preview of ref.
func (s *Session) Preview(ref chat.Ref) (projection.Preview, bool) {
	if entry, ok := s.board.Entry(ref.URL()); ok {
		return entry.Preview, true
	}
	if ch, ok := ref.Channel(); ok {
		return s.format.PreviewOf(ch.LastMessage), true
	}
	return projection.Preview{}, false
}

// Entry returns the list projection of ref.
func (s *Session) Entry(ref chat.Ref) (projection.Entry, bool) {
	return s.board.Entry(ref.URL())
}

// UnreadCount refreshes an unread count from the backend: the total when ref
// is nil, the channel count otherwise. An unknown channel counts zero.
func (s *Session) UnreadCount(ctx context.Context, ref *chat.Ref) (int, error) {
	if ref == nil {
		return s.refreshTotal(ctx)
	}
	ch, err := s.resolve(ctx, *ref)
	if err != nil {
		if errors.Is(err, backend.ErrChannelNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return s.refreshUnread(ctx, ch)
}

// LoadChannelList fetches the channels of the user, lists them in backend
// order and refreshes the total unread count.
func (s *Session) LoadChannelList(ctx context.Context) ([]projection.Entry, error) {
	channels, err := s.client.Channels(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]projection.Entry, 0, len(channels))
	for _, ch := range channels {
		entry, _ := s.board.Upsert(ch, s.SelfID(), s.format)
		entries = append(entries, entry)
		listed := entry
		s.publish(ctx, &events.Signal{Kind: events.KindChannelListed, ChannelURL: ch.URL, Entry: &listed})
	}
	if _, err := s.refreshTotal(ctx); err != nil {
		return entries, err
	}
	s.logger.Info().Int("channels", len(entries)).Msg("channel list loaded")
	return entries, nil
}

// StartChat creates a channel with userIDs, opens it in front and loads its
// first page.
func (s *Session) StartChat(ctx context.Context, userIDs []string) (*channelset.ChannelSet, error) {
	if len(userIDs) == 0 {
		return nil, errors.New("start chat: no users selected")
	}
	ch, err := s.client.CreateChannel(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	ref := chat.RefChannel(ch)
	set, err := s.OpenChannel(ctx, ref, channelset.PlaceFront)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, &events.Signal{Kind: events.KindMovedToFront, ChannelURL: ch.URL})
	if _, _, err := s.LoadInitial(ctx, ref); err != nil {
		return set, err
	}
	return set, nil
}

// Users lists the users a new chat can be started with.
func (s *Session) Users(ctx context.Context) ([]chat.Member, error) {
	users, err := s.client.Users(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Member, 0, len(users))
	for _, u := range users {
		if u.UserID != s.SelfID() {
			out = append(out, u)
		}
	}
	return out, nil
}

// SendText sends a text message and applies the stored message as if it had
// been received.
func (s *Session) SendText(ctx context.Context, ref chat.Ref, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, backend.ErrEmptyMessage
	}
	ch, err := s.resolve(ctx, ref)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := s.client.SendText(ctx, ch, text)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, s.HandleEvent(ctx, chat.MessageReceived{Channel: ch, Message: msg})
}

// SendFile uploads a file message and applies it like SendText.
func (s *Session) SendFile(ctx context.Context, ref chat.Ref, file backend.FileUpload) (chat.Message, error) {
	ch, err := s.resolve(ctx, ref)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := s.client.SendFile(ctx, ch, file)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, s.HandleEvent(ctx, chat.MessageReceived{Channel: ch, Message: msg})
}

// SetTyping starts or ends the typing indicator of the user in ref.
func (s *Session) SetTyping(ctx context.Context, ref chat.Ref, typing bool) error {
	ch, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if typing {
		return s.client.StartTyping(ctx, ch)
	}
	return s.client.EndTyping(ctx, ch)
}

// Leave removes the user from ref and applies the departure locally.
func (s *Session) Leave(ctx context.Context, ref chat.Ref) error {
	ch, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.client.Leave(ctx, ch); err != nil {
		return err
	}
	var self chat.Member
	if s.self != nil {
		self = *s.self
	}
	return s.HandleEvent(ctx, chat.MemberLeft{Channel: ch, User: self})
}

// Reset disconnects the backend and forgets every channel.
func (s *Session) Reset(ctx context.Context) error {
	err := s.client.Disconnect(ctx)
	s.registry.Reset()
	s.board.Reset()
	s.scrolledUp = make(map[string]bool)
	s.self = nil
	s.publish(ctx, &events.Signal{Kind: events.KindReset})
	s.logger.Info().Msg("session reset")
	return err
}

// resolve returns a channel handle for ref: the ref's own handle, the open
// set's handle, or the backend's.
func (s *Session) resolve(ctx context.Context, ref chat.Ref) (*chat.Channel, error) {
	if ch, ok := ref.Channel(); ok {
		return ch, nil
	}
	if set, ok := s.registry.Lookup(ref); ok {
		return set.Channel, nil
	}
	if ref.URL() == "" {
		return nil, backend.ErrChannelNotFound
	}
	return s.client.ChannelInfo(ctx, ref.URL())
}

func (s *Session) publish(ctx context.Context, signal *events.Signal) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, signal)
}

func (s *Session) publishTimeline(ctx context.Context, set *channelset.ChannelSet, res timeline.Result) {
	merged := res
	s.publish(ctx, &events.Signal{Kind: events.KindTimelineMerged, ChannelURL: set.URL(), Timeline: &merged})
}
