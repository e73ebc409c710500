package engine

import (
	"context"
	"fmt"

	"github.com/poloBBQ/chatsync/internal/channelset"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/logging"
	"github.com/poloBBQ/chatsync/internal/projection"
	"github.com/poloBBQ/chatsync/internal/timeline"
)

// HandleEvent applies one real-time event. Events for channels without an
// open set only touch the list projection. Events that contradict the
// cached timeline are logged and dropped; only backend failures are
// returned.
func (s *Session) HandleEvent(ctx context.Context, ev chat.Event) error {
	if ev == nil || ev.EventChannel() == nil {
		return nil
	}
	ch := ev.EventChannel()
	s.logger.Debug().
		Str("event", chat.EventName(ev)).
		Str("channel_url", ch.URL).
		Msg("handling event")

	switch e := ev.(type) {
	case chat.MessageReceived:
		return s.onReceived(ctx, e)
	case chat.MessageUpdated:
		s.onUpdated(ctx, e)
		return nil
	case chat.MessageDeleted:
		s.onDeleted(ctx, e)
		return nil
	case chat.TypingChanged:
		s.onTyping(ctx, e)
		return nil
	case chat.ReadReceiptUpdated:
		s.onReceipts(ctx, e)
		return nil
	case chat.MemberJoined:
		return s.onMembership(ctx, e.Channel, e.User, false)
	case chat.MemberLeft:
		return s.onMembership(ctx, e.Channel, e.User, true)
	case chat.ChannelChanged:
		return s.onChannelChanged(ctx, e)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

// openSet finds the set of ch and refreshes its handle.
func (s *Session) openSet(ch *chat.Channel) (*channelset.ChannelSet, bool) {
	set, ok := s.registry.Lookup(chat.RefChannel(ch))
	if !ok {
		return nil, false
	}
	set.Channel = ch
	return set, true
}

func (s *Session) onReceived(ctx context.Context, e chat.MessageReceived) error {
	ch, msg := e.Channel, e.Message

	s.ensureListed(ctx, ch)
	s.publish(ctx, &events.Signal{Kind: events.KindMovedToFront, ChannelURL: ch.URL})
	s.setPreview(ctx, ch.URL, &msg)

	if set, ok := s.openSet(ch); ok {
		var boundary *chat.Message
		if last, ok := set.Last(); ok {
			boundary = &last
		}
		mine := msg.SenderID() != "" && msg.SenderID() == s.SelfID()
		res := s.merger.Merge(set, timeline.Batch{
			Direction: timeline.Live,
			Messages:  []chat.Message{msg},
			Boundary:  boundary,
			AtBottom:  mine || !s.scrolledUp[set.URL()],
		})
		s.publishTimeline(ctx, set, res)
		if err := s.markRead(ctx, ch); err != nil {
			return err
		}
	} else if msg.SenderID() != s.SelfID() {
		notice := msg
		s.publish(ctx, &events.Signal{
			Kind:       events.KindNotify,
			ChannelURL: ch.URL,
			Title:      projection.Title(ch, s.SelfID()),
			Message:    &notice,
		})
	}

	if _, err := s.refreshUnread(ctx, ch); err != nil {
		return err
	}
	_, err := s.refreshTotal(ctx)
	return err
}

func (s *Session) onUpdated(ctx context.Context, e chat.MessageUpdated) {
	ch, msg := e.Channel, e.Message

	set, ok := s.openSet(ch)
	if !ok {
		if entry, ok := s.board.Entry(ch.URL); ok && !entry.Preview.Empty && entry.Preview.MessageID == msg.ID {
			s.setPreview(ctx, ch.URL, &msg)
		}
		return
	}

	idx := chat.IndexOf(set.Messages, msg.ID)
	if idx < 0 {
		s.inconsistent(set, "message_updated", msg.ID)
		return
	}
	set.Messages[idx] = msg.Clone()

	replaced := set.Messages[idx]
	s.publish(ctx, &events.Signal{
		Kind:       events.KindMessageReplaced,
		ChannelURL: ch.URL,
		Message:    &replaced,
		MessageID:  msg.ID,
	})
	if idx == len(set.Messages)-1 {
		s.setPreview(ctx, ch.URL, &replaced)
	}
}

func (s *Session) onDeleted(ctx context.Context, e chat.MessageDeleted) {
	ch, id := e.Channel, e.MessageID

	set, ok := s.openSet(ch)
	if !ok {
		entry, ok := s.board.Entry(ch.URL)
		if !ok || entry.Preview.Empty || entry.Preview.MessageID != id {
			return
		}
		var last *chat.Message
		if ch.LastMessage != nil && ch.LastMessage.ID != id {
			last = ch.LastMessage
		}
		s.setPreview(ctx, ch.URL, last)
		return
	}

	idx := chat.IndexOf(set.Messages, id)
	if idx < 0 {
		s.inconsistent(set, "message_deleted", id)
		return
	}

	wasLast := s.merger.Remove(set, idx)
	s.publish(ctx, &events.Signal{Kind: events.KindMessageRemoved, ChannelURL: ch.URL, MessageID: id})

	if !wasLast {
		return
	}
	if last, ok := set.Last(); ok {
		s.setPreview(ctx, ch.URL, &last)
		return
	}
	s.setPreview(ctx, ch.URL, nil)
}

func (s *Session) onTyping(ctx context.Context, e chat.TypingChanged) {
	if _, ok := s.openSet(e.Channel); !ok {
		return
	}
	typing := make([]chat.Member, 0, len(e.Typing))
	for _, m := range e.Typing {
		if m.UserID != s.SelfID() {
			typing = append(typing, m)
		}
	}
	s.publish(ctx, &events.Signal{Kind: events.KindTyping, ChannelURL: e.Channel.URL, Typing: typing})
}

func (s *Session) onReceipts(ctx context.Context, e chat.ReadReceiptUpdated) {
	set, ok := s.openSet(e.Channel)
	if !ok {
		return
	}
	s.publish(ctx, &events.Signal{
		Kind:       events.KindReceiptsChanged,
		ChannelURL: set.URL(),
		Receipts:   s.merger.ReceiptCounts(set),
	})
}

func (s *Session) onMembership(ctx context.Context, ch *chat.Channel, user chat.Member, left bool) error {
	if left && user.UserID != "" && user.UserID == s.SelfID() {
		if s.CloseChannel(ctx, chat.RefChannel(ch)) {
			logger := logging.WithChannel(s.logger, ch.URL)
			logger.Info().Msg("left channel, board dropped")
		}
		s.board.Remove(ch.URL)
		s.publish(ctx, &events.Signal{Kind: events.KindChannelRemoved, ChannelURL: ch.URL})
		_, err := s.refreshTotal(ctx)
		return err
	}

	s.ensureListed(ctx, ch)
	title := projection.Title(ch, s.SelfID())
	s.board.SetTitle(ch.URL, title, ch.MemberCount())
	s.publish(ctx, &events.Signal{
		Kind:       events.KindTitleChanged,
		ChannelURL: ch.URL,
		Title:      title,
		Members:    ch.MemberCount(),
	})
	if _, ok := s.openSet(ch); ok {
		s.publish(ctx, &events.Signal{
			Kind:       events.KindHeaderChanged,
			ChannelURL: ch.URL,
			Title:      title,
			Members:    ch.MemberCount(),
		})
	}
	_, err := s.refreshUnread(ctx, ch)
	return err
}

func (s *Session) onChannelChanged(ctx context.Context, e chat.ChannelChanged) error {
	return s.onMembership(ctx, e.Channel, chat.Member{}, false)
}

// ensureListed adds ch to the channel list when it is not there yet.
func (s *Session) ensureListed(ctx context.Context, ch *chat.Channel) {
	if _, ok := s.board.Entry(ch.URL); ok {
		return
	}
	entry, created := s.board.Upsert(ch, s.SelfID(), s.format)
	if !created {
		return
	}
	s.publish(ctx, &events.Signal{Kind: events.KindChannelListed, ChannelURL: ch.URL, Entry: &entry})
}

func (s *Session) setPreview(ctx context.Context, url string, msg *chat.Message) {
	preview := s.format.PreviewOf(msg)
	s.board.SetPreview(url, preview)
	s.publish(ctx, &events.Signal{Kind: events.KindPreviewChanged, ChannelURL: url, Preview: &preview})
}

func (s *Session) markRead(ctx context.Context, ch *chat.Channel) error {
	if err := s.client.MarkAsRead(ctx, ch); err != nil {
		logger := logging.WithChannel(s.logger, ch.URL)
		logger.Warn().Err(err).Msg("mark as read failed")
		return err
	}
	return nil
}

func (s *Session) refreshUnread(ctx context.Context, ch *chat.Channel) (int, error) {
	n, err := s.client.UnreadCount(ctx, ch)
	if err != nil {
		return 0, err
	}
	s.board.SetUnread(ch.URL, n)
	s.publish(ctx, &events.Signal{Kind: events.KindUnreadChanged, ChannelURL: ch.URL, Unread: n})
	return n, nil
}

func (s *Session) refreshTotal(ctx context.Context) (int, error) {
	n, err := s.client.UnreadCount(ctx, nil)
	if err != nil {
		return 0, err
	}
	s.board.SetTotal(n)
	s.publish(ctx, &events.Signal{Kind: events.KindTotalUnreadChanged, Unread: n})
	return n, nil
}

// inconsistent reports and drops an event that references a message the
// open timeline does not hold.
func (s *Session) inconsistent(set *channelset.ChannelSet, event string, id int64) {
	err := fmt.Errorf("%s %d in %s: %w", event, id, set.URL(), ErrInconsistentState)
	logger := logging.WithChannel(s.logger, set.URL())
	logger.Warn().
		Str("event", event).
		Int64("message_id", id).
		Int("cached", len(set.Messages)).
		Msg("event references unknown message, dropped")
	if s.diagnose != nil {
		s.diagnose(err)
	}
}
