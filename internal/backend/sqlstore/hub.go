package sqlstore

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/logging"
)

const streamBuffer = 256

type subscriber struct {
	userID string
	ch     chan chat.Event
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans real-time events out to connected users. Every Store attached to
// the same hub sees the others' activity.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	typing map[string]map[string]chat.Member
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string][]*subscriber),
		typing: make(map[string]map[string]chat.Member),
		logger: logging.Component("sqlstore-hub"),
	}
}

func (h *Hub) subscribe(userID string) *subscriber {
	sub := &subscriber{userID: userID, ch: make(chan chat.Event, streamBuffer)}
	h.mu.Lock()
	h.subs[userID] = append(h.subs[userID], sub)
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[sub.userID]
	for i, s := range subs {
		if s == sub {
			h.subs[sub.userID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[sub.userID]) == 0 {
		delete(h.subs, sub.userID)
	}
	sub.close()
}

// Connected reports whether userID has an open stream.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

// deliver sends ev to every stream of userID. A full stream drops the
// event.
func (h *Hub) deliver(userID string, ev chat.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	// Sends happen under the read lock so unsubscribe cannot close a
	// stream mid-send.
	for _, sub := range h.subs[userID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn().
				Str("user_id", userID).
				Str("event", chat.EventName(ev)).
				Msg("event stream full, event dropped")
		}
	}
}

// setTyping records whether m is typing in url and returns the members now
// typing there, ordered by user id.
func (h *Hub) setTyping(url string, m chat.Member, on bool) []chat.Member {
	h.mu.Lock()
	defer h.mu.Unlock()

	typing := h.typing[url]
	if on {
		if typing == nil {
			typing = make(map[string]chat.Member)
			h.typing[url] = typing
		}
		typing[m.UserID] = m
	} else {
		delete(typing, m.UserID)
		if len(typing) == 0 {
			delete(h.typing, url)
		}
	}

	out := make([]chat.Member, 0, len(typing))
	for _, member := range typing {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
