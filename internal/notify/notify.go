// Package notify raises desktop notifications for messages that arrive on
// channels without an open chat board.
package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/logging"
)

const (
	subscriptionID = "notify.desktop"
	maxBodyLen     = 100
)

// Sender delivers one notification.
type Sender interface {
	Notify(title, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(title, body string) error

func (f SenderFunc) Notify(title, body string) error { return f(title, body) }

// Desktop sends notifications through the operating system.
var Desktop Sender = SenderFunc(func(title, body string) error {
	return beeep.Notify(title, body, "")
})

// Option configures a Notifier.
type Option func(*Notifier)

// WithSender replaces the desktop sender.
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.sender = s }
}

// WithQuietPeriod suppresses repeat notifications for the same channel
// within d.
func WithQuietPeriod(d time.Duration) Option {
	return func(n *Notifier) { n.quiet = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// Notifier turns notify signals into desktop notifications.
type Notifier struct {
	sender Sender
	quiet  time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	wg   sync.WaitGroup
}

// New creates a notifier using the desktop sender.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		sender: Desktop,
		quiet:  5 * time.Second,
		now:    time.Now,
		logger: logging.Component("notify"),
		last:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Attach subscribes the notifier to notify signals on pub.
func (n *Notifier) Attach(pub events.Publisher) error {
	return pub.Subscribe(subscriptionID, events.Filter{Kinds: []events.Kind{events.KindNotify}}, n.Handle)
}

// Detach removes the subscription and waits for pending deliveries.
func (n *Notifier) Detach(pub events.Publisher) error {
	err := pub.Unsubscribe(subscriptionID)
	n.wg.Wait()
	return err
}

// Handle delivers sig asynchronously. Signals of other kinds are ignored.
func (n *Notifier) Handle(sig *events.Signal) {
	if sig == nil || sig.Kind != events.KindNotify || sig.Message == nil {
		return
	}
	if !n.admit(sig.ChannelURL) {
		return
	}

	title, body := Compose(sig)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.sender.Notify(title, body); err != nil {
			logger := logging.WithChannel(n.logger, sig.ChannelURL)
			logger.Debug().Err(err).Msg("desktop notification failed")
		}
	}()
}

func (n *Notifier) admit(url string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.last[url]; ok && n.quiet > 0 && now.Sub(last) < n.quiet {
		return false
	}
	n.last[url] = now
	return true
}

// Compose builds the notification title and body for sig.
func Compose(sig *events.Signal) (title, body string) {
	msg := sig.Message
	title = sig.Title
	if title == "" {
		title = "New message"
	}

	text := strings.Join(strings.Fields(msg.Text()), " ")
	if msg.IsFile() {
		text = "sent a file: " + text
	}
	if msg.HasSender() {
		name := msg.Sender.Nickname
		if name == "" {
			name = msg.Sender.UserID
		}
		text = name + ": " + text
	}
	return title, truncate(text, maxBodyLen)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
