package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/logging"
)

const feedBuffer = 64

// Feed is one connection to a feed server.
type Feed struct {
	conn   *websocket.Conn
	events chan chat.Event
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Endpoint builds the feed URL for userID.
func Endpoint(rawURL, userID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid feed url %q: scheme must be ws or wss", rawURL)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the feed at rawURL as userID.
func Dial(ctx context.Context, rawURL, userID string, timeout time.Duration) (*Feed, error) {
	endpoint, err := Endpoint(rawURL, userID)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial feed: %w", err)
	}

	f := &Feed{
		conn:   conn,
		events: make(chan chat.Event, feedBuffer),
		done:   make(chan struct{}),
		logger: logging.WithUser(logging.Component("wsfeed"), userID),
	}
	go f.read()
	return f, nil
}

// Events returns the decoded event stream. It closes when the connection
// ends.
func (f *Feed) Events() <-chan chat.Event { return f.events }

// Err returns why the stream ended, or nil after a normal close.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close performs the closing handshake and releases the connection.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = f.conn.Close()
	})
	return err
}

func (f *Feed) read() {
	defer close(f.events)
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				f.mu.Lock()
				f.err = err
				f.mu.Unlock()
			}
			return
		}
		ev, err := Decode(data)
		if err != nil {
			f.logger.Warn().Err(err).Msg("dropping undecodable event")
			continue
		}
		select {
		case f.events <- ev:
		case <-f.done:
			return
		}
	}
}

// Stream keeps a feed connection open until ctx is cancelled, redialing
// every interval after a failure. The returned channel closes when ctx is
// done.
func Stream(ctx context.Context, rawURL, userID string, timeout, interval time.Duration) <-chan chat.Event {
	out := make(chan chat.Event, feedBuffer)
	logger := logging.WithUser(logging.Component("wsfeed"), userID)

	go func() {
		defer close(out)
		for {
			feed, err := Dial(ctx, rawURL, userID, timeout)
			if err != nil {
				logger.Warn().Err(err).Str("url", logging.RedactURL(rawURL)).Msg("feed unavailable")
			} else {
				logger.Debug().Str("url", logging.RedactURL(rawURL)).Msg("feed connected")
				if !forward(ctx, feed, out) {
					_ = feed.Close()
					return
				}
				if err := feed.Err(); err != nil {
					logger.Warn().Err(err).Msg("feed connection lost")
				}
				_ = feed.Close()
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
	return out
}

// forward copies feed events to out. It reports false once ctx is done.
func forward(ctx context.Context, feed *Feed, out chan<- chat.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-feed.Events():
			if !ok {
				return true
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return false
			}
		}
	}
}

// Join merges several event streams into one. The result closes once every
// input has closed or ctx is done. Nil inputs are ignored.
func Join(ctx context.Context, streams ...<-chan chat.Event) <-chan chat.Event {
	out := make(chan chat.Event, feedBuffer)
	var wg sync.WaitGroup
	for _, in := range streams {
		if in == nil {
			continue
		}
		wg.Add(1)
		go func(in <-chan chat.Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
