package wsfeed

import (
	"context"
	"time"

	"github.com/poloBBQ/chatsync/internal/chat"
)

// ScriptSource plays a recorded script to each connecting client. A client
// receives the envelopes addressed to it or to nobody, one every interval.
// The stream stays open after the last envelope until the client leaves.
func ScriptSource(script []Envelope, interval time.Duration) Source {
	return func(ctx context.Context, userID string) (<-chan chat.Event, error) {
		var evs []chat.Event
		for _, env := range script {
			if env.To != "" && env.To != userID {
				continue
			}
			ev, err := env.Event()
			if err != nil {
				return nil, err
			}
			evs = append(evs, ev)
		}

		out := make(chan chat.Event)
		go func() {
			defer close(out)
			for _, ev := range evs {
				if interval > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(interval):
					}
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			<-ctx.Done()
		}()
		return out, nil
	}
}
