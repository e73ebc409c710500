package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/logging"
	"github.com/poloBBQ/chatsync/internal/timeline"
)

// Loop errors.
var (
	ErrLoopAlreadyRunning = errors.New("engine loop already running")
	ErrLoopNotRunning     = errors.New("engine loop not running")
)

// Task is a unit of work run on the loop goroutine.
type Task func(ctx context.Context, s *Session)

// PageHandler receives the outcome of an asynchronous page load on the loop
// goroutine. ok is false when the channel was closed before the page landed.
type PageHandler func(res timeline.Result, ok bool, err error)

// Loop serializes every session mutation on one goroutine: real-time events
// and posted tasks run to completion one at a time.
type Loop struct {
	session *Session
	tasks   chan Task
	logger  zerolog.Logger

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fetches sync.WaitGroup
}

// NewLoop creates a loop owning session.
func NewLoop(session *Session) *Loop {
	return &Loop{
		session: session,
		tasks:   make(chan Task, 64),
		logger:  logging.Component("engine-loop"),
	}
}

// Start begins draining stream and posted tasks. A nil stream runs tasks
// only.
func (l *Loop) Start(ctx context.Context, stream <-chan chat.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrLoopAlreadyRunning
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	l.logger.Debug().Msg("engine loop starting")

	l.wg.Add(1)
	go l.run(stream)
	return nil
}

// Stop halts the loop and waits for in-flight fetches to return.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrLoopNotRunning
	}
	l.cancel()
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	l.fetches.Wait()
	l.logger.Debug().Msg("engine loop stopped")
	return nil
}

// IsRunning returns true if the loop is running.
func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

func (l *Loop) run(stream <-chan chat.Event) {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				l.logger.Info().Msg("event stream closed")
				stream = nil
				continue
			}
			if err := l.session.HandleEvent(l.ctx, ev); err != nil {
				l.logger.Warn().Err(err).Str("event", chat.EventName(ev)).Msg("event handling failed")
			}
		case task := <-l.tasks:
			task(l.ctx, l.session)
		}
	}
}

// Post queues task without waiting for it.
func (l *Loop) Post(task Task) error {
	l.mu.RLock()
	running, ctx := l.running, l.ctx
	l.mu.RUnlock()
	if !running {
		return ErrLoopNotRunning
	}

	select {
	case l.tasks <- task:
		return nil
	case <-ctx.Done():
		return ErrLoopNotRunning
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	done := make(chan error, 1)
	if err := l.Post(func(loopCtx context.Context, s *Session) {
		done <- fn(loopCtx, s)
	}); err != nil {
		return err
	}

	l.mu.RLock()
	loopCtx := l.ctx
	l.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-loopCtx.Done():
		return ErrLoopNotRunning
	}
}

// LoadOlderAsync fetches the next older page of ref off the loop and merges
// it back on the loop. handler runs on the loop goroutine. Duplicate
// requests for the same channel are not suppressed here.
func (l *Loop) LoadOlderAsync(ref chat.Ref, handler PageHandler) error {
	return l.Post(func(ctx context.Context, s *Session) {
		set, ok := s.Lookup(ref)
		if !ok {
			handler(timeline.Result{}, false, nil)
			return
		}
		if !HasMore(set) {
			handler(timeline.Result{Direction: timeline.Older, Items: []timeline.Item{}}, true, nil)
			return
		}

		ch, cursor := set.Channel, set.Cursor
		l.fetches.Add(1)
		go func() {
			defer l.fetches.Done()

			page, err := s.FetchPage(ctx, ch, cursor)
			postErr := l.Post(func(ctx context.Context, s *Session) {
				if err != nil {
					handler(timeline.Result{}, false, err)
					return
				}
				res, ok := s.ApplyPage(ctx, ref, timeline.Older, page)
				handler(res, ok, nil)
			})
			if postErr != nil {
				l.logger.Debug().Str("channel_url", ch.URL).Msg("page dropped, loop stopped")
			}
		}()
	})
}
