package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is invoked when a signal matches a subscription.
type Handler func(signal *Signal)

// Filter defines criteria for matching signals.
type Filter struct {
	// Kinds filters by signal kind (nil = all kinds).
	Kinds []Kind

	// ChannelURL filters to one channel (empty = all).
	ChannelURL string
}

// Matches returns true if the signal matches the filter criteria.
func (f *Filter) Matches(signal *Signal) bool {
	if signal == nil {
		return false
	}

	if len(f.Kinds) > 0 {
		matched := false
		for _, k := range f.Kinds {
			if signal.Kind == k {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.ChannelURL != "" && signal.ChannelURL != f.ChannelURL {
		return false
	}

	return true
}

// Recorder persists or mirrors published signals.
type Recorder interface {
	Record(ctx context.Context, signal *Signal) error
}

// Publisher defines the interface for signal publishing and subscription.
type Publisher interface {
	// Publish sends a signal to all matching subscribers.
	Publish(ctx context.Context, signal *Signal)

	// Subscribe registers a handler to receive signals matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error
}

type subscription struct {
	id      string
	order   uint64
	filter  Filter
	handler Handler
}

// InMemoryPublisher implements Publisher using in-process pub/sub. Handlers
// run synchronously in subscription order.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	next          uint64
	recorder      Recorder
	now           func() time.Time
}

// PublisherOption configures an InMemoryPublisher.
type PublisherOption func(*InMemoryPublisher)

// WithRecorder mirrors every published signal to r.
func WithRecorder(r Recorder) PublisherOption {
	return func(p *InMemoryPublisher) {
		p.recorder = r
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *InMemoryPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewInMemoryPublisher creates a new in-memory signal publisher.
func NewInMemoryPublisher(opts ...PublisherOption) *InMemoryPublisher {
	p := &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stamps the signal and delivers it to matching subscribers.
func (p *InMemoryPublisher) Publish(ctx context.Context, signal *Signal) {
	if signal == nil {
		return
	}
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.Timestamp.IsZero() {
		signal.Timestamp = p.now()
	}

	if p.recorder != nil {
		// Best effort - a failing mirror never blocks delivery
		_ = p.recorder.Record(ctx, signal)
	}

	p.mu.RLock()
	matched := make([]*subscription, 0, len(p.subscriptions))
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(signal) {
			matched = append(matched, sub)
		}
	}
	p.mu.RUnlock()

	sortByOrder(matched)

	// Invoke handlers outside the lock to avoid deadlocks
	for _, sub := range matched {
		sub.handler(signal)
	}
}

// Subscribe registers a handler to receive signals matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}

	p.next++
	p.subscriptions[id] = &subscription{
		id:      id,
		order:   p.next,
		filter:  filter,
		handler: handler,
	}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}

	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
}

func sortByOrder(subs []*subscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].order < subs[j].order })
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
