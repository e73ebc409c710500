package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		signal *Signal
		want   bool
	}{
		{
			name:   "empty filter matches any signal",
			filter: Filter{},
			signal: &Signal{Kind: KindPreviewChanged, ChannelURL: "ch-1"},
			want:   true,
		},
		{
			name:   "nil signal returns false",
			filter: Filter{},
			signal: nil,
			want:   false,
		},
		{
			name:   "kind filter matches",
			filter: Filter{Kinds: []Kind{KindPreviewChanged, KindUnreadChanged}},
			signal: &Signal{Kind: KindUnreadChanged, ChannelURL: "ch-1"},
			want:   true,
		},
		{
			name:   "kind filter rejects non-matching",
			filter: Filter{Kinds: []Kind{KindPreviewChanged}},
			signal: &Signal{Kind: KindTyping, ChannelURL: "ch-1"},
			want:   false,
		},
		{
			name:   "channel filter rejects other channels",
			filter: Filter{ChannelURL: "ch-1"},
			signal: &Signal{Kind: KindTyping, ChannelURL: "ch-2"},
			want:   false,
		},
		{
			name:   "channel filter rejects session signals",
			filter: Filter{ChannelURL: "ch-1"},
			signal: &Signal{Kind: KindTotalUnreadChanged},
			want:   false,
		},
		{
			name:   "combined filters - all must match",
			filter: Filter{Kinds: []Kind{KindTyping}, ChannelURL: "ch-1"},
			signal: &Signal{Kind: KindTyping, ChannelURL: "ch-1"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Matches(tt.signal)
			if got != tt.want {
				t.Errorf("Filter.Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryPublisher_Subscribe(t *testing.T) {
	pub := NewInMemoryPublisher()
	handler := func(signal *Signal) {}

	if err := pub.Subscribe("sub-1", Filter{}, handler); err != nil {
		t.Errorf("Subscribe() error = %v, want nil", err)
	}
	if pub.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", pub.SubscriberCount())
	}

	if err := pub.Subscribe("sub-1", Filter{}, handler); err != ErrSubscriptionExists {
		t.Errorf("Subscribe() duplicate error = %v, want %v", err, ErrSubscriptionExists)
	}
	if err := pub.Subscribe("", Filter{}, handler); err != ErrInvalidSubscriptionID {
		t.Errorf("Subscribe() empty ID error = %v, want %v", err, ErrInvalidSubscriptionID)
	}
	if err := pub.Subscribe("sub-2", Filter{}, nil); err != ErrNilHandler {
		t.Errorf("Subscribe() nil handler error = %v, want %v", err, ErrNilHandler)
	}
}

func TestInMemoryPublisher_Unsubscribe(t *testing.T) {
	pub := NewInMemoryPublisher()
	_ = pub.Subscribe("sub-1", Filter{}, func(signal *Signal) {})

	if err := pub.Unsubscribe("sub-1"); err != nil {
		t.Errorf("Unsubscribe() error = %v, want nil", err)
	}
	if pub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", pub.SubscriberCount())
	}
	if err := pub.Unsubscribe("sub-1"); err != ErrSubscriptionNotFound {
		t.Errorf("Unsubscribe() non-existent error = %v, want %v", err, ErrSubscriptionNotFound)
	}
}

func TestInMemoryPublisher_PublishStampsAndDeliversInOrder(t *testing.T) {
	stamp := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	pub := NewInMemoryPublisher(WithClock(func() time.Time { return stamp }))

	var order []string
	for _, id := range []string{"c", "a", "b"} {
		id := id
		_ = pub.Subscribe(id, Filter{}, func(signal *Signal) {
			order = append(order, id)
		})
	}

	signal := &Signal{Kind: KindMovedToFront, ChannelURL: "ch-1"}
	pub.Publish(context.Background(), signal)

	if len(order) != 3 || order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Errorf("delivery order = %v, want [c a b]", order)
	}
	if signal.ID == "" {
		t.Error("signal ID was not assigned")
	}
	if !signal.Timestamp.Equal(stamp) {
		t.Errorf("signal timestamp = %v, want %v", signal.Timestamp, stamp)
	}
}

func TestInMemoryPublisher_PublishWithFilter(t *testing.T) {
	pub := NewInMemoryPublisher()
	ctx := context.Background()

	var listSignals, boardSignals int
	_ = pub.Subscribe("list", Filter{Kinds: []Kind{KindPreviewChanged}}, func(signal *Signal) {
		listSignals++
	})
	_ = pub.Subscribe("board", Filter{Kinds: []Kind{KindTimelineMerged}, ChannelURL: "ch-1"}, func(signal *Signal) {
		boardSignals++
	})

	pub.Publish(ctx, &Signal{Kind: KindPreviewChanged, ChannelURL: "ch-1"})
	pub.Publish(ctx, &Signal{Kind: KindTimelineMerged, ChannelURL: "ch-1"})
	pub.Publish(ctx, &Signal{Kind: KindTimelineMerged, ChannelURL: "ch-2"})

	if listSignals != 1 {
		t.Errorf("listSignals = %d, want 1", listSignals)
	}
	if boardSignals != 1 {
		t.Errorf("boardSignals = %d, want 1", boardSignals)
	}
}

type recordingRecorder struct {
	kinds []Kind
}

func (r *recordingRecorder) Record(_ context.Context, signal *Signal) error {
	r.kinds = append(r.kinds, signal.Kind)
	return nil
}

func TestInMemoryPublisher_RecorderSeesEverySignal(t *testing.T) {
	rec := &recordingRecorder{}
	pub := NewInMemoryPublisher(WithRecorder(rec))

	pub.Publish(context.Background(), &Signal{Kind: KindReset})
	pub.Publish(context.Background(), nil)
	pub.Publish(context.Background(), &Signal{Kind: KindNotify})

	if len(rec.kinds) != 2 || rec.kinds[0] != KindReset || rec.kinds[1] != KindNotify {
		t.Errorf("recorded kinds = %v, want [%s %s]", rec.kinds, KindReset, KindNotify)
	}
}

func TestJSONRecorder_WritesOneLinePerSignal(t *testing.T) {
	var buf bytes.Buffer
	pub := NewInMemoryPublisher(WithRecorder(NewJSONRecorder(&buf)))

	pub.Publish(context.Background(), &Signal{Kind: KindTitleChanged, ChannelURL: "c1", Title: "<Bob>"})
	pub.Publish(context.Background(), &Signal{Kind: KindReset})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	var first Signal
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1: %v", err)
	}
	if first.Kind != KindTitleChanged || first.Title != "<Bob>" || first.ID == "" {
		t.Errorf("line 1 = %+v", first)
	}
	if !strings.Contains(lines[0], "<Bob>") {
		t.Errorf("title was HTML-escaped: %s", lines[0])
	}
}

func TestInMemoryPublisher_Close(t *testing.T) {
	pub := NewInMemoryPublisher()
	_ = pub.Subscribe("sub-1", Filter{}, func(signal *Signal) {})
	_ = pub.Subscribe("sub-2", Filter{}, func(signal *Signal) {})

	pub.Close()

	if pub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() after Close = %d, want 0", pub.SubscriberCount())
	}
}
