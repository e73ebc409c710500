package timeline

import (
	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/channelset"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/projection"
)

// Measure returns the rendered height of an item.
type Measure func(Item) int

// UnitHeight counts every item as one row.
func UnitHeight(Item) int { return 1 }

// Merger applies batches to channel sets.
type Merger struct {
	Format projection.Formatter
	// Receipts supplies unread receipt counts; nil leaves them at zero.
	Receipts backend.ReceiptCounter
	// Self returns the local user id.
	Self    func() string
	Measure Measure
}

// Merge adds batch to the authoritative message list of set and returns
// the display items for it. Older pages are prepended, everything else is
// appended.
func (m *Merger) Merge(set *channelset.ChannelSet, batch Batch) Result {
	res := Result{Direction: batch.Direction, Items: []Item{}}
	if batch.Direction == Initial {
		res.ScrollToBottom = true
	}
	if batch.Direction == Live {
		res.ScrollToBottom = batch.AtBottom
	}
	if set == nil || len(batch.Messages) == 0 {
		return res
	}

	incoming := make([]chat.Message, len(batch.Messages))
	for i := range batch.Messages {
		incoming[i] = batch.Messages[i].Clone()
	}
	// Undated messages have an empty day key, so "no key yet" is tracked
	// apart from the key itself.
	prevKey, started := "", false
	if batch.Direction == Live && (len(set.Messages) > 0 || set.Display.TailSeparator) {
		prevKey, started = set.Display.TailDay, true
	}
	if batch.Direction == Older {
		set.Messages = append(incoming, set.Messages...)
	} else {
		set.Messages = append(set.Messages, incoming...)
	}

	firstKey := ""
	for i, msg := range incoming {
		key := m.Format.DayKey(msg.CreatedAt)
		if i == 0 {
			firstKey = key
		}
		if !started || key != prevKey {
			res.Items = append(res.Items, Separator(key))
			prevKey, started = key, true
		}
		res.Items = append(res.Items, Item{Kind: ItemMessage, Message: msg, DayKey: key})
	}
	lastKey := prevKey
	trailing := false
	if batch.Direction == Initial && lastKey != projection.Today {
		res.Items = append(res.Items, Separator(projection.Today))
		trailing = true
	}

	var prev *chat.Message
	if batch.Direction == Live && batch.Boundary != nil && !set.Display.TailSeparator {
		prev = batch.Boundary
	}
	m.annotate(set.Channel, res.Items, prev)

	switch batch.Direction {
	case Initial:
		set.Display.TopDay = firstKey
		set.Display.TailDay = lastKey
		set.Display.TailSeparator = trailing
		if trailing {
			set.Display.TailDay = projection.Today
		}
	case Live:
		if set.Display.TopDay == "" {
			set.Display.TopDay = firstKey
		}
		set.Display.TailDay = lastKey
		set.Display.TailSeparator = false
	case Older:
		if batch.Boundary != nil && set.Display.TopDay == lastKey {
			res.StaleHeader = true
			boundary := m.item(set.Channel, *batch.Boundary, lastKey)
			last := res.Items[len(res.Items)-1].Message
			boundary.Continuous = continues(&last, &boundary.Message)
			res.Boundary = &boundary
		}
		if set.Display.TailDay == "" {
			set.Display.TailDay = lastKey
		}
		set.Display.TopDay = firstKey
		res.AddedHeight = m.height(res.Items)
	}
	return res
}

// Remove drops the message at idx from set and moves the display anchors
// the way the view drops it: a day separator left without messages goes
// too, except the trailing today marker. It reports whether the message was
// the newest one.
func (m *Merger) Remove(set *channelset.ChannelSet, idx int) bool {
	if set == nil || idx < 0 || idx >= len(set.Messages) {
		return false
	}
	set.Messages = append(set.Messages[:idx], set.Messages[idx+1:]...)
	wasLast := idx == len(set.Messages)

	if len(set.Messages) == 0 {
		set.Display.TopDay = ""
	} else if idx == 0 {
		set.Display.TopDay = m.Format.DayKey(set.Messages[0].CreatedAt)
	}
	if !wasLast || set.Display.TailSeparator {
		return wasLast
	}

	removedKey := set.Display.TailDay
	last, ok := set.Last()
	if ok && m.Format.DayKey(last.CreatedAt) == removedKey {
		return true
	}
	switch {
	case removedKey == projection.Today:
		set.Display.TailSeparator = true
	case ok:
		set.Display.TailDay = m.Format.DayKey(last.CreatedAt)
	default:
		set.Display.TailDay = ""
	}
	return true
}

// ReceiptCounts recomputes unread receipt counts for every cached real message.
func (m *Merger) ReceiptCounts(set *channelset.ChannelSet) map[int64]int {
	out := make(map[int64]int, len(set.Messages))
	if m.Receipts == nil {
		return out
	}
	for _, msg := range set.Messages {
		if msg.IsUser() || msg.IsFile() {
			out[msg.ID] = m.Receipts.ReadReceipt(set.Channel, msg)
		}
	}
	return out
}

// annotate fills continuity, ownership and receipts. prev is the message
// displayed immediately before items, if any.
func (m *Merger) annotate(ch *chat.Channel, items []Item, prev *chat.Message) {
	for i := range items {
		if items[i].IsSeparator() {
			prev = nil
			continue
		}
		annotated := m.item(ch, items[i].Message, items[i].DayKey)
		annotated.Continuous = continues(prev, &items[i].Message)
		items[i] = annotated
		prev = &items[i].Message
	}
}

func (m *Merger) item(ch *chat.Channel, msg chat.Message, dayKey string) Item {
	item := Item{Kind: ItemMessage, Message: msg, DayKey: dayKey}
	if msg.IsAdmin() || msg.IsSystem() {
		return item
	}
	if m.Self != nil && msg.SenderID() != "" && msg.SenderID() == m.Self() {
		item.Mine = true
	}
	if m.Receipts != nil {
		item.Unread = m.Receipts.ReadReceipt(ch, msg)
	}
	return item
}

func (m *Merger) height(items []Item) int {
	measure := m.Measure
	if measure == nil {
		measure = UnitHeight
	}
	total := 0
	for _, item := range items {
		total += measure(item)
	}
	return total
}

// continues reports whether msg joins the visual block of prev: both carry
// a sender and it is the same user.
func continues(prev, msg *chat.Message) bool {
	if prev == nil || msg == nil {
		return false
	}
	if msg.IsAdmin() || msg.IsSystem() {
		return false
	}
	if !prev.HasSender() || !msg.HasSender() {
		return false
	}
	return prev.Sender.UserID == msg.Sender.UserID
}
