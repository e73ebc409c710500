package chat

// Event is a real-time notification pushed by the backend. The set of
// variants is closed; consumers dispatch with a type switch.
type Event interface {
	// EventChannel returns the channel the event refers to.
	EventChannel() *Channel
	isEvent()
}

// MessageReceived reports a new message in a channel.
type MessageReceived struct {
	Channel *Channel
	Message Message
}

// MessageUpdated reports an edit to an existing message.
type MessageUpdated struct {
	Channel *Channel
	Message Message
}

// MessageDeleted reports the removal of a message.
type MessageDeleted struct {
	Channel   *Channel
	MessageID int64
}

// TypingChanged reports a change in the set of members typing.
type TypingChanged struct {
	Channel *Channel
	Typing  []Member
}

// ReadReceiptUpdated reports that members have read up to some point.
type ReadReceiptUpdated struct {
	Channel *Channel
}

// MemberJoined reports that a user joined the channel.
type MemberJoined struct {
	Channel *Channel
	User    Member
}

// MemberLeft reports that a user left the channel.
type MemberLeft struct {
	Channel *Channel
	User    Member
}

// ChannelChanged reports a metadata change (name, cover, counts).
type ChannelChanged struct {
	Channel *Channel
}

func (e MessageReceived) EventChannel() *Channel    { return e.Channel }
func (e MessageUpdated) EventChannel() *Channel     { return e.Channel }
func (e MessageDeleted) EventChannel() *Channel     { return e.Channel }
func (e TypingChanged) EventChannel() *Channel      { return e.Channel }
func (e ReadReceiptUpdated) EventChannel() *Channel { return e.Channel }
func (e MemberJoined) EventChannel() *Channel       { return e.Channel }
func (e MemberLeft) EventChannel() *Channel         { return e.Channel }
func (e ChannelChanged) EventChannel() *Channel     { return e.Channel }

func (MessageReceived) isEvent()    {}
func (MessageUpdated) isEvent()     {}
func (MessageDeleted) isEvent()     {}
func (TypingChanged) isEvent()      {}
func (ReadReceiptUpdated) isEvent() {}
func (MemberJoined) isEvent()       {}
func (MemberLeft) isEvent()         {}
func (ChannelChanged) isEvent()     {}

// EventName returns a stable name for an event variant, used in logs and
// on the wire.
func EventName(ev Event) string {
	switch ev.(type) {
	case MessageReceived:
		return "message_received"
	case MessageUpdated:
		return "message_updated"
	case MessageDeleted:
		return "message_deleted"
	case TypingChanged:
		return "typing_changed"
	case ReadReceiptUpdated:
		return "read_receipt_updated"
	case MemberJoined:
		return "member_joined"
	case MemberLeft:
		return "member_left"
	case ChannelChanged:
		return "channel_changed"
	default:
		return "unknown"
	}
}
