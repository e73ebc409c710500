// Package wsfeed carries chat events over a WebSocket connection. The same
// JSON envelope is used for recorded event scripts.
package wsfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/poloBBQ/chatsync/internal/chat"
)

// ErrUnknownEvent is returned when an envelope names no known event.
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope is the wire form of a chat event. To names the recipient when
// an envelope is part of a script; it is empty on a live feed.
type Envelope struct {
	Type      string        `json:"type"`
	To        string        `json:"to,omitempty"`
	Channel   *chat.Channel `json:"channel"`
	Message   *chat.Message `json:"message,omitempty"`
	MessageID int64         `json:"message_id,omitempty"`
	Typing    []chat.Member `json:"typing,omitempty"`
	User      *chat.Member  `json:"user,omitempty"`
}

// Wrap converts ev into its envelope.
func Wrap(ev chat.Event) (Envelope, error) {
	env := Envelope{Type: chat.EventName(ev)}
	if ev != nil {
		env.Channel = ev.EventChannel()
	}
	switch e := ev.(type) {
	case chat.MessageReceived:
		env.Message = &e.Message
	case chat.MessageUpdated:
		env.Message = &e.Message
	case chat.MessageDeleted:
		env.MessageID = e.MessageID
	case chat.TypingChanged:
		env.Typing = e.Typing
	case chat.ReadReceiptUpdated, chat.ChannelChanged:
	case chat.MemberJoined:
		env.User = &e.User
	case chat.MemberLeft:
		env.User = &e.User
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return env, nil
}

// Event converts the envelope back into a chat event.
func (e Envelope) Event() (chat.Event, error) {
	if e.Channel == nil || e.Channel.URL == "" {
		return nil, fmt.Errorf("%s event without channel", e.Type)
	}
	switch e.Type {
	case "message_received", "message_updated":
		if e.Message == nil {
			return nil, fmt.Errorf("%s event without message", e.Type)
		}
		if e.Type == "message_received" {
			return chat.MessageReceived{Channel: e.Channel, Message: *e.Message}, nil
		}
		return chat.MessageUpdated{Channel: e.Channel, Message: *e.Message}, nil
	case "message_deleted":
		return chat.MessageDeleted{Channel: e.Channel, MessageID: e.MessageID}, nil
	case "typing_changed":
		return chat.TypingChanged{Channel: e.Channel, Typing: e.Typing}, nil
	case "read_receipt_updated":
		return chat.ReadReceiptUpdated{Channel: e.Channel}, nil
	case "member_joined", "member_left":
		if e.User == nil {
			return nil, fmt.Errorf("%s event without user", e.Type)
		}
		if e.Type == "member_joined" {
			return chat.MemberJoined{Channel: e.Channel, User: *e.User}, nil
		}
		return chat.MemberLeft{Channel: e.Channel, User: *e.User}, nil
	case "channel_changed":
		return chat.ChannelChanged{Channel: e.Channel}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

// Encode writes ev as one JSON object. HTML characters are left unescaped;
// message bodies are escaped at render time.
func Encode(w io.Writer, ev chat.Event) error {
	env, err := Wrap(ev)
	if err != nil {
		return err
	}
	return encodeEnvelope(w, env)
}

func encodeEnvelope(w io.Writer, env Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}

// Decode parses one JSON envelope into a chat event.
func Decode(data []byte) (chat.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return env.Event()
}

// Script reads newline-delimited envelopes. Blank lines and lines starting
// with '#' are skipped.
func Script(r io.Reader) ([]Envelope, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var out []Envelope
	for n, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		if _, err := env.Event(); err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		out = append(out, env)
	}
	return out, nil
}
