package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/chat"
)

// The operations below act on behalf of any user. The seed command uses
// them to script conversations; the Client methods delegate
// to them with the connected user as actor. Events go to every member but
// the actor.

// UpsertUser creates a user or updates its profile. An empty nickname keeps
// the stored one.
func (s *Store) UpsertUser(ctx context.Context, m chat.Member) error {
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("user id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, nickname, profile_url, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = CASE WHEN excluded.nickname = '' THEN users.nickname ELSE excluded.nickname END,
			profile_url = CASE WHEN excluded.profile_url = '' THEN users.profile_url ELSE excluded.profile_url END
	`, m.UserID, m.Nickname, m.ProfileURL, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// CreateChannelWith creates channel url with the given members. Unknown
// users are created with their id as nickname.
func (s *Store) CreateChannelWith(ctx context.Context, url, name string, userIDs []string) error {
	if url == "" {
		url = "channel_" + uuid.New().String()
	}
	now := formatTime(s.now())

	err := s.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO channels (url, name, cover_url, created_at) VALUES (?, ?, '', ?)`, url, name, now); err != nil {
			return fmt.Errorf("failed to create channel: %w", err)
		}
		seen := make(map[string]bool, len(userIDs))
		for _, id := range userIDs {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users (id, nickname, profile_url, created_at) VALUES (?, ?, '', ?)`, id, id, now); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO members (channel_url, user_id, joined_at) VALUES (?, ?, ?)`, url, id, now); err != nil {
				return fmt.Errorf("failed to add member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	actor, _ := s.currentID()
	s.broadcast(ctx, url, actor, func(ch *chat.Channel) chat.Event {
		return chat.ChannelChanged{Channel: ch}
	})
	return nil
}

// JoinAs adds userID to channel url.
func (s *Store) JoinAs(ctx context.Context, url, userID string) error {
	if err := s.UpsertUser(ctx, chat.Member{UserID: userID}); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO members (channel_url, user_id, joined_at) VALUES (?, ?, ?)`,
		url, userID, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to join channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return err
	}
	s.broadcast(ctx, url, userID, func(ch *chat.Channel) chat.Event {
		return chat.MemberJoined{Channel: ch, User: *user}
	})
	return nil
}

// LeaveAs removes userID from channel url.
func (s *Store) LeaveAs(ctx context.Context, url, userID string) error {
	if err := s.requireMember(ctx, url, userID); err != nil {
		return err
	}
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE channel_url = ? AND user_id = ?`, url, userID); err != nil {
		return fmt.Errorf("failed to leave channel: %w", err)
	}
	s.hub.setTyping(url, *user, false)
	s.broadcast(ctx, url, userID, func(ch *chat.Channel) chat.Event {
		return chat.MemberLeft{Channel: ch, User: *user}
	})
	return nil
}

// Post stores msg in channel url on behalf of its sender. Admin messages
// carry no sender.
func (s *Store) Post(ctx context.Context, url string, msg chat.Message) (chat.Message, error) {
	return s.post(ctx, url, msg, nil)
}

func (s *Store) post(ctx context.Context, url string, msg chat.Message, data []byte) (chat.Message, error) {
	senderID := msg.SenderID()
	if senderID != "" {
		if err := s.requireMember(ctx, url, senderID); err != nil {
			return chat.Message{}, err
		}
	} else {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE url = ?`, url).Scan(&n); err != nil {
			return chat.Message{}, fmt.Errorf("failed to load channel: %w", err)
		}
		if n == 0 {
			return chat.Message{}, backend.ErrChannelNotFound
		}
	}
	if msg.Kind == chat.KindUser && strings.TrimSpace(msg.Body) == "" {
		return chat.Message{}, backend.ErrEmptyMessage
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var (
		sender                      any
		fileName, fileURL, fileType any
		fileSize                    any
	)
	if senderID != "" {
		sender = senderID
	}
	if msg.File != nil {
		fileName, fileType, fileSize = msg.File.Name, msg.File.Type, msg.File.Size
		fileURL = msg.File.URL
		if msg.File.URL == "" {
			fileURL = "file/" + uuid.New().String() + "/" + msg.File.Name
		}
	}

	var id int64
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (channel_url, kind, sender_id, body, custom_type,
				file_name, file_url, file_type, file_size, file_data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, url, msg.Kind.String(), sender, msg.Body, msg.CustomType,
			fileName, fileURL, fileType, fileSize, data, formatTime(createdAt))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if senderID != "" {
			// Senders have read everything up to their own message.
			if _, err := tx.ExecContext(ctx, `UPDATE members SET last_read_id = ? WHERE channel_url = ? AND user_id = ?`, id, url, senderID); err != nil {
				return fmt.Errorf("failed to update read marker: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return chat.Message{}, err
	}

	stored, err := s.message(ctx, url, id)
	if err != nil {
		return chat.Message{}, err
	}
	s.broadcast(ctx, url, senderID, func(ch *chat.Channel) chat.Event {
		return chat.MessageReceived{Channel: ch, Message: stored}
	})
	return stored, nil
}

// Edit replaces the body of message id.
func (s *Store) Edit(ctx context.Context, url string, id int64, body string) (chat.Message, error) {
	if strings.TrimSpace(body) == "" {
		return chat.Message{}, backend.ErrEmptyMessage
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET body = ?, updated_at = ? WHERE channel_url = ? AND id = ?`,
		body, formatTime(s.now()), url, id)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to edit message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.Message{}, backend.ErrMessageNotFound
	}

	msg, err := s.message(ctx, url, id)
	if err != nil {
		return chat.Message{}, err
	}
	s.broadcast(ctx, url, msg.SenderID(), func(ch *chat.Channel) chat.Event {
		return chat.MessageUpdated{Channel: ch, Message: msg}
	})
	return msg, nil
}

// Delete removes message id.
func (s *Store) Delete(ctx context.Context, url string, id int64) error {
	msg, err := s.message(ctx, url, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_url = ? AND id = ?`, url, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.broadcast(ctx, url, msg.SenderID(), func(ch *chat.Channel) chat.Event {
		return chat.MessageDeleted{Channel: ch, MessageID: id}
	})
	return nil
}

// MarkReadAs moves the read marker of userID to the newest message of url.
func (s *Store) MarkReadAs(ctx context.Context, url, userID string) error {
	if err := s.requireMember(ctx, url, userID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE members
		SET last_read_id = COALESCE((SELECT MAX(id) FROM messages WHERE channel_url = ?), 0)
		WHERE channel_url = ? AND user_id = ? AND last_read_id < COALESCE((SELECT MAX(id) FROM messages WHERE channel_url = ?), 0)
	`, url, url, userID, url)
	if err != nil {
		return fmt.Errorf("failed to mark channel read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	s.broadcast(ctx, url, userID, func(ch *chat.Channel) chat.Event {
		return chat.ReadReceiptUpdated{Channel: ch}
	})
	return nil
}

// TypingAs starts or ends the typing indicator of userID in url.
func (s *Store) TypingAs(ctx context.Context, url, userID string, typing bool) error {
	if err := s.requireMember(ctx, url, userID); err != nil {
		return err
	}
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return err
	}
	members := s.hub.setTyping(url, *user, typing)
	s.broadcast(ctx, url, userID, func(ch *chat.Channel) chat.Event {
		return chat.TypingChanged{Channel: ch, Typing: members}
	})
	return nil
}

func (s *Store) message(ctx context.Context, url string, id int64) (chat.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, selectMessages+` WHERE m.channel_url = ? AND m.id = ?`, url, id))
}

// broadcast delivers the event built by build to every member of url but
// actor, each seeing the channel from their own side.
func (s *Store) broadcast(ctx context.Context, url, actor string, build func(ch *chat.Channel) chat.Event) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM members WHERE channel_url = ?`, url)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel_url", url).Msg("failed to list event recipients")
		return
	}
	var recipients []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil && id != actor {
			recipients = append(recipients, id)
		}
	}
	rows.Close()

	for _, id := range recipients {
		ch, err := s.loadChannel(ctx, url, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel_url", url).Str("user_id", id).Msg("failed to load channel for event")
			continue
		}
		s.hub.deliver(id, build(ch))
	}
}
