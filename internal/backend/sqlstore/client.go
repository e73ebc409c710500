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

var _ backend.Client = (*Store)(nil)

// cursor pages backward from the newest message of a channel.
type cursor struct {
	channelURL string
	before     int64
	more       bool
}

func (c *cursor) HasMore() bool { return c.more }

// NewCursor returns a cursor positioned at the newest message of ch.
func (s *Store) NewCursor(ch *chat.Channel) backend.Cursor {
	return &cursor{channelURL: ch.URL, more: true}
}

// Connect registers the user (creating it when unknown) and opens its event
// stream. Connecting again replaces the previous stream.
func (s *Store) Connect(ctx context.Context, creds backend.Credentials) (<-chan chat.Event, error) {
	id := strings.TrimSpace(creds.UserID)
	if id == "" {
		return nil, errors.New("user id required")
	}
	member := chat.Member{UserID: id, Nickname: strings.TrimSpace(creds.Nickname)}
	if err := s.UpsertUser(ctx, member); err != nil {
		return nil, err
	}
	user, err := s.lookupUser(ctx, id)
	if err != nil {
		return nil, err
	}

	_ = s.Disconnect(ctx)

	sub := s.hub.subscribe(id)
	s.mu.Lock()
	s.user = user
	s.stream = sub
	s.mu.Unlock()

	s.logger.Info().Str("user_id", id).Msg("user connected")
	return sub.ch, nil
}

// Disconnect closes the event stream.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	sub := s.stream
	s.stream = nil
	s.user = nil
	s.mu.Unlock()

	if sub != nil {
		s.hub.unsubscribe(sub)
	}
	return nil
}

// CurrentUser returns the connected user, or nil.
func (s *Store) CurrentUser() *chat.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	user := *s.user
	return &user
}

func (s *Store) currentID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return "", backend.ErrNotConnected
	}
	return s.user.UserID, nil
}

// ChannelInfo loads a channel the user belongs to.
func (s *Store) ChannelInfo(ctx context.Context, url string) (*chat.Channel, error) {
	me, err := s.currentID()
	if err != nil {
		return nil, err
	}
	return s.loadChannel(ctx, url, me)
}

// Channels lists the user's channels, most recently active first.
func (s *Store) Channels(ctx context.Context) ([]*chat.Channel, error) {
	me, err := s.currentID()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.url
		FROM channels c
		JOIN members m ON m.channel_url = c.url AND m.user_id = ?
		ORDER BY COALESCE((SELECT MAX(id) FROM messages WHERE channel_url = c.url), 0) DESC, c.created_at DESC
	`, me)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		urls = append(urls, url)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*chat.Channel, 0, len(urls))
	for _, url := range urls {
		ch, err := s.loadChannel(ctx, url, me)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// Users lists every known user.
func (s *Store) Users(ctx context.Context) ([]chat.Member, error) {
	if _, err := s.currentID(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, nickname, profile_url FROM users ORDER BY nickname, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []chat.Member
	for rows.Next() {
		var m chat.Member
		if err := rows.Scan(&m.UserID, &m.Nickname, &m.ProfileURL); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateChannel creates a channel with the user and userIDs as members.
func (s *Store) CreateChannel(ctx context.Context, userIDs []string) (*chat.Channel, error) {
	me, err := s.currentID()
	if err != nil {
		return nil, err
	}
	url := "channel_" + uuid.New().String()
	members := append([]string{me}, userIDs...)
	if err := s.CreateChannelWith(ctx, url, "", members); err != nil {
		return nil, err
	}
	return s.loadChannel(ctx, url, me)
}

// Leave removes the user from ch.
func (s *Store) Leave(ctx context.Context, ch *chat.Channel) error {
	me, err := s.currentID()
	if err != nil {
		return err
	}
	return s.LeaveAs(ctx, ch.URL, me)
}

// FetchMessagePage returns the next older page, oldest first.
func (s *Store) FetchMessagePage(ctx context.Context, ch *chat.Channel, c backend.Cursor) ([]chat.Message, error) {
	me, err := s.currentID()
	if err != nil {
		return nil, err
	}
	cur, ok := c.(*cursor)
	if !ok || cur.channelURL != ch.URL {
		return nil, fmt.Errorf("cursor does not belong to channel %s", ch.URL)
	}
	if err := s.requireMember(ctx, ch.URL, me); err != nil {
		return nil, err
	}
	if !cur.more {
		return []chat.Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, selectMessages+`
		WHERE m.channel_url = ? AND (? = 0 OR m.id < ?)
		ORDER BY m.id DESC
		LIMIT ?
	`, ch.URL, cur.before, cur.before, s.pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var page []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page) > s.pageSize {
		page = page[:s.pageSize]
	} else {
		cur.more = false
	}
	if len(page) > 0 {
		cur.before = page[len(page)-1].ID
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	if page == nil {
		page = []chat.Message{}
	}
	return page, nil
}

// SendText stores a text message from the user.
func (s *Store) SendText(ctx context.Context, ch *chat.Channel, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, backend.ErrEmptyMessage
	}
	me, err := s.currentID()
	if err != nil {
		return chat.Message{}, err
	}
	return s.Post(ctx, ch.URL, chat.Message{Kind: chat.KindUser, Sender: &chat.Member{UserID: me}, Body: text})
}

// SendFile stores a file message from the user.
func (s *Store) SendFile(ctx context.Context, ch *chat.Channel, file backend.FileUpload) (chat.Message, error) {
	if strings.TrimSpace(file.Name) == "" {
		return chat.Message{}, backend.ErrEmptyMessage
	}
	me, err := s.currentID()
	if err != nil {
		return chat.Message{}, err
	}
	msg := chat.Message{
		Kind:   chat.KindFile,
		Sender: &chat.Member{UserID: me},
		File: &chat.FileInfo{
			Name: file.Name,
			Type: file.Type,
			Size: int64(len(file.Data)),
		},
	}
	return s.post(ctx, ch.URL, msg, file.Data)
}

// MarkAsRead marks every message of ch read by the user.
func (s *Store) MarkAsRead(ctx context.Context, ch *chat.Channel) error {
	me, err := s.currentID()
	if err != nil {
		return err
	}
	return s.MarkReadAs(ctx, ch.URL, me)
}

// UnreadCount counts messages from others the user has not read, in ch or
// across all channels when ch is nil.
func (s *Store) UnreadCount(ctx context.Context, ch *chat.Channel) (int, error) {
	me, err := s.currentID()
	if err != nil {
		return 0, err
	}
	query := `
		SELECT COUNT(*)
		FROM messages msg
		JOIN members m ON m.channel_url = msg.channel_url AND m.user_id = ?
		WHERE msg.id > m.last_read_id AND COALESCE(msg.sender_id, '') != ?`
	args := []any{me, me}
	if ch != nil {
		query += ` AND msg.channel_url = ?`
		args = append(args, ch.URL)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// ReadReceipt counts the members, other than the sender, who have not read
// msg yet.
func (s *Store) ReadReceipt(ch *chat.Channel, msg chat.Message) int {
	var n int
	err := s.db.QueryRowContext(context.Background(), `
		SELECT COUNT(*) FROM members
		WHERE channel_url = ? AND user_id != ? AND last_read_id < ?
	`, ch.URL, msg.SenderID(), msg.ID).Scan(&n)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel_url", ch.URL).Msg("read receipt query failed")
		return 0
	}
	return n
}

// StartTyping marks the user typing in ch.
func (s *Store) StartTyping(ctx context.Context, ch *chat.Channel) error {
	me, err := s.currentID()
	if err != nil {
		return err
	}
	return s.TypingAs(ctx, ch.URL, me, true)
}

// EndTyping clears the typing mark of the user in ch.
func (s *Store) EndTyping(ctx context.Context, ch *chat.Channel) error {
	me, err := s.currentID()
	if err != nil {
		return err
	}
	return s.TypingAs(ctx, ch.URL, me, false)
}

const selectMessages = `
	SELECT m.id, m.kind, m.sender_id, COALESCE(u.nickname, ''), COALESCE(u.profile_url, ''),
		m.body, m.custom_type, m.file_name, m.file_url, m.file_type, m.file_size,
		m.created_at, m.updated_at
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (chat.Message, error) {
	var (
		msg                         chat.Message
		kind, createdAt             string
		senderID, updatedAt         sql.NullString
		nickname, profileURL        string
		fileName, fileURL, fileType sql.NullString
		fileSize                    sql.NullInt64
	)
	if err := row.Scan(&msg.ID, &kind, &senderID, &nickname, &profileURL,
		&msg.Body, &msg.CustomType, &fileName, &fileURL, &fileType, &fileSize,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Message{}, backend.ErrMessageNotFound
		}
		return chat.Message{}, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Kind = chat.ParseKind(kind)
	if senderID.Valid && senderID.String != "" {
		msg.Sender = &chat.Member{UserID: senderID.String, Nickname: nickname, ProfileURL: profileURL}
	}
	if fileName.Valid {
		msg.File = &chat.FileInfo{Name: fileName.String, URL: fileURL.String, Type: fileType.String, Size: fileSize.Int64}
	}
	msg.CreatedAt = parseTime(createdAt)
	if updatedAt.Valid {
		msg.UpdatedAt = parseTime(updatedAt.String)
	}
	return msg, nil
}

func (s *Store) lookupUser(ctx context.Context, id string) (*chat.Member, error) {
	var m chat.Member
	err := s.db.QueryRowContext(ctx, `SELECT id, nickname, profile_url FROM users WHERE id = ?`, id).
		Scan(&m.UserID, &m.Nickname, &m.ProfileURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, backend.ErrNotMember)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &m, nil
}

func (s *Store) requireMember(ctx context.Context, url, userID string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE url = ?`, url).Scan(&n); err != nil {
		return fmt.Errorf("failed to load channel: %w", err)
	}
	if n == 0 {
		return backend.ErrChannelNotFound
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE channel_url = ? AND user_id = ?`, url, userID).Scan(&n); err != nil {
		return fmt.Errorf("failed to load membership: %w", err)
	}
	if n == 0 {
		return backend.ErrNotMember
	}
	return nil
}

// loadChannel builds the channel as seen by viewer.
func (s *Store) loadChannel(ctx context.Context, url, viewer string) (*chat.Channel, error) {
	if err := s.requireMember(ctx, url, viewer); err != nil {
		return nil, err
	}

	ch := &chat.Channel{URL: url}
	if err := s.db.QueryRowContext(ctx, `SELECT name, cover_url FROM channels WHERE url = ?`, url).
		Scan(&ch.Name, &ch.CoverURL); err != nil {
		return nil, fmt.Errorf("failed to load channel: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.nickname, u.profile_url
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.channel_url = ?
		ORDER BY m.joined_at, u.id
	`, url)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	for rows.Next() {
		var m chat.Member
		if err := rows.Scan(&m.UserID, &m.Nickname, &m.ProfileURL); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ch.Members = append(ch.Members, m)
	}
	rows.Close()

	last, err := scanMessage(s.db.QueryRowContext(ctx, selectMessages+`
		WHERE m.channel_url = ? ORDER BY m.id DESC LIMIT 1`, url))
	switch {
	case err == nil:
		ch.LastMessage = &last
	case !errors.Is(err, backend.ErrMessageNotFound):
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages msg
		JOIN members m ON m.channel_url = msg.channel_url AND m.user_id = ?
		WHERE msg.channel_url = ? AND msg.id > m.last_read_id AND COALESCE(msg.sender_id, '') != ?
	`, viewer, url, viewer).Scan(&ch.UnreadMessageCount); err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return ch, nil
}
