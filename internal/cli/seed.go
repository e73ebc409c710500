package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/poloBBQ/chatsync/internal/backend/sqlstore"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/logging"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the local backend with demo conversations",
		Long:  "Create demo users and channels in the SQLite backend, with history spread over the last few days so timelines show day separators and older pages.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			user, _ := cmd.Flags().GetString("user")
			if user == "" {
				user = rt.cfg.Session.UserID
			}
			if user == "" {
				return &PreflightError{
					Message:  "no user to seed conversations for",
					Hint:     "Pass --user or set session.user_id",
					NextStep: "chatsync seed --user alice",
				}
			}
			history, _ := cmd.Flags().GetInt("history")

			store, err := sqlstore.Open(rt.cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("failed to open backend: %w", err)
			}
			defer store.Close()

			return seed(cmd.Context(), store, user, history, time.Now(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("user", "", "local user the demo channels are created for (default: session.user_id)")
	cmd.Flags().Int("history", 60, "number of messages in the long-history channel")
	return cmd
}

type seedLine struct {
	from string
	body string
	ago  time.Duration
}

type seedChannel struct {
	url     string
	name    string
	members []string
	lines   []seedLine
}

// seed creates a direct chat with bob, a group chat and a long history
// channel for user.
func seed(ctx context.Context, store *sqlstore.Store, user string, history int, now time.Time, out io.Writer) error {
	logger := logging.WithUser(logging.Component("seed"), user)

	for _, m := range []chat.Member{
		{UserID: user},
		{UserID: "bob", Nickname: "Bob"},
		{UserID: "carol", Nickname: "Carol"},
		{UserID: "dave", Nickname: "Dave"},
	} {
		if err := store.UpsertUser(ctx, m); err != nil {
			return err
		}
	}

	day := 24 * time.Hour
	channels := []seedChannel{
		{
			url:     "demo_" + user + "_bob",
			members: []string{user, "bob"},
			lines: []seedLine{
				{from: "bob", body: "are we still on for friday?", ago: 2*day + 3*time.Hour},
				{from: user, body: "yes, 7pm", ago: 2*day + 2*time.Hour},
				{from: "bob", body: "great", ago: day + 5*time.Hour},
				{from: "bob", body: "I'll book a table", ago: day + 5*time.Hour - time.Minute},
				{from: "bob", body: "see you there", ago: 20 * time.Minute},
			},
		},
		{
			url:     "demo_team_" + user,
			name:    "Team",
			members: []string{user, "bob", "carol", "dave"},
			lines: []seedLine{
				{from: "", body: "Carol created the channel", ago: 3 * day},
				{from: "carol", body: "welcome everyone", ago: 3*day - time.Minute},
				{from: "dave", body: "hi!", ago: day},
				{from: "carol", body: "standup moved to 10:30", ago: 2 * time.Hour},
				{from: "carol", body: "<b>please</b> update your tickets", ago: 2*time.Hour - time.Minute},
			},
		},
	}

	long := make([]seedLine, 0, history)
	senders := []string{"carol", "dave", user}
	for i := 0; i < history; i++ {
		long = append(long, seedLine{
			from: senders[(i/3)%len(senders)],
			body: fmt.Sprintf("message %d", i+1),
			ago:  time.Duration(history-i) * 4 * time.Hour,
		})
	}
	channels = append(channels, seedChannel{url: "demo_history_" + user, name: "History", members: []string{user, "carol", "dave"}, lines: long})

	for _, ch := range channels {
		if err := store.CreateChannelWith(ctx, ch.url, ch.name, ch.members); err != nil {
			return fmt.Errorf("seed %s (already seeded? use a fresh --db): %w", ch.url, err)
		}
		for _, line := range ch.lines {
			msg := chat.Message{Kind: chat.KindUser, Body: line.body, CreatedAt: now.Add(-line.ago)}
			if line.from == "" {
				msg.Kind = chat.KindAdmin
			} else {
				msg.Sender = &chat.Member{UserID: line.from}
			}
			if _, err := store.Post(ctx, ch.url, msg); err != nil {
				return fmt.Errorf("seed %s: %w", ch.url, err)
			}
		}
		logger.Debug().Str("channel_url", ch.url).Int("messages", len(ch.lines)).Msg("channel seeded")
		fmt.Fprintf(out, "%s\t%d messages\n", ch.url, len(ch.lines))
	}

	// A file message from bob closes the direct chat.
	file := chat.Message{
		Kind:      chat.KindFile,
		Sender:    &chat.Member{UserID: "bob"},
		File:      &chat.FileInfo{Name: "menu.pdf", Type: "application/pdf", Size: 48213},
		CreatedAt: now.Add(-10 * time.Minute),
	}
	if _, err := store.Post(ctx, channels[0].url, file); err != nil {
		return fmt.Errorf("seed %s: %w", channels[0].url, err)
	}
	return nil
}
