package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/backend/sqlstore"
	"github.com/poloBBQ/chatsync/internal/backend/wsfeed"
	"github.com/poloBBQ/chatsync/internal/chatui"
	"github.com/poloBBQ/chatsync/internal/config"
	"github.com/poloBBQ/chatsync/internal/engine"
	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/logging"
	"github.com/poloBBQ/chatsync/internal/notify"
)

func newTUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tui",
		Aliases: []string{"ui"},
		Short:   "Launch the chat TUI",
		Long:    "Connect as a user and open the terminal chat view: the channel list on the left, open chat boards on the right.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd)
		},
	}
	cmd.Flags().String("user", "", "user id to connect as (default: session.user_id, then the remembered user)")
	cmd.Flags().String("nickname", "", "nickname shown to other members")
	cmd.Flags().String("theme", "", "color theme (default, high-contrast)")
	cmd.Flags().Bool("forget", false, "forget the remembered session before connecting")
	return cmd
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func sessionStore(cfg *config.Config) *config.SessionStore {
	return config.NewSessionStore(filepath.Join(cfg.Global.ConfigDir, "session.yaml"))
}

// resolveCredentials picks the user from flags, then the config, then the
// remembered session.
func resolveCredentials(cmd *cobra.Command, cfg *config.Config, remembered *config.Remembered) (backend.Credentials, error) {
	user, _ := cmd.Flags().GetString("user")
	nickname, _ := cmd.Flags().GetString("nickname")

	creds := backend.Credentials{
		UserID:      strings.TrimSpace(user),
		Nickname:    strings.TrimSpace(nickname),
		AccessToken: cfg.Session.AccessToken,
	}
	if creds.UserID == "" {
		creds.UserID = cfg.Session.UserID
	}
	if creds.UserID == "" {
		creds.UserID = remembered.UserID
	}
	if creds.Nickname == "" {
		switch {
		case cfg.Session.Nickname != "" && creds.UserID == cfg.Session.UserID:
			creds.Nickname = cfg.Session.Nickname
		case creds.UserID == remembered.UserID:
			creds.Nickname = remembered.Nickname
		}
	}
	if creds.UserID == "" {
		return creds, &PreflightError{
			Message:  "no user to connect as",
			Hint:     "Set session.user_id in the config file or pass --user",
			NextStep: "chatsync tui --user alice",
		}
	}
	return creds, nil
}

// tuiLogging routes logs to the configured file while the UI owns the
// terminal, or silences them.
func tuiLogging(cfg *config.Config) (func(), error) {
	if cfg.Logging.File == "" {
		logging.Disable()
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       f,
		NoColor:      true,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	return func() { _ = f.Close() }, nil
}

func runTUI(cmd *cobra.Command) error {
	if !hasTTY() {
		return &PreflightError{
			Message:  "TUI requires an interactive terminal",
			Hint:     "Run from a TTY, or use replay to inspect engine output headlessly",
			NextStep: "chatsync replay --help",
		}
	}

	rt, err := loadRuntime(cmd, nil)
	if err != nil {
		return err
	}
	cfg := rt.cfg

	store := sessionStore(cfg)
	if forget, _ := cmd.Flags().GetBool("forget"); forget {
		if err := store.Clear(); err != nil {
			return err
		}
	}
	remembered, err := store.Load()
	if err != nil {
		return err
	}
	creds, err := resolveCredentials(cmd, cfg, remembered)
	if err != nil {
		return err
	}
	theme := cfg.UI.Theme
	if flagTheme, _ := cmd.Flags().GetString("theme"); flagTheme != "" {
		theme = flagTheme
	}

	closeLog, err := tuiLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := logging.WithUser(logging.Component("tui"), creds.UserID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := sqlstore.Open(cfg.DatabasePath(), sqlstore.WithPageSize(cfg.Backend.PageSize))
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer client.Close()

	pub := events.NewInMemoryPublisher()
	defer pub.Close()
	session := engine.NewSession(client, pub,
		engine.WithLocation(cfg.Location()),
		engine.WithMeasure(chatui.ItemHeight),
	)

	stream, err := session.Connect(ctx, creds)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if cfg.Backend.PushURL != "" {
		logger.Info().Str("push_url", logging.RedactURL(cfg.Backend.PushURL)).Msg("joining push feed")
		push := wsfeed.Stream(ctx, cfg.Backend.PushURL, creds.UserID, cfg.Backend.DialTimeout, cfg.Backend.ReconnectInterval)
		stream = wsfeed.Join(ctx, stream, push)
	}

	loop := engine.NewLoop(session)
	if err := loop.Start(ctx, stream); err != nil {
		return err
	}
	defer func() { _ = loop.Stop() }()

	if cfg.UI.DesktopNotifications {
		notifier := notify.New()
		if err := notifier.Attach(pub); err != nil {
			return err
		}
		defer func() { _ = notifier.Detach(pub) }()
	}

	var restore []string
	if remembered.UserID == creds.UserID {
		restore = remembered.OpenChannels
	}
	label := creds.Nickname
	if label == "" {
		label = creds.UserID
	}
	model := chatui.NewModel(loop, chatui.Config{
		Theme:        theme,
		KeepChatOpen: cfg.UI.KeepChatOpen,
		MaxBoards:    cfg.UI.MaxBoards,
		SelfLabel:    label,
		Restore:      restore,
		Format:       session.Formatter(),
	})

	logger.Info().Int("restore", len(restore)).Msg("tui starting")
	runErr := chatui.Run(model, pub)

	var open []string
	err = loop.Do(context.Background(), func(ctx context.Context, s *engine.Session) error {
		for _, set := range s.OpenSets() {
			open = append(open, set.URL())
		}
		return nil
	})
	if err != nil {
		// Interrupted: keep what the previous run remembered.
		open = restore
	}
	remembered.SetUser(creds.UserID, creds.Nickname)
	remembered.OpenChannels = open
	if err := store.Save(remembered); err != nil {
		logger.Warn().Err(err).Msg("failed to remember session")
	}

	if runErr != nil {
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}
