package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/poloBBQ/chatsync/internal/backend"
	"github.com/poloBBQ/chatsync/internal/backend/sqlstore"
	"github.com/poloBBQ/chatsync/internal/backend/wsfeed"
	"github.com/poloBBQ/chatsync/internal/channelset"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/engine"
	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/logging"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Replay a recorded event script",
		Long: `Replay newline-delimited event envelopes ("-" reads stdin).

By default the events are applied to a headless engine session and every
signal it emits is written to stdout as JSON, one per line. With --serve the
script is instead played over a websocket feed that chatsync tui can join
through backend.push_url.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0])
		},
	}
	cmd.Flags().String("serve", "", "serve the script as a websocket feed on this address (e.g. 127.0.0.1:8090)")
	cmd.Flags().Duration("interval", 0, "delay between events")
	cmd.Flags().String("as", "", "user receiving the events (default: session.user_id)")
	cmd.Flags().StringSlice("open", nil, "channel URLs to open before replaying")
	return cmd
}

func readScript(path string, stdin io.Reader) ([]wsfeed.Envelope, error) {
	if path == "-" {
		return wsfeed.Script(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return wsfeed.Script(f)
}

func runReplay(cmd *cobra.Command, path string) error {
	rt, err := loadRuntime(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	script, err := readScript(path, cmd.InOrStdin())
	if err != nil {
		return &ExitError{Code: ExitCodeUsage, Err: fmt.Errorf("read script: %w", err)}
	}
	interval, _ := cmd.Flags().GetDuration("interval")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr, _ := cmd.Flags().GetString("serve"); addr != "" {
		return serveScript(ctx, addr, script, interval, cmd.OutOrStdout())
	}

	user, _ := cmd.Flags().GetString("as")
	if user == "" {
		user = rt.cfg.Session.UserID
	}
	if user == "" {
		return &PreflightError{
			Message:  "no user to replay as",
			Hint:     "Pass --as or set session.user_id",
			NextStep: "chatsync replay --as alice script.ndjson",
		}
	}
	opens, _ := cmd.Flags().GetStringSlice("open")

	client, err := sqlstore.Open(rt.cfg.DatabasePath(), sqlstore.WithPageSize(rt.cfg.Backend.PageSize))
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer client.Close()

	return replay(ctx, client, replayOptions{
		User:     user,
		Open:     opens,
		Interval: interval,
		Location: rt.cfg.Location(),
	}, script, cmd.OutOrStdout())
}

type replayOptions struct {
	User     string
	Open     []string
	Interval time.Duration
	Location *time.Location
}

// replay applies the envelopes addressed to opts.User to a headless
// session and writes each emitted signal to out.
func replay(ctx context.Context, client backend.Client, opts replayOptions, script []wsfeed.Envelope, out io.Writer) error {
	logger := logging.WithUser(logging.Component("replay"), opts.User)

	pub := events.NewInMemoryPublisher(events.WithRecorder(events.NewJSONRecorder(out)))
	defer pub.Close()
	session := engine.NewSession(client, pub, engine.WithLocation(opts.Location))
	if _, err := session.Connect(ctx, backend.Credentials{UserID: opts.User}); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	// Only the loop applies events; the live stream of the store is not
	// drained here.
	loop := engine.NewLoop(session)
	if err := loop.Start(ctx, nil); err != nil {
		return err
	}
	defer func() { _ = loop.Stop() }()

	for _, url := range opts.Open {
		err := loop.Do(ctx, func(ctx context.Context, s *engine.Session) error {
			ref := chat.RefURL(url)
			if _, err := s.OpenChannel(ctx, ref, channelset.PlaceBack); err != nil {
				return err
			}
			_, _, err := s.LoadInitial(ctx, ref)
			return err
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", url, err)
		}
	}

	applied := 0
	for i, env := range script {
		if env.To != "" && env.To != opts.User {
			continue
		}
		if opts.Interval > 0 && applied > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		ev, err := env.Event()
		if err != nil {
			return fmt.Errorf("event %d: %w", i+1, err)
		}
		if err := loop.Do(ctx, func(ctx context.Context, s *engine.Session) error {
			return s.HandleEvent(ctx, ev)
		}); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Warn().Err(err).Int("event", i+1).Str("type", env.Type).Msg("event failed")
		}
		applied++
	}
	logger.Info().Int("applied", applied).Int("script", len(script)).Msg("replay finished")
	return nil
}

// serveScript plays script to every client of a websocket feed until ctx
// is done.
func serveScript(ctx context.Context, addr string, script []wsfeed.Envelope, interval time.Duration, out io.Writer) error {
	logger := logging.Component("replay")

	feed := wsfeed.NewServer(wsfeed.ScriptSource(script, interval))
	mux := http.NewServeMux()
	mux.Handle("/feed", feed)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	fmt.Fprintf(out, "serving %d events on ws://%s/feed\n", len(script), ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	logger.Info().Int("clients", feed.Clients()).Msg("feed shutting down")
	feed.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
