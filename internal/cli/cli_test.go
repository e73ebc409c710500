package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poloBBQ/chatsync/internal/config"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd("dev")

	found, _, err := root.Find([]string{"ui"})
	require.NoError(t, err)
	require.Equal(t, "tui", found.Name())

	for _, name := range []string{"replay", "seed", "version"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, found.Name())
	}
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("db"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "chatsync test "))
}

func TestExitErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := error(&ExitError{Code: ExitCodeUsage, Err: base})

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitCodeUsage, exitErr.Code)
	require.ErrorIs(t, err, base)
	require.Equal(t, "boom", err.Error())

	require.Equal(t, "bad 3", Exitf(ExitCodeFailure, "bad %d", 3).Error())

	pre := &PreflightError{Message: "no user", Hint: "pass --user", NextStep: "chatsync tui --user alice"}
	require.Equal(t, "no user\n  hint: pass --user\n  try: chatsync tui --user alice", pre.Error())
}

func TestResolveCredentialsPrecedence(t *testing.T) {
	cfg := config.DefaultConfig()
	remembered := &config.Remembered{UserID: "carol", Nickname: "Carol"}

	creds, err := resolveCredentials(newTUICmd(), cfg, remembered)
	require.NoError(t, err)
	require.Equal(t, "carol", creds.UserID)
	require.Equal(t, "Carol", creds.Nickname)

	cfg.Session.UserID = "bob"
	cfg.Session.Nickname = "Bobby"
	creds, err = resolveCredentials(newTUICmd(), cfg, remembered)
	require.NoError(t, err)
	require.Equal(t, "bob", creds.UserID)
	require.Equal(t, "Bobby", creds.Nickname)

	cmd := newTUICmd()
	require.NoError(t, cmd.Flags().Set("user", "alice"))
	creds, err = resolveCredentials(cmd, cfg, remembered)
	require.NoError(t, err)
	require.Equal(t, "alice", creds.UserID)
	require.Empty(t, creds.Nickname)

	_, err = resolveCredentials(newTUICmd(), config.DefaultConfig(), &config.Remembered{})
	var pre *PreflightError
	require.ErrorAs(t, err, &pre)
}

func TestSeedThenReplayHeadless(t *testing.T) {
	home := isolateHome(t)
	db := filepath.Join(home, "chat.db")

	out, err := execute(t, "seed", "--db", db, "--user", "alice", "--history", "6")
	require.NoError(t, err)
	require.Contains(t, out, "demo_alice_bob\t5 messages")
	require.Contains(t, out, "demo_history_alice\t6 messages")

	_, err = execute(t, "seed", "--db", db, "--user", "alice")
	require.Error(t, err, "seeding twice collides on channel urls")

	script := strings.Join([]string{
		"# bob answers, carol's copy is not ours",
		`{"type":"message_received","to":"alice","channel":{"url":"demo_alice_bob"},"message":{"id":900,"kind":"user","sender":{"user_id":"bob"},"body":"running late","created_at":"2030-01-02T10:00:00Z"}}`,
		`{"type":"message_received","to":"carol","channel":{"url":"demo_team_alice"},"message":{"id":901,"kind":"user","sender":{"user_id":"dave"},"body":"carol only","created_at":"2030-01-02T10:00:00Z"}}`,
		`{"type":"typing_changed","channel":{"url":"demo_alice_bob"},"typing":[{"user_id":"bob","nickname":"Bob"}]}`,
	}, "\n")
	path := filepath.Join(home, "script.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(script), 0644))

	out, err = execute(t, "replay", "--db", db, "--as", "alice", "--open", "demo_alice_bob", path)
	require.NoError(t, err)
	require.Contains(t, out, `"kind":"board.opened"`)
	require.Contains(t, out, `"kind":"board.timeline_merged"`)
	require.Contains(t, out, "running late")
	require.Contains(t, out, `"kind":"board.typing"`)
	require.NotContains(t, out, "carol only")

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		require.True(t, strings.HasPrefix(line, "{"), "one JSON signal per line: %q", line)
	}
}

func TestReplayRejectsBadScript(t *testing.T) {
	home := isolateHome(t)
	path := filepath.Join(home, "bad.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"nope","channel":{"url":"c1"}}`), 0644))

	_, err := execute(t, "replay", "--db", filepath.Join(home, "chat.db"), "--as", "alice", path)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)
	require.ErrorContains(t, err, "line 1")
}
