// Package chatui is the terminal view of the sync engine. It renders the
// channel list and the open chat boards from engine signals and sends user
// actions to the engine loop.
package chatui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/poloBBQ/chatsync/internal/channelset"
	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/engine"
	"github.com/poloBBQ/chatsync/internal/events"
	"github.com/poloBBQ/chatsync/internal/projection"
	"github.com/poloBBQ/chatsync/internal/timeline"
)

const (
	listWidth     = 32
	actionTimeout = 15 * time.Second
)

// Runner executes work on the engine loop.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context, s *engine.Session) error) error
	Post(task engine.Task) error
	LoadOlderAsync(ref chat.Ref, handler engine.PageHandler) error
}

// Config configures the view.
type Config struct {
	Theme string
	// KeepChatOpen minimizes a board on close instead of closing the
	// channel, so it keeps receiving messages.
	KeepChatOpen bool
	// MaxBoards bounds the number of open boards. The oldest is closed
	// when a new one opens.
	MaxBoards int
	SelfLabel string
	// Restore lists channels to reopen on start.
	Restore []string
	Format  projection.Formatter
	Now     func() time.Time
}

type mode int

const (
	modeList mode = iota
	modeBoard
	modePicker
)

// SignalMsg carries an engine signal into the program.
type SignalMsg struct {
	Signal *events.Signal
}

type actionDoneMsg struct {
	op  string
	err error
}

type olderDoneMsg struct {
	url string
	ok  bool
	err error
}

type usersMsg struct {
	users []chat.Member
	err   error
}

// Model is the bubbletea model of the chat view.
type Model struct {
	runner Runner
	cfg    Config
	theme  Theme

	list   channelList
	boards map[string]*board
	// order lists open boards, most recently focused first.
	order []string
	mode  mode

	input      textinput.Model
	typingSent map[string]bool

	users      []chat.Member
	userCursor int

	status string
	width  int
	height int
}

// NewModel creates the view on top of runner.
func NewModel(runner Runner, cfg Config) *Model {
	if cfg.MaxBoards <= 0 {
		cfg.MaxBoards = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Format.Now == nil {
		cfg.Format = projection.NewFormatter(cfg.Format.Location)
	}

	input := textinput.New()
	input.Placeholder = "Write a message"
	input.CharLimit = 4000
	input.Prompt = "› "

	return &Model{
		runner:     runner,
		cfg:        cfg,
		theme:      ThemeFor(cfg.Theme),
		boards:     make(map[string]*board),
		typingSent: make(map[string]bool),
		input:      input,
	}
}

// Bridge forwards every signal published on pub to send, usually
// tea.Program.Send. The returned function removes the subscription.
func Bridge(pub events.Publisher, send func(tea.Msg)) (func() error, error) {
	const id = "chatui.bridge"
	if err := pub.Subscribe(id, events.Filter{}, func(sig *events.Signal) {
		send(SignalMsg{Signal: sig})
	}); err != nil {
		return nil, err
	}
	return func() error { return pub.Unsubscribe(id) }, nil
}

func (m *Model) Init() tea.Cmd {
	restore := append([]string(nil), m.cfg.Restore...)
	return m.do("load channels", func(ctx context.Context, s *engine.Session) error {
		if _, err := s.LoadChannelList(ctx); err != nil {
			return err
		}
		for _, url := range restore {
			ref := chat.RefURL(url)
			if _, err := s.OpenChannel(ctx, ref, channelset.PlaceBack); err != nil {
				// The channel may be gone since the last run.
				continue
			}
			if _, _, err := s.LoadInitial(ctx, ref); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = typed.Width, typed.Height
		m.layout()
		return m, nil
	case SignalMsg:
		return m, m.applySignal(typed.Signal)
	case actionDoneMsg:
		if typed.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", typed.op, typed.err)
		}
		return m, nil
	case olderDoneMsg:
		if b, ok := m.boards[typed.url]; ok {
			b.loading = false
		}
		if typed.err != nil {
			m.status = fmt.Sprintf("loading earlier messages failed: %v", typed.err)
		}
		return m, nil
	case usersMsg:
		if typed.err != nil {
			m.status = fmt.Sprintf("listing users failed: %v", typed.err)
			return m, nil
		}
		m.users = typed.users
		m.userCursor = 0
		m.mode = modePicker
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(typed)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return tea.Quit
	}
	switch m.mode {
	case modePicker:
		return m.handlePickerKey(msg)
	case modeBoard:
		return m.handleBoardKey(msg)
	default:
		return m.handleListKey(msg)
	}
}

func (m *Model) handleListKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "up", "k":
		m.list.move(-1)
	case "down", "j":
		m.list.move(1)
	case "n":
		return m.loadUsers()
	case "tab":
		if b := m.focused(); b != nil {
			b.minimized = false
			m.focusBoard(b.url)
		}
	case "enter":
		if row, ok := m.list.current(); ok {
			return m.open(row.URL)
		}
	}
	return nil
}

func (m *Model) handlePickerKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc", "q":
		m.mode = modeList
	case "up", "k":
		if m.userCursor > 0 {
			m.userCursor--
		}
	case "down", "j":
		if m.userCursor < len(m.users)-1 {
			m.userCursor++
		}
	case "enter":
		if m.userCursor >= len(m.users) {
			return nil
		}
		id := m.users[m.userCursor].UserID
		m.mode = modeList
		return m.do("start chat", func(ctx context.Context, s *engine.Session) error {
			_, err := s.StartChat(ctx, []string{id})
			return err
		})
	}
	return nil
}

func (m *Model) handleBoardKey(msg tea.KeyMsg) tea.Cmd {
	b := m.focused()
	if b == nil {
		m.mode = modeList
		return nil
	}
	ref := chat.RefURL(b.url)

	switch msg.String() {
	case "esc":
		return m.closeBoard(b)
	case "ctrl+o":
		m.mode = modeList
		return nil
	case "tab":
		m.cycle()
		return nil
	case "ctrl+w":
		return m.do("leave channel", func(ctx context.Context, s *engine.Session) error {
			return s.Leave(ctx, ref)
		})
	case "enter":
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return nil
		}
		m.input.Reset()
		m.typingSent[b.url] = false
		return m.do("send", func(ctx context.Context, s *engine.Session) error {
			_, err := s.SendText(ctx, ref, text)
			if err == nil {
				err = s.SetTyping(ctx, ref, false)
			}
			return err
		})
	case "pgup", "ctrl+u", "pgdown", "ctrl+d":
		switch msg.String() {
		case "pgup", "ctrl+u":
			b.vp.HalfViewUp()
		default:
			b.vp.HalfViewDown()
		}
		return tea.Batch(m.reportScroll(b), m.maybeLoadOlder(b))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return tea.Batch(cmd, m.syncTyping(b))
}

// syncTyping tells the backend when the compose input starts or stops
// holding text.
func (m *Model) syncTyping(b *board) tea.Cmd {
	typing := strings.TrimSpace(m.input.Value()) != ""
	if typing == m.typingSent[b.url] {
		return nil
	}
	m.typingSent[b.url] = typing
	ref := chat.RefURL(b.url)
	return m.post(func(ctx context.Context, s *engine.Session) {
		_ = s.SetTyping(ctx, ref, typing)
	})
}

func (m *Model) reportScroll(b *board) tea.Cmd {
	at := b.vp.AtBottom()
	if at == b.atBottom {
		return nil
	}
	b.atBottom = at
	ref := chat.RefURL(b.url)
	return m.post(func(_ context.Context, s *engine.Session) {
		s.ReportScroll(ref, at)
	})
}

// maybeLoadOlder requests the previous page once the board is scrolled to
// the top. Only one request per board is in flight.
func (m *Model) maybeLoadOlder(b *board) tea.Cmd {
	if !b.vp.AtTop() || b.loading || b.exhausted {
		return nil
	}
	b.loading = true
	url := b.url
	runner := m.runner
	return func() tea.Msg {
		done := make(chan olderDoneMsg, 1)
		err := runner.LoadOlderAsync(chat.RefURL(url), func(res timeline.Result, ok bool, err error) {
			done <- olderDoneMsg{url: url, ok: ok, err: err}
		})
		if err != nil {
			return olderDoneMsg{url: url, err: err}
		}
		return <-done
	}
}

func (m *Model) open(url string) tea.Cmd {
	if b, ok := m.boards[url]; ok {
		b.minimized = false
		m.focusBoard(url)
		return nil
	}
	ref := chat.RefURL(url)
	return m.do("open channel", func(ctx context.Context, s *engine.Session) error {
		if _, err := s.OpenChannel(ctx, ref, channelset.PlaceFront); err != nil {
			return err
		}
		_, _, err := s.LoadInitial(ctx, ref)
		return err
	})
}

func (m *Model) closeBoard(b *board) tea.Cmd {
	if m.cfg.KeepChatOpen {
		b.minimized = true
		m.mode = modeList
		return nil
	}
	ref := chat.RefURL(b.url)
	return m.do("close channel", func(ctx context.Context, s *engine.Session) error {
		s.CloseChannel(ctx, ref)
		return nil
	})
}

func (m *Model) loadUsers() tea.Cmd {
	runner := m.runner
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		var users []chat.Member
		err := runner.Do(ctx, func(ctx context.Context, s *engine.Session) error {
			var err error
			users, err = s.Users(ctx)
			return err
		})
		return usersMsg{users: users, err: err}
	}
}

// do runs fn on the loop from a command.
func (m *Model) do(op string, fn func(ctx context.Context, s *engine.Session) error) tea.Cmd {
	runner := m.runner
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{op: op, err: runner.Do(ctx, fn)}
	}
}

func (m *Model) post(task engine.Task) tea.Cmd {
	runner := m.runner
	return func() tea.Msg {
		if err := runner.Post(task); err != nil && !errors.Is(err, engine.ErrLoopNotRunning) {
			return actionDoneMsg{op: "update", err: err}
		}
		return nil
	}
}

// applySignal folds an engine signal into the view.
func (m *Model) applySignal(sig *events.Signal) tea.Cmd {
	if sig == nil {
		return nil
	}
	if m.list.apply(sig) {
		return nil
	}

	switch sig.Kind {
	case events.KindBoardOpened:
		if _, ok := m.boards[sig.ChannelURL]; !ok {
			b := newBoard(sig.ChannelURL, sig.Title, sig.Members)
			m.boards[sig.ChannelURL] = b
			m.layout()
		}
		m.focusBoard(sig.ChannelURL)
		return m.evict()
	case events.KindBoardClosed:
		m.dropBoard(sig.ChannelURL)
		return nil
	case events.KindReset:
		m.list.reset()
		m.boards = make(map[string]*board)
		m.order = nil
		m.typingSent = make(map[string]bool)
		m.mode = modeList
		m.status = "signed out"
		return nil
	case events.KindNotify:
		if sig.Message != nil {
			m.status = "new message in " + sig.Title
		}
		return nil
	}

	b, ok := m.boards[sig.ChannelURL]
	if !ok {
		return nil
	}
	shift, toBottom := b.apply(sig)
	b.refresh(m.theme, m.cfg.Format, shift, toBottom)
	if toBottom {
		return m.reportScroll(b)
	}
	return nil
}

// evict closes the least recently focused boards beyond the limit.
func (m *Model) evict() tea.Cmd {
	var refs []chat.Ref
	for len(m.order) > m.cfg.MaxBoards {
		url := m.order[len(m.order)-1]
		m.dropBoard(url)
		refs = append(refs, chat.RefURL(url))
	}
	if len(refs) == 0 {
		return nil
	}
	return m.do("close channel", func(ctx context.Context, s *engine.Session) error {
		for _, ref := range refs {
			s.CloseChannel(ctx, ref)
		}
		return nil
	})
}

func (m *Model) dropBoard(url string) {
	delete(m.boards, url)
	delete(m.typingSent, url)
	for i, u := range m.order {
		if u == url {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.mode == modeBoard && m.focused() == nil {
		m.mode = modeList
	}
}

func (m *Model) focusBoard(url string) {
	for i, u := range m.order {
		if u == url {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append([]string{url}, m.order...)
	m.mode = modeBoard
	m.input.Focus()
}

// cycle focuses the next visible board.
func (m *Model) cycle() {
	for i := len(m.order) - 1; i > 0; i-- {
		if b := m.boards[m.order[i]]; b != nil && !b.minimized {
			m.focusBoard(b.url)
			return
		}
	}
}

func (m *Model) focused() *board {
	if len(m.order) == 0 {
		return nil
	}
	return m.boards[m.order[0]]
}

func (m *Model) layout() {
	_, boardW, bodyH := m.panes()
	for _, b := range m.boards {
		// Header, footer, input and pane borders.
		b.resize(boardW-2, bodyH-5)
	}
}

func (m *Model) panes() (listW, boardW, bodyH int) {
	bodyH = m.height - 2
	if bodyH < 3 {
		bodyH = 3
	}
	listW = listWidth
	if m.width < listWidth*2 {
		listW = m.width
	}
	boardW = m.width - listW
	if boardW < 20 {
		boardW = m.width
	}
	return listW, boardW, bodyH
}

func (m *Model) View() string {
	header := m.renderHeader()
	footer := m.renderFooter()
	listW, boardW, bodyH := m.panes()

	var body string
	switch {
	case m.mode == modePicker:
		body = m.renderPicker(m.width, bodyH)
	case m.mode == modeBoard && m.focused() != nil:
		b := m.focused()
		boardPane := m.theme.FocusPane.Width(boardW - 2).Height(bodyH - 2).Render(m.renderBoard(b))
		if boardW == m.width {
			body = boardPane
		} else {
			listPane := m.theme.Pane.Width(listW - 2).Height(bodyH - 2).Render(m.list.render(m.theme, listW-2, bodyH-2, false))
			body = lipgloss.JoinHorizontal(lipgloss.Top, listPane, boardPane)
		}
	default:
		body = m.theme.FocusPane.Width(m.width - 2).Height(bodyH - 2).Render(m.list.render(m.theme, m.width-2, bodyH-2, true))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m *Model) renderHeader() string {
	title := "chatsync"
	if m.cfg.SelfLabel != "" {
		title += " · " + m.cfg.SelfLabel
	}
	line := m.theme.Header.Render(title)
	if m.list.total > 0 {
		line += " " + m.theme.Badge.Render(fmt.Sprintf("%d unread", m.list.total))
	}
	return line
}

func (m *Model) renderFooter() string {
	help := "enter open · n new chat · tab boards · q quit"
	switch m.mode {
	case modeBoard:
		help = "enter send · esc close · pgup earlier · tab next · ctrl+o list · ctrl+w leave"
	case modePicker:
		help = "enter start chat · esc cancel"
	}
	if m.status != "" {
		return m.theme.Badge.Render(m.status) + "  " + m.theme.Muted.Render(help)
	}
	return m.theme.Muted.Render(help)
}

func (m *Model) renderBoard(b *board) string {
	parts := []string{b.header(m.theme, m.cfg.Now()), b.vp.View()}
	if footer := b.footer(m.theme); footer != "" {
		parts = append(parts, footer)
	} else {
		parts = append(parts, "")
	}
	parts = append(parts, m.input.View())
	return strings.Join(parts, "\n")
}

func (m *Model) renderPicker(width, height int) string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Render("Start a chat with"))
	b.WriteString("\n")
	if len(m.users) == 0 {
		b.WriteString(m.theme.Muted.Render("nobody else is here yet"))
	}
	for i, u := range m.users {
		line := "  " + displayName(u)
		if i == m.userCursor {
			line = m.theme.Selected.Render("> " + displayName(u))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return m.theme.FocusPane.Width(width - 2).Height(height - 2).Render(strings.TrimRight(b.String(), "\n"))
}

// Run starts the program and blocks until it exits.
func Run(m *Model, pub events.Publisher) error {
	program := tea.NewProgram(m, tea.WithAltScreen())
	unsubscribe, err := Bridge(pub, program.Send)
	if err != nil {
		return err
	}
	defer func() { _ = unsubscribe() }()
	_, err = program.Run()
	return err
}
