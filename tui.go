package main

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bolo/dictation"
	"bolo/log"
	"bolo/recognition"
)

// TUI message types
type recognitionMsg struct {
	ev recognition.Event
	ch <-chan recognition.Event
}
type copyResultMsg struct{ err error }
type clearCopyStatusMsg struct{ gen int }
type hotkeyMsg struct{}
type shutdownMsg struct{}
type tickMsg time.Time

// cues are the audible feedback hooks; nil fields are skipped.
type cues struct {
	start, end, err func()
}

func (c cues) play(f func()) {
	if f != nil {
		f()
	}
}

type tuiOptions struct {
	copy       func(string) error
	onCopy     func(ok bool)
	copyDelay  time.Duration
	cues       cues
	device     string
	provider   string
	hotkeyHint string
}

type tuiModel struct {
	dict *dictation.Adapter
	msgs dictation.Messages
	opts tuiOptions

	copyStatus string
	copyGen    int

	frame         int
	width, height int
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	textStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	keyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	copiedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	listenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	bannerStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("160")).
			Padding(0, 1)
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	// mic pulse while listening, indexed by frame
	pulseColors = []string{"196", "203", "210", "217", "210", "203"}
)

func newTUIModel(dict *dictation.Adapter, opts tuiOptions) tuiModel {
	if opts.copyDelay <= 0 {
		opts.copyDelay = 2500 * time.Millisecond
	}
	return tuiModel{
		dict: dict,
		msgs: dictation.MessagesFor(dict.Lang()),
		opts: opts,
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent delivers the next event of one session. Each session channel
// is drained until closed so its producer never blocks on a full buffer.
func waitForEvent(ch <-chan recognition.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return recognitionMsg{ev: ev, ch: ch}
	}
}

func copyCmd(copyFn func(string) error, text string) tea.Cmd {
	return func() tea.Msg {
		return copyResultMsg{err: copyFn(text)}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.dict.Close()
			return m, tea.Quit
		case " ", "m":
			return m.toggle()
		case "c":
			return m.copyText()
		case "x", "backspace":
			return m.clear()
		}

	case hotkeyMsg:
		return m.toggle()

	case shutdownMsg:
		m.dict.Close()
		return m, tea.Quit

	case recognitionMsg:
		if m.dict.Handle(msg.ev) {
			switch msg.ev.Kind {
			case recognition.EventStart:
				m.opts.cues.play(m.opts.cues.start)
			case recognition.EventError:
				m.opts.cues.play(m.opts.cues.err)
			case recognition.EventEnd:
				m.opts.cues.play(m.opts.cues.end)
			}
		}
		return m, waitForEvent(msg.ch)

	case copyResultMsg:
		ok := msg.err == nil
		if ok {
			m.copyStatus = m.msgs.Copied
		} else {
			log.Warnf("copy failed: %v", msg.err)
			m.copyStatus = m.msgs.CopyFailed
		}
		log.CopyResult(ok, len([]rune(m.dict.Text())))
		if m.opts.onCopy != nil {
			m.opts.onCopy(ok)
		}
		m.copyGen++
		gen := m.copyGen
		return m, tea.Tick(m.opts.copyDelay, func(time.Time) tea.Msg {
			return clearCopyStatusMsg{gen: gen}
		})

	case clearCopyStatusMsg:
		if msg.gen == m.copyGen {
			m.copyStatus = ""
		}
	}
	return m, nil
}

func (m tuiModel) toggle() (tea.Model, tea.Cmd) {
	if !m.dict.Supported() {
		return m, nil
	}
	if m.dict.Listening() {
		m.dict.StopListening()
		m.opts.cues.play(m.opts.cues.end)
		return m, nil
	}
	if m.dict.Events() != nil {
		// still connecting; no start cue was played
		m.dict.StopListening()
		return m, nil
	}
	before := m.dict.Sessions()
	if m.dict.StartListening() {
		return m, waitForEvent(m.dict.Events())
	}
	if m.dict.Sessions() > before {
		// session was created but refused to start
		m.opts.cues.play(m.opts.cues.err)
	}
	return m, nil
}

func (m tuiModel) copyText() (tea.Model, tea.Cmd) {
	text := m.dict.Text()
	if text == "" || m.opts.copy == nil {
		return m, nil
	}
	return m, copyCmd(m.opts.copy, text)
}

func (m tuiModel) clear() (tea.Model, tea.Cmd) {
	if m.dict.Text() == "" {
		return m, nil
	}
	wasListening := m.dict.Listening()
	m.dict.ResetText()
	if wasListening {
		m.opts.cues.play(m.opts.cues.end)
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	errMsg := ""
	if err := m.dict.Err(); err != nil {
		errMsg = err.Message
	}
	status := dictation.StatusMessage(errMsg, m.copyStatus, m.dict.Listening(), m.msgs)
	switch {
	case errMsg != "":
		return errorStyle.Render(status)
	case m.copyStatus == m.msgs.CopyFailed:
		return errorStyle.Render(status)
	case m.copyStatus != "":
		return copiedStyle.Render(status)
	case m.dict.Listening():
		return listenStyle.Render(status)
	}
	return subtitleStyle.Render(status)
}

func (m tuiModel) micControl() string {
	if !m.dict.Supported() {
		return dimStyle.Render("○ mic unavailable")
	}
	if m.dict.Listening() {
		c := pulseColors[m.frame%len(pulseColors)]
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Bold(true).Render("●")
		return dot + " " + keyStyle.Render("space") + footerStyle.Render(" stop")
	}
	return footerStyle.Render("○ ") + keyStyle.Render("space") + footerStyle.Render(" speak")
}

func (m tuiModel) control(key, label string, enabled bool) string {
	if !enabled {
		return dimStyle.Render(key + " " + label)
	}
	return keyStyle.Render(key) + footerStyle.Render(" "+label)
}

func (m tuiModel) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	panelWidth := min(width-2, 100)
	wrapWidth := max(panelWidth-4, 10)

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.msgs.Title) + "\n")
	b.WriteString(subtitleStyle.Render(m.msgs.Subtitle) + "\n\n")

	if !m.dict.Supported() {
		banner := bannerStyle.Width(panelWidth - 2).Render(strings.Join(
			wrapText("Error: "+m.msgs.Unsupported, wrapWidth), "\n"))
		b.WriteString(banner + "\n\n")
	} else {
		var body string
		if text := m.dict.Text(); text != "" {
			body = textStyle.Render(strings.Join(wrapText(text, wrapWidth), "\n"))
		} else {
			body = dimStyle.Render(strings.Join(wrapText(m.msgs.Placeholder, wrapWidth), "\n"))
		}
		b.WriteString(panelStyle.Width(panelWidth-2).Render(body) + "\n")
		b.WriteString(" " + m.statusLine() + "\n\n")
	}

	hasText := m.dict.Text() != ""
	controls := []string{
		m.micControl(),
		m.control("c", "copy", hasText),
		m.control("x", "clear", hasText),
		m.control("q", "quit", true),
	}
	b.WriteString(" " + strings.Join(controls, footerStyle.Render("  ·  ")) + "\n")

	var footer []string
	if m.opts.device != "" {
		footer = append(footer, m.opts.device)
	}
	if m.opts.provider != "" {
		footer = append(footer, m.opts.provider)
	}
	footer = append(footer, m.dict.Lang())
	if m.opts.hotkeyHint != "" {
		footer = append(footer, m.opts.hotkeyHint)
	}
	footer = append(footer, "bolo "+version)
	b.WriteString(" " + footerStyle.Render(strings.Join(footer, " | ")))
	return b.String()
}

// wrapText breaks text on spaces so no line is wider than width terminal
// cells. Words wider than a line are split by rune.
func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		var line strings.Builder
		lineW := 0
		for _, word := range strings.Fields(para) {
			wordW := lipgloss.Width(word)
			if lineW > 0 && lineW+1+wordW <= width {
				line.WriteByte(' ')
				line.WriteString(word)
				lineW += 1 + wordW
				continue
			}
			if lineW > 0 {
				lines = append(lines, line.String())
				line.Reset()
				lineW = 0
			}
			for wordW > width {
				head, rest := splitWidth(word, width)
				lines = append(lines, head)
				word = rest
				wordW = lipgloss.Width(word)
			}
			line.WriteString(word)
			lineW = wordW
		}
		lines = append(lines, line.String())
	}
	return lines
}

// splitWidth cuts s after the longest prefix that fits in width cells,
// always taking at least one rune.
func splitWidth(s string, width int) (string, string) {
	w := 0
	for i, r := range s {
		rw := lipgloss.Width(string(r))
		if w+rw > width && i > 0 {
			return s[:i], s[i:]
		}
		w += rw
	}
	return s, ""
}
