package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
	"github.com/wwwzy/ArcadeAgent/internal/ui"
)

type ChatUI struct{}

var _ ui.ChatUI = (*ChatUI)(nil)

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newChatModel(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// 运行过程中的事件经 events 通道送回 Update
type snapshotMsg struct{ snap agent.Snapshot }
type authorizationMsg struct{ prompt agent.AuthorizationPrompt }
type runDoneMsg struct {
	res *agent.Result
	err error
}

type streamTickMsg struct{}
type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions
	events  chan tea.Msg

	threadID string
	messages []*schema.Message
	notice   string

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	running    bool
	runStart   int
	followTail bool

	auth *agent.AuthorizationPrompt

	overrideContent map[int]string
	streaming       bool
	streamIdx       int
	streamPos       int
	streamFull      string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "输入消息，回车发送；/resume 继续等待授权"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	return chatModel{
		ctx:             ctx,
		backend:         backend,
		opts:            opts,
		events:          make(chan tea.Msg, 64),
		threadID:        opts.ThreadID,
		messages:        append([]*schema.Message(nil), opts.History...),
		viewport:        vp,
		input:           ti,
		spinner:         s,
		followTail:      true,
		overrideContent: map[int]string{},
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx), listen(m.events))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func listen(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight - m.authHeight()
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight

		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case snapshotMsg:
		m.threadID = msg.snap.ThreadID
		m.messages = msg.snap.State.Messages
		m.auth = nil
		m.updateViewportContent(m.renderChat())
		return m, listen(m.events)

	case authorizationMsg:
		prompt := msg.prompt
		m.auth = &prompt
		m.resize()
		m.updateViewportContent(m.renderChat())
		return m, listen(m.events)

	case runDoneMsg:
		m.running = false
		m.auth = nil
		m.resize()
		if msg.err != nil {
			m.notice = fmt.Sprintf("发生错误：%v", msg.err)
			m.followTail = true
			m.updateViewportContent(m.renderChat())
			return m, listen(m.events)
		}

		m.threadID = msg.res.ThreadID
		m.messages = msg.res.State.Messages
		if err := msg.res.Err(); err != nil {
			m.notice = fmt.Sprintf("本轮未完成：%v", err)
		}

		m.startStreamingFrom(m.runStart)
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, tea.Batch(listen(m.events), streamTick())
		}
		return m, listen(m.events)

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+32)
		m.overrideContent[m.streamIdx] = m.streamFull[:m.streamPos]
		m.updateViewportContent(m.renderChat())
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.running {
				return m, cmd
			}
			switch strings.ToLower(text) {
			case ui.CommandExit, ui.CommandQuit:
				return m, tea.Quit
			}

			req := agent.RunRequest{ThreadID: m.threadID, UserID: m.opts.UserID}
			if text == ui.CommandResume {
				req.Resume = true
			} else {
				req.Query = text
				m.messages = append(m.messages, schema.UserMessage(text))
			}
			m.notice = ""
			m.followTail = true
			m.input.SetValue("")
			m.running = true
			m.runStart = len(m.messages)
			m.updateViewportContent(m.renderChat())
			return m, tea.Batch(cmd, m.startRun(req))
		}

		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startRun 在后台执行一轮，事件与结果都写入 events
func (m chatModel) startRun(req agent.RunRequest) tea.Cmd {
	ctx := m.ctx
	events := m.events
	send := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-ctx.Done():
		}
	}
	req.Observer = agent.ObserverFuncs{
		Snapshot: func(_ context.Context, snap agent.Snapshot) {
			snap.State.Messages = append([]*schema.Message(nil), snap.State.Messages...)
			send(snapshotMsg{snap: snap})
		},
		Authorization: func(_ context.Context, prompt agent.AuthorizationPrompt) {
			send(authorizationMsg{prompt: prompt})
		},
	}
	backend := m.backend
	return func() tea.Msg {
		go func() {
			res, err := backend.Run(ctx, req)
			send(runDoneMsg{res: res, err: err})
		}()
		return nil
	}
}

func (m chatModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("ArcadeAgent Chat")
	if m.threadID != "" {
		header += lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("  thread " + m.threadID)
	}

	parts := []string{header, m.viewport.View()}
	if m.auth != nil {
		parts = append(parts, m.authView())
	}
	parts = append(parts, m.inputView(), m.footerView())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | PgUp/PgDn 滚动 | Ctrl+C 退出"
	right := ""
	switch {
	case m.auth != nil:
		right = m.spinner.View() + " Waiting for authorization..."
	case m.running:
		right = m.spinner.View() + " Thinking..."
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render(""), right))
}

func (m chatModel) inputView() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
	return box
}

// authView 展示授权链接，授权在浏览器中完成后运行自动继续
func (m chatModel) authView() string {
	title := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("需要授权 %s", m.auth.ToolName))
	body := m.wrapToWidth(m.auth.URL, m.bubbleMaxContentWidth())
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("214")).
		Padding(0, 1).
		Render(title + "\n" + body + "\n" + "授权完成后将自动继续")
}

func (m chatModel) authHeight() int {
	if m.auth == nil {
		return 0
	}
	return lipgloss.Height(m.authView())
}

func (m *chatModel) resize() {
	if m.height <= 0 {
		return
	}
	m.viewport.Height = max(1, m.height-4-m.authHeight())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m *chatModel) startStreamingFrom(prevCount int) {
	m.streaming = false
	m.streamFull = ""
	m.streamPos = 0
	m.streamIdx = -1

	if prevCount < 0 {
		prevCount = 0
	}
	for i := len(m.messages) - 1; i >= prevCount; i-- {
		msg := m.messages[i]
		if !isFinalReply(msg) {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		m.streaming = true
		m.streamIdx = i
		m.streamFull = msg.Content
		m.streamPos = min(len(m.streamFull), 32)
		preview := m.streamFull[:m.streamPos]
		if strings.TrimSpace(preview) == "" {
			preview = "…"
		}
		m.overrideContent[i] = preview
		return
	}
}

func isFinalReply(msg *schema.Message) bool {
	return msg != nil && msg.Role == schema.Assistant && len(msg.ToolCalls) == 0
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	contentWidth := m.bubbleMaxContentWidth()
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(contentWidth),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}

	var b strings.Builder
	for i, msg := range m.messages {
		if msg == nil || msg.Role == schema.System {
			continue
		}
		// 运行中的最终回复等结束后再以打字效果展示
		if m.running && i >= m.runStart && isFinalReply(msg) {
			continue
		}

		content := msg.Content
		if override, ok := m.overrideContent[i]; ok && (m.streaming && m.streamIdx == i) {
			content = override
		}
		content = strings.TrimRight(content, "\n")

		line := m.renderOneMessage(msg, content)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	if m.notice != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Render(m.notice))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) bubbleMinContentWidth() int {
	return 10
}

func (m chatModel) desiredContentWidth(s string) int {
	maxAllowed := m.bubbleMaxContentWidth()
	w := maxLineWidth(s)
	w = max(m.bubbleMinContentWidth(), w)
	w = min(maxAllowed, w)
	return w
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	maxW := 0
	for _, line := range strings.Split(s, "\n") {
		w := lipgloss.Width(strings.TrimRight(line, " "))
		if w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) renderOneMessage(msg *schema.Message, content string) string {
	switch msg.Role {
	case schema.User:
		return m.renderUser(content)
	case schema.Assistant:
		if len(msg.ToolCalls) > 0 {
			return m.renderToolCalls(msg, content)
		}
		if strings.TrimSpace(content) == "" {
			return ""
		}
		return m.renderAssistant(content)
	default:
		return m.renderTool(msg.ToolName, content)
	}
}

func (m chatModel) renderAssistant(content string) string {
	md := content
	if m.renderer != nil && strings.TrimSpace(md) != "" {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderToolCalls(msg *schema.Message, content string) string {
	var b strings.Builder
	if strings.TrimSpace(content) != "" {
		b.WriteString(strings.TrimSpace(content))
		b.WriteString("\n")
	}
	for _, tc := range msg.ToolCalls {
		fmt.Fprintf(&b, "→ %s %s\n", tc.Function.Name, tc.Function.Arguments)
	}
	body := strings.TrimRight(b.String(), "\n")
	body = m.wrapToWidth(body, m.desiredContentWidth(body))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Foreground(lipgloss.Color("245")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(body)
}

func (m chatModel) renderTool(name, content string) string {
	label := "TOOL"
	if name != "" {
		label += " " + name
	}
	body := content
	if strings.TrimSpace(body) == "" {
		body = "(无输出)"
	}
	body = m.wrapToWidth(body, m.desiredContentWidth(body))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Foreground(lipgloss.Color("245")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(label + "\n" + body)
}
