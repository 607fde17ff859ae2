// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/session"
	"github.com/jeranaias/agentchat/internal/ui/styles"
)

const (
	// loadTimeout bounds loading a chat picked from the list.
	loadTimeout = 30 * time.Second

	// feedbackTimeout bounds a thumbs up/down request.
	feedbackTimeout = 15 * time.Second

	// maxInputLength caps a single prompt.
	maxInputLength = 8000
)

// Options configures a chat Model.
type Options struct {
	// Chats backs the chat picker. The picker is unavailable when nil.
	Chats ChatSource

	// Theme defaults to styles.NewTheme().
	Theme *styles.Theme

	// InitialChat is loaded when the program starts.
	InitialChat string

	// Agent describes the selected agent. Its title is shown in the header
	// and its tool names label function calls.
	Agent model.Agent

	Logger *log.Logger
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	ctrl   *session.Controller
	chats  ChatSource
	theme  *styles.Theme
	keys   KeyMap
	logger *log.Logger

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	markdown *markdownRenderer

	// Latest snapshots published by the controller
	state     session.State
	messages  []model.Message
	calls     []model.FunctionCall
	sessionID string

	agent       model.Agent
	initialChat string
	picker      *picker
	feedback    map[string]bool
	pendingCfg  *config.Config

	notice    string
	noticeErr bool

	width  int
	height int
	ready  bool
}

// New creates a chat view bound to ctrl.
func New(ctrl *session.Controller, opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	input := textinput.New()
	input.Placeholder = "Ask the agent..."
	input.Prompt = "> "
	input.CharLimit = maxInputLength
	input.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = theme.CallRunning

	return Model{
		ctrl:        ctrl,
		chats:       opts.Chats,
		theme:       theme,
		keys:        DefaultKeyMap(),
		logger:      logger.With("component", "tui"),
		viewport:    viewport.New(80, 20),
		input:       input,
		spinner:     sp,
		markdown:    newMarkdownRenderer(theme.GlamourStyle()),
		state:       ctrl.State(),
		messages:    ctrl.Transcript(),
		calls:       ctrl.FunctionCalls(),
		sessionID:   ctrl.SessionID(),
		agent:       opts.Agent,
		initialChat: opts.InitialChat,
		feedback:    make(map[string]bool),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.initialChat != "" {
		cmds = append(cmds, m.switchCmd(m.initialChat))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case stateMsg:
		return m.handleState(msg.State)

	case transcriptMsg:
		m.messages = msg.Messages
		m.updateViewport()
		return m, nil

	case callsMsg:
		m.calls = msg.Calls
		m.updateViewport()
		return m, nil

	case sessionCreatedMsg:
		m.sessionID = msg.ID
		return m, nil

	case switchedMsg:
		return m.handleSwitched(msg)

	case chatsLoadedMsg:
		if m.picker != nil {
			m.picker.load(msg.Chats, msg.Err)
		}
		return m, nil

	case feedbackMsg:
		return m.handleFeedback(msg)

	case ConfigChangedMsg:
		m.pendingCfg = msg.Config
		if !m.state.Busy() {
			m.applyPendingConfig()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state.Busy() && m.hasRunningCalls() {
			m.updateViewport()
		}
		return m, cmd
	}

	if !m.state.IsStreaming() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	// Layout: header + viewport + input box + status bar. Keep these in sync
	// with renderHeader, renderInput and renderStatusBar.
	const (
		headerHeight    = 1
		inputAreaHeight = 3
		statusBarHeight = 1
	)

	viewportHeight := m.height - headerHeight - inputAreaHeight - statusBarHeight
	if viewportHeight < 1 {
		viewportHeight = 1
	}
	viewportWidth := m.width
	if viewportWidth < 1 {
		viewportWidth = 1
	}
	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight

	// Rounded border and padding take 4 columns, the prompt 2 more.
	const promptLen = 2
	inputWidth := m.width - 4 - promptLen
	if inputWidth < 10 {
		inputWidth = 10
	}
	m.input.Width = inputWidth

	m.theme.SetSize(m.width, m.height)
	m.markdown.SetWidth(m.width - 4)
	m.ready = true
	m.updateViewport()
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if m.picker != nil {
		return m.handlePickerKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Cancel):
		if m.state.IsStreaming() {
			m.ctrl.Cancel()
			m.setNotice("Stopped", false)
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.NewChat):
		m.ctrl.NewConversation()
		m.sessionID = ""
		m.setNotice("New conversation", false)
		return m, nil

	case key.Matches(msg, m.keys.OpenPicker):
		if m.chats == nil {
			m.setNotice("Chat history is not available", true)
			return m, nil
		}
		m.picker = &picker{loading: true}
		return m, listChatsCmd(m.chats)

	case key.Matches(msg, m.keys.ThumbsUp):
		return m.rateLastReply(true)

	case key.Matches(msg, m.keys.ThumbsDown):
		return m.rateLastReply(false)

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	if m.state.IsStreaming() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.picker = nil
	case key.Matches(msg, m.keys.Up):
		m.picker.move(-1)
	case key.Matches(msg, m.keys.Down):
		m.picker.move(1)
	case key.Matches(msg, m.keys.Submit):
		chat, ok := m.picker.selected()
		if !ok {
			return m, nil
		}
		m.picker = nil
		m.setNotice("Loading "+chatLabel(chat)+"...", false)
		return m, m.switchCmd(chat.ID)
	}
	return m, nil
}

func (m Model) handleState(s session.State) (tea.Model, tea.Cmd) {
	m.state = s
	if s.IsStreaming() {
		m.input.Blur()
	} else {
		m.input.Focus()
	}
	if !s.Busy() && m.pendingCfg != nil {
		m.applyPendingConfig()
	}
	m.updateViewport()
	return m, nil
}

func (m Model) handleSwitched(msg switchedMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Err == nil:
		m.sessionID = m.ctrl.SessionID()
		m.clearNotice()
	case errors.Is(msg.Err, session.ErrSessionChanged), errors.Is(msg.Err, context.Canceled):
		// A newer selection won.
	case backend.IsNotFound(msg.Err):
		m.setNotice("Chat "+msg.ID+" no longer exists", true)
	default:
		m.logger.Warn("load chat failed", "chat_id", msg.ID, "err", msg.Err)
		m.setNotice("Could not load chat: "+msg.Err.Error(), true)
	}
	return m, nil
}

func (m Model) handleFeedback(msg feedbackMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.setNotice("Feedback not sent: "+msg.Err.Error(), true)
		return m, nil
	}
	m.feedback[msg.MessageID] = msg.Positive
	m.setNotice("Thanks for the feedback", false)
	m.updateViewport()
	return m, nil
}

// =============================================================================
// ACTIONS
// =============================================================================

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.state.Busy() {
		return m, nil
	}
	if err := m.ctrl.Send(m.input.Value()); err != nil {
		if !errors.Is(err, session.ErrEmptyMessage) {
			m.setNotice(err.Error(), true)
		}
		return m, nil
	}
	m.input.Reset()
	m.clearNotice()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) rateLastReply(positive bool) (tea.Model, tea.Cmd) {
	msg, ok := model.LastAssistant(m.messages)
	if !ok || m.state.Busy() {
		return m, nil
	}
	if !msg.HasTrace() {
		m.setNotice("This reply cannot be rated yet", true)
		return m, nil
	}
	ctrl := m.ctrl
	id := msg.ID
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), feedbackTimeout)
		defer cancel()
		err := ctrl.SubmitFeedback(ctx, id, positive, "")
		return feedbackMsg{MessageID: id, Positive: positive, Err: err}
	}
}

func (m Model) switchCmd(id string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return switchedMsg{ID: id, Err: ctrl.SwitchSession(ctx, id)}
	}
}

// applyPendingConfig hands a reloaded configuration to the controller. It
// only runs between exchanges.
func (m *Model) applyPendingConfig() {
	cfg := m.pendingCfg
	m.pendingCfg = nil
	if cfg == nil {
		return
	}
	if cfg.Backend.AgentID != "" && cfg.Backend.AgentID != m.ctrl.AgentID() {
		m.ctrl.SetAgent(cfg.Backend.AgentID)
		m.agent = model.Agent{}
		m.setNotice("Agent changed to "+cfg.Backend.AgentID, false)
	}
	m.ctrl.SetRenderInterval(cfg.Stream.RenderInterval.Duration)
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeErr = isErr
}

func (m *Model) clearNotice() {
	m.notice = ""
	m.noticeErr = false
}

func (m *Model) updateViewport() {
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if follow || m.state.IsStreaming() {
		m.viewport.GotoBottom()
	}
}

func (m Model) hasRunningCalls() bool {
	for _, c := range m.calls {
		if !c.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// agentLabel names the agent used for the next exchange.
func (m Model) agentLabel() string {
	id := m.ctrl.AgentID()
	if m.agent.ID != "" && m.agent.ID == id {
		return m.agent.Title()
	}
	return id
}
