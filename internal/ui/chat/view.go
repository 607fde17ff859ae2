// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/session"
	"github.com/jeranaias/agentchat/internal/ui/styles"
	"github.com/jeranaias/agentchat/internal/util"
)

// streamingCursor trails the reply while it streams.
const streamingCursor = "▌"

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	body := m.viewport.View()
	if m.picker != nil {
		body = m.renderPicker()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderInput(),
		m.renderStatusBar(),
	)
}

// =============================================================================
// HEADER & STATUS BAR
// =============================================================================

func (m Model) renderHeader() string {
	agent := m.agentLabel()
	if agent == "" {
		agent = "no agent"
	}

	chat := "new chat"
	if m.sessionID != "" {
		chat = m.sessionID
	}

	const brand = "agentchat"
	width := m.width - 2 - util.Width(brand) - 2
	if width < 1 {
		width = 1
	}
	line := m.theme.HeaderTitle.Render(brand) + "  " +
		m.theme.HeaderSubtitle.Render(util.Truncate(agent+" | "+chat, width))
	return m.theme.Header.Width(m.width).Render(line)
}

func (m Model) renderStatusBar() string {
	state := m.theme.StatusState.Render(m.state.String())
	if m.state.Busy() {
		state = m.spinner.View() + " " + state
	}

	width := m.width - 2 - lipgloss.Width(state) - 2
	if width < 1 {
		width = 1
	}
	right := m.theme.StatusHint.Render(util.Truncate(HelpText(m.keys.ShortHelp()), width))
	if m.notice != "" {
		// Leave room for the status indicator.
		notice := util.Truncate(util.SingleLine(m.notice), max(width-5, 1))
		if m.noticeErr {
			right = styles.RenderError(notice)
		} else {
			right = styles.RenderInfo(notice)
		}
	}
	return m.theme.StatusBar.Width(m.width).Render(state + "  " + right)
}

// =============================================================================
// INPUT
// =============================================================================

func (m Model) renderInput() string {
	width := m.width - 2
	if width < 1 {
		width = 1
	}
	if m.state.IsStreaming() {
		return m.theme.InputDisabled.Width(width).Render("Waiting for the reply... (Esc to stop)")
	}
	return m.theme.InputContainer.Width(width).Render(m.input.View())
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript renders every message followed by the live function-call
// list.
func (m *Model) renderTranscript() string {
	if len(m.messages) == 0 && len(m.calls) == 0 {
		return m.renderEmptyState()
	}

	blocks := make([]string, 0, len(m.messages)+1)
	for _, msg := range m.messages {
		blocks = append(blocks, m.renderMessage(msg))
	}
	if calls := m.renderCalls(); calls != "" {
		blocks = append(blocks, calls)
	}
	return strings.Join(blocks, "\n\n")
}

func (m *Model) renderMessage(msg model.Message) string {
	if msg.Role == model.RoleUser {
		header := m.theme.UserLabel.Render(msg.Role.DisplayName()) + " " + m.renderTime(msg.Timestamp)
		return header + "\n" + m.theme.UserText.Width(m.contentWidth()).Render(msg.Content)
	}

	header := m.theme.AssistantLabel.Render(msg.Role.DisplayName()) + " " + m.renderTime(msg.Timestamp)
	if rating, ok := m.feedback[msg.ID]; ok {
		header += " " + styles.RenderStatus(rating, "rated")
	}

	switch {
	case msg.IsError:
		return header + "\n" + m.theme.ErrorMessage.Width(m.contentWidth()).Render(msg.Content)
	case msg.IsStreaming:
		return header + "\n" + m.markdown.Plain(msg.Content+m.theme.Cursor.Render(streamingCursor))
	case msg.Content == "":
		return header + "\n" + m.theme.Notice.PaddingLeft(2).Render("(no reply)")
	default:
		return header + "\n" + m.markdown.Render(msg.ID, msg.Content)
	}
}

func (m *Model) renderCalls() string {
	if len(m.calls) == 0 {
		return ""
	}
	lines := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		lines = append(lines, "  "+m.renderCall(c))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderCall(c model.FunctionCall) string {
	name := m.agent.ToolDisplayName(c.Name)
	if name == "" {
		name = c.CallID
	}
	switch c.Status {
	case model.CallCompleted:
		return m.theme.CallCompleted.Render(styles.StatusIndicators.Success + " " + name)
	case model.CallError:
		text := styles.StatusIndicators.Error + " " + name
		if c.Error != "" {
			text += ": " + util.SingleLine(c.Error)
		}
		return m.theme.CallFailed.Render(util.Truncate(text, m.contentWidth()))
	default:
		return m.spinner.View() + " " + m.theme.CallRunning.Render(name)
	}
}

func (m *Model) renderEmptyState() string {
	agent := m.agentLabel()
	text := "Start a conversation"
	if agent != "" {
		text += " with " + agent
	}
	if m.state == session.StateIdle && m.ctrl.SessionID() == "" {
		text += ".\nPress " + m.keys.OpenPicker.Help().Key + " to open an earlier chat."
	}
	return m.theme.EmptyState.Render(text)
}

func (m *Model) renderTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return m.theme.Timestamp.Render(t.Local().Format("15:04"))
}

func (m *Model) contentWidth() int {
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	return w
}

// =============================================================================
// PICKER
// =============================================================================

func (m Model) renderPicker() string {
	height := m.viewport.Height - 4
	width := m.width - 6
	if width < 20 {
		width = 20
	}

	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Open chat"))
	b.WriteString("\n")

	p := m.picker
	switch {
	case p.loading:
		b.WriteString(m.spinner.View() + " Loading chats...")
	case p.err != nil:
		b.WriteString(styles.RenderError("Could not list chats: " + p.err.Error()))
	case len(p.chats) == 0:
		b.WriteString(m.theme.Notice.Render("No chats yet"))
	default:
		start, end := p.visible(height)
		now := time.Now()
		for i := start; i < end; i++ {
			row := pickerRow(p.chats[i], now, width)
			if i == p.cursor {
				b.WriteString(m.theme.PickerSelected.Render(row))
			} else {
				b.WriteString(m.theme.PickerItem.Render(row))
			}
			if i < end-1 {
				b.WriteString("\n")
			}
		}
	}

	box := m.theme.PickerBorder.Width(width).Render(b.String())
	return lipgloss.Place(m.width, m.viewport.Height, lipgloss.Center, lipgloss.Top, box)
}

func pickerRow(c backend.Chat, now time.Time, width int) string {
	meta := " " + util.Ago(c.UpdatedAt.Time, now)
	if n := len(c.Messages); n > 0 {
		meta += fmt.Sprintf("  %d msgs", n)
	}
	titleWidth := width - util.Width(meta)
	if titleWidth < 8 {
		titleWidth = 8
	}
	return util.PadRight(util.Truncate(chatLabel(c), titleWidth), titleWidth) + meta
}

func chatLabel(c backend.Chat) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return util.SingleLine(t)
	}
	return c.ID
}
