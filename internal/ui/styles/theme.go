// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme modes accepted by the ui.theme setting.
const (
	ModeAuto  = "auto"
	ModeDark  = "dark"
	ModeLight = "light"
	ModeNoTTY = "notty"
)

// Theme holds all the styled components for the application.
type Theme struct {
	// Terminal capabilities
	Mode         string
	IsDark       bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER & STATUS BAR
	// ==========================================================================

	Header         lipgloss.Style
	HeaderTitle    lipgloss.Style
	HeaderSubtitle lipgloss.Style
	StatusBar      lipgloss.Style
	StatusState    lipgloss.Style
	StatusHint     lipgloss.Style

	// ==========================================================================
	// TRANSCRIPT
	// ==========================================================================

	UserLabel      lipgloss.Style
	UserText       lipgloss.Style
	AssistantLabel lipgloss.Style
	ErrorMessage   lipgloss.Style
	Timestamp      lipgloss.Style
	Cursor         lipgloss.Style
	EmptyState     lipgloss.Style

	// ==========================================================================
	// FUNCTION CALLS
	// ==========================================================================

	CallRunning   lipgloss.Style
	CallCompleted lipgloss.Style
	CallFailed    lipgloss.Style

	// ==========================================================================
	// INPUT & PICKER
	// ==========================================================================

	InputContainer lipgloss.Style
	InputDisabled  lipgloss.Style
	PickerBorder   lipgloss.Style
	PickerItem     lipgloss.Style
	PickerSelected lipgloss.Style
	Notice         lipgloss.Style
}

// NewTheme creates a theme that follows the terminal's capabilities.
func NewTheme() *Theme {
	return NewThemeFor(ModeAuto)
}

// NewThemeFor creates a theme for a ui.theme mode. Unknown modes behave as
// auto. The notty mode renders without color.
func NewThemeFor(mode string) *Theme {
	mode = strings.ToLower(strings.TrimSpace(mode))
	t := &Theme{Mode: mode}

	switch mode {
	case ModeDark:
		t.IsDark = true
		t.ColorProfile = termenv.ColorProfile()
	case ModeLight:
		t.ColorProfile = termenv.ColorProfile()
	case ModeNoTTY:
		t.ColorProfile = termenv.Ascii
	default:
		t.Mode = ModeAuto
		t.IsDark = termenv.HasDarkBackground()
		t.ColorProfile = termenv.ColorProfile()
	}

	t.initStyles()
	return t
}

// Apply makes lipgloss render with this theme's profile and background.
func (t *Theme) Apply() {
	lipgloss.SetColorProfile(t.ColorProfile)
	lipgloss.SetHasDarkBackground(t.IsDark)
}

// GlamourStyle returns the glamour standard style matching the theme.
func (t *Theme) GlamourStyle() string {
	switch {
	case t.ColorProfile == termenv.Ascii:
		return "notty"
	case t.IsDark:
		return "dark"
	default:
		return "light"
	}
}

// initStyles initializes all the lip gloss styles.
func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.HeaderSubtitle = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)

	t.StatusState = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.StatusHint = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Transcript
	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.UserText = lipgloss.NewStyle().
		Foreground(TextPrimary).
		PaddingLeft(2)

	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.ErrorMessage = lipgloss.NewStyle().
		Foreground(Rose).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Rose).
		PaddingLeft(1).
		MarginLeft(2)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.Cursor = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)

	t.EmptyState = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true).
		Padding(1, 2)

	// Function calls
	t.CallRunning = lipgloss.NewStyle().Foreground(Amber)
	t.CallCompleted = lipgloss.NewStyle().Foreground(Emerald)
	t.CallFailed = lipgloss.NewStyle().Foreground(Rose)

	// Input and picker
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(0, 1)

	t.InputDisabled = t.InputContainer.
		BorderForeground(Overlay).
		Foreground(TextMuted)

	t.PickerBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Cyan).
		Padding(0, 1)

	t.PickerItem = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.PickerSelected = lipgloss.NewStyle().
		Foreground(TextPrimary).
		Background(SelectionBg).
		Bold(true)

	t.Notice = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)
