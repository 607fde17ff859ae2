// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the agentchat TUI.
//
// Colors are lipgloss.AdaptiveColor values so the same palette works on light
// and dark terminals. Theme groups the styles used by the chat view and picks
// a color profile from the terminal (or from the ui.theme setting).
//
// Status helpers always pair a color with an ASCII indicator:
//
//	styles.RenderSuccess("Feedback recorded")  // [OK] Feedback recorded
//	styles.RenderError("Chat not found")       // [X] Chat not found
package styles
