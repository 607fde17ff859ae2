// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// AGENT INFO
// =============================================================================

// Agent describes a backend agent endpoint that exchanges can be sent to.
type Agent struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	EndpointName       string      `json:"endpoint_name"`
	DisplayName        string      `json:"display_name"`
	DisplayDescription string      `json:"display_description,omitempty"`
	Status             string      `json:"status,omitempty"`
	Error              string      `json:"error,omitempty"`
	Tools              []AgentTool `json:"tools,omitempty"`
}

// AgentTool is a tool the agent may call during an exchange.
type AgentTool struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Title returns the best human-readable name for the agent.
func (a Agent) Title() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Available reports whether the backend could load the agent.
func (a Agent) Available() bool {
	return a.Error == "" && !strings.EqualFold(a.Status, "ERROR")
}

// ToolNames returns the display names of the agent's tools.
func (a Agent) ToolNames() []string {
	names := make([]string, 0, len(a.Tools))
	for _, tool := range a.Tools {
		if tool.DisplayName != "" {
			names = append(names, tool.DisplayName)
		} else {
			names = append(names, tool.Name)
		}
	}
	return names
}

// ToolDisplayName returns a friendly label for a function name, falling back
// to the raw name.
func (a Agent) ToolDisplayName(name string) string {
	for _, tool := range a.Tools {
		if tool.Name == name && tool.DisplayName != "" {
			return tool.DisplayName
		}
	}
	return name
}
