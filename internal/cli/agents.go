// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
)

// agentLookupTimeout bounds the agent lookup done before the TUI starts.
const agentLookupTimeout = 5 * time.Second

func newAgentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents served by the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			return outputJSON(a.stdout, a.jsonOut, "agents", func() (any, error) {
				agents, err := client.ListAgents(cmd.Context())
				if err != nil {
					return nil, fmt.Errorf("list agents: %w", err)
				}
				if !a.jsonOut {
					a.printAgents(agents)
				}
				return agents, nil
			})
		},
	}
}

func (a *app) printAgents(agents []model.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(a.stdout, DimStyle.Render("No agents configured on the backend."))
		return
	}
	selected := a.cfg.Backend.AgentID
	for _, ag := range agents {
		marker := "  "
		if ag.ID == selected {
			marker = SuccessStyle.Render("* ")
		}
		line := marker + TitleStyle.Render(ag.Title()) + " " + IDStyle.Render(ag.ID)
		if !ag.Available() {
			reason := ag.Error
			if reason == "" {
				reason = ag.Status
			}
			line += " " + ErrorStyle.Render("unavailable: "+reason)
		}
		fmt.Fprintln(a.stdout, line)
		if ag.DisplayDescription != "" {
			fmt.Fprintln(a.stdout, "    "+ValueStyle.Render(ag.DisplayDescription))
		}
		if tools := ag.ToolNames(); len(tools) > 0 {
			fmt.Fprintln(a.stdout, "    "+DimStyle.Render("tools: "+strings.Join(tools, ", ")))
		}
	}
}

// lookupAgent finds the agent with id. Lookup failures return an agent that
// only carries the id.
func (a *app) lookupAgent(ctx context.Context, client *backend.Client, id string) model.Agent {
	if id == "" {
		return model.Agent{}
	}
	ctx, cancel := context.WithTimeout(ctx, agentLookupTimeout)
	defer cancel()
	agents, err := client.ListAgents(ctx)
	if err != nil {
		a.logger.Debug("agent lookup failed", "agent_id", id, "err", err)
		return model.Agent{ID: id}
	}
	for _, ag := range agents {
		if ag.ID == id {
			return ag
		}
	}
	a.logger.Warn("configured agent not served by backend", "agent_id", id)
	return model.Agent{ID: id}
}
