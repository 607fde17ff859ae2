// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/backend"
)

func newFeedbackCmd(a *app) *cobra.Command {
	var rationale, sourceID string

	cmd := &cobra.Command{
		Use:   "feedback TRACE_ID up|down",
		Short: "Rate an agent reply",
		Long: `Record a thumbs up or down for the reply with the given trace id.
Trace ids are shown by 'agentchat history show'.`,
		Example: `  agentchat feedback tr-1a2b up
  agentchat feedback tr-1a2b down --rationale "cited the wrong runbook"`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			positive, err := parseRating(args[1])
			if err != nil {
				return err
			}
			if a.cfg.Backend.AgentID == "" {
				return errors.New("no agent selected; set backend.agent_id or pass --agent")
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			assessment := backend.Assessment{
				TraceID:   strings.TrimSpace(args[0]),
				AgentID:   a.cfg.Backend.AgentID,
				Name:      backend.FeedbackAssessment,
				Value:     positive,
				Rationale: strings.TrimSpace(rationale),
				SourceID:  sourceID,
			}
			return outputJSON(a.stdout, a.jsonOut, "feedback", func() (any, error) {
				if err := client.LogAssessment(cmd.Context(), assessment); err != nil {
					return nil, fmt.Errorf("log feedback: %w", err)
				}
				if !a.jsonOut {
					fmt.Fprintln(a.stdout, SuccessStyle.Render("Feedback recorded")+" for "+IDStyle.Render(assessment.TraceID))
				}
				return assessment, nil
			})
		},
	}
	cmd.Flags().StringVarP(&rationale, "rationale", "r", "", "why the reply was good or bad")
	cmd.Flags().StringVar(&sourceID, "source", "", "identifier of who gives the feedback")
	return cmd
}

func parseRating(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "+", "+1", "good", "yes":
		return true, nil
	case "down", "-", "-1", "bad", "no":
		return false, nil
	}
	return false, fmt.Errorf("rating must be up or down, got %q", s)
}
