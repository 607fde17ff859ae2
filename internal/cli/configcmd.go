// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				path, err := a.configPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration (token redacted)",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				fmt.Fprintln(a.stdout, a.cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:       "get KEY",
			Short:     "Print one setting",
			Args:      cobra.ExactArgs(1),
			ValidArgs: config.Keys(),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := a.cfg.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Change one setting in the configuration file",
			Long: "Change one setting in the configuration file.\n\nKeys:\n  " +
				strings.Join(config.Keys(), "\n  "),
			Args:      cobra.ExactArgs(2),
			ValidArgs: config.Keys(),
			RunE: func(_ *cobra.Command, args []string) error {
				return a.setConfig(args[0], args[1])
			},
		},
	)
	return cmd
}

// setConfig edits the file on disk, not the flag-adjusted configuration in
// a.cfg, so --url and --agent are never persisted by accident.
func (a *app) setConfig(key, value string) error {
	path, err := a.configPath()
	if err != nil {
		return err
	}
	cfg, err := config.ReadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	check := cfg.Clone()
	check.SetDefaults()
	if err := check.Validate(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render("Set")+" "+key+" in "+path)
	return nil
}
