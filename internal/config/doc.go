// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for agentchat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (AGENTCHAT_*)
//   - ~/.agentchat/config.toml (or --config)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := backend.New(cfg.Backend.BaseURL)
//
// Watch reloads the file on change:
//
//	err := config.Watch(ctx, path, logger, func(cfg *config.Config) { ... })
package config
