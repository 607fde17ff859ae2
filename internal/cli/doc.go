// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the agentchat command line built on cobra.
//
// # Commands
//
//   - chat: interactive TUI bound to a session controller
//   - ask: one exchange, reply streamed to stdout
//   - history: list, show, search, rename, delete and clear chats
//   - feedback: thumbs up/down on a trace
//   - agents: list the agents the backend serves
//   - config: inspect and edit ~/.agentchat/config.toml
//
// # Usage
//
//	os.Exit(cli.Execute(cli.BuildInfo{Version: version}))
//
// Every command loads configuration once in the root PersistentPreRunE, so
// --config, --url, --agent and --log-level apply to all of them.
package cli
