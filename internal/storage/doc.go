// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local cache of canonical chat records.
//
// Every chat record fetched from the backend during reconciliation is written
// through to a SQLite database, so that history can be browsed and a session
// can be opened read-only while the backend is unreachable.
//
// # Key Types
//
//   - ChatCache: SQLite-backed store of backend.Chat records
//   - ChatMeta: Lightweight metadata for listing
//
// # Usage
//
//	cache, err := storage.OpenChatCache(path)
//	defer cache.Close()
//	err = cache.Put(ctx, chat)
//	chat, err := cache.Get(ctx, "c1")
//	metas, err := cache.List(ctx, 20)
//
// # Storage Location
//
// The database lives at ~/.agentchat/cache.db unless configured otherwise.
package storage
