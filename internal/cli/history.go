// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/storage"
	"github.com/jeranaias/agentchat/internal/util"
)

// chatRow is one line of a chat listing.
type chatRow struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AgentID   string    `json:"agent_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
	Source    string    `json:"source"`
}

const (
	sourceBackend = "backend"
	sourceCache   = "cache"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"chats"},
		Short:   "Browse and manage earlier chats",
		Long: `Browse and manage earlier chats.

Chats come from the backend. Every chat fetched in full is also kept in a
local cache, which list, show, search and clear use with --offline or when
the backend cannot be reached.`,
	}
	cmd.AddCommand(
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistorySearchCmd(a),
		newHistoryRenameCmd(a),
		newHistoryDeleteCmd(a),
		newHistoryClearCmd(a),
	)
	return cmd
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

func newHistoryListCmd(a *app) *cobra.Command {
	var offline bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chats, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return outputJSON(a.stdout, a.jsonOut, "history list", func() (any, error) {
				rows, err := a.listChats(cmd.Context(), offline, limit)
				if err != nil {
					return nil, err
				}
				if !a.jsonOut {
					a.printChatRows(rows)
				}
				return rows, nil
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "list the local cache only")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n chats")
	return cmd
}

func newHistorySearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Search cached chats by title and first message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := a.requireCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			return outputJSON(a.stdout, a.jsonOut, "history search", func() (any, error) {
				metas, err := cache.Search(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				rows := rowsFromCache(metas)
				if !a.jsonOut {
					a.printChatRows(rows)
				}
				return rows, nil
			})
		},
	}
}

// listChats lists chats from the backend, falling back to the cache.
func (a *app) listChats(ctx context.Context, offline bool, limit int) ([]chatRow, error) {
	var backendErr error
	if !offline {
		client, err := a.client()
		if err != nil {
			return nil, err
		}
		chats, err := client.ListChats(ctx)
		if err == nil {
			return truncateRows(rowsFromBackend(chats), limit), nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		backendErr = err
	}

	cache := a.cache()
	if cache == nil {
		if backendErr != nil {
			return nil, fmt.Errorf("list chats: %w", backendErr)
		}
		return nil, errors.New("the local chat cache is disabled (cache.enabled = false)")
	}
	defer cache.Close()

	metas, err := cache.List(ctx, limit)
	if err != nil {
		return nil, errors.Join(backendErr, err)
	}
	if backendErr != nil {
		a.logger.Warn("backend unavailable, listing cached chats", "err", backendErr)
		fmt.Fprintln(a.stderr, WarningStyle.Render("Backend unavailable, showing cached chats."))
	}
	return rowsFromCache(metas), nil
}

func rowsFromBackend(chats []backend.Chat) []chatRow {
	rows := make([]chatRow, 0, len(chats))
	for _, c := range chats {
		rows = append(rows, chatRow{
			ID:        c.ID,
			Title:     c.Title,
			AgentID:   c.AgentID,
			UpdatedAt: c.UpdatedAt.Time,
			Messages:  len(c.Messages),
			Source:    sourceBackend,
		})
	}
	return rows
}

func rowsFromCache(metas []storage.ChatMeta) []chatRow {
	rows := make([]chatRow, 0, len(metas))
	for _, m := range metas {
		title := m.Title
		if title == "" {
			title = m.Preview
		}
		rows = append(rows, chatRow{
			ID:        m.ID,
			Title:     title,
			AgentID:   m.AgentID,
			UpdatedAt: m.UpdatedAt,
			Messages:  m.MessageCount,
			Source:    sourceCache,
		})
	}
	return rows
}

func truncateRows(rows []chatRow, limit int) []chatRow {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func (a *app) printChatRows(rows []chatRow) {
	if len(rows) == 0 {
		fmt.Fprintln(a.stdout, DimStyle.Render("No chats."))
		return
	}

	const idWidth, ageWidth = 14, 12
	titleWidth := terminalWidth(a.stdout) - idWidth - ageWidth - 4
	if titleWidth < 20 {
		titleWidth = 20
	}

	now := time.Now()
	for _, r := range rows {
		title := util.Preview(r.Title, titleWidth)
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintln(a.stdout,
			IDStyle.Render(util.PadRight(util.Truncate(r.ID, idWidth), idWidth))+"  "+
				ValueStyle.Render(util.PadRight(title, titleWidth))+"  "+
				DimStyle.Render(util.Ago(r.UpdatedAt, now)))
	}
}

// =============================================================================
// SHOW
// =============================================================================

func newHistoryShowCmd(a *app) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return outputJSON(a.stdout, a.jsonOut, "history show", func() (any, error) {
				chat, err := a.fetchChat(cmd.Context(), args[0], offline)
				if err != nil {
					return nil, err
				}
				if !a.jsonOut {
					a.printChat(chat)
				}
				return chat, nil
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "read the local cache only")
	return cmd
}

// fetchChat loads a chat from the backend, refreshing the cache, and falls
// back to the cache when the backend fails for a reason other than the chat
// not existing.
func (a *app) fetchChat(ctx context.Context, id string, offline bool) (*backend.Chat, error) {
	cache := a.cache()
	if cache != nil {
		defer cache.Close()
	}

	var backendErr error
	if !offline {
		client, err := a.client()
		if err != nil {
			return nil, err
		}
		chat, err := client.GetChat(ctx, id)
		if err == nil {
			if cache != nil {
				if perr := cache.Put(ctx, chat); perr != nil {
					a.logger.Warn("cache write failed", "chat_id", id, "err", perr)
				}
			}
			return chat, nil
		}
		if backend.IsNotFound(err) || ctx.Err() != nil || cache == nil {
			return nil, err
		}
		backendErr = err
	}

	if cache == nil {
		return nil, errors.New("the local chat cache is disabled (cache.enabled = false)")
	}
	chat, err := cache.Get(ctx, id)
	if err != nil {
		return nil, errors.Join(backendErr, err)
	}
	if backendErr != nil {
		fmt.Fprintln(a.stderr, WarningStyle.Render("Backend unavailable, showing the cached copy."))
	}
	return chat, nil
}

func (a *app) printChat(chat *backend.Chat) {
	title := chat.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintln(a.stdout, TitleStyle.Render(title))
	fmt.Fprintln(a.stdout, RenderField("id", chat.ID))
	if chat.AgentID != "" {
		fmt.Fprintln(a.stdout, RenderField("agent", chat.AgentID))
	}
	if !chat.UpdatedAt.IsZero() {
		fmt.Fprintln(a.stdout, RenderField("updated", chat.UpdatedAt.Local().Format(time.DateTime)))
	}

	for _, msg := range chat.Transcript() {
		fmt.Fprintln(a.stdout)
		label := SuccessStyle.Render(msg.Role.DisplayName())
		if msg.Role == model.RoleAssistant {
			label = TitleStyle.Render(msg.Role.DisplayName())
		}
		if msg.TraceID != "" {
			label += " " + IDStyle.Render("trace "+msg.TraceID)
		}
		fmt.Fprintln(a.stdout, label)
		fmt.Fprintln(a.stdout, msg.Content)
	}
}

// =============================================================================
// RENAME / DELETE / CLEAR
// =============================================================================

func newHistoryRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID TITLE",
		Short: "Rename a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			return outputJSON(a.stdout, a.jsonOut, "history rename", func() (any, error) {
				chat, err := client.RenameChat(cmd.Context(), args[0], args[1])
				if err != nil {
					return nil, err
				}
				if cache := a.cache(); cache != nil {
					if perr := cache.Put(cmd.Context(), chat); perr != nil {
						a.logger.Warn("cache write failed", "chat_id", chat.ID, "err", perr)
					}
					cache.Close()
				}
				if !a.jsonOut {
					fmt.Fprintln(a.stdout, SuccessStyle.Render("Renamed")+" "+IDStyle.Render(chat.ID)+" to "+chat.Title)
				}
				return chat, nil
			})
		},
	}
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			ok, err := a.confirm("delete chat "+id, yes)
			if err != nil || !ok {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			return outputJSON(a.stdout, a.jsonOut, "history delete", func() (any, error) {
				if err := client.DeleteChat(cmd.Context(), id); err != nil {
					return nil, err
				}
				if cache := a.cache(); cache != nil {
					if err := cache.Delete(cmd.Context(), id); err != nil {
						a.logger.Warn("cache delete failed", "chat_id", id, "err", err)
					}
					cache.Close()
				}
				if !a.jsonOut {
					fmt.Fprintln(a.stdout, SuccessStyle.Render("Deleted")+" "+IDStyle.Render(id))
				}
				return map[string]string{"id": id}, nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newHistoryClearCmd(a *app) *cobra.Command {
	var yes, offline bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every chat",
		Long: `Delete every chat on the backend and in the local cache.
With --offline only the local cache is cleared.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			action := "delete all chats"
			if offline {
				action = "clear the local chat cache"
			}
			ok, err := a.confirm(action, yes)
			if err != nil || !ok {
				return err
			}
			return outputJSON(a.stdout, a.jsonOut, "history clear", func() (any, error) {
				return a.clearChats(cmd.Context(), offline)
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "clear the local cache only")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) clearChats(ctx context.Context, offline bool) (map[string]int, error) {
	result := make(map[string]int)
	if !offline {
		client, err := a.client()
		if err != nil {
			return nil, err
		}
		n, err := client.ClearChats(ctx)
		if err != nil {
			return nil, fmt.Errorf("clear chats: %w", err)
		}
		result[sourceBackend] = n
	}

	if cache := a.cache(); cache != nil {
		n, err := cache.Clear(ctx)
		cache.Close()
		if err != nil {
			return nil, err
		}
		result[sourceCache] = n
	} else if offline {
		return nil, errors.New("the local chat cache is disabled (cache.enabled = false)")
	}

	if !a.jsonOut {
		if n, ok := result[sourceBackend]; ok {
			fmt.Fprintln(a.stdout, SuccessStyle.Render("Deleted")+fmt.Sprintf(" %d chats on the backend", n))
		}
		if n, ok := result[sourceCache]; ok {
			fmt.Fprintln(a.stdout, SuccessStyle.Render("Removed")+fmt.Sprintf(" %d cached chats", n))
		}
	}
	return result, nil
}
