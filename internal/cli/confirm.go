// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
)

// confirm asks before a destructive action.
//
//  1. --yes proceeds without prompting
//  2. --json and non-interactive stdin require --yes
//  3. otherwise the user is prompted and must answer y or yes
func (a *app) confirm(action string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}
	if a.jsonOut || !isTerminal(a.stdin) {
		return false, fmt.Errorf("refusing to %s without --yes", action)
	}

	fmt.Fprintf(a.stderr, "%s %s? [y/N] ", WarningStyle.Render("Really"), action)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, errors.New("no answer")
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
