// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import "strings"

// ParsedCommand is a prefixed chat command split into its verb and
// arguments.
type ParsedCommand struct {
	Command string
	Args    []string
}

// ParseCommand splits a prefixed command message. A bare prefix means
// help. The second return is false when the message does not carry the
// prefix at all.
func ParseCommand(prefix, message string) (*ParsedCommand, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, prefix) {
		return nil, false
	}
	remainder := strings.TrimSpace(trimmed[len(prefix):])
	if remainder == "" {
		return &ParsedCommand{Command: "help"}, true
	}
	fields := strings.Fields(remainder)
	return &ParsedCommand{Command: fields[0], Args: fields[1:]}, true
}

// ParseGuildAndChannel accepts both "guild/channel" and "guild channel"
// argument forms. An explicit second argument wins over the slash form.
func ParseGuildAndChannel(args []string) (guildID, channelID string, ok bool) {
	if len(args) == 0 {
		return "", "", false
	}
	first := args[0]
	if guild, chanFromGuild, found := strings.Cut(first, "/"); found {
		guildID = guild
		channelID = chanFromGuild
	} else {
		guildID = first
	}
	if len(args) > 1 {
		channelID = args[1]
	}
	if guildID == "" || channelID == "" {
		return "", "", false
	}
	return guildID, channelID, true
}
