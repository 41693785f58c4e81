// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import "fmt"

const matrixCommandPrefix = "!slack"

// MatrixCommandPermission describes the check a Matrix command needs
// before it may run.
type MatrixCommandPermission struct {
	RequiredLevel int
	Category      string
	Subcategory   string
	SelfService   bool
}

// MatrixOutcomeKind tags what a Matrix command resolved to.
type MatrixOutcomeKind int

const (
	MatrixOutcomeIgnored MatrixOutcomeKind = iota
	MatrixOutcomeReply
	MatrixOutcomeBridge
	MatrixOutcomeUnbridge
)

// MatrixOutcome is the decision of the Matrix command handler.
type MatrixOutcome struct {
	Kind      MatrixOutcomeKind
	Reply     string
	GuildID   string
	ChannelID string
}

func matrixReply(text string) MatrixOutcome {
	return MatrixOutcome{Kind: MatrixOutcomeReply, Reply: text}
}

// MatrixCommandHandler interprets "!slack" commands sent into rooms. The
// permission check callback reads the sender's power level; it may fail
// with an error surfaced to the user.
type MatrixCommandHandler struct {
	SelfServiceEnabled bool
	ProvisioningLevel  int
}

// Handle interprets a command message. The permission check is invoked
// for commands that mutate bridges.
func (h *MatrixCommandHandler) Handle(message string, roomBridged bool, permissionCheck func(MatrixCommandPermission) (bool, error)) MatrixOutcome {
	parsed, ok := ParseCommand(matrixCommandPrefix, message)
	if !ok {
		return MatrixOutcome{Kind: MatrixOutcomeIgnored}
	}

	switch parsed.Command {
	case "help":
		topic := ""
		if len(parsed.Args) > 0 {
			topic = parsed.Args[0]
		}
		return matrixReply(renderMatrixHelp(topic))
	case "bridge":
		if reply, ok := h.ensurePermission(permissionCheck); !ok {
			return matrixReply(reply)
		}
		if roomBridged {
			return matrixReply("This room is already bridged to a Slack guild.")
		}
		guildID, channelID, ok := ParseGuildAndChannel(parsed.Args)
		if !ok {
			return matrixReply("Invalid syntax. For more information try `!slack help bridge`")
		}
		return MatrixOutcome{Kind: MatrixOutcomeBridge, GuildID: guildID, ChannelID: channelID}
	case "unbridge":
		if reply, ok := h.ensurePermission(permissionCheck); !ok {
			return matrixReply(reply)
		}
		if !roomBridged {
			return matrixReply("This room is not bridged.")
		}
		return MatrixOutcome{Kind: MatrixOutcomeUnbridge}
	default:
		return matrixReply("**ERROR:** unknown command. Try `!slack help` to see all commands")
	}
}

func (h *MatrixCommandHandler) ensurePermission(check func(MatrixCommandPermission) (bool, error)) (reply string, ok bool) {
	permission := MatrixCommandPermission{
		RequiredLevel: h.ProvisioningLevel,
		Category:      "events",
		Subcategory:   "m.room.power_levels",
		SelfService:   true,
	}
	if permission.SelfService && !h.SelfServiceEnabled {
		return "The owner of this bridge does not permit self-service bridging.", false
	}
	granted, err := check(permission)
	if err != nil {
		return fmt.Sprintf("**ERROR:** %s", err), false
	}
	if !granted {
		return "**ERROR:** insufficient permissions to use this command! " +
			"Try `!slack help` to see all available commands", false
	}
	return "", true
}

func renderMatrixHelp(topic string) string {
	switch topic {
	case "bridge":
		return "`!slack bridge <guildId> <channelId>`: Bridges this room to a Slack channel\n" +
			"Use `guild/channel` or `guild channel`."
	case "unbridge":
		return "`!slack unbridge`: Unbridges a Slack channel from this room"
	case "":
		return "Available Commands:\n" +
			" - `!slack bridge <guildId> <channelId>`: Bridges this room to a Slack channel\n" +
			" - `!slack unbridge`: Unbridges a Slack channel from this room"
	default:
		return "**ERROR:** unknown command! Try `!slack help` to see all commands"
	}
}
