// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"fmt"
	"strings"

	"github.com/aiku/matrix-slack-bridge/pkg/slackrt"
)

const slackCommandPrefix = "!matrix"

// ModerationAction is a Slack-initiated moderation request against a
// Matrix user.
type ModerationAction int

const (
	ActionKick ModerationAction = iota
	ActionBan
	ActionUnban
)

// Keyword returns the command verb for an action.
func (a ModerationAction) Keyword() string {
	switch a {
	case ActionBan:
		return "ban"
	case ActionUnban:
		return "unban"
	default:
		return "kick"
	}
}

// PastTense returns the verb used in moderation result replies.
func (a ModerationAction) PastTense() string {
	switch a {
	case ActionBan:
		return "Banned"
	case ActionUnban:
		return "Unbanned"
	default:
		return "Kicked"
	}
}

// SlackOutcomeKind tags what a Slack command resolved to.
type SlackOutcomeKind int

const (
	SlackOutcomeIgnored SlackOutcomeKind = iota
	SlackOutcomeReply
	SlackOutcomeApprove
	SlackOutcomeDeny
	SlackOutcomeBridge
	SlackOutcomeUnbridge
	SlackOutcomeModeration
)

// SlackOutcome is the decision of the Slack command handler. It carries
// no side effects; the bridge applies them.
type SlackOutcome struct {
	Kind       SlackOutcomeKind
	Reply      string
	Action     ModerationAction
	MatrixUser string
	GuildID    string
	ChannelID  string
}

func slackReply(text string) SlackOutcome {
	return SlackOutcome{Kind: SlackOutcomeReply, Reply: text}
}

func slackPermissionDenied() SlackOutcome {
	return slackReply("**ERROR:** insufficient permissions to use this command! " +
		"Try `!matrix help` to see all available commands")
}

// HandleSlackCommand interprets a "!matrix" command message. Permission
// checks happen here against the sender's resolved set; the caller only
// executes the returned outcome.
func HandleSlackCommand(message string, channelBridged bool, perms slackrt.PermissionSet) SlackOutcome {
	parsed, ok := ParseCommand(slackCommandPrefix, message)
	if !ok {
		return SlackOutcome{Kind: SlackOutcomeIgnored}
	}

	switch parsed.Command {
	case "help":
		topic := ""
		if len(parsed.Args) > 0 {
			topic = parsed.Args[0]
		}
		return slackReply(renderSlackHelp(topic))
	case "approve":
		if !perms.HasAll(slackrt.PermManageWebhooks) {
			return slackPermissionDenied()
		}
		return SlackOutcome{Kind: SlackOutcomeApprove}
	case "deny":
		if !perms.HasAll(slackrt.PermManageWebhooks) {
			return slackPermissionDenied()
		}
		return SlackOutcome{Kind: SlackOutcomeDeny}
	case "bridge":
		return handleSlackBridge(parsed.Args, channelBridged, perms)
	case "unbridge":
		if !perms.HasAll(slackrt.PermManageWebhooks, slackrt.PermManageChannels) {
			return slackPermissionDenied()
		}
		if !channelBridged {
			return slackReply("This channel is not bridged to a plumbed matrix room")
		}
		return SlackOutcome{Kind: SlackOutcomeUnbridge}
	case "kick":
		return handleSlackModeration(parsed.Args, perms, slackrt.PermKickMembers, ActionKick)
	case "ban":
		return handleSlackModeration(parsed.Args, perms, slackrt.PermBanMembers, ActionBan)
	case "unban":
		return handleSlackModeration(parsed.Args, perms, slackrt.PermBanMembers, ActionUnban)
	default:
		return slackReply("**ERROR:** unknown command. Try `!matrix help` to see all commands")
	}
}

func handleSlackBridge(args []string, channelBridged bool, perms slackrt.PermissionSet) SlackOutcome {
	if !perms.HasAll(slackrt.PermManageWebhooks, slackrt.PermManageChannels) {
		return slackPermissionDenied()
	}
	if channelBridged {
		return slackReply("This channel is already bridged. Use `!matrix unbridge` to remove the bridge first.")
	}
	if len(args) < 2 {
		return slackReply("**ERROR:** Invalid syntax. Usage: `!matrix bridge <guild_id> <channel_id>`")
	}
	return SlackOutcome{Kind: SlackOutcomeBridge, GuildID: args[0], ChannelID: args[1]}
}

func handleSlackModeration(args []string, perms slackrt.PermissionSet, required string, action ModerationAction) SlackOutcome {
	if !perms.HasAll(required) {
		return slackPermissionDenied()
	}
	target := strings.TrimSpace(strings.Join(args, " "))
	if target == "" {
		return slackReply(fmt.Sprintf("Invalid syntax. For more information try `!matrix help %s`", action.Keyword()))
	}
	return SlackOutcome{Kind: SlackOutcomeModeration, Action: action, MatrixUser: target}
}

func renderSlackHelp(topic string) string {
	switch topic {
	case "approve":
		return "`!matrix approve`: Approve a pending bridge request"
	case "deny":
		return "`!matrix deny`: Deny a pending bridge request"
	case "bridge":
		return "`!matrix bridge <guild_id> <channel_id>`: Bridge this channel to a Matrix room"
	case "kick":
		return "`!matrix kick <name>`: Kicks a user on the Matrix side"
	case "ban":
		return "`!matrix ban <name>`: Bans a user on the Matrix side"
	case "unban":
		return "`!matrix unban <name>`: Unbans a user on the Matrix side"
	case "unbridge":
		return "`!matrix unbridge`: Unbridge Matrix rooms from this channel"
	case "":
		return "Available Commands:\n" +
			" - `!matrix approve`: Approve a pending bridge request\n" +
			" - `!matrix deny`: Deny a pending bridge request\n" +
			" - `!matrix bridge <guild_id> <channel_id>`: Bridge this channel to a Matrix room\n" +
			" - `!matrix kick <name>`: Kicks a user on the Matrix side\n" +
			" - `!matrix ban <name>`: Bans a user on the Matrix side\n" +
			" - `!matrix unban <name>`: Unbans a user on the Matrix side\n" +
			" - `!matrix unbridge`: Unbridge Matrix rooms from this channel"
	default:
		return "**ERROR:** unknown command! Try `!matrix help` to see all commands"
	}
}
