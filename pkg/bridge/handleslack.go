// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/format/matrixfmt"
	"github.com/aiku/matrix-slack-bridge/pkg/slackrt"
	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

var _ slackrt.EventSink = (*Bridge)(nil)

// slackMessageKey builds the store key for a Slack message. Timestamps
// are only unique per channel.
func slackMessageKey(channelID, ts string) string {
	return channelID + "/" + ts
}

// slackReactionKey builds the store key for a mirrored reaction, so the
// matching Matrix annotation can be redacted when the reaction is
// removed.
func slackReactionKey(channelID, ts, userID, name string) string {
	return channelID + "/" + ts + "/reaction/" + userID + "/" + name
}

// HandleSlackMessage relays an inbound channel message, routing "!matrix"
// commands to the command handler first.
func (b *Bridge) HandleSlackMessage(ctx context.Context, msg *slackrt.MessageContext) {
	b.metrics.SlackEvents.WithLabelValues("message").Inc()

	if strings.HasPrefix(strings.TrimSpace(matrixfmt.Normalize(msg.Content)), slackCommandPrefix) {
		b.handleSlackCommandMessage(ctx, msg)
		return
	}

	mapping, err := b.roomBySlackChannel(ctx, msg.ChannelID)
	if err != nil {
		b.metrics.DroppedEvents.WithLabelValues("unbridged_channel").Inc()
		return
	}
	if _, err = b.ensureGhostUser(ctx, msg.SenderID); err != nil {
		if errors.Is(err, ErrUserLimitReached) {
			b.metrics.DroppedEvents.WithLabelValues("user_limit").Inc()
		} else {
			b.log.Warn().Err(err).Str("slack_user_id", msg.SenderID).Msg("Failed to materialize ghost")
		}
		return
	}

	parsed := matrixfmt.Parse(msg.Content)
	out := &OutboundMatrixMessage{Body: parsed.Body, Attachments: msg.Attachments}

	// Relations resolve through the message mapping table; unresolvable
	// ones degrade to textual markers in the body.
	var replyTo, editTarget id.EventID
	if msg.ReplyTo != "" {
		if m, err := b.db.MessageBySlackID(ctx, slackMessageKey(msg.ChannelID, msg.ReplyTo)); err == nil {
			replyTo = id.EventID(m.MatrixEventID)
		} else {
			out.ReplyTo = msg.ReplyTo
		}
	}
	if msg.EditOf != "" {
		if m, err := b.db.MessageBySlackID(ctx, slackMessageKey(msg.ChannelID, msg.EditOf)); err == nil {
			editTarget = id.EventID(m.MatrixEventID)
		} else {
			out.EditOf = msg.EditOf
		}
	}

	body := out.RenderBody()
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: body}
	if parsed.Format != "" && body == parsed.Body {
		content.Format = parsed.Format
		content.FormattedBody = parsed.FormattedBody
	}
	if replyTo != "" {
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: replyTo}}
	}
	if editTarget != "" {
		content = &event.MessageEventContent{
			MsgType:    event.MsgText,
			Body:       "* " + body,
			NewContent: content,
			RelatesTo:  &event.RelatesTo{Type: event.RelReplace, EventID: editTarget},
		}
	}

	// The store key follows the original timestamp, so an edit moves the
	// existing row to the new Matrix event.
	storeKey := slackMessageKey(msg.ChannelID, msg.SourceMessageID)
	if msg.EditOf != "" {
		storeKey = slackMessageKey(msg.ChannelID, msg.EditOf)
	}

	roomID := id.RoomID(mapping.MatrixRoomID)
	senderID := msg.SenderID
	b.queue.Enqueue(mapping.MatrixRoomID, func() {
		sendCtx := context.Background()
		eventID, err := b.mx.SendGhostMessage(sendCtx, senderID, roomID, content)
		if err != nil {
			b.log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to relay Slack message")
			b.metrics.DroppedEvents.WithLabelValues("matrix_send_failed").Inc()
			return
		}
		err = b.db.UpsertMessage(sendCtx, &store.MessageMapping{
			SlackMessageID: storeKey,
			MatrixRoomID:   roomID.String(),
			MatrixEventID:  eventID.String(),
		})
		if err != nil {
			b.log.Warn().Err(err).Msg("Failed to persist message mapping")
		}
		b.metrics.MessagesForwarded.WithLabelValues("slack_to_matrix").Inc()
	})
}

func (b *Bridge) handleSlackCommandMessage(ctx context.Context, msg *slackrt.MessageContext) {
	mapping, mapErr := b.roomBySlackChannel(ctx, msg.ChannelID)
	bridged := mapErr == nil

	outcome := HandleSlackCommand(matrixfmt.Normalize(msg.Content), bridged, msg.Permissions)
	b.applySlackOutcome(ctx, outcome, msg, mapping)
}

func (b *Bridge) applySlackOutcome(ctx context.Context, outcome SlackOutcome, msg *slackrt.MessageContext, mapping *store.RoomMapping) {
	reply := ""
	switch outcome.Kind {
	case SlackOutcomeIgnored:
		return
	case SlackOutcomeReply:
		reply = outcome.Reply
	case SlackOutcomeApprove:
		if b.prov.Resolve(msg.ChannelID, true) == ResolveApplied {
			reply = "Thanks for your response! The matrix bridge has been approved."
		} else {
			reply = "Thanks for your response, however it has arrived after the deadline - sorry!"
		}
	case SlackOutcomeDeny:
		if b.prov.Resolve(msg.ChannelID, false) == ResolveApplied {
			reply = "Thanks for your response! The matrix bridge has been declined."
		} else {
			reply = "Thanks for your response, however it has arrived after the deadline - sorry!"
		}
	case SlackOutcomeModeration:
		if mapping == nil {
			reply = "This channel is not bridged to a plumbed matrix room"
			break
		}
		applied, failed := b.moderateUser(ctx, outcome.Action, id.UserID(outcome.MatrixUser), mapping, msg.SenderID, msg.ChannelID)
		reply = moderationReply(outcome.Action, outcome.MatrixUser, applied, failed)
	case SlackOutcomeUnbridge:
		if mapping == nil {
			reply = "This channel is not bridged to a plumbed matrix room"
			break
		}
		if err := b.db.DeleteRoomBySlackChannel(ctx, msg.ChannelID); err != nil {
			b.log.Error().Err(err).Msg("Failed to delete room mapping")
			break
		}
		b.uncacheRoom(mapping)
		b.metrics.BridgedRooms.Dec()
		reply = "This channel has been unbridged"
	case SlackOutcomeBridge:
		reply = b.requestBridgeSlackChannel(ctx, outcome.GuildID, outcome.ChannelID)
	}

	if reply == "" {
		return
	}
	if _, err := b.slack.SendMessage(ctx, msg.ChannelID, reply); err != nil {
		b.log.Warn().Err(err).Str("channel_id", msg.ChannelID).Msg("Failed to send command reply")
	}
}

// HandleSlackMessageDeleted mirrors a deletion as a redaction.
func (b *Bridge) HandleSlackMessageDeleted(ctx context.Context, channelID, messageTS string) {
	b.metrics.SlackEvents.WithLabelValues("message_deleted").Inc()

	mapping, err := b.roomBySlackChannel(ctx, channelID)
	if err != nil {
		return
	}
	key := slackMessageKey(channelID, messageTS)
	m, err := b.db.MessageBySlackID(ctx, key)
	if err != nil {
		return
	}
	err = b.mx.RedactAsGhost(ctx, "", id.RoomID(mapping.MatrixRoomID), id.EventID(m.MatrixEventID), redactReason)
	if err != nil {
		b.log.Warn().Err(err).Str("event_id", m.MatrixEventID).Msg("Failed to redact deleted message")
		return
	}
	if err = b.db.DeleteMessageBySlackID(ctx, key); err != nil {
		b.log.Warn().Err(err).Msg("Failed to delete message mapping")
	}
}

// HandleSlackReaction mirrors reaction adds and removals.
func (b *Bridge) HandleSlackReaction(ctx context.Context, reaction *slackrt.ReactionEvent) {
	b.metrics.SlackEvents.WithLabelValues("reaction").Inc()

	mapping, err := b.roomBySlackChannel(ctx, reaction.ChannelID)
	if err != nil {
		return
	}
	target, err := b.db.MessageBySlackID(ctx, slackMessageKey(reaction.ChannelID, reaction.MessageTS))
	if err != nil {
		return
	}
	roomID := id.RoomID(mapping.MatrixRoomID)
	reactionKey := slackReactionKey(reaction.ChannelID, reaction.MessageTS, reaction.UserID, reaction.Name)

	if reaction.Added {
		if _, err = b.ensureGhostUser(ctx, reaction.UserID); err != nil {
			return
		}
		key := ":" + reaction.Name + ":"
		if mxc, ok := b.customEmojiKey(ctx, reaction.Name); ok {
			key = mxc
		}
		eventID, err := b.mx.ReactAsGhost(ctx, reaction.UserID, roomID, id.EventID(target.MatrixEventID), key)
		if err != nil {
			b.log.Warn().Err(err).Msg("Failed to relay reaction")
			return
		}
		err = b.db.UpsertMessage(ctx, &store.MessageMapping{
			SlackMessageID: reactionKey,
			MatrixRoomID:   roomID.String(),
			MatrixEventID:  eventID.String(),
		})
		if err != nil {
			b.log.Warn().Err(err).Msg("Failed to persist reaction mapping")
		}
		return
	}

	annotation, err := b.db.MessageBySlackID(ctx, reactionKey)
	if err != nil {
		return
	}
	if err = b.mx.RedactAsGhost(ctx, reaction.UserID, roomID, id.EventID(annotation.MatrixEventID), ""); err != nil {
		b.log.Warn().Err(err).Msg("Failed to remove relayed reaction")
		return
	}
	if err = b.db.DeleteMessageBySlackID(ctx, reactionKey); err != nil {
		b.log.Warn().Err(err).Msg("Failed to delete reaction mapping")
	}
}

// HandleSlackTyping lights the ghost's typing indicator.
func (b *Bridge) HandleSlackTyping(ctx context.Context, channelID, userID string) {
	if b.cfg.Bridge.DisableTyping {
		return
	}
	mapping, err := b.roomBySlackChannel(ctx, channelID)
	if err != nil {
		return
	}
	if _, err = b.ensureGhostUser(ctx, userID); err != nil {
		return
	}
	err = b.mx.GhostTyping(ctx, userID, id.RoomID(mapping.MatrixRoomID), true, typingTimeout)
	if err != nil {
		b.log.Debug().Err(err).Msg("Failed to relay typing")
	}
}

// HandleSlackUserChange resyncs the ghost profile of a known user.
func (b *Bridge) HandleSlackUserChange(ctx context.Context, user *slackrt.UserInfo) {
	b.metrics.SlackEvents.WithLabelValues("user_change").Inc()
	if _, err := b.db.UserBySlackID(ctx, user.ID); err != nil {
		return
	}
	b.syncGhostProfile(ctx, user)
}

// HandleSlackMemberJoined invites the member's ghost into the mapped
// room.
func (b *Bridge) HandleSlackMemberJoined(ctx context.Context, channelID, userID string) {
	b.metrics.SlackEvents.WithLabelValues("member_joined").Inc()
	mapping, err := b.roomBySlackChannel(ctx, channelID)
	if err != nil {
		return
	}
	if _, err = b.ensureGhostUser(ctx, userID); err != nil {
		return
	}
	if err = b.mx.InviteGhost(ctx, userID, id.RoomID(mapping.MatrixRoomID)); err != nil {
		b.log.Warn().Err(err).Str("slack_user_id", userID).Msg("Failed to join ghost to room")
	}
}

// HandleSlackMemberLeft removes the member's ghost from the mapped room.
func (b *Bridge) HandleSlackMemberLeft(ctx context.Context, channelID, userID string) {
	b.metrics.SlackEvents.WithLabelValues("member_left").Inc()
	mapping, err := b.roomBySlackChannel(ctx, channelID)
	if err != nil {
		return
	}
	_ = b.mx.GhostLeave(ctx, userID, id.RoomID(mapping.MatrixRoomID))
}

// HandleSlackChannelRenamed mirrors the rename into the room name,
// writing only when the rendered name actually changed.
func (b *Bridge) HandleSlackChannelRenamed(ctx context.Context, channelID, name string) {
	b.metrics.SlackEvents.WithLabelValues("channel_rename").Inc()
	mapping, err := b.roomBySlackChannel(ctx, channelID)
	if err != nil {
		return
	}
	roomID := id.RoomID(mapping.MatrixRoomID)
	rendered := b.channelRoomName(name)

	current, err := b.mx.RoomName(ctx, roomID)
	if err == nil && current == rendered {
		return
	}
	if err = b.mx.SetRoomName(ctx, roomID, rendered); err != nil {
		b.log.Warn().Err(err).Str("room_id", mapping.MatrixRoomID).Msg("Failed to update room name")
		return
	}

	mapping.SlackChannelName = name
	if err = b.db.UpdateRoom(ctx, mapping); err != nil {
		b.log.Warn().Err(err).Msg("Failed to persist channel rename")
	}
	b.cacheRoom(mapping)
}

// HandleSlackChannelDeleted tears the bridge down when the channel goes
// away.
func (b *Bridge) HandleSlackChannelDeleted(ctx context.Context, channelID string) {
	b.metrics.SlackEvents.WithLabelValues("channel_deleted").Inc()
	mapping, err := b.roomBySlackChannel(ctx, channelID)
	if err != nil {
		return
	}
	roomID := id.RoomID(mapping.MatrixRoomID)
	if _, err = b.mx.SendNotice(ctx, roomID, unbridgedNotice); err != nil {
		b.log.Warn().Err(err).Str("room_id", mapping.MatrixRoomID).Msg("Failed to send unbridge notice")
	}
	if err = b.db.DeleteRoomBySlackChannel(ctx, channelID); err != nil {
		b.log.Error().Err(err).Msg("Failed to delete room mapping")
		return
	}
	b.uncacheRoom(mapping)
	b.metrics.BridgedRooms.Dec()
	b.log.Info().Str("channel_id", channelID).Msg("Channel deleted, bridge removed")
}

// HandleSlackChannelMarked mirrors a read marker as a ghost read receipt.
func (b *Bridge) HandleSlackChannelMarked(ctx context.Context, channelID, userID, messageTS string) {
	mapping, err := b.roomBySlackChannel(ctx, channelID)
	if err != nil {
		return
	}
	m, err := b.db.MessageBySlackID(ctx, slackMessageKey(channelID, messageTS))
	if err != nil {
		return
	}
	if _, err = b.ensureGhostUser(ctx, userID); err != nil {
		return
	}
	err = b.mx.GhostMarkRead(ctx, userID, id.RoomID(mapping.MatrixRoomID), id.EventID(m.MatrixEventID))
	if err != nil {
		b.log.Debug().Err(err).Msg("Failed to relay read receipt")
	}
}

// HandleSlackTeamJoin materializes a ghost for the new workspace member
// and invites it into every room bridged from the workspace.
func (b *Bridge) HandleSlackTeamJoin(ctx context.Context, user *slackrt.UserInfo) {
	b.metrics.SlackEvents.WithLabelValues("team_join").Inc()
	if user.IsBot {
		return
	}
	if _, err := b.ensureGhostUser(ctx, user.ID); err != nil {
		if !errors.Is(err, ErrUserLimitReached) {
			b.log.Warn().Err(err).Str("slack_user_id", user.ID).Msg("Failed to create ghost for new member")
		}
		return
	}
	rooms, err := b.db.RoomsByTeam(ctx, b.slack.TeamID())
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to list bridged rooms for new member")
		return
	}
	for _, mapping := range rooms {
		if err := b.mx.InviteGhost(ctx, user.ID, id.RoomID(mapping.MatrixRoomID)); err != nil {
			b.log.Warn().Err(err).Str("room_id", mapping.MatrixRoomID).Msg("Failed to invite new member's ghost")
		}
	}
}

// HandleSlackTeamMemberRemoved removes the departed member's ghost from
// every room it joined and forgets the user mapping.
func (b *Bridge) HandleSlackTeamMemberRemoved(ctx context.Context, userID, teamID string) {
	b.metrics.SlackEvents.WithLabelValues("team_member_removed").Inc()
	rooms, err := b.db.RoomsByTeam(ctx, teamID)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to list bridged rooms for departed member")
		return
	}
	ghost := b.mx.Namespace().GhostMXID(userID)
	for _, mapping := range rooms {
		roomID := id.RoomID(mapping.MatrixRoomID)
		members, err := b.mx.JoinedMembers(ctx, roomID)
		if err != nil {
			b.log.Debug().Err(err).Str("room_id", mapping.MatrixRoomID).Msg("Failed to list room members")
			continue
		}
		for _, member := range members {
			if member == ghost {
				_ = b.mx.GhostLeave(ctx, userID, roomID)
				break
			}
		}
	}
	if err := b.db.DeleteUserBySlackID(ctx, userID); err != nil {
		b.log.Warn().Err(err).Str("slack_user_id", userID).Msg("Failed to delete user mapping")
	}
	b.log.Info().Str("slack_user_id", userID).Msg("Workspace member removed, ghost retired")
}

// HandleSlackTeamDelete tears down every bridge in the workspace, used
// when the app is uninstalled.
func (b *Bridge) HandleSlackTeamDelete(ctx context.Context, teamID string) {
	b.metrics.SlackEvents.WithLabelValues("team_delete").Inc()
	rooms, err := b.db.RoomsByTeam(ctx, teamID)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to list bridged rooms for workspace teardown")
		return
	}
	for _, mapping := range rooms {
		roomID := id.RoomID(mapping.MatrixRoomID)
		if _, err := b.mx.SendNotice(ctx, roomID, unbridgedNotice); err != nil {
			b.log.Warn().Err(err).Str("room_id", mapping.MatrixRoomID).Msg("Failed to send unbridge notice")
		}
		if err := b.db.DeleteRoomBySlackChannel(ctx, mapping.SlackChannelID); err != nil {
			b.log.Error().Err(err).Str("channel_id", mapping.SlackChannelID).Msg("Failed to delete room mapping")
			continue
		}
		b.uncacheRoom(mapping)
		b.metrics.BridgedRooms.Dec()
	}
	b.log.Info().Str("team_id", teamID).Int("rooms", len(rooms)).Msg("Workspace deleted, bridges removed")
}

// HandleSlackPresenceChange enqueues a coalesced presence update. The
// bridge's own identity is never tracked.
func (b *Bridge) HandleSlackPresenceChange(ctx context.Context, userID, presence string) {
	if b.cfg.Bridge.DisablePresence || userID == b.slack.BotUserID() {
		return
	}
	status := StatusOnline
	switch presence {
	case "away":
		status = StatusIdle
	case "offline":
		status = StatusOffline
	}
	b.presence.Enqueue(PresenceUpdate{UserID: userID, Status: status})
}
