// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

// splitMessageKey splits a plain message mapping key into channel and
// timestamp. Reaction keys carry extra segments and are rejected.
func splitMessageKey(key string) (channelID, ts string, ok bool) {
	channelID, ts, ok = strings.Cut(key, "/")
	if !ok || strings.Contains(ts, "/") {
		return "", "", false
	}
	return channelID, ts, true
}

// parseReactionMappingKey decomposes a reaction mapping key. The user
// segment may itself contain slashes, so the emoji name is taken from the
// end.
func parseReactionMappingKey(key string) (channelID, ts, name string, ok bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[2] != "reaction" {
		return "", "", "", false
	}
	idx := strings.LastIndex(parts[3], "/")
	if idx < 0 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[3][idx+1:], true
}

// isStale reports whether a Matrix event is older than the configured age
// limit. Stale events show up after downtime when the homeserver replays
// its transaction backlog.
func (b *Bridge) isStale(evt *event.Event) bool {
	limit := int64(b.cfg.Limits.MatrixEventAgeLimitMS)
	if limit <= 0 {
		return false
	}
	return b.clock.Now().UnixMilli()-evt.Timestamp > limit
}

type senderProfile struct {
	Name   string
	Avatar string
}

// matrixSenderProfile resolves the display identity used for
// custom-identity Slack sends, cached per sender.
func (b *Bridge) matrixSenderProfile(ctx context.Context, userID id.UserID) (name, avatar string) {
	if profile, ok := b.senderProfiles.Get(userID.String()); ok {
		return profile.Name, profile.Avatar
	}
	name, avatar, err := b.mx.UserProfile(ctx, userID)
	if err != nil {
		b.log.Debug().Err(err).Str("user_id", userID.String()).Msg("Profile lookup failed")
	}
	if name == "" {
		localpart, _, perr := userID.Parse()
		if perr != nil || localpart == "" {
			localpart = userID.String()
		}
		name = localpart
	}
	b.senderProfiles.Set(userID.String(), &senderProfile{Name: name, Avatar: avatar})
	return name, avatar
}

// HandleMatrixMessage relays an m.room.message event into Slack, routing
// "!slack" commands to the command handler first.
func (b *Bridge) HandleMatrixMessage(ctx context.Context, evt *event.Event) {
	b.metrics.MatrixEvents.WithLabelValues("message").Inc()

	if b.mx.Namespace().IsBridgeUser(evt.Sender) {
		return
	}
	if b.isStale(evt) {
		b.metrics.DroppedEvents.WithLabelValues("stale").Inc()
		return
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return
	}

	if content.MsgType == event.MsgText &&
		strings.HasPrefix(strings.TrimSpace(content.Body), matrixCommandPrefix) {
		b.handleMatrixCommandMessage(ctx, evt, content)
		return
	}

	mapping, err := b.roomByMatrixID(ctx, evt.RoomID)
	if err != nil {
		b.metrics.DroppedEvents.WithLabelValues("unbridged_room").Inc()
		return
	}
	channelID := mapping.SlackChannelID
	senderName, senderAvatar := b.matrixSenderProfile(ctx, evt.Sender)

	switch {
	case evt.Type == event.EventSticker,
		content.MsgType == event.MsgImage,
		content.MsgType == event.MsgFile,
		content.MsgType == event.MsgVideo,
		content.MsgType == event.MsgAudio:
		b.queue.Enqueue(channelID, func() {
			err := b.relayAttachmentToSlack(context.Background(), channelID, content, senderName)
			if err != nil {
				b.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to relay attachment")
				b.metrics.DroppedEvents.WithLabelValues("slack_send_failed").Inc()
				return
			}
			b.metrics.MessagesForwarded.WithLabelValues("matrix_to_slack").Inc()
		})
		return
	}

	body, replyTo, editOf := ParseMatrixMessage(content)
	out := &OutboundSlackMessage{Content: body}

	// Relations resolve to Slack timestamps when the target is mapped;
	// unresolvable ones degrade to textual markers.
	var threadTS, editTS string
	if replyTo != "" {
		if row, rerr := b.db.MessageByMatrixEventID(ctx, replyTo.String()); rerr == nil {
			if ch, ts, ok := splitMessageKey(row.SlackMessageID); ok && ch == channelID {
				threadTS = ts
			}
		}
		if threadTS == "" {
			out.ReplyTo = replyTo.String()
		}
	}
	if editOf != "" {
		if row, rerr := b.db.MessageByMatrixEventID(ctx, editOf.String()); rerr == nil {
			if ch, ts, ok := splitMessageKey(row.SlackMessageID); ok && ch == channelID {
				editTS = ts
			}
		}
		if editTS == "" {
			out.EditOf = editOf.String()
		}
	}
	text := out.RenderContent()

	eventID := evt.ID
	b.queue.Enqueue(channelID, func() {
		sendCtx := context.Background()
		start := b.clock.Now()
		defer func() {
			b.metrics.SendDuration.Observe(b.clock.Since(start).Seconds())
		}()

		storeKey := ""
		if editTS != "" {
			if err := b.slack.UpdateMessage(sendCtx, channelID, editTS, text); err != nil {
				b.log.Error().Err(err).Str("channel_id", channelID).Msg("Failed to update Slack message")
				b.metrics.DroppedEvents.WithLabelValues("slack_send_failed").Inc()
				return
			}
			storeKey = slackMessageKey(channelID, editTS)
		} else {
			ts, err := b.slack.SendMessageAsUser(sendCtx, channelID, text, threadTS, senderName, senderAvatar)
			if err != nil {
				b.log.Error().Err(err).Str("channel_id", channelID).Msg("Failed to relay Matrix message")
				b.metrics.DroppedEvents.WithLabelValues("slack_send_failed").Inc()
				return
			}
			storeKey = slackMessageKey(channelID, ts)
		}
		err := b.db.UpsertMessage(sendCtx, &store.MessageMapping{
			SlackMessageID: storeKey,
			MatrixRoomID:   evt.RoomID.String(),
			MatrixEventID:  eventID.String(),
		})
		if err != nil {
			b.log.Warn().Err(err).Msg("Failed to persist message mapping")
		}
		b.metrics.MessagesForwarded.WithLabelValues("matrix_to_slack").Inc()
	})
}

func (b *Bridge) handleMatrixCommandMessage(ctx context.Context, evt *event.Event, content *event.MessageEventContent) {
	_, err := b.roomByMatrixID(ctx, evt.RoomID)
	roomBridged := err == nil

	handler := &MatrixCommandHandler{
		SelfServiceEnabled: b.cfg.Bridge.EnableSelfServiceBridging,
		ProvisioningLevel:  b.cfg.Bridge.ProvisioningLevel(),
	}
	outcome := handler.Handle(content.Body, roomBridged, func(p MatrixCommandPermission) (bool, error) {
		level, err := b.mx.UserPowerLevel(ctx, evt.RoomID, evt.Sender)
		if err != nil {
			return false, err
		}
		return level >= p.RequiredLevel, nil
	})

	switch outcome.Kind {
	case MatrixOutcomeIgnored:
		return
	case MatrixOutcomeReply:
		b.sendRoomNotice(ctx, evt.RoomID, outcome.Reply)
	case MatrixOutcomeBridge:
		// Approval can take minutes; don't hold up the event loop.
		roomID, sender := evt.RoomID, evt.Sender
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			reply := b.requestBridgeMatrixRoom(ctx, roomID, sender, outcome.GuildID, outcome.ChannelID)
			b.sendRoomNotice(ctx, roomID, reply)
		}()
	case MatrixOutcomeUnbridge:
		b.sendRoomNotice(ctx, evt.RoomID, b.unbridgeMatrixRoom(ctx, evt.RoomID))
	}
}

func (b *Bridge) sendRoomNotice(ctx context.Context, roomID id.RoomID, text string) {
	if text == "" {
		return
	}
	if _, err := b.mx.SendNotice(ctx, roomID, text); err != nil {
		b.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to send notice")
	}
}

// HandleMatrixRedaction mirrors a redaction as a Slack delete, or a
// reaction removal when the redacted event was a mirrored annotation.
func (b *Bridge) HandleMatrixRedaction(ctx context.Context, evt *event.Event) {
	b.metrics.MatrixEvents.WithLabelValues("redaction").Inc()

	if b.mx.Namespace().IsBridgeUser(evt.Sender) {
		return
	}
	if b.isStale(evt) || evt.Redacts == "" {
		return
	}
	if _, err := b.roomByMatrixID(ctx, evt.RoomID); err != nil {
		return
	}
	row, err := b.db.MessageByMatrixEventID(ctx, evt.Redacts.String())
	if err != nil {
		return
	}

	if channelID, ts, name, ok := parseReactionMappingKey(row.SlackMessageID); ok {
		if err = b.slack.RemoveReaction(ctx, channelID, ts, name); err != nil {
			b.log.Warn().Err(err).Msg("Failed to remove Slack reaction")
			return
		}
		_ = b.db.DeleteMessageBySlackID(ctx, row.SlackMessageID)
		return
	}

	channelID, ts, ok := splitMessageKey(row.SlackMessageID)
	if !ok {
		return
	}
	if err = b.slack.DeleteMessage(ctx, channelID, ts); err != nil {
		b.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to delete Slack message")
		return
	}
	if err = b.db.DeleteMessageBySlackID(ctx, row.SlackMessageID); err != nil {
		b.log.Warn().Err(err).Msg("Failed to delete message mapping")
	}
}

// HandleMatrixReaction mirrors an m.reaction annotation into Slack.
func (b *Bridge) HandleMatrixReaction(ctx context.Context, evt *event.Event) {
	b.metrics.MatrixEvents.WithLabelValues("reaction").Inc()

	if b.mx.Namespace().IsBridgeUser(evt.Sender) {
		return
	}
	if b.isStale(evt) {
		return
	}
	if _, err := b.roomByMatrixID(ctx, evt.RoomID); err != nil {
		return
	}
	content := evt.Content.AsReaction()
	if content == nil || content.RelatesTo.Type != event.RelAnnotation {
		return
	}
	target, err := b.db.MessageByMatrixEventID(ctx, content.RelatesTo.EventID.String())
	if err != nil {
		return
	}
	channelID, ts, ok := splitMessageKey(target.SlackMessageID)
	if !ok {
		return
	}

	name := strings.Trim(content.RelatesTo.Key, ":")
	if name == "" {
		return
	}
	if err = b.slack.AddReaction(ctx, channelID, ts, name); err != nil {
		b.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to relay reaction")
		return
	}
	err = b.db.UpsertMessage(ctx, &store.MessageMapping{
		SlackMessageID: slackReactionKey(channelID, ts, evt.Sender.String(), name),
		MatrixRoomID:   evt.RoomID.String(),
		MatrixEventID:  evt.ID.String(),
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to persist reaction mapping")
	}
}

// HandleMatrixMembership joins the bot when it is invited to a room and
// reports ghost kicks and bans back into the Slack channel.
func (b *Bridge) HandleMatrixMembership(ctx context.Context, evt *event.Event) {
	b.metrics.MatrixEvents.WithLabelValues("member").Inc()

	content := evt.Content.AsMember()
	if content == nil {
		return
	}
	stateKey := id.UserID(evt.GetStateKey())

	if content.Membership == event.MembershipInvite && stateKey == b.mx.Namespace().BotMXID() {
		if err := b.mx.JoinRoom(ctx, evt.RoomID); err != nil {
			b.log.Warn().Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to accept invite")
			return
		}
		b.log.Info().
			Str("room_id", evt.RoomID.String()).
			Str("inviter", evt.Sender.String()).
			Msg("Joined room on invite")
		return
	}

	// A moderator removing a ghost is surfaced in the channel so the
	// Slack side knows its user was acted on.
	if content.Membership != event.MembershipLeave && content.Membership != event.MembershipBan {
		return
	}
	slackUserID, ok := b.mx.Namespace().ParseGhost(stateKey)
	if !ok || evt.Sender == stateKey || b.mx.Namespace().IsBridgeUser(evt.Sender) {
		return
	}
	mapping, err := b.roomByMatrixID(ctx, evt.RoomID)
	if err != nil {
		return
	}
	verb := "kicked"
	if content.Membership == event.MembershipBan {
		verb = "banned"
	}
	text := fmt.Sprintf("<@%s> was %s from the Matrix room by %s", slackUserID, verb, evt.Sender)
	if _, err = b.slack.SendMessage(ctx, mapping.SlackChannelID, text); err != nil {
		b.log.Warn().Err(err).Str("channel_id", mapping.SlackChannelID).Msg("Failed to send membership notice")
	}
}

// HandleMatrixStateChange posts a note into the channel when a bridged
// room's name, topic or power levels change on the Matrix side.
func (b *Bridge) HandleMatrixStateChange(ctx context.Context, evt *event.Event) {
	b.metrics.MatrixEvents.WithLabelValues("state").Inc()

	if b.mx.Namespace().IsBridgeUser(evt.Sender) || b.isStale(evt) {
		return
	}
	mapping, err := b.roomByMatrixID(ctx, evt.RoomID)
	if err != nil {
		return
	}

	var text string
	switch evt.Type {
	case event.StateRoomName:
		if content := evt.Content.AsRoomName(); content != nil {
			text = fmt.Sprintf("The Matrix room was renamed to %q", content.Name)
		}
	case event.StateTopic:
		if content := evt.Content.AsTopic(); content != nil {
			text = fmt.Sprintf("The Matrix room topic was changed to %q", content.Topic)
		}
	case event.StatePowerLevels:
		text = "The Matrix room power levels were updated"
	}
	if text == "" {
		return
	}
	if _, err = b.slack.SendMessage(ctx, mapping.SlackChannelID, text); err != nil {
		b.log.Warn().Err(err).Str("channel_id", mapping.SlackChannelID).Msg("Failed to send state notice")
	}
}

// HandleMatrixEncryption unbridges a room when encryption is enabled;
// the bridge cannot relay events it cannot read.
func (b *Bridge) HandleMatrixEncryption(ctx context.Context, evt *event.Event) {
	b.metrics.MatrixEvents.WithLabelValues("encryption").Inc()

	mapping, err := b.roomByMatrixID(ctx, evt.RoomID)
	if err != nil {
		return
	}

	b.sendRoomNotice(ctx, evt.RoomID, "Encryption was enabled in this room; the bridge has been removed.")
	if _, err = b.slack.SendMessage(ctx, mapping.SlackChannelID,
		"The Matrix room enabled encryption and has been unbridged"); err != nil {
		b.log.Warn().Err(err).Str("channel_id", mapping.SlackChannelID).Msg("Failed to send unbridge notice")
	}

	if err = b.db.DeleteRoomByMatrixID(ctx, evt.RoomID.String()); err != nil {
		b.log.Error().Err(err).Msg("Failed to delete room mapping")
	}
	b.uncacheRoom(mapping)
	b.metrics.BridgedRooms.Dec()

	if err = b.mx.LeaveRoom(ctx, evt.RoomID); err != nil {
		b.log.Debug().Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to leave encrypted room")
	}
	b.log.Info().Str("room_id", evt.RoomID.String()).Msg("Room enabled encryption, bridge removed")
}
