// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

// roomLimitMessage returns the user-facing refusal when the room cap is
// reached, or "" when bridging may proceed.
func (b *Bridge) roomLimitMessage(ctx context.Context) string {
	if !b.roomLimitReached(ctx) {
		return ""
	}
	return fmt.Sprintf("This bridge has reached its room limit of %d. "+
		"Unbridge another room to allow for new connections.", b.cfg.Limits.RoomCount)
}

// requestBridgeMatrixRoom runs the Matrix-initiated bridging flow: ask
// the Slack channel for permission, wait for the verdict, then link the
// room. The returned string is the notice for the requesting room.
func (b *Bridge) requestBridgeMatrixRoom(ctx context.Context, roomID id.RoomID, requestor id.UserID, guildID, channelID string) string {
	if msg := b.roomLimitMessage(ctx); msg != "" {
		return msg
	}
	if b.isChannelBridged(ctx, channelID) {
		return "This Slack channel is already bridged."
	}
	channel, err := b.slack.ChannelInfo(ctx, channelID)
	if err != nil {
		return "There was a problem bridging that channel - channel was not found."
	}

	if _, err = b.mx.SendNotice(ctx, roomID, "I'm asking permission from the guild administrators to make this bridge."); err != nil {
		b.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to send provisioning notice")
	}

	if err = b.prov.Begin(channel.ID); err != nil {
		return "There was a problem bridging that channel - has the guild owner approved the bridge?"
	}
	prompt := PromptMessage(requestor.String(), b.cfg.Bridge.ProvisioningTimeout)
	if _, err = b.slack.SendMessage(ctx, channel.ID, prompt); err != nil {
		b.prov.Abort(channel.ID)
		return "Failed to send approval request to Slack. Ensure the bot can send messages in that channel."
	}

	switch err = b.prov.Await(ctx, channel.ID); {
	case err == nil:
		return b.bridgeMatrixRoom(ctx, roomID, guildID, channelID)
	case errors.Is(err, ErrRequestTimedOut):
		return "Timed out waiting for a response from the Slack owners."
	case errors.Is(err, ErrRequestDeclined):
		return "The bridge has been declined by the Slack guild."
	default:
		b.log.Warn().Err(err).
			Str("room_id", roomID.String()).
			Str("channel_id", channelID).
			Msg("Bridge approval failed")
		return "There was a problem bridging that channel - has the guild owner approved the bridge?"
	}
}

// bridgeMatrixRoom links an existing room to a Slack channel after
// approval.
func (b *Bridge) bridgeMatrixRoom(ctx context.Context, roomID id.RoomID, guildID, channelID string) string {
	if msg := b.roomLimitMessage(ctx); msg != "" {
		return msg
	}
	if b.isChannelBridged(ctx, channelID) {
		return "This Slack channel is already bridged."
	}
	channel, err := b.slack.ChannelInfo(ctx, channelID)
	if err != nil {
		return "There was a problem bridging that channel - channel was not found."
	}

	mapping := &store.RoomMapping{
		MatrixRoomID:     roomID.String(),
		SlackChannelID:   channel.ID,
		SlackChannelName: channel.Name,
		SlackTeamID:      guildID,
	}
	if err = b.db.CreateRoom(ctx, mapping); err != nil {
		b.log.Error().Err(err).Msg("Failed to persist room mapping")
		return "There was a problem bridging that channel - has the guild owner approved the bridge?"
	}
	b.cacheRoom(mapping)
	b.metrics.BridgedRooms.Inc()

	if err = b.mx.SetRoomName(ctx, roomID, b.channelRoomName(channel.Name)); err != nil {
		b.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to set room name")
	}

	b.log.Info().
		Str("room_id", roomID.String()).
		Str("channel_id", channel.ID).
		Msg("Bridged room to channel")
	return "I have bridged this room to your channel"
}

// unbridgeMatrixRoom removes a room's bridge and applies the configured
// unbridge housekeeping to its name, topic and alias.
func (b *Bridge) unbridgeMatrixRoom(ctx context.Context, roomID id.RoomID) string {
	mapping, err := b.roomByMatrixID(ctx, roomID)
	if err != nil {
		return "This room is not bridged."
	}

	opts := b.cfg.Channel.DeleteOptions
	if opts.NamePrefix != "" {
		if name, err := b.mx.RoomName(ctx, roomID); err == nil && name != "" {
			if err = b.mx.SetRoomName(ctx, roomID, opts.NamePrefix+name); err != nil {
				b.log.Warn().Err(err).Msg("Failed to prefix room name on unbridge")
			}
		}
	}
	if opts.TopicPrefix != "" {
		if topic, err := b.mx.RoomTopic(ctx, roomID); err == nil && topic != "" {
			if err = b.mx.SetRoomTopic(ctx, roomID, opts.TopicPrefix+topic); err != nil {
				b.log.Warn().Err(err).Msg("Failed to prefix room topic on unbridge")
			}
		}
	}
	if opts.UnsetAlias {
		alias := id.RoomAlias(fmt.Sprintf("#%s%s:%s",
			b.cfg.Channel.RoomAliasPrefix, mapping.SlackChannelID, b.cfg.Bridge.Domain))
		if err = b.mx.DeleteRoomAlias(ctx, alias); err != nil {
			b.log.Debug().Err(err).Str("alias", alias.String()).Msg("Alias removal failed")
		}
	}

	if err = b.db.DeleteRoomByMatrixID(ctx, roomID.String()); err != nil {
		b.log.Error().Err(err).Msg("Failed to delete room mapping")
	}
	b.uncacheRoom(mapping)
	b.metrics.BridgedRooms.Dec()

	b.log.Info().
		Str("room_id", roomID.String()).
		Str("channel_id", mapping.SlackChannelID).
		Msg("Unbridged room")
	return "This room has been unbridged"
}

// requestBridgeSlackChannel handles Slack-initiated bridging: a fresh
// room is created on the homeserver and linked to the named channel.
func (b *Bridge) requestBridgeSlackChannel(ctx context.Context, guildID, channelID string) string {
	if b.isChannelBridged(ctx, channelID) {
		return "That Slack channel is already bridged."
	}
	channel, err := b.slack.ChannelInfo(ctx, channelID)
	if err != nil {
		return "Could not find the specified Slack channel."
	}

	roomID, err := b.mx.CreateRoom(ctx, fmt.Sprintf("[Slack] #%s", channel.Name), channel.Topic)
	if err != nil {
		b.log.Warn().Err(err).Str("channel_id", channel.ID).Msg("Failed to create room for bridge")
		return "Failed to create Matrix room for the bridge."
	}

	mapping := &store.RoomMapping{
		MatrixRoomID:     roomID.String(),
		SlackChannelID:   channel.ID,
		SlackChannelName: channel.Name,
		SlackTeamID:      guildID,
	}
	if err = b.db.CreateRoom(ctx, mapping); err != nil {
		b.log.Error().Err(err).Msg("Failed to persist room mapping")
		return "Failed to create Matrix room for the bridge."
	}
	b.cacheRoom(mapping)
	b.metrics.BridgedRooms.Inc()

	b.log.Info().
		Str("room_id", roomID.String()).
		Str("channel_id", channel.ID).
		Msg("Bridged channel to new room")
	return fmt.Sprintf("Successfully bridged to Matrix room: %s", roomID)
}
