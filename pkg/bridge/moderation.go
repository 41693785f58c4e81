// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

// moderateUser fans a kick/ban/unban out to every room bridged from the
// mapping's workspace and reports the tally. Rooms are deduplicated so a
// doubly listed room cannot double-act. Each successful action leaves a
// notice in the room naming the Slack requestor.
func (b *Bridge) moderateUser(ctx context.Context, action ModerationAction, target id.UserID, mapping *store.RoomMapping, senderID, channelID string) (applied, failed int) {
	rooms, err := b.db.RoomsByTeam(ctx, mapping.SlackTeamID)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to list bridged rooms for moderation")
		return 0, 0
	}

	targetRooms := make([]string, 0, len(rooms))
	seen := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		if _, dup := seen[room.MatrixRoomID]; dup {
			continue
		}
		seen[room.MatrixRoomID] = struct{}{}
		targetRooms = append(targetRooms, room.MatrixRoomID)
	}
	if len(targetRooms) == 0 {
		targetRooms = []string{mapping.MatrixRoomID}
	}

	reason := fmt.Sprintf("Slack moderation request by %s from channel %s", senderID, channelID)
	for _, room := range targetRooms {
		roomID := id.RoomID(room)
		var actErr error
		switch action {
		case ActionBan:
			actErr = b.mx.BanUser(ctx, roomID, target, reason)
		case ActionUnban:
			actErr = b.mx.UnbanUser(ctx, roomID, target, reason)
		default:
			actErr = b.mx.KickUser(ctx, roomID, target, reason)
		}
		if actErr != nil {
			b.log.Warn().Err(actErr).
				Str("room_id", room).
				Str("target", target.String()).
				Msg("Moderation action failed in room")
			failed++
			continue
		}
		applied++

		notice := fmt.Sprintf("Slack moderation request: %s %s (requested by %s)",
			action.Keyword(), target, senderID)
		if _, err := b.mx.SendNotice(ctx, roomID, notice); err != nil {
			b.log.Warn().Err(err).Str("room_id", room).Msg("Failed to send moderation notice")
		}
	}
	return applied, failed
}

// moderationReply renders the result message posted back into the Slack
// channel.
func moderationReply(action ModerationAction, target string, applied, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("%s %s in %d bridged room(s).", action.PastTense(), target, applied)
	}
	return fmt.Sprintf("%s %s in %d room(s), failed in %d room(s).", action.PastTense(), target, applied, failed)
}
