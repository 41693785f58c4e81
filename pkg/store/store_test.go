// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoomMappingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mapping := &RoomMapping{
		MatrixRoomID:     "!room:example.org",
		SlackChannelID:   "C123",
		SlackChannelName: "general",
		SlackTeamID:      "T1",
	}
	require.NoError(t, s.CreateRoom(ctx, mapping))
	assert.NotEmpty(t, mapping.ID)

	byRoom, err := s.RoomByMatrixID(ctx, "!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, "C123", byRoom.SlackChannelID)

	byChannel, err := s.RoomBySlackChannel(ctx, "C123")
	require.NoError(t, err)
	assert.Equal(t, "!room:example.org", byChannel.MatrixRoomID)

	count, err := s.CountRooms(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRoomLookupMissReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RoomByMatrixID(context.Background(), "!nope:example.org")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RoomBySlackChannel(context.Background(), "C404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoomsByTeamFiltersByTeam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRoom(ctx, &RoomMapping{MatrixRoomID: "!a:x", SlackChannelID: "C1", SlackTeamID: "T1"}))
	require.NoError(t, s.CreateRoom(ctx, &RoomMapping{MatrixRoomID: "!b:x", SlackChannelID: "C2", SlackTeamID: "T1"}))
	require.NoError(t, s.CreateRoom(ctx, &RoomMapping{MatrixRoomID: "!c:x", SlackChannelID: "C3", SlackTeamID: "T2"}))

	rooms, err := s.RoomsByTeam(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

func TestDeleteRoomByMatrixID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRoom(ctx, &RoomMapping{MatrixRoomID: "!a:x", SlackChannelID: "C1"}))
	require.NoError(t, s.DeleteRoomByMatrixID(ctx, "!a:x"))

	_, err := s.RoomByMatrixID(ctx, "!a:x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRoomPersistsNewName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mapping := &RoomMapping{MatrixRoomID: "!a:x", SlackChannelID: "C1", SlackChannelName: "old"}
	require.NoError(t, s.CreateRoom(ctx, mapping))

	mapping.SlackChannelName = "renamed"
	require.NoError(t, s.UpdateRoom(ctx, mapping))

	got, err := s.RoomBySlackChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.SlackChannelName)
}

func TestUpsertUserRefreshesProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, &UserMapping{
		MatrixUserID:  "@_slack_U1:example.org",
		SlackUserID:   "U1",
		SlackUsername: "alice",
	}))
	require.NoError(t, s.UpsertUser(ctx, &UserMapping{
		MatrixUserID:  "@_slack_U1:example.org",
		SlackUserID:   "U1",
		SlackUsername: "alice-renamed",
		SlackAvatar:   "https://example.org/a.png",
	}))

	got, err := s.UserBySlackID(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", got.SlackUsername)
	assert.Equal(t, "https://example.org/a.png", got.SlackAvatar)

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestUpsertMessageMovesMappingToNewEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMessage(ctx, &MessageMapping{
		SlackMessageID: "1700000000.000100",
		MatrixRoomID:   "!room:example.org",
		MatrixEventID:  "$first",
	}))
	require.NoError(t, s.UpsertMessage(ctx, &MessageMapping{
		SlackMessageID: "1700000000.000100",
		MatrixRoomID:   "!room:example.org",
		MatrixEventID:  "$edited",
	}))

	got, err := s.MessageBySlackID(ctx, "1700000000.000100")
	require.NoError(t, err)
	assert.Equal(t, "$edited", got.MatrixEventID)
}

func TestDeleteMessageBySlackID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMessage(ctx, &MessageMapping{
		SlackMessageID: "1700000000.000100",
		MatrixRoomID:   "!room:example.org",
		MatrixEventID:  "$ev",
	}))
	require.NoError(t, s.DeleteMessageBySlackID(ctx, "1700000000.000100"))

	_, err := s.MessageBySlackID(ctx, "1700000000.000100")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmojiMappingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEmoji(ctx, &EmojiMapping{
		SlackEmojiID: "12345",
		EmojiName:    "partyparrot",
		Animated:     true,
		MXCURL:       "mxc://example.org/abc",
	}))

	got, err := s.EmojiBySlackID(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, "mxc://example.org/abc", got.MXCURL)
	assert.True(t, got.Animated)

	require.NoError(t, s.DeleteEmojiBySlackID(ctx, "12345"))
	_, err = s.EmojiBySlackID(ctx, "12345")
	assert.ErrorIs(t, err, ErrNotFound)
}
