// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface used by the bridge. All lookups return
// ErrNotFound (possibly wrapped) when no row matches.
type Store interface {
	RoomByMatrixID(ctx context.Context, matrixRoomID string) (*RoomMapping, error)
	RoomBySlackChannel(ctx context.Context, slackChannelID string) (*RoomMapping, error)
	RoomsByTeam(ctx context.Context, slackTeamID string) ([]*RoomMapping, error)
	AllRooms(ctx context.Context) ([]*RoomMapping, error)
	CountRooms(ctx context.Context) (int64, error)
	CreateRoom(ctx context.Context, mapping *RoomMapping) error
	UpdateRoom(ctx context.Context, mapping *RoomMapping) error
	DeleteRoomByMatrixID(ctx context.Context, matrixRoomID string) error
	DeleteRoomBySlackChannel(ctx context.Context, slackChannelID string) error

	UserBySlackID(ctx context.Context, slackUserID string) (*UserMapping, error)
	UserByMatrixID(ctx context.Context, matrixUserID string) (*UserMapping, error)
	CountUsers(ctx context.Context) (int64, error)
	UpsertUser(ctx context.Context, mapping *UserMapping) error
	DeleteUserBySlackID(ctx context.Context, slackUserID string) error

	MessageBySlackID(ctx context.Context, slackMessageID string) (*MessageMapping, error)
	MessageByMatrixEventID(ctx context.Context, matrixEventID string) (*MessageMapping, error)
	UpsertMessage(ctx context.Context, mapping *MessageMapping) error
	DeleteMessageBySlackID(ctx context.Context, slackMessageID string) error

	EmojiBySlackID(ctx context.Context, slackEmojiID string) (*EmojiMapping, error)
	CreateEmoji(ctx context.Context, mapping *EmojiMapping) error
	DeleteEmojiBySlackID(ctx context.Context, slackEmojiID string) error

	Close() error
}
