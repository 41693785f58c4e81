// Copyright 2024-2026 Aiku AI

// Package store persists the bridge's mapping tables. The Store interface is
// the only thing the rest of the bridge sees; the GORM implementation below
// supports SQLite, PostgreSQL and MySQL backends selected by DSN scheme.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoomMapping links a Matrix room to a Slack channel. One row per bridge.
type RoomMapping struct {
	ID               string `gorm:"primaryKey"`
	MatrixRoomID     string `gorm:"uniqueIndex"`
	SlackChannelID   string `gorm:"uniqueIndex"`
	SlackChannelName string
	SlackTeamID      string `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m *RoomMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// UserMapping links a Matrix ghost user to the Slack user it represents.
type UserMapping struct {
	ID            string `gorm:"primaryKey"`
	MatrixUserID  string `gorm:"uniqueIndex"`
	SlackUserID   string `gorm:"uniqueIndex"`
	SlackUsername string
	SlackAvatar   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m *UserMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// MessageMapping links a Slack message timestamp to the Matrix event that
// mirrors it. Used to resolve replies, edits and deletions in both
// directions.
type MessageMapping struct {
	ID             string `gorm:"primaryKey"`
	SlackMessageID string `gorm:"uniqueIndex"`
	MatrixRoomID   string
	MatrixEventID  string `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (m *MessageMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// EmojiMapping caches a custom Slack emoji uploaded to the Matrix media
// repository.
type EmojiMapping struct {
	ID           string `gorm:"primaryKey"`
	SlackEmojiID string `gorm:"uniqueIndex"`
	EmojiName    string
	Animated     bool
	MXCURL       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (m *EmojiMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
