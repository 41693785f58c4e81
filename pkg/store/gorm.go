// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore implements Store on top of GORM.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// Open connects to the database named by dsn and runs migrations. The
// backend is chosen by scheme: sqlite://path, postgres://..., mysql://dsn.
// A bare path is treated as SQLite for convenience.
func Open(dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "mysql://"), strings.HasPrefix(dsn, "mariadb://"):
		trimmed := strings.TrimPrefix(strings.TrimPrefix(dsn, "mysql://"), "mariadb://")
		dialector = mysql.Open(trimmed)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewGorm(db)
}

// NewGorm wraps an existing GORM handle and runs migrations.
func NewGorm(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(&RoomMapping{}, &UserMapping{}, &MessageMapping{}, &EmojiMapping{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func wrapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) RoomByMatrixID(ctx context.Context, matrixRoomID string) (*RoomMapping, error) {
	var mapping RoomMapping
	err := s.db.WithContext(ctx).Where("matrix_room_id = ?", matrixRoomID).First(&mapping).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &mapping, nil
}

func (s *GormStore) RoomBySlackChannel(ctx context.Context, slackChannelID string) (*RoomMapping, error) {
	var mapping RoomMapping
	err := s.db.WithContext(ctx).Where("slack_channel_id = ?", slackChannelID).First(&mapping).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &mapping, nil
}

func (s *GormStore) RoomsByTeam(ctx context.Context, slackTeamID string) ([]*RoomMapping, error) {
	var mappings []*RoomMapping
	err := s.db.WithContext(ctx).Where("slack_team_id = ?", slackTeamID).Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

func (s *GormStore) AllRooms(ctx context.Context) ([]*RoomMapping, error) {
	var mappings []*RoomMapping
	err := s.db.WithContext(ctx).Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

func (s *GormStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&RoomMapping{}).Count(&count).Error
	return count, err
}

func (s *GormStore) CreateRoom(ctx context.Context, mapping *RoomMapping) error {
	return s.db.WithContext(ctx).Create(mapping).Error
}

func (s *GormStore) UpdateRoom(ctx context.Context, mapping *RoomMapping) error {
	return s.db.WithContext(ctx).Save(mapping).Error
}

func (s *GormStore) DeleteRoomByMatrixID(ctx context.Context, matrixRoomID string) error {
	return s.db.WithContext(ctx).Where("matrix_room_id = ?", matrixRoomID).Delete(&RoomMapping{}).Error
}

func (s *GormStore) DeleteRoomBySlackChannel(ctx context.Context, slackChannelID string) error {
	return s.db.WithContext(ctx).Where("slack_channel_id = ?", slackChannelID).Delete(&RoomMapping{}).Error
}

func (s *GormStore) UserBySlackID(ctx context.Context, slackUserID string) (*UserMapping, error) {
	var mapping UserMapping
	err := s.db.WithContext(ctx).Where("slack_user_id = ?", slackUserID).First(&mapping).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &mapping, nil
}

func (s *GormStore) UserByMatrixID(ctx context.Context, matrixUserID string) (*UserMapping, error) {
	var mapping UserMapping
	err := s.db.WithContext(ctx).Where("matrix_user_id = ?", matrixUserID).First(&mapping).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &mapping, nil
}

func (s *GormStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserMapping{}).Count(&count).Error
	return count, err
}

// UpsertUser inserts the mapping or refreshes the mutable profile columns
// when a row for the Slack user already exists.
func (s *GormStore) UpsertUser(ctx context.Context, mapping *UserMapping) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slack_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"matrix_user_id", "slack_username", "slack_avatar", "updated_at"}),
	}).Create(mapping).Error
}

func (s *GormStore) DeleteUserBySlackID(ctx context.Context, slackUserID string) error {
	return s.db.WithContext(ctx).Where("slack_user_id = ?", slackUserID).Delete(&UserMapping{}).Error
}

func (s *GormStore) MessageBySlackID(ctx context.Context, slackMessageID string) (*MessageMapping, error) {
	var mapping MessageMapping
	err := s.db.WithContext(ctx).Where("slack_message_id = ?", slackMessageID).First(&mapping).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &mapping, nil
}

func (s *GormStore) MessageByMatrixEventID(ctx context.Context, matrixEventID string) (*MessageMapping, error) {
	var mapping MessageMapping
	err := s.db.WithContext(ctx).Where("matrix_event_id = ?", matrixEventID).First(&mapping).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &mapping, nil
}

// UpsertMessage inserts the mapping or points an existing row for the Slack
// message at a new Matrix event. Edits reuse the Slack timestamp, so the
// row must follow the latest event.
func (s *GormStore) UpsertMessage(ctx context.Context, mapping *MessageMapping) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slack_message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"matrix_room_id", "matrix_event_id", "updated_at"}),
	}).Create(mapping).Error
}

func (s *GormStore) DeleteMessageBySlackID(ctx context.Context, slackMessageID string) error {
	return s.db.WithContext(ctx).Where("slack_message_id = ?", slackMessageID).Delete(&MessageMapping{}).Error
}

func (s *GormStore) EmojiBySlackID(ctx context.Context, slackEmojiID string) (*EmojiMapping, error) {
	var mapping EmojiMapping
	err := s.db.WithContext(ctx).Where("slack_emoji_id = ?", slackEmojiID).First(&mapping).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &mapping, nil
}

func (s *GormStore) CreateEmoji(ctx context.Context, mapping *EmojiMapping) error {
	return s.db.WithContext(ctx).Create(mapping).Error
}

func (s *GormStore) DeleteEmojiBySlackID(ctx context.Context, slackEmojiID string) error {
	return s.db.WithContext(ctx).Where("slack_emoji_id = ?", slackEmojiID).Delete(&EmojiMapping{}).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
