// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/config"
)

// Service runs the appservice HTTP listener and exposes the narrow set of
// homeserver operations the bridge needs. Ghost operations take the Slack
// user ID and resolve the intent internally.
type Service struct {
	as   *appservice.AppService
	proc *appservice.EventProcessor
	ns   Namespace
	log  zerolog.Logger
}

// NewService builds the appservice from configuration. The registration is
// assembled in-process rather than loaded from a YAML file so the config
// stays the single source of truth.
func NewService(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	ns := Namespace{
		Prefix:       cfg.Ghosts.UsernamePrefix,
		Domain:       cfg.Bridge.Domain,
		BotLocalpart: cfg.Registration.SenderLocalpart,
	}

	as := appservice.Create()
	as.Log = log.With().Str("component", "appservice").Logger()
	as.HomeserverDomain = cfg.Bridge.Domain
	as.Host = appservice.HostConfig{
		Hostname: cfg.Bridge.BindAddress,
		Port:     cfg.Bridge.Port,
	}
	if err := as.SetHomeserverURL(cfg.Bridge.HomeserverURL); err != nil {
		return nil, fmt.Errorf("invalid homeserver URL: %w", err)
	}

	as.Registration = &appservice.Registration{
		ID:              cfg.Registration.ID,
		AppToken:        cfg.Registration.ASToken,
		ServerToken:     cfg.Registration.HSToken,
		SenderLocalpart: cfg.Registration.SenderLocalpart,
		EphemeralEvents: true,
	}
	as.Registration.Namespaces.UserIDs = []appservice.Namespace{{
		Regex:     regexp.QuoteMeta("@"+ns.Prefix) + ".*:" + regexp.QuoteMeta(ns.Domain),
		Exclusive: true,
	}}

	return &Service{
		as:   as,
		proc: appservice.NewEventProcessor(as),
		ns:   ns,
		log:  log.With().Str("component", "matrix").Logger(),
	}, nil
}

// Namespace returns the ghost namespace mapper.
func (s *Service) Namespace() Namespace { return s.ns }

// OnEvent registers a handler for an event type. Must be called before
// Start.
func (s *Service) OnEvent(evtType event.Type, handler appservice.EventHandler) {
	s.proc.On(evtType, handler)
}

// Start launches the HTTP listener and the event processor, then verifies
// the homeserver connection by registering the bot.
func (s *Service) Start(ctx context.Context) error {
	go s.as.Start()
	go s.proc.Start(ctx)

	bot := s.as.BotIntent()
	if err := bot.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register bridge bot: %w", err)
	}
	s.log.Info().Str("bot_mxid", s.ns.BotMXID().String()).Msg("Appservice started")
	return nil
}

// Stop shuts down the listener and the event processor.
func (s *Service) Stop() {
	s.proc.Stop()
	s.as.Stop()
}

func (s *Service) botIntent() *appservice.IntentAPI {
	return s.as.BotIntent()
}

func (s *Service) ghostIntent(slackUserID string) *appservice.IntentAPI {
	return s.as.Intent(s.ns.GhostMXID(slackUserID))
}

// EnsureGhost registers the ghost for a Slack user if it does not exist
// yet and returns its MXID.
func (s *Service) EnsureGhost(ctx context.Context, slackUserID string) (id.UserID, error) {
	intent := s.ghostIntent(slackUserID)
	if err := intent.EnsureRegistered(ctx); err != nil {
		return "", fmt.Errorf("failed to register ghost for %s: %w", slackUserID, err)
	}
	return intent.UserID, nil
}

// SendGhostMessage sends a message event into a room as the ghost, joining
// it first if needed.
func (s *Service) SendGhostMessage(ctx context.Context, slackUserID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	intent := s.ghostIntent(slackUserID)
	if err := intent.EnsureJoined(ctx, roomID); err != nil {
		return "", fmt.Errorf("ghost failed to join %s: %w", roomID, err)
	}
	resp, err := intent.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("failed to send as ghost: %w", err)
	}
	return resp.EventID, nil
}

// SendNotice sends an m.notice as the bridge bot.
func (s *Service) SendNotice(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error) {
	resp, err := s.botIntent().SendNotice(ctx, roomID, text)
	if err != nil {
		return "", fmt.Errorf("failed to send notice: %w", err)
	}
	return resp.EventID, nil
}

// RedactAsGhost redacts an event as the ghost, falling back to the bot
// when the ghost lacks permission. An empty Slack user ID redacts as the
// bot directly.
func (s *Service) RedactAsGhost(ctx context.Context, slackUserID string, roomID id.RoomID, eventID id.EventID, reason string) error {
	req := mautrix.ReqRedact{Reason: reason}
	intent := s.botIntent()
	if slackUserID != "" {
		intent = s.ghostIntent(slackUserID)
	}
	_, err := intent.RedactEvent(ctx, roomID, eventID, req)
	if err == nil {
		return nil
	}
	if _, botErr := s.botIntent().RedactEvent(ctx, roomID, eventID, req); botErr != nil {
		return fmt.Errorf("failed to redact %s: %w", eventID, err)
	}
	return nil
}

// ReactAsGhost sends an m.reaction annotation as the ghost.
func (s *Service) ReactAsGhost(ctx context.Context, slackUserID string, roomID id.RoomID, target id.EventID, key string) (id.EventID, error) {
	intent := s.ghostIntent(slackUserID)
	if err := intent.EnsureJoined(ctx, roomID); err != nil {
		return "", fmt.Errorf("ghost failed to join %s: %w", roomID, err)
	}
	resp, err := intent.SendMessageEvent(ctx, roomID, event.EventReaction, &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: target,
			Key:     key,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to react as ghost: %w", err)
	}
	return resp.EventID, nil
}

// SetGhostProfile updates the ghost's display name and avatar. Either
// argument may be empty to leave the field untouched.
func (s *Service) SetGhostProfile(ctx context.Context, slackUserID, displayname string, avatarURI id.ContentURI) error {
	intent := s.ghostIntent(slackUserID)
	if err := intent.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register ghost for %s: %w", slackUserID, err)
	}
	if displayname != "" {
		if err := intent.SetDisplayName(ctx, displayname); err != nil {
			return fmt.Errorf("failed to set ghost displayname: %w", err)
		}
	}
	if !avatarURI.IsEmpty() {
		if err := intent.SetAvatarURL(ctx, avatarURI); err != nil {
			return fmt.Errorf("failed to set ghost avatar: %w", err)
		}
	}
	return nil
}

// UserProfile fetches any Matrix user's profile as seen by the bot. The
// avatar comes back as an HTTP download URL.
func (s *Service) UserProfile(ctx context.Context, userID id.UserID) (displayname, avatarURL string, err error) {
	profile, err := s.botIntent().GetProfile(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch profile for %s: %w", userID, err)
	}
	avatar := ""
	if !profile.AvatarURL.IsEmpty() {
		avatar = s.DownloadURL(profile.AvatarURL)
	}
	return profile.DisplayName, avatar, nil
}

// InviteGhost invites and joins the ghost into a room.
func (s *Service) InviteGhost(ctx context.Context, slackUserID string, roomID id.RoomID) error {
	intent := s.ghostIntent(slackUserID)
	if err := intent.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register ghost for %s: %w", slackUserID, err)
	}
	if err := intent.EnsureJoined(ctx, roomID); err != nil {
		return fmt.Errorf("ghost failed to join %s: %w", roomID, err)
	}
	return nil
}

// GhostLeave makes the ghost leave a room. Missing membership is not an
// error.
func (s *Service) GhostLeave(ctx context.Context, slackUserID string, roomID id.RoomID) error {
	_, err := s.ghostIntent(slackUserID).LeaveRoom(ctx, roomID)
	if err != nil {
		s.log.Debug().Err(err).Str("room_id", roomID.String()).Msg("Ghost leave failed")
	}
	return nil
}

// KickUser kicks a Matrix user from a room as the bot.
func (s *Service) KickUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	_, err := s.botIntent().KickUser(ctx, roomID, &mautrix.ReqKickUser{UserID: userID, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to kick %s: %w", userID, err)
	}
	return nil
}

// BanUser bans a Matrix user from a room as the bot.
func (s *Service) BanUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	_, err := s.botIntent().BanUser(ctx, roomID, &mautrix.ReqBanUser{UserID: userID, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to ban %s: %w", userID, err)
	}
	return nil
}

// UnbanUser lifts a ban as the bot.
func (s *Service) UnbanUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	_, err := s.botIntent().UnbanUser(ctx, roomID, &mautrix.ReqUnbanUser{UserID: userID, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to unban %s: %w", userID, err)
	}
	return nil
}

// JoinRoom joins the bot to a room, usually in response to an invite.
func (s *Service) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	if err := s.botIntent().EnsureJoined(ctx, roomID); err != nil {
		return fmt.Errorf("bot failed to join %s: %w", roomID, err)
	}
	return nil
}

// LeaveRoom makes the bot leave a room.
func (s *Service) LeaveRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := s.botIntent().LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("bot failed to leave %s: %w", roomID, err)
	}
	return nil
}

// RoomName reads the current m.room.name state.
func (s *Service) RoomName(ctx context.Context, roomID id.RoomID) (string, error) {
	var content event.RoomNameEventContent
	err := s.botIntent().StateEvent(ctx, roomID, event.StateRoomName, "", &content)
	if err != nil {
		return "", fmt.Errorf("failed to read room name: %w", err)
	}
	return content.Name, nil
}

// SetRoomName updates m.room.name as the bot.
func (s *Service) SetRoomName(ctx context.Context, roomID id.RoomID, name string) error {
	_, err := s.botIntent().SendStateEvent(ctx, roomID, event.StateRoomName, "", &event.RoomNameEventContent{Name: name})
	if err != nil {
		return fmt.Errorf("failed to set room name: %w", err)
	}
	return nil
}

// RoomTopic reads the current m.room.topic state.
func (s *Service) RoomTopic(ctx context.Context, roomID id.RoomID) (string, error) {
	var content event.TopicEventContent
	err := s.botIntent().StateEvent(ctx, roomID, event.StateTopic, "", &content)
	if err != nil {
		return "", fmt.Errorf("failed to read room topic: %w", err)
	}
	return content.Topic, nil
}

// SetRoomTopic updates m.room.topic as the bot.
func (s *Service) SetRoomTopic(ctx context.Context, roomID id.RoomID, topic string) error {
	_, err := s.botIntent().SendStateEvent(ctx, roomID, event.StateTopic, "", &event.TopicEventContent{Topic: topic})
	if err != nil {
		return fmt.Errorf("failed to set room topic: %w", err)
	}
	return nil
}

// UserPowerLevel resolves a user's power level in a room from the
// m.room.power_levels state.
func (s *Service) UserPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID) (int, error) {
	var content event.PowerLevelsEventContent
	err := s.botIntent().StateEvent(ctx, roomID, event.StatePowerLevels, "", &content)
	if err != nil {
		return 0, fmt.Errorf("failed to read power levels: %w", err)
	}
	return content.GetUserLevel(userID), nil
}

// GhostTyping sets the ghost's typing indicator in a room.
func (s *Service) GhostTyping(ctx context.Context, slackUserID string, roomID id.RoomID, typing bool, timeout time.Duration) error {
	_, err := s.ghostIntent(slackUserID).UserTyping(ctx, roomID, typing, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// GhostPresence publishes the ghost's presence and status message.
func (s *Service) GhostPresence(ctx context.Context, slackUserID string, presence event.Presence, statusMsg string) error {
	err := s.ghostIntent(slackUserID).SetPresence(ctx, mautrix.ReqPresence{
		Presence:  presence,
		StatusMsg: statusMsg,
	})
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// GhostMarkRead sends a read receipt from the ghost.
func (s *Service) GhostMarkRead(ctx context.Context, slackUserID string, roomID id.RoomID, eventID id.EventID) error {
	err := s.ghostIntent(slackUserID).SendReceipt(ctx, roomID, eventID, event.ReceiptTypeRead, nil)
	if err != nil {
		return fmt.Errorf("failed to send read receipt: %w", err)
	}
	return nil
}

// UploadMedia uploads bytes to the homeserver content repository.
func (s *Service) UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (id.ContentURI, error) {
	resp, err := s.botIntent().UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: data,
		ContentType:  mimeType,
		FileName:     filename,
	})
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("media upload failed: %w", err)
	}
	return resp.ContentURI, nil
}

// DownloadMedia fetches an mxc:// URI's bytes from the homeserver.
func (s *Service) DownloadMedia(ctx context.Context, uri id.ContentURI) ([]byte, error) {
	data, err := s.botIntent().DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	return data, nil
}

// DownloadURL converts an mxc:// URI into an HTTP URL Slack can fetch.
func (s *Service) DownloadURL(uri id.ContentURI) string {
	return s.botIntent().BuildURL(mautrix.MediaURLPath{"v3", "download", uri.Homeserver, uri.FileID})
}

// DeleteRoomAlias removes a published room alias.
func (s *Service) DeleteRoomAlias(ctx context.Context, alias id.RoomAlias) error {
	if _, err := s.botIntent().DeleteAlias(ctx, alias); err != nil {
		return fmt.Errorf("failed to delete alias %s: %w", alias, err)
	}
	return nil
}

// CreateRoom creates a private room owned by the bot, used when a bridge
// is provisioned from the Slack side.
func (s *Service) CreateRoom(ctx context.Context, name, topic string) (id.RoomID, error) {
	resp, err := s.botIntent().CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "private_chat",
		Name:       name,
		Topic:      topic,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	return resp.RoomID, nil
}

// JoinedMembers lists the joined members of a room.
func (s *Service) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error) {
	resp, err := s.botIntent().JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members := make([]id.UserID, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID)
	}
	return members, nil
}
