// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package slackrt is the Slack side of the bridge: a Socket Mode transport
// for realtime events and a Web API client for everything outbound.
package slackrt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// UserInfo is the profile subset of a Slack user the bridge cares about.
type UserInfo struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	IsBot       bool
}

// Client wraps the Slack Web API. All sends go through a process-wide lock
// with a configured delay, keeping the bridge inside Slack's per-channel
// rate limits no matter how many handlers fire concurrently.
type Client struct {
	api       *slack.Client
	log       zerolog.Logger
	sendMu    sync.Mutex
	sendDelay time.Duration
	perms     *permissionCache

	botUserID string
	botID     string
	teamID    string
	teamName  string

	emojiMu      sync.Mutex
	emojiMap     map[string]string
	emojiFetched time.Time
}

// emojiListTTL bounds how stale the cached emoji.list response may get.
const emojiListTTL = 300 * time.Second

// NewClient creates a Web API client. Connect must be called before the
// client's identity accessors are usable.
func NewClient(botToken, appToken string, sendDelay time.Duration, log zerolog.Logger) *Client {
	c := &Client{
		api:       slack.New(botToken, slack.OptionAppLevelToken(appToken)),
		log:       log.With().Str("component", "slack_client").Logger(),
		sendDelay: sendDelay,
	}
	c.perms = newPermissionCache(c.fetchPermissions, c.log)
	return c
}

// Connect verifies the bot token and records the bridge's own identity for
// echo suppression.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("auth.test failed: %w", err)
	}
	c.botUserID = resp.UserID
	c.botID = resp.BotID
	c.teamID = resp.TeamID
	c.teamName = resp.Team
	c.log.Info().
		Str("bot_user_id", c.botUserID).
		Str("team_id", c.teamID).
		Msg("Authenticated with Slack")
	return nil
}

// BotUserID returns the bridge bot's Slack user ID.
func (c *Client) BotUserID() string { return c.botUserID }

// TeamID returns the workspace ID the bot is installed in.
func (c *Client) TeamID() string { return c.teamID }

// TeamName returns the workspace name.
func (c *Client) TeamName() string { return c.teamName }

// IsOwnMessage reports whether a message was authored by the bridge itself,
// either as its bot user or through its bot integration.
func (c *Client) IsOwnMessage(userID, botID string) bool {
	if userID != "" && userID == c.botUserID {
		return true
	}
	if botID != "" && botID == c.botID {
		return true
	}
	return false
}

// Permissions resolves the cached permission set for a Slack user.
func (c *Client) Permissions(ctx context.Context, userID string) PermissionSet {
	return c.perms.Resolve(ctx, userID)
}

func (c *Client) fetchPermissions(ctx context.Context, userID string) (PermissionSet, error) {
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users.info failed: %w", err)
	}
	if user.IsAdmin || user.IsOwner || user.IsPrimaryOwner {
		return adminPermissions(), nil
	}
	return PermissionSet{}, nil
}

// acquireSend takes the send lock and sleeps the configured delay.
func (c *Client) acquireSend() {
	c.sendMu.Lock()
	if c.sendDelay > 0 {
		time.Sleep(c.sendDelay)
	}
}

// SendMessage posts a plain bot message and returns its timestamp.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	c.acquireSend()
	defer c.sendMu.Unlock()

	if text == "" {
		text = "(empty message)"
	}
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

// SendMessageAsUser posts a message with a custom username and avatar so it
// reads as the Matrix sender. If Slack rejects the custom identity the text
// is resent as a plain bot message with a "*name*: " prefix.
func (c *Client) SendMessageAsUser(ctx context.Context, channelID, text, threadTS, username, avatarURL string) (string, error) {
	c.acquireSend()
	defer c.sendMu.Unlock()

	if text == "" {
		text = "(empty message)"
	}

	options := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	if username != "" {
		options = append(options, slack.MsgOptionUsername(username))
	}
	if avatarURL != "" {
		options = append(options, slack.MsgOptionIconURL(avatarURL))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, options...)
	if err == nil {
		return ts, nil
	}
	if username == "" {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}

	c.log.Warn().Err(err).Str("channel_id", channelID).
		Msg("Custom identity send failed, retrying as plain bot message")

	fallback := []slack.MsgOption{
		slack.MsgOptionText("*"+username+"*: "+text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	}
	if threadTS != "" {
		fallback = append(fallback, slack.MsgOptionTS(threadTS))
	}
	_, ts, err = c.api.PostMessageContext(ctx, channelID, fallback...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage fallback failed: %w", err)
	}
	return ts, nil
}

// UpdateMessage edits a previously sent message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	c.acquireSend()
	defer c.sendMu.Unlock()

	if text == "" {
		text = "(empty message)"
	}
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("chat.update failed: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, ts string) error {
	c.acquireSend()
	defer c.sendMu.Unlock()

	_, _, err := c.api.DeleteMessageContext(ctx, channelID, ts)
	if err != nil && !strings.Contains(err.Error(), "message_not_found") {
		return fmt.Errorf("chat.delete failed: %w", err)
	}
	return nil
}

// UploadFile uploads file bytes into a channel with an attribution comment.
func (c *Client) UploadFile(ctx context.Context, channelID, filename string, data []byte, senderName string) error {
	c.acquireSend()
	defer c.sendMu.Unlock()

	_, err := c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:        channelID,
		Filename:       filename,
		FileSize:       len(data),
		Reader:         bytes.NewReader(data),
		InitialComment: "Uploaded by " + senderName,
	})
	if err != nil {
		return fmt.Errorf("file upload failed: %w", err)
	}
	return nil
}

// AddReaction reacts to a message. The emoji name is passed without colons.
func (c *Client) AddReaction(ctx context.Context, channelID, ts, name string) error {
	c.acquireSend()
	defer c.sendMu.Unlock()

	err := c.api.AddReactionContext(ctx, name, slack.NewRefToMessage(channelID, ts))
	if err != nil && !strings.Contains(err.Error(), "already_reacted") {
		return fmt.Errorf("reactions.add failed: %w", err)
	}
	return nil
}

// RemoveReaction removes a reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, channelID, ts, name string) error {
	c.acquireSend()
	defer c.sendMu.Unlock()

	err := c.api.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channelID, ts))
	if err != nil && !strings.Contains(err.Error(), "no_reaction") {
		return fmt.Errorf("reactions.remove failed: %w", err)
	}
	return nil
}

// ChannelMeta is the channel metadata subset the bridge mirrors into
// Matrix room state.
type ChannelMeta struct {
	ID    string
	Name  string
	Topic string
}

// ChannelInfo fetches channel metadata.
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (*ChannelMeta, error) {
	channel, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.info failed: %w", err)
	}
	return &ChannelMeta{
		ID:    channel.ID,
		Name:  channel.Name,
		Topic: channel.Topic.Value,
	}, nil
}

// UserInfo fetches a user's profile.
func (c *Client) UserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users.info failed: %w", err)
	}
	return slackUserToInfo(user), nil
}

func slackUserToInfo(user *slack.User) *UserInfo {
	avatar := user.Profile.Image512
	if avatar == "" {
		avatar = user.Profile.Image192
	}
	return &UserInfo{
		ID:          user.ID,
		Username:    user.Name,
		DisplayName: pickDisplayName(user.Profile.DisplayName, user.Profile.RealName, user.Name),
		AvatarURL:   avatar,
		IsBot:       user.IsBot,
	}
}

// pickDisplayName returns the first non-blank candidate, trimmed.
func pickDisplayName(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// EmojiURL resolves a custom emoji name to its image URL, following
// aliases. Standard Unicode emoji are not in the workspace list and
// resolve to "". The emoji.list response is cached.
func (c *Client) EmojiURL(ctx context.Context, name string) (string, error) {
	c.emojiMu.Lock()
	defer c.emojiMu.Unlock()

	if c.emojiMap == nil || time.Since(c.emojiFetched) > emojiListTTL {
		emoji, err := c.api.GetEmojiContext(ctx)
		if err != nil {
			return "", fmt.Errorf("emoji.list failed: %w", err)
		}
		c.emojiMap = emoji
		c.emojiFetched = time.Now()
	}

	url := c.emojiMap[name]
	for range 10 {
		alias, ok := strings.CutPrefix(url, "alias:")
		if !ok {
			break
		}
		url = c.emojiMap[alias]
	}
	return url, nil
}

// openSocketURL requests a fresh Socket Mode WebSocket URL.
func (c *Client) openSocketURL(ctx context.Context) (string, error) {
	_, wsURL, err := c.api.StartSocketModeContext(ctx)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open failed: %w", err)
	}
	return wsURL, nil
}
