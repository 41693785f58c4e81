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

	"github.com/aiku/matrix-slack-bridge/pkg/config"
	"github.com/aiku/matrix-slack-bridge/pkg/slackrt"
	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

// ErrUserLimitReached is returned when the blocker refuses a new ghost.
var ErrUserLimitReached = errors.New("user limit reached, not creating new ghosts")

// ensureGhostUser makes sure a ghost and its user mapping exist for a
// Slack user, creating both on first sight. Profile data is synced
// opportunistically through syncGhostProfile.
func (b *Bridge) ensureGhostUser(ctx context.Context, slackUserID string) (*store.UserMapping, error) {
	mapping, err := b.db.UserBySlackID(ctx, slackUserID)
	if err == nil {
		return mapping, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if !b.blocker.AllowNewUser(ctx) {
		return nil, ErrUserLimitReached
	}

	user, err := b.slack.UserInfo(ctx, slackUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up Slack user %s: %w", slackUserID, err)
	}
	ghostID, err := b.mx.EnsureGhost(ctx, slackUserID)
	if err != nil {
		return nil, err
	}

	mapping = &store.UserMapping{
		MatrixUserID:  ghostID.String(),
		SlackUserID:   slackUserID,
		SlackUsername: user.Username,
		SlackAvatar:   user.AvatarURL,
	}
	if err = b.db.UpsertUser(ctx, mapping); err != nil {
		return nil, err
	}
	b.syncGhostProfile(ctx, user)
	return mapping, nil
}

// syncGhostProfile pushes display name and avatar to the ghost's profile.
// A per-user cache keeps chatty users from triggering a profile write per
// message; only changed profiles go through once the cache entry expires.
func (b *Bridge) syncGhostProfile(ctx context.Context, user *slackrt.UserInfo) {
	signature := user.DisplayName + "\x00" + user.AvatarURL
	if cached, ok := b.profileSync.Get(user.ID); ok && cached == signature {
		return
	}

	displayname := b.cfg.Ghosts.FormatDisplayname(config.DisplaynameParams{
		Name: user.DisplayName,
		ID:   user.ID,
	})

	avatarURI := id.ContentURI{}
	if user.AvatarURL != "" {
		data, mimeType, err := fetchURL(ctx, user.AvatarURL, matrixMediaCeiling)
		if err == nil {
			avatarURI, err = b.mx.UploadMedia(ctx, data, mimeType, "avatar")
		}
		if err != nil {
			b.log.Debug().Err(err).Str("slack_user_id", user.ID).Msg("Avatar sync failed")
		}
	}

	if err := b.mx.SetGhostProfile(ctx, user.ID, displayname, avatarURI); err != nil {
		b.log.Warn().Err(err).Str("slack_user_id", user.ID).Msg("Failed to sync ghost profile")
		return
	}
	b.profileSync.Set(user.ID, signature)

	err := b.db.UpsertUser(ctx, &store.UserMapping{
		MatrixUserID:  b.mx.Namespace().GhostMXID(user.ID).String(),
		SlackUserID:   user.ID,
		SlackUsername: user.Username,
		SlackAvatar:   user.AvatarURL,
	})
	if err != nil {
		b.log.Warn().Err(err).Str("slack_user_id", user.ID).Msg("Failed to persist user mapping")
	}
}
