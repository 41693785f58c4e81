// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"strings"

	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

// customEmojiKey resolves a workspace custom emoji to a Matrix content
// URI, downloading and uploading the image on first sight. Standard
// Unicode emoji return ok=false and keep their ":name:" annotation key.
func (b *Bridge) customEmojiKey(ctx context.Context, name string) (string, bool) {
	if mapping, err := b.db.EmojiBySlackID(ctx, name); err == nil {
		return mapping.MXCURL, true
	}

	url, err := b.slack.EmojiURL(ctx, name)
	if err != nil {
		b.log.Debug().Err(err).Str("emoji", name).Msg("Emoji lookup failed")
		return "", false
	}
	if url == "" {
		return "", false
	}

	data, mimeType, err := fetchURL(ctx, url, matrixMediaCeiling)
	if err != nil {
		b.log.Warn().Err(err).Str("emoji", name).Msg("Emoji download failed")
		return "", false
	}
	mxc, err := b.mx.UploadMedia(ctx, data, mimeType, name)
	if err != nil {
		b.log.Warn().Err(err).Str("emoji", name).Msg("Emoji upload failed")
		return "", false
	}

	err = b.db.CreateEmoji(ctx, &store.EmojiMapping{
		SlackEmojiID: name,
		EmojiName:    name,
		Animated:     strings.HasSuffix(url, ".gif"),
		MXCURL:       mxc.String(),
	})
	if err != nil {
		b.log.Warn().Err(err).Str("emoji", name).Msg("Failed to cache emoji mapping")
	}
	return mxc.String(), true
}
