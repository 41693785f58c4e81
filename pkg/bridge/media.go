// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.mau.fi/util/exmime"
	"maunium.net/go/mautrix/event"
)

const (
	// slackMediaCeiling is the largest file the bridge reuploads to Slack.
	// Bigger Matrix media is relayed as a download link instead.
	slackMediaCeiling = 8 << 20
	// matrixMediaCeiling bounds downloads from Slack before reupload.
	matrixMediaCeiling = 50 << 20
)

// fetchURL downloads a URL with a hard size limit.
func fetchURL(ctx context.Context, url string, limit int64) (data []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("file exceeds %d byte limit", limit)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// attachmentFilename picks a filename for an uploaded attachment, adding
// an extension from the mimetype when the body has none.
func attachmentFilename(content *event.MessageEventContent) string {
	name := content.Body
	if name == "" {
		name = "attachment"
	}
	if !strings.Contains(name, ".") && content.Info != nil && content.Info.MimeType != "" {
		name += exmime.ExtensionFromMimetype(content.Info.MimeType)
	}
	return name
}

// relayAttachmentToSlack mirrors a Matrix media event into the channel.
// Files over the Slack ceiling are relayed as a homeserver download link.
func (b *Bridge) relayAttachmentToSlack(ctx context.Context, channelID string, content *event.MessageEventContent, senderName string) error {
	mxc := content.URL.ParseOrIgnore()
	if mxc.IsEmpty() {
		return fmt.Errorf("attachment has no content URL")
	}

	tooLarge := content.Info != nil && content.Info.Size > slackMediaCeiling
	if !tooLarge {
		data, err := b.mx.DownloadMedia(ctx, mxc)
		if err == nil && len(data) <= slackMediaCeiling {
			return b.slack.UploadFile(ctx, channelID, attachmentFilename(content), data, senderName)
		}
		if err != nil {
			b.log.Warn().Err(err).Msg("Media download failed, falling back to link")
		}
	}

	link := b.mx.DownloadURL(mxc)
	text := fmt.Sprintf("*%s* uploaded a file: %s", senderName, link)
	_, err := b.slack.SendMessage(ctx, channelID, text)
	return err
}
