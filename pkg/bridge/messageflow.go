// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/format/slackfmt"
)

const previewRuneLimit = 120

// OutboundSlackMessage is a Matrix message translated for Slack delivery.
// ReplyTo and EditOf hold Slack timestamps once relation mapping has run,
// or raw Matrix event IDs when no mapping was found.
type OutboundSlackMessage struct {
	Content     string
	Attachments []string
	ReplyTo     string
	EditOf      string
}

// RenderContent renders the Slack message text. Relation markers come
// first, then the body, then attachment links on one line.
func (m *OutboundSlackMessage) RenderContent() string {
	var parts []string
	if m.ReplyTo != "" {
		parts = append(parts, "(reply:"+m.ReplyTo+")")
	}
	if m.EditOf != "" {
		parts = append(parts, "(edit:"+m.EditOf+")")
	}
	if m.Content != "" {
		parts = append(parts, m.Content)
	}
	if len(m.Attachments) > 0 {
		parts = append(parts, strings.Join(m.Attachments, " "))
	}
	return strings.Join(parts, "\n")
}

// OutboundMatrixMessage is a Slack message translated for Matrix delivery.
type OutboundMatrixMessage struct {
	Body        string
	Attachments []string
	ReplyTo     string
	EditOf      string
}

// RenderBody renders the plain-text Matrix body. Reply context is quoted
// above the body, edits get the conventional asterisk prefix plus an edit
// marker, attachments trail one per line.
func (m *OutboundMatrixMessage) RenderBody() string {
	body := m.Body
	if m.ReplyTo != "" {
		body = "> reply to " + m.ReplyTo + "\n" + body
	}
	if m.EditOf != "" {
		body = "* " + body + "\n(edit:" + m.EditOf + ")"
	}
	if len(m.Attachments) > 0 {
		body = body + "\n" + strings.Join(m.Attachments, "\n")
	}
	return body
}

// PreviewText truncates a message for logs and notifications. At most 120
// runes survive; longer input gets an ellipsis appended.
func PreviewText(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRuneLimit {
		return text
	}
	return string(runes[:previewRuneLimit]) + "…"
}

// ParseMatrixMessage extracts the Slack-formatted body and the relations
// from a Matrix message. For edits the replacement content is used and the
// target event ID returned in editOf.
func ParseMatrixMessage(content *event.MessageEventContent) (body string, replyTo, editOf id.EventID) {
	if rel := content.RelatesTo; rel != nil {
		if rel.Type == event.RelReplace {
			editOf = rel.EventID
			if content.NewContent != nil {
				content = content.NewContent
			}
		}
		if reply := rel.GetReplyTo(); reply != "" {
			replyTo = reply
		}
	}
	return slackfmt.Parse(content), replyTo, editOf
}
