// Copyright 2024-2026 Aiku AI

package slackrt

import (
	"context"
	"encoding/json"
)

// MessageContext is a normalized inbound Slack message handed to the sink.
type MessageContext struct {
	ChannelID       string
	SourceMessageID string
	SenderID        string
	Content         string
	Attachments     []string
	// ReplyTo is the thread parent timestamp when the message is a thread
	// reply, empty otherwise.
	ReplyTo string
	// EditOf is the edited message's own timestamp when this message is a
	// message_changed payload, empty otherwise.
	EditOf string
	// Permissions is the sender's cached permission set, resolved before
	// dispatch so command handling stays synchronous.
	Permissions PermissionSet
}

// ReactionEvent is an inbound reaction add or remove.
type ReactionEvent struct {
	Added     bool
	ChannelID string
	MessageTS string
	UserID    string
	// Name is the emoji name without colons.
	Name string
}

// EventSink receives decoded realtime events from the transport. Handlers
// must not block the read loop for long; slow work belongs on the bridge's
// own queues.
type EventSink interface {
	HandleSlackMessage(ctx context.Context, msg *MessageContext)
	HandleSlackMessageDeleted(ctx context.Context, channelID, messageTS string)
	HandleSlackReaction(ctx context.Context, reaction *ReactionEvent)
	HandleSlackTyping(ctx context.Context, channelID, userID string)
	HandleSlackUserChange(ctx context.Context, user *UserInfo)
	HandleSlackMemberJoined(ctx context.Context, channelID, userID string)
	HandleSlackMemberLeft(ctx context.Context, channelID, userID string)
	HandleSlackChannelRenamed(ctx context.Context, channelID, name string)
	HandleSlackChannelDeleted(ctx context.Context, channelID string)
	HandleSlackChannelMarked(ctx context.Context, channelID, userID, messageTS string)
	HandleSlackTeamJoin(ctx context.Context, user *UserInfo)
	HandleSlackTeamMemberRemoved(ctx context.Context, userID, teamID string)
	HandleSlackTeamDelete(ctx context.Context, teamID string)
	HandleSlackPresenceChange(ctx context.Context, userID, presence string)
}

// Wire structs for the events_api payloads the bridge consumes. Only the
// fields the dispatch path reads are declared.

type eventCallback struct {
	Type   string          `json:"type"`
	TeamID string          `json:"team_id"`
	Event  json.RawMessage `json:"event"`
}

type eventHeader struct {
	Type    string `json:"type"`
	SubType string `json:"subtype"`
}

type messageEvent struct {
	SubType   string `json:"subtype"`
	Channel   string `json:"channel"`
	User      string `json:"user"`
	BotID     string `json:"bot_id"`
	Text      string `json:"text"`
	TS        string `json:"ts"`
	ThreadTS  string `json:"thread_ts"`
	DeletedTS string `json:"deleted_ts"`

	Message         *messageEvent `json:"message"`
	PreviousMessage *messageEvent `json:"previous_message"`

	Files []fileObject `json:"files"`
}

type fileObject struct {
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	Permalink          string `json:"permalink"`
	PermalinkPublic    string `json:"permalink_public"`
	URLPrivate         string `json:"url_private"`
	URLPrivateDownload string `json:"url_private_download"`
}

// attachmentLinks extracts one link per file, preferring public permalinks,
// with duplicates removed.
func attachmentLinks(files []fileObject) []string {
	var links []string
	seen := make(map[string]struct{})
	for _, file := range files {
		link := pickDisplayName(file.PermalinkPublic, file.Permalink, file.URLPrivateDownload, file.URLPrivate)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}

type reactionWireEvent struct {
	User     string `json:"user"`
	Reaction string `json:"reaction"`
	Item     struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	} `json:"item"`
}

type memberChannelEvent struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
}

type typingEvent struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
}

type channelMarkedEvent struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type channelRenameEvent struct {
	Channel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
}

type channelDeletedEvent struct {
	Channel string `json:"channel"`
}

type userWireObject struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsBot   bool   `json:"is_bot"`
	Deleted bool   `json:"deleted"`
	Profile struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
		Image192    string `json:"image_192"`
		Image512    string `json:"image_512"`
	} `json:"profile"`
}

func (u *userWireObject) toInfo() *UserInfo {
	avatar := u.Profile.Image512
	if avatar == "" {
		avatar = u.Profile.Image192
	}
	return &UserInfo{
		ID:          u.ID,
		Username:    u.Name,
		DisplayName: pickDisplayName(u.Profile.DisplayName, u.Profile.RealName, u.Name),
		AvatarURL:   avatar,
		IsBot:       u.IsBot,
	}
}

type userChangeEvent struct {
	User userWireObject `json:"user"`
}

type presenceChangeEvent struct {
	User     string `json:"user"`
	Presence string `json:"presence"`
}
