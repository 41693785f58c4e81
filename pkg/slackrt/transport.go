// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package slackrt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack/socketmode"
)

const (
	reconnectMin = 2 * time.Second
	reconnectMax = 300 * time.Second
)

// ackWriter is the slice of the websocket connection the frame handler
// needs. Tests inject a recorder.
type ackWriter interface {
	WriteJSON(v any) error
}

// Transport maintains the Socket Mode connection: it opens a WebSocket via
// apps.connections.open, acks envelopes, and dispatches events_api payloads
// to the sink. Connection loss triggers reconnection with exponential
// backoff; a successful connect resets the backoff.
type Transport struct {
	client *Client
	sink   EventSink
	log    zerolog.Logger

	// ReconnectHook, when set, is called once per reconnect attempt.
	ReconnectHook func()

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewTransport creates a transport bound to a connected client and a sink.
func NewTransport(client *Client, sink EventSink, log zerolog.Logger) *Transport {
	return &Transport{
		client:   client,
		sink:     sink,
		log:      log.With().Str("component", "slack_transport").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the connection loop in a goroutine.
func (t *Transport) Start() {
	go t.run()
}

// Stop closes the connection and waits for the loop to exit.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
	<-t.doneChan
}

func (t *Transport) run() {
	defer close(t.doneChan)

	bo := &backoff.Backoff{Min: reconnectMin, Max: reconnectMax, Factor: 2}
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		err := t.runConnection(bo)
		select {
		case <-t.stopChan:
			return
		default:
		}

		wait := bo.Duration()
		t.log.Warn().Err(err).Dur("retry_in", wait).Msg("Socket Mode connection lost, reconnecting")
		if t.ReconnectHook != nil {
			t.ReconnectHook()
		}
		select {
		case <-t.stopChan:
			return
		case <-time.After(wait):
		}
	}
}

// runConnection opens one WebSocket and reads frames until it fails or the
// transport is stopped.
func (t *Transport) runConnection(bo *backoff.Backoff) error {
	ctx := context.Background()

	wsURL, err := t.client.openSocketURL(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	bo.Reset()
	t.log.Info().Msg("Socket Mode connected")

	// Close the connection when Stop is called so the blocked read returns.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-t.stopChan:
			_ = conn.Close()
		case <-readDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if disconnect := t.handleFrame(ctx, conn, data); disconnect {
			return nil
		}
	}
}

// handleFrame acks and dispatches one text frame. It returns true when the
// server asked for a reconnect.
func (t *Transport) handleFrame(ctx context.Context, conn ackWriter, data []byte) (disconnect bool) {
	var req socketmode.Request
	if err := json.Unmarshal(data, &req); err != nil {
		t.log.Warn().Err(err).Msg("Failed to decode Socket Mode frame")
		return false
	}

	// Ack before dispatching so a slow or failing handler never causes
	// Slack to redeliver the envelope.
	if req.EnvelopeID != "" {
		ack := socketmode.Response{EnvelopeID: req.EnvelopeID}
		if err := conn.WriteJSON(ack); err != nil {
			t.log.Warn().Err(err).Str("envelope_id", req.EnvelopeID).Msg("Failed to ack envelope")
		}
	}

	switch req.Type {
	case "hello":
		t.log.Debug().Msg("Socket Mode hello received")
	case "disconnect":
		t.log.Info().Str("reason", req.Reason).Msg("Server requested disconnect")
		return true
	case "events_api":
		t.dispatchEventsAPI(ctx, req.Payload)
	default:
		t.log.Debug().Str("frame_type", req.Type).Msg("Unhandled Socket Mode frame type")
	}
	return false
}

// dispatchEventsAPI routes one events_api envelope payload to the sink.
// Dispatch failures are logged and dropped; they never tear down the
// connection.
func (t *Transport) dispatchEventsAPI(ctx context.Context, payload json.RawMessage) {
	var callback eventCallback
	if err := json.Unmarshal(payload, &callback); err != nil {
		t.log.Warn().Err(err).Msg("Failed to decode events_api payload")
		return
	}
	if callback.Type != "event_callback" || len(callback.Event) == 0 {
		return
	}

	var header eventHeader
	if err := json.Unmarshal(callback.Event, &header); err != nil {
		t.log.Warn().Err(err).Msg("Failed to decode inner event header")
		return
	}

	switch header.Type {
	case "message":
		t.handleMessageEvent(ctx, callback.Event)
	case "reaction_added":
		t.handleReactionEvent(ctx, callback.Event, true)
	case "reaction_removed":
		t.handleReactionEvent(ctx, callback.Event, false)
	case "user_typing":
		var evt typingEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.User != "" {
			t.sink.HandleSlackTyping(ctx, evt.Channel, evt.User)
		}
	case "user_change":
		var evt userChangeEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.User.ID != "" {
			// Admin status may have changed along with the profile.
			t.client.perms.Invalidate(evt.User.ID)
			if evt.User.Deleted {
				// Deactivation is how Slack signals a workspace departure.
				t.sink.HandleSlackTeamMemberRemoved(ctx, evt.User.ID, callback.TeamID)
				return
			}
			t.sink.HandleSlackUserChange(ctx, evt.User.toInfo())
		}
	case "member_joined_channel":
		var evt memberChannelEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.User != "" {
			t.sink.HandleSlackMemberJoined(ctx, evt.Channel, evt.User)
		}
	case "member_left_channel":
		var evt memberChannelEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.User != "" {
			t.sink.HandleSlackMemberLeft(ctx, evt.Channel, evt.User)
		}
	case "channel_rename":
		var evt channelRenameEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.Channel.ID != "" {
			t.sink.HandleSlackChannelRenamed(ctx, evt.Channel.ID, evt.Channel.Name)
		}
	case "channel_deleted":
		var evt channelDeletedEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.Channel != "" {
			t.sink.HandleSlackChannelDeleted(ctx, evt.Channel)
		}
	case "channel_marked":
		var evt channelMarkedEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.Channel != "" {
			t.sink.HandleSlackChannelMarked(ctx, evt.Channel, evt.User, evt.TS)
		}
	case "team_join":
		var evt userChangeEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.User.ID != "" {
			t.sink.HandleSlackTeamJoin(ctx, evt.User.toInfo())
		}
	case "app_uninstalled":
		if callback.TeamID != "" {
			t.sink.HandleSlackTeamDelete(ctx, callback.TeamID)
		}
	case "presence_change":
		var evt presenceChangeEvent
		if json.Unmarshal(callback.Event, &evt) == nil && evt.User != "" {
			t.sink.HandleSlackPresenceChange(ctx, evt.User, evt.Presence)
		}
	default:
		t.log.Debug().Str("event_type", header.Type).Msg("Unhandled event type")
	}
}

// handleMessageEvent splits the message event by subtype: deletions and
// edits are unwrapped, bot_message and other subtypes are dropped, plain
// messages are forwarded as-is.
func (t *Transport) handleMessageEvent(ctx context.Context, data json.RawMessage) {
	var msg messageEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		t.log.Warn().Err(err).Msg("Failed to decode message event")
		return
	}

	switch msg.SubType {
	case "message_deleted":
		ts := msg.DeletedTS
		if ts == "" && msg.PreviousMessage != nil {
			ts = msg.PreviousMessage.TS
		}
		if ts != "" {
			t.sink.HandleSlackMessageDeleted(ctx, msg.Channel, ts)
		}
	case "message_changed":
		if msg.Message == nil {
			return
		}
		inner := *msg.Message
		inner.Channel = msg.Channel
		t.forwardMessage(ctx, &inner, true)
	case "bot_message":
		// Bot messages include the bridge's own webhook sends.
		return
	case "":
		t.forwardMessage(ctx, &msg, false)
	default:
		t.log.Debug().Str("subtype", msg.SubType).Msg("Ignoring message subtype")
	}
}

func (t *Transport) forwardMessage(ctx context.Context, msg *messageEvent, isEdit bool) {
	if t.client.IsOwnMessage(msg.User, msg.BotID) {
		return
	}

	replyTo := ""
	if msg.ThreadTS != "" && msg.ThreadTS != msg.TS {
		replyTo = msg.ThreadTS
	}
	editOf := ""
	if isEdit {
		editOf = msg.TS
	}

	t.sink.HandleSlackMessage(ctx, &MessageContext{
		ChannelID:       msg.Channel,
		SourceMessageID: msg.TS,
		SenderID:        msg.User,
		Content:         msg.Text,
		Attachments:     attachmentLinks(msg.Files),
		ReplyTo:         replyTo,
		EditOf:          editOf,
		Permissions:     t.client.Permissions(ctx, msg.User),
	})
}

func (t *Transport) handleReactionEvent(ctx context.Context, data json.RawMessage, added bool) {
	var evt reactionWireEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.log.Warn().Err(err).Msg("Failed to decode reaction event")
		return
	}
	if evt.Item.Type != "message" || t.client.IsOwnMessage(evt.User, "") {
		return
	}
	t.sink.HandleSlackReaction(ctx, &ReactionEvent{
		Added:     added,
		ChannelID: evt.Item.Channel,
		MessageTS: evt.Item.TS,
		UserID:    evt.User,
		Name:      evt.Reaction,
	})
}
