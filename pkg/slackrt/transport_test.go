// Copyright 2024-2026 Aiku AI

package slackrt

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack/socketmode"
)

// recordingSink records every dispatched event into an ordered trace.
type recordingSink struct {
	trace    []string
	messages []*MessageContext
}

func (s *recordingSink) HandleSlackMessage(ctx context.Context, msg *MessageContext) {
	s.trace = append(s.trace, "message")
	s.messages = append(s.messages, msg)
}

func (s *recordingSink) HandleSlackMessageDeleted(ctx context.Context, channelID, messageTS string) {
	s.trace = append(s.trace, fmt.Sprintf("deleted %s %s", channelID, messageTS))
}

func (s *recordingSink) HandleSlackReaction(ctx context.Context, reaction *ReactionEvent) {
	s.trace = append(s.trace, fmt.Sprintf("reaction %v %s %s", reaction.Added, reaction.Name, reaction.MessageTS))
}

func (s *recordingSink) HandleSlackTyping(ctx context.Context, channelID, userID string) {
	s.trace = append(s.trace, fmt.Sprintf("typing %s %s", channelID, userID))
}

func (s *recordingSink) HandleSlackUserChange(ctx context.Context, user *UserInfo) {
	s.trace = append(s.trace, "user_change "+user.ID)
}

func (s *recordingSink) HandleSlackMemberJoined(ctx context.Context, channelID, userID string) {
	s.trace = append(s.trace, fmt.Sprintf("joined %s %s", channelID, userID))
}

func (s *recordingSink) HandleSlackMemberLeft(ctx context.Context, channelID, userID string) {
	s.trace = append(s.trace, fmt.Sprintf("left %s %s", channelID, userID))
}

func (s *recordingSink) HandleSlackChannelRenamed(ctx context.Context, channelID, name string) {
	s.trace = append(s.trace, fmt.Sprintf("renamed %s %s", channelID, name))
}

func (s *recordingSink) HandleSlackChannelDeleted(ctx context.Context, channelID string) {
	s.trace = append(s.trace, "channel_deleted "+channelID)
}

func (s *recordingSink) HandleSlackChannelMarked(ctx context.Context, channelID, userID, messageTS string) {
	s.trace = append(s.trace, fmt.Sprintf("marked %s %s %s", channelID, userID, messageTS))
}

func (s *recordingSink) HandleSlackTeamJoin(ctx context.Context, user *UserInfo) {
	s.trace = append(s.trace, "team_join "+user.ID)
}

func (s *recordingSink) HandleSlackTeamMemberRemoved(ctx context.Context, userID, teamID string) {
	s.trace = append(s.trace, fmt.Sprintf("member_removed %s %s", userID, teamID))
}

func (s *recordingSink) HandleSlackTeamDelete(ctx context.Context, teamID string) {
	s.trace = append(s.trace, "team_delete "+teamID)
}

func (s *recordingSink) HandleSlackPresenceChange(ctx context.Context, userID, presence string) {
	s.trace = append(s.trace, fmt.Sprintf("presence %s %s", userID, presence))
}

// ackRecorder captures WriteJSON calls and feeds the shared trace so tests
// can assert ack ordering relative to dispatch.
type ackRecorder struct {
	sink  *recordingSink
	acked []string
}

func (a *ackRecorder) WriteJSON(v any) error {
	resp, ok := v.(socketmode.Response)
	if !ok {
		return fmt.Errorf("unexpected ack payload %T", v)
	}
	a.acked = append(a.acked, resp.EnvelopeID)
	a.sink.trace = append(a.sink.trace, "ack "+resp.EnvelopeID)
	return nil
}

func newTestTransport(t *testing.T) (*Transport, *recordingSink, *ackRecorder) {
	t.Helper()
	client := NewClient("xoxb-test", "xapp-test", 0, zerolog.Nop())
	client.botUserID = "UBOT"
	client.botID = "BBOT"
	client.perms = newPermissionCache(func(ctx context.Context, userID string) (PermissionSet, error) {
		return adminPermissions(), nil
	}, zerolog.Nop())

	sink := &recordingSink{}
	tr := NewTransport(client, sink, zerolog.Nop())
	return tr, sink, &ackRecorder{sink: sink}
}

func eventsAPIFrame(t *testing.T, envelopeID string, event string) []byte {
	t.Helper()
	payload := fmt.Sprintf(`{"type":"event_callback","team_id":"T1","event":%s}`, event)
	frame := map[string]any{
		"type":        "events_api",
		"envelope_id": envelopeID,
		"payload":     json.RawMessage(payload),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func TestHandleFrameAcksBeforeDispatch(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	frame := eventsAPIFrame(t, "env-1",
		`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"100.1"}`)
	if disconnect := tr.handleFrame(context.Background(), conn, frame); disconnect {
		t.Fatal("message frame must not request disconnect")
	}

	want := []string{"ack env-1", "message"}
	if len(sink.trace) != len(want) {
		t.Fatalf("trace = %v, want %v", sink.trace, want)
	}
	for i := range want {
		if sink.trace[i] != want[i] {
			t.Errorf("trace[%d] = %q, want %q", i, sink.trace[i], want[i])
		}
	}
}

func TestHandleFrameDisconnectRequestsReconnect(t *testing.T) {
	t.Parallel()
	tr, _, conn := newTestTransport(t)

	frame := []byte(`{"type":"disconnect","reason":"refresh_requested"}`)
	if disconnect := tr.handleFrame(context.Background(), conn, frame); !disconnect {
		t.Error("disconnect frame must request reconnect")
	}
	if len(conn.acked) != 0 {
		t.Errorf("disconnect frame acked %v, want no acks", conn.acked)
	}
}

func TestHandleFrameHelloAndUnknown(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	for _, frame := range []string{
		`{"type":"hello"}`,
		`{"type":"slash_commands","envelope_id":"env-x","payload":{}}`,
		`not json at all`,
	} {
		if tr.handleFrame(context.Background(), conn, []byte(frame)) {
			t.Errorf("frame %q must not request disconnect", frame)
		}
	}
	if len(sink.trace) != 1 || sink.trace[0] != "ack env-x" {
		t.Errorf("trace = %v, want only the slash_commands ack", sink.trace)
	}
}

func TestDispatchPlainMessage(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	frame := eventsAPIFrame(t, "env-1", `{
		"type":"message","channel":"C1","user":"U1","text":"hello there",
		"ts":"100.2","thread_ts":"100.1",
		"files":[
			{"name":"a.png","permalink":"https://files/a"},
			{"name":"b.png","permalink":"https://files/b","permalink_public":"https://pub/b"},
			{"name":"dup.png","permalink":"https://files/a"}
		]
	}`)
	tr.handleFrame(context.Background(), conn, frame)

	if len(sink.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(sink.messages))
	}
	msg := sink.messages[0]
	if msg.ChannelID != "C1" || msg.SenderID != "U1" || msg.SourceMessageID != "100.2" {
		t.Errorf("unexpected identity fields: %+v", msg)
	}
	if msg.Content != "hello there" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello there")
	}
	if msg.ReplyTo != "100.1" {
		t.Errorf("ReplyTo = %q, want thread parent %q", msg.ReplyTo, "100.1")
	}
	if msg.EditOf != "" {
		t.Errorf("EditOf = %q, want empty for a plain message", msg.EditOf)
	}
	wantLinks := []string{"https://files/a", "https://pub/b"}
	if len(msg.Attachments) != len(wantLinks) {
		t.Fatalf("Attachments = %v, want %v", msg.Attachments, wantLinks)
	}
	for i := range wantLinks {
		if msg.Attachments[i] != wantLinks[i] {
			t.Errorf("Attachments[%d] = %q, want %q", i, msg.Attachments[i], wantLinks[i])
		}
	}
	if !msg.Permissions.HasAll(PermManageWebhooks) {
		t.Error("sender permissions not resolved before dispatch")
	}
}

func TestThreadRootIsNotAReply(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	frame := eventsAPIFrame(t, "env-1",
		`{"type":"message","channel":"C1","user":"U1","text":"root","ts":"100.1","thread_ts":"100.1"}`)
	tr.handleFrame(context.Background(), conn, frame)

	if len(sink.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(sink.messages))
	}
	if got := sink.messages[0].ReplyTo; got != "" {
		t.Errorf("ReplyTo = %q, want empty when thread_ts equals ts", got)
	}
}

func TestMessageChangedUnwrapsInnerMessage(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	frame := eventsAPIFrame(t, "env-1", `{
		"type":"message","subtype":"message_changed","channel":"C1",
		"message":{"user":"U1","text":"edited text","ts":"100.5"},
		"previous_message":{"user":"U1","text":"old text","ts":"100.5"}
	}`)
	tr.handleFrame(context.Background(), conn, frame)

	if len(sink.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(sink.messages))
	}
	msg := sink.messages[0]
	if msg.EditOf != "100.5" {
		t.Errorf("EditOf = %q, want %q", msg.EditOf, "100.5")
	}
	if msg.ChannelID != "C1" {
		t.Errorf("ChannelID = %q, want outer channel %q", msg.ChannelID, "C1")
	}
	if msg.Content != "edited text" {
		t.Errorf("Content = %q, want inner text", msg.Content)
	}
}

func TestMessageDeletedFallsBackToPreviousMessage(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-1",
		`{"type":"message","subtype":"message_deleted","channel":"C1","deleted_ts":"100.3"}`))
	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-2",
		`{"type":"message","subtype":"message_deleted","channel":"C1","previous_message":{"ts":"100.4"}}`))

	var deletions []string
	for _, entry := range sink.trace {
		if len(entry) > 7 && entry[:7] == "deleted" {
			deletions = append(deletions, entry)
		}
	}
	want := []string{"deleted C1 100.3", "deleted C1 100.4"}
	if len(deletions) != len(want) {
		t.Fatalf("deletions = %v, want %v", deletions, want)
	}
	for i := range want {
		if deletions[i] != want[i] {
			t.Errorf("deletions[%d] = %q, want %q", i, deletions[i], want[i])
		}
	}
}

func TestOwnMessagesAreSuppressed(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-1",
		`{"type":"message","channel":"C1","user":"UBOT","text":"echo","ts":"100.1"}`))
	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-2",
		`{"type":"message","subtype":"bot_message","channel":"C1","bot_id":"BBOT","text":"webhook echo","ts":"100.2"}`))
	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-3",
		`{"type":"reaction_added","user":"UBOT","reaction":"thumbsup","item":{"type":"message","channel":"C1","ts":"100.1"}}`))

	if len(sink.messages) != 0 {
		t.Errorf("own messages leaked through: %+v", sink.messages)
	}
	for _, entry := range sink.trace {
		if len(entry) > 8 && entry[:8] == "reaction" {
			t.Errorf("own reaction leaked through: %q", entry)
		}
	}
}

func TestReactionDispatch(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-1",
		`{"type":"reaction_added","user":"U1","reaction":"wave","item":{"type":"message","channel":"C1","ts":"100.1"}}`))
	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-2",
		`{"type":"reaction_removed","user":"U1","reaction":"wave","item":{"type":"message","channel":"C1","ts":"100.1"}}`))
	// Reactions to non-message items are dropped.
	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-3",
		`{"type":"reaction_added","user":"U1","reaction":"wave","item":{"type":"file","channel":"C1","ts":"100.1"}}`))

	var reactions []string
	for _, entry := range sink.trace {
		if len(entry) > 8 && entry[:8] == "reaction" {
			reactions = append(reactions, entry)
		}
	}
	want := []string{"reaction true wave 100.1", "reaction false wave 100.1"}
	if len(reactions) != len(want) {
		t.Fatalf("reactions = %v, want %v", reactions, want)
	}
	for i := range want {
		if reactions[i] != want[i] {
			t.Errorf("reactions[%d] = %q, want %q", i, reactions[i], want[i])
		}
	}
}

func TestLifecycleEventDispatch(t *testing.T) {
	t.Parallel()
	tr, sink, conn := newTestTransport(t)

	frames := []string{
		`{"type":"user_typing","channel":"C1","user":"U1"}`,
		`{"type":"member_joined_channel","channel":"C1","user":"U2"}`,
		`{"type":"member_left_channel","channel":"C1","user":"U2"}`,
		`{"type":"channel_rename","channel":{"id":"C1","name":"new-name"}}`,
		`{"type":"channel_deleted","channel":"C1"}`,
		`{"type":"channel_marked","channel":"C1","user":"U1","ts":"100.9"}`,
		`{"type":"user_change","user":{"id":"U3","name":"carol","profile":{"display_name":"Carol"}}}`,
		`{"type":"user_change","user":{"id":"U5","name":"eve","deleted":true,"profile":{}}}`,
		`{"type":"team_join","user":{"id":"U4","name":"dave","profile":{}}}`,
		`{"type":"app_uninstalled"}`,
		`{"type":"presence_change","user":"U1","presence":"away"}`,
	}
	for i, event := range frames {
		tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, fmt.Sprintf("env-%d", i), event))
	}

	want := []string{
		"typing C1 U1",
		"joined C1 U2",
		"left C1 U2",
		"renamed C1 new-name",
		"channel_deleted C1",
		"marked C1 U1 100.9",
		"user_change U3",
		"member_removed U5 T1",
		"team_join U4",
		"team_delete T1",
		"presence U1 away",
	}
	var dispatched []string
	for _, entry := range sink.trace {
		if len(entry) < 4 || entry[:4] != "ack " {
			dispatched = append(dispatched, entry)
		}
	}
	if len(dispatched) != len(want) {
		t.Fatalf("dispatched = %v, want %v", dispatched, want)
	}
	for i := range want {
		if dispatched[i] != want[i] {
			t.Errorf("dispatched[%d] = %q, want %q", i, dispatched[i], want[i])
		}
	}
}

func TestUserChangeInvalidatesPermissionCache(t *testing.T) {
	t.Parallel()
	tr, _, conn := newTestTransport(t)

	fetches := 0
	tr.client.perms = newPermissionCache(func(ctx context.Context, userID string) (PermissionSet, error) {
		fetches++
		return PermissionSet{}, nil
	}, zerolog.Nop())

	tr.client.Permissions(context.Background(), "U3")
	tr.client.Permissions(context.Background(), "U3")
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1 before the profile change", fetches)
	}

	tr.handleFrame(context.Background(), conn, eventsAPIFrame(t, "env-1",
		`{"type":"user_change","user":{"id":"U3","name":"carol","profile":{}}}`))

	tr.client.Permissions(context.Background(), "U3")
	if fetches != 2 {
		t.Errorf("fetches = %d, want a refetch after user_change", fetches)
	}
}

func TestStopWithoutStartDoesNotHang(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTransport(t)

	close(tr.doneChan)
	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
