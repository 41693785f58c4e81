// Copyright 2024-2026 Aiku AI

package bridge

import (
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestMapPresence(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		update     PresenceUpdate
		wantState  event.Presence
		wantStatus string
		wantDrop   bool
	}{
		{
			name:      "online",
			update:    PresenceUpdate{Status: StatusOnline},
			wantState: event.PresenceOnline,
		},
		{
			name:       "dnd without activity",
			update:     PresenceUpdate{Status: StatusDnd},
			wantState:  event.PresenceOnline,
			wantStatus: "Do not disturb",
		},
		{
			name: "dnd with streaming activity",
			update: PresenceUpdate{
				Status:   StatusDnd,
				Activity: &Activity{Kind: "STREAMING", Name: "Rust", URL: "https://example.org"},
			},
			wantState:  event.PresenceOnline,
			wantStatus: "Do not disturb | Streaming Rust | https://example.org",
		},
		{
			name:      "idle",
			update:    PresenceUpdate{Status: StatusIdle},
			wantState: event.PresenceUnavailable,
		},
		{
			name:      "offline drops the user",
			update:    PresenceUpdate{Status: StatusOffline},
			wantState: event.PresenceOffline,
			wantDrop:  true,
		},
		{
			name: "offline keeps the activity line",
			update: PresenceUpdate{
				Status:   StatusOffline,
				Activity: &Activity{Kind: "playing", Name: "chess"},
			},
			wantState:  event.PresenceOffline,
			wantStatus: "Playing chess",
			wantDrop:   true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			state, status, drop := MapPresence(tc.update)
			if state != tc.wantState {
				t.Errorf("presence = %q, want %q", state, tc.wantState)
			}
			if status != tc.wantStatus {
				t.Errorf("status = %q, want %q", status, tc.wantStatus)
			}
			if drop != tc.wantDrop {
				t.Errorf("drop = %v, want %v", drop, tc.wantDrop)
			}
		})
	}
}

func TestFormatActivity(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		activity *Activity
		want     string
	}{
		{name: "nil", activity: nil, want: ""},
		{name: "kind only", activity: &Activity{Kind: "playing"}, want: "Playing"},
		{name: "kind and name", activity: &Activity{Kind: "PLAYING", Name: "chess"}, want: "Playing chess"},
		{
			name:     "with url",
			activity: &Activity{Kind: "streaming", Name: "Go", URL: "https://example.org/live"},
			want:     "Streaming Go | https://example.org/live",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatActivity(tc.activity); got != tc.want {
				t.Errorf("FormatActivity = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPresenceQueueCoalesces(t *testing.T) {
	t.Parallel()
	queue := NewPresenceQueue()

	queue.Enqueue(PresenceUpdate{UserID: "U1", Status: StatusOnline})
	queue.Enqueue(PresenceUpdate{UserID: "U2", Status: StatusOnline})
	// Newer update for U1 replaces the pending one but keeps its slot.
	queue.Enqueue(PresenceUpdate{UserID: "U1", Status: StatusIdle})

	if queue.Len() != 2 {
		t.Fatalf("Len = %d, want 2", queue.Len())
	}

	first, ok := queue.Next()
	if !ok || first.UserID != "U1" || first.Status != StatusIdle {
		t.Errorf("first = %+v, want U1 idle", first)
	}
	second, ok := queue.Next()
	if !ok || second.UserID != "U2" {
		t.Errorf("second = %+v, want U2", second)
	}
	if _, ok := queue.Next(); ok {
		t.Error("queue should be empty")
	}
}
