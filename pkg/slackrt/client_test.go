// Copyright 2024-2026 Aiku AI

package slackrt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// newWebAPITestClient points a Client at a stub Web API server.
func newWebAPITestClient(t *testing.T, sendDelay time.Duration, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		api:       slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/")),
		log:       zerolog.Nop(),
		sendDelay: sendDelay,
	}
}

func TestReactionsRespectSendDelay(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls []string
	client := newWebAPITestClient(t, 20*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	start := time.Now()
	if err := client.AddReaction(context.Background(), "C1", "100.1", "wave"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := client.RemoveReaction(context.Background(), "C1", "100.1", "wave"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("two reaction calls took %v, want at least two send delays", elapsed)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/reactions.add", "/reactions.remove"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestReactionErrorTolerance(t *testing.T) {
	t.Parallel()

	client := newWebAPITestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/reactions.add":
			_, _ = w.Write([]byte(`{"ok":false,"error":"already_reacted"}`))
		case "/reactions.remove":
			_, _ = w.Write([]byte(`{"ok":false,"error":"no_reaction"}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error":"unknown_method"}`))
		}
	})

	if err := client.AddReaction(context.Background(), "C1", "100.1", "wave"); err != nil {
		t.Errorf("already_reacted should be tolerated, got %v", err)
	}
	if err := client.RemoveReaction(context.Background(), "C1", "100.1", "wave"); err != nil {
		t.Errorf("no_reaction should be tolerated, got %v", err)
	}
}
