// Copyright 2024-2026 Aiku AI

package matrix

import (
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Bridge.Domain = "example.org"
	cfg.Bridge.HomeserverURL = "http://localhost:8008"
	cfg.Bridge.BindAddress = "127.0.0.1"
	cfg.Bridge.Port = 9005
	cfg.Ghosts.UsernamePrefix = "_slack_"
	cfg.Registration.ID = "slack-bridge"
	cfg.Registration.ASToken = "as-token"
	cfg.Registration.HSToken = "hs-token"
	cfg.Registration.SenderLocalpart = "slackbot"

	svc, err := NewService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestDownloadURL(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	got := svc.DownloadURL(id.ContentURI{Homeserver: "example.org", FileID: "abc123"})
	want := "http://localhost:8008/_matrix/media/v3/download/example.org/abc123"
	if got != want {
		t.Errorf("DownloadURL = %q, want %q", got, want)
	}
}

func TestNamespaceFromConfig(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	ns := svc.Namespace()
	if got, want := ns.BotMXID(), id.UserID("@slackbot:example.org"); got != want {
		t.Errorf("BotMXID = %q, want %q", got, want)
	}
	if got, want := ns.GhostMXID("U1"), id.UserID("@_slack_u1:example.org"); got != want {
		t.Errorf("GhostMXID = %q, want %q", got, want)
	}
}
