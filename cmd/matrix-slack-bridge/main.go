// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command matrix-slack-bridge is a Matrix appservice that plumbs Slack
// channels into Matrix rooms. It consumes Slack events over Socket Mode,
// mirrors Slack users as Matrix ghosts, and relays messages, reactions,
// edits and moderation actions in both directions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	flag "maunium.net/go/mauflag"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/matrix-slack-bridge/pkg/bridge"
	"github.com/aiku/matrix-slack-bridge/pkg/config"
	"github.com/aiku/matrix-slack-bridge/pkg/matrix"
	"github.com/aiku/matrix-slack-bridge/pkg/metrics"
	"github.com/aiku/matrix-slack-bridge/pkg/slackrt"
	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath      = flag.MakeFull("c", "config", "Path to the config file.", "config.yaml").String()
	generateExample = flag.MakeFull("e", "generate-example-config", "Print an example config and exit.", "false").Bool()
	wantHelp, _     = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		"matrix-slack-bridge - A Matrix-Slack plumbing bridge.",
		"matrix-slack-bridge [-c <path>] [-e]")
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	}
	if *wantHelp {
		flag.PrintHelp()
		return
	}
	if *generateExample {
		fmt.Print(config.ExampleConfig)
		return
	}

	// A .env next to the binary can carry the token overrides.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	log, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Bridge failed")
	}
}

func buildLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}
	var out io.Writer = os.Stdout
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMilli}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: m.Handler()}
		go func() {
			log.Info().Str("listen", cfg.Metrics.Listen).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	svc, err := matrix.NewService(cfg, log)
	if err != nil {
		return err
	}

	client := slackrt.NewClient(cfg.Auth.BotToken, cfg.Auth.AppToken,
		time.Duration(cfg.Limits.SlackSendDelayMS)*time.Millisecond, log)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	br := bridge.New(cfg, db, svc, client, m, log)

	svc.OnEvent(event.EventMessage, br.HandleMatrixMessage)
	svc.OnEvent(event.EventSticker, br.HandleMatrixMessage)
	svc.OnEvent(event.EventRedaction, br.HandleMatrixRedaction)
	svc.OnEvent(event.EventReaction, br.HandleMatrixReaction)
	svc.OnEvent(event.StateMember, br.HandleMatrixMembership)
	svc.OnEvent(event.StateRoomName, br.HandleMatrixStateChange)
	svc.OnEvent(event.StateTopic, br.HandleMatrixStateChange)
	svc.OnEvent(event.StatePowerLevels, br.HandleMatrixStateChange)
	svc.OnEvent(event.StateEncryption, br.HandleMatrixEncryption)

	transport := slackrt.NewTransport(client, br, log)
	transport.ReconnectHook = m.Reconnects.Inc

	if err := svc.Start(ctx); err != nil {
		return err
	}
	if err := br.Start(ctx); err != nil {
		return err
	}
	transport.Start()

	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Bridge is running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	transport.Stop()
	svc.Stop()
	cancel()
	br.Stop()
	return nil
}
