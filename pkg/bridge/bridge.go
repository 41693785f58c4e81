// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge contains the core relay logic between Matrix rooms and
// Slack channels: message translation, room provisioning, ghost
// management, presence and moderation fan-out.
package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-slack-bridge/pkg/cache"
	"github.com/aiku/matrix-slack-bridge/pkg/config"
	"github.com/aiku/matrix-slack-bridge/pkg/matrix"
	"github.com/aiku/matrix-slack-bridge/pkg/metrics"
	"github.com/aiku/matrix-slack-bridge/pkg/slackrt"
	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

const (
	// redactReason is attached to redactions mirroring Slack deletions.
	redactReason = "Deleted on Slack"
	// typingTimeout is how long a mirrored typing indicator stays lit.
	typingTimeout = 4000 * time.Millisecond
	// mappingCacheTTL bounds how stale a cached room mapping may get.
	mappingCacheTTL = 300 * time.Second
	// sweepInterval is how often expired cache entries are collected.
	sweepInterval = time.Minute
	// unbridgedNotice is posted into a room when its bridge is removed.
	unbridgedNotice = "This room has been unbridged"
)

// slackAPI is the slice of the Slack client the bridge calls.
type slackAPI interface {
	SendMessage(ctx context.Context, channelID, text string) (string, error)
	SendMessageAsUser(ctx context.Context, channelID, text, threadTS, username, avatarURL string) (string, error)
	UpdateMessage(ctx context.Context, channelID, ts, text string) error
	DeleteMessage(ctx context.Context, channelID, ts string) error
	UploadFile(ctx context.Context, channelID, filename string, data []byte, senderName string) error
	AddReaction(ctx context.Context, channelID, ts, name string) error
	RemoveReaction(ctx context.Context, channelID, ts, name string) error
	ChannelInfo(ctx context.Context, channelID string) (*slackrt.ChannelMeta, error)
	EmojiURL(ctx context.Context, name string) (string, error)
	UserInfo(ctx context.Context, userID string) (*slackrt.UserInfo, error)
	BotUserID() string
	TeamID() string
	TeamName() string
}

// matrixAPI is the slice of the homeserver service the bridge calls.
type matrixAPI interface {
	Namespace() matrix.Namespace
	EnsureGhost(ctx context.Context, slackUserID string) (id.UserID, error)
	SendGhostMessage(ctx context.Context, slackUserID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
	SendNotice(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error)
	RedactAsGhost(ctx context.Context, slackUserID string, roomID id.RoomID, eventID id.EventID, reason string) error
	ReactAsGhost(ctx context.Context, slackUserID string, roomID id.RoomID, target id.EventID, key string) (id.EventID, error)
	SetGhostProfile(ctx context.Context, slackUserID, displayname string, avatarURI id.ContentURI) error
	UserProfile(ctx context.Context, userID id.UserID) (displayname, avatarURL string, err error)
	InviteGhost(ctx context.Context, slackUserID string, roomID id.RoomID) error
	GhostLeave(ctx context.Context, slackUserID string, roomID id.RoomID) error
	KickUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error
	BanUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error
	UnbanUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error
	JoinRoom(ctx context.Context, roomID id.RoomID) error
	LeaveRoom(ctx context.Context, roomID id.RoomID) error
	RoomName(ctx context.Context, roomID id.RoomID) (string, error)
	SetRoomName(ctx context.Context, roomID id.RoomID, name string) error
	RoomTopic(ctx context.Context, roomID id.RoomID) (string, error)
	SetRoomTopic(ctx context.Context, roomID id.RoomID, topic string) error
	UserPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID) (int, error)
	GhostTyping(ctx context.Context, slackUserID string, roomID id.RoomID, typing bool, timeout time.Duration) error
	GhostPresence(ctx context.Context, slackUserID string, presence event.Presence, statusMsg string) error
	GhostMarkRead(ctx context.Context, slackUserID string, roomID id.RoomID, eventID id.EventID) error
	UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (id.ContentURI, error)
	DownloadMedia(ctx context.Context, uri id.ContentURI) ([]byte, error)
	DownloadURL(uri id.ContentURI) string
	CreateRoom(ctx context.Context, name, topic string) (id.RoomID, error)
	DeleteRoomAlias(ctx context.Context, alias id.RoomAlias) error
	JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error)
}

// Bridge relays events between one Slack workspace and the Matrix rooms
// plumbed to its channels.
type Bridge struct {
	cfg     *config.Config
	log     zerolog.Logger
	db      store.Store
	mx      matrixAPI
	slack   slackAPI
	metrics *metrics.Metrics
	clock   clock.Clock

	queue    *ChannelQueue
	prov     *Provisioner
	presence *PresenceQueue
	blocker  *Blocker

	roomsByChannel *cache.Concurrent[string, *store.RoomMapping]
	roomsByMatrix  *cache.Concurrent[string, *store.RoomMapping]
	// profileSync remembers which ghost profiles were synced recently so a
	// chatty user does not trigger a profile write per message.
	profileSync *cache.Concurrent[string, string]
	// senderProfiles caches Matrix sender profiles used for custom-identity
	// Slack sends.
	senderProfiles *cache.Concurrent[string, *senderProfile]

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New wires up a bridge. Start must be called to launch the background
// loops.
func New(cfg *config.Config, db store.Store, mx matrixAPI, slack slackAPI, m *metrics.Metrics, log zerolog.Logger) *Bridge {
	return newWithClock(cfg, db, mx, slack, m, log, clock.New())
}

func newWithClock(cfg *config.Config, db store.Store, mx matrixAPI, slack slackAPI, m *metrics.Metrics, log zerolog.Logger, clk clock.Clock) *Bridge {
	b := &Bridge{
		cfg:            cfg,
		log:            log.With().Str("component", "bridge").Logger(),
		db:             db,
		mx:             mx,
		slack:          slack,
		metrics:        m,
		clock:          clk,
		queue:          NewChannelQueue(),
		presence:       NewPresenceQueue(),
		roomsByChannel: cache.NewConcurrentWithClock[string, *store.RoomMapping](mappingCacheTTL, clk),
		roomsByMatrix:  cache.NewConcurrentWithClock[string, *store.RoomMapping](mappingCacheTTL, clk),
		profileSync:    cache.NewConcurrentWithClock[string, string](mappingCacheTTL, clk),
		senderProfiles: cache.NewConcurrentWithClock[string, *senderProfile](mappingCacheTTL, clk),
	}
	b.prov = NewProvisioner(time.Duration(cfg.Bridge.ProvisioningTimeout)*time.Second, clk)
	b.blocker = NewBlocker(cfg.Bridge.UserLimit, db, b.log)
	return b
}

// Start launches the presence publisher and the cache sweeper.
func (b *Bridge) Start(ctx context.Context) error {
	b.stopChan = make(chan struct{})

	count, err := b.db.CountRooms(ctx)
	if err != nil {
		return err
	}
	b.metrics.BridgedRooms.Set(float64(count))

	if !b.cfg.Bridge.DisablePresence {
		b.wg.Add(1)
		go b.presenceLoop()
	}
	b.wg.Add(1)
	go b.sweepLoop()

	b.log.Info().Int64("bridged_rooms", count).Msg("Bridge started")
	return nil
}

// Stop shuts down the background loops and drains the send queue.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	b.wg.Wait()
	b.queue.Wait()
}

func (b *Bridge) sweepLoop() {
	defer b.wg.Done()
	ticker := b.clock.Ticker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			removed := b.roomsByChannel.Sweep() + b.roomsByMatrix.Sweep() +
				b.profileSync.Sweep() + b.senderProfiles.Sweep()
			if removed > 0 {
				b.log.Debug().Int("removed", removed).Msg("Swept expired cache entries")
			}
			b.metrics.CacheEntries.Set(float64(b.roomsByChannel.Len() + b.roomsByMatrix.Len()))
		}
	}
}

func (b *Bridge) presenceLoop() {
	defer b.wg.Done()
	interval := time.Duration(b.cfg.Bridge.PresenceIntervalMS) * time.Millisecond
	ticker := b.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.publishNextPresence(context.Background())
			b.metrics.PresenceQueueLen.Set(float64(b.presence.Len()))
		}
	}
}

// publishNextPresence pops one coalesced update and pushes it to the
// homeserver. A forbidden response usually means the ghost was never
// registered; register it and retry once.
func (b *Bridge) publishNextPresence(ctx context.Context) {
	update, ok := b.presence.Next()
	if !ok {
		return
	}
	state, statusMsg, drop := MapPresence(update)
	err := b.mx.GhostPresence(ctx, update.UserID, state, statusMsg)
	if err != nil && isForbidden(err) {
		if _, regErr := b.mx.EnsureGhost(ctx, update.UserID); regErr == nil {
			err = b.mx.GhostPresence(ctx, update.UserID, state, statusMsg)
		}
	}
	if err != nil {
		b.log.Debug().Err(err).Str("slack_user_id", update.UserID).Msg("Failed to publish presence")
	}
	// Users cycle back into the queue so their presence keeps refreshing;
	// only an offline publish removes them from tracking.
	if drop {
		b.log.Trace().Str("slack_user_id", update.UserID).Msg("User went offline, dropped from presence tracking")
		return
	}
	b.presence.Enqueue(update)
}

// roomBySlackChannel resolves the mapping for a Slack channel, cache
// first. Returns store.ErrNotFound when the channel is not bridged.
func (b *Bridge) roomBySlackChannel(ctx context.Context, channelID string) (*store.RoomMapping, error) {
	if mapping, ok := b.roomsByChannel.Get(channelID); ok {
		return mapping, nil
	}
	mapping, err := b.db.RoomBySlackChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	b.cacheRoom(mapping)
	return mapping, nil
}

// roomByMatrixID resolves the mapping for a Matrix room, cache first.
func (b *Bridge) roomByMatrixID(ctx context.Context, roomID id.RoomID) (*store.RoomMapping, error) {
	if mapping, ok := b.roomsByMatrix.Get(roomID.String()); ok {
		return mapping, nil
	}
	mapping, err := b.db.RoomByMatrixID(ctx, roomID.String())
	if err != nil {
		return nil, err
	}
	b.cacheRoom(mapping)
	return mapping, nil
}

func (b *Bridge) cacheRoom(mapping *store.RoomMapping) {
	b.roomsByChannel.Set(mapping.SlackChannelID, mapping)
	b.roomsByMatrix.Set(mapping.MatrixRoomID, mapping)
}

func (b *Bridge) uncacheRoom(mapping *store.RoomMapping) {
	b.roomsByChannel.Remove(mapping.SlackChannelID)
	b.roomsByMatrix.Remove(mapping.MatrixRoomID)
}

// isChannelBridged reports whether a Slack channel has a mapping.
func (b *Bridge) isChannelBridged(ctx context.Context, channelID string) bool {
	_, err := b.roomBySlackChannel(ctx, channelID)
	return err == nil
}

// roomLimitReached reports whether adding one more bridge would exceed the
// configured cap. A negative cap disables the check.
func (b *Bridge) roomLimitReached(ctx context.Context) bool {
	if b.cfg.Limits.RoomCount < 0 {
		return false
	}
	count, err := b.db.CountRooms(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to count rooms, refusing new bridge")
		return true
	}
	return count >= int64(b.cfg.Limits.RoomCount)
}

// channelRoomName renders the mirrored room name from the configured
// pattern.
func (b *Bridge) channelRoomName(channelName string) string {
	name := strings.ReplaceAll(b.cfg.Channel.NamePattern, ":guild", b.slack.TeamName())
	return strings.ReplaceAll(name, ":name", "#"+channelName)
}

// isForbidden reports whether an error is a Matrix M_FORBIDDEN response.
func isForbidden(err error) bool {
	return errors.Is(err, mautrix.MForbidden)
}
