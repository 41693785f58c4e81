// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aiku/matrix-slack-bridge/pkg/store"
)

// Blocker gates ghost creation on the configured user limit. When the
// limit is reached the bridge keeps relaying for known users but stops
// materializing ghosts for new ones.
type Blocker struct {
	limit   *uint32
	db      store.Store
	log     zerolog.Logger
	blocked atomic.Bool
}

// NewBlocker creates a blocker. A nil limit disables it.
func NewBlocker(limit *uint32, db store.Store, log zerolog.Logger) *Blocker {
	return &Blocker{
		limit: limit,
		db:    db,
		log:   log.With().Str("component", "blocker").Logger(),
	}
}

// Refresh recomputes the blocked state from the current user count.
func (bl *Blocker) Refresh(ctx context.Context) {
	if bl.limit == nil {
		return
	}
	count, err := bl.db.CountUsers(ctx)
	if err != nil {
		bl.log.Warn().Err(err).Msg("Failed to count users")
		return
	}
	nowBlocked := count >= int64(*bl.limit)
	if nowBlocked != bl.blocked.Load() {
		bl.blocked.Store(nowBlocked)
		if nowBlocked {
			bl.log.Warn().Int64("users", count).Uint32("limit", *bl.limit).
				Msg("User limit reached, new ghosts blocked")
		} else {
			bl.log.Info().Int64("users", count).Msg("User count back under limit")
		}
	}
}

// AllowNewUser reports whether a ghost may be created for a user the
// bridge has not seen before.
func (bl *Blocker) AllowNewUser(ctx context.Context) bool {
	if bl.limit == nil {
		return true
	}
	bl.Refresh(ctx)
	return !bl.blocked.Load()
}
