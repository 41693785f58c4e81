// Copyright 2024-2026 Aiku AI

package slackrt

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Permission names granted to Slack workspace admins and owners.
const (
	PermManageWebhooks = "MANAGE_WEBHOOKS"
	PermManageChannels = "MANAGE_CHANNELS"
	PermBanMembers     = "BAN_MEMBERS"
	PermKickMembers    = "KICK_MEMBERS"
)

const (
	permissionCacheTTL  = 300 * time.Second
	permissionCacheSize = 1024
)

// PermissionSet is the set of bridge permissions granted to a Slack user.
type PermissionSet map[string]struct{}

// HasAll reports whether every named permission is granted.
func (s PermissionSet) HasAll(perms ...string) bool {
	for _, perm := range perms {
		if _, ok := s[perm]; !ok {
			return false
		}
	}
	return true
}

func adminPermissions() PermissionSet {
	return PermissionSet{
		PermManageWebhooks: {},
		PermManageChannels: {},
		PermBanMembers:     {},
		PermKickMembers:    {},
	}
}

type permissionFetcher func(ctx context.Context, userID string) (PermissionSet, error)

// permissionCache caches users.info-derived permission sets. Failed lookups
// fall back to the empty set and are not cached, so a transient API error
// does not lock a user out for the whole TTL.
type permissionCache struct {
	lru   *expirable.LRU[string, PermissionSet]
	fetch permissionFetcher
	log   zerolog.Logger
}

func newPermissionCache(fetch permissionFetcher, log zerolog.Logger) *permissionCache {
	return &permissionCache{
		lru:   expirable.NewLRU[string, PermissionSet](permissionCacheSize, nil, permissionCacheTTL),
		fetch: fetch,
		log:   log,
	}
}

func (c *permissionCache) Resolve(ctx context.Context, userID string) PermissionSet {
	if cached, ok := c.lru.Get(userID); ok {
		return cached
	}

	perms, err := c.fetch(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to resolve Slack permissions")
		return PermissionSet{}
	}
	c.lru.Add(userID, perms)
	return perms
}

// Invalidate drops the cached set for a user, forcing a refetch.
func (c *permissionCache) Invalidate(userID string) {
	c.lru.Remove(userID)
}
