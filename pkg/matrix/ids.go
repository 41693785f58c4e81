// Copyright 2024-2026 Aiku AI

// Package matrix is the homeserver side of the bridge: an appservice
// listener for incoming events and intent-based clients for the bot and
// the Slack ghost users it puppets.
package matrix

import (
	"strings"

	"maunium.net/go/mautrix/id"
)

// Namespace maps Slack user IDs into the ghost MXID namespace the
// appservice registration claims.
type Namespace struct {
	// Prefix is the localpart prefix, e.g. "_slack_".
	Prefix string
	// Domain is the homeserver domain.
	Domain string
	// BotLocalpart is the bridge bot's localpart.
	BotLocalpart string
}

// GhostMXID returns the ghost user ID for a Slack user. Slack IDs are
// uppercase; localparts must be lowercase.
func (n Namespace) GhostMXID(slackUserID string) id.UserID {
	return id.NewUserID(n.Prefix+strings.ToLower(slackUserID), n.Domain)
}

// ParseGhost extracts the Slack user ID from a ghost MXID. The second
// return is false when the MXID is outside the ghost namespace.
func (n Namespace) ParseGhost(userID id.UserID) (string, bool) {
	localpart, domain, err := userID.Parse()
	if err != nil || domain != n.Domain {
		return "", false
	}
	if !strings.HasPrefix(localpart, n.Prefix) {
		return "", false
	}
	return strings.ToUpper(strings.TrimPrefix(localpart, n.Prefix)), true
}

// IsGhost reports whether a user ID belongs to the ghost namespace.
func (n Namespace) IsGhost(userID id.UserID) bool {
	_, ok := n.ParseGhost(userID)
	return ok
}

// BotMXID returns the bridge bot's own user ID.
func (n Namespace) BotMXID() id.UserID {
	return id.NewUserID(n.BotLocalpart, n.Domain)
}

// IsBridgeUser reports whether a user ID is the bot or any ghost, i.e.
// an event from it is the bridge's own echo.
func (n Namespace) IsBridgeUser(userID id.UserID) bool {
	return userID == n.BotMXID() || n.IsGhost(userID)
}
