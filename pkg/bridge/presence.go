// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"strings"
	"sync"

	"maunium.net/go/mautrix/event"
)

// PresenceStatus is a normalized Slack-side presence state.
type PresenceStatus int

const (
	StatusOnline PresenceStatus = iota
	StatusDnd
	StatusIdle
	StatusOffline
)

// Activity is what a user is currently doing, attached to DnD status
// messages.
type Activity struct {
	Kind string
	Name string
	URL  string
}

// PresenceUpdate is one pending presence change for a Slack user.
type PresenceUpdate struct {
	UserID   string
	Status   PresenceStatus
	Activity *Activity
}

// FormatActivity renders an activity as "Kind name", with the kind
// titlecased, plus the URL when one is set.
func FormatActivity(a *Activity) string {
	if a == nil || a.Kind == "" {
		return ""
	}
	kind := strings.ToUpper(a.Kind[:1]) + strings.ToLower(a.Kind[1:])
	out := kind
	if a.Name != "" {
		out += " " + a.Name
	}
	if a.URL != "" {
		out += " | " + a.URL
	}
	return out
}

// MapPresence translates a presence update into the Matrix presence state
// and status message. The drop flag tells the caller to forget the user:
// offline users are published once and then removed from the queue.
func MapPresence(update PresenceUpdate) (presence event.Presence, statusMsg string, drop bool) {
	switch update.Status {
	case StatusDnd:
		statusMsg = "Do not disturb"
		if activity := FormatActivity(update.Activity); activity != "" {
			statusMsg += " | " + activity
		}
		return event.PresenceOnline, statusMsg, false
	case StatusIdle:
		return event.PresenceUnavailable, FormatActivity(update.Activity), false
	case StatusOffline:
		return event.PresenceOffline, FormatActivity(update.Activity), true
	default:
		return event.PresenceOnline, FormatActivity(update.Activity), false
	}
}

// PresenceQueue coalesces presence updates per user. A user appears at
// most once; a newer update overwrites the pending one without losing the
// user's position in line.
type PresenceQueue struct {
	mu      sync.Mutex
	order   []string
	pending map[string]PresenceUpdate
}

// NewPresenceQueue creates an empty queue.
func NewPresenceQueue() *PresenceQueue {
	return &PresenceQueue{pending: make(map[string]PresenceUpdate)}
}

// Enqueue adds or replaces the pending update for a user.
func (q *PresenceQueue) Enqueue(update PresenceUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[update.UserID]; !ok {
		q.order = append(q.order, update.UserID)
	}
	q.pending[update.UserID] = update
}

// Next pops the oldest pending update. The second return is false when
// the queue is empty.
func (q *PresenceQueue) Next() (PresenceUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return PresenceUpdate{}, false
	}
	userID := q.order[0]
	q.order = q.order[1:]
	update := q.pending[userID]
	delete(q.pending, userID)
	return update, true
}

// Len reports how many users have a pending update.
func (q *PresenceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
