// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Errors returned from a provisioning round trip.
var (
	ErrRequestPending  = errors.New("a bridge request is already pending for this channel")
	ErrRequestDeclined = errors.New("the bridge request was declined")
	ErrRequestTimedOut = errors.New("the bridge request timed out")
	ErrRequestCancelled = errors.New("the bridge request was cancelled")
)

// ResolveResult reports what an approve/deny reply applied to.
type ResolveResult int

const (
	// ResolveApplied means a pending request consumed the reply.
	ResolveApplied ResolveResult = iota
	// ResolveExpired means the reply arrived after the request was gone.
	ResolveExpired
)

// Provisioner coordinates bridge requests that need a Slack-side answer.
// One request may be pending per channel; the Matrix side blocks in Await
// until an admin replies, the timeout fires, or the request is aborted.
type Provisioner struct {
	mu      sync.Mutex
	pending map[string]chan bool
	timeout time.Duration
	clock   clock.Clock
}

// NewProvisioner creates a coordinator with the given answer timeout.
func NewProvisioner(timeout time.Duration, clk clock.Clock) *Provisioner {
	return &Provisioner{
		pending: make(map[string]chan bool),
		timeout: timeout,
		clock:   clk,
	}
}

// PromptMessage renders the approval prompt posted into the Slack channel.
// The deadline is shown in whole minutes, never under one.
func PromptMessage(requestor string, timeoutSecs uint64) string {
	if timeoutSecs < 60 {
		timeoutSecs = 60
	}
	minutes := (timeoutSecs + 59) / 60
	return fmt.Sprintf("%s on matrix would like to bridge this channel. Someone with permission "+
		"to manage webhooks please reply with `!matrix approve` or `!matrix deny` in the next %d minutes.",
		requestor, minutes)
}

// Begin registers a pending request for a channel. A second request while
// one is pending fails with ErrRequestPending.
func (p *Provisioner) Begin(channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[channelID]; ok {
		return ErrRequestPending
	}
	p.pending[channelID] = make(chan bool, 1)
	return nil
}

// Abort drops a pending request without an answer, e.g. when the prompt
// could not be delivered.
func (p *Provisioner) Abort(channelID string) {
	p.remove(channelID)
}

// Await blocks until the request is answered, times out, or the context is
// cancelled. nil means approved.
func (p *Provisioner) Await(ctx context.Context, channelID string) error {
	p.mu.Lock()
	decision, ok := p.pending[channelID]
	p.mu.Unlock()
	if !ok {
		return ErrRequestCancelled
	}

	timer := p.clock.Timer(p.timeout)
	defer timer.Stop()

	select {
	case approved := <-decision:
		if approved {
			return nil
		}
		return ErrRequestDeclined
	case <-timer.C:
		p.remove(channelID)
		return ErrRequestTimedOut
	case <-ctx.Done():
		p.remove(channelID)
		return ErrRequestCancelled
	}
}

// Resolve delivers an approve or deny reply. Replies for channels with no
// pending request report ResolveExpired.
func (p *Provisioner) Resolve(channelID string, approved bool) ResolveResult {
	p.mu.Lock()
	decision, ok := p.pending[channelID]
	if ok {
		delete(p.pending, channelID)
	}
	p.mu.Unlock()
	if !ok {
		return ResolveExpired
	}
	decision <- approved
	return ResolveApplied
}

func (p *Provisioner) remove(channelID string) {
	p.mu.Lock()
	delete(p.pending, channelID)
	p.mu.Unlock()
}
