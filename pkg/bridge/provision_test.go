// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestPromptMessage(t *testing.T) {
	t.Parallel()

	got := PromptMessage("@alice:example.org", 300)
	want := "@alice:example.org on matrix would like to bridge this channel. Someone with permission " +
		"to manage webhooks please reply with `!matrix approve` or `!matrix deny` in the next 5 minutes."
	if got != want {
		t.Errorf("PromptMessage = %q, want %q", got, want)
	}

	// Sub-minute timeouts round up to one minute.
	if got := PromptMessage("@a:b", 10); got != PromptMessage("@a:b", 60) {
		t.Error("timeouts under a minute should render as 1 minute")
	}
	// 61 seconds rounds up to 2 minutes.
	got = PromptMessage("@a:b", 61)
	want = "@a:b on matrix would like to bridge this channel. Someone with permission " +
		"to manage webhooks please reply with `!matrix approve` or `!matrix deny` in the next 2 minutes."
	if got != want {
		t.Errorf("PromptMessage(61s) = %q, want %q", got, want)
	}
}

func TestProvisionerApproveAndDeny(t *testing.T) {
	t.Parallel()
	prov := NewProvisioner(5*time.Minute, clock.NewMock())

	if err := prov.Begin("C1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- prov.Await(context.Background(), "C1") }()

	waitForResolve(t, prov, "C1", true)
	if err := <-done; err != nil {
		t.Errorf("approved request returned %v, want nil", err)
	}

	if err := prov.Begin("C1"); err != nil {
		t.Fatalf("Begin after resolve: %v", err)
	}
	go func() { done <- prov.Await(context.Background(), "C1") }()
	waitForResolve(t, prov, "C1", false)
	if err := <-done; !errors.Is(err, ErrRequestDeclined) {
		t.Errorf("denied request returned %v, want ErrRequestDeclined", err)
	}
}

// waitForResolve retries Resolve until the Await goroutine has registered.
func waitForResolve(t *testing.T, prov *Provisioner, channelID string, approved bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if prov.Resolve(channelID, approved) == ResolveApplied {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Resolve never applied")
}

func TestProvisionerRejectsSecondRequest(t *testing.T) {
	t.Parallel()
	prov := NewProvisioner(5*time.Minute, clock.NewMock())

	if err := prov.Begin("C1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := prov.Begin("C1"); !errors.Is(err, ErrRequestPending) {
		t.Errorf("second Begin = %v, want ErrRequestPending", err)
	}
	// Other channels are unaffected.
	if err := prov.Begin("C2"); err != nil {
		t.Errorf("Begin on other channel = %v, want nil", err)
	}
}

func TestProvisionerTimeout(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	prov := NewProvisioner(5*time.Minute, mock)

	if err := prov.Begin("C1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- prov.Await(context.Background(), "C1") }()

	// Let the Await goroutine arm its timer before advancing the clock.
	time.Sleep(50 * time.Millisecond)
	mock.Add(5 * time.Minute)

	if err := <-done; !errors.Is(err, ErrRequestTimedOut) {
		t.Fatalf("Await = %v, want ErrRequestTimedOut", err)
	}
	// A late reply finds nothing pending.
	if got := prov.Resolve("C1", true); got != ResolveExpired {
		t.Errorf("late Resolve = %v, want ResolveExpired", got)
	}
}

func TestProvisionerCancel(t *testing.T) {
	t.Parallel()
	prov := NewProvisioner(5*time.Minute, clock.NewMock())

	if err := prov.Begin("C1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- prov.Await(ctx, "C1") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, ErrRequestCancelled) {
		t.Fatalf("Await = %v, want ErrRequestCancelled", err)
	}
	if got := prov.Resolve("C1", true); got != ResolveExpired {
		t.Errorf("Resolve after cancel = %v, want ResolveExpired", got)
	}
}

func TestProvisionerAbort(t *testing.T) {
	t.Parallel()
	prov := NewProvisioner(5*time.Minute, clock.NewMock())

	if err := prov.Begin("C1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	prov.Abort("C1")

	if got := prov.Resolve("C1", true); got != ResolveExpired {
		t.Errorf("Resolve after abort = %v, want ResolveExpired", got)
	}
	if err := prov.Begin("C1"); err != nil {
		t.Errorf("Begin after abort = %v, want nil", err)
	}
}
