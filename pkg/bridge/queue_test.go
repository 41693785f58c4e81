// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestChannelQueuePreservesOrderPerKey(t *testing.T) {
	t.Parallel()
	queue := NewChannelQueue()

	var mu sync.Mutex
	seen := make(map[string][]int)

	// Random sleeps inside jobs must not let later jobs overtake earlier
	// ones for the same key.
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		for _, key := range []string{"C1", "C2", "C3"} {
			key, i := key, i
			delay := time.Duration(rng.Intn(3)) * time.Millisecond
			queue.Enqueue(key, func() {
				time.Sleep(delay)
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			})
		}
	}
	queue.Wait()

	for key, order := range seen {
		if len(order) != 50 {
			t.Fatalf("key %s ran %d jobs, want 50", key, len(order))
		}
		for i, got := range order {
			if got != i {
				t.Fatalf("key %s job %d ran out of order (got index %d)", key, i, got)
			}
		}
	}
}

func TestChannelQueueKeysRunConcurrently(t *testing.T) {
	t.Parallel()
	queue := NewChannelQueue()

	release := make(chan struct{})
	fastDone := make(chan struct{})

	queue.Enqueue("slow", func() { <-release })
	queue.Enqueue("fast", func() { close(fastDone) })

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("job on independent key was blocked")
	}
	close(release)
	queue.Wait()
}

func TestChannelQueueWaitDrainsEverything(t *testing.T) {
	t.Parallel()
	queue := NewChannelQueue()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 20; i++ {
		queue.Enqueue(fmt.Sprintf("key-%d", i%4), func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	queue.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 20 {
		t.Errorf("ran %d jobs, want 20", count)
	}
}
