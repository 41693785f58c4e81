// Copyright 2024-2026 Aiku AI

package bridge

import "sync"

// ChannelQueue runs jobs in FIFO order per key while letting different
// keys proceed concurrently. The bridge keys it by destination channel so
// messages for one channel never reorder, whatever the homeserver's
// transaction concurrency does.
type ChannelQueue struct {
	mu      sync.Mutex
	entries map[string]*queueEntry
	wg      sync.WaitGroup
}

type queueEntry struct {
	jobs    []func()
	running bool
}

// NewChannelQueue creates an empty queue.
func NewChannelQueue() *ChannelQueue {
	return &ChannelQueue{entries: make(map[string]*queueEntry)}
}

// Enqueue schedules a job for a key. Jobs for the same key run one at a
// time in submission order.
func (q *ChannelQueue) Enqueue(key string, job func()) {
	q.mu.Lock()
	entry, ok := q.entries[key]
	if !ok {
		entry = &queueEntry{}
		q.entries[key] = entry
	}
	entry.jobs = append(entry.jobs, job)
	if !entry.running {
		entry.running = true
		q.wg.Add(1)
		go q.drain(entry)
	}
	q.mu.Unlock()
}

func (q *ChannelQueue) drain(entry *queueEntry) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(entry.jobs) == 0 {
			entry.running = false
			q.mu.Unlock()
			return
		}
		job := entry.jobs[0]
		entry.jobs = entry.jobs[1:]
		q.mu.Unlock()
		job()
	}
}

// Wait blocks until every enqueued job has finished. Jobs enqueued while
// waiting are waited on too.
func (q *ChannelQueue) Wait() {
	q.wg.Wait()
}
