// Package queue provides a tiny serialized task queue standing in for the
// microtask/macrotask/animation-tick ordering the playback engine's
// single-threaded cooperative model relies on (spec §5).
package queue

import (
	"context"
	"sync"
)

// Queue serializes callbacks onto a single goroutine so state transitions
// across the element, media source, source buffer, and track buffers are
// never observed concurrently, per the single-executor rule of spec §5.
type Queue struct {
	mu sync.Mutex

	tasks   chan func()
	tick    func()
	tickSet bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue with the given task backlog capacity.
func New(capacity int) *Queue {
	return &Queue{tasks: make(chan func(), capacity)}
}

// Start begins draining posted tasks and coalesced ticks on a background
// goroutine, mirroring the teacher's Start(ctx)/syncLoop shape.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	q.wg.Add(1)
	go q.loop()
}

// Stop drains no further tasks and waits for the drain goroutine to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

func (q *Queue) loop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case fn := <-q.tasks:
			fn()
		}
	}
}

// Post enqueues fn as a macrotask: it runs on the drain goroutine after any
// tasks already queued.
func (q *Queue) Post(fn func()) {
	q.tasks <- fn
}

// PostNow runs fn inline, standing in for a same-turn microtask
// continuation (the parser loop, append completion).
func (q *Queue) PostNow(fn func()) {
	fn()
}

// Tick schedules fn to run at the next animation-tick slot. At most one
// tick is pending; a new Tick call before the previous drains replaces it,
// since only the latest render matters.
func (q *Queue) Tick(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tick = fn
	q.tickSet = true
}

// DrainTick runs and clears the pending tick callback, if any. Callers
// (the clock scheduler's ticker) invoke this once per animation frame.
func (q *Queue) DrainTick() {
	q.mu.Lock()
	fn := q.tick
	set := q.tickSet
	q.tick = nil
	q.tickSet = false
	q.mu.Unlock()

	if set && fn != nil {
		fn()
	}
}
