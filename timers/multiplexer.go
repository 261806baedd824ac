// Package timers provides a deadline multiplexer: any number of
// (subject, deadline) entries collapsed onto a single live wait.
package timers

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Delay is the cancellable delay primitive. It returns nil when the full
// duration elapsed and the context error when aborted early.
type Delay func(ctx context.Context, d time.Duration) error

// StdDelay implements Delay on the runtime timer.
func StdDelay(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry[S comparable] struct {
	subject  S
	deadline time.Time
}

type entryHeap[S comparable] []entry[S]

func (h entryHeap[S]) Len() int            { return len(h) }
func (h entryHeap[S]) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap[S]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap[S]) Push(x any)         { *h = append(*h, x.(entry[S])) }
func (h *entryHeap[S]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Multiplexer schedules independent (subject, deadline) entries while
// holding at most one live wait. On any mutation the current wait is
// cancelled and re-armed for the new minimum deadline. Superseded heap
// entries are invalidated lazily against the deadline map, keeping
// mutations at O(log n).
//
// The fire callback runs outside the internal critical section, so it may
// call back into the multiplexer without deadlocking.
type Multiplexer[S comparable] struct {
	mu         sync.Mutex
	deadlines  map[S]time.Time
	queue      entryHeap[S]
	waitCancel context.CancelFunc
	running    bool

	delay  Delay
	onFire func(S)

	base context.Context
	stop context.CancelFunc
}

func NewMultiplexer[S comparable](delay Delay, onFire func(S)) *Multiplexer[S] {
	base, stop := context.WithCancel(context.Background())
	return &Multiplexer[S]{
		deadlines: make(map[S]time.Time),
		delay:     delay,
		onFire:    onFire,
		base:      base,
		stop:      stop,
	}
}

// Arm upserts the deadline for subject, replacing any existing one.
func (m *Multiplexer[S]) Arm(subject S, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[subject] = deadline
	heap.Push(&m.queue, entry[S]{subject: subject, deadline: deadline})
	m.kick()
}

// Cancel removes the deadline for subject. Cancelling an unknown subject
// is a no-op.
func (m *Multiplexer[S]) Cancel(subject S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadlines[subject]; !ok {
		return
	}
	delete(m.deadlines, subject)
	m.kick()
}

// CancelAllFunc removes every subject matching pred and returns the
// removed subjects.
func (m *Multiplexer[S]) CancelAllFunc(pred func(S) bool) []S {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []S
	for subject := range m.deadlines {
		if pred(subject) {
			removed = append(removed, subject)
			delete(m.deadlines, subject)
		}
	}
	if len(removed) > 0 {
		m.kick()
	}
	return removed
}

// Stop aborts the live wait without invoking any callback. The
// multiplexer must not be used afterwards.
func (m *Multiplexer[S]) Stop() {
	m.stop()
}

// kick aborts the current wait (if any) so the loop re-evaluates the
// minimum deadline, starting the loop if it is idle. Callers hold m.mu.
func (m *Multiplexer[S]) kick() {
	if m.waitCancel != nil {
		m.waitCancel()
		m.waitCancel = nil
	}
	if !m.running {
		m.running = true
		go m.loop()
	}
}

func (m *Multiplexer[S]) loop() {
	for {
		m.mu.Lock()
		next, ok := m.nextLive()
		if !ok {
			m.running = false
			m.mu.Unlock()
			return
		}
		waitCtx, cancel := context.WithCancel(m.base)
		m.waitCancel = cancel
		m.mu.Unlock()

		var err error
		if timeLeft := time.Until(next.deadline); timeLeft > 0 {
			err = m.delay(waitCtx, timeLeft)
		}
		cancel()
		if err != nil {
			if m.base.Err() != nil {
				return
			}
			// a mutation aborted the wait, re-evaluate the minimum
			continue
		}

		// Atomically remove the fired subject; losing the removal race
		// against a concurrent Cancel or re-Arm means no delivery.
		m.mu.Lock()
		m.waitCancel = nil
		deadline, live := m.deadlines[next.subject]
		fired := live && deadline.Equal(next.deadline)
		if fired {
			delete(m.deadlines, next.subject)
			if len(m.queue) > 0 && m.queue[0] == next {
				heap.Pop(&m.queue)
			}
		}
		m.mu.Unlock()

		if fired {
			m.onFire(next.subject)
		}
	}
}

// nextLive discards superseded heap entries and returns the earliest live
// one. Callers hold m.mu.
func (m *Multiplexer[S]) nextLive() (entry[S], bool) {
	for len(m.queue) > 0 {
		head := m.queue[0]
		deadline, ok := m.deadlines[head.subject]
		if !ok || !deadline.Equal(head.deadline) {
			heap.Pop(&m.queue)
			continue
		}
		return head, true
	}
	return entry[S]{}, false
}
