// ABOUTME: Bounded circular queue of encoded Opus packets
// ABOUTME: Single producer (network callback), single consumer (feeder); evicts oldest on overflow
package intake

import (
	"sync"
	"time"

	"github.com/pixelstream/opusfeed/internal/config"
	"github.com/pixelstream/opusfeed/internal/logsink"
)

// slot holds one encoded packet by value; packets are copied in, never
// individually heap-allocated, per spec.md §3.
type slot struct {
	data   [config.MaxPacketBytes]byte
	length int
}

// Queue is the PacketIntake from spec.md §4.1: a bounded circular buffer
// with a single producer (submitPacket, called from the network thread) and
// a single consumer (the feeder). Overflow evicts the oldest packet.
type Queue struct {
	log *logsink.Sink

	mu      sync.Mutex
	cond    *sync.Cond
	slots   []slot
	head    int
	tail    int
	count   int
	running bool

	overflowLimiter logsink.RateLimiter
}

// New creates a Queue with the given capacity. The queue starts in the
// running state; Stop transitions it to not-running so submitPacket becomes
// a silent no-op (spec.md §4.6).
func New(cap int, log *logsink.Sink) *Queue {
	q := &Queue{
		log:     log,
		slots:   make([]slot, cap),
		running: true,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Len returns the current occupancy. Intended for diagnostics/tests; the
// value can be stale the instant it's read under concurrent submission.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stop marks the queue not-running and wakes any waiter. Submit becomes a
// no-op afterward.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Running reports whether the queue is still accepting submissions. The
// feeder polls this to decide when to stop draining (spec.md §4.6).
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Clear discards every queued packet without delivering it, resetting head,
// tail and count to zero. Used by the PushSink flush protocol when the
// consumer detects a wall-clock gap (spec.md §4.5).
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head = 0
	q.tail = 0
	q.count = 0
}

// Submit copies an encoded packet into the queue. Oversized or empty
// packets are dropped and logged; a full queue evicts its oldest packet
// (also logged, rate-limited) before accepting the new one. A no-op once
// the queue has been stopped.
func (q *Queue) Submit(data []byte) {
	length := len(data)

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}

	if length <= 0 || length > config.MaxPacketBytes {
		q.mu.Unlock()
		q.log.Logf("intake: packet length %d out of range, dropping", length)
		return
	}

	if q.count == len(q.slots) {
		q.head = (q.head + 1) % len(q.slots)
		q.count--
		if allow, n := q.overflowLimiter.Allow(); allow {
			q.log.Logf("intake: queue overflow, dropping oldest (#%d)", n)
		}
	}

	s := &q.slots[q.tail]
	copy(s.data[:], data)
	s.length = length
	q.tail = (q.tail + 1) % len(q.slots)
	q.count++
	q.mu.Unlock()

	q.cond.Signal()
}

// TryPop removes and returns the oldest packet, if any. The returned slice
// is a fresh copy safe to use after the lock is released.
func (q *Queue) TryPop() (data []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil, false
	}

	s := q.slots[q.head]
	out := make([]byte, s.length)
	copy(out, s.data[:s.length])
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	return out, true
}

// WaitForWork blocks until a packet is available, the queue is stopped, or
// timeout elapses, whichever comes first. It bounds the feeder's wait so it
// can still poll the sink and publish diagnostics (spec.md §4.1).
func (q *Queue) WaitForWork(timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		q.cond.Broadcast()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count > 0 || !q.running {
		return
	}

	deadline := time.Now().Add(timeout)
	for q.count == 0 && q.running && time.Now().Before(deadline) {
		q.cond.Wait()
	}
}
