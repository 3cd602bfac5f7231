// ABOUTME: Bounded circular buffer of decoded PCM frames
// ABOUTME: Exclusive to the feeder goroutine; no locking. Overflow drops the newest frame.
package ring

import "github.com/pixelstream/opusfeed/internal/pcm"

// FrameRing is the decoded-frame jitter buffer from spec.md §4.4. It is
// touched only by the feeder loop, so it carries no synchronization of its
// own — the concurrency boundary is the feeder's exclusive ownership, not a
// lock.
type FrameRing struct {
	frames     []pcm.Frame
	frameElems int
	head       int
	tail       int
	size       int
}

// New allocates a ring with room for cap frames of frameElems samples each.
func New(cap, frameElems int) *FrameRing {
	frames := make([]pcm.Frame, cap)
	for i := range frames {
		frames[i] = make(pcm.Frame, frameElems)
	}
	return &FrameRing{frames: frames, frameElems: frameElems}
}

// Cap returns the ring's fixed capacity in frames.
func (r *FrameRing) Cap() int { return len(r.frames) }

// Size returns the current occupancy in frames.
func (r *FrameRing) Size() int { return r.size }

// PushBack appends a frame at the tail. If the ring is full, the newest
// frame (the one about to be written) is the one dropped: the ring is left
// unchanged and ok is false, preserving everything nearest to playback per
// spec.md §4.4 and the Open-Question resolution in SPEC_FULL.md §13.
func (r *FrameRing) PushBack(frame pcm.Frame) (ok bool) {
	if r.size == len(r.frames) {
		return false
	}
	copy(r.frames[r.tail], frame)
	r.tail = (r.tail + 1) % len(r.frames)
	r.size++
	return true
}

// PopFront removes and returns the oldest frame. ok is false if the ring is
// empty.
func (r *FrameRing) PopFront() (frame pcm.Frame, ok bool) {
	if r.size == 0 {
		return nil, false
	}
	frame = make(pcm.Frame, r.frameElems)
	copy(frame, r.frames[r.head])
	r.head = (r.head + 1) % len(r.frames)
	r.size--
	return frame, true
}
