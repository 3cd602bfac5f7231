// ABOUTME: PushSink Variant A: atomic-counter ring shared with an in-process consumer
// ABOUTME: Grounded on auddec.cpp's s_ringSize release/acquire counter, replacing the WASM heap cell with sync/atomic
package sink

import (
	"sync/atomic"

	"github.com/pixelstream/opusfeed/internal/pcm"
)

// PushDescriptor is the same-address-space replacement for the 10-field
// binary layout in spec.md §6: every field the external consumer needs to
// read is a typed Go value rather than a pointer into shared linear memory
// (see the Design Note in spec.md §9 and SPEC_FULL.md §4).
type PushDescriptor struct {
	SampleRate   int
	Channels     int
	RingCap      int
	FrameElems   int
	JitterFrames int
	TargetMs     int

	Ready        atomic.Bool
	FlushRequest atomic.Bool
}

// PushRing is PushSink Variant A: the feeder writes at its private tail
// index and publishes Size with release ordering; the consumer reads at its
// own private head index and must observe Size with acquire ordering before
// trusting the bytes it just read (spec.md §4.5, §5).
type PushRing struct {
	frames     []pcm.Frame
	frameElems int
	tail       int // feeder-private
	consumerHd int // consumer-private; advanced only by Pop
	size       atomic.Int32

	Descriptor *PushDescriptor
}

// NewPushRing allocates a ring of cap frames of frameElems samples each and
// publishes its shape via descriptor.
func NewPushRing(cap, frameElems, sampleRate, channels, jitterFrames, targetMs int) *PushRing {
	frames := make([]pcm.Frame, cap)
	for i := range frames {
		frames[i] = make(pcm.Frame, frameElems)
	}
	desc := &PushDescriptor{
		SampleRate:   sampleRate,
		Channels:     channels,
		RingCap:      cap,
		FrameElems:   frameElems,
		JitterFrames: jitterFrames,
		TargetMs:     targetMs,
	}
	return &PushRing{frames: frames, frameElems: frameElems, Descriptor: desc}
}

// Full reports whether the ring has no room for another frame. The feeder
// must check this before decoding, so overflow drops the encoded packet
// rather than a decoded frame (spec.md §4.5).
func (r *PushRing) Full() bool {
	return int(r.size.Load()) == len(r.frames)
}

// PushBack writes frame at the feeder's private tail and publishes the new
// size. Returns false (ring unchanged) if the ring was already full.
func (r *PushRing) PushBack(frame pcm.Frame) bool {
	if r.Full() {
		return false
	}
	copy(r.frames[r.tail], frame)
	r.tail = (r.tail + 1) % len(r.frames)
	r.size.Add(1)
	return true
}

// Pop is the in-process consumer's read operation: it loads Size with
// acquire ordering, and if non-zero, reads the frame at its own private
// head and decrements Size. Safe to call only from the single consumer.
func (r *PushRing) Pop() (pcm.Frame, bool) {
	if r.size.Load() == 0 {
		return nil, false
	}
	frame := make(pcm.Frame, r.frameElems)
	copy(frame, r.frames[r.consumerHd])
	r.consumerHd = (r.consumerHd + 1) % len(r.frames)
	r.size.Add(-1)
	return frame, true
}

// Cap returns the ring's fixed capacity in frames.
func (r *PushRing) Cap() int { return len(r.frames) }

// Size returns the currently published occupancy.
func (r *PushRing) Size() int { return int(r.size.Load()) }
