// ABOUTME: PushSink Variant B: slot pool with asynchronous per-frame notification
// ABOUTME: N is chosen so the one-cycle reuse window is at least 300ms, per spec.md §4.5
package sink

import "github.com/pixelstream/opusfeed/internal/pcm"

// MinSlotProtectionMs is the floor spec.md §4.5 names for the slot reuse
// protection window: "the implementation must choose N such that
// N * frameDurationMs >= 300 ms".
const MinSlotProtectionMs = 300

// SlotCountFor returns the smallest N >= 32 such that
// N*frameDurationMs >= MinSlotProtectionMs, matching spec.md §3's SlotPool
// floor ("fixed ring of N>=32 PCM slots").
func SlotCountFor(frameDurationMs float64) int {
	n := 32
	for float64(n)*frameDurationMs < MinSlotProtectionMs {
		n++
	}
	return n
}

// PushSlots is PushSink Variant B: the feeder writes into slot[idx mod N]
// and notifies the consumer synchronously with that slot (not a copy) plus
// its format, in lieu of a (ptr, samplesPerFrame, channels, rate) tuple into
// foreign memory (spec.md §4.5, §9 Design Note).
type PushSlots struct {
	slots           []pcm.Frame
	notify          PushNotifyFunc
	sampleRate      int
	channels        int
	samplesPerFrame int
	nextIdx         int

	Descriptor *PushDescriptor
}

// NewPushSlots allocates n slots of frameElems samples each. notify may be
// nil, in which case Publish is a pure write with no consumer side effect
// (useful for tests).
func NewPushSlots(n, frameElems, samplesPerFrame, channels, sampleRate int, notify PushNotifyFunc) *PushSlots {
	slots := make([]pcm.Frame, n)
	for i := range slots {
		slots[i] = make(pcm.Frame, frameElems)
	}
	desc := &PushDescriptor{
		SampleRate: sampleRate,
		Channels:   channels,
		RingCap:    n,
		FrameElems: frameElems,
	}
	return &PushSlots{
		slots:           slots,
		notify:          notify,
		sampleRate:      sampleRate,
		channels:        channels,
		samplesPerFrame: samplesPerFrame,
		Descriptor:      desc,
	}
}

// Publish writes frame into the next slot (idx mod N) and notifies the
// consumer. A slot is overwritten again after N further Publish calls. The
// feeder calls Publish once per decoded packet as packets arrive, without
// pacing of its own, so that reuse interval is N*frameDurationMs (>= 300ms)
// only while packets arrive at one per frame duration.
func (p *PushSlots) Publish(frame pcm.Frame) {
	idx := p.nextIdx % len(p.slots)
	copy(p.slots[idx], frame)
	p.nextIdx++
	if p.notify != nil {
		p.notify(p.slots[idx], p.samplesPerFrame, p.channels, p.sampleRate)
	}
}

// Cap returns the slot pool's fixed size.
func (p *PushSlots) Cap() int { return len(p.slots) }
