// ABOUTME: AudioSink capability sets shared by both sink profiles
// ABOUTME: The feeder loop is polymorphic over these, per the Design Note in spec.md §9
package sink

import "github.com/pixelstream/opusfeed/internal/pcm"

// SourceState mirrors getSourceState() from spec.md §4.4: whether the
// backend is actively consuming queued buffers.
type SourceState int

const (
	StateStopped SourceState = iota
	StatePlaying
)

// PullSink is the {unqueueProcessed, uploadPcm, queue, getProcessedCount,
// getSourceState, play} capability set from spec.md §4.4/§9. Backed by a
// discrete pool of numBuffers preallocated buffers rather than the single
// contiguous FrameRing PullSink consumers historically used elsewhere in
// this codebase's ancestry — the pool/queued/processed bookkeeping lives on
// the concrete implementation (pull_malgo.go, pull_oto.go), not here.
type PullSink interface {
	// UnqueueProcessed removes up to n buffer ids the backend has already
	// consumed and returns them, ready for refill. Always a single call
	// regardless of n (spec.md §4.4: "batching is mandatory").
	UnqueueProcessed(n int) []int

	// UploadPCM copies frame into buffer bufID. frame must be exactly
	// EffectiveChannels()*samplesPerFrame samples.
	UploadPCM(bufID int, frame pcm.Frame)

	// Queue re-submits the given buffer ids for playback, in one call.
	Queue(ids []int)

	// ProcessedCount reports how many buffers are currently waiting in the
	// processed list.
	ProcessedCount() int

	// SourceState reports whether the backend is actively playing.
	SourceState() SourceState

	// Play starts or resumes playback; used both at startup and to recover
	// from an underrun (spec.md §4.4 step 5).
	Play() error

	// EffectiveChannels is the channel count actually in use downstream,
	// after any stereo-fallback decision (spec.md glossary).
	EffectiveChannels() int

	// Close releases the backend's device/context. Idempotent.
	Close() error
}

// PushNotifyFunc is invoked by the slot-based PushSink variant (Variant B)
// once per published frame, carrying the same (ptr, samplesPerFrame,
// channels, rate) tuple spec.md §4.5 describes — except ptr is a plain Go
// frame value, since consumer and feeder share an address space (spec.md §9
// Design Note).
type PushNotifyFunc func(frame pcm.Frame, samplesPerFrame, channels, rate int)
