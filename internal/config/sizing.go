// ABOUTME: Opus configuration and derived sizing arithmetic
// ABOUTME: Computes jitter depth, queue/ring capacities from the collaborator's Opus config
package config

import (
	"fmt"
	"math"
)

// defaultJitterMs is used whenever the host doesn't override the jitter target.
const defaultJitterMs = 100

// minPacketQueueCap is the floor below which the encoded-packet queue is
// never sized, regardless of how shallow the jitter target is.
const minPacketQueueCap = 64

// minRingCap is the absolute floor for the PullSink decoded-frame ring.
const minRingCap = 32

// MaxPacketBytes bounds a single encoded Opus packet; anything larger is
// dropped before it ever reaches the intake queue (see spec §4.1 and RFC 6716).
const MaxPacketBytes = 4096

// OpusConfig is the immutable multistream Opus descriptor handed in by the
// collaborator at Init. It is never mutated for the lifetime of a session.
type OpusConfig struct {
	SampleRate      int
	ChannelCount    int // original channel count: 2, 6, or 8; anything else falls back to stereo
	SamplesPerFrame int
	Streams         int
	CoupledStreams  int
	Mapping         []byte // opus channel mapping table, len == ChannelCount
}

// Validate checks the fields the decoder and sizing arithmetic depend on.
func (c OpusConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("opus config: sampleRate must be positive, got %d", c.SampleRate)
	}
	if c.SamplesPerFrame <= 0 {
		return fmt.Errorf("opus config: samplesPerFrame must be positive, got %d", c.SamplesPerFrame)
	}
	if c.ChannelCount <= 0 {
		return fmt.Errorf("opus config: channelCount must be positive, got %d", c.ChannelCount)
	}
	if c.Streams <= 0 {
		return fmt.Errorf("opus config: streams must be positive, got %d", c.Streams)
	}
	if c.CoupledStreams < 0 || c.CoupledStreams > c.Streams {
		return fmt.Errorf("opus config: coupledStreams %d out of range for %d streams", c.CoupledStreams, c.Streams)
	}
	if len(c.Mapping) != c.ChannelCount {
		return fmt.Errorf("opus config: mapping table length %d != channelCount %d", len(c.Mapping), c.ChannelCount)
	}
	return nil
}

// SupportsEffectiveFallback reports whether this channel count is one of the
// layouts spec.md recognizes (2, 6, 8). Anything else falls back to stereo
// immediately, the same way a sink-format failure does for 6/8.
func (c OpusConfig) SupportsEffectiveFallback() bool {
	switch c.ChannelCount {
	case 2, 6, 8:
		return true
	default:
		return false
	}
}

// DerivedSizes are computed once at Init from OpusConfig and the jitter
// override; see spec.md §3.
type DerivedSizes struct {
	FrameDurationMs float64
	TargetJitterMs  int
	JitterFrames    int
	PktCap          int

	// NumBuffers and RingCap are only meaningful for the PullSink profile.
	NumBuffers int
	RingCap    int

	// FrameElems is samplesPerFrame * effectiveChannelCount.
	FrameElems int
}

// Derive computes DerivedSizes. jitterOverrideMs is the host's
// audioJitterMsOverride (0 means "use the default"). effectiveChannels is
// the channel count actually used downstream after any stereo fallback; when
// no fallback was needed it equals cfg.ChannelCount.
func Derive(cfg OpusConfig, jitterOverrideMs, effectiveChannels int) DerivedSizes {
	frameDurationMs := float64(cfg.SamplesPerFrame) * 1000.0 / float64(cfg.SampleRate)

	targetJitterMs := defaultJitterMs
	if jitterOverrideMs != 0 {
		targetJitterMs = jitterOverrideMs
	}

	jitterFrames := int(math.Ceil(float64(targetJitterMs) / frameDurationMs))
	if jitterFrames < 1 {
		jitterFrames = 1
	}

	pktCap := jitterFrames * 4
	if pktCap < minPacketQueueCap {
		pktCap = minPacketQueueCap
	}

	numBuffers := jitterFrames
	if numBuffers < 10 {
		numBuffers = 10
	}

	burstSlack := jitterFrames
	ringCap := jitterFrames + burstSlack
	if ringCap < minRingCap {
		ringCap = minRingCap
	}

	return DerivedSizes{
		FrameDurationMs: frameDurationMs,
		TargetJitterMs:  targetJitterMs,
		JitterFrames:    jitterFrames,
		PktCap:          pktCap,
		NumBuffers:      numBuffers,
		RingCap:         ringCap,
		FrameElems:      cfg.SamplesPerFrame * effectiveChannels,
	}
}
