// ABOUTME: Tests for the multistream Opus decoder wrapper
// ABOUTME: Exercises real encode/decode round-trips and the lost-packet (PLC) path
package msopus

import (
	"testing"

	"github.com/pixelstream/opusfeed/internal/config"
	"github.com/pixelstream/opusfeed/internal/testsupport"
)

func stereoConfig(sampleRate, samplesPerFrame int) config.OpusConfig {
	return config.OpusConfig{
		SampleRate:      sampleRate,
		ChannelCount:    2,
		SamplesPerFrame: samplesPerFrame,
		Streams:         1,
		CoupledStreams:  1,
		Mapping:         testsupport.StereoMapping(),
	}
}

func TestRoundTripDecodesExpectedSampleCount(t *testing.T) {
	const sampleRate = 48000
	const samplesPerFrame = 480
	const channels = 2

	packets, err := testsupport.EncodeTone(sampleRate, channels, samplesPerFrame, 5, 440.0)
	if err != nil {
		t.Fatalf("failed to generate test packets: %v", err)
	}

	dec, err := Create(stereoConfig(sampleRate, samplesPerFrame))
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	defer dec.Destroy()

	pcm := make([]int16, samplesPerFrame*channels)
	for i, pkt := range packets {
		n := dec.Decode(pkt, pcm, samplesPerFrame)
		if n != samplesPerFrame {
			t.Fatalf("packet %d: expected %d samples per channel, got %d", i, samplesPerFrame, n)
		}
	}
}

func TestDecodeLostProducesConcealmentOutput(t *testing.T) {
	const sampleRate = 48000
	const samplesPerFrame = 480

	dec, err := Create(stereoConfig(sampleRate, samplesPerFrame))
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	defer dec.Destroy()

	pcm := make([]int16, samplesPerFrame*2)
	n := dec.DecodeLost(pcm, samplesPerFrame)
	if n != samplesPerFrame {
		t.Fatalf("expected PLC to produce %d samples, got %d", samplesPerFrame, n)
	}
}

func TestDecodeGarbagePacketFails(t *testing.T) {
	const sampleRate = 48000
	const samplesPerFrame = 480

	dec, err := Create(stereoConfig(sampleRate, samplesPerFrame))
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	defer dec.Destroy()

	pcm := make([]int16, samplesPerFrame*2)
	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0xff}
	n := dec.Decode(garbage, pcm, samplesPerFrame)
	if n > 0 {
		t.Fatalf("expected garbage packet to fail decode, got n=%d", n)
	}
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	cfg := stereoConfig(48000, 480)
	cfg.Mapping = cfg.Mapping[:1]

	if _, err := Create(cfg); err == nil {
		t.Fatal("expected error for mismatched mapping length")
	}
}

func TestChannelsReflectsOriginalCount(t *testing.T) {
	dec, err := Create(stereoConfig(48000, 480))
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	defer dec.Destroy()

	if dec.Channels() != 2 {
		t.Fatalf("expected 2 channels, got %d", dec.Channels())
	}
}
