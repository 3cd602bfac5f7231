// ABOUTME: Real-Opus test fixture generator
// ABOUTME: Encodes a synthetic tone to genuine Opus packets so decoder/pipeline tests exercise real codec output
package testsupport

import (
	"fmt"
	"math"

	"gopkg.in/hraban/opus.v2"
)

// EncodeTone generates numFrames Opus packets of a sine tone at the given
// sample rate/channels/samplesPerFrame, using a real Opus encoder. A plain
// (non-multistream) encoder's output is bit-identical to a one-stream
// multistream packet, so these packets are valid input for
// internal/msopus.Decoder configured with streams=1. Grounded on
// pkg/audio/encode/opus.go from the retrieved pack.
func EncodeTone(sampleRate, channels, samplesPerFrame, numFrames int, freqHz float64) ([][]byte, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("testsupport: failed to create opus encoder: %w", err)
	}

	packets := make([][]byte, 0, numFrames)
	sampleIndex := 0

	for f := 0; f < numFrames; f++ {
		pcm := make([]int16, samplesPerFrame*channels)
		for i := 0; i < samplesPerFrame; i++ {
			t := float64(sampleIndex+i) / float64(sampleRate)
			v := int16(math.Sin(2*math.Pi*freqHz*t) * 0.5 * 32767)
			for ch := 0; ch < channels; ch++ {
				pcm[i*channels+ch] = v
			}
		}
		sampleIndex += samplesPerFrame

		out := make([]byte, 4000)
		n, err := enc.Encode(pcm, out)
		if err != nil {
			return nil, fmt.Errorf("testsupport: opus encode failed: %w", err)
		}
		packets = append(packets, out[:n])
	}

	return packets, nil
}

// StereoMapping returns the standard 1-stream, fully-coupled channel
// mapping table used for a plain stereo config.OpusConfig.
func StereoMapping() []byte {
	return []byte{0, 1}
}
