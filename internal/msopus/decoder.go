// ABOUTME: Multistream Opus decoder wrapper
// ABOUTME: Thin cgo ownership wrapper over libopus's multistream decode API, exclusive to the feeder
package msopus

/*
#cgo pkg-config: opus
#include <opus/opus_multistream.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/pixelstream/opusfeed/internal/config"
)

// Decoder owns a single multistream Opus decoder instance. gopkg.in/hraban/opus.v2
// only wraps libopus's single-stream opus_decoder_* API; the 6/8-channel
// layouts spec.md requires need the multistream decoder, so this package
// binds directly to opus_multistream.h the same way hraban/opus.v2 binds to
// opus.h, calling exactly the functions the original auddec.cpp calls
// (opus_multistream_decoder_create / _decode / _destroy). A plain stereo or
// mono stream is just the streams=1/coupledStreams<=1 case of the same API,
// so every ChannelCount in {2,6,8} goes through this one decode path.
//
// Exclusive to the feeder goroutine once Init returns (spec.md §5); Init and
// Cleanup must not race a running feeder.
type Decoder struct {
	ptr      *C.OpusMSDecoder
	channels int
}

// Create allocates a multistream decoder for the given Opus config.
func Create(cfg config.OpusConfig) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("msopus: invalid config: %w", err)
	}

	mapping := (*C.uchar)(unsafe.Pointer(&cfg.Mapping[0]))

	var cerr C.int
	ptr := C.opus_multistream_decoder_create(
		C.opus_int32(cfg.SampleRate),
		C.int(cfg.ChannelCount),
		C.int(cfg.Streams),
		C.int(cfg.CoupledStreams),
		mapping,
		&cerr,
	)
	if ptr == nil || cerr != C.OPUS_OK {
		return nil, fmt.Errorf("msopus: opus_multistream_decoder_create failed, rc=%d", int(cerr))
	}

	return &Decoder{ptr: ptr, channels: cfg.ChannelCount}, nil
}

// Decode decodes one Opus packet into outPCM, which must have room for at
// least samplesPerFrame*channels int16 samples, sized from the original
// (never effective/downmixed) channel count so the decoder can never
// overrun it (spec.md §4.2). Returns the number of samples decoded per
// channel; a result <= 0 means failure and the caller should discard the
// frame.
func (d *Decoder) Decode(pkt []byte, outPCM []int16, samplesPerFrame int) int {
	var dataPtr *C.uchar
	if len(pkt) > 0 {
		dataPtr = (*C.uchar)(unsafe.Pointer(&pkt[0]))
	}

	n := C.opus_multistream_decode(
		d.ptr,
		dataPtr,
		C.opus_int32(len(pkt)),
		(*C.opus_int16)(unsafe.Pointer(&outPCM[0])),
		C.int(samplesPerFrame),
		0,
	)
	return int(n)
}

// DecodeLost requests the decoder's packet-loss-concealment output by
// invoking decode with a null/zero-length packet, per spec.md §4.2. Used
// only by the PullSink profile when the output sink has free slots but the
// frame ring is empty.
func (d *Decoder) DecodeLost(outPCM []int16, samplesPerFrame int) int {
	n := C.opus_multistream_decode(
		d.ptr,
		nil,
		0,
		(*C.opus_int16)(unsafe.Pointer(&outPCM[0])),
		C.int(samplesPerFrame),
		0,
	)
	return int(n)
}

// Destroy releases the decoder. Safe to call once; the Decoder must not be
// used afterward.
func (d *Decoder) Destroy() {
	if d.ptr != nil {
		C.opus_multistream_decoder_destroy(d.ptr)
		d.ptr = nil
	}
}

// Channels returns the original (never downmixed) channel count this
// decoder was created with.
func (d *Decoder) Channels() int {
	return d.channels
}
