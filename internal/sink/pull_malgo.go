// ABOUTME: Malgo-backed PullSink: a discrete preallocated buffer pool over a miniaudio playback device
// ABOUTME: Pre-fills every buffer with silence and queues them all before the device starts, per spec.md §4.4
package sink

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/pixelstream/opusfeed/internal/logsink"
	"github.com/pixelstream/opusfeed/internal/pcm"
)

// PullSinkMalgo implements PullSink over github.com/gen2brain/malgo. Each
// data callback invocation corresponds to exactly one queued buffer: the
// device's period size is pinned to one Opus frame duration so the callback
// never has to split or coalesce buffers.
type PullSinkMalgo struct {
	log *logsink.Sink

	sampleRate int
	channels   int
	frameElems int

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	mu        sync.Mutex
	buffers   []pcm.Frame
	queued    []int
	processed []int

	// playing mirrors the device's actual run state: Play() sets it, and
	// malgo's Stop callback clears it whenever the backend halts the device
	// on its own (disconnection, host-induced pause), not just on Close.
	playing bool
}

// NewPullSinkMalgo opens a playback device and pre-fills numBuffers buffers
// with silence, all immediately queued (spec.md §4.4 "Pre-fill every pool
// buffer ... and queue them all").
func NewPullSinkMalgo(log *logsink.Sink, sampleRate, channels, frameElems, samplesPerFrame, numBuffers int) (*PullSinkMalgo, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("sink: malgo context init failed: %w", err)
	}

	s := &PullSinkMalgo{
		log:        log,
		sampleRate: sampleRate,
		channels:   channels,
		frameElems: frameElems,
		malgoCtx:   malgoCtx,
		buffers:    make([]pcm.Frame, numBuffers),
		queued:     make([]int, 0, numBuffers),
		processed:  make([]int, 0, numBuffers),
	}
	for i := range s.buffers {
		s.buffers[i] = pcm.Silence(frameElems)
		s.queued = append(s.queued, i)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(samplesPerFrame)
	deviceConfig.Alsa.NoMMap = 1

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			s.dataCallback(pOutputSample, frameCount)
		},
		Stop: func() {
			s.mu.Lock()
			s.playing = false
			s.mu.Unlock()
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("sink: malgo device init failed: %w", err)
	}
	s.device = device

	return s, nil
}

// dataCallback runs on malgo's audio thread. It must never block: a missing
// queued buffer is simply played as silence, exactly as an underrun would
// look to the backend's own consumer state.
func (s *PullSinkMalgo) dataCallback(output []byte, frameCount uint32) {
	s.mu.Lock()
	var bufID int
	ok := len(s.queued) > 0
	if ok {
		bufID = s.queued[0]
		s.queued = s.queued[1:]
	}
	var frame pcm.Frame
	if ok {
		frame = s.buffers[bufID]
	}
	s.mu.Unlock()

	if !ok {
		for i := range output {
			output[i] = 0
		}
		return
	}

	writeS16LE(output, frame)

	s.mu.Lock()
	s.processed = append(s.processed, bufID)
	s.mu.Unlock()
}

func writeS16LE(dst []byte, frame pcm.Frame) {
	n := len(frame)
	if n*2 > len(dst) {
		n = len(dst) / 2
	}
	for i := 0; i < n; i++ {
		v := uint16(frame[i])
		dst[i*2] = byte(v)
		dst[i*2+1] = byte(v >> 8)
	}
}

func (s *PullSinkMalgo) UnqueueProcessed(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.processed) {
		n = len(s.processed)
	}
	ids := append([]int(nil), s.processed[:n]...)
	s.processed = s.processed[n:]
	return ids
}

func (s *PullSinkMalgo) UploadPCM(bufID int, frame pcm.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.buffers[bufID], frame)
}

func (s *PullSinkMalgo) Queue(ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, ids...)
}

func (s *PullSinkMalgo) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// SourceState reflects playing as last set by Play or malgo's Stop callback,
// so a host-induced pause or device disconnection is visible to the feeder's
// recovery check in the same tick the backend reports it (spec.md §4.4 step
// 5 / §7 item 5).
func (s *PullSinkMalgo) SourceState() SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return StatePlaying
	}
	return StateStopped
}

func (s *PullSinkMalgo) Play() error {
	s.mu.Lock()
	already := s.playing
	s.mu.Unlock()
	if already {
		return nil
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("sink: malgo device start failed: %w", err)
	}
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	return nil
}

func (s *PullSinkMalgo) EffectiveChannels() int { return s.channels }

func (s *PullSinkMalgo) Close() error {
	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			s.log.Logf("sink: malgo device stop error: %v", err)
		}
		s.device.Uninit()
		s.device = nil
	}
	if s.malgoCtx != nil {
		if err := s.malgoCtx.Uninit(); err != nil {
			s.log.Logf("sink: malgo context uninit error: %v", err)
		}
		s.malgoCtx.Free()
		s.malgoCtx = nil
	}
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
	return nil
}
