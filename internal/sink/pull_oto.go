// ABOUTME: Oto-backed PullSink, a second backend over the same buffer-pool capability set
// ABOUTME: oto.Player pulls from an io.Reader, which maps onto PullSink's queued/processed model directly
package sink

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/pixelstream/opusfeed/internal/logsink"
	"github.com/pixelstream/opusfeed/internal/pcm"
)

// PullSinkOto implements PullSink over github.com/ebitengine/oto/v3.
// oto.Player's internal mixer goroutine calls Read to pull bytes, which is
// the same pull shape as malgo's data callback — PullSinkOto itself is the
// io.Reader handed to the player, reusing pull_malgo.go's queued/processed
// bookkeeping pattern.
type PullSinkOto struct {
	log *logsink.Sink

	sampleRate int
	channels   int
	frameElems int

	otoCtx *oto.Context
	player *oto.Player

	mu        sync.Mutex
	buffers   []pcm.Frame
	queued    []int
	processed []int

	// pending holds bytes already converted from the current front buffer
	// but not yet copied into a Read call's destination slice, since oto
	// may ask for fewer bytes than one frame holds.
	pending []byte
}

// NewPullSinkOto opens an oto context and player pulling from this sink,
// pre-filling and queueing numBuffers silent buffers exactly as
// NewPullSinkMalgo does.
func NewPullSinkOto(log *logsink.Sink, sampleRate, channels, frameElems, numBuffers int) (*PullSinkOto, error) {
	s := &PullSinkOto{
		log:        log,
		sampleRate: sampleRate,
		channels:   channels,
		frameElems: frameElems,
		buffers:    make([]pcm.Frame, numBuffers),
		queued:     make([]int, 0, numBuffers),
		processed:  make([]int, 0, numBuffers),
	}
	for i := range s.buffers {
		s.buffers[i] = pcm.Silence(frameElems)
		s.queued = append(s.queued, i)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("sink: oto context init failed: %w", err)
	}
	<-readyChan
	s.otoCtx = ctx
	s.player = ctx.NewPlayer(s)

	return s, nil
}

// Read implements io.Reader. It is called by oto's mixer goroutine, never
// by the feeder, and follows the same "missing buffer plays silence" rule
// as the malgo callback.
func (s *PullSinkOto) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(s.pending) == 0 {
			if !s.fillPending() {
				for ; n < len(p); n++ {
					p[n] = 0
				}
				return n, nil
			}
		}
		c := copy(p[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
	}
	return n, nil
}

// fillPending pops the next queued buffer, if any, converts it to bytes,
// and moves its id to the processed list. Returns false if nothing was
// queued.
func (s *PullSinkOto) fillPending() bool {
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
		return false
	}

	buf := make([]byte, len(frame)*2)
	writeS16LE(buf, frame)
	s.pending = buf

	s.mu.Lock()
	s.processed = append(s.processed, bufID)
	s.mu.Unlock()
	return true
}

func (s *PullSinkOto) UnqueueProcessed(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.processed) {
		n = len(s.processed)
	}
	ids := append([]int(nil), s.processed[:n]...)
	s.processed = s.processed[n:]
	return ids
}

func (s *PullSinkOto) UploadPCM(bufID int, frame pcm.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.buffers[bufID], frame)
}

func (s *PullSinkOto) Queue(ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, ids...)
}

func (s *PullSinkOto) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// SourceState queries oto.Player.IsPlaying directly rather than mirroring it
// into a latched flag, so a host-induced pause (anything that stops the
// player out from under this sink) is visible to the feeder's recovery
// check on the very next tick (spec.md §4.4 step 5 / §7 item 5).
func (s *PullSinkOto) SourceState() SourceState {
	if s.player.IsPlaying() {
		return StatePlaying
	}
	return StateStopped
}

func (s *PullSinkOto) Play() error {
	if !s.player.IsPlaying() {
		s.player.Play()
	}
	return nil
}

func (s *PullSinkOto) EffectiveChannels() int { return s.channels }

func (s *PullSinkOto) Close() error {
	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
	if s.otoCtx != nil {
		s.otoCtx.Suspend()
		s.otoCtx = nil
	}
	return nil
}
