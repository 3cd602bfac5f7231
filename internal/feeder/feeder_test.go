// ABOUTME: Tests for the feeder loop across all three sink profiles
// ABOUTME: Uses genuine Opus packets from testsupport so decode is exercised, not stubbed
package feeder

import (
	"bytes"
	"log"
	"sync"
	"testing"

	"github.com/pixelstream/opusfeed/internal/config"
	"github.com/pixelstream/opusfeed/internal/intake"
	"github.com/pixelstream/opusfeed/internal/logsink"
	"github.com/pixelstream/opusfeed/internal/msopus"
	"github.com/pixelstream/opusfeed/internal/pcm"
	"github.com/pixelstream/opusfeed/internal/ring"
	"github.com/pixelstream/opusfeed/internal/sink"
	"github.com/pixelstream/opusfeed/internal/testsupport"
)

func testSink() *logsink.Sink {
	return logsink.New(log.New(&bytes.Buffer{}, "", 0), "", "")
}

const (
	testSampleRate      = 48000
	testSamplesPerFrame = 480
	testChannels        = 2
)

func testDecoder(t *testing.T) *msopus.Decoder {
	t.Helper()
	dec, err := msopus.Create(config.OpusConfig{
		SampleRate:      testSampleRate,
		ChannelCount:    testChannels,
		SamplesPerFrame: testSamplesPerFrame,
		Streams:         1,
		CoupledStreams:  1,
		Mapping:         testsupport.StereoMapping(),
	})
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	return dec
}

// stubPullSink is an in-process PullSink implementation for tests, avoiding
// any dependency on a real audio device.
type stubPullSink struct {
	mu        sync.Mutex
	buffers   []pcm.Frame
	queued    []int
	processed []int
	channels  int
	playCalls int
	playing   bool
}

func newStubPullSink(numBuffers, frameElems, channels int) *stubPullSink {
	s := &stubPullSink{
		buffers:  make([]pcm.Frame, numBuffers),
		channels: channels,
	}
	for i := range s.buffers {
		s.buffers[i] = pcm.Silence(frameElems)
	}
	return s
}

// deliverOne simulates one device tick consuming the front of the queued
// list and depositing it onto processed, the same transition the malgo/oto
// backends perform in their data callback/Read.
func (s *stubPullSink) deliverOne() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) == 0 {
		return false
	}
	id := s.queued[0]
	s.queued = s.queued[1:]
	s.processed = append(s.processed, id)
	return true
}

func (s *stubPullSink) UnqueueProcessed(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.processed) {
		n = len(s.processed)
	}
	ids := append([]int(nil), s.processed[:n]...)
	s.processed = s.processed[n:]
	return ids
}

func (s *stubPullSink) UploadPCM(bufID int, frame pcm.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.buffers[bufID], frame)
}

func (s *stubPullSink) Queue(ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, ids...)
}

func (s *stubPullSink) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

func (s *stubPullSink) SourceState() sink.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return sink.StatePlaying
	}
	return sink.StateStopped
}

func (s *stubPullSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playCalls++
	s.playing = true
	return nil
}

func (s *stubPullSink) EffectiveChannels() int { return s.channels }
func (s *stubPullSink) Close() error           { return nil }

func (s *stubPullSink) frameAt(id int) pcm.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(pcm.Frame, len(s.buffers[id]))
	copy(out, s.buffers[id])
	return out
}

func baseConfig(t *testing.T, dec *msopus.Decoder, q *intake.Queue, frameElems, jitterFrames int) Config {
	return Config{
		Log:               testSink(),
		Intake:            q,
		Decoder:           dec,
		SamplesPerFrame:   testSamplesPerFrame,
		OriginalChannels:  testChannels,
		EffectiveChannels: testChannels,
		FrameElems:        frameElems,
		JitterFrames:      jitterFrames,
	}
}

func TestPullFeederDeliversDecodedPCMInOrder(t *testing.T) {
	dec := testDecoder(t)
	defer dec.Destroy()

	packets, err := testsupport.EncodeTone(testSampleRate, testChannels, testSamplesPerFrame, 3, 220.0)
	if err != nil {
		t.Fatalf("failed to generate packets: %v", err)
	}

	frameElems := testSamplesPerFrame * testChannels

	// A second decoder fed the same packets in the same order yields the PCM
	// each uploaded buffer is expected to hold.
	refDec := testDecoder(t)
	defer refDec.Destroy()
	want := make([]pcm.Frame, len(packets))
	for i, pkt := range packets {
		want[i] = make(pcm.Frame, frameElems)
		if n := refDec.Decode(pkt, want[i], testSamplesPerFrame); n != testSamplesPerFrame {
			t.Fatalf("reference decode of packet %d returned %d", i, n)
		}
	}

	q := intake.New(64, testSink())
	fr := ring.New(8, frameElems)
	ps := newStubPullSink(4, frameElems, testChannels)
	for i := range ps.buffers {
		ps.queued = append(ps.queued, i)
	}

	cfg := baseConfig(t, dec, q, frameElems, 1)
	f := NewPullFeeder(cfg, fr, ps)

	for _, pkt := range packets {
		q.Submit(pkt)
	}
	f.drainPacketsIntoStage()

	// The device consumes buffers 0, 1, 2 in that order; the next pacing tick
	// refills them from the ring front to back.
	for range packets {
		ps.deliverOne()
	}
	f.paceWithSink()

	for i := range packets {
		got := ps.frameAt(i)
		for j := range want[i] {
			if got[j] != want[i][j] {
				t.Fatalf("buffer %d sample %d: expected %d, got %d", i, j, want[i][j], got[j])
			}
		}
	}
}

func TestPullFeederWaitsForJitterBeforeRealUploads(t *testing.T) {
	dec := testDecoder(t)
	defer dec.Destroy()

	frameElems := testSamplesPerFrame * testChannels
	q := intake.New(64, testSink())
	fr := ring.New(8, frameElems)
	ps := newStubPullSink(4, frameElems, testChannels)

	cfg := baseConfig(t, dec, q, frameElems, 5)
	f := NewPullFeeder(cfg, fr, ps)

	fr.PushBack(pcm.Silence(frameElems))
	fr.PushBack(pcm.Silence(frameElems))

	f.paceWithSink()

	if f.jitterReady {
		t.Fatal("expected jitter buffer to not be ready yet with 2 of 5 frames")
	}
}

func TestPullFeederRecoversFromUnderrunViaPLC(t *testing.T) {
	dec := testDecoder(t)
	defer dec.Destroy()

	frameElems := testSamplesPerFrame * testChannels
	q := intake.New(64, testSink())
	fr := ring.New(8, frameElems)
	ps := newStubPullSink(4, frameElems, testChannels)

	cfg := baseConfig(t, dec, q, frameElems, 1)
	f := NewPullFeeder(cfg, fr, ps)
	f.jitterReady = true

	ps.queued = append(ps.queued, 0, 1, 2)
	ps.deliverOne()
	ps.deliverOne()
	ps.deliverOne()

	f.paceWithSink()

	if f.plcCount != 3 {
		t.Fatalf("expected 3 PLC frames, got %d", f.plcCount)
	}
	if ps.playCalls == 0 {
		t.Fatal("expected Play to be called to (re)start playback")
	}
}

func TestPushRingFeederDropsPacketWhenFull(t *testing.T) {
	dec := testDecoder(t)
	defer dec.Destroy()

	packets, err := testsupport.EncodeTone(testSampleRate, testChannels, testSamplesPerFrame, 5, 330.0)
	if err != nil {
		t.Fatalf("failed to generate packets: %v", err)
	}

	frameElems := testSamplesPerFrame * testChannels
	q := intake.New(64, testSink())
	pr := sink.NewPushRing(2, frameElems, testSampleRate, testChannels, 1, 100)

	cfg := baseConfig(t, dec, q, frameElems, 1)
	f := NewPushRingFeeder(cfg, pr)

	for _, pkt := range packets {
		f.decodeAndDeliver(pkt)
	}

	if pr.Size() != pr.Cap() {
		t.Fatalf("expected ring to be full at cap=%d, got size=%d", pr.Cap(), pr.Size())
	}
}

func TestPushRingFeederHonorsFlushRequest(t *testing.T) {
	dec := testDecoder(t)
	defer dec.Destroy()

	frameElems := testSamplesPerFrame * testChannels
	q := intake.New(64, testSink())
	pr := sink.NewPushRing(8, frameElems, testSampleRate, testChannels, 1, 100)

	cfg := baseConfig(t, dec, q, frameElems, 1)
	f := NewPushRingFeeder(cfg, pr)

	for i := 0; i < 5; i++ {
		q.Submit([]byte{byte(i), 0xff})
	}
	pr.Descriptor.FlushRequest.Store(true)

	f.honorFlushRequest()

	if q.Len() != 0 {
		t.Fatalf("expected intake cleared after flush, got %d packets", q.Len())
	}
	if pr.Descriptor.FlushRequest.Load() {
		t.Fatal("expected flushRequest to reset to false")
	}
}

func TestPushSlotsFeederPublishesDecodedFrames(t *testing.T) {
	dec := testDecoder(t)
	defer dec.Destroy()

	packets, err := testsupport.EncodeTone(testSampleRate, testChannels, testSamplesPerFrame, 2, 440.0)
	if err != nil {
		t.Fatalf("failed to generate packets: %v", err)
	}

	frameElems := testSamplesPerFrame * testChannels
	q := intake.New(64, testSink())

	var notified int
	slots := sink.NewPushSlots(32, frameElems, testSamplesPerFrame, testChannels, testSampleRate,
		func(frame pcm.Frame, samplesPerFrame, channels, rate int) {
			notified++
		})

	cfg := baseConfig(t, dec, q, frameElems, 1)
	f := NewPushSlotsFeeder(cfg, slots)

	for _, pkt := range packets {
		f.decodeAndDeliver(pkt)
	}

	if notified != len(packets) {
		t.Fatalf("expected %d notifications, got %d", len(packets), notified)
	}
}
