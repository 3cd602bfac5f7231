// ABOUTME: The dedicated worker that drains intake, decodes, and drives whichever AudioSink profile is active
// ABOUTME: Exclusive owner of the Opus decoder and, for PullSink, the FrameRing; touches neither from any other goroutine
package feeder

import (
	"time"

	"github.com/pixelstream/opusfeed/internal/intake"
	"github.com/pixelstream/opusfeed/internal/logsink"
	"github.com/pixelstream/opusfeed/internal/msopus"
	"github.com/pixelstream/opusfeed/internal/pcm"
	"github.com/pixelstream/opusfeed/internal/ring"
	"github.com/pixelstream/opusfeed/internal/sink"
)

// Profile selects which AudioSink capability set the feeder drives, per
// spec.md §9's "two sink profiles as a capability set" note.
type Profile int

const (
	ProfilePull Profile = iota
	ProfilePushRing
	ProfilePushSlots
)

// diagInterval is the periodic-diagnostics cadence from spec.md §4.3.
const diagInterval = 5 * time.Second

// waitTimeout bounds every PacketIntake wait, per spec.md §4.3/§5.
const waitTimeout = time.Millisecond

// Feeder is the single dedicated worker from spec.md §4.3. It is started at
// the end of Init and joined synchronously in Cleanup.
type Feeder struct {
	log     *logsink.Sink
	intake  *intake.Queue
	decoder *msopus.Decoder

	samplesPerFrame   int
	originalChannels  int
	effectiveChannels int
	frameElems        int
	jitterFrames      int

	profile   Profile
	frameRing *ring.FrameRing
	pull      sink.PullSink
	pushRing  *sink.PushRing
	pushSlots *sink.PushSlots

	scratch     []int16
	jitterReady bool
	plcCount    uint64

	ringOverflowLimiter logsink.RateLimiter

	lastDiag time.Time
	doneCh   chan struct{}
}

// Config bundles the fixed shape the feeder needs regardless of profile.
type Config struct {
	Log               *logsink.Sink
	Intake            *intake.Queue
	Decoder           *msopus.Decoder
	SamplesPerFrame   int
	OriginalChannels  int
	EffectiveChannels int
	FrameElems        int
	JitterFrames      int
}

func newFeeder(cfg Config, profile Profile) *Feeder {
	return &Feeder{
		log:               cfg.Log,
		intake:            cfg.Intake,
		decoder:           cfg.Decoder,
		samplesPerFrame:   cfg.SamplesPerFrame,
		originalChannels:  cfg.OriginalChannels,
		effectiveChannels: cfg.EffectiveChannels,
		frameElems:        cfg.FrameElems,
		jitterFrames:      cfg.JitterFrames,
		profile:           profile,
		scratch:           make([]int16, cfg.SamplesPerFrame*cfg.OriginalChannels),
		doneCh:            make(chan struct{}),
	}
}

// NewPullFeeder builds a feeder driving a PullSink over the given FrameRing.
func NewPullFeeder(cfg Config, frameRing *ring.FrameRing, pull sink.PullSink) *Feeder {
	f := newFeeder(cfg, ProfilePull)
	f.frameRing = frameRing
	f.pull = pull
	return f
}

// NewPushRingFeeder builds a feeder driving PushSink Variant A.
func NewPushRingFeeder(cfg Config, pushRing *sink.PushRing) *Feeder {
	f := newFeeder(cfg, ProfilePushRing)
	f.pushRing = pushRing
	return f
}

// NewPushSlotsFeeder builds a feeder driving PushSink Variant B.
func NewPushSlotsFeeder(cfg Config, pushSlots *sink.PushSlots) *Feeder {
	f := newFeeder(cfg, ProfilePushSlots)
	f.pushSlots = pushSlots
	return f
}

// Start launches the feeder loop on its own goroutine.
func (f *Feeder) Start() {
	f.lastDiag = time.Now()
	go f.run()
}

// Join blocks until the feeder loop has exited. Cleanup must call Stop on
// the underlying intake.Queue before Join, per spec.md §4.6 ("signal
// running=false, notify CV, join feeder").
func (f *Feeder) Join() {
	<-f.doneCh
}

func (f *Feeder) run() {
	defer close(f.doneCh)
	for f.intake.Running() {
		f.periodicDiagnostics()
		f.honorFlushRequest()
		f.drainPacketsIntoStage()
		f.paceWithSink()
		f.intake.WaitForWork(waitTimeout)
	}
}

func (f *Feeder) periodicDiagnostics() {
	if time.Since(f.lastDiag) < diagInterval {
		return
	}
	f.lastDiag = time.Now()

	switch f.profile {
	case ProfilePull:
		f.log.Logf("feeder: diag intake=%d/%d ring=%d/%d plc=%d",
			f.intake.Len(), f.intake.Cap(), f.frameRing.Size(), f.frameRing.Cap(), f.plcCount)
	case ProfilePushRing:
		f.log.Logf("feeder: diag intake=%d/%d pushRing=%d/%d",
			f.intake.Len(), f.intake.Cap(), f.pushRing.Size(), f.pushRing.Cap())
	case ProfilePushSlots:
		f.log.Logf("feeder: diag intake=%d/%d pushSlots cap=%d",
			f.intake.Len(), f.intake.Cap(), f.pushSlots.Cap())
	}
}

// honorFlushRequest implements spec.md §4.5's flush protocol. It is a no-op
// for the PullSink profile, which has no host-scheduler gap to react to.
func (f *Feeder) honorFlushRequest() {
	var desc *sink.PushDescriptor
	switch f.profile {
	case ProfilePushRing:
		desc = f.pushRing.Descriptor
	case ProfilePushSlots:
		desc = f.pushSlots.Descriptor
	default:
		return
	}

	if desc.FlushRequest.Load() {
		f.intake.Clear()
		desc.FlushRequest.Store(false)
		f.log.Logf("feeder: flush request observed, intake cleared")
	}
}

// drainPacketsIntoStage decodes as many packets as are currently available,
// stopping early if the intake queue is stopped mid-drain so shutdown
// latency stays bounded.
func (f *Feeder) drainPacketsIntoStage() {
	for f.intake.Running() {
		pkt, ok := f.intake.TryPop()
		if !ok {
			return
		}
		f.decodeAndDeliver(pkt)
	}
}

func (f *Feeder) decodeAndDeliver(pkt []byte) {
	if f.profile == ProfilePushRing && f.pushRing.Full() {
		f.log.Logf("feeder: push ring full, dropping encoded packet")
		return
	}

	n := f.decoder.Decode(pkt, f.scratch, f.samplesPerFrame)
	if n <= 0 {
		f.log.Logf("feeder: decode failed, rc=%d, dropping packet", n)
		return
	}

	frame := f.toEffective(f.scratch[:n*f.originalChannels])

	switch f.profile {
	case ProfilePull:
		if !f.frameRing.PushBack(frame) {
			if allow, cnt := f.ringOverflowLimiter.Allow(); allow {
				f.log.Logf("feeder: frame ring overflow, dropping newest (#%d)", cnt)
			}
		}
	case ProfilePushRing:
		f.pushRing.PushBack(frame)
	case ProfilePushSlots:
		f.pushSlots.Publish(frame)
	}
}

// toEffective converts an original-channel-count decode result into the
// effective-channel-count frame the sink expects, downmixing if a stereo
// fallback is in effect.
func (f *Feeder) toEffective(orig []int16) pcm.Frame {
	if f.originalChannels == f.effectiveChannels {
		out := make(pcm.Frame, len(orig))
		copy(out, orig)
		return out
	}
	return pcm.DownmixStereo(pcm.Frame(orig), f.originalChannels)
}

// paceWithSink implements the PullSink steady-state algorithm from spec.md
// §4.4. It is a no-op for both PushSink profiles.
func (f *Feeder) paceWithSink() {
	if f.profile != ProfilePull {
		return
	}

	if !f.jitterReady {
		if f.frameRing.Size() < f.jitterFrames {
			return
		}
		f.jitterReady = true
		f.log.Logf("feeder: jitter buffer ready")
	}

	p := f.pull.ProcessedCount()
	if p == 0 {
		return
	}

	ids := f.pull.UnqueueProcessed(p)
	realCount := len(ids)
	if f.frameRing.Size() < realCount {
		realCount = f.frameRing.Size()
	}

	for i := 0; i < realCount; i++ {
		frame, ok := f.frameRing.PopFront()
		if !ok {
			realCount = i
			break
		}
		f.pull.UploadPCM(ids[i], frame)
	}
	if plcThisTick := len(ids) - realCount; plcThisTick > 0 {
		for i := realCount; i < len(ids); i++ {
			f.pull.UploadPCM(ids[i], f.decodeLostFrame())
			f.plcCount++
		}
		f.log.Logf("feeder: packet loss concealed %d frame(s), total=%d", plcThisTick, f.plcCount)
	}

	f.pull.Queue(ids)

	if f.pull.SourceState() != sink.StatePlaying {
		if err := f.pull.Play(); err != nil {
			f.log.Logf("feeder: play failed: %v", err)
		}
	}
}

func (f *Feeder) decodeLostFrame() pcm.Frame {
	lost := make([]int16, f.samplesPerFrame*f.originalChannels)
	n := f.decoder.DecodeLost(lost, f.samplesPerFrame)
	if n <= 0 {
		return pcm.Silence(f.frameElems)
	}
	return f.toEffective(lost[:n*f.originalChannels])
}
