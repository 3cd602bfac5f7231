// ABOUTME: Lifecycle/Config: init/submitPacket/cleanup over a single owned Pipeline value
// ABOUTME: Replaces the module-global mutable state spec.md §9's Design Note calls out, per SPEC_FULL.md §4
package audiopipe

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/pixelstream/opusfeed/internal/config"
	"github.com/pixelstream/opusfeed/internal/feeder"
	"github.com/pixelstream/opusfeed/internal/intake"
	"github.com/pixelstream/opusfeed/internal/logsink"
	"github.com/pixelstream/opusfeed/internal/msopus"
	"github.com/pixelstream/opusfeed/internal/ring"
	"github.com/pixelstream/opusfeed/internal/sink"
	"github.com/pixelstream/opusfeed/internal/version"
)

// OpusConfig is the collaborator's multistream descriptor (spec.md §3, §6).
type OpusConfig = config.OpusConfig

// SinkProfile selects which AudioSink profile and backend a Pipeline drives.
type SinkProfile int

const (
	SinkPullMalgo SinkProfile = iota
	SinkPullOto
	SinkPushRing
	SinkPushSlots
)

// Options are the host-supplied knobs beyond the Opus descriptor itself.
type Options struct {
	Profile SinkProfile

	// AudioJitterMsOverride is spec.md §6's audioJitterMsOverride; 0 means
	// "use the default 100ms".
	AudioJitterMsOverride int

	// LogCollectorNetwork/Addr configure internal/logsink's optional remote
	// forwarding ("tcp" or "udp"; empty disables it).
	LogCollectorNetwork string
	LogCollectorAddr    string
	Logger              *log.Logger

	// PushNotify is consulted only when Profile == SinkPushSlots.
	PushNotify sink.PushNotifyFunc
}

// Pipeline is the single owned value created by Init and destroyed by
// Cleanup; collaborator callbacks bind to it (directly, or via
// Register/Callbacks for hosts that need free-function pointers).
type Pipeline struct {
	log       *logsink.Sink
	sessionID string

	opusConfig        config.OpusConfig
	sizes             config.DerivedSizes
	effectiveChannels int

	intakeQ *intake.Queue
	decoder *msopus.Decoder
	fdr     *feeder.Feeder

	pull      sink.PullSink
	pushRing  *sink.PushRing
	pushSlots *sink.PushSlots

	mu      sync.Mutex
	running bool
}

// New returns an unstarted Pipeline. Call Init before SubmitPacket.
func New() *Pipeline {
	return &Pipeline{}
}

// Init implements spec.md §4.6's init: capture config, derive sizes,
// allocate intake/decoder/sink, start the feeder. On any failure, whatever
// was already allocated is torn down before returning.
func (p *Pipeline) Init(opusConfig OpusConfig, opts Options) error {
	if err := opusConfig.Validate(); err != nil {
		return fmt.Errorf("audiopipe: invalid opus config: %w", err)
	}

	p.sessionID = uuid.NewString()
	p.log = logsink.New(opts.Logger, opts.LogCollectorNetwork, opts.LogCollectorAddr)
	p.opusConfig = opusConfig

	effectiveChannels := opusConfig.ChannelCount
	if !opusConfig.SupportsEffectiveFallback() {
		p.log.Logf("session %s: channel count %d not in {2,6,8}, downmixing to stereo",
			p.sessionID, opusConfig.ChannelCount)
		effectiveChannels = 2
	}

	p.sizes = config.Derive(opusConfig, opts.AudioJitterMsOverride, effectiveChannels)
	p.intakeQ = intake.New(p.sizes.PktCap, p.log)

	decoder, err := msopus.Create(opusConfig)
	if err != nil {
		p.log.Close()
		return fmt.Errorf("audiopipe: session %s: decoder create failed: %w", p.sessionID, err)
	}
	p.decoder = decoder

	if err := p.openSink(opts, effectiveChannels); err != nil {
		decoder.Destroy()
		p.log.Close()
		return fmt.Errorf("audiopipe: session %s: %w", p.sessionID, err)
	}

	p.fdr.Start()

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	p.log.Logf("%s %s: session %s: init complete, sampleRate=%d channels=%d->%d samplesPerFrame=%d jitterFrames=%d",
		version.Product, version.Version, p.sessionID, opusConfig.SampleRate, opusConfig.ChannelCount,
		p.effectiveChannels, opusConfig.SamplesPerFrame, p.sizes.JitterFrames)
	return nil
}

// openSink builds whichever sink profile opts.Profile selects and wires a
// feeder to it. For the PullSink profiles, a sink-format failure on 6/8
// channels triggers the stereo-downmix fallback from spec.md §4.4/§7 item 7
// and re-derives sizing before retrying.
func (p *Pipeline) openSink(opts Options, effectiveChannels int) error {
	baseCfg := func(effectiveChannels int) feeder.Config {
		return feeder.Config{
			Log:               p.log,
			Intake:            p.intakeQ,
			Decoder:           p.decoder,
			SamplesPerFrame:   p.opusConfig.SamplesPerFrame,
			OriginalChannels:  p.opusConfig.ChannelCount,
			EffectiveChannels: effectiveChannels,
			FrameElems:        p.sizes.FrameElems,
			JitterFrames:      p.sizes.JitterFrames,
		}
	}

	switch opts.Profile {
	case SinkPullMalgo, SinkPullOto:
		open := func(ch int) (sink.PullSink, error) { return p.openPullSink(opts.Profile, ch) }
		pull, effectiveChannels, err := p.resolvePullSink(opts, effectiveChannels, open)
		if err != nil {
			return fmt.Errorf("pull sink open failed: %w", err)
		}
		if err := pull.Play(); err != nil {
			pull.Close()
			return fmt.Errorf("pull sink play failed: %w", err)
		}
		p.pull = pull
		p.effectiveChannels = effectiveChannels
		p.fdr = feeder.NewPullFeeder(baseCfg(effectiveChannels), ring.New(p.sizes.RingCap, p.sizes.FrameElems), pull)
		return nil

	case SinkPushRing:
		pr := sink.NewPushRing(p.sizes.RingCap, p.sizes.FrameElems, p.opusConfig.SampleRate,
			effectiveChannels, p.sizes.JitterFrames, p.sizes.TargetJitterMs)
		pr.Descriptor.Ready.Store(true)
		p.pushRing = pr
		p.effectiveChannels = effectiveChannels
		p.fdr = feeder.NewPushRingFeeder(baseCfg(effectiveChannels), pr)
		return nil

	case SinkPushSlots:
		n := sink.SlotCountFor(p.sizes.FrameDurationMs)
		slots := sink.NewPushSlots(n, p.sizes.FrameElems, p.opusConfig.SamplesPerFrame,
			effectiveChannels, p.opusConfig.SampleRate, opts.PushNotify)
		slots.Descriptor.Ready.Store(true)
		p.pushSlots = slots
		p.effectiveChannels = effectiveChannels
		p.fdr = feeder.NewPushSlotsFeeder(baseCfg(effectiveChannels), slots)
		return nil

	default:
		return fmt.Errorf("unknown sink profile %d", opts.Profile)
	}
}

// resolvePullSink opens a PullSink via open, retrying once at stereo if the
// first attempt fails on a non-stereo channel count (spec.md §4.4/§7 item 7,
// "scenario 3"). open is a seam so tests can force the first attempt to fail
// without a real audio backend; production always passes p.openPullSink.
func (p *Pipeline) resolvePullSink(opts Options, effectiveChannels int, open func(int) (sink.PullSink, error)) (sink.PullSink, int, error) {
	pull, err := open(effectiveChannels)
	if err != nil && effectiveChannels != 2 {
		p.log.Logf("session %s: sink format unavailable for %d channels, downmixing to stereo",
			p.sessionID, effectiveChannels)
		effectiveChannels = 2
		p.sizes = config.Derive(p.opusConfig, opts.AudioJitterMsOverride, effectiveChannels)
		pull, err = open(effectiveChannels)
	}
	if err != nil {
		return nil, effectiveChannels, err
	}
	return pull, effectiveChannels, nil
}

func (p *Pipeline) openPullSink(profile SinkProfile, effectiveChannels int) (sink.PullSink, error) {
	if profile == SinkPullOto {
		return sink.NewPullSinkOto(p.log, p.opusConfig.SampleRate, effectiveChannels, p.sizes.FrameElems, p.sizes.NumBuffers)
	}
	return sink.NewPullSinkMalgo(p.log, p.opusConfig.SampleRate, effectiveChannels, p.sizes.FrameElems,
		p.opusConfig.SamplesPerFrame, p.sizes.NumBuffers)
}

// SubmitPacket is the network producer's entry point (spec.md §4.1, §6). A
// no-op once the pipeline is not running.
func (p *Pipeline) SubmitPacket(data []byte) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}
	p.intakeQ.Submit(data)
}

// Cleanup implements spec.md §4.6's cleanup: idempotent, safe after partial
// init, clears any PushSink ready flag first, joins the feeder, then tears
// down the sink and decoder.
func (p *Pipeline) Cleanup() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	if p.pushRing != nil {
		p.pushRing.Descriptor.Ready.Store(false)
	}
	if p.pushSlots != nil {
		p.pushSlots.Descriptor.Ready.Store(false)
	}

	p.intakeQ.Stop()
	p.fdr.Join()

	if p.pull != nil {
		if err := p.pull.Close(); err != nil {
			p.log.Logf("session %s: sink close error: %v", p.sessionID, err)
		}
	}
	if p.decoder != nil {
		p.decoder.Destroy()
	}

	p.log.Logf("session %s: cleanup complete", p.sessionID)
	p.log.Close()
}

// EffectiveChannels returns the channel count actually in use downstream,
// valid only after a successful Init.
func (p *Pipeline) EffectiveChannels() int { return p.effectiveChannels }

// SessionID returns the per-Init correlation id threaded through log lines.
func (p *Pipeline) SessionID() string { return p.sessionID }

// PushRing returns the PushSink Variant A ring for a consumer to Pop from,
// or nil if Init was not given SinkPushRing.
func (p *Pipeline) PushRing() *sink.PushRing { return p.pushRing }

// PushSlots returns the PushSink Variant B slot pool, or nil if Init was not
// given SinkPushSlots. Consumers normally only need the PushNotifyFunc
// passed in via Options; this accessor exists for inspecting Cap().
func (p *Pipeline) PushSlots() *sink.PushSlots { return p.pushSlots }
