// ABOUTME: Collaborator callback shapes and capability flags from spec.md §6
// ABOUTME: Register/Callbacks serve hosts that need process-wide free-function callbacks rather than a bound *Pipeline
package audiopipe

import (
	"fmt"
	"sync"

	"github.com/pixelstream/opusfeed/internal/pcm"
)

// Capability is a bit in the flag set a host's upstream library queries to
// learn what this pipeline supports (spec.md §6).
type Capability uint32

const (
	CapabilityDirectSubmit           Capability = 1 << 0
	CapabilityArbitraryAudioDuration Capability = 1 << 1
)

// Capabilities is the fixed set this pipeline always advertises: it accepts
// packets directly (no intermediate buffering contract) and tolerates any
// samplesPerFrame the collaborator's OpusConfig names.
const Capabilities = CapabilityDirectSubmit | CapabilityArbitraryAudioDuration

// InitFunc, CleanupFunc and SubmitFunc mirror Pipeline's Init/Cleanup/
// SubmitPacket as free functions, for a host binding against a C-style
// global callback table at a cgo export boundary.
type (
	InitFunc    func(opusConfig OpusConfig, opts Options) error
	CleanupFunc func()
	SubmitFunc  func(data []byte)
)

var (
	registryMu sync.Mutex
	registry   *Pipeline
)

// Register installs pipeline as the process-wide singleton Callbacks()
// resolves against, per the "process-wide registration" note in spec.md §9.
// Hosts holding their own *Pipeline value don't need this.
func Register(pipeline *Pipeline) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = pipeline
}

// Callbacks returns free-function InitFunc/CleanupFunc/SubmitFunc values
// bound to whichever Pipeline is currently registered.
func Callbacks() (InitFunc, CleanupFunc, SubmitFunc) {
	initFn := func(opusConfig OpusConfig, opts Options) error {
		p := currentPipeline()
		if p == nil {
			return fmt.Errorf("audiopipe: no pipeline registered")
		}
		return p.Init(opusConfig, opts)
	}
	cleanupFn := func() {
		if p := currentPipeline(); p != nil {
			p.Cleanup()
		}
	}
	submitFn := func(data []byte) {
		if p := currentPipeline(); p != nil {
			p.SubmitPacket(data)
		}
	}
	return initFn, cleanupFn, submitFn
}

func currentPipeline() *Pipeline {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry
}

// PushNotifyNoop is a usable no-op sink.PushNotifyFunc. Options.PushNotify
// is consulted only for SinkPushSlots; a SinkPushRing host reads frames via
// PushRing().Pop and needs no notify function at all.
func PushNotifyNoop(pcm.Frame, int, int, int) {}
