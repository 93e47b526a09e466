package audio

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// Kind distinguishes the two capture roles the pipeline mixes together.
// A Kind only labels a Source for logging; both kinds are opened the
// same way, against whatever device the selector names.
type Kind int

const (
	KindMicrophone Kind = iota
	KindSystem
)

func (k Kind) String() string {
	if k == KindSystem {
		return "system"
	}
	return "microphone"
}

type sourceState int32

const (
	stateCreated sourceState = iota
	stateRunning
	stateStopped
)

// Config is the negotiated stream configuration for one Source.
// Immutable for the Source's lifetime.
type Config struct {
	SampleRate int
	Channels   int
}

// Device describes one enumerated capture-capable endpoint.
type Device struct {
	ID   malgo.DeviceID
	Name string
}

// Source owns one native capture device and broadcasts downmixed mono
// f32 frames to every current subscriber.
type Source struct {
	kind Kind
	ctx  *malgo.AllocatedContext

	device *malgo.Device
	config Config

	bc    *broadcaster
	state atomic.Int32

	mu            sync.Mutex
	disconnected  bool
	runningFlag   *atomic.Bool // shared with the lifecycle controller; cleared on callback error
}

// Open negotiates and starts capture on the device identified by
// deviceID (nil selects the context's default capture device, for
// either Kind; a system Source does not fall back to an output
// loopback device).
// runningFlag is deasserted by the Source if the native callback
// observes an unrecoverable stream error, so consumers unblock without
// the lifecycle controller having to poll device health.
func Open(ctx *malgo.AllocatedContext, kind Kind, deviceID *malgo.DeviceID, sampleRate, channels int, runningFlag *atomic.Bool) (*Source, error) {
	s := &Source{
		kind:        kind,
		ctx:         ctx,
		bc:          newBroadcaster(),
		runningFlag: runningFlag,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if deviceID != nil {
		deviceConfig.Capture.DeviceID = deviceID.Pointer()
	}

	onRecvFrames := func(_, in []byte, frameCount uint32) {
		s.onFrames(in, frameCount, channels)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
		Stop: s.onStopped,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classifyStartError(err)
	}

	s.device = device
	s.config = Config{SampleRate: sampleRate, Channels: 1}
	s.state.Store(int32(stateRunning))

	log.Printf("audio: %s capture started (rate=%d channels=%d)", kind, sampleRate, channels)
	return s, nil
}

func classifyStartError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
}

// onFrames is the native callback: downmix to mono and publish. Must
// not block and must not allocate beyond the outgoing Frame.
func (s *Source) onFrames(in []byte, frameCount uint32, channels int) {
	sampleCount := int(frameCount) * channels
	if len(in) != sampleCount*4 {
		return
	}

	mono := make([]float32, int(frameCount))
	if channels == 1 {
		for i := 0; i < int(frameCount); i++ {
			mono[i] = float32frombits(in, i)
		}
	} else {
		for i := 0; i < int(frameCount); i++ {
			var sum float32
			for ch := 0; ch < channels; ch++ {
				sum += float32frombits(in, i*channels+ch)
			}
			mono[i] = sum / float32(channels)
		}
	}

	s.bc.publish(Frame{Samples: mono})
}

func float32frombits(buf []byte, sampleIdx int) float32 {
	i := sampleIdx * 4
	bits := uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
	return math.Float32frombits(bits)
}

// onStopped fires when the native backend halts the stream on its own
// (device unplugged, OS-level failure). It clears the shared running
// flag so cooperative consumers (chunker, workers) unblock.
func (s *Source) onStopped() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
	if s.runningFlag != nil {
		s.runningFlag.Store(false)
	}
	log.Printf("audio: %s source disconnected", s.kind)
}

// Subscribe returns a new Receiver. Does not extend the Source's
// lifetime: once Stop returns, all receivers' channels are closed.
func (s *Source) Subscribe() *Receiver {
	return s.bc.subscribe()
}

// StreamConfig returns the negotiated (immutable) stream configuration.
func (s *Source) StreamConfig() Config {
	return s.config
}

// Disconnected reports whether the native callback observed an
// unrecoverable stream error.
func (s *Source) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// Stop pauses the stream, releases the native handle, and joins the
// callback thread. After return no further frames are broadcast.
func (s *Source) Stop() error {
	if !s.state.CompareAndSwap(int32(stateRunning), int32(stateStopped)) {
		return nil
	}
	if s.device != nil {
		s.device.Uninit()
	}
	s.bc.closeAll()
	log.Printf("audio: %s capture stopped", s.kind)
	return nil
}
