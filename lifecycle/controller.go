// Package lifecycle owns the single session object the rest of the
// pipeline is handed on construction: the running/recording flags, the
// queue, the worker pool, and both capture sources. Replaces raw
// mutable globals with a single owned session so two sessions can
// never observe each other's counters.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"meetcore/audio"
	"meetcore/pipeline"
	"meetcore/transcribe"
)

var (
	ErrAlreadyRunning = errors.New("lifecycle: a recording session is already active")
)

const (
	// MinRecordingDuration is MIN_RECORDING_DURATION_MS.
	MinRecordingDuration = 2000 * time.Millisecond
	// DrainTimeout bounds how long Stop waits for workers to finish.
	DrainTimeout = 30 * time.Second
	// DrainPollInterval is how often Stop checks drain progress.
	DrainPollInterval = 100 * time.Millisecond
)

// Config selects devices and the transcription endpoint for a session.
type Config struct {
	SampleRate       int
	Channels         int
	MicDeviceName    string
	SystemDeviceName string
	CaptureSystem    bool
	TranscribeURL    string
}

// TranscriptionStatus answers getTranscriptionStatus().
type TranscriptionStatus struct {
	ChunksInQueue       int
	IsProcessing        bool
	MsSinceLastActivity int64
}

// Controller is the single-flight session owner. One Controller
// instance backs the whole process; Start/Stop serialize on it.
type Controller struct {
	ctx    *malgo.AllocatedContext
	sink   transcribe.Sink
	config Config

	mu             sync.Mutex
	recordingFlag  atomic.Bool
	runningFlag    atomic.Bool
	recordingStart time.Time

	sessionID  string
	micSource  *audio.Source
	sysSource  *audio.Source
	queue      *pipeline.Queue
	pool       *transcribe.Pool
	cancelSess context.CancelFunc
}

// New constructs a Controller against a live malgo context. sink
// receives every event emitted during a session.
func New(ctx *malgo.AllocatedContext, sink transcribe.Sink, config Config) *Controller {
	return &Controller{ctx: ctx, sink: sink, config: config}
}

// IsRecording reports whether a session is currently active.
func (c *Controller) IsRecording() bool {
	return c.recordingFlag.Load()
}

// TranscriptionStatus reports queue depth, worker activity, and
// staleness. Safe to call with no active session.
func (c *Controller) TranscriptionStatus() TranscriptionStatus {
	c.mu.Lock()
	queue, pool := c.queue, c.pool
	c.mu.Unlock()

	if queue == nil || pool == nil {
		return TranscriptionStatus{MsSinceLastActivity: -1}
	}
	return TranscriptionStatus{
		ChunksInQueue:       queue.Len(),
		IsProcessing:        pool.ActiveWorkers() > 0,
		MsSinceLastActivity: pool.MsSinceLastActivity(),
	}
}

// Start opens both capture devices, spawns the chunker and worker
// pool, and marks the session active. Single-flight: fails with
// ErrAlreadyRunning if a session is already active.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recordingFlag.Load() {
		return ErrAlreadyRunning
	}

	var micID, sysID *malgo.DeviceID
	if c.config.MicDeviceName != "" {
		id, err := audio.FindDeviceByName(c.ctx, c.config.MicDeviceName)
		if err != nil {
			return err
		}
		micID = id
	}
	if c.config.CaptureSystem && c.config.SystemDeviceName != "" {
		id, err := audio.FindDeviceByName(c.ctx, c.config.SystemDeviceName)
		if err != nil {
			return err
		}
		sysID = id
	}

	sessionID := uuid.New().String()
	log.Printf("lifecycle: starting session %s", sessionID)

	c.runningFlag.Store(true)
	c.recordingFlag.Store(true)

	micSource, err := audio.Open(c.ctx, audio.KindMicrophone, micID, c.config.SampleRate, c.config.Channels, &c.runningFlag)
	if err != nil {
		c.runningFlag.Store(false)
		c.recordingFlag.Store(false)
		return err
	}

	var sysSource *audio.Source
	if c.config.CaptureSystem {
		sysSource, err = audio.Open(c.ctx, audio.KindSystem, sysID, c.config.SampleRate, c.config.Channels, &c.runningFlag)
		if err != nil {
			micSource.Stop()
			c.runningFlag.Store(false)
			c.recordingFlag.Store(false)
			return err
		}
	}

	sessCtx, cancel := context.WithCancel(context.Background())

	queue := pipeline.NewQueue(func(w pipeline.DropWarning) {
		c.sink.ChunkDropWarning(w.Message)
	})
	client := transcribe.NewClient(c.config.TranscribeURL)
	pool := transcribe.NewPool(queue, client, c.sink, "Mixed Audio", &c.runningFlag, &c.recordingFlag, func() {
		c.teardown()
	})

	c.sessionID = sessionID
	c.micSource = micSource
	c.sysSource = sysSource
	c.queue = queue
	c.pool = pool
	c.cancelSess = cancel
	c.recordingStart = time.Now()

	recordingStart := c.recordingStart
	var systemForChunker pipeline.Source
	if sysSource != nil {
		systemForChunker = sysSource
	} else {
		systemForChunker = emptySource{}
	}

	chunker := pipeline.NewChunker(queue, c.config.SampleRate)
	go chunker.Run(sessCtx, micSource, systemForChunker, recordingStart, &c.runningFlag)
	go pool.Run(sessCtx)

	return nil
}

// Stop is idempotent. It enforces the minimum recording duration,
// deasserts the shared flags, waits (bounded) for the queue and
// workers to drain, then tears down both sources.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.recordingFlag.Load() {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.sessionID
	recordingStart := c.recordingStart
	mic, sys := c.micSource, c.sysSource
	queue, pool, cancel := c.queue, c.pool, c.cancelSess
	c.mu.Unlock()

	log.Printf("lifecycle: stopping session %s", sessionID)

	if elapsed := time.Since(recordingStart); elapsed < MinRecordingDuration {
		time.Sleep(MinRecordingDuration - elapsed)
	}

	c.recordingFlag.Store(false)
	c.runningFlag.Store(false)

	deadline := time.Now().Add(DrainTimeout)
	for time.Now().Before(deadline) {
		if pool.ActiveWorkers() == 0 && queue.Empty() {
			break
		}
		time.Sleep(DrainPollInterval)
	}
	if pool.ActiveWorkers() != 0 || !queue.Empty() {
		log.Printf("lifecycle: session %s drain timed out after %s; forcing shutdown", sessionID, DrainTimeout)
		cancel()
	}

	mic.Stop()
	if sys != nil {
		sys.Stop()
	}
	cancel()

	c.mu.Lock()
	c.micSource = nil
	c.sysSource = nil
	c.queue = nil
	c.pool = nil
	c.cancelSess = nil
	c.mu.Unlock()

	return nil
}

// teardown is invoked by the worker pool after the first transcription
// escalation. The flags are already cleared by the pool; this just
// runs the same drain-and-release sequence Stop would, without
// re-checking the minimum recording duration.
func (c *Controller) teardown() {
	c.mu.Lock()
	if c.micSource == nil && c.sysSource == nil {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	mic, sys := c.micSource, c.sysSource
	queue, pool, cancel := c.queue, c.pool, c.cancelSess
	c.mu.Unlock()

	log.Printf("lifecycle: tearing down session %s after transcription error", sessionID)

	deadline := time.Now().Add(DrainTimeout)
	for time.Now().Before(deadline) {
		if pool.ActiveWorkers() == 0 && queue.Empty() {
			break
		}
		time.Sleep(DrainPollInterval)
	}
	cancel()

	mic.Stop()
	if sys != nil {
		sys.Stop()
	}

	c.mu.Lock()
	c.micSource = nil
	c.sysSource = nil
	c.queue = nil
	c.pool = nil
	c.cancelSess = nil
	c.mu.Unlock()
}

// emptySource stands in for the system source when system-audio
// capture is disabled: it never has anything to drain.
type emptySource struct{}

func (emptySource) Subscribe() *audio.Receiver {
	return audio.NewClosedReceiver()
}
