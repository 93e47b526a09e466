package transcribe

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"meetcore/pipeline"
)

// NumWorkers is W from the external contract.
const NumWorkers = 3

// idlePoll is how long a worker sleeps after finding the queue empty.
const idlePoll = 50 * time.Millisecond

// completeDrainDelay lets in-flight emissions settle before the final
// transcription-complete event fires.
const completeDrainDelay = 500 * time.Millisecond

// Pool runs NumWorkers cooperative workers, each owning one
// Accumulator, draining a shared queue.
type Pool struct {
	Queue       *pipeline.Queue
	Client      *Client
	Sink        Sink
	SourceLabel string

	RunningFlag   *atomic.Bool
	RecordingFlag *atomic.Bool

	// Teardown is invoked exactly once, from a new goroutine, when the
	// first transcription error escalates a session to a stop. The
	// lifecycle controller supplies this to stop both audio sources.
	Teardown func()

	seq *SequenceCounter

	activeWorkers atomic.Int32
	lastActivity  atomic.Int64 // unix nano
	errorEmitted  atomic.Bool
	completeFired atomic.Bool
}

// NewPool wires a worker pool against queue, posting chunks to client
// and emitting events to sink.
func NewPool(queue *pipeline.Queue, client *Client, sink Sink, sourceLabel string, running, recording *atomic.Bool, teardown func()) *Pool {
	return &Pool{
		Queue:         queue,
		Client:        client,
		Sink:          sink,
		SourceLabel:   sourceLabel,
		RunningFlag:   running,
		RecordingFlag: recording,
		Teardown:      teardown,
		seq:           NewSequenceCounter(),
	}
}

// ActiveWorkers returns the number of workers currently processing a chunk.
func (p *Pool) ActiveWorkers() int32 { return p.activeWorkers.Load() }

// MsSinceLastActivity returns milliseconds since the last chunk began
// processing, or -1 if no chunk has ever been processed.
func (p *Pool) MsSinceLastActivity() int64 {
	last := p.lastActivity.Load()
	if last == 0 {
		return -1
	}
	return time.Since(time.Unix(0, last)).Milliseconds()
}

// Run starts NumWorkers goroutines and blocks until every one exits,
// which happens once RunningFlag is clear and the queue is empty.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(NumWorkers)
	for i := 0; i < NumWorkers; i++ {
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	acc := NewAccumulator(p.SourceLabel, p.seq)

	for p.RunningFlag.Load() || !p.Queue.Empty() {
		chunk, ok := p.Queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePoll):
			}
			if u := acc.CheckTimeout(); u != nil {
				p.Sink.TranscriptUpdate(*u)
			}
			continue
		}

		p.processChunk(ctx, acc, chunk)

		if u := acc.CheckTimeout(); u != nil {
			p.Sink.TranscriptUpdate(*u)
		}
	}

	if acc.currentSentence != "" {
		if u := acc.flush(true); u != nil {
			p.Sink.TranscriptUpdate(*u)
		}
	}

	p.maybeComplete()
}

func (p *Pool) processChunk(ctx context.Context, acc *Accumulator, chunk pipeline.AudioChunk) {
	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)
	p.lastActivity.Store(time.Now().UnixNano())

	acc.SetChunkContext(chunk.ChunkID, chunk.ChunkStartTime, chunk.RecordingStart)

	segments, err := p.Client.Transcribe(ctx, chunk.Samples)
	if err != nil {
		p.escalate(err)
		return
	}
	for _, s := range segments {
		if u := acc.AddSegment(s); u != nil {
			p.Sink.TranscriptUpdate(*u)
		}
	}
}

// escalate classifies the first transcription failure in a session,
// emits exactly one transcript-error, and tears the session down.
func (p *Pool) escalate(err error) {
	if !p.errorEmitted.CompareAndSwap(false, true) {
		return
	}
	message := classifyError(err)
	p.Sink.TranscriptError(message)
	p.RecordingFlag.Store(false)
	p.RunningFlag.Store(false)
	if p.Teardown != nil {
		go p.Teardown()
	}
}

func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "service not available"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "service not responding"
	default:
		return "generic service error"
	}
}

// maybeComplete fires transcription-complete exactly once, after the
// queue has drained and no worker remains active.
func (p *Pool) maybeComplete() {
	if p.activeWorkers.Load() != 0 || !p.Queue.Empty() {
		return
	}
	if !p.completeFired.CompareAndSwap(false, true) {
		return
	}
	time.Sleep(completeDrainDelay)
	p.Sink.TranscriptionComplete()
}

