package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"meetcore/audio"
)

// Source is the subset of audio.Source the chunker needs: a frame
// stream. Defined locally so callers can supply sources that are not
// backed by a capture device; the package still imports audio, and
// through it malgo.
type Source interface {
	Subscribe() *audio.Receiver
}

// Chunker subscribes to two sources, weighted-mixes aligned samples,
// accumulates into fixed-size chunks, resamples to 16kHz mono, and
// pushes AudioChunk values onto a bounded queue.
type Chunker struct {
	queue      *Queue
	sampleRate int
	startedAt  time.Time
	chunkID    atomic.Uint64
}

// NewChunker constructs a chunker for a recording session. sampleRate
// is the native rate shared by both capture sources.
func NewChunker(queue *Queue, sampleRate int) *Chunker {
	return &Chunker{queue: queue, sampleRate: sampleRate, startedAt: time.Now()}
}

// Run drains both sources every TickInterval until runningFlag is
// cleared or ctx is done. recordingStart is stamped onto every emitted
// chunk so the accumulator can compute wall-clock elapsed timestamps.
func (c *Chunker) Run(ctx context.Context, mic, system Source, recordingStart time.Time, runningFlag *atomic.Bool) {
	micRecv := mic.Subscribe()
	sysRecv := system.Subscribe()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	var current []float32
	lastEmit := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !runningFlag.Load() {
				return
			}

			micSamples := drainNonBlocking(micRecv)
			sysSamples := drainNonBlocking(sysRecv)
			if len(micSamples) == 0 && len(sysSamples) == 0 {
				continue // transient starvation this tick is benign
			}

			mixed := mix(micSamples, sysSamples)
			resampled := ResampleNearest(mixed, c.sampleRate)
			current = append(current, resampled...)

			if shouldEmit(len(current), lastEmit) {
				emitLen := len(current)
				if emitLen > ChunkSamples {
					emitLen = ChunkSamples
				}
				samples := make([]float32, emitLen)
				copy(samples, current[:emitLen])
				current = current[emitLen:]

				id := c.chunkID.Add(1) - 1
				c.queue.Push(AudioChunk{
					Samples:        samples,
					ChunkID:        id,
					ChunkStartTime: time.Since(c.startedAt).Seconds(),
					RecordingStart: recordingStart,
				})
				lastEmit = time.Now()
			}
		}
	}
}

func shouldEmit(currentLen int, lastEmit time.Time) bool {
	if currentLen >= ChunkSamples {
		return true
	}
	return currentLen >= MinChunkSamples && time.Since(lastEmit) >= ChunkDurationMs*time.Millisecond
}

// mix aligns two sample vectors by index, weighting mic over system;
// an absent source contributes 0 for indices past its length.
func mix(mic, system []float32) []float32 {
	n := len(mic)
	if len(system) > n {
		n = len(system)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var m, s float32
		if i < len(mic) {
			m = mic[i]
		}
		if i < len(system) {
			s = system[i]
		}
		out[i] = MicWeight*m + SystemWeight*s
	}
	return out
}

// drainNonBlocking empties whatever frames are currently queued on recv
// without blocking, concatenating their samples in arrival order.
func drainNonBlocking(recv *audio.Receiver) []float32 {
	var out []float32
	for {
		select {
		case f, ok := <-recv.Recv():
			if !ok {
				return out
			}
			out = append(out, f.Samples...)
		default:
			return out
		}
	}
}
