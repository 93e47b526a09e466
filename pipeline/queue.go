package pipeline

import "sync"

// QueueCapacity is the maximum number of chunks held between the
// chunker and the worker pool (MAX_AUDIO_QUEUE_SIZE).
const QueueCapacity = 10

// DropWarning is emitted at most once per session, the first time the
// queue drops a chunk for being full.
type DropWarning struct {
	ChunkID uint64
	Message string
}

// Queue is a FIFO of at most QueueCapacity chunks shared by one
// producer (the Chunker) and many consumers (the worker pool).
// Overflow drops the oldest chunk; ordering is otherwise preserved.
type Queue struct {
	mu      sync.Mutex
	items   []AudioChunk
	dropped uint64
	warned  bool

	onDropWarning func(DropWarning)
}

// NewQueue creates an empty bounded queue. onDropWarning, if non-nil,
// fires exactly once per queue lifetime on the first overflow.
func NewQueue(onDropWarning func(DropWarning)) *Queue {
	return &Queue{onDropWarning: onDropWarning}
}

// Push appends chunk, dropping the oldest entry (and incrementing the
// drop counter) while the queue is at capacity. O(1) except for the
// drop loop, which is O(overflow).
func (q *Queue) Push(chunk AudioChunk) {
	q.mu.Lock()
	var firstDropped *AudioChunk
	for len(q.items) >= QueueCapacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.dropped++
		if firstDropped == nil {
			firstDropped = &dropped
		}
	}
	q.items = append(q.items, chunk)
	shouldWarn := firstDropped != nil && !q.warned
	if shouldWarn {
		q.warned = true
	}
	q.mu.Unlock()

	if shouldWarn && q.onDropWarning != nil {
		q.onDropWarning(DropWarning{
			ChunkID: firstDropped.ChunkID,
			Message: "transcription is falling behind: audio chunks are being dropped",
		})
	}
}

// Pop removes and returns the oldest chunk, or ok=false if empty.
func (q *Queue) Pop() (chunk AudioChunk, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return AudioChunk{}, false
	}
	chunk = q.items[0]
	q.items = q.items[1:]
	return chunk, true
}

// Len returns the current number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of chunks dropped for overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Empty reports whether the queue currently holds no chunks.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}
