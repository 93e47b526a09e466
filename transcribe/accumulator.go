package transcribe

import (
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// SentenceTimeout is SENTENCE_TIMEOUT_MS from the external contract.
const SentenceTimeout = 1000 * time.Millisecond

var markers = []string{"[BLANK_AUDIO]", "[AUDIO OUT]"}

var terminals = []string{"...", `."`, `.'`, ".", "?", "!"}

// TranscriptUpdate is what the accumulator hands to the event sink.
type TranscriptUpdate struct {
	Text           string
	Timestamp      string // HH:MM:SS elapsed since recording start
	Source         string
	SequenceID     uint64
	ChunkStartTime float64
	IsPartial      bool
}

// Accumulator glues segment fragments into whole sentences for one
// worker. Not safe for concurrent use; exactly one worker owns each
// instance.
type Accumulator struct {
	source string
	seq    *SequenceCounter

	currentSentence          string
	sentenceStartTimeInChunk float32
	lastUpdateInstant        time.Time
	lastSegmentHash          uint64

	currentChunkID    uint64
	currentChunkStart float64
	recordingStart    time.Time
}

// SequenceCounter hands out the globally-monotonic sequenceId shared
// by every worker's accumulator in a session. Workers flush
// concurrently, so the counter is atomic.
type SequenceCounter struct {
	next atomic.Uint64
}

// NewSequenceCounter returns a counter starting at 0.
func NewSequenceCounter() *SequenceCounter { return &SequenceCounter{} }

func (c *SequenceCounter) fetchAdd() uint64 {
	return c.next.Add(1) - 1
}

// NewAccumulator constructs a worker-local accumulator. source labels
// emitted updates (e.g. "Mixed Audio").
func NewAccumulator(source string, seq *SequenceCounter) *Accumulator {
	return &Accumulator{source: source, seq: seq}
}

// SetChunkContext updates the chunk the next segments belong to.
func (a *Accumulator) SetChunkContext(chunkID uint64, chunkStart float64, recordingStart time.Time) {
	a.currentChunkID = chunkID
	a.currentChunkStart = chunkStart
	a.recordingStart = recordingStart
}

// AddSegment cleans, dedupes, and glues s into the running sentence,
// flushing when cleaned text ends in terminal punctuation.
func (a *Accumulator) AddSegment(s Segment) *TranscriptUpdate {
	a.lastUpdateInstant = time.Now()

	cleaned := clean(s.Text)
	if cleaned == "" || s.T1-s.T0 < 1.0 {
		return nil
	}

	h := segmentHash(s.Text, s.T0, s.T1, a.currentChunkID)
	if h == a.lastSegmentHash {
		return nil
	}
	a.lastSegmentHash = h

	if a.currentSentence == "" {
		a.sentenceStartTimeInChunk = s.T0
	}

	if a.currentSentence != "" && !strings.HasSuffix(a.currentSentence, " ") {
		a.currentSentence += " "
	}
	a.currentSentence += cleaned

	if endsWithTerminal(cleaned) {
		return a.flush(false)
	}
	return nil
}

// CheckTimeout flushes a pending partial sentence once SentenceTimeout
// has elapsed since the last segment was added.
func (a *Accumulator) CheckTimeout() *TranscriptUpdate {
	if a.currentSentence == "" {
		return nil
	}
	if time.Since(a.lastUpdateInstant) <= SentenceTimeout {
		return nil
	}
	return a.flush(true)
}

func (a *Accumulator) flush(isPartial bool) *TranscriptUpdate {
	elapsed := a.recordingStart.Add(time.Duration((a.currentChunkStart + float64(a.sentenceStartTimeInChunk)) * float64(time.Second)))
	u := &TranscriptUpdate{
		Text:           a.currentSentence,
		Timestamp:      elapsedClock(a.recordingStart, elapsed),
		Source:         a.source,
		SequenceID:     a.seq.fetchAdd(),
		ChunkStartTime: a.currentChunkStart,
		IsPartial:      isPartial,
	}
	a.currentSentence = ""
	return u
}

// clean removes the two literal out-of-band markers and trims
// surrounding whitespace.
func clean(text string) string {
	out := text
	for _, m := range markers {
		out = strings.ReplaceAll(out, m, "")
	}
	return strings.TrimSpace(out)
}

func endsWithTerminal(text string) bool {
	for _, t := range terminals {
		if strings.HasSuffix(text, t) {
			return true
		}
	}
	return false
}

func segmentHash(text string, t0, t1 float32, chunkID uint64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	var buf [20]byte
	putU32(buf[0:4], math.Float32bits(t0))
	putU32(buf[4:8], math.Float32bits(t1))
	putU64(buf[8:16], chunkID)
	h.Write(buf[:16])
	return h.Sum64()
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// elapsedClock floors the duration since recordingStart to whole
// seconds and formats it HH:MM:SS.
func elapsedClock(recordingStart, at time.Time) string {
	d := at.Sub(recordingStart)
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return pad2(h) + ":" + pad2(m) + ":" + pad2(s)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
