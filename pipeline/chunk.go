// Package pipeline mixes the two capture sources into fixed-duration
// 16kHz mono chunks and queues them for transcription.
package pipeline

import "time"

// Runtime constants from the external transcription contract. These
// are fixed, not tunables.
const (
	WhisperSampleRate  = 16000
	ChunkDurationMs    = 30000
	MinChunkDurationMs = 2000

	ChunkSamples    = WhisperSampleRate * ChunkDurationMs / 1000
	MinChunkSamples = WhisperSampleRate * MinChunkDurationMs / 1000

	MicWeight    = 0.8
	SystemWeight = 0.2

	TickInterval = 10 * time.Millisecond
)

// AudioChunk is a contiguous block of 16kHz mono f32 samples bounded
// by [MinChunkSamples, ChunkSamples].
type AudioChunk struct {
	Samples        []float32
	ChunkID        uint64
	ChunkStartTime float64 // seconds since the chunker began
	RecordingStart time.Time
}
