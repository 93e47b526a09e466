package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meetcore/pipeline"
)

type fakeSink struct {
	mu        sync.Mutex
	updates   []TranscriptUpdate
	drops     []string
	errors    []string
	completes int
}

func (f *fakeSink) TranscriptUpdate(u TranscriptUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}
func (f *fakeSink) ChunkDropWarning(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops = append(f.drops, m)
}
func (f *fakeSink) TranscriptError(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, m)
}
func (f *fakeSink) TranscriptionComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
}

func (f *fakeSink) snapshot() ([]TranscriptUpdate, []string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TranscriptUpdate(nil), f.updates...), append([]string(nil), f.errors...), f.completes
}

func TestPoolDrainsQueueThenEmitsTranscriptionComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"segments":       []map[string]any{{"text": "Hello world.", "t0": 0.0, "t1": 1.5}},
			"buffer_size_ms": 0,
		})
	}))
	defer srv.Close()

	queue := pipeline.NewQueue(nil)
	queue.Push(pipeline.AudioChunk{ChunkID: 0, Samples: []float32{0.1, 0.2}})

	sink := &fakeSink{}
	var running, recording atomic.Bool
	running.Store(true)
	recording.Store(true)

	pool := NewPool(queue, NewClient(srv.URL), sink, "Mixed Audio", &running, &recording, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// Let the worker that grabs the chunk produce its update, then
	// signal a normal stop so the pool drains and completes.
	time.Sleep(100 * time.Millisecond)
	running.Store(false)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not exit after runningFlag cleared")
	}

	updates, _, completes := sink.snapshot()
	if len(updates) != 1 || updates[0].Text != "Hello world." {
		t.Errorf("updates = %+v, want one \"Hello world.\" update", updates)
	}
	if completes != 1 {
		t.Errorf("transcription-complete fired %d times, want 1", completes)
	}
}

func TestPoolEscalatesOnceOnTranscriptionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	queue := pipeline.NewQueue(nil)
	for i := 0; i < NumWorkers; i++ {
		queue.Push(pipeline.AudioChunk{ChunkID: uint64(i), Samples: []float32{0.1}})
	}

	sink := &fakeSink{}
	var running, recording atomic.Bool
	running.Store(true)
	recording.Store(true)

	var teardowns atomic.Int32
	pool := NewPool(queue, NewClient(srv.URL), sink, "Mixed Audio", &running, &recording, func() {
		teardowns.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("pool did not exit after escalation")
	}

	_, errors, _ := sink.snapshot()
	if len(errors) != 1 {
		t.Fatalf("transcript-error fired %d times, want 1", len(errors))
	}
	if running.Load() {
		t.Errorf("expected runningFlag cleared after escalation")
	}
	if recording.Load() {
		t.Errorf("expected recordingFlag cleared after escalation")
	}
	// Teardown runs asynchronously from escalate; give it a moment.
	time.Sleep(50 * time.Millisecond)
	if teardowns.Load() != 1 {
		t.Errorf("teardown invoked %d times, want 1", teardowns.Load())
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"dial tcp 127.0.0.1:8090: connect: connection refused", "service not available"},
		{"lookup transcribe.local: no such host", "service not available"},
		{"context deadline exceeded", "service not responding"},
		{"net/http: request timeout", "service not responding"},
		{"transcribe: status 500: internal error", "generic service error"},
	}
	for _, c := range cases {
		if got := classifyError(errors.New(c.msg)); got != c.want {
			t.Errorf("classifyError(%q) = %q, want %q", c.msg, got, c.want)
		}
	}
}
