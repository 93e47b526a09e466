package pipeline

import "testing"

func TestQueueOverflowDropsOldest(t *testing.T) {
	var warnings []DropWarning
	q := NewQueue(func(w DropWarning) {
		warnings = append(warnings, w)
	})

	for i := 0; i < QueueCapacity+5; i++ {
		q.Push(AudioChunk{ChunkID: uint64(i)})
	}

	if got := q.Dropped(); got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
	if got := q.Len(); got != QueueCapacity {
		t.Errorf("len = %d, want %d", got, QueueCapacity)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	if warnings[0].ChunkID != 0 {
		t.Errorf("first dropped chunk id = %d, want 0", warnings[0].ChunkID)
	}

	// Remaining items are the last QueueCapacity pushed, in FIFO order.
	for i := 0; i < QueueCapacity; i++ {
		chunk, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue emptied early", i)
		}
		want := uint64(i + 5)
		if chunk.ChunkID != want {
			t.Errorf("pop %d: chunk id = %d, want %d", i, chunk.ChunkID, want)
		}
	}
	if !q.Empty() {
		t.Errorf("queue should be empty after draining")
	}
}

func TestQueueWarnsOnlyOnce(t *testing.T) {
	var count int
	q := NewQueue(func(DropWarning) { count++ })

	for i := 0; i < QueueCapacity+10; i++ {
		q.Push(AudioChunk{ChunkID: uint64(i)})
	}
	if count != 1 {
		t.Errorf("warning fired %d times, want 1", count)
	}
}

func TestQueuePopEmpty(t *testing.T) {
	q := NewQueue(nil)
	if _, ok := q.Pop(); ok {
		t.Errorf("pop on empty queue returned ok=true")
	}
}
