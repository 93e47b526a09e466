package lifecycle

import (
	"testing"

	"meetcore/transcribe"
)

func newTestController() *Controller {
	return New(nil, transcribe.NopSink{}, Config{
		SampleRate:    48000,
		Channels:      1,
		TranscribeURL: "http://localhost:8090/transcribe",
	})
}

func TestStopWithoutSessionIsIdempotent(t *testing.T) {
	c := newTestController()

	if c.IsRecording() {
		t.Fatal("fresh controller reports an active recording")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop with no session: %v", err)
	}
	// A second Stop is equally a no-op.
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if c.IsRecording() {
		t.Error("IsRecording = true after Stop")
	}
}

func TestTranscriptionStatusWithoutSession(t *testing.T) {
	c := newTestController()

	st := c.TranscriptionStatus()
	if st.ChunksInQueue != 0 {
		t.Errorf("ChunksInQueue = %d, want 0", st.ChunksInQueue)
	}
	if st.IsProcessing {
		t.Error("IsProcessing = true with no session")
	}
	if st.MsSinceLastActivity != -1 {
		t.Errorf("MsSinceLastActivity = %d, want -1", st.MsSinceLastActivity)
	}
}

func TestTeardownWithoutSessionIsNoop(t *testing.T) {
	c := newTestController()
	// Escalation teardown racing a completed Stop must not panic or
	// re-release anything.
	c.teardown()
	if c.IsRecording() {
		t.Error("IsRecording = true after teardown")
	}
}
