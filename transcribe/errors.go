package transcribe

import "errors"

var (
	// ErrTranscriptionFailed is returned by Client.Transcribe once all
	// retry attempts are exhausted.
	ErrTranscriptionFailed = errors.New("transcribe: all retry attempts failed")
)
