package config

import (
	"flag"
	"runtime"
)

// Config holds every flag-derived setting the core needs to start a
// session. Worker count, queue capacity, chunk durations, and mixer
// weights are fixed runtime constants and deliberately not exposed
// here; only deployment-specific concerns (device selection, native
// capture format, the transcription endpoint, transport addresses,
// trace logging) are configurable.
type Config struct {
	Port     string
	GRPCAddr string
	TraceLog string

	TranscribeURL string
	MicDevice     string
	SystemDevice  string
	CaptureSystem bool

	SampleRate int
	Channels   int
}

// Load parses command-line flags into a Config.
func Load() *Config {
	port := flag.String("port", "8080", "Server port")
	grpcAddr := flag.String("grpc-addr", defaultGRPCAddress(), "gRPC listen address (unix:/path/to.sock, npipe:\\\\.\\pipe\\meetcore-grpc, or host:port)")
	traceLog := flag.String("trace-log", "", "Optional file to mirror log output into")

	transcribeURL := flag.String("transcribe-url", "http://localhost:8090/transcribe", "Transcription HTTP endpoint")
	micDevice := flag.String("mic-device", "", "Microphone device name substring (default: system default input)")
	systemDevice := flag.String("system-device", "", "System/loopback device name substring (default: the default capture device; no output loopback device is selected automatically)")
	captureSystem := flag.Bool("capture-system", true, "Capture system (loopback) audio in addition to the microphone")

	sampleRate := flag.Int("sample-rate", 48000, "Native capture sample rate")
	channels := flag.Int("channels", 1, "Native capture channel count")

	flag.Parse()

	return &Config{
		Port:          *port,
		GRPCAddr:      *grpcAddr,
		TraceLog:      *traceLog,
		TranscribeURL: *transcribeURL,
		MicDevice:     *micDevice,
		SystemDevice:  *systemDevice,
		CaptureSystem: *captureSystem,
		SampleRate:    *sampleRate,
		Channels:      *channels,
	}
}

func defaultGRPCAddress() string {
	if runtime.GOOS == "windows" {
		return "npipe:\\\\.\\pipe\\meetcore-grpc"
	}
	return "unix:/tmp/meetcore-grpc.sock"
}
