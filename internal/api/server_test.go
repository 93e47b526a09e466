package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"meetcore/internal/config"
	"meetcore/lifecycle"
)

// serveControl starts a Server with only the gRPC transport, bound to
// a per-test unix socket, and returns the socket path once it exists.
func serveControl(t *testing.T) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "control.sock")
	s := NewServer(&config.Config{Port: "0", GRPCAddr: "unix:" + socketPath})
	s.Controller = lifecycle.New(nil, s, lifecycle.Config{
		SampleRate: 48000,
		Channels:   1,
	})

	go s.serveGRPC()
	for i := 0; ; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			return socketPath
		}
		if i == 100 {
			t.Fatalf("control socket %s never appeared", socketPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// controlClient speaks the Control stream the way a desktop shell
// would: Message values as JSON frames on one bidi gRPC stream.
type controlClient struct {
	t      *testing.T
	conn   *grpc.ClientConn
	stream grpc.ClientStream
}

func dialControl(t *testing.T, socketPath string) *controlClient {
	t.Helper()

	// grpc resolves unix: targets natively; no custom dialer needed.
	cc, err := grpc.Dial(
		"unix:"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawJSON{})),
	)
	if err != nil {
		t.Fatalf("dial control socket: %v", err)
	}

	desc := grpc.StreamDesc{StreamName: "Stream", ServerStreams: true, ClientStreams: true}
	stream, err := cc.NewStream(context.Background(), &desc, controlStreamMethod)
	if err != nil {
		t.Fatalf("open control stream: %v", err)
	}

	c := &controlClient{t: t, conn: cc, stream: stream}
	t.Cleanup(func() {
		_ = c.stream.CloseSend()
		_ = c.conn.Close()
	})
	return c
}

// roundTrip sends req and returns the next message the server pushes
// back, failing the test on transport errors or a stalled reply.
func (c *controlClient) roundTrip(req Message) Message {
	c.t.Helper()

	if err := c.stream.SendMsg(&req); err != nil {
		c.t.Fatalf("send %q: %v", req.Type, err)
	}

	var resp Message
	done := make(chan error, 1)
	go func() { done <- c.stream.RecvMsg(&resp) }()
	select {
	case err := <-done:
		if err != nil {
			c.t.Fatalf("recv after %q: %v", req.Type, err)
		}
	case <-time.After(3 * time.Second):
		c.t.Fatalf("no reply to %q", req.Type)
	}
	return resp
}

func TestControlStreamCommands(t *testing.T) {
	client := dialControl(t, serveControl(t))

	resp := client.roundTrip(Message{Type: "isRecording"})
	if resp.Type != "isRecording" || resp.IsRecording {
		t.Errorf("response = %+v, want isRecording=false", resp)
	}

	resp = client.roundTrip(Message{Type: "getTranscriptionStatus"})
	if resp.Type != "getTranscriptionStatus" {
		t.Errorf("response type = %q, want getTranscriptionStatus", resp.Type)
	}
	if resp.IsProcessing {
		t.Error("IsProcessing = true with no session")
	}
	if resp.ChunksInQueue != 0 {
		t.Errorf("ChunksInQueue = %d, want 0", resp.ChunksInQueue)
	}
}

func TestControlStreamRejectsUnknownCommand(t *testing.T) {
	client := dialControl(t, serveControl(t))

	resp := client.roundTrip(Message{Type: "frobnicate"})
	if resp.Type != "error" || resp.Error == "" {
		t.Errorf("response = %+v, want an error message", resp)
	}
}

func TestWebSocketCommandAndEventBroadcast(t *testing.T) {
	s := NewServer(&config.Config{Port: "0"})
	s.Controller = lifecycle.New(nil, s, lifecycle.Config{
		SampleRate: 48000,
		Channels:   1,
	})

	httpSrv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer ws.Close()

	// Command round-trip first: the response proves the client is
	// attached before events are broadcast.
	if err := ws.WriteJSON(Message{Type: "isRecording"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp Message
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "isRecording" || resp.IsRecording {
		t.Errorf("response = %+v, want isRecording=false", resp)
	}

	s.ChunkDropWarning("transcription is falling behind")

	var event Message
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != "chunk-drop-warning" {
		t.Errorf("event type = %q, want chunk-drop-warning", event.Type)
	}
	if event.Message == "" {
		t.Error("event carries no message")
	}
}
