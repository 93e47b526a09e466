package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"meetcore/internal/config"
	"meetcore/lifecycle"
	"meetcore/transcribe"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn abstracts one connected UI client, whichever transport it
// arrived on. send must be safe for concurrent use.
type conn interface {
	send(Message) error
	close()
}

// wsConn adapts a websocket connection. gorilla permits a single
// concurrent writer, so sends serialize on the mutex.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) close() { _ = c.ws.Close() }

// grpcConn adapts one Control stream.
type grpcConn struct {
	mu     sync.Mutex
	stream controlStream
}

func (c *grpcConn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.send(&msg)
}

// The stream handler owns the stream's lifetime; detaching is enough.
func (c *grpcConn) close() {}

// Server is the dual-transport (websocket + gRPC) front door to the
// lifecycle controller. It is also the transcribe.Sink the pipeline
// broadcasts transcript/drop/error/complete events through.
type Server struct {
	Config     *config.Config
	Controller *lifecycle.Controller

	mu    sync.Mutex
	conns map[conn]struct{}
}

// NewServer constructs a transport server. Controller is assigned
// afterward (main wires Server as the lifecycle controller's sink,
// which must exist before the controller does).
func NewServer(cfg *config.Config) *Server {
	return &Server{Config: cfg, conns: make(map[conn]struct{})}
}

// Start brings up both transports and blocks serving HTTP.
func (s *Server) Start() {
	go s.serveGRPC()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	log.Printf("api: websocket on :%s, gRPC on %s", s.Config.Port, s.Config.GRPCAddr)
	if err := http.ListenAndServe(":"+s.Config.Port, mux); err != nil {
		log.Fatalf("api: http server: %v", err)
	}
}

func (s *Server) attach(c conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	log.Printf("api: client connected (%d active)", n)
}

func (s *Server) detach(c conn) {
	s.mu.Lock()
	_, present := s.conns[c]
	delete(s.conns, c)
	n := len(s.conns)
	s.mu.Unlock()
	if present {
		c.close()
		log.Printf("api: client disconnected (%d active)", n)
	}
}

// broadcast pushes msg to every connected client, detaching any whose
// transport has gone away mid-send.
func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	targets := make([]conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			log.Printf("api: dropping client after send failure: %v", err)
			s.detach(c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade: %v", err)
		return
	}

	c := &wsConn{ws: ws}
	s.attach(c)
	defer s.detach(c)

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		s.handleCommand(c, msg)
	}
}

// serveControlStream runs one gRPC client's command loop; while it is
// attached, the same stream doubles as that client's event feed.
func (s *Server) serveControlStream(stream controlStream) error {
	c := &grpcConn{stream: stream}
	s.attach(c)
	defer s.detach(c)

	for {
		msg, err := stream.recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.handleCommand(c, *msg)
	}
}

// handleCommand dispatches one UI command and replies on the same
// connection. Unknown types get an error reply rather than silence so
// shells can detect contract drift.
func (s *Server) handleCommand(c conn, msg Message) {
	reply := func(m Message) {
		if err := c.send(m); err != nil {
			log.Printf("api: reply to %q failed: %v", msg.Type, err)
		}
	}

	switch msg.Type {
	case "startRecording":
		if err := s.Controller.Start(); err != nil {
			reply(Message{Type: "error", Error: err.Error()})
			return
		}
		reply(Message{Type: "startRecording", IsRecording: true})

	case "stopRecording":
		if err := s.Controller.Stop(); err != nil {
			reply(Message{Type: "error", Error: err.Error()})
			return
		}
		reply(Message{Type: "stopRecording", IsRecording: false})

	case "isRecording":
		reply(Message{Type: "isRecording", IsRecording: s.Controller.IsRecording()})

	case "getTranscriptionStatus":
		st := s.Controller.TranscriptionStatus()
		reply(Message{
			Type:                "getTranscriptionStatus",
			ChunksInQueue:       st.ChunksInQueue,
			IsProcessing:        st.IsProcessing,
			MsSinceLastActivity: st.MsSinceLastActivity,
		})

	default:
		reply(Message{Type: "error", Error: "unknown command: " + msg.Type})
	}
}

// TranscriptUpdate implements transcribe.Sink.
func (s *Server) TranscriptUpdate(u transcribe.TranscriptUpdate) {
	s.broadcast(Message{
		Type:           "transcript-update",
		Text:           u.Text,
		Timestamp:      u.Timestamp,
		Source:         u.Source,
		SequenceID:     u.SequenceID,
		ChunkStartTime: u.ChunkStartTime,
		IsPartial:      u.IsPartial,
	})
}

// ChunkDropWarning implements transcribe.Sink.
func (s *Server) ChunkDropWarning(message string) {
	s.broadcast(Message{Type: "chunk-drop-warning", Message: message})
}

// TranscriptError implements transcribe.Sink.
func (s *Server) TranscriptError(message string) {
	s.broadcast(Message{Type: "transcript-error", Message: message})
}

// TranscriptionComplete implements transcribe.Sink.
func (s *Server) TranscriptionComplete() {
	s.broadcast(Message{Type: "transcription-complete"})
}
