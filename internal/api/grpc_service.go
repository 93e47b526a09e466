package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"os"
	"runtime"
	"strings"

	"google.golang.org/grpc"
)

// rawJSON carries Message values over gRPC as plain JSON frames, so
// both transports share one wire shape and no protobuf stubs exist.
type rawJSON struct{}

func (rawJSON) Name() string                       { return "json" }
func (rawJSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (rawJSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// controlStreamMethod is the full method path UI shells open.
const controlStreamMethod = "/meetcore.Control/Stream"

// controlStream is the server half of the Control stream, giving the
// raw grpc.ServerStream Message-typed send/recv.
type controlStream struct {
	grpc.ServerStream
}

func (s controlStream) send(m *Message) error { return s.SendMsg(m) }

func (s controlStream) recv() (*Message, error) {
	var m Message
	if err := s.RecvMsg(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// controlDesc hand-declares the Control service: one bidirectional
// Message stream, handled by a closure over the Server rather than a
// generated service interface, since the wire type is the JSON
// envelope and not a protobuf.
func controlDesc(s *Server) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: "meetcore.Control",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Stream",
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(_ any, st grpc.ServerStream) error {
				return s.serveControlStream(controlStream{st})
			},
		}},
	}
}

// serveGRPC brings up the Control listener. Failure here is not fatal:
// the websocket transport still serves UI clients on its own.
func (s *Server) serveGRPC() {
	addr := s.Config.GRPCAddr
	if addr == "" {
		addr = defaultControlAddr()
	}

	lis, err := controlListener(addr)
	if err != nil {
		log.Printf("api: gRPC listener on %s: %v", addr, err)
		return
	}

	srv := grpc.NewServer(grpc.ForceServerCodec(rawJSON{}))
	srv.RegisterService(controlDesc(s), nil)

	log.Printf("api: gRPC control stream on %s", addr)
	if err := srv.Serve(lis); err != nil {
		log.Printf("api: gRPC server exited: %v", err)
	}
}

func defaultControlAddr() string {
	if runtime.GOOS == "windows" {
		return `npipe:\\.\pipe\meetcore-grpc`
	}
	return "unix:/tmp/meetcore-grpc.sock"
}

// controlListener binds addr, which picks the transport by prefix:
// unix:<path>, npipe:<path>, or a bare host:port.
func controlListener(addr string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		path := strings.TrimPrefix(addr, "unix:")
		if path == "" {
			return nil, errors.New("api: empty unix socket path")
		}
		// A socket left behind by a crashed process blocks the bind.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		return net.Listen("unix", path)
	case strings.HasPrefix(addr, "npipe:"):
		return listenPipe(strings.TrimPrefix(addr, "npipe:"))
	}
	return net.Listen("tcp", addr)
}
