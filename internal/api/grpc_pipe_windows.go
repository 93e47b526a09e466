//go:build windows

package api

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listenPipe exposes the gRPC stream on a Windows named pipe so a
// desktop shell can connect without opening a TCP port.
func listenPipe(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, nil)
}
