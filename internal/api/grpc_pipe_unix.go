//go:build !windows

package api

import (
	"fmt"
	"net"
)

// listenPipe is Windows-only; unix builds use the unix: socket path.
func listenPipe(addr string) (net.Listener, error) {
	return nil, fmt.Errorf("npipe addresses require Windows, got %s", addr)
}
