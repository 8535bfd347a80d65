package network

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// Listen binds a TCP address with SO_REUSEADDR set, so a restarted proxy
// can take over ports still in TIME_WAIT.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) { opErr = setReuseAddr(fd) }); err != nil {
				return err
			}
			return opErr
		},
	}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}
