//go:build linux

package netkit

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenStream binds a TCP listener at local, optionally setting
// SO_REUSEPORT first when opts.ReusePort is set. Resolves spec.md Open
// Question (b): the teacher's netstack package always listens with
// net.Listen and never offers this knob; here it is explicit config.
func listenStream(local Address, opts StreamOptions) (net.Listener, error) {
	if !opts.ReusePort {
		return net.Listen("tcp", local.String())
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error

			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}

			return sockErr
		},
	}

	return lc.Listen(context.Background(), "tcp", local.String())
}
