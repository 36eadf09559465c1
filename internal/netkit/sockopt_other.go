//go:build !linux

package netkit

import "net"

// listenStream binds a TCP listener at local. SO_REUSEPORT is a Linux-only
// socket option; on other platforms opts.ReusePort is accepted but ignored,
// matching how most other_examples/ transports degrade the option rather
// than failing the bind.
func listenStream(local Address, _ StreamOptions) (net.Listener, error) {
	return net.Listen("tcp", local.String())
}
