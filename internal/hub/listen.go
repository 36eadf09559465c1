package hub

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/startrek-go/startrek/internal/netkit"
)

// acceptBackoffMaxHits/acceptTempErrors mirror the lightweight, no-registry
// counters internal/runtime/netstack/tcp.go keeps next to its accept loop.
var (
	acceptTempErrors     uint64
	acceptBackoffMaxHits uint64
)

// AcceptMetrics returns a snapshot of the stream accept loop's error
// counters, in the same shape TCPMetrics() exposes in the teacher package.
func AcceptMetrics() map[string]uint64 {
	return map[string]uint64{
		"accept_temp_errors":      atomic.LoadUint64(&acceptTempErrors),
		"accept_backoff_max_hits": atomic.LoadUint64(&acceptBackoffMaxHits),
	}
}

// BindStream binds a listening socket at local and spawns a goroutine that
// accepts incoming peers, registering a Channel (and a fresh Connection)
// for each one. Accept necessarily blocks on the real net.Listener, so it
// runs off the metronome tick, the same way TCPServer.Start in
// internal/runtime/netstack dedicates a goroutine to Accept while the
// bounded-backoff retry keeps a misbehaving listener from spinning.
func (h *Hub) BindStream(ctx context.Context, local netkit.Address, opts netkit.StreamOptions) error {
	listener := netkit.NewActiveStreamChannel(opts)
	if err := listener.Bind(local); err != nil {
		return err
	}

	ln := listener.Listener()

	go h.acceptLoop(ctx, ln, local, opts)

	return nil
}

func (h *Hub) acceptLoop(ctx context.Context, ln net.Listener, local netkit.Address, opts netkit.StreamOptions) {
	var backoff time.Duration

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				atomic.AddUint64(&acceptTempErrors, 1)

				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
					if backoff > 500*time.Millisecond {
						backoff = 500 * time.Millisecond
						atomic.AddUint64(&acceptBackoffMaxHits, 1)
					}
				}

				time.Sleep(backoff)

				continue
			}

			h.reportError(netkit.Pair{Local: local}, err)

			return
		}

		backoff = 0

		ch := netkit.NewStreamChannel(conn, opts)
		pair := netkit.Pair{Remote: ch.RemoteAddress(), Local: local}

		h.PutChannel(pair, ch)
		h.Connect(pair)
	}
}

// BindPacket binds one shared UDP socket at local (port 0 picks an ephemeral
// port) and returns the socket's resolved local address. Every sender is
// routed to its own Connection by drainChannels via the channel's
// wildcard-remote fallback (see Channel); the returned address is the
// Local half of the netkit.Pair callers must use with Connect/SendShip so
// that fallback resolves to this socket.
func (h *Hub) BindPacket(local netkit.Address) (netkit.Address, error) {
	ch := netkit.NewPacketChannel()
	if err := ch.Bind(local); err != nil {
		return netkit.Address{}, err
	}

	resolved := ch.LocalAddress()

	h.PutChannel(netkit.Pair{Local: resolved}, ch)

	return resolved, nil
}
