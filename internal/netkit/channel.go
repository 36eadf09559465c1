// Package netkit wraps one OS socket (stream or datagram) behind a thin,
// non-blocking Channel interface with a four-state lifecycle, the way
// internal/runtime/netstack wraps net.Listener/net.UDPConn in the teacher
// repository this module is derived from.
package netkit

import (
	"errors"
	"io"
	"sync/atomic"
)

// State is the channel lifecycle: INIT -> OPEN -> (ALIVE once both ends are
// usable) -> CLOSED. CLOSED is terminal.
type State int32

const (
	StateInit State = iota
	StateOpen
	StateAlive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpen:
		return "OPEN"
	case StateAlive:
		return "ALIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrWouldBlock is never returned to callers: Read/Write report would-block
// with a zero-length result and a nil error. It exists only as a sentinel
// for internal plumbing that wants to distinguish the case explicitly.
var ErrWouldBlock = errors.New("netkit: would block")

// Channel is the capability set every transport binding (stream, packet, or
// a third-party codec like the QUIC channel in package transportquic) must
// implement.
type Channel interface {
	io.Closer

	// Open prepares the channel for use from local, without binding or
	// connecting. Implementations that have no separate "open" step may
	// treat this as a transition straight to Open state.
	Open(local Address) error

	// Bind associates the channel with a local address. Mandatory before
	// Read on a packet channel; optional (SO_REUSEPORT aside) for stream
	// channels that will Connect instead.
	Bind(local Address) error

	// Connect associates the channel with a single remote peer. For a
	// stream channel this performs the OS connect(2); for a packet
	// channel it merely records the default destination.
	Connect(remote Address) error

	// Read returns up to maxLen bytes. A would-block condition is
	// reported as (nil, Address{}, nil), never an error. remote is the
	// sender address for packet channels. For stream channels the peer is
	// fixed by Connect or Accept; StreamChannel returns that peer's
	// address here, while other stream bindings may return the zero
	// Address.
	Read(maxLen int) ([]byte, Address, error)

	// Write sends b. For a stream channel the destination is implied by
	// Connect and dst is ignored. For a packet channel dst is mandatory
	// unless Connect was used to fix a default peer.
	Write(b []byte, dst Address) (int, error)

	State() State
	IsOpen() bool
	IsBound() bool
	IsConnected() bool
	IsAlive() bool
	// IsAvailable reports whether the channel can currently be read from.
	IsAvailable() bool
	// IsVacant reports whether the channel can currently be written to.
	IsVacant() bool

	LocalAddress() Address
	RemoteAddress() Address
}

// lifecycle is embedded by both channel implementations to share the state
// bookkeeping required by the shared Channel contract.
type lifecycle struct {
	state State
	local Address
	peer  Address
}

func (l *lifecycle) State() State { return State(atomic.LoadInt32((*int32)(&l.state))) }

func (l *lifecycle) setState(s State) { atomic.StoreInt32((*int32)(&l.state), int32(s)) }

func (l *lifecycle) IsOpen() bool    { return l.State() >= StateOpen && l.State() != StateClosed }
func (l *lifecycle) IsAlive() bool   { return l.State() == StateAlive }
func (l *lifecycle) IsBound() bool   { return !l.local.IsZero() }
func (l *lifecycle) LocalAddress() Address  { return l.local }
func (l *lifecycle) RemoteAddress() Address { return l.peer }
