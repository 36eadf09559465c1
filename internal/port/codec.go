// Package port implements the Porter (Docker): the worker that binds one
// Connection to one Codec and one Dock, draining inbound bytes into ships
// and flushing outbound ships one fragment at a time. Grounded on the
// Envelope/Transport/Codec split in internal/runtime/remote/transport.go
// and jsoncodec.go from the teacher repository.
package port

import (
	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/netkit"
)

// Ack identifies one outbound fragment a peer has acknowledged.
type Ack struct {
	SN    uint32
	Index int
}

// Unpacked is one unit a Codec extracts from an inbound chunk: either a
// fragment destined for the arrival hall, or an acknowledgement destined
// for the departure hall. A codec that multiplexes acks and data fragments
// in one wire frame (e.g. an MTP-style packet codec) may return both from
// a single Unpack call.
type Unpacked struct {
	Fragment *dock.Fragment
	Ack      *Ack
}

// Codec is the protocol-specific boundary between wire bytes and the
// fragment/ack vocabulary the arrival and departure halls understand. A
// stream codec (length-prefixed frames, no acks) and a packet codec
// (fragmenting, ack-bearing) both implement this the same way; see
// codec/plain and codec/packet for the reference implementations.
type Codec interface {
	// Unpack parses one inbound read into zero or more Unpacked results.
	// A partial frame (not enough bytes yet) is not an error: implementors
	// buffer internally and return nothing until a full frame is
	// available.
	Unpack(data []byte, from netkit.Address) ([]Unpacked, error)

	// Pack serializes one outbound fragment of departure d for sending.
	// retry is true when this is a retransmission rather than the first
	// send, which some wire formats flag explicitly.
	Pack(d *dock.Departure, index int, body []byte, retry bool) ([]byte, error)
}
