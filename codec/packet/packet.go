// Package packet implements an MTP-like port.Codec over a datagram
// transport: every departure fragment and acknowledgement is its own
// self-contained wire frame (a UDP datagram already preserves message
// boundaries, so unlike codec/plain there is no cross-read buffering).
// Grounded on the Envelope framing in internal/runtime/remote/transport.go
// and jsoncodec.go, generalized from JSON to a small fixed binary header.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/netkit"
	"github.com/startrek-go/startrek/internal/port"
)

const (
	frameData byte = 0
	frameAck  byte = 1

	dataHeaderLen = 1 + 4 + 2 + 2 + 4 // type, sn, total, index, bodyLen
	ackHeaderLen  = 1 + 4 + 2         // type, sn, index

	// ackMarker tags a Departure page built by NewAckDeparture so Pack can
	// recognize it and emit an ACK frame instead of a DATA frame, without
	// requiring package dock to know about acknowledgements at all.
	ackMarker = 0xFF
)

// Codec packs/unpacks the fixed binary frame format described above. It is
// stateless across calls: each Unpack call is handed exactly one datagram.
type Codec struct{}

// New creates a packet codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Unpack(data []byte, _ netkit.Address) ([]port.Unpacked, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case frameAck:
		if len(data) < ackHeaderLen {
			return nil, fmt.Errorf("codec/packet: short ack frame (%d bytes)", len(data))
		}

		sn := binary.BigEndian.Uint32(data[1:5])
		idx := binary.BigEndian.Uint16(data[5:7])

		return []port.Unpacked{{Ack: &port.Ack{SN: sn, Index: int(idx)}}}, nil

	case frameData:
		if len(data) < dataHeaderLen {
			return nil, fmt.Errorf("codec/packet: short data frame (%d bytes)", len(data))
		}

		sn := binary.BigEndian.Uint32(data[1:5])
		total := binary.BigEndian.Uint16(data[5:7])
		index := binary.BigEndian.Uint16(data[7:9])
		bodyLen := binary.BigEndian.Uint32(data[9:13])

		if uint32(len(data)-dataHeaderLen) < bodyLen {
			return nil, fmt.Errorf("codec/packet: truncated data frame, want %d body bytes", bodyLen)
		}

		body := make([]byte, bodyLen)
		copy(body, data[dataHeaderLen:dataHeaderLen+int(bodyLen)])

		return []port.Unpacked{{Fragment: &dock.Fragment{
			SN:    sn,
			Index: int(index),
			Total: int(total),
			Body:  body,
		}}}, nil

	default:
		return nil, fmt.Errorf("codec/packet: unknown frame type %d", data[0])
	}
}

func (c *Codec) Pack(d *dock.Departure, index int, body []byte, _ bool) ([]byte, error) {
	if sn, idx, ok := decodeAckMarker(body); ok {
		frame := make([]byte, ackHeaderLen)
		frame[0] = frameAck
		binary.BigEndian.PutUint32(frame[1:5], sn)
		binary.BigEndian.PutUint16(frame[5:7], uint16(idx))

		return frame, nil
	}

	frame := make([]byte, dataHeaderLen+len(body))
	frame[0] = frameData
	binary.BigEndian.PutUint32(frame[1:5], d.SN)
	binary.BigEndian.PutUint16(frame[5:7], uint16(len(d.Pages)))
	binary.BigEndian.PutUint16(frame[7:9], uint16(index))
	binary.BigEndian.PutUint32(frame[9:13], uint32(len(body)))
	copy(frame[dataHeaderLen:], body)

	return frame, nil
}

func decodeAckMarker(body []byte) (sn uint32, index int, ok bool) {
	if len(body) != 7 || body[0] != ackMarker {
		return 0, 0, false
	}

	return binary.BigEndian.Uint32(body[1:5]), int(binary.BigEndian.Uint16(body[5:7])), true
}

// NewAckDeparture builds a one-fragment, no-ack-required Departure that
// Pack recognizes and serializes as an ACK frame for (sn, index). A
// delegate's GateReceived handler sends one of these back through
// gate.SendShip to acknowledge a packet-protocol arrival.
func NewAckDeparture(sn uint32, index int) *dock.Departure {
	body := make([]byte, 7)
	body[0] = ackMarker
	binary.BigEndian.PutUint32(body[1:5], sn)
	binary.BigEndian.PutUint16(body[5:7], uint16(index))

	return dock.NewDeparture(sn, dock.PriorityUrgent, [][]byte{body}, false, 0, 0)
}
