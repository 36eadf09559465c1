// Package plain implements the simplest port.Codec: a length-prefixed
// stream frame, one ship per frame, no fragmentation and no
// acknowledgements. It is the Codec a TCP gate plugs in, the way
// tcp-py/tests/server.go's echo server pairs a stream hub with a
// handshake-less framing.
package plain

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/netkit"
	"github.com/startrek-go/startrek/internal/port"
)

const headerLen = 4

// MaxFrameLen bounds a single frame's body to guard against a corrupt or
// hostile length prefix turning a short read into an unbounded buffer
// allocation.
const MaxFrameLen = 16 * 1024 * 1024

// Codec buffers inbound bytes across reads (a TCP read boundary has no
// relation to a frame boundary) and extracts complete frames as they
// arrive.
type Codec struct {
	mu  sync.Mutex
	buf []byte
}

// New creates an empty stream codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Unpack(data []byte, _ netkit.Address) ([]port.Unpacked, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, data...)

	var out []port.Unpacked

	for {
		if len(c.buf) < headerLen {
			break
		}

		n := binary.BigEndian.Uint32(c.buf[:headerLen])
		if n > MaxFrameLen {
			// The length prefix is corrupt or hostile: there is no frame
			// boundary left to trust anywhere in the buffered bytes, so
			// drop all of it rather than leaving the bad header in place
			// to be re-parsed (and re-errored) on every later Unpack call.
			c.buf = nil
			return nil, fmt.Errorf("codec/plain: frame length %d exceeds max %d, buffer discarded", n, MaxFrameLen)
		}

		if uint32(len(c.buf)-headerLen) < n {
			break
		}

		body := make([]byte, n)
		copy(body, c.buf[headerLen:headerLen+int(n)])
		c.buf = c.buf[headerLen+int(n):]

		out = append(out, port.Unpacked{
			Fragment: &dock.Fragment{Index: 0, Total: 1, Body: body},
		})
	}

	return out, nil
}

func (c *Codec) Pack(_ *dock.Departure, _ int, body []byte, _ bool) ([]byte, error) {
	header := make([]byte, headerLen)
	binary.BigEndian.PutUint32(header, uint32(len(body)))

	return append(header, body...), nil
}
