// Package transportquic implements netkit.Channel over one QUIC stream, a
// second concrete transport binding alongside netkit's raw TCP/UDP
// wrappers, the way the teacher repository's internal/runtime/netstack
// binds quic-go/http3 atop a raw net.PacketConn. Every Channel here wraps
// exactly one
// bidirectional stream on one quic.Connection: the stream boundary plays
// the role net.Conn plays for a stream hub, and Read/Write are bounded by
// the same pollTimeout-style deadline polling netkit/stream_channel.go
// uses to emulate non-blocking I/O over a blocking API.
package transportquic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/startrek-go/startrek/internal/netkit"
)

// pollTimeout mirrors netkit/stream_channel.go's non-blocking-read
// emulation deadline.
const pollTimeout = 10 * time.Millisecond

// Options configures the QUIC transport. A nil TLSConfig is rejected:
// unlike plain TCP, QUIC mandates TLS 1.3.
type Options struct {
	TLSConfig *tls.Config
	QUICConfig *quic.Config
}

func (o Options) resolved() (Options, error) {
	if o.TLSConfig == nil {
		return o, errors.New("transportquic: TLSConfig is required")
	}

	if o.TLSConfig.MinVersion != 0 && o.TLSConfig.MinVersion < tls.VersionTLS13 {
		return o, errors.New("transportquic: TLSConfig.MinVersion must be TLS 1.3 or unset")
	}

	c := o.TLSConfig.Clone()
	if c.MinVersion == 0 {
		c.MinVersion = tls.VersionTLS13
	}

	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{"startrek-quic"}
	}

	o.TLSConfig = c

	if o.QUICConfig == nil {
		o.QUICConfig = &quic.Config{}
	}

	return o, nil
}

// Channel adapts one QUIC stream to netkit.Channel. It starts StateAlive
// when constructed from an accepted stream, or StateInit when built for an
// outbound dial (Connect performs both the QUIC handshake and the stream
// open).
type Channel struct {
	mu    sync.Mutex
	state int32

	opts   Options
	conn   quic.Connection
	stream quic.Stream
	local  netkit.Address
	peer   netkit.Address
}

// NewChannel wraps an already-open stream on an already-established
// connection, as produced by a server's accept loop.
func NewChannel(conn quic.Connection, stream quic.Stream) *Channel {
	c := &Channel{
		conn:   conn,
		stream: stream,
		local:  addressOf(conn.LocalAddr()),
		peer:   addressOf(conn.RemoteAddr()),
	}
	c.setState(netkit.StateAlive)

	return c
}

// NewActiveChannel creates a channel with no connection yet; Connect dials
// and opens the first bidirectional stream.
func NewActiveChannel(opts Options) (*Channel, error) {
	resolved, err := opts.resolved()
	if err != nil {
		return nil, err
	}

	return &Channel{opts: resolved}, nil
}

func addressOf(a net.Addr) netkit.Address {
	if a == nil {
		return netkit.Address{}
	}

	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		return netkit.Address{}
	}

	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)

	return netkit.Address{IP: host, Port: port}
}

func (c *Channel) setState(s netkit.State) { atomic.StoreInt32(&c.state, int32(s)) }
func (c *Channel) State() netkit.State     { return netkit.State(atomic.LoadInt32(&c.state)) }

func (c *Channel) Open(local netkit.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == netkit.StateClosed {
		return errors.New("transportquic: channel is closed")
	}

	c.local = local
	c.setState(netkit.StateOpen)

	return nil
}

// Bind is a no-op for a QUIC client channel: there is no separate local
// bind step distinct from Connect's dial.
func (c *Channel) Bind(local netkit.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = local

	return nil
}

// Connect dials remote over QUIC and opens the channel's one bidirectional
// stream.
func (c *Channel) Connect(remote netkit.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, remote.String(), c.opts.TLSConfig, c.opts.QUICConfig)
	if err != nil {
		return fmt.Errorf("transportquic: dial %s: %w", remote, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")
		return fmt.Errorf("transportquic: open stream to %s: %w", remote, err)
	}

	c.conn = conn
	c.stream = stream
	c.local = addressOf(conn.LocalAddr())
	c.peer = addressOf(conn.RemoteAddr())
	c.setState(netkit.StateAlive)

	return nil
}

func (c *Channel) IsConnected() bool { return c.State() == netkit.StateAlive }
func (c *Channel) IsOpen() bool {
	s := c.State()
	return s >= netkit.StateOpen && s != netkit.StateClosed
}
func (c *Channel) IsAlive() bool      { return c.State() == netkit.StateAlive }
func (c *Channel) IsBound() bool      { c.mu.Lock(); defer c.mu.Unlock(); return !c.local.IsZero() }
func (c *Channel) IsAvailable() bool  { return c.IsAlive() }
func (c *Channel) IsVacant() bool     { return c.IsAlive() }

func (c *Channel) LocalAddress() netkit.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.local
}

func (c *Channel) RemoteAddress() netkit.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peer
}

// Read returns up to maxLen bytes from the stream. A would-block (nothing
// read within pollTimeout) is reported as (nil, Address{}, nil), matching
// every other netkit.Channel implementation.
func (c *Channel) Read(maxLen int) ([]byte, netkit.Address, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return nil, netkit.Address{}, errors.New("transportquic: read before Connect")
	}

	_ = stream.SetReadDeadline(time.Now().Add(pollTimeout))

	buf := make([]byte, maxLen)

	n, err := stream.Read(buf)
	if n > 0 {
		return buf[:n], netkit.Address{}, nil
	}

	if err == nil {
		return nil, netkit.Address{}, nil
	}

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil, netkit.Address{}, nil
	}

	c.closeWithState()

	return nil, netkit.Address{}, err
}

// Write sends b on the stream. dst is ignored: the destination is implied
// by the stream's connection.
func (c *Channel) Write(b []byte, _ netkit.Address) (int, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return 0, errors.New("transportquic: write before Connect")
	}

	_ = stream.SetWriteDeadline(time.Now().Add(pollTimeout))

	n, err := stream.Write(b)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}

		c.closeWithState()

		return n, err
	}

	return n, nil
}

func (c *Channel) closeWithState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(netkit.StateClosed)
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(netkit.StateClosed)

	if c.stream != nil {
		_ = c.stream.Close()
	}

	if c.conn != nil {
		return c.conn.CloseWithError(0, "closed")
	}

	return nil
}
