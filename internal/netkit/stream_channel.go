package netkit

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// pollTimeout is the read deadline used to emulate a non-blocking read on
// top of the blocking net.Conn API, the same deadline-polling idiom
// internal/runtime/netstack/tcp.go uses in its liveness watcher.
const pollTimeout = 10 * time.Millisecond

// StreamOptions configures a StreamChannel's listening socket.
type StreamOptions struct {
	// ReusePort sets SO_REUSEPORT on the listening socket before bind, so
	// several processes/goroutines may share one local port. Resolved
	// per spec.md Open Question (b): surfaced as configuration rather
	// than hard-wired, default false.
	ReusePort bool
}

// StreamChannel wraps one TCP-like net.Conn. A StreamChannel is either
// constructed already-connected (the server accept path) or empty and
// later completed by Connect (the active/client dial path).
type StreamChannel struct {
	lifecycle

	mu      sync.Mutex
	conn    net.Conn
	ln      net.Listener
	opts    StreamOptions
	dialer  net.Dialer
	dialErr error
}

// NewStreamChannel wraps an already-established connection, as produced by
// a listener's Accept. The channel starts in the ALIVE state since both
// ends are immediately usable.
func NewStreamChannel(conn net.Conn, opts StreamOptions) *StreamChannel {
	c := &StreamChannel{opts: opts}
	c.conn = conn
	c.local = addressOf(conn.LocalAddr())
	c.peer = addressOf(conn.RemoteAddr())
	c.setState(StateAlive)

	return c
}

// NewActiveStreamChannel creates a channel with no underlying connection
// yet; Connect performs the dial.
func NewActiveStreamChannel(opts StreamOptions) *StreamChannel {
	return &StreamChannel{opts: opts}
}

func addressOf(a net.Addr) Address {
	if a == nil {
		return Address{}
	}

	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		return Address{}
	}

	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)

	return Address{IP: host, Port: port}
}

func (c *StreamChannel) Open(local Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return errors.New("netkit: channel is closed")
	}

	c.local = local
	c.setState(StateOpen)

	return nil
}

func (c *StreamChannel) Bind(local Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ln, err := listenStream(local, c.opts)
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("netkit: bind %s: %w", local, err)
	}

	c.ln = ln
	c.local = local
	c.setState(StateOpen)

	return nil
}

// Listener exposes the underlying net.Listener created by Bind, for a
// server-side Hub that needs to Accept new peers itself.
func (c *StreamChannel) Listener() net.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ln
}

func (c *StreamChannel) Connect(remote Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.peer = remote
		c.setState(StateAlive)

		return nil
	}

	conn, err := c.dialer.Dial("tcp", remote.String())
	if err != nil {
		c.dialErr = err
		return fmt.Errorf("netkit: connect %s: %w", remote, err)
	}

	c.conn = conn
	c.local = addressOf(conn.LocalAddr())
	c.peer = addressOf(conn.RemoteAddr())
	c.setState(StateAlive)

	return nil
}

func (c *StreamChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

func (c *StreamChannel) IsAvailable() bool { return c.IsConnected() && c.State() != StateClosed }
func (c *StreamChannel) IsVacant() bool    { return c.IsConnected() && c.State() != StateClosed }

// Read performs one non-blocking-emulated read. An EOF transitions the
// channel to CLOSED and is returned to the caller; a read timeout (no data
// currently available) is reported as (nil, Address{}, nil).
func (c *StreamChannel) Read(maxLen int) ([]byte, Address, error) {
	c.mu.Lock()
	conn := c.conn
	peer := c.peer
	c.mu.Unlock()

	if conn == nil {
		return nil, Address{}, nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(pollTimeout))

	buf := make([]byte, maxLen)

	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], peer, nil
	}

	if err == nil {
		return nil, Address{}, nil
	}

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil, Address{}, nil
	}

	c.closeWithState()

	return nil, Address{}, err
}

func (c *StreamChannel) Write(b []byte, _ Address) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0, errors.New("netkit: write on unconnected stream channel")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(pollTimeout))

	n, err := conn.Write(b)
	if err != nil && !isTimeout(err) {
		c.closeWithState()
		return n, err
	}

	return n, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (c *StreamChannel) closeWithState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.setState(StateClosed)
}

func (c *StreamChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(StateClosed)

	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}

	if c.ln != nil {
		if lerr := c.ln.Close(); err == nil {
			err = lerr
		}
	}

	return err
}
