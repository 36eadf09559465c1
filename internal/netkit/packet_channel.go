package netkit

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// PacketChannel wraps one UDP-like net.PacketConn. Unconnected by default:
// Read returns the sender address, Write requires an explicit destination
// unless Connect fixed a default peer. Bind is mandatory before Read, the
// same requirement internal/runtime/netstack/udp.go's ListenUDP enforces.
type PacketChannel struct {
	lifecycle

	mu        sync.Mutex
	conn      *net.UDPConn
	connected bool
}

// NewPacketChannel creates an unbound packet channel.
func NewPacketChannel() *PacketChannel {
	return &PacketChannel{}
}

func (c *PacketChannel) Open(local Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return errors.New("netkit: channel is closed")
	}

	c.local = local
	c.setState(StateOpen)

	return nil
}

func (c *PacketChannel) Bind(local Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp", local.String())
	if err != nil {
		return fmt.Errorf("netkit: resolve %s: %w", local, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("netkit: bind %s: %w", local, err)
	}

	c.conn = conn
	c.local = addressOf(conn.LocalAddr())
	c.setState(StateAlive)

	return nil
}

// Connect fixes a default destination so subsequent Write calls may pass
// the zero Address. It does not perform a handshake; UDP has none.
func (c *PacketChannel) Connect(remote Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peer = remote
	c.connected = true

	return nil
}

func (c *PacketChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *PacketChannel) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && c.State() != StateClosed
}

func (c *PacketChannel) IsVacant() bool { return c.IsAvailable() }

func (c *PacketChannel) Read(maxLen int) ([]byte, Address, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, Address{}, errors.New("netkit: read before bind")
	}

	_ = conn.SetReadDeadline(time.Now().Add(pollTimeout))

	buf := make([]byte, maxLen)

	n, from, err := conn.ReadFromUDP(buf)
	if n > 0 {
		return buf[:n], addressOf(from), nil
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

func (c *PacketChannel) Write(b []byte, dst Address) (int, error) {
	c.mu.Lock()
	conn := c.conn
	peer := c.peer
	connected := c.connected
	c.mu.Unlock()

	if conn == nil {
		return 0, errors.New("netkit: write before bind")
	}

	target := dst
	if target.IsZero() {
		if !connected {
			return 0, errors.New("netkit: write requires a destination on an unconnected packet channel")
		}

		target = peer
	}

	addr, err := net.ResolveUDPAddr("udp", target.String())
	if err != nil {
		return 0, fmt.Errorf("netkit: resolve %s: %w", target, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(pollTimeout))

	n, err := conn.WriteToUDP(b, addr)
	if err != nil && !isTimeout(err) {
		c.closeWithState()
		return n, err
	}

	return n, nil
}

func (c *PacketChannel) closeWithState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.setState(StateClosed)
}

func (c *PacketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(StateClosed)

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
