package fsm

import (
	"sync"
	"time"

	"github.com/startrek-go/startrek/internal/netkit"
)

// Inbound is one buffered read handed from the Hub's poll loop to the
// owning Porter: raw bytes plus, for packet channels, the sender address.
type Inbound struct {
	Data []byte
	From netkit.Address
}

// Connection is a stateful endpoint over one Channel pair. Its state is
// recomputed on every Tick from activity timestamps, never mutated
// directly, matching spec.md §4.4.
type Connection struct {
	opts Options

	remote netkit.Address
	local  netkit.Address

	mu           sync.Mutex
	channel      netkit.Channel
	opened       bool
	down         bool
	lastSentTime time.Time
	lastRecvTime time.Time
	state        State
	inbox        []Inbound
	// active marks a connection whose channel is redialed by the owning
	// Hub's background reconnector while it is in StateDefault (never
	// bound) or StateError.
	active bool
}

// New creates a Connection bound to remote/local with the given activity
// thresholds (zero Options uses spec defaults).
func New(remote, local netkit.Address, opts Options, active bool) *Connection {
	return &Connection{
		opts:   opts,
		remote: remote,
		local:  local,
		state:  StateDefault,
		active: active,
	}
}

func (c *Connection) Remote() netkit.Address { return c.remote }
func (c *Connection) Local() netkit.Address  { return c.local }
func (c *Connection) IsActive() bool         { return c.active }

// BindChannel attaches (or replaces) the underlying channel, marking the
// channel opened so the state machine can leave DEFAULT.
func (c *Connection) BindChannel(ch netkit.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channel = ch
	c.opened = true
	c.down = false
}

func (c *Connection) Channel() netkit.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel
}

// Receive buffers one inbound read for the owning Porter to drain, and
// records the activity timestamp that drives the state machine.
func (c *Connection) Receive(data []byte, from netkit.Address, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	c.inbox = append(c.inbox, Inbound{Data: cp, From: from})
	c.lastRecvTime = now
}

// Drain removes and returns everything buffered by Receive since the last
// Drain call.
func (c *Connection) Drain() []Inbound {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.inbox
	c.inbox = nil

	return out
}

// Send writes data through the underlying channel and, on success, marks
// the send activity timestamp. A hard I/O error marks the connection down.
func (c *Connection) Send(data []byte, dst netkit.Address, now time.Time) (int, error) {
	ch := c.Channel()
	if ch == nil {
		return 0, errNoChannel
	}

	n, err := ch.Write(data, dst)
	if err != nil {
		c.MarkDown()
		return n, err
	}

	c.MarkSent(now)

	return n, nil
}

// MarkSent records that a send just succeeded.
func (c *Connection) MarkSent(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSentTime = now
}

// MarkReceived records that a receive just succeeded.
func (c *Connection) MarkReceived(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRecvTime = now
}

// MarkDown forces the connection into ERROR, e.g. on a channel close or
// hard I/O error.
func (c *Connection) MarkDown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.down = true
}

// IsDown reports whether the connection has been forced down.
func (c *Connection) IsDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.down
}

// State recomputes and returns the current state without advancing any
// timestamps.
func (c *Connection) State(now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stateLocked(now)
}

func (c *Connection) stateLocked(now time.Time) State {
	down := c.down
	if !down && c.channel != nil && c.channel.State() == netkit.StateClosed {
		down = true
	}

	s := compute(c.opts, now, c.lastSentTime, c.lastRecvTime, c.opened, down)
	c.state = s

	return s
}

// Tick recomputes state and returns (previous, current) so the caller
// (typically the owning Gate) can detect and surface a transition.
func (c *Connection) Tick(now time.Time) (previous, current State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous = c.state
	current = c.stateLocked(now)

	return previous, current
}

// LastSentTime and LastReceivedTime expose the raw timestamps, mainly for
// tests and diagnostics.
func (c *Connection) LastSentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastSentTime
}

func (c *Connection) LastReceivedTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastRecvTime
}

// Reset returns an ERROR active connection to DEFAULT after its channel
// has been successfully reopened by the Hub's background reconnector. The
// recorded state becomes DEFAULT and both activity timestamps are cleared;
// since the new channel counts as opened, the next State or Tick computes
// PREPARING.
func (c *Connection) Reset(ch netkit.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channel = ch
	c.opened = true
	c.down = false
	c.lastSentTime = time.Time{}
	c.lastRecvTime = time.Time{}
	c.state = StateDefault
}

var errNoChannel = connError("fsm: connection has no bound channel")

type connError string

func (e connError) Error() string { return string(e) }
