// Package hub owns the Channel and Connection registries that sit below a
// Gate: discovering sockets, routing reads to the right Connection, and, for
// active (outbound) connections, redialing in the background when one has
// never been opened or has gone to ERROR. Grounded on the
// accept-loop-with-backoff idiom in internal/runtime/netstack.TCPServer and
// the registry/dial pattern in internal/runtime/remote.System.
package hub

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/startrek-go/startrek/internal/fsm"
	"github.com/startrek-go/startrek/internal/netkit"
)

// Kind distinguishes connection-oriented (stream) hubs, where every peer
// gets its own socket, from connectionless (packet) hubs, where one bound
// socket serves every peer.
type Kind int

const (
	KindStream Kind = iota
	KindPacket
)

// Options configures a Hub's connection bookkeeping.
type Options struct {
	// CollapseLocal makes the connection registry key on remote address
	// only, ignoring local. This is the correct default for packet hubs:
	// one bound local socket serves arbitrarily many remotes, and the
	// local address contributes nothing to identify a given peer's
	// connection. Resolves the packet-hub connection-collapsing open
	// question.
	CollapseLocal bool

	ConnectionOptions fsm.Options

	// MaxConcurrentRedials bounds how many active connections the
	// background reconnector may redial at once. Zero means 4.
	MaxConcurrentRedials int64

	// RedialBackoff is the minimum spacing between successive redial
	// attempts for the same connection. Zero means 1s.
	RedialBackoff time.Duration
}

func (o Options) resolved() Options {
	if o.MaxConcurrentRedials <= 0 {
		o.MaxConcurrentRedials = 4
	}

	if o.RedialBackoff <= 0 {
		o.RedialBackoff = time.Second
	}

	return o
}

// Dialer opens a fresh Channel to remote, used by active hubs to dial
// connections that have never been bound (DEFAULT) or have gone to ERROR.
type Dialer func(ctx context.Context, remote netkit.Address) (netkit.Channel, error)

// Delegate receives Hub-level events that happen outside any single
// Connection's lifecycle: a failed accept, bind, or redial. A Gate
// implements this itself so these surface through the same gate_error path
// as porter-level errors, the same two-phase "gate is a delegate of its own
// hub" wiring the Python servers use (gate built first, then
// gate.hub = ...Hub(delegate=gate)).
type Delegate interface {
	HubChannelError(pair netkit.Pair, err error)
}

// ErrStreamCollapseLocal is returned by NewServerHub/NewActiveHub when
// CollapseLocal is requested for a stream hub. Collapsing the local address
// out of the connection key only makes sense for a packet hub's single
// shared socket serving many virtual peers; a stream hub gives every peer
// its own socket, so there is nothing to collapse.
var ErrStreamCollapseLocal = hubError("hub: CollapseLocal is only valid for a packet hub")

type hubError string

func (e hubError) Error() string { return string(e) }

// Hub owns every Channel and Connection a Gate drives. A server hub accepts
// or binds channels as peers show up; an active hub additionally redials
// active connections in the background via Dialer.
type Hub struct {
	kind Kind
	opts Options

	mu          sync.RWMutex
	channels    map[netkit.Pair]netkit.Channel
	connections map[netkit.Pair]*fsm.Connection

	dialer   Dialer
	sem      *semaphore.Weighted
	redialAt map[netkit.Pair]time.Time

	delegate Delegate
}

func (h *Hub) reportError(pair netkit.Pair, err error) {
	h.mu.RLock()
	d := h.delegate
	h.mu.RUnlock()

	if d != nil {
		d.HubChannelError(pair, err)
	}
}

// NewServerHub creates a Hub with no dialer: channels and connections are
// registered as peers connect in (TCP accept loop) or as datagrams arrive
// from new senders (UDP).
func NewServerHub(kind Kind, opts Options) (*Hub, error) {
	return newHub(kind, opts, nil)
}

// NewActiveHub creates a Hub that redials active connections in the
// background using dialer: both a freshly created connection that has never
// had a channel bound (DEFAULT) and one whose channel has since gone down
// (ERROR) are eligible.
func NewActiveHub(kind Kind, dialer Dialer, opts Options) (*Hub, error) {
	return newHub(kind, opts, dialer)
}

func newHub(kind Kind, opts Options, dialer Dialer) (*Hub, error) {
	if opts.CollapseLocal && kind != KindPacket {
		return nil, ErrStreamCollapseLocal
	}

	opts = opts.resolved()

	return &Hub{
		kind:        kind,
		opts:        opts,
		channels:    make(map[netkit.Pair]netkit.Channel),
		connections: make(map[netkit.Pair]*fsm.Connection),
		dialer:      dialer,
		sem:         semaphore.NewWeighted(opts.MaxConcurrentRedials),
		redialAt:    make(map[netkit.Pair]time.Time),
	}, nil
}

// SetDelegate attaches the Hub-level error delegate. Safe to call after
// construction (e.g. once the owning Gate exists), matching the Python
// two-phase `gate.hub = ...Hub(delegate=gate)` wiring.
func (h *Hub) SetDelegate(d Delegate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.delegate = d
}

func (h *Hub) connKey(pair netkit.Pair) netkit.Pair {
	if h.opts.CollapseLocal {
		pair.Local = netkit.Address{}
	}

	return pair
}

// PutChannel registers ch for pair. For packet hubs a single shared channel
// is typically registered once under {Remote: zero value, Local: bound
// address}; channel lookups fall back to that wildcard-remote entry so
// every peer sharing the bound socket resolves to the same Channel.
func (h *Hub) PutChannel(pair netkit.Pair, ch netkit.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.channels[pair] = ch
}

// Channel looks up the channel for pair, falling back to a wildcard-remote
// registration (used by packet hubs with one shared bound socket).
func (h *Hub) Channel(pair netkit.Pair) (netkit.Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.lookupChannelLocked(pair)
}

// lookupChannelLocked is Channel's lookup with the wildcard-remote
// fallback, callable from methods that already hold h.mu.
func (h *Hub) lookupChannelLocked(pair netkit.Pair) (netkit.Channel, bool) {
	if ch, ok := h.channels[pair]; ok {
		return ch, true
	}

	wildcard := netkit.Pair{Local: pair.Local}
	ch, ok := h.channels[wildcard]

	return ch, ok
}

// Connection returns the Connection for pair if one has already been
// created, honoring CollapseLocal.
func (h *Hub) Connection(pair netkit.Pair) (*fsm.Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.connections[h.connKey(pair)]

	return c, ok
}

// Connect returns the existing Connection for pair, creating one (active if
// this is an active hub) if none exists yet.
func (h *Hub) Connect(pair netkit.Pair) *fsm.Connection {
	key := h.connKey(pair)

	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.connections[key]; ok {
		return c
	}

	c := fsm.New(pair.Remote, pair.Local, h.opts.ConnectionOptions, h.dialer != nil)
	if ch, ok := h.lookupChannelLocked(pair); ok {
		c.BindChannel(ch)
	}

	h.connections[key] = c

	return c
}

// RemoveConnection drops bookkeeping for pair, e.g. once a Porter reports
// the connection permanently failed.
func (h *Hub) RemoveConnection(pair netkit.Pair) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.connections, h.connKey(pair))
	delete(h.channels, pair)
}

// Connections returns a snapshot of every known connection.
func (h *Hub) Connections() []*fsm.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*fsm.Connection, 0, len(h.connections))
	for _, c := range h.connections {
		out = append(out, c)
	}

	return out
}

const maxPollsPerTick = 16

// Process drains every registered channel's pending reads (bounded per tick
// so one busy peer cannot starve the others) and routes each read to the
// matching Connection, creating one if this is a server hub seeing a new
// peer for the first time, evicting any channel that reports a hard error or
// CLOSED state along the way. It then kicks off redials for any active
// connection that is either in ERROR or has never had its channel opened.
// This is the method a Gate calls once per metronome tick.
func (h *Hub) Process(ctx context.Context, now time.Time) {
	h.drainChannels(now)
	h.redialErrored(ctx, now)
}

func (h *Hub) drainChannels(now time.Time) {
	h.mu.RLock()
	channels := make(map[netkit.Pair]netkit.Channel, len(h.channels))
	for k, v := range h.channels {
		channels[k] = v
	}
	h.mu.RUnlock()

	const maxRead = 64 * 1024

	for pair, ch := range channels {
		for i := 0; i < maxPollsPerTick; i++ {
			data, from, err := ch.Read(maxRead)
			if err != nil {
				h.handleChannelError(pair, from, err)
				break
			}

			if len(data) == 0 {
				// Would-block: nothing more to read this tick.
				break
			}

			target := pair
			if h.kind == KindPacket && !from.IsZero() {
				target = netkit.Pair{Remote: from, Local: pair.Local}
			}

			c := h.Connect(target)
			c.Receive(data, from, now)
		}
	}
}

// handleChannelError marks the owning connection down, reports the error to
// the delegate, and evicts the dead channel from h.channels so drainChannels
// does not keep re-reading (and re-reporting) the same closed channel on
// every subsequent tick (spec.md §4.3's process() contract: "evicts channels
// in CLOSED state"). A passive connection is dropped outright, since nothing
// will ever redial it; an active connection is left registered in ERROR so
// redialErrored can find and reconnect it.
func (h *Hub) handleChannelError(pair netkit.Pair, from netkit.Address, err error) {
	connPair := pair

	c, ok := h.Connection(pair)
	if !ok && h.kind == KindPacket {
		connPair = netkit.Pair{Remote: from, Local: pair.Local}
		c, ok = h.Connection(connPair)
	}

	if ok {
		c.MarkDown()
	}

	h.reportError(pair, err)

	h.mu.Lock()
	delete(h.channels, pair)
	h.mu.Unlock()

	if ok && c.IsActive() {
		return
	}

	h.RemoveConnection(connPair)
}

func (h *Hub) redialErrored(ctx context.Context, now time.Time) {
	if h.dialer == nil {
		return
	}

	for _, c := range h.Connections() {
		if !c.IsActive() {
			continue
		}

		// StateDefault catches a connection Connect created with no
		// channel bound yet (spec.md §4.3 requires connect() to spawn a
		// dial attempt for any active connection, not only one that
		// previously succeeded and later failed); StateError catches one
		// whose channel has since gone down.
		switch c.State(now) {
		case fsm.StateError, fsm.StateDefault:
		default:
			continue
		}

		pair := netkit.Pair{Remote: c.Remote(), Local: c.Local()}

		h.mu.Lock()
		next, seen := h.redialAt[pair]
		if seen && next.After(now) {
			h.mu.Unlock()
			continue
		}
		h.redialAt[pair] = now.Add(h.opts.RedialBackoff)
		h.mu.Unlock()

		if !h.sem.TryAcquire(1) {
			continue
		}

		go h.redialOne(ctx, pair, c)
	}
}

func (h *Hub) redialOne(ctx context.Context, pair netkit.Pair, c *fsm.Connection) {
	defer h.sem.Release(1)

	ch, err := h.dialer(ctx, pair.Remote)
	if err != nil {
		h.reportError(pair, err)
		return
	}

	h.mu.Lock()
	h.channels[pair] = ch
	h.mu.Unlock()

	c.Reset(ch)
}
