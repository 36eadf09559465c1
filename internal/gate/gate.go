// Package gate implements the public façade of the transport core: a
// collection of Porters keyed by (remote, local) address pair, driven by the
// PrimeMetronome and reporting status/received/sent/error events to one
// Delegate. Grounded on the registry-plus-callbacks shape of
// internal/runtime/remote.System in the teacher repository.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/fsm"
	"github.com/startrek-go/startrek/internal/hub"
	"github.com/startrek-go/startrek/internal/netkit"
	"github.com/startrek-go/startrek/internal/port"
	"github.com/startrek-go/startrek/internal/ticker"
)

// Delegate is re-exported from package port so callers need only import
// gate to implement the full callback surface.
type Delegate = port.Delegate

// PorterFactory creates the Porter for a newly discovered (remote, local)
// pair, wiring in whichever Codec the Gate's protocol uses. This is the
// create_porter override hook spec.md §4.8 calls for.
type PorterFactory func(remote, local netkit.Address, conn *fsm.Connection, delegate port.Delegate) *port.Porter

// Options configures the surrounding behavior a Gate adds beyond spec.md's
// core contract.
type Options struct {
	// NodeID identifies this Gate when a process runs more than one and is
	// returned by Gate.NodeID. Generated with uuid.New() if zero. The Gate
	// itself neither logs it nor attaches it to any metric.
	NodeID uuid.UUID

	// SendLimiter, if set, paces how often a porter's outbound departure
	// hall is drained: when the limiter disallows it, that porter's whole
	// Process call is skipped for the tick. Inbound processing and status
	// reporting for that porter are skipped along with it, not only the
	// outbound send.
	SendLimiter *rate.Limiter

	// Daemonic controls whether Stop() returns immediately (true) or
	// blocks until any in-flight Tick has finished (false, the default),
	// matching the Python `daemonic=False` gate construction flag.
	Daemonic bool
}

func (o Options) resolved() Options {
	if o.NodeID == uuid.Nil {
		o.NodeID = uuid.New()
	}

	return o
}

// Gate is the engine's public entry point: one Hub, many Porters, and one
// Delegate. A Gate registers itself with ticker.PrimeMetronome on Start and
// unregisters on Stop; every tick it calls Process on each Porter and
// compares status before/after to emit GateStatusChanged. Construction is
// two-phase, mirroring the Python servers: build the Gate with its
// Delegate and PorterFactory first, then attach a Hub with SetHub once it
// exists (the Gate is itself a hub.Delegate, so hub-level errors surface
// through the same GateError path).
type Gate struct {
	opts     Options
	factory  PorterFactory
	delegate port.Delegate

	mu  sync.RWMutex
	hub *hub.Hub

	porters map[netkit.Pair]*port.Porter
	status  map[netkit.Pair]port.Status

	running bool
	tickMu  sync.Mutex
}

// New creates a Gate with no Hub yet; call SetHub before Start.
func New(factory PorterFactory, delegate port.Delegate, opts Options) *Gate {
	return &Gate{
		opts:     opts.resolved(),
		factory:  factory,
		delegate: delegate,
		porters:  make(map[netkit.Pair]*port.Porter),
		status:   make(map[netkit.Pair]port.Status),
	}
}

// SetHub attaches h to the Gate and registers the Gate as the hub's
// error delegate.
func (g *Gate) SetHub(h *hub.Hub) {
	g.mu.Lock()
	g.hub = h
	g.mu.Unlock()

	h.SetDelegate(g)
}

func (g *Gate) hubRef() *hub.Hub {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.hub
}

// NodeID returns this Gate's generated or configured node identifier.
func (g *Gate) NodeID() uuid.UUID { return g.opts.NodeID }

// HubChannelError implements hub.Delegate: a failed accept/bind/redial
// surfaces through the same GateError path as a porter-level error.
func (g *Gate) HubChannelError(pair netkit.Pair, err error) {
	g.delegate.GateError(pair.Remote, pair.Local, err)
}

// Start registers the Gate with the process-wide metronome. Every
// subsequent tick drives Process.
func (g *Gate) Start() {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.mu.Unlock()

	ticker.PrimeMetronome().AddTicker(g)
}

// Stop unregisters the Gate from the metronome. When Options.Daemonic is
// false, Stop blocks until any Tick already in flight has returned.
func (g *Gate) Stop() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()

	ticker.PrimeMetronome().RemoveTicker(g)

	if !g.opts.Daemonic {
		// Block until any Tick already in flight releases tickMu.
		g.tickMu.Lock()
		g.tickMu.Unlock()
	}
}

// Tick implements ticker.Ticker: drive the hub's socket I/O, then every
// porter's process() in turn, emitting status-change events.
func (g *Gate) Tick(now time.Time, _ time.Duration) {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	h := g.hubRef()
	if h == nil {
		return
	}

	h.Process(context.Background(), now)
	g.syncPortersFromHub(h, now)

	g.mu.RLock()
	porters := make([]*port.Porter, 0, len(g.porters))
	for _, p := range g.porters {
		porters = append(porters, p)
	}
	g.mu.RUnlock()

	for _, p := range porters {
		if g.opts.SendLimiter != nil && !g.opts.SendLimiter.Allow() {
			continue
		}

		p.Process(now)
		g.reportStatus(p, now)
	}
}

// syncPortersFromHub creates a Porter for any hub Connection that does not
// have one yet, e.g. a just-accepted TCP peer or a just-seen UDP sender.
func (g *Gate) syncPortersFromHub(h *hub.Hub, now time.Time) {
	for _, c := range h.Connections() {
		pair := netkit.Pair{Remote: c.Remote(), Local: c.Local()}

		g.mu.Lock()
		if _, ok := g.porters[pair]; !ok {
			p := g.factory(c.Remote(), c.Local(), c, g.delegate)
			g.porters[pair] = p
			g.status[pair] = port.StatusInit
		}
		g.mu.Unlock()
	}
}

func (g *Gate) reportStatus(p *port.Porter, now time.Time) {
	pair := netkit.Pair{Remote: p.Remote(), Local: p.Local()}
	current := p.Status(now)

	g.mu.Lock()
	previous, ok := g.status[pair]
	g.status[pair] = current
	g.mu.Unlock()

	if ok && previous != current {
		g.delegate.GateStatusChanged(p.Remote(), p.Local(), previous, current)
	}
}

// FetchPorter returns the existing porter for (remote, local), creating the
// underlying hub Connection and a fresh Porter via the factory if none
// exists yet.
func (g *Gate) FetchPorter(remote, local netkit.Address) *port.Porter {
	pair := netkit.Pair{Remote: remote, Local: local}

	g.mu.RLock()
	p, ok := g.porters[pair]
	h := g.hub
	g.mu.RUnlock()

	if ok {
		return p
	}

	conn := h.Connect(pair)

	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.porters[pair]; ok {
		return p
	}

	p = g.factory(remote, local, conn, g.delegate)
	g.porters[pair] = p
	g.status[pair] = port.StatusInit

	return p
}

// SendShip resolves or creates the porter for destination and enqueues d on
// its departure hall.
func (g *Gate) SendShip(d *dock.Departure, local, destination netkit.Address) {
	p := g.FetchPorter(destination, local)
	p.AppendDeparture(d)
}

// Porters returns a snapshot of every known porter, keyed by remote
// address only (callers rarely care about local beyond diagnostics).
func (g *Gate) Porters() map[netkit.Address]*port.Porter {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[netkit.Address]*port.Porter, len(g.porters))
	for pair, p := range g.porters {
		out[pair.Remote] = p
	}

	return out
}
