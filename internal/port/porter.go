package port

import (
	"time"

	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/fsm"
	"github.com/startrek-go/startrek/internal/metrics"
	"github.com/startrek-go/startrek/internal/netkit"
)

// DefaultPurgeInterval bounds how often a Porter sweeps its halls for
// expired arrivals and exhausted-retry departures.
const DefaultPurgeInterval = 2 * time.Second

// Porter binds one Connection to one Codec and one Dock, and drives both
// one metronome tick at a time. A Gate owns many Porters, one per remote
// peer.
type Porter struct {
	remote netkit.Address
	local  netkit.Address

	conn     *fsm.Connection
	codec    Codec
	dock     *dock.Dock
	delegate Delegate

	purgeInterval time.Duration
	lastPurge     time.Time
	lastStatus    Status

	metrics  *metrics.Registry
	nodeID   string
}

// New creates a Porter. arrivalExpiry of zero uses dock.DefaultArrivalExpiry.
func New(remote, local netkit.Address, conn *fsm.Connection, codec Codec, delegate Delegate, arrivalExpiry time.Duration) *Porter {
	return &Porter{
		remote:        remote,
		local:         local,
		conn:          conn,
		codec:         codec,
		dock:          dock.NewDock(arrivalExpiry),
		delegate:      delegate,
		purgeInterval: DefaultPurgeInterval,
		lastStatus:    StatusInit,
	}
}

// WithMetrics attaches a metrics.Registry so this porter's ship/retry/state
// counters are exported under the given node label. Returns the porter for
// chaining at construction time.
func (p *Porter) WithMetrics(reg *metrics.Registry, nodeID string) *Porter {
	p.metrics = reg
	p.nodeID = nodeID

	return p
}

// Connection exposes the underlying Connection, mainly for a Gate's
// status-change detection and for tests.
func (p *Porter) Connection() *fsm.Connection { return p.conn }

func (p *Porter) Remote() netkit.Address { return p.remote }
func (p *Porter) Local() netkit.Address  { return p.local }

// AppendDeparture enqueues a ship for sending.
func (p *Porter) AppendDeparture(d *dock.Departure) {
	p.dock.Departures.Append(d)
}

// Status derives the porter's coarse lifecycle from the connection's
// fine-grained state, per spec.md §4.7's mapping table.
func (p *Porter) Status(now time.Time) Status {
	switch p.conn.State(now) {
	case fsm.StateDefault, fsm.StatePreparing:
		return StatusPreparing
	case fsm.StateReady, fsm.StateMaintaining, fsm.StateExpired:
		return StatusReady
	default:
		return StatusError
	}
}

// Process runs one poll cycle: drains and unpacks inbound bytes, dispatches
// completed arrivals and acks, sends the next due departure fragment, and
// periodically purges both halls. It returns true if anything was read or
// written, so the caller can distinguish a busy tick from an idle one.
func (p *Porter) Process(now time.Time) bool {
	active := p.processInbound(now)
	if p.processOutbound(now) {
		active = true
	}

	p.maybePurge(now)

	return active
}

func (p *Porter) processInbound(now time.Time) bool {
	active := false

	for _, in := range p.conn.Drain() {
		active = true

		results, err := p.codec.Unpack(in.Data, in.From)
		if err != nil {
			p.delegate.GateError(p.remote, p.local, err)
			continue
		}

		for _, r := range results {
			if r.Ack != nil {
				if d, done := p.dock.Departures.CheckResponse(r.Ack.SN, r.Ack.Index); done && d != nil {
					p.delegate.GateSent(d)
					p.countShipSent()
				}
			}

			if r.Fragment != nil {
				arrival, complete := p.dock.Arrivals.Assemble(in.From, *r.Fragment, now)
				if complete {
					p.delegate.GateReceived(arrival, in.From, p.local)
					p.countShipReceived()
				}
			}
		}
	}

	return active
}

func (p *Porter) processOutbound(now time.Time) bool {
	u := p.dock.Departures.Next(now)
	if u == nil {
		return false
	}

	body, err := p.codec.Pack(u.Ship, u.Index, u.Body, u.Retry)
	if err != nil {
		p.delegate.GateError(p.remote, p.local, err)
		u.Ship.MarkFailed()

		return false
	}

	if _, err := p.conn.Send(body, p.remote, now); err != nil {
		p.delegate.GateError(p.remote, p.local, err)
		u.Ship.MarkFailed()

		return false
	}

	if u.Retry {
		p.countRetry()
	}

	if u.Ship.Done() {
		p.delegate.GateSent(u.Ship)
		p.countShipSent()
	}

	return true
}

func (p *Porter) maybePurge(now time.Time) {
	if p.purgeInterval > 0 && now.Sub(p.lastPurge) < p.purgeInterval {
		return
	}

	p.lastPurge = now

	for _, failed := range p.dock.Purge(now) {
		p.delegate.GateError(p.remote, p.local, DepartureTimeoutError{SN: failed.SN})
		p.countShipDropped()
	}

	if p.metrics != nil {
		p.metrics.ConnectionState.WithLabelValues(p.nodeID, p.remote.String()).Set(float64(p.conn.State(now)))
		p.metrics.PorterStatus.WithLabelValues(p.nodeID, p.remote.String()).Set(float64(p.Status(now)))
	}
}

func (p *Porter) countShipSent() {
	if p.metrics != nil {
		p.metrics.ShipsSent.WithLabelValues(p.nodeID).Inc()
	}
}

func (p *Porter) countShipReceived() {
	if p.metrics != nil {
		p.metrics.ShipsReceived.WithLabelValues(p.nodeID).Inc()
	}
}

func (p *Porter) countShipDropped() {
	if p.metrics != nil {
		p.metrics.ShipsDropped.WithLabelValues(p.nodeID).Inc()
	}
}

func (p *Porter) countRetry() {
	if p.metrics != nil {
		p.metrics.DepartureRetries.WithLabelValues(p.nodeID).Inc()
	}
}

// DepartureTimeoutError reports a departure that exhausted its retries
// without being acknowledged.
type DepartureTimeoutError struct {
	SN uint32
}

func (e DepartureTimeoutError) Error() string {
	return "port: departure exhausted retries without acknowledgement"
}
