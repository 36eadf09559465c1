package gate

import (
	"testing"
	"time"

	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/fsm"
	"github.com/startrek-go/startrek/internal/hub"
	"github.com/startrek-go/startrek/internal/netkit"
	"github.com/startrek-go/startrek/internal/port"
)

type fakeChannel struct {
	local, remote netkit.Address
	state         netkit.State
	written       [][]byte
}

func newFakeChannel(local, remote netkit.Address) *fakeChannel {
	return &fakeChannel{local: local, remote: remote, state: netkit.StateAlive}
}

func (f *fakeChannel) Open(netkit.Address) error    { return nil }
func (f *fakeChannel) Bind(netkit.Address) error    { return nil }
func (f *fakeChannel) Connect(netkit.Address) error { return nil }
func (f *fakeChannel) Read(int) ([]byte, netkit.Address, error) {
	return nil, netkit.Address{}, nil
}
func (f *fakeChannel) Write(b []byte, _ netkit.Address) (int, error) {
	f.written = append(f.written, append([]byte(nil), b...))
	return len(b), nil
}
func (f *fakeChannel) State() netkit.State           { return f.state }
func (f *fakeChannel) IsOpen() bool                  { return f.state != netkit.StateClosed }
func (f *fakeChannel) IsBound() bool                 { return true }
func (f *fakeChannel) IsConnected() bool             { return true }
func (f *fakeChannel) IsAlive() bool                 { return f.state == netkit.StateAlive }
func (f *fakeChannel) IsAvailable() bool             { return true }
func (f *fakeChannel) IsVacant() bool                { return true }
func (f *fakeChannel) LocalAddress() netkit.Address  { return f.local }
func (f *fakeChannel) RemoteAddress() netkit.Address { return f.remote }
func (f *fakeChannel) Close() error                  { f.state = netkit.StateClosed; return nil }

// wholeMessageCodec treats every inbound chunk as one complete ship and
// every departure body as a single fragment, with no acks - enough surface
// to exercise Gate's plumbing without a real wire format.
type wholeMessageCodec struct{ sn uint32 }

func (c *wholeMessageCodec) Unpack(data []byte, _ netkit.Address) ([]port.Unpacked, error) {
	c.sn++
	return []port.Unpacked{{Fragment: &dock.Fragment{SN: c.sn, Index: 0, Total: 1, Body: data}}}, nil
}

func (c *wholeMessageCodec) Pack(_ *dock.Departure, _ int, body []byte, _ bool) ([]byte, error) {
	return body, nil
}

type recordingDelegate struct {
	received []*dock.Arrival
	sent     []*dock.Departure
	statuses []port.Status
}

func (d *recordingDelegate) GateStatusChanged(_, _ netkit.Address, _, current port.Status) {
	d.statuses = append(d.statuses, current)
}
func (d *recordingDelegate) GateReceived(a *dock.Arrival, _, _ netkit.Address) {
	d.received = append(d.received, a)
}
func (d *recordingDelegate) GateSent(dep *dock.Departure) { d.sent = append(d.sent, dep) }
func (d *recordingDelegate) GateError(netkit.Address, netkit.Address, error) {}

func TestGateDeliversReceivedShipsAndTracksStatus(t *testing.T) {
	local := netkit.Address{IP: "127.0.0.1", Port: 4000}
	remote := netkit.Address{IP: "127.0.0.1", Port: 5000}

	h, err := hub.NewServerHub(hub.KindPacket, hub.Options{CollapseLocal: true})
	if err != nil {
		t.Fatalf("NewServerHub: %v", err)
	}

	del := &recordingDelegate{}

	codec := &wholeMessageCodec{}
	factory := func(remote, local netkit.Address, conn *fsm.Connection, delegate port.Delegate) *port.Porter {
		return port.New(remote, local, conn, codec, delegate, time.Minute)
	}

	g := New(factory, del, Options{})
	g.SetHub(h)

	pair := netkit.Pair{Remote: remote, Local: local}
	conn := h.Connect(pair)
	conn.BindChannel(newFakeChannel(local, remote))

	now := time.Now()
	conn.Receive([]byte("hi"), remote, now)

	g.Tick(now, 0)

	if len(del.received) != 1 || string(del.received[0].Body) != "hi" {
		t.Fatalf("expected one delivered ship with body %q, got %v", "hi", del.received)
	}

	if len(del.statuses) == 0 || del.statuses[len(del.statuses)-1] != port.StatusReady {
		t.Fatalf("expected a status change ending in READY, got %v", del.statuses)
	}
}

func TestGateSendShipQueuesOnFetchedPorter(t *testing.T) {
	local := netkit.Address{IP: "127.0.0.1", Port: 4000}
	remote := netkit.Address{IP: "127.0.0.1", Port: 5000}

	h, err := hub.NewServerHub(hub.KindPacket, hub.Options{CollapseLocal: true})
	if err != nil {
		t.Fatalf("NewServerHub: %v", err)
	}

	del := &recordingDelegate{}
	codec := &wholeMessageCodec{}

	factory := func(remote, local netkit.Address, conn *fsm.Connection, delegate port.Delegate) *port.Porter {
		return port.New(remote, local, conn, codec, delegate, time.Minute)
	}

	g := New(factory, del, Options{})
	g.SetHub(h)

	d := dock.NewDeparture(1, dock.PriorityNormal, [][]byte{[]byte("out")}, false, 0, time.Second)
	g.SendShip(d, local, remote)

	p := g.FetchPorter(remote, local)
	ch := newFakeChannel(local, remote)
	p.Connection().BindChannel(ch)

	now := time.Now()
	g.Tick(now, 0)

	if len(ch.written) != 1 || string(ch.written[0]) != "out" {
		t.Fatalf("expected the queued departure to be written, got %v", ch.written)
	}
}
