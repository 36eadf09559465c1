package port

import (
	"testing"
	"time"

	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/fsm"
	"github.com/startrek-go/startrek/internal/netkit"
)

// fakeChannel is a minimal in-memory netkit.Channel used to exercise a
// Porter without real sockets.
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
	cp := make([]byte, len(b))
	copy(cp, b)
	f.written = append(f.written, cp)

	return len(b), nil
}
func (f *fakeChannel) State() netkit.State        { return f.state }
func (f *fakeChannel) IsOpen() bool                { return f.state != netkit.StateClosed }
func (f *fakeChannel) IsBound() bool                { return true }
func (f *fakeChannel) IsConnected() bool            { return true }
func (f *fakeChannel) IsAlive() bool                { return f.state == netkit.StateAlive }
func (f *fakeChannel) IsAvailable() bool            { return true }
func (f *fakeChannel) IsVacant() bool               { return true }
func (f *fakeChannel) LocalAddress() netkit.Address  { return f.local }
func (f *fakeChannel) RemoteAddress() netkit.Address { return f.remote }
func (f *fakeChannel) Close() error                  { f.state = netkit.StateClosed; return nil }

// plainCodec treats every inbound chunk as one complete unfragmented ship
// and packs a departure's body verbatim, with no acks - a minimal stand-in
// for codec/plain in these unit tests.
type plainCodec struct{ nextSN uint32 }

func (c *plainCodec) Unpack(data []byte, _ netkit.Address) ([]Unpacked, error) {
	c.nextSN++

	return []Unpacked{{Fragment: &dock.Fragment{SN: c.nextSN, Index: 0, Total: 1, Body: data}}}, nil
}

func (c *plainCodec) Pack(_ *dock.Departure, _ int, body []byte, _ bool) ([]byte, error) {
	return body, nil
}

type recordingDelegate struct {
	received []*dock.Arrival
	sent     []*dock.Departure
	errs     []error
}

func (d *recordingDelegate) GateStatusChanged(netkit.Address, netkit.Address, Status, Status) {}
func (d *recordingDelegate) GateReceived(a *dock.Arrival, _, _ netkit.Address) {
	d.received = append(d.received, a)
}
func (d *recordingDelegate) GateSent(dep *dock.Departure) { d.sent = append(d.sent, dep) }
func (d *recordingDelegate) GateError(_, _ netkit.Address, err error) {
	d.errs = append(d.errs, err)
}

func newTestPorter() (*Porter, *fakeChannel, *recordingDelegate) {
	local := netkit.Address{IP: "127.0.0.1", Port: 4000}
	remote := netkit.Address{IP: "127.0.0.1", Port: 5000}

	ch := newFakeChannel(local, remote)
	conn := fsm.New(remote, local, fsm.Options{}, false)
	conn.BindChannel(ch)

	del := &recordingDelegate{}
	p := New(remote, local, conn, &plainCodec{}, del, time.Minute)

	return p, ch, del
}

func TestPorterDeliversCompletedArrival(t *testing.T) {
	p, _, del := newTestPorter()
	now := time.Now()

	p.Connection().Receive([]byte("hello"), p.Remote(), now)

	if !p.Process(now) {
		t.Fatal("expected Process to report activity")
	}

	if len(del.received) != 1 || string(del.received[0].Body) != "hello" {
		t.Fatalf("expected one delivered arrival with body %q, got %v", "hello", del.received)
	}
}

func TestPorterSendsQueuedDeparture(t *testing.T) {
	p, ch, del := newTestPorter()
	now := time.Now()

	d := dock.NewDeparture(1, dock.PriorityNormal, [][]byte{[]byte("world")}, false, 0, time.Second)
	p.AppendDeparture(d)

	if !p.Process(now) {
		t.Fatal("expected Process to report activity")
	}

	if len(ch.written) != 1 || string(ch.written[0]) != "world" {
		t.Fatalf("expected one write of %q, got %v", "world", ch.written)
	}

	if len(del.sent) != 1 {
		t.Fatalf("expected one gate_sent callback for a stream departure, got %d", len(del.sent))
	}
}

func TestPorterStatusTracksConnectionState(t *testing.T) {
	p, _, _ := newTestPorter()
	now := time.Now()

	if got := p.Status(now); got != StatusPreparing {
		t.Fatalf("expected PREPARING immediately after binding, got %v", got)
	}

	p.Connection().MarkReceived(now)

	if got := p.Status(now); got != StatusReady {
		t.Fatalf("expected READY after activity, got %v", got)
	}

	p.Connection().MarkDown()

	if got := p.Status(now); got != StatusError {
		t.Fatalf("expected ERROR once the connection is down, got %v", got)
	}
}
