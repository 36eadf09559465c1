package port

import (
	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/netkit"
)

// Status is a Porter's externally visible lifecycle, derived from its
// Connection's finer-grained fsm.State per spec.md §4.7.
type Status int

const (
	StatusInit Status = iota
	StatusPreparing
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusPreparing:
		return "PREPARING"
	case StatusReady:
		return "READY"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Delegate receives every externally visible event a Porter produces. A
// Gate implements this once and fans status/received/sent/error events out
// to its own caller-supplied delegate, the way internal/runtime/remote's
// System reports transport events through its own callback surface.
type Delegate interface {
	GateStatusChanged(remote, local netkit.Address, previous, current Status)
	GateReceived(arrival *dock.Arrival, source, destination netkit.Address)
	GateSent(d *dock.Departure)
	GateError(remote, local netkit.Address, err error)
}
