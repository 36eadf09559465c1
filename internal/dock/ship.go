// Package dock holds the per-connection Arrival Hall (inbound reassembly)
// and Departure Hall (outbound priority scheduling + retry) that together
// form a Porter's "dock": spec.md §3 and §4.5/§4.6.
package dock

import (
	"time"

	"github.com/startrek-go/startrek/internal/netkit"
)

// Priority is a Departure's scheduling class. Total ordering:
// Urgent < Normal < Slower.
type Priority int

const (
	PriorityUrgent Priority = -1
	PriorityNormal Priority = 0
	PrioritySlower Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "URGENT"
	case PriorityNormal:
		return "NORMAL"
	case PrioritySlower:
		return "SLOWER"
	default:
		return "UNKNOWN"
	}
}

// Status is a Departure's lifecycle as seen by the scheduler.
type Status int

const (
	StatusNew Status = iota
	StatusWaiting
	StatusTimeout
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusWaiting:
		return "WAITING"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusDone:
		return "DONE"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Fragment is one page of a Ship as handed to/from a Codec: a raw body
// slice plus its position among the ship's total page count.
type Fragment struct {
	SN    uint32
	Index int
	Total int
	Body  []byte
}

// Arrival is a fully reassembled inbound ship, produced by ArrivalHall once
// every page has arrived (or immediately, for a single-fragment ship).
type Arrival struct {
	Sender    netkit.Address
	SN        uint32
	Total     int
	Body      []byte
	TouchTime time.Time
}

// Departure is one outbound ship: its pages, priority, and retry
// bookkeeping. A negative retries argument to NewDeparture is replaced with
// the default of two retries after the first send; zero means no retries.
type Departure struct {
	SN        uint32
	Priority  Priority
	Pages     [][]byte
	NeedsAck  bool // false for stream protocols: the OS owns reliability
	Retries   int
	Timeout   time.Duration
	TouchTime time.Time

	acked        []bool
	lastSendTime []time.Time
	expiredTime  []time.Time
	retriesLeft  []int
	started      []bool
	done         bool
	failed       bool
}

// NewDeparture creates a Departure ready for DepartureHall.Append. retries
// is the number of resend attempts after the first send (a negative value
// selects the default of 2); timeout is the per-fragment expiry window (zero
// or negative selects the default of 120s).
func NewDeparture(sn uint32, priority Priority, pages [][]byte, needsAck bool, retries int, timeout time.Duration) *Departure {
	if retries < 0 {
		retries = 2
	}

	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	n := len(pages)

	d := &Departure{
		SN:           sn,
		Priority:     priority,
		Pages:        pages,
		NeedsAck:     needsAck,
		Retries:      retries,
		Timeout:      timeout,
		acked:        make([]bool, n),
		lastSendTime: make([]time.Time, n),
		expiredTime:  make([]time.Time, n),
		retriesLeft:  make([]int, n),
	}

	for i := range d.retriesLeft {
		d.retriesLeft[i] = retries
	}

	d.started = make([]bool, n)

	return d
}

// Done reports whether every fragment has reached its terminal state
// (acknowledged for packet protocols, or simply sent once for stream
// protocols which delegate reliability to the OS).
func (d *Departure) Done() bool {
	if d.done {
		return true
	}

	if !d.NeedsAck {
		for _, started := range d.started {
			if !started {
				return false
			}
		}

		return true
	}

	for _, acked := range d.acked {
		if !acked {
			return false
		}
	}

	return true
}

// Failed reports whether this departure was abandoned after exhausting
// retries on at least one fragment, or after an encode/send error.
func (d *Departure) Failed() bool { return d.failed }

// MarkFailed marks this departure FAILED immediately, e.g. after a codec
// encode error or a hard connection write error (spec.md §7
// EncodeError). Status() reports FAILED from this point on regardless of
// outstanding retries. DepartureHall does not consult the flag: pages still
// queued or in flight remain scheduled for sending and retry.
func (d *Departure) MarkFailed() { d.failed = true }

// Status derives the scheduler-facing Status for this departure.
func (d *Departure) Status() Status {
	switch {
	case d.failed:
		return StatusFailed
	case d.Done():
		return StatusDone
	default:
		for _, started := range d.started {
			if started {
				return StatusWaiting
			}
		}

		return StatusNew
	}
}
