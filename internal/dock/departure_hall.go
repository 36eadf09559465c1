package dock

import (
	"sync"
	"time"
)

// DefaultDepartureExpiry is DEPARTURE_EXPIRES from spec.md §5.
const DefaultDepartureExpiry = 120 * time.Second

// Unit is one physical send: a single page of a Departure. The Porter
// hands this to a Codec's Pack step and then to Connection.Send.
type Unit struct {
	Ship  *Departure
	Index int
	Body  []byte
	Retry bool // true if this is a retransmission, not the first send
}

type inflightKey struct {
	sn    uint32
	index int
}

type inflightRecord struct {
	ship *Departure
	key  inflightKey
}

// DepartureHall schedules outbound ships: three strict-priority FIFO
// queues of not-yet-fully-dispatched departures, plus an in-flight map of
// sent-but-unacknowledged fragments awaiting retry or timeout.
type DepartureHall struct {
	mu       sync.Mutex
	queues   [3][]*Departure // indexed by Priority+1 (Urgent=-1 -> 0)
	inFlight map[inflightKey]*inflightRecord
	order    []inflightKey
}

// NewDepartureHall creates an empty hall.
func NewDepartureHall() *DepartureHall {
	return &DepartureHall{
		inFlight: make(map[inflightKey]*inflightRecord),
	}
}

func queueIndex(p Priority) int { return int(p) + 1 }

// Append enqueues d for its priority class.
func (h *DepartureHall) Append(d *Departure) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := queueIndex(d.Priority)
	h.queues[idx] = append(h.queues[idx], d)
}

// Next returns the next unit to send, in the order spec.md §4.6 defines:
// first any due retry, then the head of the highest-priority non-empty
// queue. Returns nil if there is nothing to send right now.
func (h *DepartureHall) Next(now time.Time) *Unit {
	h.mu.Lock()
	defer h.mu.Unlock()

	if u := h.dueRetryLocked(now); u != nil {
		return u
	}

	return h.nextFreshLocked(now)
}

func (h *DepartureHall) dueRetryLocked(now time.Time) *Unit {
	for _, key := range h.order {
		rec, ok := h.inFlight[key]
		if !ok {
			continue
		}

		idx := key.index
		d := rec.ship

		if d.acked[idx] {
			continue
		}

		if !d.expiredTime[idx].After(now) && d.retriesLeft[idx] > 0 {
			d.retriesLeft[idx]--
			d.lastSendTime[idx] = now
			d.expiredTime[idx] = now.Add(d.Timeout)

			return &Unit{Ship: d, Index: idx, Body: d.Pages[idx], Retry: true}
		}
	}

	return nil
}

func (h *DepartureHall) nextFreshLocked(now time.Time) *Unit {
	for qi := 0; qi < len(h.queues); qi++ {
		for len(h.queues[qi]) > 0 {
			d := h.queues[qi][0]

			idx := h.firstUnstarted(d)
			if idx < 0 {
				// fully dispatched; drop from the queue, it now lives
				// only in the in-flight map (if it needed acks).
				h.queues[qi] = h.queues[qi][1:]
				continue
			}

			d.started[idx] = true
			d.lastSendTime[idx] = now

			if d.NeedsAck {
				d.expiredTime[idx] = now.Add(d.Timeout)
				key := inflightKey{sn: d.SN, index: idx}
				h.inFlight[key] = &inflightRecord{ship: d, key: key}
				h.order = append(h.order, key)
			} else {
				d.acked[idx] = true // stream protocol: sent once is done
			}

			// If that was the last page, pop the departure now so the
			// next Next() call can move on to the next ship in this
			// priority bucket (FIFO within the bucket).
			if h.firstUnstarted(d) < 0 {
				h.queues[qi] = h.queues[qi][1:]
			}

			return &Unit{Ship: d, Index: idx, Body: d.Pages[idx], Retry: false}
		}
	}

	return nil
}

func (h *DepartureHall) firstUnstarted(d *Departure) int {
	for i, started := range d.started {
		if !started {
			return i
		}
	}

	return -1
}

// CheckResponse marks fragment (sn, index) acknowledged. It is a no-op if
// the fragment is not currently in flight (already acked, already timed
// out, or unknown), satisfying spec.md P5's idempotent-ACK property.
// Returns the owning Departure and whether it is now fully Done.
func (h *DepartureHall) CheckResponse(sn uint32, index int) (*Departure, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := inflightKey{sn: sn, index: index}

	rec, ok := h.inFlight[key]
	if !ok {
		return nil, false
	}

	d := rec.ship
	if !d.acked[index] {
		d.acked[index] = true
	}

	delete(h.inFlight, key)
	h.removeOrder(key)

	return d, d.Done()
}

func (h *DepartureHall) removeOrder(key inflightKey) {
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

// Purge evicts in-flight fragments that have exhausted their retries and
// expired, marking their owning Departure FAILED. It returns the set of
// Departures that failed during this call (each returned at most once).
func (h *DepartureHall) Purge(now time.Time) []*Departure {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[uint32]bool)
	var failed []*Departure

	kept := h.order[:0]

	for _, key := range h.order {
		rec, ok := h.inFlight[key]
		if !ok {
			continue
		}

		d := rec.ship
		idx := key.index

		if d.acked[idx] {
			delete(h.inFlight, key)
			continue
		}

		if d.retriesLeft[idx] == 0 && !d.expiredTime[idx].After(now) {
			d.failed = true
			delete(h.inFlight, key)

			if !seen[d.SN] {
				seen[d.SN] = true
				failed = append(failed, d)
			}

			continue
		}

		kept = append(kept, key)
	}

	h.order = kept

	return failed
}
