package dock

import "time"

// Dock bundles one porter's Arrival Hall and Departure Hall. Per spec.md
// §5, a single metronome drives every porter cooperatively, so a Dock
// needs no locking beyond what ArrivalHall/DepartureHall already do
// internally for safety against the one external caller that is allowed
// to race with the metronome: the active-connection reconnector in
// package hub, which may touch a Dock's owning Connection from its own
// goroutine. Both halls therefore always guard their state with a mutex;
// a configuration driving several independent metronomes over the same
// Dock (the "LockedDock" case spec.md calls out) gets that safety for
// free rather than through a second, unsynchronized implementation that
// would only exist to shave an uncontended lock acquisition.
type Dock struct {
	Arrivals   *ArrivalHall
	Departures *DepartureHall
}

// NewDock creates a Dock with default expiry/retry settings; arrivalExpiry
// of zero uses DefaultArrivalExpiry.
func NewDock(arrivalExpiry time.Duration) *Dock {
	return &Dock{
		Arrivals:   NewArrivalHall(arrivalExpiry),
		Departures: NewDepartureHall(),
	}
}

// Purge runs both halls' expiry sweeps and returns any Departures that
// failed (exhausted retries) during this sweep.
func (d *Dock) Purge(now time.Time) []*Departure {
	d.Arrivals.Purge(now)
	return d.Departures.Purge(now)
}
