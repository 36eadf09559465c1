package dock

import (
	"sync"
	"time"

	"github.com/startrek-go/startrek/internal/netkit"
)

// DefaultArrivalExpiry is ARRIVAL_EXPIRES from spec.md §5.
const DefaultArrivalExpiry = 5 * time.Minute

type arrivalKey struct {
	sender netkit.Address
	sn     uint32
}

type slot struct {
	total     int
	pages     map[int][]byte
	touchTime time.Time
}

// ArrivalHall reassembles fragmented inbound ships. Fragments for one sn
// may arrive in any order; the hall never yields a partial body.
type ArrivalHall struct {
	expiry time.Duration

	mu    sync.Mutex
	slots map[arrivalKey]*slot
	order []arrivalKey
}

// NewArrivalHall creates a hall with the given purge timeout (zero uses
// DefaultArrivalExpiry).
func NewArrivalHall(expiry time.Duration) *ArrivalHall {
	if expiry <= 0 {
		expiry = DefaultArrivalExpiry
	}

	return &ArrivalHall{
		expiry: expiry,
		slots:  make(map[arrivalKey]*slot),
	}
}

// Assemble feeds one inbound fragment. It returns the completed Arrival
// (and true) once every page of its sn has been seen, or (nil, false) if
// the ship is still partial. A single-fragment ship (Total==1) completes
// immediately without ever touching the slot map.
func (h *ArrivalHall) Assemble(sender netkit.Address, frag Fragment, now time.Time) (*Arrival, bool) {
	if frag.Total <= 1 {
		return &Arrival{
			Sender:    sender,
			SN:        frag.SN,
			Total:     1,
			Body:      frag.Body,
			TouchTime: now,
		}, true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := arrivalKey{sender: sender, sn: frag.SN}

	s, ok := h.slots[key]
	if !ok {
		s = &slot{total: frag.Total, pages: make(map[int][]byte, frag.Total)}
		h.slots[key] = s
		h.order = append(h.order, key)
	}

	s.pages[frag.Index] = frag.Body
	s.touchTime = now

	if len(s.pages) < s.total {
		return nil, false
	}

	delete(h.slots, key)
	h.removeOrder(key)

	body := make([]byte, 0, totalLen(s.pages))
	for i := 0; i < s.total; i++ {
		body = append(body, s.pages[i]...)
	}

	return &Arrival{
		Sender:    sender,
		SN:        frag.SN,
		Total:     s.total,
		Body:      body,
		TouchTime: now,
	}, true
}

func totalLen(pages map[int][]byte) int {
	n := 0
	for _, p := range pages {
		n += len(p)
	}

	return n
}

func (h *ArrivalHall) removeOrder(key arrivalKey) {
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

// Purge evicts slots whose last touch is older than the configured expiry.
// Purged partials are dropped silently, as spec.md requires.
func (h *ArrivalHall) Purge(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.order[:0]

	for _, key := range h.order {
		s := h.slots[key]
		if now.Sub(s.touchTime) > h.expiry {
			delete(h.slots, key)
			continue
		}

		kept = append(kept, key)
	}

	h.order = kept
}

// Has reports whether a partial slot for (sender, sn) is still present.
// Exposed for test inspection (spec.md §8 scenario 5).
func (h *ArrivalHall) Has(sender netkit.Address, sn uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.slots[arrivalKey{sender: sender, sn: sn}]

	return ok
}
