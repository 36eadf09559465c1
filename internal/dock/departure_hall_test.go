package dock

import (
	"testing"
	"time"
)

func single(sn uint32, p Priority, needsAck bool, retries int) *Departure {
	return NewDeparture(sn, p, [][]byte{[]byte("x")}, needsAck, retries, time.Second)
}

// TestDepartureHallPriorityOrder is spec.md P2: urgent, normal, slower
// departures enqueued in any order leave in u, n, s order.
func TestDepartureHallPriorityOrder(t *testing.T) {
	h := NewDepartureHall()
	now := time.Now()

	n := single(1, PriorityNormal, false, 0)
	s := single(2, PrioritySlower, false, 0)
	u := single(3, PriorityUrgent, false, 0)

	h.Append(s)
	h.Append(n)
	h.Append(u)

	first := h.Next(now)
	second := h.Next(now)
	third := h.Next(now)

	if first.Ship.SN != u.SN || second.Ship.SN != n.SN || third.Ship.SN != s.SN {
		t.Fatalf("got order %d,%d,%d want %d,%d,%d", first.Ship.SN, second.Ship.SN, third.Ship.SN, u.SN, n.SN, s.SN)
	}
}

// TestDepartureHallPriorityUnderLoad is spec.md scenario 6.
func TestDepartureHallPriorityUnderLoad(t *testing.T) {
	h := NewDepartureHall()
	now := time.Now()

	for i := 0; i < 100; i++ {
		h.Append(single(uint32(i+1000), PrioritySlower, false, 0))
	}

	urgent := single(1, PriorityUrgent, false, 0)
	h.Append(urgent)

	got := h.Next(now)
	if got.Ship.SN != urgent.SN {
		t.Fatalf("expected urgent SN %d first, got %d", urgent.SN, got.Ship.SN)
	}
}

// TestDepartureHallRetryBound is spec.md P3: a lost fragment with
// retries=k produces at most k+1 send attempts before the hall reports it
// via Purge, after which no further attempts are produced.
func TestDepartureHallRetryBound(t *testing.T) {
	h := NewDepartureHall()
	now := time.Now()

	d := NewDeparture(7, PriorityNormal, [][]byte{[]byte("x")}, true, 2, time.Second)
	h.Append(d)

	attempts := 0

	for i := 0; i < 3; i++ {
		u := h.Next(now)
		if u == nil {
			t.Fatalf("expected attempt %d, got nil", i+1)
		}

		attempts++
		now = now.Add(2 * time.Second) // past the per-fragment timeout
	}

	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}

	if u := h.Next(now); u != nil {
		t.Fatalf("expected no further attempts after retries exhausted, got one")
	}

	failed := h.Purge(now)
	if len(failed) != 1 || failed[0].SN != d.SN {
		t.Fatalf("expected departure %d reported failed, got %v", d.SN, failed)
	}

	if !d.Failed() {
		t.Fatal("expected departure to be marked Failed")
	}
}

// TestDepartureHallIdempotentAck is spec.md P5.
func TestDepartureHallIdempotentAck(t *testing.T) {
	h := NewDepartureHall()
	now := time.Now()

	d := single(5, PriorityNormal, true, 2)
	h.Append(d)
	h.Next(now) // dispatch, puts fragment 0 in flight

	_, done := h.CheckResponse(5, 0)
	if !done {
		t.Fatal("expected the single-fragment departure to be Done after ack")
	}

	ship, done := h.CheckResponse(5, 0)
	if ship != nil || done {
		t.Fatal("expected the second ack delivery to be a no-op")
	}
}

func TestDepartureHallStreamDoneOnFirstSend(t *testing.T) {
	h := NewDepartureHall()
	now := time.Now()

	d := single(9, PriorityNormal, false, 0)
	h.Append(d)

	u := h.Next(now)
	if u == nil {
		t.Fatal("expected a unit to send")
	}

	if !d.Done() {
		t.Fatal("expected a stream departure to be Done immediately after its one send")
	}

	if u2 := h.Next(now); u2 != nil {
		t.Fatal("expected no further departures after the only one was drained")
	}
}
