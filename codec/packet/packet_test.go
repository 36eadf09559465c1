package packet

import (
	"bytes"
	"testing"

	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/netkit"
)

func TestPackUnpackDataFrameRoundTrip(t *testing.T) {
	c := New()

	d := dock.NewDeparture(42, dock.PriorityNormal, [][]byte{[]byte("abc"), []byte("de")}, true, 2, 0)

	frame, err := c.Pack(d, 1, []byte("de"), false)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	results, err := c.Unpack(frame, netkit.Address{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if len(results) != 1 || results[0].Fragment == nil {
		t.Fatalf("expected one fragment result, got %+v", results)
	}

	f := results[0].Fragment
	if f.SN != 42 || f.Index != 1 || f.Total != 2 || !bytes.Equal(f.Body, []byte("de")) {
		t.Fatalf("unexpected fragment: %+v", f)
	}
}

func TestPackUnpackAckFrameRoundTrip(t *testing.T) {
	c := New()

	ackDeparture := NewAckDeparture(7, 3)

	frame, err := c.Pack(ackDeparture, 0, ackDeparture.Pages[0], false)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	results, err := c.Unpack(frame, netkit.Address{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if len(results) != 1 || results[0].Ack == nil {
		t.Fatalf("expected one ack result, got %+v", results)
	}

	if results[0].Ack.SN != 7 || results[0].Ack.Index != 3 {
		t.Fatalf("unexpected ack: %+v", results[0].Ack)
	}
}

func TestUnpackRejectsUnknownFrameType(t *testing.T) {
	c := New()

	if _, err := c.Unpack([]byte{0x42, 0, 0, 0}, netkit.Address{}); err == nil {
		t.Fatal("expected error for unknown frame type")
	}
}

func TestUnpackRejectsTruncatedDataFrame(t *testing.T) {
	c := New()

	d := dock.NewDeparture(1, dock.PriorityNormal, [][]byte{[]byte("hello")}, false, 0, 0)

	frame, _ := c.Pack(d, 0, []byte("hello"), false)

	if _, err := c.Unpack(frame[:len(frame)-2], netkit.Address{}); err == nil {
		t.Fatal("expected error for truncated data frame")
	}
}
