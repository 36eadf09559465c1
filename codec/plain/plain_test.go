package plain

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/startrek-go/startrek/internal/netkit"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	c := New()

	frame, err := c.Pack(nil, 0, []byte("hello"), false)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	results, err := c.Unpack(frame, netkit.Address{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if len(results) != 1 || !bytes.Equal(results[0].Fragment.Body, []byte("hello")) {
		t.Fatalf("unexpected unpack result: %+v", results)
	}
}

func TestUnpackHandlesSplitFrameAcrossReads(t *testing.T) {
	c := New()

	frame, _ := c.Pack(nil, 0, []byte("world"), false)

	first, err := c.Unpack(frame[:3], netkit.Address{})
	if err != nil {
		t.Fatalf("Unpack first half: %v", err)
	}

	if len(first) != 0 {
		t.Fatalf("expected no complete frame yet, got %v", first)
	}

	second, err := c.Unpack(frame[3:], netkit.Address{})
	if err != nil {
		t.Fatalf("Unpack second half: %v", err)
	}

	if len(second) != 1 || string(second[0].Fragment.Body) != "world" {
		t.Fatalf("expected completed frame %q, got %+v", "world", second)
	}
}

func TestUnpackAccumulatesMultipleFramesInOneRead(t *testing.T) {
	c := New()

	a, _ := c.Pack(nil, 0, []byte("a"), false)
	b, _ := c.Pack(nil, 0, []byte("bb"), false)

	results, err := c.Unpack(append(a, b...), netkit.Address{})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if len(results) != 2 || string(results[0].Fragment.Body) != "a" || string(results[1].Fragment.Body) != "bb" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

// TestUnpackDiscardsBufferAfterOversizedLengthPrefix guards against a
// corrupt length prefix wedging the stream: once MaxFrameLen is exceeded the
// buffered bytes must be dropped so a later, well-formed frame is not stuck
// behind the same bad header forever.
func TestUnpackDiscardsBufferAfterOversizedLengthPrefix(t *testing.T) {
	c := New()

	bad := make([]byte, headerLen)
	binary.BigEndian.PutUint32(bad, MaxFrameLen+1)

	if _, err := c.Unpack(bad, netkit.Address{}); err == nil {
		t.Fatal("expected an error for an oversized length prefix")
	}

	frame, _ := c.Pack(nil, 0, []byte("ok"), false)

	results, err := c.Unpack(frame, netkit.Address{})
	if err != nil {
		t.Fatalf("Unpack after recovery: %v", err)
	}

	if len(results) != 1 || string(results[0].Fragment.Body) != "ok" {
		t.Fatalf("expected the codec to recover and parse a later well-formed frame, got %+v", results)
	}
}
